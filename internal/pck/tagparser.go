package pck

import (
	"regexp"
	"strings"
)

// typedTagRe matches [[type:content]] where type is an ASCII identifier and
// content is any run of non-']' characters.
var typedTagRe = regexp.MustCompile(`\[\[([A-Za-z][A-Za-z0-9_-]*):([^\]]+)\]\]`)

// untypedTagRe matches the [[content]] fallback form. It is only applied to
// spans the typed pass didn't already consume (see ParseMentions), so it
// never double-counts a typed match.
var untypedTagRe = regexp.MustCompile(`\[\[([^\]]+)\]\]`)

// Weak decision-context cue patterns. These are advisory: they populate
// DecisionContext, never the graph. Kept intentionally loose — prose varies
// more than tags do.
var (
	triggerRe         = regexp.MustCompile(`(?i)(?:trigger|prompted by|because)\s*:\s*([^\n.]+)`)
	observationRe     = regexp.MustCompile(`(?i)(?:observ(?:ed|ation)s?)\s*:\s*([^\n.]+)`)
	constraintRe      = regexp.MustCompile(`(?i)constraints?\s*:\s*([^\n.]+)`)
	expectedOutcomeRe = regexp.MustCompile(`(?i)expected outcome\s*:\s*([^\n.]+)`)
	rationaleRe       = regexp.MustCompile(`(?i)rationale\s*:\s*([^\n.]+)`)
	priorExperienceRe = regexp.MustCompile(`(?i)prior experience\s*:\s*([^\n.]+)`)
)

// TagParser extracts typed entity mentions and weak decision-context cues
// from free text. Matching is purely lexical; it never attempts to
// understand tag content.
type TagParser struct{}

// NewTagParser returns a ready-to-use TagParser. It holds no state.
func NewTagParser() *TagParser { return &TagParser{} }

// ParseMentions extracts typed and untyped tag mentions from text,
// deduplicated within the call by (type, name). The untyped pass only
// considers spans that contained no "type:" prefix, so a typed match is
// never also counted as an untyped one.
func (p *TagParser) ParseMentions(text string) []EntityMention {
	var out []EntityMention
	seen := make(map[EntityMention]bool)

	typedSpans := typedTagRe.FindAllStringIndex(text, -1)
	for _, m := range typedTagRe.FindAllStringSubmatch(text, -1) {
		mention := EntityMention{
			Type: strings.ToLower(strings.TrimSpace(m[1])),
			Name: strings.ToLower(strings.TrimSpace(m[2])),
		}
		if mention.Name == "" {
			continue
		}
		if !seen[mention] {
			seen[mention] = true
			out = append(out, mention)
		}
	}

	for _, span := range untypedTagRe.FindAllStringIndex(text, -1) {
		if withinAny(span, typedSpans) {
			continue
		}
		raw := text[span[0]+2 : span[1]-2]
		if strings.Contains(headIdentifier(raw), ":") {
			// Reached by an empty typed tag such as [[topic:]], which the
			// typed pattern does not match; it is not a topic mention.
			continue
		}
		mention := EntityMention{
			Type: EntityTopic,
			Name: strings.ToLower(strings.TrimSpace(raw)),
		}
		if mention.Name == "" {
			continue
		}
		if !seen[mention] {
			seen[mention] = true
			out = append(out, mention)
		}
	}

	return out
}

// ExtractContext runs the weak decision-context pattern family over text.
// Every field is best-effort and may be left empty.
func (p *TagParser) ExtractContext(text string) DecisionContext {
	var dc DecisionContext
	if m := triggerRe.FindStringSubmatch(text); len(m) > 1 {
		dc.Trigger = strings.TrimSpace(m[1])
	}
	if m := observationRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		for _, match := range m {
			dc.Observations = append(dc.Observations, strings.TrimSpace(match[1]))
		}
	}
	if m := constraintRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		for _, match := range m {
			dc.Constraints = append(dc.Constraints, strings.TrimSpace(match[1]))
		}
	}
	if m := expectedOutcomeRe.FindStringSubmatch(text); len(m) > 1 {
		dc.ExpectedOutcome = strings.TrimSpace(m[1])
	}
	if m := rationaleRe.FindStringSubmatch(text); len(m) > 1 {
		dc.Rationale = strings.TrimSpace(m[1])
	}
	if m := priorExperienceRe.FindStringSubmatch(text); len(m) > 1 {
		dc.PriorExperience = strings.TrimSpace(m[1])
	}
	return dc
}

// NormalizeName applies the lower-case/trim normalization used for entity
// identity lookup.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func withinAny(span []int, spans [][]int) bool {
	for _, s := range spans {
		if span[0] >= s[0] && span[1] <= s[1] {
			return true
		}
	}
	return false
}

// headIdentifier returns the leading run up to the first ':' that looks
// like a type prefix (ASCII letters/digits/_/-), or "" if the content
// doesn't start with one.
func headIdentifier(raw string) string {
	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return ""
	}
	head := raw[:idx]
	for _, r := range head {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return ""
		}
	}
	return head + ":"
}
