package pck

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SimulationInput names an entity to resolve, by name and (optionally) type.
type SimulationInput struct {
	Name string
	Type string // "" means match on name alone
}

// ProjectedOutcome is one outcome entity with its projected probability,
// merged across both edge orientations per the bidirectional lookup rule.
type ProjectedOutcome struct {
	EntityID         string
	Name             string
	Weight           int64
	PositiveCount    int64
	NegativeCount    int64
	MixedCount       int64
	ContributorCount int64
	Probability      float64
}

// Differentiator is a context/constraint/strategy entity whose outcome-edge
// profile deviates from the hard-coded 0.5 baseline and whose
// co-occurrence with the resolved query set is strong.
type Differentiator struct {
	EntityID              string
	Name                  string
	Role                  string // the entity's type: context|constraint|strategy
	Effect                string // improves|reduces|mixed
	Magnitude             float64
	CooccurrenceStrength  int64
}

// SimulationResult is the output of Simulate, and the input to
// formatForAI/Counterfactual.
type SimulationResult struct {
	Resolved          []Entity
	Unresolved        []string
	Outcomes          []ProjectedOutcome
	Differentiators   []Differentiator
	TotalObservations int64
	HasPatterns       bool
}

// GraphReasoner runs pure-read structural inference over the current graph
// state. It never reads trajectory events.
type GraphReasoner struct {
	store Store
}

// NewGraphReasoner wires a Store into a ready-to-use reasoner.
func NewGraphReasoner(store Store) *GraphReasoner {
	return &GraphReasoner{store: store}
}

// Resolve matches each input to an entity: an exact match on
// normalizedName (and entityType, if given) first, else a substring match
// ordered by touchCount desc, taking the best one. Inputs with no match at
// all are returned in unresolved, by the name as given.
func (r *GraphReasoner) Resolve(ctx context.Context, inputs []SimulationInput) (resolved []Entity, unresolved []string, err error) {
	for _, in := range inputs {
		normalized := NormalizeName(in.Name)
		if normalized == "" {
			continue
		}
		ent, lookupErr := r.store.FindEntityByNormalizedName(ctx, normalized)
		if lookupErr == nil && (in.Type == "" || ent.EntityType == in.Type) {
			resolved = append(resolved, ent)
			continue
		}
		candidates, searchErr := r.store.SearchEntities(ctx, normalized, in.Type, 1)
		if searchErr != nil {
			return nil, nil, fmt.Errorf("resolve %q: %w", in.Name, searchErr)
		}
		if len(candidates) > 0 {
			resolved = append(resolved, candidates[0])
			continue
		}
		unresolved = append(unresolved, in.Name)
	}
	return resolved, unresolved, nil
}

// Simulate projects outcome distributions and differentiating factors for a
// proposed teaching situation described by inputs.
func (r *GraphReasoner) Simulate(ctx context.Context, inputs []SimulationInput) (SimulationResult, error) {
	resolved, unresolved, err := r.Resolve(ctx, inputs)
	if err != nil {
		return SimulationResult{}, err
	}
	if len(resolved) == 0 {
		return SimulationResult{Unresolved: unresolved}, nil
	}

	ids := make([]string, len(resolved))
	for i, e := range resolved {
		ids[i] = e.ID
	}

	outcomes, totalObservations, err := r.projectOutcomesFromEdges(ctx, ids)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("simulate: project outcomes: %w", err)
	}

	differentiators, err := r.findDifferentiatorsFromStructure(ctx, ids)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("simulate: differentiators: %w", err)
	}

	return SimulationResult{
		Resolved:          resolved,
		Unresolved:        unresolved,
		Outcomes:          outcomes,
		Differentiators:   differentiators,
		TotalObservations: totalObservations,
		HasPatterns:       len(outcomes) > 0 || len(differentiators) > 0,
	}, nil
}

// projectOutcomesFromEdges merges outcome edges reachable from resolvedIds
// in either orientation (historic rows may point strategy->outcome or
// outcome->strategy) into a probability distribution.
func (r *GraphReasoner) projectOutcomesFromEdges(ctx context.Context, resolvedIds []string) ([]ProjectedOutcome, int64, error) {
	merged := make(map[string]*ProjectedOutcome)

	addEdge := func(outcomeID string, e Edge) error {
		ent, err := r.store.GetEntity(ctx, outcomeID)
		if err != nil {
			return err
		}
		po, ok := merged[outcomeID]
		if !ok {
			po = &ProjectedOutcome{EntityID: outcomeID, Name: ent.Name}
			merged[outcomeID] = po
		}
		po.Weight += e.Weight
		po.PositiveCount += e.PositiveOutcomes
		po.NegativeCount += e.NegativeOutcomes
		po.MixedCount += e.MixedOutcomes
		if e.ContributorCount > po.ContributorCount {
			po.ContributorCount = e.ContributorCount
		}
		return nil
	}

	for _, id := range resolvedIds {
		forward, err := r.store.EdgesFrom(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		for _, e := range forward {
			target, err := r.store.GetEntity(ctx, e.TargetID)
			if err != nil {
				return nil, 0, err
			}
			if target.EntityType == EntityOutcome {
				if err := addEdge(e.TargetID, e); err != nil {
					return nil, 0, err
				}
			}
		}
		reverse, err := r.store.EdgesTo(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		for _, e := range reverse {
			source, err := r.store.GetEntity(ctx, e.SourceID)
			if err != nil {
				return nil, 0, err
			}
			if source.EntityType == EntityOutcome {
				if err := addEdge(e.SourceID, e); err != nil {
					return nil, 0, err
				}
			}
		}
	}

	var totalWeight int64
	for _, po := range merged {
		totalWeight += po.Weight
	}

	out := make([]ProjectedOutcome, 0, len(merged))
	for _, po := range merged {
		if totalWeight > 0 {
			po.Probability = float64(po.Weight) / float64(totalWeight)
		}
		out = append(out, *po)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, totalWeight, nil
}

// withoutEntityBaseline is the hard-coded placeholder the reasoner uses in
// place of a computed marginal. Preserve as-is; see SPEC_FULL.md's open
// question decisions.
const withoutEntityBaseline = 0.5

const (
	effectImproves = "improves"
	effectReduces  = "reduces"
	effectMixed    = "mixed"
)

// findDifferentiatorsFromStructure finds the candidate context/constraint/
// strategy entities most strongly co-occurring with resolvedIds, then
// ranks them by how far their own outcome-edge profile deviates from the
// 0.5 baseline.
func (r *GraphReasoner) findDifferentiatorsFromStructure(ctx context.Context, resolvedIds []string) ([]Differentiator, error) {
	resolvedSet := make(map[string]bool, len(resolvedIds))
	for _, id := range resolvedIds {
		resolvedSet[id] = true
	}

	rows, err := r.store.CooccurrencesInvolving(ctx, resolvedIds, 0)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		entityID string
		count    int64
	}
	var candidates []candidate
	seen := make(map[string]bool)
	for _, row := range rows {
		var otherID string
		if resolvedSet[row.EntityA] && !resolvedSet[row.EntityB] {
			otherID = row.EntityB
		} else if resolvedSet[row.EntityB] && !resolvedSet[row.EntityA] {
			otherID = row.EntityA
		} else {
			continue
		}
		if seen[otherID] {
			continue
		}
		ent, err := r.store.GetEntity(ctx, otherID)
		if err != nil {
			return nil, err
		}
		switch ent.EntityType {
		case EntityContext, EntityConstraint, EntityStrategy:
		default:
			continue
		}
		seen[otherID] = true
		candidates = append(candidates, candidate{entityID: otherID, count: row.Count})
		if len(candidates) == 20 {
			break
		}
	}

	var out []Differentiator
	for _, c := range candidates {
		ent, err := r.store.GetEntity(ctx, c.entityID)
		if err != nil {
			return nil, err
		}
		forward, err := r.store.EdgesFrom(ctx, c.entityID)
		if err != nil {
			return nil, err
		}
		var positive, negative int64
		for _, e := range forward {
			target, err := r.store.GetEntity(ctx, e.TargetID)
			if err != nil {
				return nil, err
			}
			if target.EntityType != EntityOutcome {
				continue
			}
			positive += e.PositiveOutcomes
			negative += e.NegativeOutcomes
		}
		positiveRate := withoutEntityBaseline
		if positive+negative > 0 {
			positiveRate = float64(positive) / float64(positive+negative)
		}
		magnitude := positiveRate - withoutEntityBaseline
		if magnitude < 0 {
			magnitude = -magnitude
		}
		if magnitude <= 0.1 {
			continue
		}
		effect := effectMixed
		switch {
		case positiveRate > 0.6:
			effect = effectImproves
		case positiveRate < 0.4:
			effect = effectReduces
		}
		out = append(out, Differentiator{
			EntityID:             c.entityID,
			Name:                 ent.Name,
			Role:                 ent.EntityType,
			Effect:               effect,
			Magnitude:            magnitude,
			CooccurrenceStrength: c.count,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Magnitude > out[j].Magnitude })
	if len(out) > 5 {
		out = out[:5]
	}
	return out, nil
}

// Change describes a counterfactual swap: every input element matching
// From is replaced by To (see applySwap).
type Change struct {
	From SimulationInput
	To   SimulationInput
}

// OutcomeShift is one outcome's probability delta between the base and
// alternative simulations.
type OutcomeShift struct {
	Name      string
	BaseProb  float64
	AltProb   float64
	Delta     float64
}

// CounterfactualResult compares a base situation against one altered by a
// single swap.
type CounterfactualResult struct {
	Base           SimulationResult
	Alternative    SimulationResult
	OutcomeShifts  []OutcomeShift
	NetEffect      string // positive|negative|neutral|uncertain
	Recommendation string
}

var positiveOutcomeMarkers = []string{"improved", "success", "understanding", "mastery", "effective"}

// Counterfactual simulates base, then an altered input set with every
// element matching change.From replaced by change.To (or change.To appended
// if nothing matched), and compares the two outcome distributions.
func (r *GraphReasoner) Counterfactual(ctx context.Context, base []SimulationInput, change Change) (CounterfactualResult, error) {
	baseResult, err := r.Simulate(ctx, base)
	if err != nil {
		return CounterfactualResult{}, fmt.Errorf("counterfactual: base simulate: %w", err)
	}

	alt := applySwap(base, change)
	altResult, err := r.Simulate(ctx, alt)
	if err != nil {
		return CounterfactualResult{}, fmt.Errorf("counterfactual: alt simulate: %w", err)
	}

	shifts := mergeOutcomeShifts(baseResult.Outcomes, altResult.Outcomes)

	minObservations := baseResult.TotalObservations
	if altResult.TotalObservations < minObservations {
		minObservations = altResult.TotalObservations
	}

	netEffect := classifyNetEffect(shifts, minObservations)
	recommendation := recommendationFor(netEffect, change)

	return CounterfactualResult{
		Base:           baseResult,
		Alternative:    altResult,
		OutcomeShifts:  shifts,
		NetEffect:      netEffect,
		Recommendation: recommendation,
	}, nil
}

// applySwap replaces every element of base matching change.From (case-
// insensitive name match, and type match if change.From.Type is given)
// with change.To. If nothing matched, change.From is removed (if present)
// and change.To is appended.
func applySwap(base []SimulationInput, change Change) []SimulationInput {
	fromName := strings.ToLower(strings.TrimSpace(change.From.Name))
	matched := false
	var alt []SimulationInput
	for _, in := range base {
		if strings.ToLower(strings.TrimSpace(in.Name)) == fromName &&
			(change.From.Type == "" || in.Type == change.From.Type) {
			matched = true
			alt = append(alt, change.To)
			continue
		}
		alt = append(alt, in)
	}
	if !matched {
		var filtered []SimulationInput
		for _, in := range alt {
			if strings.ToLower(strings.TrimSpace(in.Name)) == fromName {
				continue
			}
			filtered = append(filtered, in)
		}
		alt = append(filtered, change.To)
	}
	return alt
}

func mergeOutcomeShifts(base, alt []ProjectedOutcome) []OutcomeShift {
	names := make(map[string]*OutcomeShift)
	order := []string{}
	for _, o := range base {
		names[o.Name] = &OutcomeShift{Name: o.Name, BaseProb: o.Probability}
		order = append(order, o.Name)
	}
	for _, o := range alt {
		if s, ok := names[o.Name]; ok {
			s.AltProb = o.Probability
		} else {
			names[o.Name] = &OutcomeShift{Name: o.Name, AltProb: o.Probability}
			order = append(order, o.Name)
		}
	}
	out := make([]OutcomeShift, 0, len(names))
	for _, name := range order {
		s := names[name]
		s.Delta = s.AltProb - s.BaseProb
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Delta, out[j].Delta
		if di < 0 {
			di = -di
		}
		if dj < 0 {
			dj = -dj
		}
		return di > dj
	})
	return out
}

func classifyNetEffect(shifts []OutcomeShift, minObservations int64) string {
	if minObservations < 5 {
		return "uncertain"
	}
	var sum float64
	for _, s := range shifts {
		lower := strings.ToLower(s.Name)
		for _, marker := range positiveOutcomeMarkers {
			if strings.Contains(lower, marker) {
				sum += s.Delta
				break
			}
		}
	}
	switch {
	case sum > 0.05:
		return "positive"
	case sum < -0.05:
		return "negative"
	default:
		return "neutral"
	}
}

// formatForAI renders a SimulationResult into the deterministic text block
// the LLM prompt embeds. Same input produces byte-identical output; it must
// never read the clock, RNG, or store.
func formatForAI(result SimulationResult) string {
	var b strings.Builder

	b.WriteString("Situation involves: ")
	if len(result.Resolved) == 0 {
		b.WriteString("(nothing recognized)")
	} else {
		names := make([]string, len(result.Resolved))
		for i, e := range result.Resolved {
			names[i] = e.Name
		}
		b.WriteString(strings.Join(names, ", "))
	}
	b.WriteString("\n\n")

	b.WriteString("Observed outcomes from similar situations:\n")
	if len(result.Outcomes) == 0 {
		b.WriteString("  (no prior outcomes recorded)\n")
	} else {
		for _, o := range result.Outcomes {
			fmt.Fprintf(&b, "  - %s: %.0f%% (%d observations)\n", o.Name, o.Probability*100, o.Weight)
		}
	}
	b.WriteString("\n")

	b.WriteString("Factors that may influence outcomes:\n")
	if len(result.Differentiators) == 0 {
		b.WriteString("  (none identified)\n")
	} else {
		for _, d := range result.Differentiators {
			fmt.Fprintf(&b, "  - %s (%s) %s outcomes, magnitude %.2f, seen together %d times\n",
				d.Name, d.Role, d.Effect, d.Magnitude, d.CooccurrenceStrength)
		}
	}
	b.WriteString("\n")

	if result.TotalObservations < 5 {
		fmt.Fprintf(&b, "Note: only %d total observations; treat this projection as low-confidence.\n", result.TotalObservations)
	}

	return b.String()
}

func recommendationFor(netEffect string, change Change) string {
	switch netEffect {
	case "positive":
		return fmt.Sprintf("Switching to %q is associated with better outcomes in similar situations.", change.To.Name)
	case "negative":
		return fmt.Sprintf("Switching to %q is associated with worse outcomes in similar situations — consider keeping %q.", change.To.Name, change.From.Name)
	case "uncertain":
		return "Not enough observed situations to recommend a change with confidence."
	default:
		return fmt.Sprintf("Switching to %q shows no clear outcome difference in observed situations.", change.To.Name)
	}
}
