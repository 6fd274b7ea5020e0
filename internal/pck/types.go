// Package pck implements the Trajectory & Graph Engine: typed-tag parsing,
// per-turn trajectory recording, and graph-structural inference over the
// shared pedagogical knowledge graph it grows.
package pck

import "time"

// Entity types are an open set; these are the ones the parser and reasoner
// know the names of. Unknown types are retained verbatim on the entity.
const (
	EntityTopic         = "topic"
	EntityMisconception = "misconception"
	EntityStrategy      = "strategy"
	EntityContext       = "context"
	EntityConstraint     = "constraint"
	EntityOutcome       = "outcome"
	EntityConcept       = "concept"
)

// Entity is a node in the shared knowledge graph. Entities are global: every
// account reads and writes the same row for a given normalizedName.
type Entity struct {
	ID               string
	Name             string
	NormalizedName   string
	EntityType       string // "" until a typed mention adopts one; sticky thereafter
	Description      string // first writer wins; "" until set
	TouchCount       int64
	TrajectoryCount  int64
	ContributorCount int64
	FirstSeen        time.Time
	LastSeen         time.Time
}

// EntityContribution is the (entityId, accountId) provenance row. Exactly
// one row exists per pair; its creation is the sole trigger for incrementing
// the parent entity's ContributorCount.
type EntityContribution struct {
	EntityID          string
	AccountID         string
	FirstTrajectoryID string
	TouchCount        int64
	TrajectoryCount   int64
	FirstSeen         time.Time
	LastSeen          time.Time
}

// Trajectory is one ordered walk of events produced by a single chat turn.
type Trajectory struct {
	ID             string
	AccountID      string
	ConversationID string // "" when not attached to a conversation
	InputText      string
	InputHash      uint32
	Summary        string
	StartedAt      time.Time
	CompletedAt    time.Time // zero value means still open
}

// Open reports whether the trajectory has not yet been completed.
func (t Trajectory) Open() bool { return t.CompletedAt.IsZero() }

// Event types recorded within a trajectory.
const (
	EventTouch    = "touch"
	EventReason   = "reason"
	EventDecide   = "decide"
	EventDiscover = "discover"
	EventSimulate = "simulate"
)

// Event is one touch/reason/decide/discover record within a trajectory.
// Data is an opaque, UI-advisory JSON blob; decision-context cues extracted
// by the TagParser are embedded under Data["_context"].
type Event struct {
	ID           string
	TrajectoryID string
	SequenceNum  int
	Timestamp    time.Time
	EventType    string
	EntityID     string // "" when the event carries no entity reference
	Data         map[string]any
}

// DecisionContext holds the weak prose cues the TagParser extracts
// alongside tag mentions. These feed Event.Data["_context"] and are never
// read by the graph mutation logic.
type DecisionContext struct {
	Trigger          string   `json:"trigger,omitempty"`
	Observations     []string `json:"observations,omitempty"`
	Constraints      []string `json:"constraints,omitempty"`
	ExpectedOutcome  string   `json:"expectedOutcome,omitempty"`
	Rationale        string   `json:"rationale,omitempty"`
	PriorExperience  string   `json:"priorExperience,omitempty"`
}

// Edge is a directed, weighted, accumulating relation between two entities,
// keyed by (sourceID, targetID). RelationshipType is "leads_to" for
// strategy->outcome edges written by completeTrajectory step 7, else "".
//
// Positive/Negative/Mixed are reserved extension points: the core never
// increments them.
type Edge struct {
	SourceID          string
	TargetID          string
	Weight            int64
	TrajectoryCount   int64
	ContributorCount  int64
	RelationshipType  string
	PositiveOutcomes  int64
	NegativeOutcomes  int64
	MixedOutcomes     int64
	FirstSeen         time.Time
	LastSeen          time.Time
}

// Cooccurrence is an undirected pair count, keyed canonically so that
// Cooccurrence(a,b) and Cooccurrence(b,a) are the same row: the lexically
// smaller id is always EntityA.
type Cooccurrence struct {
	EntityA          string
	EntityB          string
	Count            int64
	WindowCount      int64
	TrajectoryCount  int64
	ContributorCount int64
	LastUpdated      time.Time
}

// Conversation is a thin, per-account container of messages.
type Conversation struct {
	ID        string
	AccountID string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message belongs to a conversation and is ordered by CreatedAt.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	TrajectoryID   string // "" when not associated with a trajectory
	CreatedAt      time.Time
}

// EntityMention is a tag parsed out of free text, not yet resolved to an
// entity identity.
type EntityMention struct {
	Type string // lower-cased; "topic" for untyped fallback matches
	Name string // lower-cased, trimmed
}

// CompleteTrajectoryResult is the summary returned by CompleteTrajectory.
// For a trajectory already completed it is rebuilt from the event log, so a
// retried call returns the same summary.
type CompleteTrajectoryResult struct {
	EntitiesTouched    []string
	EntitiesDiscovered []string
	EdgesTraversed     []EdgeRef
}

// EdgeRef names an edge by its endpoints, without the accumulated counters.
type EdgeRef struct {
	SourceID string
	TargetID string
}
