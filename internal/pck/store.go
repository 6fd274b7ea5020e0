package pck

import (
	"context"
	"time"
)

// EdgeMutator mutates an edge's accumulating counters in place. It is
// invoked by the store inside the upsert's transaction, after the row has
// been loaded (or initialized to its zero value for a first insert) and
// before it is written back.
type EdgeMutator func(e *Edge)

// CooccurrenceMutator mutates a cooccurrence row's counters in place, under
// the same contract as EdgeMutator.
type CooccurrenceMutator func(c *Cooccurrence)

// Store is the transactional persistence contract of the engine. Every
// mutation is atomic at the row level; multi-row mutations that form one
// logical step (e.g. FindOrCreateEntity's entity+contribution+counter
// triple) execute inside one transaction.
type Store interface {
	// FindEntityByNormalizedName looks up the single global row for a
	// normalized name. Returns ErrNotFound when absent.
	FindEntityByNormalizedName(ctx context.Context, normalizedName string) (Entity, error)
	// GetEntity fetches an entity by id. Returns ErrNotFound when absent.
	GetEntity(ctx context.Context, id string) (Entity, error)
	// InsertEntity inserts a brand-new entity row. Callers are expected to
	// have already established, via FindOrCreateEntity's transaction or an
	// equivalent uniqueness guard, that no row for NormalizedName exists.
	InsertEntity(ctx context.Context, e Entity) (Entity, error)
	// UpdateEntity applies a partial patch to an existing entity. Fields
	// left at their zero value in patch are not applied; patch.EntityType
	// and patch.Description are applied only with their *Set flag, and only
	// while the entity's current value is still empty.
	UpdateEntity(ctx context.Context, id string, patch EntityPatch) (Entity, error)
	// SearchEntities returns entities matching a case-insensitive substring
	// of name, optionally constrained to entityType, ordered by
	// touchCount desc.
	SearchEntities(ctx context.Context, nameSubstring string, entityType string, limit int) ([]Entity, error)

	// FindOrInsertContribution returns the (entityID, accountID) row,
	// creating it if absent. created reports whether this call created it
	// (the caller uses this to decide whether to bump the parent entity's
	// ContributorCount).
	FindOrInsertContribution(ctx context.Context, entityID, accountID, firstTrajectoryID string, at time.Time) (row EntityContribution, created bool, err error)
	// IncrementContributionTouch bumps an existing contribution's
	// TouchCount and LastSeen.
	IncrementContributionTouch(ctx context.Context, entityID, accountID string, at time.Time) error
	// IncrementContributionTrajectory bumps an existing contribution's
	// TrajectoryCount.
	IncrementContributionTrajectory(ctx context.Context, entityID, accountID string) error

	// InsertTrajectory writes a new, open trajectory row.
	InsertTrajectory(ctx context.Context, t Trajectory) (Trajectory, error)
	// GetTrajectory fetches a trajectory by id. Returns ErrNotFound when absent.
	GetTrajectory(ctx context.Context, id string) (Trajectory, error)
	// UpdateTrajectory applies a partial patch (summary/completedAt) to a trajectory.
	UpdateTrajectory(ctx context.Context, id string, patch TrajectoryPatch) (Trajectory, error)
	// ListTrajectoriesByAccount lists an account's trajectories, most recent first.
	ListTrajectoriesByAccount(ctx context.Context, accountID string, limit int) ([]Trajectory, error)
	// ListTrajectoriesByEntity lists trajectories whose events touched entityID,
	// most recent first, limited to the account's own events (per the
	// per-user read view of GraphQuery.GetEntity).
	ListTrajectoriesByEntity(ctx context.Context, accountID, entityID string, limit int) ([]Trajectory, error)

	// InsertEvent appends an event. The caller has already assigned
	// SequenceNum; the store rejects (ErrInvariant) an out-of-order or
	// duplicate sequence number for the trajectory.
	InsertEvent(ctx context.Context, e Event) (Event, error)
	// ListEventsByTrajectory returns all events for a trajectory in
	// ascending SequenceNum order.
	ListEventsByTrajectory(ctx context.Context, trajectoryID string) ([]Event, error)
	// ListEntityIDsTouchedByAccount returns the distinct entity ids touched
	// by any event belonging to a trajectory of the given account.
	ListEntityIDsTouchedByAccount(ctx context.Context, accountID string) ([]string, error)
	// AccountHasTouchedEntity reports whether any event belonging to one of
	// the account's trajectories references entityID.
	AccountHasTouchedEntity(ctx context.Context, accountID, entityID string) (bool, error)

	// UpsertEdge loads (or zero-initializes) the edge for (sourceID,
	// targetID), applies mutate, and writes it back inside one
	// transaction. sourceID == targetID is rejected with ErrInvariant.
	UpsertEdge(ctx context.Context, sourceID, targetID string, relationshipType string, at time.Time, mutate EdgeMutator) (Edge, error)
	// GetEdge fetches a single directed edge. Returns ErrNotFound when absent.
	GetEdge(ctx context.Context, sourceID, targetID string) (Edge, error)
	// EdgesFrom returns all edges whose source is sourceID.
	EdgesFrom(ctx context.Context, sourceID string) ([]Edge, error)
	// EdgesTo returns all edges whose target is targetID.
	EdgesTo(ctx context.Context, targetID string) ([]Edge, error)
	// EdgesAmong returns all edges with both endpoints in ids, ordered by
	// weight desc, filtered to weight >= minWeight.
	EdgesAmong(ctx context.Context, ids []string, minWeight int64) ([]Edge, error)

	// UpsertCooccurrence loads (or zero-initializes) the canonical
	// (min,max) row for (a,b), applies mutate, and writes it back inside
	// one transaction.
	UpsertCooccurrence(ctx context.Context, a, b string, mutate CooccurrenceMutator) (Cooccurrence, error)
	// CooccurrencesInvolving returns cooccurrence rows where one endpoint
	// is in ids, ordered by count desc.
	CooccurrencesInvolving(ctx context.Context, ids []string, limit int) ([]Cooccurrence, error)

	// InsertConversation/GetConversation manage the thin conversation container.
	InsertConversation(ctx context.Context, c Conversation) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversationsByAccount(ctx context.Context, accountID string) ([]Conversation, error)

	// InsertMessage/ListMessages manage per-conversation message ordering.
	InsertMessage(ctx context.Context, m Message) (Message, error)
	ListMessagesByConversation(ctx context.Context, conversationID string) ([]Message, error)

	Close()
}

// EntityPatch describes a partial update to an entity. The *Set fields mark
// EntityType/Description as present in this patch; a present value is
// written only when the entity's current value is empty, matching the
// sticky/first-writer-wins semantics. A set value is never cleared.
type EntityPatch struct {
	IncrementTouch    bool
	LastSeen          time.Time
	SetEntityType     bool
	EntityType        string
	SetDescription    bool
	Description       string
	IncrementTrajectory bool
	IncrementContributor bool
}

// TrajectoryPatch describes a partial update to a trajectory.
type TrajectoryPatch struct {
	SetSummary     bool
	Summary        string
	SetCompletedAt bool
	CompletedAt    time.Time
}
