package pck

import (
	"context"
	"errors"
	"testing"
)

func newTestTrajectoryEngine() (*TrajectoryEngine, Store) {
	store := NewMemoryStore()
	return NewTrajectoryEngine(store, NewLocalNameLock()), store
}

func TestTrajectoryEngineStartAndLogEvent(t *testing.T) {
	eng, store := newTestTrajectoryEngine()
	ctx := context.Background()

	trajectoryID, err := eng.StartTrajectory(ctx, "acct-1", "help with fractions", "")
	if err != nil {
		t.Fatalf("StartTrajectory: %v", err)
	}
	if trajectoryID == "" {
		t.Fatalf("expected a trajectory id")
	}

	entityID, err := eng.FindOrCreateEntity(ctx, "acct-1", trajectoryID, "Fractions", EntityTopic, "")
	if err != nil {
		t.Fatalf("FindOrCreateEntity: %v", err)
	}

	evID, err := eng.LogEvent(ctx, trajectoryID, LogEventInput{Type: EventTouch, EntityID: entityID})
	if err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if evID == "" {
		t.Fatalf("expected an event id")
	}

	events, err := store.ListEventsByTrajectory(ctx, trajectoryID)
	if err != nil {
		t.Fatalf("ListEventsByTrajectory: %v", err)
	}
	if len(events) != 1 || events[0].SequenceNum != 0 {
		t.Fatalf("unexpected events: %#v", events)
	}

	ent, err := store.GetEntity(ctx, entityID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if ent.TouchCount != 2 {
		// FindOrCreateEntity's insert sets TouchCount to 1, then the touch
		// event's LogEvent side-effect increments it again.
		t.Fatalf("expected TouchCount 2 after find-or-create plus a touch event, got %d", ent.TouchCount)
	}
}

func TestTrajectoryEngineLogEventRejectsUnknownTrajectory(t *testing.T) {
	eng, _ := newTestTrajectoryEngine()
	ctx := context.Background()

	if _, err := eng.LogEvent(ctx, "never-started", LogEventInput{Type: EventTouch}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestTrajectoryEngineFindOrCreateEntityContributorCounting(t *testing.T) {
	eng, store := newTestTrajectoryEngine()
	ctx := context.Background()

	traj1, err := eng.StartTrajectory(ctx, "acct-1", "first turn", "")
	if err != nil {
		t.Fatalf("StartTrajectory 1: %v", err)
	}
	traj2, err := eng.StartTrajectory(ctx, "acct-2", "second turn", "")
	if err != nil {
		t.Fatalf("StartTrajectory 2: %v", err)
	}

	id1, err := eng.FindOrCreateEntity(ctx, "acct-1", traj1, "Fractions", EntityTopic, "")
	if err != nil {
		t.Fatalf("FindOrCreateEntity acct-1: %v", err)
	}
	id2, err := eng.FindOrCreateEntity(ctx, "acct-2", traj2, "Fractions", "", "")
	if err != nil {
		t.Fatalf("FindOrCreateEntity acct-2: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected the same entity for the same normalized name, got %s and %s", id1, id2)
	}

	ent, err := store.GetEntity(ctx, id1)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if ent.ContributorCount != 2 {
		t.Fatalf("expected ContributorCount 2, got %d", ent.ContributorCount)
	}
	if ent.EntityType != EntityTopic {
		t.Fatalf("expected the type set on first insert to stick, got %q", ent.EntityType)
	}

	// A repeat call from the same account must not bump ContributorCount again.
	if _, err := eng.FindOrCreateEntity(ctx, "acct-1", traj1, "Fractions", "", ""); err != nil {
		t.Fatalf("FindOrCreateEntity repeat: %v", err)
	}
	ent, err = store.GetEntity(ctx, id1)
	if err != nil {
		t.Fatalf("GetEntity after repeat: %v", err)
	}
	if ent.ContributorCount != 2 {
		t.Fatalf("expected ContributorCount to remain 2 after a repeat touch, got %d", ent.ContributorCount)
	}
}

func TestTrajectoryEngineFindOrCreateEntityRejectsEmptyName(t *testing.T) {
	eng, _ := newTestTrajectoryEngine()
	ctx := context.Background()

	trajectoryID, err := eng.StartTrajectory(ctx, "acct-1", "turn", "")
	if err != nil {
		t.Fatalf("StartTrajectory: %v", err)
	}
	if _, err := eng.FindOrCreateEntity(ctx, "acct-1", trajectoryID, "   ", "", ""); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant for an empty name, got %v", err)
	}
}

func TestTrajectoryEngineCompleteTrajectoryBuildsEdgesAndCooccurrence(t *testing.T) {
	eng, store := newTestTrajectoryEngine()
	ctx := context.Background()

	trajectoryID, err := eng.StartTrajectory(ctx, "acct-1", "student struggled then we tried a strategy", "")
	if err != nil {
		t.Fatalf("StartTrajectory: %v", err)
	}

	misconceptionID, err := eng.FindOrCreateEntity(ctx, "acct-1", trajectoryID, "denominator confusion", EntityMisconception, "")
	if err != nil {
		t.Fatalf("FindOrCreateEntity misconception: %v", err)
	}
	strategyID, err := eng.FindOrCreateEntity(ctx, "acct-1", trajectoryID, "fraction bars", EntityStrategy, "")
	if err != nil {
		t.Fatalf("FindOrCreateEntity strategy: %v", err)
	}
	outcomeID, err := eng.FindOrCreateEntity(ctx, "acct-1", trajectoryID, "simplifies fractions", EntityOutcome, "")
	if err != nil {
		t.Fatalf("FindOrCreateEntity outcome: %v", err)
	}

	if _, err := eng.LogEvent(ctx, trajectoryID, LogEventInput{Type: EventTouch, EntityID: misconceptionID}); err != nil {
		t.Fatalf("LogEvent touch misconception: %v", err)
	}
	if _, err := eng.LogEvent(ctx, trajectoryID, LogEventInput{Type: EventTouch, EntityID: strategyID}); err != nil {
		t.Fatalf("LogEvent touch strategy: %v", err)
	}
	if _, err := eng.LogEvent(ctx, trajectoryID, LogEventInput{Type: EventTouch, EntityID: outcomeID}); err != nil {
		t.Fatalf("LogEvent touch outcome: %v", err)
	}

	result, err := eng.CompleteTrajectory(ctx, trajectoryID, "acct-1", "worked through denominator confusion with fraction bars")
	if err != nil {
		t.Fatalf("CompleteTrajectory: %v", err)
	}
	if len(result.EntitiesTouched) != 3 {
		t.Fatalf("expected 3 touched entities, got %#v", result.EntitiesTouched)
	}
	if len(result.EdgesTraversed) != 3 {
		// misconception->strategy, strategy->outcome (walk order) plus the
		// strategy->outcome leads_to edge from the type-based pass.
		t.Fatalf("expected 3 edges traversed, got %#v", result.EdgesTraversed)
	}

	leadsTo, err := store.GetEdge(ctx, strategyID, outcomeID)
	if err != nil {
		t.Fatalf("GetEdge strategy->outcome: %v", err)
	}
	if leadsTo.RelationshipType != "leads_to" {
		t.Fatalf("expected a leads_to relationship type, got %q", leadsTo.RelationshipType)
	}
	if leadsTo.Weight != 2 {
		// Once from the sequential walk edge, once from the type-based pass.
		t.Fatalf("expected accumulated weight 2 on the strategy->outcome edge, got %d", leadsTo.Weight)
	}

	walkEdge, err := store.GetEdge(ctx, misconceptionID, strategyID)
	if err != nil {
		t.Fatalf("GetEdge misconception->strategy: %v", err)
	}
	if walkEdge.Weight != 1 {
		t.Fatalf("expected weight 1 on misconception->strategy, got %d", walkEdge.Weight)
	}

	cooc, err := store.CooccurrencesInvolving(ctx, []string{misconceptionID}, 10)
	if err != nil {
		t.Fatalf("CooccurrencesInvolving: %v", err)
	}
	if len(cooc) != 2 {
		// The misconception pairs once with the strategy and once with the outcome.
		t.Fatalf("expected 2 cooccurrence rows involving the misconception, got %#v", cooc)
	}

	traj, err := store.GetTrajectory(ctx, trajectoryID)
	if err != nil {
		t.Fatalf("GetTrajectory: %v", err)
	}
	if traj.Open() {
		t.Fatalf("expected trajectory to be completed")
	}
}

func TestTrajectoryEngineCompleteTrajectoryIsIdempotent(t *testing.T) {
	eng, store := newTestTrajectoryEngine()
	ctx := context.Background()

	trajectoryID, err := eng.StartTrajectory(ctx, "acct-1", "a single turn", "")
	if err != nil {
		t.Fatalf("StartTrajectory: %v", err)
	}
	entityID, err := eng.FindOrCreateEntity(ctx, "acct-1", trajectoryID, "Fractions", EntityTopic, "")
	if err != nil {
		t.Fatalf("FindOrCreateEntity: %v", err)
	}
	if _, err := eng.LogEvent(ctx, trajectoryID, LogEventInput{Type: EventTouch, EntityID: entityID}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}

	first, err := eng.CompleteTrajectory(ctx, trajectoryID, "acct-1", "summary one")
	if err != nil {
		t.Fatalf("CompleteTrajectory first call: %v", err)
	}

	second, err := eng.CompleteTrajectory(ctx, trajectoryID, "acct-1", "summary two")
	if err != nil {
		t.Fatalf("CompleteTrajectory second call: %v", err)
	}
	if len(second.EntitiesTouched) != len(first.EntitiesTouched) {
		t.Fatalf("expected the replay to return the same touched set, got %#v vs %#v", second.EntitiesTouched, first.EntitiesTouched)
	}

	// A replayed call must not bump the entity's trajectory count a second time.
	ent, err := store.GetEntity(ctx, entityID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if ent.TrajectoryCount != 1 {
		t.Fatalf("expected trajectory count 1 after a replayed completion, got %d", ent.TrajectoryCount)
	}

	// LogEvent rejecting a post-completion call shows the in-memory sequence
	// counter was discarded.
	if _, err := eng.LogEvent(ctx, trajectoryID, LogEventInput{Type: EventTouch, EntityID: entityID}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant logging to a completed trajectory, got %v", err)
	}
}

func TestTrajectoryEnginePartitionEntityIDs(t *testing.T) {
	events := []Event{
		{EventType: EventTouch, EntityID: "a"},
		{EventType: EventDiscover, EntityID: "b"},
		{EventType: EventTouch, EntityID: "a"},
		{EventType: EventDiscover, EntityID: "a"}, // already touched, must not appear in discovered
		{EventType: EventReason, EntityID: "c"},   // not touch/discover, ignored
	}
	touched, discovered, all := partitionEntityIDs(events)
	if len(touched) != 1 || touched[0] != "a" {
		t.Fatalf("unexpected touched set: %#v", touched)
	}
	if len(discovered) != 1 || discovered[0] != "b" {
		t.Fatalf("unexpected discovered set: %#v", discovered)
	}
	if len(all) != 2 {
		t.Fatalf("unexpected all set: %#v", all)
	}
}
