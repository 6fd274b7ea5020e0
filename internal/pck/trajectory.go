package pck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pckengine/internal/observability"
)

// TrajectoryEngine owns the lifecycle of a walk: start, append events,
// find-or-create entities with contributor tracking, and the end-of-walk
// graph mutation described in the completeTrajectory contract. It holds the
// in-process sequence counters; there is exactly one TrajectoryEngine per
// running process, shared across all in-flight turns, the way the teacher's
// databases.Manager is a single shared handle.
type TrajectoryEngine struct {
	store Store
	lock  NameLock

	mu       sync.Mutex
	counters map[string]int // trajectoryID -> next sequence number
}

// NewTrajectoryEngine wires a Store and a NameLock into a ready-to-use
// engine. Pass NewLocalNameLock() when no distributed lock is needed.
func NewTrajectoryEngine(store Store, lock NameLock) *TrajectoryEngine {
	return &TrajectoryEngine{
		store:    store,
		lock:     lock,
		counters: make(map[string]int),
	}
}

// StartTrajectory writes a new trajectory row and initializes its in-memory
// sequence counter to zero.
func (e *TrajectoryEngine) StartTrajectory(ctx context.Context, accountID, inputText, conversationID string) (string, error) {
	log := observability.LoggerWithTrace(ctx)
	t := Trajectory{
		AccountID:      accountID,
		ConversationID: conversationID,
		InputText:      inputText,
		InputHash:      inputHash(inputText),
		StartedAt:      time.Now().UTC(),
	}
	t, err := e.store.InsertTrajectory(ctx, t)
	if err != nil {
		return "", fmt.Errorf("start trajectory: %w", err)
	}
	e.mu.Lock()
	e.counters[t.ID] = 0
	e.mu.Unlock()
	log.Debug().Str("trajectory_id", t.ID).Str("account_id", accountID).Msg("trajectory_started")
	return t.ID, nil
}

// LogEventInput bundles the optional fields of LogEvent.
type LogEventInput struct {
	Type     string
	EntityID string
	Data     map[string]any
	Context  *DecisionContext
}

// LogEvent appends an event with the next sequence number for trajectoryID.
// If Type is "touch" and EntityID is set, the entity's TouchCount and
// LastSeen are incremented atomically as part of this call. Context, if
// given, is serialised under Data["_context"].
func (e *TrajectoryEngine) LogEvent(ctx context.Context, trajectoryID string, in LogEventInput) (string, error) {
	e.mu.Lock()
	seq, ok := e.counters[trajectoryID]
	if !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("log event: %w: trajectory %s not open in this process", ErrInvariant, trajectoryID)
	}
	e.counters[trajectoryID] = seq + 1
	e.mu.Unlock()

	data := in.Data
	if in.Context != nil {
		if data == nil {
			data = make(map[string]any, 1)
		}
		data["_context"] = in.Context
	}

	ev := Event{
		TrajectoryID: trajectoryID,
		SequenceNum:  seq,
		Timestamp:    time.Now().UTC(),
		EventType:    in.Type,
		EntityID:     in.EntityID,
		Data:         data,
	}
	ev, err := e.store.InsertEvent(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("log event: %w", err)
	}

	if in.Type == EventTouch && in.EntityID != "" {
		if _, err := e.store.UpdateEntity(ctx, in.EntityID, EntityPatch{
			IncrementTouch: true,
			LastSeen:       ev.Timestamp,
		}); err != nil {
			return "", fmt.Errorf("log event: touch entity %s: %w", in.EntityID, err)
		}
	}

	return ev.ID, nil
}

// FindOrCreateEntity normalizes name and, inside a per-name lock,
// find-or-creates the entity row and its (entity, account) contribution
// row, bumping ContributorCount exactly once per distinct account. It
// returns the entity id.
func (e *TrajectoryEngine) FindOrCreateEntity(ctx context.Context, accountID, trajectoryID, name, entityType, description string) (string, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return "", fmt.Errorf("find or create entity: %w: empty name", ErrInvariant)
	}

	release, err := e.lock.Lock(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("find or create entity: acquire lock: %w", err)
	}
	defer release()

	now := time.Now().UTC()

	ent, err := e.store.FindEntityByNormalizedName(ctx, normalized)
	switch {
	case err == nil:
		patch := EntityPatch{IncrementTouch: true, LastSeen: now}
		if entityType != "" {
			patch.SetEntityType = true
			patch.EntityType = entityType
		}
		if description != "" {
			patch.SetDescription = true
			patch.Description = description
		}
		ent, err = e.store.UpdateEntity(ctx, ent.ID, patch)
		if err != nil {
			return "", fmt.Errorf("find or create entity: update: %w", err)
		}
	case err == ErrNotFound:
		ent, err = e.store.InsertEntity(ctx, Entity{
			Name:             name,
			NormalizedName:   normalized,
			EntityType:       entityType,
			Description:      description,
			TouchCount:       1,
			TrajectoryCount:  0, // bumped to 1 by CompleteTrajectory's step 4, like every other trajectory it appears in
			ContributorCount: 0, // bumped below when the contribution row is created
			FirstSeen:        now,
			LastSeen:         now,
		})
		if err != nil {
			return "", fmt.Errorf("find or create entity: insert: %w", err)
		}
	default:
		return "", fmt.Errorf("find or create entity: lookup: %w", err)
	}

	_, created, err := e.store.FindOrInsertContribution(ctx, ent.ID, accountID, trajectoryID, now)
	if err != nil {
		return "", fmt.Errorf("find or create entity: contribution: %w", err)
	}
	if created {
		if _, err := e.store.UpdateEntity(ctx, ent.ID, EntityPatch{IncrementContributor: true}); err != nil {
			return "", fmt.Errorf("find or create entity: bump contributor count: %w", err)
		}
	} else {
		if err := e.store.IncrementContributionTouch(ctx, ent.ID, accountID, now); err != nil {
			return "", fmt.Errorf("find or create entity: bump contribution touch: %w", err)
		}
	}

	return ent.ID, nil
}

// CompleteTrajectory runs the end-of-walk graph mutation described in the
// component design, in order, and discards the in-memory sequence counter.
// It is idempotent: if the trajectory is already completed, it returns the
// same summary, rebuilt read-only from the event log, without incrementing
// any counter a second time.
func (e *TrajectoryEngine) CompleteTrajectory(ctx context.Context, trajectoryID, accountID, summary string) (CompleteTrajectoryResult, error) {
	log := observability.LoggerWithTrace(ctx)

	traj, err := e.store.GetTrajectory(ctx, trajectoryID)
	if err != nil {
		return CompleteTrajectoryResult{}, fmt.Errorf("complete trajectory: %w", err)
	}
	if !traj.Open() {
		log.Debug().Str("trajectory_id", trajectoryID).Msg("complete_trajectory_idempotent_replay")
		return e.rebuildCompletionSummary(ctx, trajectoryID)
	}

	events, err := e.store.ListEventsByTrajectory(ctx, trajectoryID)
	if err != nil {
		return CompleteTrajectoryResult{}, fmt.Errorf("complete trajectory: list events: %w", err)
	}

	touched, discovered, all := partitionEntityIDs(events)

	for _, id := range all {
		if _, err := e.store.UpdateEntity(ctx, id, EntityPatch{IncrementTrajectory: true}); err != nil {
			return CompleteTrajectoryResult{}, fmt.Errorf("complete trajectory: bump entity trajectory count: %w", err)
		}
		if err := e.store.IncrementContributionTrajectory(ctx, id, accountID); err != nil {
			return CompleteTrajectoryResult{}, fmt.Errorf("complete trajectory: bump contribution trajectory count: %w", err)
		}
	}

	now := time.Now().UTC()

	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if _, err := e.store.UpsertCooccurrence(ctx, all[i], all[j], func(c *Cooccurrence) {
				c.Count++
				c.WindowCount++
				c.TrajectoryCount++
				c.LastUpdated = now
			}); err != nil {
				return CompleteTrajectoryResult{}, fmt.Errorf("complete trajectory: cooccurrence: %w", err)
			}
		}
	}

	var edgesTraversed []EdgeRef
	for k := 0; k+1 < len(touched); k++ {
		src, tgt := touched[k], touched[k+1]
		if src == tgt {
			continue
		}
		if _, err := e.store.UpsertEdge(ctx, src, tgt, "", now, func(ed *Edge) {
			ed.Weight++
			ed.TrajectoryCount++
		}); err != nil {
			return CompleteTrajectoryResult{}, fmt.Errorf("complete trajectory: edge: %w", err)
		}
		edgesTraversed = append(edgesTraversed, EdgeRef{SourceID: src, TargetID: tgt})
	}

	strategies, outcomes, err := e.partitionByType(ctx, all)
	if err != nil {
		return CompleteTrajectoryResult{}, fmt.Errorf("complete trajectory: classify outcome edges: %w", err)
	}
	for _, s := range strategies {
		for _, o := range outcomes {
			if s == o {
				continue
			}
			if _, err := e.store.UpsertEdge(ctx, s, o, "leads_to", now, func(ed *Edge) {
				ed.Weight++
				ed.TrajectoryCount++
			}); err != nil {
				return CompleteTrajectoryResult{}, fmt.Errorf("complete trajectory: outcome edge: %w", err)
			}
			edgesTraversed = append(edgesTraversed, EdgeRef{SourceID: s, TargetID: o})
		}
	}

	if _, err := e.store.UpdateTrajectory(ctx, trajectoryID, TrajectoryPatch{
		SetSummary:     true,
		Summary:        summary,
		SetCompletedAt: true,
		CompletedAt:    now,
	}); err != nil {
		return CompleteTrajectoryResult{}, fmt.Errorf("complete trajectory: finalize: %w", err)
	}

	e.mu.Lock()
	delete(e.counters, trajectoryID)
	e.mu.Unlock()

	result := CompleteTrajectoryResult{
		EntitiesTouched:    touched,
		EntitiesDiscovered: discovered,
		EdgesTraversed:     edgesTraversed,
	}
	log.Debug().
		Str("trajectory_id", trajectoryID).
		Int("touched", len(touched)).
		Int("discovered", len(discovered)).
		Int("edges", len(edgesTraversed)).
		Msg("trajectory_completed")
	return result, nil
}

// rebuildCompletionSummary recomputes the touched/discovered/edge summary
// for an already-completed trajectory by replaying its event log read-only.
// It performs no writes, satisfying the "second call is a no-op" invariant.
func (e *TrajectoryEngine) rebuildCompletionSummary(ctx context.Context, trajectoryID string) (CompleteTrajectoryResult, error) {
	events, err := e.store.ListEventsByTrajectory(ctx, trajectoryID)
	if err != nil {
		return CompleteTrajectoryResult{}, fmt.Errorf("rebuild completion summary: %w", err)
	}
	touched, discovered, all := partitionEntityIDs(events)
	var edgesTraversed []EdgeRef
	for k := 0; k+1 < len(touched); k++ {
		if touched[k] != touched[k+1] {
			edgesTraversed = append(edgesTraversed, EdgeRef{SourceID: touched[k], TargetID: touched[k+1]})
		}
	}
	strategies, outcomes, err := e.partitionByType(ctx, all)
	if err != nil {
		return CompleteTrajectoryResult{}, fmt.Errorf("rebuild completion summary: classify outcome edges: %w", err)
	}
	for _, s := range strategies {
		for _, o := range outcomes {
			if s != o {
				edgesTraversed = append(edgesTraversed, EdgeRef{SourceID: s, TargetID: o})
			}
		}
	}
	return CompleteTrajectoryResult{
		EntitiesTouched:    touched,
		EntitiesDiscovered: discovered,
		EdgesTraversed:     edgesTraversed,
	}, nil
}

// partitionByType splits ids into those whose entity type is "strategy" and
// those whose entity type is "outcome".
func (e *TrajectoryEngine) partitionByType(ctx context.Context, ids []string) (strategies, outcomes []string, err error) {
	for _, id := range ids {
		ent, gerr := e.store.GetEntity(ctx, id)
		if gerr != nil {
			return nil, nil, gerr
		}
		switch ent.EntityType {
		case EntityStrategy:
			strategies = append(strategies, id)
		case EntityOutcome:
			outcomes = append(outcomes, id)
		}
	}
	return strategies, outcomes, nil
}

// partitionEntityIDs derives touched/discovered/all from a trajectory's
// ordered event log, per the completeTrajectory contract: touched is the
// unique, first-occurrence-ordered set of touch-event entity ids;
// discovered is the unique set of discover-event entity ids not already in
// touched; all is their union, in touched-then-newly-discovered order.
func partitionEntityIDs(events []Event) (touched, discovered, all []string) {
	touchedSet := make(map[string]bool)
	for _, ev := range events {
		if ev.EventType == EventTouch && ev.EntityID != "" && !touchedSet[ev.EntityID] {
			touchedSet[ev.EntityID] = true
			touched = append(touched, ev.EntityID)
		}
	}
	discoveredSet := make(map[string]bool)
	for _, ev := range events {
		if ev.EventType == EventDiscover && ev.EntityID != "" && !touchedSet[ev.EntityID] && !discoveredSet[ev.EntityID] {
			discoveredSet[ev.EntityID] = true
			discovered = append(discovered, ev.EntityID)
		}
	}
	all = append(append([]string{}, touched...), discovered...)
	return touched, discovered, all
}
