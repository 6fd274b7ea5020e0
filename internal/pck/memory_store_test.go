package pck

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreEntityLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e, err := store.InsertEntity(ctx, Entity{Name: "Fractions", NormalizedName: "fractions"})
	if err != nil {
		t.Fatalf("InsertEntity: %v", err)
	}
	if e.ID == "" {
		t.Fatalf("expected generated id")
	}

	found, err := store.FindEntityByNormalizedName(ctx, "fractions")
	if err != nil {
		t.Fatalf("FindEntityByNormalizedName: %v", err)
	}
	if found.ID != e.ID {
		t.Fatalf("expected same entity, got %#v", found)
	}

	if _, err := store.InsertEntity(ctx, Entity{Name: "Fractions again", NormalizedName: "fractions"}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant on duplicate normalizedName, got %v", err)
	}

	if _, err := store.GetEntity(ctx, "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateEntityStickyFields(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e, err := store.InsertEntity(ctx, Entity{Name: "Fractions", NormalizedName: "fractions"})
	if err != nil {
		t.Fatalf("InsertEntity: %v", err)
	}

	now := time.Now()
	updated, err := store.UpdateEntity(ctx, e.ID, EntityPatch{
		IncrementTouch: true,
		LastSeen:       now,
		SetEntityType:  true,
		EntityType:     EntityTopic,
		SetDescription: true,
		Description:    "fractions as part-whole ratios",
	})
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if updated.TouchCount != 1 || updated.EntityType != EntityTopic || updated.Description == "" {
		t.Fatalf("unexpected entity after first patch: %#v", updated)
	}

	// Sticky fields: a second patch with a different type/description must not overwrite.
	updated, err = store.UpdateEntity(ctx, e.ID, EntityPatch{
		SetEntityType:  true,
		EntityType:     EntityMisconception,
		SetDescription: true,
		Description:    "a different description",
	})
	if err != nil {
		t.Fatalf("UpdateEntity second patch: %v", err)
	}
	if updated.EntityType != EntityTopic {
		t.Fatalf("expected sticky EntityType to remain %q, got %q", EntityTopic, updated.EntityType)
	}
	if updated.Description != "fractions as part-whole ratios" {
		t.Fatalf("expected sticky Description to remain, got %q", updated.Description)
	}

	if _, err := store.UpdateEntity(ctx, "missing", EntityPatch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreSearchEntities(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, _ := store.InsertEntity(ctx, Entity{Name: "Fractions", NormalizedName: "fractions", EntityType: EntityTopic})
	b, _ := store.InsertEntity(ctx, Entity{Name: "Fraction addition", NormalizedName: "fraction addition", EntityType: EntityStrategy})
	store.InsertEntity(ctx, Entity{Name: "Decimals", NormalizedName: "decimals", EntityType: EntityTopic})

	store.UpdateEntity(ctx, a.ID, EntityPatch{IncrementTouch: true})
	store.UpdateEntity(ctx, a.ID, EntityPatch{IncrementTouch: true})
	store.UpdateEntity(ctx, b.ID, EntityPatch{IncrementTouch: true})

	results, err := store.SearchEntities(ctx, "fraction", "", 10)
	if err != nil {
		t.Fatalf("SearchEntities: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d: %#v", len(results), results)
	}
	if results[0].ID != a.ID {
		t.Fatalf("expected higher touch count first, got %#v", results[0])
	}

	typed, err := store.SearchEntities(ctx, "fraction", EntityStrategy, 10)
	if err != nil {
		t.Fatalf("SearchEntities typed: %v", err)
	}
	if len(typed) != 1 || typed[0].ID != b.ID {
		t.Fatalf("expected only the strategy entity, got %#v", typed)
	}

	limited, err := store.SearchEntities(ctx, "fraction", "", 1)
	if err != nil {
		t.Fatalf("SearchEntities limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestMemoryStoreContributionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	row, created, err := store.FindOrInsertContribution(ctx, "entity-1", "acct-1", "traj-1", now)
	if err != nil {
		t.Fatalf("FindOrInsertContribution: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true on first call")
	}
	if row.TouchCount != 1 {
		t.Fatalf("expected TouchCount 1, got %d", row.TouchCount)
	}

	_, created, err = store.FindOrInsertContribution(ctx, "entity-1", "acct-1", "traj-1", now)
	if err != nil {
		t.Fatalf("FindOrInsertContribution second call: %v", err)
	}
	if created {
		t.Fatalf("expected created=false on repeat call")
	}

	if err := store.IncrementContributionTouch(ctx, "entity-1", "acct-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("IncrementContributionTouch: %v", err)
	}
	if err := store.IncrementContributionTrajectory(ctx, "entity-1", "acct-1"); err != nil {
		t.Fatalf("IncrementContributionTrajectory: %v", err)
	}

	if err := store.IncrementContributionTouch(ctx, "entity-1", "acct-missing", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreTrajectoryAndEventLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	traj, err := store.InsertTrajectory(ctx, Trajectory{AccountID: "acct-1", InputText: "help with fractions"})
	if err != nil {
		t.Fatalf("InsertTrajectory: %v", err)
	}
	if traj.ID == "" {
		t.Fatalf("expected generated trajectory id")
	}
	if !traj.Open() {
		t.Fatalf("expected a freshly inserted trajectory to be open")
	}

	ev0, err := store.InsertEvent(ctx, Event{TrajectoryID: traj.ID, SequenceNum: 0, EventType: EventTouch, EntityID: "entity-1"})
	if err != nil {
		t.Fatalf("InsertEvent seq 0: %v", err)
	}
	if ev0.ID == "" {
		t.Fatalf("expected generated event id")
	}

	if _, err := store.InsertEvent(ctx, Event{TrajectoryID: traj.ID, SequenceNum: 2, EventType: EventTouch}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant for out-of-order sequence, got %v", err)
	}

	if _, err := store.InsertEvent(ctx, Event{TrajectoryID: traj.ID, SequenceNum: 0, EventType: EventTouch}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant for duplicate sequence, got %v", err)
	}

	if _, err := store.InsertEvent(ctx, Event{TrajectoryID: traj.ID, SequenceNum: 1, EventType: EventDecide, EntityID: "entity-2"}); err != nil {
		t.Fatalf("InsertEvent seq 1: %v", err)
	}

	events, err := store.ListEventsByTrajectory(ctx, traj.ID)
	if err != nil {
		t.Fatalf("ListEventsByTrajectory: %v", err)
	}
	if len(events) != 2 || events[0].SequenceNum != 0 || events[1].SequenceNum != 1 {
		t.Fatalf("unexpected event ordering: %#v", events)
	}

	completedAt := time.Now()
	updated, err := store.UpdateTrajectory(ctx, traj.ID, TrajectoryPatch{SetSummary: true, Summary: "worked through fractions", SetCompletedAt: true, CompletedAt: completedAt})
	if err != nil {
		t.Fatalf("UpdateTrajectory: %v", err)
	}
	if updated.Open() {
		t.Fatalf("expected trajectory to no longer be open")
	}
	if updated.Summary != "worked through fractions" {
		t.Fatalf("unexpected summary: %q", updated.Summary)
	}

	byAccount, err := store.ListTrajectoriesByAccount(ctx, "acct-1", 0)
	if err != nil {
		t.Fatalf("ListTrajectoriesByAccount: %v", err)
	}
	if len(byAccount) != 1 || byAccount[0].ID != traj.ID {
		t.Fatalf("unexpected account trajectories: %#v", byAccount)
	}

	byEntity, err := store.ListTrajectoriesByEntity(ctx, "acct-1", "entity-1", 0)
	if err != nil {
		t.Fatalf("ListTrajectoriesByEntity: %v", err)
	}
	if len(byEntity) != 1 || byEntity[0].ID != traj.ID {
		t.Fatalf("unexpected entity trajectories: %#v", byEntity)
	}

	touched, err := store.ListEntityIDsTouchedByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListEntityIDsTouchedByAccount: %v", err)
	}
	if len(touched) != 2 {
		t.Fatalf("expected 2 touched entities, got %#v", touched)
	}

	has, err := store.AccountHasTouchedEntity(ctx, "acct-1", "entity-2")
	if err != nil {
		t.Fatalf("AccountHasTouchedEntity: %v", err)
	}
	if !has {
		t.Fatalf("expected account to have touched entity-2")
	}

	has, err = store.AccountHasTouchedEntity(ctx, "acct-1", "entity-nope")
	if err != nil {
		t.Fatalf("AccountHasTouchedEntity missing: %v", err)
	}
	if has {
		t.Fatalf("expected false for an untouched entity")
	}

	if _, err := store.GetTrajectory(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreEdgeUpsertAndQueries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if _, err := store.UpsertEdge(ctx, "a", "a", "", now, func(e *Edge) {}); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant for a self loop, got %v", err)
	}

	edge, err := store.UpsertEdge(ctx, "a", "b", "leads_to", now, func(e *Edge) {
		e.Weight++
		e.TrajectoryCount++
	})
	if err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if edge.Weight != 1 || edge.RelationshipType != "leads_to" {
		t.Fatalf("unexpected edge after first upsert: %#v", edge)
	}

	edge, err = store.UpsertEdge(ctx, "a", "b", "", now.Add(time.Minute), func(e *Edge) {
		e.Weight++
	})
	if err != nil {
		t.Fatalf("UpsertEdge second call: %v", err)
	}
	if edge.Weight != 2 {
		t.Fatalf("expected accumulated weight 2, got %d", edge.Weight)
	}
	if edge.RelationshipType != "leads_to" {
		t.Fatalf("expected relationship type to persist, got %q", edge.RelationshipType)
	}

	if _, err := store.UpsertEdge(ctx, "a", "c", "", now, func(e *Edge) { e.Weight = 5 }); err != nil {
		t.Fatalf("UpsertEdge a->c: %v", err)
	}
	if _, err := store.UpsertEdge(ctx, "c", "b", "", now, func(e *Edge) { e.Weight = 3 }); err != nil {
		t.Fatalf("UpsertEdge c->b: %v", err)
	}

	got, err := store.GetEdge(ctx, "a", "b")
	if err != nil {
		t.Fatalf("GetEdge: %v", err)
	}
	if got.Weight != 2 {
		t.Fatalf("unexpected GetEdge weight: %d", got.Weight)
	}

	if _, err := store.GetEdge(ctx, "x", "y"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	from, err := store.EdgesFrom(ctx, "a")
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if len(from) != 2 || from[0].Weight < from[1].Weight {
		t.Fatalf("expected EdgesFrom sorted by weight desc, got %#v", from)
	}

	to, err := store.EdgesTo(ctx, "b")
	if err != nil {
		t.Fatalf("EdgesTo: %v", err)
	}
	if len(to) != 2 {
		t.Fatalf("expected 2 edges into b, got %#v", to)
	}

	among, err := store.EdgesAmong(ctx, []string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatalf("EdgesAmong: %v", err)
	}
	for _, e := range among {
		if e.Weight < 2 {
			t.Fatalf("expected EdgesAmong to filter by minWeight, got %#v", e)
		}
	}
}

func TestMemoryStoreCooccurrenceCanonicalOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	c1, err := store.UpsertCooccurrence(ctx, "b", "a", func(c *Cooccurrence) { c.Count++ })
	if err != nil {
		t.Fatalf("UpsertCooccurrence: %v", err)
	}
	if c1.EntityA != "a" || c1.EntityB != "b" {
		t.Fatalf("expected canonical (a,b) ordering, got %#v", c1)
	}

	c2, err := store.UpsertCooccurrence(ctx, "a", "b", func(c *Cooccurrence) { c.Count++ })
	if err != nil {
		t.Fatalf("UpsertCooccurrence reversed args: %v", err)
	}
	if c2.Count != 2 {
		t.Fatalf("expected counts to accumulate onto the same row, got %d", c2.Count)
	}

	if _, err := store.UpsertCooccurrence(ctx, "c", "d", func(c *Cooccurrence) { c.Count = 5 }); err != nil {
		t.Fatalf("UpsertCooccurrence c,d: %v", err)
	}

	involving, err := store.CooccurrencesInvolving(ctx, []string{"a"}, 0)
	if err != nil {
		t.Fatalf("CooccurrencesInvolving: %v", err)
	}
	if len(involving) != 1 || involving[0].EntityA != "a" {
		t.Fatalf("unexpected cooccurrences involving a: %#v", involving)
	}
}

func TestMemoryStoreConversationAndMessageLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	conv, err := store.InsertConversation(ctx, Conversation{AccountID: "acct-1", Title: "fractions help"})
	if err != nil {
		t.Fatalf("InsertConversation: %v", err)
	}
	if conv.ID == "" {
		t.Fatalf("expected generated conversation id")
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "fractions help" {
		t.Fatalf("unexpected conversation: %#v", got)
	}

	first := time.Now()
	second := first.Add(time.Minute)
	if _, err := store.InsertMessage(ctx, Message{ConversationID: conv.ID, Role: RoleUser, Content: "help me", CreatedAt: second}); err != nil {
		t.Fatalf("InsertMessage user: %v", err)
	}
	if _, err := store.InsertMessage(ctx, Message{ConversationID: conv.ID, Role: RoleAssistant, Content: "sure", CreatedAt: first}); err != nil {
		t.Fatalf("InsertMessage assistant: %v", err)
	}

	msgs, err := store.ListMessagesByConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessagesByConversation: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != RoleAssistant || msgs[1].Role != RoleUser {
		t.Fatalf("expected messages ordered by CreatedAt, got %#v", msgs)
	}

	byAccount, err := store.ListConversationsByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListConversationsByAccount: %v", err)
	}
	if len(byAccount) != 1 || byAccount[0].ID != conv.ID {
		t.Fatalf("unexpected conversations for account: %#v", byAccount)
	}

	if _, err := store.GetConversation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
