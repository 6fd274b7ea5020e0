package pck

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store, used by engine tests and by
// cmd/pckd when no Postgres DSN is configured. It mirrors
// databases.memoryGraph/newMemoryChatStore in spirit: a mutex-guarded set
// of maps, sorted output, no external dependency.
type MemoryStore struct {
	mu sync.Mutex

	entities   map[string]Entity
	byName     map[string]string // normalizedName -> entityID
	contribs   map[[2]string]EntityContribution

	trajectories map[string]Trajectory
	events       map[string][]Event // trajectoryID -> events, ascending sequence

	edges map[[2]string]Edge
	coocc map[[2]string]Cooccurrence

	conversations map[string]Conversation
	messages      map[string][]Message // conversationID -> messages
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:      make(map[string]Entity),
		byName:        make(map[string]string),
		contribs:      make(map[[2]string]EntityContribution),
		trajectories:  make(map[string]Trajectory),
		events:        make(map[string][]Event),
		edges:         make(map[[2]string]Edge),
		coocc:         make(map[[2]string]Cooccurrence),
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) FindEntityByNormalizedName(_ context.Context, normalizedName string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[normalizedName]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return s.entities[id], nil
}

func (s *MemoryStore) GetEntity(_ context.Context, id string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) InsertEntity(_ context.Context, e Entity) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := s.byName[e.NormalizedName]; exists {
		return Entity{}, ErrInvariant
	}
	s.entities[e.ID] = e
	s.byName[e.NormalizedName] = e.ID
	return e, nil
}

func (s *MemoryStore) UpdateEntity(_ context.Context, id string, patch EntityPatch) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return Entity{}, ErrNotFound
	}
	applyEntityPatch(&e, patch)
	s.entities[id] = e
	return e, nil
}

func applyEntityPatch(e *Entity, patch EntityPatch) {
	if patch.IncrementTouch {
		e.TouchCount++
	}
	if !patch.LastSeen.IsZero() {
		e.LastSeen = patch.LastSeen
	}
	if patch.SetEntityType && e.EntityType == "" {
		e.EntityType = patch.EntityType
	}
	if patch.SetDescription && e.Description == "" {
		e.Description = patch.Description
	}
	if patch.IncrementTrajectory {
		e.TrajectoryCount++
	}
	if patch.IncrementContributor {
		e.ContributorCount++
	}
}

func (s *MemoryStore) SearchEntities(_ context.Context, nameSubstring string, entityType string, limit int) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(nameSubstring)
	var out []Entity
	for _, e := range s.entities {
		if !strings.Contains(e.NormalizedName, needle) {
			continue
		}
		if entityType != "" && e.EntityType != entityType {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TouchCount != out[j].TouchCount {
			return out[i].TouchCount > out[j].TouchCount
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindOrInsertContribution(_ context.Context, entityID, accountID, firstTrajectoryID string, at time.Time) (EntityContribution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{entityID, accountID}
	if row, ok := s.contribs[key]; ok {
		return row, false, nil
	}
	row := EntityContribution{
		EntityID:          entityID,
		AccountID:         accountID,
		FirstTrajectoryID: firstTrajectoryID,
		TouchCount:        1,
		TrajectoryCount:   0, // bumped to 1 by CompleteTrajectory's step 4
		FirstSeen:         at,
		LastSeen:          at,
	}
	s.contribs[key] = row
	return row, true, nil
}

func (s *MemoryStore) IncrementContributionTouch(_ context.Context, entityID, accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{entityID, accountID}
	row, ok := s.contribs[key]
	if !ok {
		return ErrNotFound
	}
	row.TouchCount++
	row.LastSeen = at
	s.contribs[key] = row
	return nil
}

func (s *MemoryStore) IncrementContributionTrajectory(_ context.Context, entityID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{entityID, accountID}
	row, ok := s.contribs[key]
	if !ok {
		return ErrNotFound
	}
	row.TrajectoryCount++
	s.contribs[key] = row
	return nil
}

func (s *MemoryStore) InsertTrajectory(_ context.Context, t Trajectory) (Trajectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.trajectories[t.ID] = t
	return t, nil
}

func (s *MemoryStore) GetTrajectory(_ context.Context, id string) (Trajectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trajectories[id]
	if !ok {
		return Trajectory{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) UpdateTrajectory(_ context.Context, id string, patch TrajectoryPatch) (Trajectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trajectories[id]
	if !ok {
		return Trajectory{}, ErrNotFound
	}
	if patch.SetSummary {
		t.Summary = patch.Summary
	}
	if patch.SetCompletedAt {
		t.CompletedAt = patch.CompletedAt
	}
	s.trajectories[id] = t
	return t, nil
}

func (s *MemoryStore) ListTrajectoriesByAccount(_ context.Context, accountID string, limit int) ([]Trajectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Trajectory
	for _, t := range s.trajectories {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListTrajectoriesByEntity(_ context.Context, accountID, entityID string, limit int) ([]Trajectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Trajectory
	for tid, evs := range s.events {
		t, ok := s.trajectories[tid]
		if !ok || t.AccountID != accountID {
			continue
		}
		for _, ev := range evs {
			if ev.EntityID == entityID {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, e Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	existing := s.events[e.TrajectoryID]
	if e.SequenceNum != len(existing) {
		return Event{}, ErrInvariant
	}
	s.events[e.TrajectoryID] = append(existing, e)
	return e, nil
}

func (s *MemoryStore) ListEventsByTrajectory(_ context.Context, trajectoryID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events[trajectoryID]))
	copy(out, s.events[trajectoryID])
	return out, nil
}

func (s *MemoryStore) ListEntityIDsTouchedByAccount(_ context.Context, accountID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for tid, evs := range s.events {
		t, ok := s.trajectories[tid]
		if !ok || t.AccountID != accountID {
			continue
		}
		for _, ev := range evs {
			if ev.EntityID != "" && !seen[ev.EntityID] {
				seen[ev.EntityID] = true
				out = append(out, ev.EntityID)
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) AccountHasTouchedEntity(_ context.Context, accountID, entityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tid, evs := range s.events {
		t, ok := s.trajectories[tid]
		if !ok || t.AccountID != accountID {
			continue
		}
		for _, ev := range evs {
			if ev.EntityID == entityID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *MemoryStore) UpsertEdge(_ context.Context, sourceID, targetID string, relationshipType string, at time.Time, mutate EdgeMutator) (Edge, error) {
	if sourceID == targetID {
		return Edge{}, ErrInvariant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{sourceID, targetID}
	e, ok := s.edges[key]
	if !ok {
		e = Edge{SourceID: sourceID, TargetID: targetID, FirstSeen: at}
	}
	if relationshipType != "" {
		e.RelationshipType = relationshipType
	}
	e.LastSeen = at
	mutate(&e)
	s.edges[key] = e
	return e, nil
}

func (s *MemoryStore) GetEdge(_ context.Context, sourceID, targetID string) (Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[[2]string{sourceID, targetID}]
	if !ok {
		return Edge{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) EdgesFrom(_ context.Context, sourceID string) ([]Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Edge
	for k, e := range s.edges {
		if k[0] == sourceID {
			out = append(out, e)
		}
	}
	sortEdgesByWeightDesc(out)
	return out, nil
}

func (s *MemoryStore) EdgesTo(_ context.Context, targetID string) ([]Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Edge
	for k, e := range s.edges {
		if k[1] == targetID {
			out = append(out, e)
		}
	}
	sortEdgesByWeightDesc(out)
	return out, nil
}

func (s *MemoryStore) EdgesAmong(_ context.Context, ids []string, minWeight int64) ([]Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	var out []Edge
	for _, e := range s.edges {
		if e.Weight < minWeight {
			continue
		}
		if set[e.SourceID] && set[e.TargetID] {
			out = append(out, e)
		}
	}
	sortEdgesByWeightDesc(out)
	return out, nil
}

func sortEdgesByWeightDesc(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Weight != edges[j].Weight {
			return edges[i].Weight > edges[j].Weight
		}
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		return edges[i].TargetID < edges[j].TargetID
	})
}

func (s *MemoryStore) UpsertCooccurrence(_ context.Context, a, b string, mutate CooccurrenceMutator) (Cooccurrence, error) {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{lo, hi}
	c, ok := s.coocc[key]
	if !ok {
		c = Cooccurrence{EntityA: lo, EntityB: hi}
	}
	mutate(&c)
	s.coocc[key] = c
	return c, nil
}

func (s *MemoryStore) CooccurrencesInvolving(_ context.Context, ids []string, limit int) ([]Cooccurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	var out []Cooccurrence
	for _, c := range s.coocc {
		if set[c.EntityA] || set[c.EntityB] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].EntityA != out[j].EntityA {
			return out[i].EntityA < out[j].EntityA
		}
		return out[i].EntityB < out[j].EntityB
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertConversation(_ context.Context, c Conversation) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.conversations[c.ID] = c
	return c, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListConversationsByAccount(_ context.Context, accountID string) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Conversation
	for _, c := range s.conversations {
		if c.AccountID == accountID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return m, nil
}

func (s *MemoryStore) ListMessagesByConversation(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append([]Message(nil), s.messages[conversationID]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}
