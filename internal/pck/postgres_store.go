package pck

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Store backed by a shared pgxpool.Pool. Unlike
// MemoryStore it enforces one row per normalized name on its own:
// InsertEntity's unique index on normalized_name plus ON CONFLICT DO NOTHING
// makes a racing insert for an existing name fail with ErrInvariant instead
// of creating a second row. It does not return the existing row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool. Call Init once before
// use to create the schema.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Init creates every table and index this store needs, idempotently.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entities (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    normalized_name TEXT NOT NULL UNIQUE,
    entity_type TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    touch_count BIGINT NOT NULL DEFAULT 0,
    trajectory_count BIGINT NOT NULL DEFAULT 0,
    contributor_count BIGINT NOT NULL DEFAULT 0,
    first_seen TIMESTAMPTZ NOT NULL,
    last_seen TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS entities_entity_type_idx ON entities(entity_type);

CREATE TABLE IF NOT EXISTS entity_contributions (
    entity_id UUID NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    account_id TEXT NOT NULL,
    first_trajectory_id UUID NOT NULL,
    touch_count BIGINT NOT NULL DEFAULT 0,
    trajectory_count BIGINT NOT NULL DEFAULT 0,
    first_seen TIMESTAMPTZ NOT NULL,
    last_seen TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (entity_id, account_id)
);

CREATE TABLE IF NOT EXISTS trajectories (
    id UUID PRIMARY KEY,
    account_id TEXT NOT NULL,
    conversation_id UUID,
    input_text TEXT NOT NULL,
    input_hash BIGINT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS trajectories_account_idx ON trajectories(account_id);

CREATE TABLE IF NOT EXISTS events (
    id UUID PRIMARY KEY,
    trajectory_id UUID NOT NULL REFERENCES trajectories(id) ON DELETE CASCADE,
    sequence_num INTEGER NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    event_type TEXT NOT NULL,
    entity_id UUID,
    data JSONB,
    UNIQUE (trajectory_id, sequence_num)
);
CREATE INDEX IF NOT EXISTS events_trajectory_idx ON events(trajectory_id);
CREATE INDEX IF NOT EXISTS events_entity_idx ON events(entity_id);

CREATE TABLE IF NOT EXISTS edges (
    source_id UUID NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    target_id UUID NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    weight BIGINT NOT NULL DEFAULT 0,
    trajectory_count BIGINT NOT NULL DEFAULT 0,
    contributor_count BIGINT NOT NULL DEFAULT 0,
    relationship_type TEXT NOT NULL DEFAULT '',
    positive_outcomes BIGINT NOT NULL DEFAULT 0,
    negative_outcomes BIGINT NOT NULL DEFAULT 0,
    mixed_outcomes BIGINT NOT NULL DEFAULT 0,
    first_seen TIMESTAMPTZ NOT NULL,
    last_seen TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source_id, target_id)
);

CREATE TABLE IF NOT EXISTS cooccurrences (
    entity_a UUID NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    entity_b UUID NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    count BIGINT NOT NULL DEFAULT 0,
    window_count BIGINT NOT NULL DEFAULT 0,
    trajectory_count BIGINT NOT NULL DEFAULT 0,
    contributor_count BIGINT NOT NULL DEFAULT 0,
    last_updated TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (entity_a, entity_b)
);

CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY,
    account_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_account_idx ON conversations(account_id);

CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    trajectory_id UUID,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, created_at);
`)
	return err
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func scanEntity(row pgx.Row) (Entity, error) {
	var e Entity
	if err := row.Scan(&e.ID, &e.Name, &e.NormalizedName, &e.EntityType, &e.Description,
		&e.TouchCount, &e.TrajectoryCount, &e.ContributorCount, &e.FirstSeen, &e.LastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entity{}, ErrNotFound
		}
		return Entity{}, err
	}
	return e, nil
}

const entityColumns = `id, name, normalized_name, entity_type, description, touch_count, trajectory_count, contributor_count, first_seen, last_seen`

func (s *PostgresStore) FindEntityByNormalizedName(ctx context.Context, normalizedName string) (Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE normalized_name = $1`, normalizedName)
	return scanEntity(row)
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	return scanEntity(row)
}

// InsertEntity relies on the normalized_name unique index: a racing insert
// for the same name returns ErrInvariant to the loser, the same contract
// MemoryStore enforces cooperatively via NameLock.
func (s *PostgresStore) InsertEntity(ctx context.Context, e Entity) (Entity, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO entities (id, name, normalized_name, entity_type, description, touch_count, trajectory_count, contributor_count, first_seen, last_seen)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (normalized_name) DO NOTHING
RETURNING `+entityColumns,
		e.ID, e.Name, e.NormalizedName, e.EntityType, e.Description, e.TouchCount, e.TrajectoryCount, e.ContributorCount, e.FirstSeen, e.LastSeen)
	inserted, err := scanEntity(row)
	if err == nil {
		return inserted, nil
	}
	if err == ErrNotFound {
		return Entity{}, ErrInvariant
	}
	return Entity{}, err
}

func (s *PostgresStore) UpdateEntity(ctx context.Context, id string, patch EntityPatch) (Entity, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE entities SET
    touch_count = touch_count + CASE WHEN $2 THEN 1 ELSE 0 END,
    last_seen = CASE WHEN $3 THEN $4::timestamptz ELSE last_seen END,
    entity_type = CASE WHEN $5 AND entity_type = '' THEN $6 ELSE entity_type END,
    description = CASE WHEN $7 AND description = '' THEN $8 ELSE description END,
    trajectory_count = trajectory_count + CASE WHEN $9 THEN 1 ELSE 0 END,
    contributor_count = contributor_count + CASE WHEN $10 THEN 1 ELSE 0 END
WHERE id = $1
RETURNING `+entityColumns,
		id, patch.IncrementTouch, !patch.LastSeen.IsZero(), patch.LastSeen,
		patch.SetEntityType, patch.EntityType, patch.SetDescription, patch.Description,
		patch.IncrementTrajectory, patch.IncrementContributor)
	return scanEntity(row)
}

func (s *PostgresStore) SearchEntities(ctx context.Context, nameSubstring, entityType string, limit int) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE normalized_name LIKE '%' || $1 || '%'`
	args := []any{nameSubstring}
	if entityType != "" {
		query += ` AND entity_type = $2`
		args = append(args, entityType)
	}
	query += ` ORDER BY touch_count DESC, id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindOrInsertContribution(ctx context.Context, entityID, accountID, firstTrajectoryID string, at time.Time) (EntityContribution, bool, error) {
	row := s.pool.QueryRow(ctx, `
WITH ins AS (
  INSERT INTO entity_contributions (entity_id, account_id, first_trajectory_id, touch_count, trajectory_count, first_seen, last_seen)
  VALUES ($1, $2, $3, 1, 0, $4, $4)
  ON CONFLICT (entity_id, account_id) DO NOTHING
  RETURNING entity_id, account_id, first_trajectory_id, touch_count, trajectory_count, first_seen, last_seen, true AS created
)
SELECT entity_id, account_id, first_trajectory_id, touch_count, trajectory_count, first_seen, last_seen, true AS created FROM ins
UNION ALL
SELECT entity_id, account_id, first_trajectory_id, touch_count, trajectory_count, first_seen, last_seen, false AS created
FROM entity_contributions WHERE entity_id = $1 AND account_id = $2 AND NOT EXISTS (SELECT 1 FROM ins)
LIMIT 1`, entityID, accountID, firstTrajectoryID, at)
	var row2 EntityContribution
	var created bool
	if err := row.Scan(&row2.EntityID, &row2.AccountID, &row2.FirstTrajectoryID, &row2.TouchCount, &row2.TrajectoryCount, &row2.FirstSeen, &row2.LastSeen, &created); err != nil {
		return EntityContribution{}, false, err
	}
	return row2, created, nil
}

func (s *PostgresStore) IncrementContributionTouch(ctx context.Context, entityID, accountID string, at time.Time) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE entity_contributions SET touch_count = touch_count + 1, last_seen = $3
WHERE entity_id = $1 AND account_id = $2`, entityID, accountID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IncrementContributionTrajectory(ctx context.Context, entityID, accountID string) error {
	cmd, err := s.pool.Exec(ctx, `
UPDATE entity_contributions SET trajectory_count = trajectory_count + 1
WHERE entity_id = $1 AND account_id = $2`, entityID, accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTrajectory(row pgx.Row) (Trajectory, error) {
	var t Trajectory
	var convID *string
	var completedAt *time.Time
	if err := row.Scan(&t.ID, &t.AccountID, &convID, &t.InputText, &t.InputHash, &t.Summary, &t.StartedAt, &completedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Trajectory{}, ErrNotFound
		}
		return Trajectory{}, err
	}
	if convID != nil {
		t.ConversationID = *convID
	}
	if completedAt != nil {
		t.CompletedAt = *completedAt
	}
	return t, nil
}

const trajectoryColumns = `id, account_id, conversation_id, input_text, input_hash, summary, started_at, completed_at`

func (s *PostgresStore) InsertTrajectory(ctx context.Context, t Trajectory) (Trajectory, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	var convID any
	if t.ConversationID != "" {
		convID = t.ConversationID
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO trajectories (id, account_id, conversation_id, input_text, input_hash, summary, started_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULL)
RETURNING `+trajectoryColumns, t.ID, t.AccountID, convID, t.InputText, t.InputHash, t.Summary, t.StartedAt)
	return scanTrajectory(row)
}

func (s *PostgresStore) GetTrajectory(ctx context.Context, id string) (Trajectory, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+trajectoryColumns+` FROM trajectories WHERE id = $1`, id)
	return scanTrajectory(row)
}

func (s *PostgresStore) UpdateTrajectory(ctx context.Context, id string, patch TrajectoryPatch) (Trajectory, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE trajectories SET
    summary = CASE WHEN $2 THEN $3 ELSE summary END,
    completed_at = CASE WHEN $4 THEN $5::timestamptz ELSE completed_at END
WHERE id = $1
RETURNING `+trajectoryColumns,
		id, patch.SetSummary, patch.Summary, patch.SetCompletedAt, patch.CompletedAt)
	return scanTrajectory(row)
}

func (s *PostgresStore) ListTrajectoriesByAccount(ctx context.Context, accountID string, limit int) ([]Trajectory, error) {
	query := `SELECT ` + trajectoryColumns + ` FROM trajectories WHERE account_id = $1 ORDER BY started_at DESC`
	args := []any{accountID}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trajectory
	for rows.Next() {
		t, err := scanTrajectory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTrajectoriesByEntity(ctx context.Context, accountID, entityID string, limit int) ([]Trajectory, error) {
	query := `
SELECT DISTINCT t.id, t.account_id, t.conversation_id, t.input_text, t.input_hash, t.summary, t.started_at, t.completed_at
FROM trajectories t
JOIN events e ON e.trajectory_id = t.id
WHERE t.account_id = $1 AND e.entity_id = $2
ORDER BY t.started_at DESC`
	args := []any{accountID, entityID}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $3"
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trajectory
	for rows.Next() {
		t, err := scanTrajectory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e Event) (Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var entityID any
	if e.EntityID != "" {
		entityID = e.EntityID
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return Event{}, err
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO events (id, trajectory_id, sequence_num, timestamp, event_type, entity_id, data)
SELECT $1,$2,$3,$4,$5,$6,$7::jsonb
WHERE $3 = (SELECT COUNT(*) FROM events WHERE trajectory_id = $2)
RETURNING id`, e.ID, e.TrajectoryID, e.SequenceNum, e.Timestamp, e.EventType, entityID, string(data))
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrInvariant
		}
		return Event{}, err
	}
	return e, nil
}

func (s *PostgresStore) ListEventsByTrajectory(ctx context.Context, trajectoryID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, trajectory_id, sequence_num, timestamp, event_type, entity_id, data
FROM events WHERE trajectory_id = $1 ORDER BY sequence_num ASC`, trajectoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		var entityID *string
		var data []byte
		if err := rows.Scan(&ev.ID, &ev.TrajectoryID, &ev.SequenceNum, &ev.Timestamp, &ev.EventType, &entityID, &data); err != nil {
			return nil, err
		}
		if entityID != nil {
			ev.EntityID = *entityID
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListEntityIDsTouchedByAccount(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT e.entity_id
FROM events e
JOIN trajectories t ON t.id = e.trajectory_id
WHERE t.account_id = $1 AND e.entity_id IS NOT NULL`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AccountHasTouchedEntity(ctx context.Context, accountID, entityID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(
  SELECT 1 FROM events e
  JOIN trajectories t ON t.id = e.trajectory_id
  WHERE t.account_id = $1 AND e.entity_id = $2
)`, accountID, entityID).Scan(&exists)
	return exists, err
}

func scanEdge(row pgx.Row) (Edge, error) {
	var e Edge
	if err := row.Scan(&e.SourceID, &e.TargetID, &e.Weight, &e.TrajectoryCount, &e.ContributorCount,
		&e.RelationshipType, &e.PositiveOutcomes, &e.NegativeOutcomes, &e.MixedOutcomes, &e.FirstSeen, &e.LastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Edge{}, ErrNotFound
		}
		return Edge{}, err
	}
	return e, nil
}

const edgeColumns = `source_id, target_id, weight, trajectory_count, contributor_count, relationship_type, positive_outcomes, negative_outcomes, mixed_outcomes, first_seen, last_seen`

// UpsertEdge loads the row (or its zero value), runs mutate in Go, then
// writes the result back in a single statement. The lock taken by
// SELECT ... FOR UPDATE (inside a transaction) makes two concurrent
// upserts for the same pair serialize rather than lose an increment.
func (s *PostgresStore) UpsertEdge(ctx context.Context, sourceID, targetID string, relationshipType string, at time.Time, mutate EdgeMutator) (Edge, error) {
	if sourceID == targetID {
		return Edge{}, ErrInvariant
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Edge{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+edgeColumns+` FROM edges WHERE source_id = $1 AND target_id = $2 FOR UPDATE`, sourceID, targetID)
	e, err := scanEdge(row)
	if err != nil {
		if err != ErrNotFound {
			return Edge{}, err
		}
		e = Edge{SourceID: sourceID, TargetID: targetID, FirstSeen: at}
	}
	if relationshipType != "" {
		e.RelationshipType = relationshipType
	}
	e.LastSeen = at
	mutate(&e)

	row = tx.QueryRow(ctx, `
INSERT INTO edges (`+edgeColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (source_id, target_id) DO UPDATE SET
    weight = EXCLUDED.weight,
    trajectory_count = EXCLUDED.trajectory_count,
    contributor_count = EXCLUDED.contributor_count,
    relationship_type = EXCLUDED.relationship_type,
    positive_outcomes = EXCLUDED.positive_outcomes,
    negative_outcomes = EXCLUDED.negative_outcomes,
    mixed_outcomes = EXCLUDED.mixed_outcomes,
    last_seen = EXCLUDED.last_seen
RETURNING `+edgeColumns,
		e.SourceID, e.TargetID, e.Weight, e.TrajectoryCount, e.ContributorCount, e.RelationshipType,
		e.PositiveOutcomes, e.NegativeOutcomes, e.MixedOutcomes, e.FirstSeen, e.LastSeen)
	result, err := scanEdge(row)
	if err != nil {
		return Edge{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Edge{}, err
	}
	return result, nil
}

func (s *PostgresStore) GetEdge(ctx context.Context, sourceID, targetID string) (Edge, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+edgeColumns+` FROM edges WHERE source_id = $1 AND target_id = $2`, sourceID, targetID)
	return scanEdge(row)
}

func (s *PostgresStore) EdgesFrom(ctx context.Context, sourceID string) ([]Edge, error) {
	return s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges WHERE source_id = $1 ORDER BY weight DESC, source_id ASC, target_id ASC`, sourceID)
}

func (s *PostgresStore) EdgesTo(ctx context.Context, targetID string) ([]Edge, error) {
	return s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges WHERE target_id = $1 ORDER BY weight DESC, source_id ASC, target_id ASC`, targetID)
}

func (s *PostgresStore) EdgesAmong(ctx context.Context, ids []string, minWeight int64) ([]Edge, error) {
	return s.queryEdges(ctx, `
SELECT `+edgeColumns+` FROM edges
WHERE source_id = ANY($1) AND target_id = ANY($1) AND weight >= $2
ORDER BY weight DESC, source_id ASC, target_id ASC`, ids, minWeight)
}

func (s *PostgresStore) queryEdges(ctx context.Context, query string, args ...any) ([]Edge, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanCooccurrence(row pgx.Row) (Cooccurrence, error) {
	var c Cooccurrence
	if err := row.Scan(&c.EntityA, &c.EntityB, &c.Count, &c.WindowCount, &c.TrajectoryCount, &c.ContributorCount, &c.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cooccurrence{}, ErrNotFound
		}
		return Cooccurrence{}, err
	}
	return c, nil
}

const cooccurrenceColumns = `entity_a, entity_b, count, window_count, trajectory_count, contributor_count, last_updated`

func (s *PostgresStore) UpsertCooccurrence(ctx context.Context, a, b string, mutate CooccurrenceMutator) (Cooccurrence, error) {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Cooccurrence{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+cooccurrenceColumns+` FROM cooccurrences WHERE entity_a = $1 AND entity_b = $2 FOR UPDATE`, lo, hi)
	c, err := scanCooccurrence(row)
	if err != nil {
		if err != ErrNotFound {
			return Cooccurrence{}, err
		}
		c = Cooccurrence{EntityA: lo, EntityB: hi}
	}
	mutate(&c)

	row = tx.QueryRow(ctx, `
INSERT INTO cooccurrences (`+cooccurrenceColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (entity_a, entity_b) DO UPDATE SET
    count = EXCLUDED.count,
    window_count = EXCLUDED.window_count,
    trajectory_count = EXCLUDED.trajectory_count,
    contributor_count = EXCLUDED.contributor_count,
    last_updated = EXCLUDED.last_updated
RETURNING `+cooccurrenceColumns,
		c.EntityA, c.EntityB, c.Count, c.WindowCount, c.TrajectoryCount, c.ContributorCount, c.LastUpdated)
	result, err := scanCooccurrence(row)
	if err != nil {
		return Cooccurrence{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Cooccurrence{}, err
	}
	return result, nil
}

func (s *PostgresStore) CooccurrencesInvolving(ctx context.Context, ids []string, limit int) ([]Cooccurrence, error) {
	query := `
SELECT ` + cooccurrenceColumns + ` FROM cooccurrences
WHERE entity_a = ANY($1) OR entity_b = ANY($1)
ORDER BY count DESC, entity_a ASC, entity_b ASC`
	args := []any{ids}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Cooccurrence
	for rows.Next() {
		c, err := scanCooccurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO conversations (id, account_id, title, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, account_id, title, created_at, updated_at`, c.ID, c.AccountID, c.Title, c.CreatedAt, c.UpdatedAt)
	var out Conversation
	if err := row.Scan(&out.ID, &out.AccountID, &out.Title, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, account_id, title, created_at, updated_at FROM conversations WHERE id = $1`, id)
	var out Conversation
	if err := row.Scan(&out.ID, &out.AccountID, &out.Title, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListConversationsByAccount(ctx context.Context, accountID string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, account_id, title, created_at, updated_at FROM conversations
WHERE account_id = $1 ORDER BY updated_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	var trajectoryID any
	if m.TrajectoryID != "" {
		trajectoryID = m.TrajectoryID
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO messages (id, conversation_id, role, content, trajectory_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id, conversation_id, role, content, trajectory_id, created_at`,
		m.ID, m.ConversationID, m.Role, m.Content, trajectoryID, m.CreatedAt)
	var out Message
	var tID *string
	if err := row.Scan(&out.ID, &out.ConversationID, &out.Role, &out.Content, &tID, &out.CreatedAt); err != nil {
		return Message{}, err
	}
	if tID != nil {
		out.TrajectoryID = *tID
	}
	return out, nil
}

func (s *PostgresStore) ListMessagesByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, role, content, trajectory_id, created_at FROM messages
WHERE conversation_id = $1 ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var tID *string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &tID, &m.CreatedAt); err != nil {
			return nil, err
		}
		if tID != nil {
			m.TrajectoryID = *tID
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
