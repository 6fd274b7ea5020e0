// Command pckd wires the trajectory-and-graph engine together and proves it
// boots against real configuration. It does not serve HTTP or SSE — that
// transport lives elsewhere — it only loads config, opens a store, and
// constructs an Engine.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"pckengine/internal/config"
	"pckengine/internal/llmclient"
	"pckengine/internal/observability"
	"pckengine/internal/pck"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("pckd")
	}
}

// Engine bundles the components a caller needs to drive a conversation
// through the graph: parse tags, advance a trajectory, reason over the
// graph, and answer ad-hoc queries.
type Engine struct {
	Store        pck.Store
	Trajectories *pck.TrajectoryEngine
	Reasoner     *pck.GraphReasoner
	Orchestrator *pck.AgentOrchestrator
	Query        *pck.GraphQuery
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger("", cfg.LogLevel)

	baseCtx := context.Background()
	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := newStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer closeStore()

	llm := newLLMClient(cfg.OpenAI)

	publisher, err := pck.NewKafkaTrajectoryPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return fmt.Errorf("init kafka trajectory publisher: %w", err)
	}
	defer publisher.Close()

	similarIndex, err := newSimilarTrajectoryIndex(cfg, llm)
	if err != nil {
		log.Warn().Err(err).Msg("similar trajectory index unavailable, continuing without it")
		similarIndex = nil
	}
	defer similarIndex.Close()

	var nameLock pck.NameLock = pck.NewLocalNameLock()
	if cfg.Redis.Addr != "" {
		redisLock, err := pck.NewRedisNameLock(cfg.Redis.Addr, 0)
		if err != nil {
			log.Warn().Err(err).Msg("redis name lock unavailable, using in-process lock")
		} else {
			defer func() { _ = redisLock.Close() }()
			nameLock = redisLock
		}
	}
	trajectories := pck.NewTrajectoryEngine(store, nameLock)
	reasoner := pck.NewGraphReasoner(store)
	orchestrator := pck.NewAgentOrchestrator(store, trajectories, reasoner, llm).
		WithTrajectoryPublisher(publisher).
		WithSimilarTrajectoryIndex(similarIndex)
	query := pck.NewGraphQuery(store)

	engine := &Engine{
		Store:        store,
		Trajectories: trajectories,
		Reasoner:     reasoner,
		Orchestrator: orchestrator,
		Query:        query,
	}
	_ = engine

	log.Info().
		Bool("postgres", cfg.Postgres.DSN != "").
		Bool("openai", cfg.OpenAI.APIKey != "").
		Bool("kafka", publisher != nil).
		Bool("qdrant", similarIndex != nil).
		Msg("pckd engine ready")

	<-ctx.Done()
	log.Info().Msg("pckd shutting down")
	return nil
}

// newStore opens a PostgresStore when a DSN is configured, otherwise falls
// back to an in-process MemoryStore. This mirrors databases.Manager's
// backend-selection factory: "auto" behavior that prefers Postgres but
// degrades gracefully to a memory backend rather than refusing to start.
func newStore(ctx context.Context, dsn string) (pck.Store, func(), error) {
	if dsn == "" {
		store := pck.NewMemoryStore()
		return store, func() {}, nil
	}

	pool, err := newPgPool(ctx, dsn)
	if err != nil {
		log.Warn().Err(err).Msg("postgres unavailable, falling back to in-memory store")
		store := pck.NewMemoryStore()
		return store, func() {}, nil
	}

	store := pck.NewPostgresStore(pool)
	if err := store.Init(ctx); err != nil {
		pool.Close()
		return nil, func() {}, fmt.Errorf("init schema: %w", err)
	}
	return store, store.Close, nil
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = 8
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// newLLMClient picks the one concrete provider the engine knows about when
// an API key is configured, and a deterministic mock otherwise so the
// engine is runnable with zero external dependencies.
func newLLMClient(cfg config.OpenAIConfig) llmclient.Client {
	if cfg.APIKey == "" {
		return llmclient.NewMockClient()
	}
	return llmclient.NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
}

// newSimilarTrajectoryIndex builds the optional Qdrant-backed index, reusing
// llm as the embedder since both concrete Client implementations also
// satisfy llmclient.Embedder. Returns (nil, nil) when no Qdrant address is
// configured.
func newSimilarTrajectoryIndex(cfg config.Config, llm llmclient.Client) (*pck.SimilarTrajectoryIndex, error) {
	embedder, ok := llm.(llmclient.Embedder)
	if !ok {
		return nil, nil
	}
	return pck.NewSimilarTrajectoryIndex(cfg.Qdrant.Addr, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions, embedder)
}
