package pck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NameLock serializes FindOrCreateEntity across concurrent trajectories for
// the same normalizedName, so at most one entity row is ever created per
// name — option (b) of the concurrency model (a unique index with
// insert-on-conflict-return is option (a); PostgresStore's unique index
// keeps one row per name, but a racing insert there fails with ErrInvariant
// instead of returning the existing row, so TrajectoryEngine takes a
// NameLock for every store).
type NameLock interface {
	// Lock blocks until the named lock is held or ctx is done, returning a
	// release function that must be called to free it.
	Lock(ctx context.Context, name string) (release func(), err error)
}

// LocalNameLock is an in-process NameLock sharded by a fixed number of
// stripes, so unrelated names rarely contend. Used when no Redis address is
// configured — the engine runs standalone without external services.
type LocalNameLock struct {
	stripes []sync.Mutex
}

// NewLocalNameLock returns a LocalNameLock with a fixed stripe count.
func NewLocalNameLock() *LocalNameLock {
	return &LocalNameLock{stripes: make([]sync.Mutex, 256)}
}

func (l *LocalNameLock) Lock(ctx context.Context, name string) (func(), error) {
	i := fnv32aIndex(name, len(l.stripes))
	l.stripes[i].Lock()
	return func() { l.stripes[i].Unlock() }, nil
}

func fnv32aIndex(name string, n int) int {
	return int(inputHash(name)) % n
}

// RedisNameLock is a short-lived per-name lock backed by Redis SET NX PX,
// for deployments running multiple engine processes against one Postgres
// store. Grounded on the orchestrator package's Redis-backed dedupe store:
// same ping-on-construct, same "addr" constructor shape.
type RedisNameLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisNameLock connects to addr and validates the connection with a
// ping before returning.
func NewRedisNameLock(addr string, ttl time.Duration) (*RedisNameLock, error) {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisNameLock{client: c, ttl: ttl}, nil
}

// Lock polls SET NX PX until it acquires the lock or ctx is done.
func (l *RedisNameLock) Lock(ctx context.Context, name string) (func(), error) {
	key := "pck:namelock:" + name
	token := uuid.NewString()
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("namelock acquire %q: %w", name, err)
		}
		if ok {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				// Only clear the key if we still own it.
				cur, _ := l.client.Get(releaseCtx, key).Result()
				if cur == token {
					_ = l.client.Del(releaseCtx, key).Err()
				}
			}
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close closes the underlying Redis client.
func (l *RedisNameLock) Close() error {
	return l.client.Close()
}
