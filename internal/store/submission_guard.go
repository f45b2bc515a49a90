package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultSubmissionGuardTTL = 30 * time.Second

// SubmissionGuard stops the same placement request from reaching the venue
// twice, e.g. a double click or a client retry with the same request id.
type SubmissionGuard interface {
	Acquire(ctx context.Context, key string, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string, owner string) error
}

func SubmissionKey(sessionID, requestID string) string {
	return fmt.Sprintf("submission:%s:%s", sessionID, requestID)
}

type RedisSubmissionGuard struct {
	client *redis.Client
}

func NewRedisSubmissionGuard(dsn string) (*RedisSubmissionGuard, error) {
	if dsn == "" {
		return nil, fmt.Errorf("redis submission_guard dsn is required")
	}

	options, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis submission_guard dsn: %w", err)
	}

	return &RedisSubmissionGuard{client: redis.NewClient(options)}, nil
}

func (g *RedisSubmissionGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisSubmissionGuard) Acquire(ctx context.Context, key string, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultSubmissionGuardTTL
	}

	acquired, err := g.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, err
	}

	return acquired, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

func (g *RedisSubmissionGuard) Release(ctx context.Context, key string, owner string) error {
	_, err := releaseScript.Run(ctx, g.client, []string{key}, owner).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	return nil
}

func (g *RedisSubmissionGuard) Close() error {
	return g.client.Close()
}

type memoryLock struct {
	owner     string
	expiresAt time.Time
}

// MemorySubmissionGuard is the single-process guard used when no redis is
// configured.
type MemorySubmissionGuard struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

func NewMemorySubmissionGuard() *MemorySubmissionGuard {
	return &MemorySubmissionGuard{
		locks: make(map[string]memoryLock),
		now:   time.Now,
	}
}

func (g *MemorySubmissionGuard) Acquire(_ context.Context, key string, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultSubmissionGuardTTL
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if lock, ok := g.locks[key]; ok && now.Before(lock.expiresAt) {
		return false, nil
	}

	// expired entries are swept lazily on acquire
	for k, lock := range g.locks {
		if !now.Before(lock.expiresAt) {
			delete(g.locks, k)
		}
	}

	g.locks[key] = memoryLock{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (g *MemorySubmissionGuard) Release(_ context.Context, key string, owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if lock, ok := g.locks[key]; ok && lock.owner == owner {
		delete(g.locks, key)
	}
	return nil
}
