package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore suppresses re-issuing an instruction whose fingerprint was
// already seen within the configured window.
type DedupStore interface {
	// MarkIfNew records the id and returns true if it was not already
	// present within the window.
	MarkIfNew(ctx context.Context, id string) (bool, error)
}

// MemoryDedup is the in-process dedup store.
type MemoryDedup struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewMemoryDedup creates a dedup store with the given window.
func NewMemoryDedup(window time.Duration) *MemoryDedup {
	return &MemoryDedup{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// MarkIfNew records the id, expiring stale entries as a side effect.
func (d *MemoryDedup) MarkIfNew(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}

	if _, ok := d.seen[id]; ok {
		return false, nil
	}
	d.seen[id] = now.Add(d.window)
	return true, nil
}

// Redis key prefix for instruction fingerprints.
const dedupKeyPrefix = "smc:instruction_fp"

// RedisDedup persists fingerprints in redis so a decision-side restart
// within the window cannot duplicate an instruction.
type RedisDedup struct {
	client *redis.Client
	window time.Duration
}

// NewRedisDedup creates a redis-backed dedup store.
func NewRedisDedup(client *redis.Client, window time.Duration) *RedisDedup {
	return &RedisDedup{client: client, window: window}
}

// MarkIfNew uses SETNX with the window as TTL.
func (d *RedisDedup) MarkIfNew(ctx context.Context, id string) (bool, error) {
	key := fmt.Sprintf("%s:%s", dedupKeyPrefix, id)
	ok, err := d.client.SetNX(ctx, key, 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("mark fingerprint: %w", err)
	}
	return ok, nil
}
