package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DailyCounter tracks executed-instruction count per broker-local trading
// day. The counter is the only mutable state shared between instrument
// workers, so every implementation must be safe for concurrent use.
type DailyCounter interface {
	// Increment bumps today's count and returns the new value.
	Increment(ctx context.Context) (int, error)
	// Count returns today's count without modifying it.
	Count(ctx context.Context) (int, error)
}

// dayKey formats the broker-local date used as the counter bucket. The
// reset timezone is explicit configuration, not an assumption.
func dayKey(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("20060102")
}

// MemoryCounter is the in-process counter used when redis is not configured.
type MemoryCounter struct {
	mu       sync.Mutex
	loc      *time.Location
	key      string
	count    int
	now      func() time.Time
}

// NewMemoryCounter creates a counter resetting at day boundary in loc.
func NewMemoryCounter(loc *time.Location) *MemoryCounter {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryCounter{loc: loc, now: time.Now}
}

// Increment bumps today's count, resetting first if the day rolled over.
func (c *MemoryCounter) Increment(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	c.count++
	return c.count, nil
}

// Count returns today's count.
func (c *MemoryCounter) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	return c.count, nil
}

// rollover resets the count when the broker-local day changes.
// Caller must hold c.mu.
func (c *MemoryCounter) rollover() {
	key := dayKey(c.now(), c.loc)
	if key != c.key {
		c.key = key
		c.count = 0
	}
}

// Redis key prefix for the daily counter.
const dailyCounterKeyPrefix = "smc:daily_trades"

// RedisCounter persists the daily count in redis so restarts cannot bypass
// the max-daily-trades limit. Keys expire two days after creation.
type RedisCounter struct {
	client *redis.Client
	loc    *time.Location
	now    func() time.Time
}

// NewRedisCounter creates a redis-backed daily counter.
func NewRedisCounter(client *redis.Client, loc *time.Location) *RedisCounter {
	if loc == nil {
		loc = time.UTC
	}
	return &RedisCounter{client: client, loc: loc, now: time.Now}
}

func (c *RedisCounter) key() string {
	return fmt.Sprintf("%s:%s", dailyCounterKeyPrefix, dayKey(c.now(), c.loc))
}

// Increment bumps today's count atomically.
func (c *RedisCounter) Increment(ctx context.Context) (int, error) {
	key := c.key()
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment daily counter: %w", err)
	}
	if n == 1 {
		c.client.Expire(ctx, key, 48*time.Hour)
	}
	return int(n), nil
}

// Count returns today's count; a missing key means zero.
func (c *RedisCounter) Count(ctx context.Context) (int, error) {
	n, err := c.client.Get(ctx, c.key()).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily counter: %w", err)
	}
	return n, nil
}
