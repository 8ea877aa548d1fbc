package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow checks if a request with the given key is allowed.
	// A rejected request is not counted against the key.
	Allow(ctx context.Context, key string) (bool, error)

	// Reset resets the rate limit counter for the given key.
	Reset(ctx context.Context, key string) error
}

// Clock returns the current time. Tests replace it to move time deterministically.
type Clock func() time.Time

// MemoryRateLimiter implements a per-key sliding window over in-memory timestamps.
// State is lost on restart.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	now    Clock
	store  sync.Map

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// rateLimitEntry stores rate limit data for a single key.
type rateLimitEntry struct {
	mu        sync.Mutex
	requests  []time.Time
	lastCheck time.Time
}

// MemoryOption configures a MemoryRateLimiter.
type MemoryOption func(*MemoryRateLimiter)

// WithClock replaces the time source.
func WithClock(now Clock) MemoryOption {
	return func(m *MemoryRateLimiter) {
		m.now = now
	}
}

// NewMemoryRateLimiter creates a new memory-based rate limiter and starts its janitor.
func NewMemoryRateLimiter(limit int, window time.Duration, opts ...MemoryOption) *MemoryRateLimiter {
	m := &MemoryRateLimiter{
		limit:       limit,
		window:      window,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.cleanupExpiredEntries()
	return m
}

// Allow prunes timestamps older than the window, then admits and records the
// request only if fewer than limit remain.
func (m *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()

	value, _ := m.store.LoadOrStore(key, &rateLimitEntry{
		requests: make([]time.Time, 0, m.limit),
	})
	entry := value.(*rateLimitEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.lastCheck = now
	entry.requests = pruneBefore(entry.requests, now.Add(-m.window))

	if len(entry.requests) >= m.limit {
		return false, nil
	}
	entry.requests = append(entry.requests, now)
	return true, nil
}

// Count returns the number of requests currently recorded for key.
func (m *MemoryRateLimiter) Count(key string) int {
	value, ok := m.store.Load(key)
	if !ok {
		return 0
	}
	entry := value.(*rateLimitEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(pruneBefore(entry.requests, m.now().Add(-m.window)))
}

// Reset resets the rate limit counter for the given key.
func (m *MemoryRateLimiter) Reset(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

// Stop stops the cleanup goroutine.
func (m *MemoryRateLimiter) Stop() {
	m.cleanupOnce.Do(func() {
		close(m.stopCleanup)
	})
}

func (m *MemoryRateLimiter) cleanupExpiredEntries() {
	ticker := time.NewTicker(m.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

// performCleanup drops keys that have not been seen for two windows.
func (m *MemoryRateLimiter) performCleanup() {
	threshold := m.now().Add(-2 * m.window)

	m.store.Range(func(key, value interface{}) bool {
		entry := value.(*rateLimitEntry)
		entry.mu.Lock()
		stale := entry.lastCheck.Before(threshold)
		entry.mu.Unlock()

		if stale {
			m.store.Delete(key)
		}
		return true
	})
}

// pruneBefore drops every timestamp at or before cutoff. Timestamps are in
// insertion order, so the survivors are a suffix.
func pruneBefore(requests []time.Time, cutoff time.Time) []time.Time {
	for i, t := range requests {
		if t.After(cutoff) {
			return requests[i:]
		}
	}
	return requests[:0]
}

// slidingWindowScript prunes, counts and conditionally records in one round trip.
// Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
	return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisRateLimiter implements the same sliding window on a Redis sorted set,
// so the quota is shared between replicas and survives restarts.
type RedisRateLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	now    Clock
}

// NewRedisRateLimiter creates a new Redis-based rate limiter.
func NewRedisRateLimiter(client redis.Cmdable, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
		now:    time.Now,
	}
}

// Allow checks if a request with the given key is allowed using Redis.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now()
	allowed, err := slidingWindowScript.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixMilli(),
		r.window.Milliseconds(),
		r.limit,
		ulid.Make().String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limit script: %w", err)
	}
	return allowed == 1, nil
}

// Reset resets the rate limit counter for the given key in Redis.
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
