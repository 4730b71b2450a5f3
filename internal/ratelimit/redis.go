package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the limiter contract the gateway depends on. Both the
// in-process Limiter and RedisLimiter satisfy it.
type Backend interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reconfigure(capacity int, per time.Duration)
}

// Local adapts Limiter to Backend.
type Local struct {
	*Limiter
}

func (l Local) Allow(_ context.Context, key string) (bool, error) {
	return l.Limiter.Allow(key), nil
}

// fixedWindow increments the window counter and sets its expiry on the
// first hit, in one round trip.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter shares fixed windows across gateway replicas. Window keys
// are aligned to multiples of the window length so every replica counts
// into the same bucket.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time

	mu       sync.RWMutex
	capacity int
	window   time.Duration
}

type RedisOption func(*RedisLimiter)

func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) { l.now = now }
}

func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) { l.prefix = prefix }
}

func NewRedis(client *redis.Client, capacity int, per time.Duration, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client:   client,
		prefix:   "steward:rl:",
		now:      time.Now,
		capacity: capacity,
		window:   per,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLimiter) Reconfigure(capacity int, per time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.capacity = capacity
	l.window = per
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.RLock()
	capacity, window := l.capacity, l.window
	l.mu.RUnlock()
	if window <= 0 {
		return false, fmt.Errorf("rate window must be positive")
	}

	bucket := l.now().UnixMilli() / window.Milliseconds()
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, bucket)
	n, err := fixedWindow.Run(ctx, l.client, []string{redisKey}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate counter %s: %w", key, err)
	}
	return n <= int64(capacity), nil
}
