package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript runs the token bucket atomically in Redis so all
// workers pulling the same upstream share one budget.
// KEYS[1] = bucket key ("ratelimit:{service}")
// ARGV[1] = refill rate (tokens/second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, fractional)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 3600)

return allowed
`)

// SharedLimiter coordinates rate limits across worker processes via a
// Redis token bucket per service.
type SharedLimiter struct {
	client *redis.Client
}

// NewSharedLimiter connects a shared limiter to Redis.
func NewSharedLimiter(addr, password string, db int) *SharedLimiter {
	return &SharedLimiter{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// For binds the shared bucket for one service at the given rate.
func (s *SharedLimiter) For(service string, sr ServiceRate) Limiter {
	return &sharedServiceLimiter{
		client:   s.client,
		key:      fmt.Sprintf("ratelimit:%s", service),
		rate:     sr.PerSecond,
		capacity: sr.Burst,
	}
}

type sharedServiceLimiter struct {
	client   *redis.Client
	key      string
	rate     float64
	capacity int
}

// Wait blocks until the shared bucket grants a token. Polling interval
// approximates the refill period so waiters wake when a token exists.
func (l *sharedServiceLimiter) Wait(ctx context.Context) error {
	interval := time.Second
	if l.rate > 0 {
		interval = time.Duration(float64(time.Second) / l.rate)
		if interval > 5*time.Second {
			interval = 5 * time.Second
		}
		if interval < 50*time.Millisecond {
			interval = 50 * time.Millisecond
		}
	}
	for {
		now := float64(time.Now().UnixMicro()) / 1e6
		res, err := tokenBucketScript.Run(ctx, l.client, []string{l.key},
			l.rate, l.capacity, 1, now).Int64()
		if err != nil {
			return fmt.Errorf("shared limiter: %w", err)
		}
		if res == 1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
