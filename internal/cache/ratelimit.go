package cache

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitAPIPrefix = keyspace + "ratelimit:apikey:"
	rateLimitAPITTL    = 120 * time.Second
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// tokenBucketScript refills and consumes one token atomically.
// KEYS[1] bucket; ARGV rate (tokens/s), burst, now (s, fractional), ttl (s).
// Returns {allowed, retry_after_ms, remaining}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1]) or burst
local ts = tonumber(data[2]) or now

tokens = math.min(burst, tokens + math.max(0, now - ts) * rate)

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	retry_ms = math.ceil((1 - tokens) / rate * 1000)
end

redis.call('HSET', key, 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', key, ttl)

return {allowed, retry_ms, math.floor(tokens)}
`)

// CheckAPIRateLimit consumes one request from an API key's bucket.
// ratePerMinute 0 means unlimited.
func (c *Cache) CheckAPIRateLimit(ctx context.Context, keyID string, ratePerMinute, burst int) (*RateLimitResult, error) {
	now := time.Now()
	if ratePerMinute == 0 {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: int64(burst),
			ResetAt:   now.Add(time.Minute),
		}, nil
	}

	rate := float64(ratePerMinute) / 60.0
	nowSec := float64(now.UnixMilli()) / 1000.0

	res, err := tokenBucketScript.Run(ctx, c.client,
		[]string{rateLimitAPIPrefix + keyID},
		rate, burst, nowSec, int(rateLimitAPITTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}

	remaining := res[2]
	// The bucket is full again once the missing tokens have refilled.
	refill := time.Duration(math.Ceil(float64(int64(burst)-remaining)/rate)) * time.Second

	return &RateLimitResult{
		Allowed:    res[0] == 1,
		Remaining:  remaining,
		ResetAt:    now.Add(refill),
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
	}, nil
}
