package app

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimitStrategyFixed and RateLimitStrategySliding are the recognized
// values for the rate-limit strategy option.
const (
	RateLimitStrategyFixed   = "fixed-window"
	RateLimitStrategySliding = "sliding-window"
)

// fixedWindowScript atomically checks and increments the counter for the
// current window. A two-step get-then-incr would race between replicas.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('HGET', KEYS[1], ARGV[1])
count = count or 0
if tonumber(count) >= tonumber(ARGV[2]) then
    return {0, count}
end
count = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {1, count}
`)

// slidingWindowScript trims the sorted set to the window, rejects when full,
// and otherwise records the request. Returns the oldest entry's score so the
// caller can derive Retry-After.
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if tonumber(count) >= tonumber(ARGV[2]) then
    local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
    if oldest and #oldest > 0 then
        return {0, count, oldest[2]}
    else
        return {0, count, 0}
    end
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return {1, count + 1, 0}
`)

// LimitDecision is the outcome of a rate-limit check.
type LimitDecision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	Reset      int // seconds until the window rolls over
	RetryAfter int // seconds to wait when rejected
}

// RateLimiter implements fixed- and sliding-window limits over the shared KV.
// Check-and-increment is a single server-evaluated script in both strategies.
type RateLimiter struct {
	rdb      *redis.Client
	strategy string
	limit    int
	window   int
}

func NewRateLimiter(rdb *redis.Client, strategy string, limit, window int) *RateLimiter {
	if strategy != RateLimitStrategySliding {
		strategy = RateLimitStrategyFixed
	}
	return &RateLimiter{rdb: rdb, strategy: strategy, limit: limit, window: window}
}

// RouteKey returns the per-endpoint component of a rate-limit key.
func RouteKey(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])[:8]
}

// Allow checks the default limit for a client on a route. On any limiter
// error the request must be allowed; the error is returned so the caller can
// mark the response as unprotected.
func (rl *RateLimiter) Allow(ctx context.Context, client, route, requestID string) (LimitDecision, error) {
	key := rateLimitKeyPrefix + client + ":" + route
	return rl.check(ctx, key, rl.limit, rl.window, requestID)
}

// AllowCustom checks a caller-supplied limit and window under a dedicated
// key, for endpoints with stricter budgets than the middleware default.
func (rl *RateLimiter) AllowCustom(ctx context.Context, key string, limit, window int, requestID string) (LimitDecision, error) {
	return rl.check(ctx, rateLimitKeyPrefix+key, limit, window, requestID)
}

func (rl *RateLimiter) check(ctx context.Context, key string, limit, window int, requestID string) (LimitDecision, error) {
	now := time.Now().Unix()
	decision := LimitDecision{Limit: limit}

	switch rl.strategy {
	case RateLimitStrategySliding:
		windowStart := now - int64(window)
		result, err := slidingWindowScript.Run(ctx, rl.rdb,
			[]string{key},
			windowStart,
			limit,
			now,
			// Unique member per call, so repeated request ids are each counted
			fmt.Sprintf("%s:%d:%s", requestID, now, UuidToString(NewUuid())),
			window*2,
		).Slice()
		if err != nil || len(result) < 3 {
			return decision, fmt.Errorf("sliding window check: %w", err)
		}
		decision.Allowed = toInt64(result[0]) == 1
		decision.Count = toInt64(result[1])
		decision.Reset = window
		if !decision.Allowed {
			decision.RetryAfter = 1
			if oldest := toInt64(result[2]); oldest > 0 {
				if wait := oldest + int64(window) - now; wait > 1 {
					decision.RetryAfter = int(wait)
				}
			}
		}
	default:
		windowStart := now - (now % int64(window))
		result, err := fixedWindowScript.Run(ctx, rl.rdb,
			[]string{key},
			windowStart,
			limit,
			window*2,
		).Slice()
		if err != nil || len(result) < 2 {
			return decision, fmt.Errorf("fixed window check: %w", err)
		}
		decision.Allowed = toInt64(result[0]) == 1
		decision.Count = toInt64(result[1])
		decision.Reset = window - int(now%int64(window))
		if !decision.Allowed {
			decision.RetryAfter = decision.Reset
		}
	}

	decision.Remaining = limit - int(decision.Count)
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	return decision, nil
}

// toInt64 normalizes script return values, which arrive as int64 for numbers
// but as strings when relayed from HGET.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		var parsed int64
		fmt.Sscanf(n, "%d", &parsed)
		return parsed
	default:
		return 0
	}
}
