package app

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	targetRateLimitKeyPrefix = "target_rate_limit:"
	targetRateLimitWindow    = 60 * time.Second
)

var targetWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if tonumber(count) >= tonumber(ARGV[2]) then
    return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return 1
`)

// TargetRateLimiter caps deliveries to a single target URL with a sliding
// one-minute window, so a fan-in of tasks cannot hammer one endpoint.
type TargetRateLimiter struct {
	rdb   *redis.Client
	limit int
}

func NewTargetRateLimiter(rdb *redis.Client, limit int) *TargetRateLimiter {
	return &TargetRateLimiter{rdb: rdb, limit: limit}
}

// Allow reports whether another delivery to targetURL may proceed now.
// Fails open: a limiter error never blocks delivery.
func (t *TargetRateLimiter) Allow(ctx context.Context, targetURL string) bool {
	if t.limit <= 0 {
		return true
	}

	sum := md5.Sum([]byte(targetURL))
	key := targetRateLimitKeyPrefix + hex.EncodeToString(sum[:])
	now := time.Now().Unix()
	windowSeconds := int64(targetRateLimitWindow.Seconds())

	result, err := targetWindowScript.Run(ctx, t.rdb,
		[]string{key},
		now-windowSeconds,
		t.limit,
		now,
		UuidToString(NewUuid()),
		windowSeconds*2,
	).Int64()
	if err != nil {
		slog.Warn("Error checking target rate limit", "error", err)
		return true
	}
	return result == 1
}
