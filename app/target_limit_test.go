package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestTargetRateLimiter_AllowsUpToLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewTargetRateLimiter(client, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(ctx, "http://t/ok"), "delivery %d should be allowed", i+1)
	}
	assert.False(t, limiter.Allow(ctx, "http://t/ok"))

	// A different target has its own window
	assert.True(t, limiter.Allow(ctx, "http://t/other"))
}

func TestTargetRateLimiter_ZeroLimitDisables(t *testing.T) {
	limiter := NewTargetRateLimiter(nil, 0)
	assert.True(t, limiter.Allow(context.Background(), "http://t/ok"))
}

func TestTargetRateLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewTargetRateLimiter(client, 1)
	mr.Close()

	assert.True(t, limiter.Allow(context.Background(), "http://t/ok"))
}
