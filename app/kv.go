package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/sweater-ventures/spigot/config"
)

// redisTimeout bounds every socket operation against the shared KV. The cache
// and rate-limit paths fail open, so a hung Redis must not stall requests.
const redisTimeout = 2 * time.Second

func connectToRedis(config *config.AppConfig) *redis.Client {
	addr := fmt.Sprintf("%s:%d", config.RedisHost, config.RedisPort)
	slog.Info("Redis client configured",
		slog.String("addr", addr),
		slog.Int("db", config.RedisDB),
	)
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           config.RedisDB,
		Password:     config.RedisPassword,
		DialTimeout:  redisTimeout,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	})
}

// AsynqRedisOpt builds the broker connection options for both the enqueue
// client and the worker server.
func AsynqRedisOpt(config *config.AppConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         fmt.Sprintf("%s:%d", config.RedisHost, config.RedisPort),
		DB:           config.RedisDB,
		Password:     config.RedisPassword,
		DialTimeout:  redisTimeout,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	}
}
