package app

import (
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sweater-ventures/spigot/config"
	"github.com/sweater-ventures/spigot/db"
)

type Application struct {
	Config        config.AppConfig
	DB            db.Querier
	Pool          *pgxpool.Pool
	Redis         *redis.Client
	Queue         Enqueuer
	SubCache      *SubscriptionCache
	Limiter       *RateLimiter
	TargetLimiter *TargetRateLimiter
	Metrics       *Metrics

	asynqClient *asynq.Client
}

func NewApp(appConfig *config.AppConfig) (*Application, error) {
	pool, err := connectToDB(appConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return nil, err
	}
	queries := db.New(pool)

	rdb := connectToRedis(appConfig)
	asynqClient := asynq.NewClient(AsynqRedisOpt(appConfig))

	cacheTTL := time.Duration(appConfig.CacheTTLSeconds) * time.Second

	return &Application{
		Config:        *appConfig,
		DB:            queries,
		Pool:          pool,
		Redis:         rdb,
		Queue:         NewEnqueuer(asynqClient, appConfig.WebhookMaxRetries),
		SubCache:      NewSubscriptionCache(rdb, queries, cacheTTL),
		Limiter:       NewRateLimiter(rdb, appConfig.RateLimitStrategy, appConfig.RateLimitDefaultLimit, appConfig.RateLimitDefaultWindow),
		TargetLimiter: NewTargetRateLimiter(rdb, appConfig.TargetURLRateLimit),
		Metrics:       NewMetrics(),
		asynqClient:   asynqClient,
	}, nil
}

func (a *Application) Close() {
	if a.asynqClient != nil {
		if err := a.asynqClient.Close(); err != nil {
			slog.Error("Failed to close queue client", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Error("Failed to close redis client", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
