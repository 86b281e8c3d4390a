package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sweater-ventures/spigot/app"
	"github.com/sweater-ventures/spigot/config"
	"github.com/sweater-ventures/spigot/db"
)

// NewUUID returns a pgtype.UUID with a new random UUID.
func NewUUID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true}
}

// NewTimestamp returns a pgtype.Timestamptz set to now.
func NewTimestamp() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
}

// SubscriptionOpt is a functional option for building test Subscriptions.
type SubscriptionOpt func(*db.Subscription)

// NewSubscription creates a db.Subscription with sensible defaults.
func NewSubscription(opts ...SubscriptionOpt) db.Subscription {
	s := db.Subscription{
		ID:        NewUUID(),
		TargetUrl: "https://example.com/webhook",
		CreatedAt: NewTimestamp(),
		UpdatedAt: NewTimestamp(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// DeliveryTaskOpt is a functional option for building test DeliveryTasks.
type DeliveryTaskOpt func(*db.DeliveryTask)

// NewDeliveryTask creates a db.DeliveryTask with sensible defaults.
func NewDeliveryTask(opts ...DeliveryTaskOpt) db.DeliveryTask {
	t := db.DeliveryTask{
		ID:             NewUUID(),
		SubscriptionID: NewUUID(),
		Payload:        json.RawMessage(`{"key":"value"}`),
		Status:         db.DeliveryTaskStatusPENDING,
		AttemptCount:   0,
		MaxRetries:     5,
		CreatedAt:      NewTimestamp(),
		UpdatedAt:      NewTimestamp(),
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// DeliveryLogOpt is a functional option for building test DeliveryLogs.
type DeliveryLogOpt func(*db.DeliveryLog)

// NewDeliveryLog creates a db.DeliveryLog with sensible defaults.
func NewDeliveryLog(opts ...DeliveryLogOpt) db.DeliveryLog {
	l := db.DeliveryLog{
		ID:             NewUUID(),
		DeliveryTaskID: NewUUID(),
		SubscriptionID: NewUUID(),
		TargetUrl:      "https://example.com/webhook",
		AttemptNumber:  1,
		Status:         db.DeliveryLogStatusSUCCESS,
		CreatedAt:      NewTimestamp(),
	}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// AppOpt is a functional option for building test Applications.
type AppOpt func(*app.Application)

// NewTestApp creates an app.Application suitable for testing.
// It uses the provided mock Querier, a recording enqueuer, and sensible
// config defaults. No database pool or redis client is attached; tests that
// exercise those paths set them via options.
func NewTestApp(mockDB *MockQuerier, opts ...AppOpt) *app.Application {
	a := &app.Application{
		Config: config.AppConfig{
			Port:                     8010,
			WebhookTimeoutSeconds:    10,
			WebhookMaxRetries:        5,
			WebhookRetryDelays:       "10,30,60,300,900",
			MaxWebhookPayloadSize:    1024 * 1024,
			VerifySSLCertificates:    true,
			TargetURLRateLimit:       10,
			LogRetentionHours:        72,
			FailedTaskRetentionDays:  7,
			RateLimitEnabled:         true,
			RateLimitStrategy:        "fixed-window",
			RateLimitDefaultLimit:    100,
			RateLimitDefaultWindow:   60,
			SubscriptionCreateLimit:  5,
			SubscriptionCreateWindow: 60,
			DeliveryWorkers:          2,
			PollIntervalSeconds:      30,
			PollBatchSize:            100,
			CacheTTLSeconds:          3600,
		},
		DB:      mockDB,
		Queue:   NewFakeEnqueuer(),
		Metrics: app.NewMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}
