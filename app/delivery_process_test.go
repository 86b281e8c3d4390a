package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweater-ventures/spigot/config"
	"github.com/sweater-ventures/spigot/db"
)

// Drop paths of ProcessDelivery that never reach the claim. The claim and
// transition paths need a real database and are covered by the e2e suite.

func newProcessFixture(t *testing.T, querier db.Querier) (*DeliveryWorker, *recordingEnqueuer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	queue := &recordingEnqueuer{}
	a := &Application{
		Config:        config.AppConfig{WebhookTimeoutSeconds: 1, TargetURLRateLimit: 1},
		DB:            querier,
		Queue:         queue,
		SubCache:      NewSubscriptionCache(client, querier, time.Hour),
		TargetLimiter: NewTargetRateLimiter(client, 1),
		Metrics:       NewMetrics(),
	}
	return NewDeliveryWorker(a), queue, mr
}

func TestProcessDelivery_MissingTaskIsDropped(t *testing.T) {
	querier := &stubQuerier{getDeliveryTask: func(ctx context.Context, id pgtype.UUID) (db.DeliveryTask, error) {
		return db.DeliveryTask{}, pgx.ErrNoRows
	}}
	worker, queue, _ := newProcessFixture(t, querier)

	err := worker.ProcessDelivery(context.Background(), NewUuid())
	assert.NoError(t, err)
	assert.Empty(t, queue.Calls())
}

func TestProcessDelivery_TerminalTaskIsDropped(t *testing.T) {
	for _, status := range []db.DeliveryTaskStatus{db.DeliveryTaskStatusCOMPLETED, db.DeliveryTaskStatusFAILED} {
		querier := &stubQuerier{getDeliveryTask: func(ctx context.Context, id pgtype.UUID) (db.DeliveryTask, error) {
			return db.DeliveryTask{ID: id, Status: status}, nil
		}}
		worker, queue, _ := newProcessFixture(t, querier)

		err := worker.ProcessDelivery(context.Background(), NewUuid())
		assert.NoError(t, err)
		assert.Empty(t, queue.Calls(), "status %s", status)
	}
}

func TestProcessDelivery_PrematureItemIsDropped(t *testing.T) {
	querier := &stubQuerier{getDeliveryTask: func(ctx context.Context, id pgtype.UUID) (db.DeliveryTask, error) {
		return db.DeliveryTask{
			ID:            id,
			Status:        db.DeliveryTaskStatusPENDING,
			NextAttemptAt: pgtype.Timestamptz{Time: time.Now().Add(time.Hour), Valid: true},
		}, nil
	}}
	worker, queue, _ := newProcessFixture(t, querier)

	err := worker.ProcessDelivery(context.Background(), NewUuid())
	assert.NoError(t, err)
	assert.Empty(t, queue.Calls())
}

func TestProcessDelivery_DeletedSubscriptionIsDropped(t *testing.T) {
	querier := &stubQuerier{
		getDeliveryTask: func(ctx context.Context, id pgtype.UUID) (db.DeliveryTask, error) {
			return db.DeliveryTask{ID: id, Status: db.DeliveryTaskStatusPENDING, SubscriptionID: NewUuid()}, nil
		},
		getSubscription: func(ctx context.Context, id pgtype.UUID) (db.Subscription, error) {
			return db.Subscription{}, pgx.ErrNoRows
		},
	}
	worker, queue, _ := newProcessFixture(t, querier)

	err := worker.ProcessDelivery(context.Background(), NewUuid())
	assert.NoError(t, err)
	assert.Empty(t, queue.Calls())
}

func TestProcessDelivery_SaturatedTargetDefersWithoutClaim(t *testing.T) {
	sub := newCachedTestSubscription()
	querier := &stubQuerier{
		getDeliveryTask: func(ctx context.Context, id pgtype.UUID) (db.DeliveryTask, error) {
			return db.DeliveryTask{ID: id, Status: db.DeliveryTaskStatusPENDING, SubscriptionID: sub.ID}, nil
		},
		getSubscription: func(ctx context.Context, id pgtype.UUID) (db.Subscription, error) {
			return sub, nil
		},
	}
	worker, queue, _ := newProcessFixture(t, querier)
	ctx := context.Background()

	// Saturate the one-delivery window for this target
	require.True(t, worker.app.TargetLimiter.Allow(ctx, sub.TargetUrl))

	taskID := NewUuid()
	err := worker.ProcessDelivery(ctx, taskID)
	assert.NoError(t, err)

	calls := queue.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, taskID, calls[0].taskID)
	assert.Greater(t, calls[0].delay, time.Duration(0))
}

func TestProcessDelivery_InfraErrorPropagates(t *testing.T) {
	querier := &stubQuerier{getDeliveryTask: func(ctx context.Context, id pgtype.UUID) (db.DeliveryTask, error) {
		return db.DeliveryTask{}, assert.AnError
	}}
	worker, _, _ := newProcessFixture(t, querier)

	err := worker.ProcessDelivery(context.Background(), NewUuid())
	assert.Error(t, err)
}
