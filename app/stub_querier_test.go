package app

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sweater-ventures/spigot/db"
)

// stubQuerier overrides just the queries a test needs; anything else panics
// through the embedded nil interface.
type stubQuerier struct {
	db.Querier
	getSubscription   func(ctx context.Context, id pgtype.UUID) (db.Subscription, error)
	listDueTasks      func(ctx context.Context, arg db.ListDueDeliveryTasksParams) ([]db.DeliveryTask, error)
	deleteExpiredLogs func(ctx context.Context, createdAt pgtype.Timestamptz) (int64, error)
	deleteFailedTasks func(ctx context.Context, updatedAt pgtype.Timestamptz) (int64, error)
	getDeliveryTask   func(ctx context.Context, id pgtype.UUID) (db.DeliveryTask, error)
}

func (s *stubQuerier) GetSubscription(ctx context.Context, id pgtype.UUID) (db.Subscription, error) {
	return s.getSubscription(ctx, id)
}

func (s *stubQuerier) ListDueDeliveryTasks(ctx context.Context, arg db.ListDueDeliveryTasksParams) ([]db.DeliveryTask, error) {
	return s.listDueTasks(ctx, arg)
}

func (s *stubQuerier) DeleteExpiredLogs(ctx context.Context, createdAt pgtype.Timestamptz) (int64, error) {
	return s.deleteExpiredLogs(ctx, createdAt)
}

func (s *stubQuerier) DeleteExpiredFailedTasks(ctx context.Context, updatedAt pgtype.Timestamptz) (int64, error) {
	return s.deleteFailedTasks(ctx, updatedAt)
}

func (s *stubQuerier) GetDeliveryTask(ctx context.Context, id pgtype.UUID) (db.DeliveryTask, error) {
	return s.getDeliveryTask(ctx, id)
}

// recordingEnqueuer is a minimal Enqueuer capturing calls for assertions.
type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []recordedEnqueue
	err   error
}

type recordedEnqueue struct {
	taskID pgtype.UUID
	delay  time.Duration
}

func (r *recordingEnqueuer) EnqueueDelivery(ctx context.Context, taskID pgtype.UUID, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, recordedEnqueue{taskID: taskID, delay: delay})
	return nil
}

func (r *recordingEnqueuer) Calls() []recordedEnqueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedEnqueue, len(r.calls))
	copy(out, r.calls)
	return out
}
