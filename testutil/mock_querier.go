package testutil

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/mock"
	"github.com/sweater-ventures/spigot/db"
)

// MockQuerier is a testify mock implementation of db.Querier.
type MockQuerier struct {
	mock.Mock
}

var _ db.Querier = (*MockQuerier)(nil)

func (m *MockQuerier) CreateDeliveryLog(ctx context.Context, arg db.CreateDeliveryLogParams) (db.DeliveryLog, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.DeliveryLog), args.Error(1)
}

func (m *MockQuerier) CreateDeliveryTask(ctx context.Context, arg db.CreateDeliveryTaskParams) (db.DeliveryTask, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.DeliveryTask), args.Error(1)
}

func (m *MockQuerier) CreateSubscription(ctx context.Context, arg db.CreateSubscriptionParams) (db.Subscription, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Subscription), args.Error(1)
}

func (m *MockQuerier) DeleteExpiredFailedTasks(ctx context.Context, updatedAt pgtype.Timestamptz) (int64, error) {
	args := m.Called(ctx, updatedAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) DeleteExpiredLogs(ctx context.Context, createdAt pgtype.Timestamptz) (int64, error) {
	args := m.Called(ctx, createdAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) DeleteSubscription(ctx context.Context, id pgtype.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQuerier) GetDeliveryTask(ctx context.Context, id pgtype.UUID) (db.DeliveryTask, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(db.DeliveryTask), args.Error(1)
}

func (m *MockQuerier) GetDeliveryTaskForUpdate(ctx context.Context, id pgtype.UUID) (db.DeliveryTask, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(db.DeliveryTask), args.Error(1)
}

func (m *MockQuerier) GetSubscription(ctx context.Context, id pgtype.UUID) (db.Subscription, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(db.Subscription), args.Error(1)
}

func (m *MockQuerier) GetSubscriptionForEventType(ctx context.Context, arg db.GetSubscriptionForEventTypeParams) (db.Subscription, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Subscription), args.Error(1)
}

func (m *MockQuerier) ListDeliveryLogsForSubscription(ctx context.Context, arg db.ListDeliveryLogsForSubscriptionParams) ([]db.DeliveryLog, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]db.DeliveryLog), args.Error(1)
}

func (m *MockQuerier) ListDeliveryLogsForTask(ctx context.Context, deliveryTaskID pgtype.UUID) ([]db.DeliveryLog, error) {
	args := m.Called(ctx, deliveryTaskID)
	return args.Get(0).([]db.DeliveryLog), args.Error(1)
}

func (m *MockQuerier) ListDueDeliveryTasks(ctx context.Context, arg db.ListDueDeliveryTasksParams) ([]db.DeliveryTask, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]db.DeliveryTask), args.Error(1)
}

func (m *MockQuerier) ListSubscriptions(ctx context.Context, arg db.ListSubscriptionsParams) ([]db.Subscription, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]db.Subscription), args.Error(1)
}

func (m *MockQuerier) MarkDeliveryTaskInProgress(ctx context.Context, arg db.MarkDeliveryTaskInProgressParams) (db.DeliveryTask, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.DeliveryTask), args.Error(1)
}

func (m *MockQuerier) SubscriptionExists(ctx context.Context, id pgtype.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(bool), args.Error(1)
}

func (m *MockQuerier) UpdateDeliveryTaskStatus(ctx context.Context, arg db.UpdateDeliveryTaskStatusParams) (db.DeliveryTask, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.DeliveryTask), args.Error(1)
}

func (m *MockQuerier) UpdateSubscription(ctx context.Context, arg db.UpdateSubscriptionParams) (db.Subscription, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Subscription), args.Error(1)
}
