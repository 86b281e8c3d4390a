package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgtype"
)

// TypeDeliverWebhook is the queue task type for a single delivery attempt.
// The payload carries only the task id; workers re-read the row on claim, so
// a stale or duplicated queue item is harmless.
const TypeDeliverWebhook = "webhook:deliver"

// DeliveryQueue is the broker queue delivery tasks are published to.
const DeliveryQueue = "webhooks"

type DeliverWebhookPayload struct {
	TaskID string `json:"task_id"`
}

// NewDeliverWebhookTask builds the queue message for a delivery task.
func NewDeliverWebhookTask(taskID pgtype.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(DeliverWebhookPayload{TaskID: UuidToString(taskID)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDeliverWebhook, payload), nil
}

// Enqueuer publishes delivery work items to the broker. Publishing is
// advisory: a failed enqueue leaves the task in PENDING for the due-task
// poller to recover.
type Enqueuer interface {
	EnqueueDelivery(ctx context.Context, taskID pgtype.UUID, delay time.Duration) error
}

type asynqEnqueuer struct {
	client     *asynq.Client
	maxRetries int
}

func NewEnqueuer(client *asynq.Client, maxRetries int) Enqueuer {
	return &asynqEnqueuer{client: client, maxRetries: maxRetries}
}

func (e *asynqEnqueuer) EnqueueDelivery(ctx context.Context, taskID pgtype.UUID, delay time.Duration) error {
	task, err := NewDeliverWebhookTask(taskID)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(DeliveryQueue),
		asynq.MaxRetry(e.maxRetries),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	_, err = e.client.EnqueueContext(ctx, task, opts...)
	return err
}
