package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sweater-ventures/spigot/db"
)

// StartDueTaskPoller sweeps eligible PENDING tasks back onto the delivery
// queue: once at startup (resume after a restart) and then on every tick.
// The broker is advisory, so this is what makes a lost or failed publish
// harmless — the claim protocol absorbs any duplicates it produces.
// Returns a stop function that blocks until the poller has exited.
func StartDueTaskPoller(a *Application) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	interval := time.Duration(a.Config.PollIntervalSeconds) * time.Second

	go func() {
		defer close(done)

		EnqueueDueTasks(ctx, a)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				EnqueueDueTasks(ctx, a)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// EnqueueDueTasks publishes every eligible PENDING task, bounded by the
// configured batch size.
func EnqueueDueTasks(ctx context.Context, a *Application) {
	tasks, err := a.DB.ListDueDeliveryTasks(ctx, db.ListDueDeliveryTasksParams{
		NextAttemptAt: pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
		Limit:         int32(a.Config.PollBatchSize),
	})
	if err != nil {
		slog.Error("Failed to list due delivery tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	enqueued := 0
	for _, task := range tasks {
		if err := a.Queue.EnqueueDelivery(ctx, task.ID, 0); err != nil {
			slog.Error("Failed to enqueue due delivery task",
				"error", err, "task_id", UuidToString(task.ID))
			continue
		}
		enqueued++
	}
	slog.Debug("Swept due delivery tasks onto queue", "due", len(tasks), "enqueued", enqueued)
}
