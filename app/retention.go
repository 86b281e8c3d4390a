package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/robfig/cron/v3"
)

// StartRetention schedules the cleanup loops: delivery logs hourly, FAILED
// tasks daily (their remaining logs cascade through the FK). Both jobs are
// idempotent deletes that never touch ingestion or delivery state.
func StartRetention(a *Application) *cron.Cron {
	c := cron.New()

	c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := CleanupExpiredLogs(ctx, a); err != nil {
			slog.Error("Log retention job failed", "error", err)
		}
	})

	c.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := CleanupExpiredFailedTasks(ctx, a); err != nil {
			slog.Error("Failed-task retention job failed", "error", err)
		}
	})

	c.Start()
	slog.Info("Retention jobs scheduled",
		"log_retention_hours", a.Config.LogRetentionHours,
		"failed_task_retention_days", a.Config.FailedTaskRetentionDays,
	)
	return c
}

// CleanupExpiredLogs deletes delivery logs past the retention window and
// returns how many were removed.
func CleanupExpiredLogs(ctx context.Context, a *Application) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(a.Config.LogRetentionHours) * time.Hour)
	deleted, err := a.DB.DeleteExpiredLogs(ctx, pgtype.Timestamptz{Time: cutoff, Valid: true})
	if err != nil {
		return 0, err
	}
	a.Metrics.RetentionDeleted.WithLabelValues("delivery_logs").Add(float64(deleted))
	slog.Info("Deleted expired delivery logs", "count", deleted, "cutoff", cutoff)
	return deleted, nil
}

// CleanupExpiredFailedTasks deletes FAILED tasks whose last update is past the
// retention window and returns how many were removed.
func CleanupExpiredFailedTasks(ctx context.Context, a *Application) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(a.Config.FailedTaskRetentionDays) * 24 * time.Hour)
	deleted, err := a.DB.DeleteExpiredFailedTasks(ctx, pgtype.Timestamptz{Time: cutoff, Valid: true})
	if err != nil {
		return 0, err
	}
	a.Metrics.RetentionDeleted.WithLabelValues("failed_tasks").Add(float64(deleted))
	slog.Info("Deleted expired failed tasks", "count", deleted, "cutoff", cutoff)
	return deleted, nil
}
