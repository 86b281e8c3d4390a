package app

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweater-ventures/spigot/config"
)

func TestCleanupExpiredLogs_UsesRetentionCutoff(t *testing.T) {
	var gotCutoff time.Time
	querier := &stubQuerier{deleteExpiredLogs: func(ctx context.Context, createdAt pgtype.Timestamptz) (int64, error) {
		gotCutoff = createdAt.Time
		return 42, nil
	}}

	a := &Application{
		Config:  config.AppConfig{LogRetentionHours: 72},
		DB:      querier,
		Metrics: NewMetrics(),
	}

	deleted, err := CleanupExpiredLogs(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)

	expected := time.Now().UTC().Add(-72 * time.Hour)
	assert.WithinDuration(t, expected, gotCutoff, 5*time.Second)
}

func TestCleanupExpiredFailedTasks_UsesRetentionCutoff(t *testing.T) {
	var gotCutoff time.Time
	querier := &stubQuerier{deleteFailedTasks: func(ctx context.Context, updatedAt pgtype.Timestamptz) (int64, error) {
		gotCutoff = updatedAt.Time
		return 7, nil
	}}

	a := &Application{
		Config:  config.AppConfig{FailedTaskRetentionDays: 7},
		DB:      querier,
		Metrics: NewMetrics(),
	}

	deleted, err := CleanupExpiredFailedTasks(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)

	expected := time.Now().UTC().Add(-7 * 24 * time.Hour)
	assert.WithinDuration(t, expected, gotCutoff, 5*time.Second)
}

func TestCleanupExpiredLogs_PropagatesError(t *testing.T) {
	querier := &stubQuerier{deleteExpiredLogs: func(ctx context.Context, createdAt pgtype.Timestamptz) (int64, error) {
		return 0, assert.AnError
	}}

	a := &Application{
		Config:  config.AppConfig{LogRetentionHours: 72},
		DB:      querier,
		Metrics: NewMetrics(),
	}

	_, err := CleanupExpiredLogs(context.Background(), a)
	assert.Error(t, err)
}
