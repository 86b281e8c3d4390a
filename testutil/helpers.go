package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
)

// EnqueuedDelivery records one call to the fake enqueuer.
type EnqueuedDelivery struct {
	TaskID pgtype.UUID
	Delay  time.Duration
}

// FakeEnqueuer is an app.Enqueuer that records enqueues instead of talking to
// the broker.
type FakeEnqueuer struct {
	mu    sync.Mutex
	calls []EnqueuedDelivery
	Err   error // returned from every EnqueueDelivery when set
}

func NewFakeEnqueuer() *FakeEnqueuer {
	return &FakeEnqueuer{}
}

func (f *FakeEnqueuer) EnqueueDelivery(ctx context.Context, taskID pgtype.UUID, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.calls = append(f.calls, EnqueuedDelivery{TaskID: taskID, Delay: delay})
	return nil
}

// Calls returns a copy of everything enqueued so far.
func (f *FakeEnqueuer) Calls() []EnqueuedDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EnqueuedDelivery, len(f.calls))
	copy(out, f.calls)
	return out
}

// NewRedis starts an in-process miniredis and returns a client bound to it.
// Both are cleaned up when the test finishes.
func NewRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}
