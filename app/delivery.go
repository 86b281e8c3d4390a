package app

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sweater-ventures/spigot/config"
	"github.com/sweater-ventures/spigot/db"
)

// targetLimitDeferDelay is how long a queue item waits when its target URL is
// saturated. The attempt is deferred before the claim, so no retry budget is
// consumed.
const targetLimitDeferDelay = 10 * time.Second

// attemptResult is the raw outcome of one HTTP POST to a target.
type attemptResult struct {
	StatusCode int // 0 on transport error
	Err        string
	Success    bool
	Permanent  bool // not worth retrying (e.g. the request could not be built)
}

// outcome is the classified result: what to log and where the task goes next.
type outcome struct {
	LogStatus  db.DeliveryLogStatus
	TaskStatus db.DeliveryTaskStatus
	Retry      bool
}

// classifyOutcome applies the retry state machine to a single attempt.
// attemptCount is the value already incremented by the claim. The exhausting
// attempt logs FAILURE directly, never FAILED_ATTEMPT.
func classifyOutcome(res attemptResult, attemptCount, maxRetries int32) outcome {
	switch {
	case res.Success:
		return outcome{LogStatus: db.DeliveryLogStatusSUCCESS, TaskStatus: db.DeliveryTaskStatusCOMPLETED}
	case res.Permanent:
		return outcome{LogStatus: db.DeliveryLogStatusFAILURE, TaskStatus: db.DeliveryTaskStatusFAILED}
	case attemptCount < maxRetries:
		return outcome{LogStatus: db.DeliveryLogStatusFAILEDATTEMPT, TaskStatus: db.DeliveryTaskStatusPENDING, Retry: true}
	default:
		return outcome{LogStatus: db.DeliveryLogStatusFAILURE, TaskStatus: db.DeliveryTaskStatusFAILED}
	}
}

// backoffDelay returns the wait before the next attempt. The schedule is
// indexed by prior attempts: after attempt N the wait is delays[N-1], clamped
// to the last entry for schedules shorter than the retry budget.
func backoffDelay(delays []int, attemptCount int32) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	index := int(attemptCount) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(delays) {
		index = len(delays) - 1
	}
	return time.Duration(delays[index]) * time.Second
}

// errorDetails renders the human-readable failure reason stored on the log row.
func errorDetails(res attemptResult, exhausted bool) string {
	var details string
	switch {
	case res.Err != "":
		details = res.Err
	case res.StatusCode != 0 && !res.Success:
		details = fmt.Sprintf("HTTP %d", res.StatusCode)
	}
	if exhausted && details != "" {
		details = "max retries exhausted: " + details
	}
	return details
}

// DeliveryWorker consumes delivery queue items and drives each task through
// claim, dispatch, logging, and state transition. Multiple workers across
// processes are safe: the task row lock serializes attempts.
type DeliveryWorker struct {
	app         *Application
	httpClient  *http.Client
	retryDelays []int
	server      *asynq.Server

	lastGlobalVersion atomic.Int64
}

func NewDeliveryWorker(a *Application) *DeliveryWorker {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !a.Config.VerifySSLCertificates}

	return &DeliveryWorker{
		app: a,
		httpClient: &http.Client{
			Timeout:   time.Duration(a.Config.WebhookTimeoutSeconds) * time.Second,
			Transport: transport,
		},
		retryDelays: a.Config.RetryDelays(),
	}
}

// Start launches the queue consumer. Non-blocking; pair with Shutdown.
func (w *DeliveryWorker) Start() error {
	w.server = asynq.NewServer(AsynqRedisOpt(&w.app.Config), asynq.Config{
		Concurrency:    w.app.Config.DeliveryWorkers,
		Queues:         map[string]int{DeliveryQueue: 1},
		RetryDelayFunc: w.infraRetryDelay,
		Logger:         &asynqLogger{},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeDeliverWebhook, w.handleDeliverWebhook)

	slog.Info("Starting delivery worker", "concurrency", w.app.Config.DeliveryWorkers)
	return w.server.Start(mux)
}

// Shutdown waits for in-flight handlers to finish.
func (w *DeliveryWorker) Shutdown() {
	if w.server != nil {
		slog.Info("Stopping delivery worker")
		w.server.Shutdown()
	}
}

// infraRetryDelay schedules handler-level failures (database errors during
// claim or transition) on the same backoff schedule as delivery retries.
func (w *DeliveryWorker) infraRetryDelay(n int, err error, t *asynq.Task) time.Duration {
	return backoffDelay(w.retryDelays, int32(n)+1)
}

func (w *DeliveryWorker) handleDeliverWebhook(ctx context.Context, t *asynq.Task) error {
	var payload DeliverWebhookPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshaling queue payload: %v: %w", err, asynq.SkipRetry)
	}
	parsed, err := uuid.Parse(payload.TaskID)
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", payload.TaskID, asynq.SkipRetry)
	}

	// Fallback staleness signal for invalidations missed on the pub/sub
	// channel: any mutation bumps the global version.
	if current := w.app.SubCache.GlobalVersion(ctx); current != 0 {
		if last := w.lastGlobalVersion.Swap(current); last != 0 && last != current {
			slog.Debug("Subscription cache global version changed", "from", last, "to", current)
		}
	}

	ctx = context.WithValue(ctx, config.LoggerContextKey,
		slog.Default().With("task_id", payload.TaskID))
	return w.ProcessDelivery(ctx, pgtype.UUID{Bytes: parsed, Valid: true})
}

// ProcessDelivery performs one delivery attempt for the given task. Returning
// an error signals an infrastructure failure and asks the queue to redeliver;
// delivery failures are ordinary outcomes recorded in the log instead.
func (w *DeliveryWorker) ProcessDelivery(ctx context.Context, taskID pgtype.UUID) error {
	logger := log(ctx)

	task, err := w.app.DB.GetDeliveryTask(ctx, taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		logger.Debug("Delivery task not found, dropping queue item")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading delivery task: %w", err)
	}

	switch task.Status {
	case db.DeliveryTaskStatusCOMPLETED, db.DeliveryTaskStatusFAILED:
		logger.Debug("Task already terminal, dropping queue item", "status", task.Status)
		return nil
	}
	if task.Status == db.DeliveryTaskStatusPENDING && task.NextAttemptAt.Valid && task.NextAttemptAt.Time.After(time.Now()) {
		logger.Debug("Task not yet eligible, dropping queue item",
			"next_attempt_at", task.NextAttemptAt.Time)
		return nil
	}

	sub, err := w.app.SubCache.Resolve(ctx, task.SubscriptionID)
	if errors.Is(err, pgx.ErrNoRows) {
		logger.Warn("Subscription gone for delivery task, dropping queue item")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving subscription: %w", err)
	}

	if !w.app.TargetLimiter.Allow(ctx, sub.TargetUrl) {
		logger.Info("Target URL rate limited, deferring delivery",
			"target_url", sub.TargetUrl)
		if err := w.app.Queue.EnqueueDelivery(ctx, taskID, targetLimitDeferDelay); err != nil {
			logger.Error("Failed to defer delivery task", "error", err)
		}
		return nil
	}

	claimed, err := w.claimTask(ctx, taskID)
	if err != nil {
		return err
	}
	if claimed == nil {
		return nil
	}

	result := w.attemptDelivery(ctx, sub.TargetUrl, claimed.Payload)
	return w.recordOutcome(ctx, *claimed, sub.TargetUrl, result)
}

// claimTask transitions PENDING -> IN_PROGRESS under a row lock and bumps the
// attempt counter. Returns nil without error when the task should be dropped:
// missing, terminal, already claimed by another worker, or not yet eligible.
func (w *DeliveryWorker) claimTask(ctx context.Context, taskID pgtype.UUID) (*db.DeliveryTask, error) {
	tx, err := w.app.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := db.New(tx)
	task, err := qtx.GetDeliveryTaskForUpdate(ctx, taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locking delivery task: %w", err)
	}

	switch {
	case task.Status == db.DeliveryTaskStatusCOMPLETED, task.Status == db.DeliveryTaskStatusFAILED:
		return nil, nil
	case task.Status == db.DeliveryTaskStatusINPROGRESS && task.AttemptCount > 0:
		// Another worker holds this attempt; the queue item is a duplicate.
		return nil, nil
	case task.NextAttemptAt.Valid && task.NextAttemptAt.Time.After(time.Now()):
		return nil, nil
	}

	claimed, err := qtx.MarkDeliveryTaskInProgress(ctx, db.MarkDeliveryTaskInProgressParams{
		ID:        taskID,
		UpdatedAt: pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("claiming delivery task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return &claimed, nil
}

// attemptDelivery POSTs the payload to the target and reports the raw result.
func (w *DeliveryWorker) attemptDelivery(ctx context.Context, targetURL string, payload []byte) attemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return attemptResult{Permanent: true, Err: fmt.Sprintf("building request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return attemptResult{Err: err.Error()}
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return attemptResult{
		StatusCode: resp.StatusCode,
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
}

// recordOutcome writes the attempt log and the task transition in one
// transaction, then schedules the retry when one is due.
func (w *DeliveryWorker) recordOutcome(ctx context.Context, task db.DeliveryTask, targetURL string, result attemptResult) error {
	logger := log(ctx)
	out := classifyOutcome(result, task.AttemptCount, task.MaxRetries)
	now := time.Now().UTC()

	var nextAttempt pgtype.Timestamptz
	var retryDelay time.Duration
	if out.Retry {
		retryDelay = backoffDelay(w.retryDelays, task.AttemptCount)
		nextAttempt = pgtype.Timestamptz{Time: now.Add(retryDelay), Valid: true}
	}

	var statusCode pgtype.Int4
	if result.StatusCode != 0 {
		statusCode = pgtype.Int4{Int32: int32(result.StatusCode), Valid: true}
	}
	var details pgtype.Text
	if d := errorDetails(result, out.TaskStatus == db.DeliveryTaskStatusFAILED && !result.Permanent); d != "" {
		details = pgtype.Text{String: d, Valid: true}
	}

	tx, err := w.app.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning outcome transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := db.New(tx)
	_, err = qtx.CreateDeliveryLog(ctx, db.CreateDeliveryLogParams{
		ID:             NewUuid(),
		DeliveryTaskID: task.ID,
		SubscriptionID: task.SubscriptionID,
		TargetUrl:      targetURL,
		AttemptNumber:  task.AttemptCount,
		Status:         out.LogStatus,
		StatusCode:     statusCode,
		ErrorDetails:   details,
	})
	if err != nil {
		return fmt.Errorf("recording delivery log: %w", err)
	}

	_, err = qtx.UpdateDeliveryTaskStatus(ctx, db.UpdateDeliveryTaskStatusParams{
		ID:            task.ID,
		Status:        out.TaskStatus,
		NextAttemptAt: nextAttempt,
		UpdatedAt:     pgtype.Timestamptz{Time: now, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("updating delivery task status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing outcome: %w", err)
	}

	w.app.Metrics.DeliveryAttempts.WithLabelValues(string(out.LogStatus)).Inc()

	switch {
	case out.LogStatus == db.DeliveryLogStatusSUCCESS:
		logger.Info("Delivery succeeded",
			"target_url", targetURL,
			"status_code", result.StatusCode,
			"attempt", task.AttemptCount,
		)
	case out.Retry:
		logger.Warn("Delivery failed, retry scheduled",
			"target_url", targetURL,
			"status_code", result.StatusCode,
			"attempt", task.AttemptCount,
			"max_retries", task.MaxRetries,
			"next_attempt_at", nextAttempt.Time,
		)
	default:
		logger.Warn("Delivery failed permanently",
			"target_url", targetURL,
			"status_code", result.StatusCode,
			"attempt", task.AttemptCount,
			"error", details.String,
		)
	}

	if out.Retry {
		if err := w.app.Queue.EnqueueDelivery(ctx, task.ID, retryDelay); err != nil {
			// The poller sweeps the task back up once next_attempt_at passes.
			logger.Error("Failed to re-enqueue delivery task", "error", err)
		}
	}
	return nil
}

// asynqLogger adapts the queue server's logging to slog.
type asynqLogger struct{}

func (l *asynqLogger) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) {
	slog.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}
