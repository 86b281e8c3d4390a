package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweater-ventures/spigot/app"
)

type taskResource struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	Status         string          `json:"status"`
	AttemptCount   int32           `json:"attempt_count"`
	Payload        json.RawMessage `json:"payload"`
	NextAttemptAt  *string         `json:"next_attempt_at"`
}

type taskWithLogs struct {
	taskResource
	Logs []struct {
		AttemptNumber int32   `json:"attempt_number"`
		Status        string  `json:"status"`
		StatusCode    *int32  `json:"status_code"`
		ErrorDetails  *string `json:"error_details"`
	} `json:"logs"`
}

func createSubscription(t *testing.T, f *testFixture, targetURL, secret string, eventTypes []string) string {
	t.Helper()
	body := map[string]any{"target_url": targetURL}
	if secret != "" {
		body["secret"] = secret
	}
	if eventTypes != nil {
		body["event_types"] = eventTypes
	}
	raw, _ := json.Marshal(body)

	rec := f.do(t, http.MethodPost, "/api/v1/subscriptions", raw, nil)
	require.Equal(t, http.StatusCreated, rec.Code, "create subscription: %s", rec.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func taskUUID(t *testing.T, id string) pgtype.UUID {
	t.Helper()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

func getTaskStatus(t *testing.T, f *testFixture, taskID string) taskWithLogs {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/api/v1/ingest/delivery/"+taskID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp taskWithLogs
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHappyPathDelivery(t *testing.T) {
	f := newFixture(t)

	var received atomic.Int64
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	subID := createSubscription(t, f, target.URL, "", nil)

	rec := f.do(t, http.MethodPost, "/api/v1/ingest/"+subID, []byte(`{"k":"v"}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted taskResource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "PENDING", accepted.Status)
	assert.JSONEq(t, `{"k":"v"}`, string(accepted.Payload))

	// The queue item was published for the new task
	require.Len(t, f.queue.Calls(), 1)

	require.NoError(t, f.worker.ProcessDelivery(context.Background(), taskUUID(t, accepted.ID)))
	assert.Equal(t, int64(1), received.Load())

	status := getTaskStatus(t, f, accepted.ID)
	assert.Equal(t, "COMPLETED", status.Status)
	assert.Equal(t, int32(1), status.AttemptCount)
	assert.Nil(t, status.NextAttemptAt)
	require.Len(t, status.Logs, 1)
	assert.Equal(t, "SUCCESS", status.Logs[0].Status)
	require.NotNil(t, status.Logs[0].StatusCode)
	assert.Equal(t, int32(200), *status.Logs[0].StatusCode)
}

func TestDuplicateQueueItemIsNoOp(t *testing.T) {
	f := newFixture(t)

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	subID := createSubscription(t, f, target.URL, "", nil)
	rec := f.do(t, http.MethodPost, "/api/v1/ingest/"+subID, []byte(`{"k":"v"}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted taskResource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	id := taskUUID(t, accepted.ID)
	require.NoError(t, f.worker.ProcessDelivery(context.Background(), id))
	// Redelivered queue item for a COMPLETED task changes nothing
	require.NoError(t, f.worker.ProcessDelivery(context.Background(), id))

	status := getTaskStatus(t, f, accepted.ID)
	assert.Equal(t, "COMPLETED", status.Status)
	assert.Equal(t, int32(1), status.AttemptCount)
	assert.Len(t, status.Logs, 1)
}

func TestEventFilterMiss(t *testing.T) {
	f := newFixture(t)

	subID := createSubscription(t, f, "http://t/ok", "", []string{"order.created", "user.updated"})

	rec := f.do(t, http.MethodPost, "/api/v1/ingest/"+subID, []byte(`{"k":"v"}`),
		map[string]string{"X-Event-Type": "order.deleted"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Ignored event type: order.deleted", resp.Message)

	assert.Equal(t, 0, countRows(t, "delivery_tasks"))
	assert.Empty(t, f.queue.Calls())
}

func TestEventFilterMatch(t *testing.T) {
	f := newFixture(t)

	subID := createSubscription(t, f, "http://t/ok", "", []string{"order.created"})

	rec := f.do(t, http.MethodPost, "/api/v1/ingest/"+subID, []byte(`{"k":"v"}`),
		map[string]string{"X-Event-Type": "order.created"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, countRows(t, "delivery_tasks"))
}

func TestSignatureMismatch(t *testing.T) {
	f := newFixture(t)

	subID := createSubscription(t, f, "http://t/ok", "shh", nil)

	rec := f.do(t, http.MethodPost, "/api/v1/ingest/"+subID, []byte(`{"a":1}`),
		map[string]string{"X-Webhook-Signature": "deadbeef"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, countRows(t, "delivery_tasks"))
}

func TestSignatureValid(t *testing.T) {
	f := newFixture(t)

	subID := createSubscription(t, f, "http://t/ok", "shh", nil)

	body := []byte(`{"a":1}`)
	rec := f.do(t, http.MethodPost, "/api/v1/ingest/"+subID, body,
		map[string]string{"X-Webhook-Signature": app.ComputeSignature(body, "shh")})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, countRows(t, "delivery_tasks"))
}

func TestOversizePayload(t *testing.T) {
	f := newFixture(t)
	f.app.Config.MaxWebhookPayloadSize = 1024

	subID := createSubscription(t, f, "http://t/ok", "", nil)

	body := []byte(fmt.Sprintf(`{"pad":%q}`, strings.Repeat("a", 2048)))
	rec := f.do(t, http.MethodPost, "/api/v1/ingest/"+subID, body, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, countRows(t, "delivery_tasks"))
}

func TestUnknownSubscription404(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/ingest/"+uuid.NewString(), []byte(`{"k":"v"}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
