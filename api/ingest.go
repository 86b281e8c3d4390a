package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sweater-ventures/spigot/app"
	"github.com/sweater-ventures/spigot/db"
)

func init() {
	registerRoute(func(spigot *app.Application, router *http.ServeMux) {
		router.Handle("POST /v1/ingest/{subscription_id}", routeHandler(spigot, ingestWebhookHandler))
	})
}

// readBodyChunkSize bounds how far past the payload cap a read can go before
// the request is rejected.
const readBodyChunkSize = 32 * 1024

type DeliveryTaskResponse struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	Payload        json.RawMessage `json:"payload"`
	EventType      *string         `json:"event_type"`
	Status         string          `json:"status"`
	AttemptCount   int32           `json:"attempt_count"`
	MaxRetries     int32           `json:"max_retries"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ingestWebhookHandler accepts a webhook payload for asynchronous delivery.
// The 202 only acknowledges acceptance; delivery outcome is visible through
// the task's status and logs.
func ingestWebhookHandler(spigot *app.Application, w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("subscription_id")
	parsed, err := uuid.Parse(idStr)
	if err != nil {
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "subscription_id must be a valid UUID"})
		return
	}
	subscriptionID := pgtype.UUID{Bytes: parsed, Valid: true}

	maxSize := spigot.Config.MaxWebhookPayloadSize
	if r.ContentLength > maxSize {
		writeJsonResponse(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("Payload too large. Maximum size is %d bytes", maxSize),
		})
		return
	}

	rawBody, tooLarge, err := readBoundedBody(r.Body, maxSize)
	if err != nil {
		log(r.Context()).Error("Failed to read request body", "error", err)
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
		return
	}
	if tooLarge {
		writeJsonResponse(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("Payload too large. Maximum size is %d bytes", maxSize),
		})
		return
	}

	// Resolve the subscription, applying the event-type filter in the query
	// itself when a type is supplied. A filtered-out event is acknowledged
	// with 200 and discarded; only a missing subscription is a 404.
	eventType := r.Header.Get("X-Event-Type")
	var subscription db.Subscription
	if eventType != "" {
		subscription, err = spigot.DB.GetSubscriptionForEventType(r.Context(), db.GetSubscriptionForEventTypeParams{
			ID:      subscriptionID,
			Column2: eventType,
		})
		if errors.Is(err, pgx.ErrNoRows) {
			exists, existsErr := spigot.DB.SubscriptionExists(r.Context(), subscriptionID)
			if existsErr != nil {
				log(r.Context()).Error("Failed to check subscription existence", "error", existsErr)
				writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to resolve subscription"})
				return
			}
			if !exists {
				writeJsonResponse(w, http.StatusNotFound, map[string]string{"error": "Subscription not found"})
				return
			}
			log(r.Context()).Debug("Ignoring filtered event type",
				"subscription_id", idStr, "event_type", eventType)
			writeJsonResponse(w, http.StatusOK, map[string]string{
				"message": fmt.Sprintf("Ignored event type: %s", eventType),
			})
			return
		}
	} else {
		subscription, err = spigot.DB.GetSubscription(r.Context(), subscriptionID)
		if errors.Is(err, pgx.ErrNoRows) {
			writeJsonResponse(w, http.StatusNotFound, map[string]string{"error": "Subscription not found"})
			return
		}
	}
	if err != nil {
		log(r.Context()).Error("Failed to get subscription", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to resolve subscription"})
		return
	}

	// Signature verification is optional at the protocol level: it only runs
	// when the subscription has a secret AND the caller sent a signature.
	signature := r.Header.Get("X-Webhook-Signature")
	if subscription.Secret.Valid && subscription.Secret.String != "" && signature != "" {
		if !app.VerifySignature(rawBody, signature, subscription.Secret.String) {
			log(r.Context()).Warn("Invalid webhook signature", "subscription_id", idStr)
			writeJsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "Invalid webhook signature"})
			return
		}
	}

	if !json.Valid(rawBody) {
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	var eventTypeCol pgtype.Text
	if eventType != "" {
		eventTypeCol = pgtype.Text{String: eventType, Valid: true}
	}

	task, err := spigot.DB.CreateDeliveryTask(r.Context(), db.CreateDeliveryTaskParams{
		ID:             app.NewUuid(),
		SubscriptionID: subscriptionID,
		Payload:        rawBody,
		EventType:      eventTypeCol,
		MaxRetries:     int32(spigot.Config.WebhookMaxRetries),
	})
	if err != nil {
		log(r.Context()).Error("Failed to create delivery task", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to create delivery task"})
		return
	}

	spigot.Metrics.PayloadsIngested.Inc()
	log(r.Context()).Info("Webhook accepted",
		"task_id", app.UuidToString(task.ID),
		"subscription_id", idStr,
		"event_type", eventType,
		"payload_bytes", len(rawBody),
	)

	// The queue item is advisory; on a publish failure the task stays PENDING
	// and the due-task poller picks it up.
	if err := spigot.Queue.EnqueueDelivery(r.Context(), task.ID, 0); err != nil {
		log(r.Context()).Error("Failed to enqueue delivery task",
			"error", err, "task_id", app.UuidToString(task.ID))
	}

	writeJsonResponse(w, http.StatusAccepted, taskToResponse(task))
}

// readBoundedBody streams the body in bounded chunks and aborts as soon as
// the accumulated size exceeds maxSize, so an oversize payload never buffers
// more than the cap plus one chunk.
func readBoundedBody(body io.Reader, maxSize int64) ([]byte, bool, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readBodyChunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			if int64(buf.Len())+int64(n) > maxSize {
				return nil, true, nil
			}
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			return buf.Bytes(), false, nil
		}
		if err != nil {
			return nil, false, err
		}
	}
}

func taskToResponse(t db.DeliveryTask) DeliveryTaskResponse {
	resp := DeliveryTaskResponse{
		ID:             app.UuidToString(t.ID),
		SubscriptionID: app.UuidToString(t.SubscriptionID),
		Payload:        t.Payload,
		Status:         string(t.Status),
		AttemptCount:   t.AttemptCount,
		MaxRetries:     t.MaxRetries,
		CreatedAt:      t.CreatedAt.Time,
		UpdatedAt:      t.UpdatedAt.Time,
	}
	if t.EventType.Valid {
		s := t.EventType.String
		resp.EventType = &s
	}
	if t.NextAttemptAt.Valid {
		ts := t.NextAttemptAt.Time
		resp.NextAttemptAt = &ts
	}
	return resp
}
