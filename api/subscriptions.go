package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sweater-ventures/spigot/app"
	"github.com/sweater-ventures/spigot/db"
	"github.com/sweater-ventures/spigot/middleware"
)

func init() {
	registerRoute(func(spigot *app.Application, router *http.ServeMux) {
		router.Handle("POST /v1/subscriptions", routeHandler(spigot, createSubscriptionHandler))
		router.Handle("GET /v1/subscriptions", routeHandler(spigot, listSubscriptionsHandler))
		router.Handle("GET /v1/subscriptions/{id}", routeHandler(spigot, getSubscriptionHandler))
		router.Handle("PUT /v1/subscriptions/{id}", routeHandler(spigot, updateSubscriptionHandler))
		router.Handle("DELETE /v1/subscriptions/{id}", routeHandler(spigot, deleteSubscriptionHandler))
		router.Handle("GET /v1/subscriptions/{id}/deliveries", routeHandler(spigot, listSubscriptionDeliveriesHandler))
	})
}

type CreateSubscriptionRequest struct {
	TargetURL  string   `json:"target_url"`
	Secret     *string  `json:"secret"`
	EventTypes []string `json:"event_types"`
}

type UpdateSubscriptionRequest struct {
	TargetURL  *string   `json:"target_url"`
	Secret     *string   `json:"secret"`
	EventTypes *[]string `json:"event_types"`
}

type SubscriptionResponse struct {
	ID         string    `json:"id"`
	TargetURL  string    `json:"target_url"`
	Secret     *string   `json:"secret"`
	EventTypes []string  `json:"event_types"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func validTargetURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// checkCreateRateLimit applies the stricter per-client budget on subscription
// creation. Limiter errors fail open.
func checkCreateRateLimit(spigot *app.Application, w http.ResponseWriter, r *http.Request) bool {
	if !spigot.Config.RateLimitEnabled {
		return true
	}

	limit := spigot.Config.SubscriptionCreateLimit
	window := spigot.Config.SubscriptionCreateWindow
	key := "sub_create:" + middleware.ClientKey(r)

	decision, err := spigot.Limiter.AllowCustom(r.Context(), key, limit, window, middleware.RequestID(r.Context()))
	if err != nil {
		log(r.Context()).Error("Subscription creation rate limit error", "error", err)
		w.Header().Set("X-Rate-Limit-Error", "1")
		return true
	}
	if !decision.Allowed {
		spigot.Metrics.RateLimited.Inc()
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		writeJsonResponse(w, http.StatusTooManyRequests, map[string]any{
			"detail":      "Rate limit exceeded for subscription creation",
			"limit":       limit,
			"window":      strconv.Itoa(window) + " seconds",
			"retry_after": decision.RetryAfter,
		})
		return false
	}
	return true
}

func createSubscriptionHandler(spigot *app.Application, w http.ResponseWriter, r *http.Request) {
	if !checkCreateRateLimit(spigot, w, r) {
		return
	}

	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.TargetURL == "" {
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "target_url is required"})
		return
	}
	if !validTargetURL(req.TargetURL) {
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "target_url must be an absolute http or https URL"})
		return
	}

	var secret pgtype.Text
	if req.Secret != nil && *req.Secret != "" {
		secret = pgtype.Text{String: *req.Secret, Valid: true}
	}

	subscription, err := spigot.DB.CreateSubscription(r.Context(), db.CreateSubscriptionParams{
		ID:         app.NewUuid(),
		TargetUrl:  req.TargetURL,
		Secret:     secret,
		EventTypes: req.EventTypes,
	})
	if err != nil {
		log(r.Context()).Error("Failed to create subscription", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to create subscription"})
		return
	}

	if err := spigot.SubCache.Put(r.Context(), subscription); err != nil {
		log(r.Context()).Warn("Failed to cache new subscription", "error", err)
	}

	log(r.Context()).Info("Subscription created",
		"subscription_id", app.UuidToString(subscription.ID),
		"target_url", subscription.TargetUrl,
	)
	writeJsonResponse(w, http.StatusCreated, subscriptionToResponse(subscription))
}

func listSubscriptionsHandler(spigot *app.Application, w http.ResponseWriter, r *http.Request) {
	skip := parseQueryInt(r, "skip", 0)
	limit := parseQueryInt(r, "limit", 100)

	subscriptions, err := spigot.DB.ListSubscriptions(r.Context(), db.ListSubscriptionsParams{
		Limit:  int32(limit),
		Offset: int32(skip),
	})
	if err != nil {
		log(r.Context()).Error("Failed to list subscriptions", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list subscriptions"})
		return
	}

	response := make([]SubscriptionResponse, 0, len(subscriptions))
	for _, s := range subscriptions {
		response = append(response, subscriptionToResponse(s))
	}
	writeJsonResponse(w, http.StatusOK, response)
}

func getSubscriptionHandler(spigot *app.Application, w http.ResponseWriter, r *http.Request) {
	id, ok := parseSubscriptionID(w, r)
	if !ok {
		return
	}

	subscription, err := spigot.DB.GetSubscription(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJsonResponse(w, http.StatusNotFound, map[string]string{"error": "Subscription not found"})
		return
	}
	if err != nil {
		log(r.Context()).Error("Failed to get subscription", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve subscription"})
		return
	}
	writeJsonResponse(w, http.StatusOK, subscriptionToResponse(subscription))
}

func updateSubscriptionHandler(spigot *app.Application, w http.ResponseWriter, r *http.Request) {
	id, ok := parseSubscriptionID(w, r)
	if !ok {
		return
	}

	var req UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	existing, err := spigot.DB.GetSubscription(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJsonResponse(w, http.StatusNotFound, map[string]string{"error": "Subscription not found"})
		return
	}
	if err != nil {
		log(r.Context()).Error("Failed to get subscription", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to update subscription"})
		return
	}

	targetURL := existing.TargetUrl
	if req.TargetURL != nil {
		if !validTargetURL(*req.TargetURL) {
			writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "target_url must be an absolute http or https URL"})
			return
		}
		targetURL = *req.TargetURL
	}
	secret := existing.Secret
	if req.Secret != nil {
		if *req.Secret == "" {
			secret = pgtype.Text{}
		} else {
			secret = pgtype.Text{String: *req.Secret, Valid: true}
		}
	}
	eventTypes := existing.EventTypes
	if req.EventTypes != nil {
		eventTypes = *req.EventTypes
	}

	updated, err := spigot.DB.UpdateSubscription(r.Context(), db.UpdateSubscriptionParams{
		ID:         id,
		TargetUrl:  targetURL,
		Secret:     secret,
		EventTypes: eventTypes,
		UpdatedAt:  pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
	})
	if err != nil {
		log(r.Context()).Error("Failed to update subscription", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to update subscription"})
		return
	}

	// Invalidation must land before the response so no caller can observe
	// its own stale write.
	if err := spigot.SubCache.Invalidate(r.Context(), id); err != nil {
		log(r.Context()).Warn("Failed to invalidate subscription cache", "error", err)
	}

	writeJsonResponse(w, http.StatusOK, subscriptionToResponse(updated))
}

func deleteSubscriptionHandler(spigot *app.Application, w http.ResponseWriter, r *http.Request) {
	id, ok := parseSubscriptionID(w, r)
	if !ok {
		return
	}

	_, err := spigot.DB.GetSubscription(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJsonResponse(w, http.StatusNotFound, map[string]string{"error": "Subscription not found"})
		return
	}
	if err != nil {
		log(r.Context()).Error("Failed to get subscription", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to delete subscription"})
		return
	}

	if err := spigot.DB.DeleteSubscription(r.Context(), id); err != nil {
		log(r.Context()).Error("Failed to delete subscription", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to delete subscription"})
		return
	}

	if err := spigot.SubCache.Invalidate(r.Context(), id); err != nil {
		log(r.Context()).Warn("Failed to invalidate subscription cache", "error", err)
	}

	log(r.Context()).Info("Subscription deleted", "subscription_id", app.UuidToString(id))
	writeJsonResponse(w, http.StatusOK, map[string]string{"message": "Subscription deleted successfully"})
}

func listSubscriptionDeliveriesHandler(spigot *app.Application, w http.ResponseWriter, r *http.Request) {
	id, ok := parseSubscriptionID(w, r)
	if !ok {
		return
	}
	limit := parseQueryInt(r, "limit", 20)

	exists, err := spigot.DB.SubscriptionExists(r.Context(), id)
	if err != nil {
		log(r.Context()).Error("Failed to check subscription existence", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list deliveries"})
		return
	}
	if !exists {
		writeJsonResponse(w, http.StatusNotFound, map[string]string{"error": "Subscription not found"})
		return
	}

	logs, err := spigot.DB.ListDeliveryLogsForSubscription(r.Context(), db.ListDeliveryLogsForSubscriptionParams{
		SubscriptionID: id,
		Limit:          int32(limit),
	})
	if err != nil {
		log(r.Context()).Error("Failed to list delivery logs", "error", err)
		writeJsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list deliveries"})
		return
	}

	response := make([]DeliveryLogResponse, 0, len(logs))
	for _, l := range logs {
		response = append(response, logToResponse(l))
	}
	writeJsonResponse(w, http.StatusOK, response)
}

func parseSubscriptionID(w http.ResponseWriter, r *http.Request) (pgtype.UUID, bool) {
	parsed, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJsonResponse(w, http.StatusBadRequest, map[string]string{"error": "id must be a valid UUID"})
		return pgtype.UUID{}, false
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, true
}

func parseQueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func subscriptionToResponse(s db.Subscription) SubscriptionResponse {
	resp := SubscriptionResponse{
		ID:        app.UuidToString(s.ID),
		TargetURL: s.TargetUrl,
		CreatedAt: s.CreatedAt.Time,
		UpdatedAt: s.UpdatedAt.Time,
	}
	if s.Secret.Valid {
		v := s.Secret.String
		resp.Secret = &v
	}
	if s.EventTypes != nil {
		resp.EventTypes = s.EventTypes
	}
	return resp
}
