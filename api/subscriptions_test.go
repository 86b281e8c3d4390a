package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sweater-ventures/spigot/app"
	"github.com/sweater-ventures/spigot/db"
	"github.com/sweater-ventures/spigot/testutil"
)

func newSubscriptionsTestApp(t *testing.T, mockDB *testutil.MockQuerier) *app.Application {
	t.Helper()
	client, _ := testutil.NewRedis(t)
	return testutil.NewTestApp(mockDB, func(a *app.Application) {
		a.SubCache = app.NewSubscriptionCache(client, mockDB, time.Hour)
		a.Limiter = app.NewRateLimiter(client, "fixed-window", 100, 60)
	})
}

func TestCreateSubscription_Valid(t *testing.T) {
	mockDB := new(testutil.MockQuerier)
	spigot := newSubscriptionsTestApp(t, mockDB)

	created := testutil.NewSubscription(func(s *db.Subscription) {
		s.TargetUrl = "https://example.com/hook"
	})
	mockDB.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(arg db.CreateSubscriptionParams) bool {
		return arg.TargetUrl == "https://example.com/hook" && arg.Secret.Valid && arg.Secret.String == "shh"
	})).Return(created, nil)

	body := []byte(`{"target_url":"https://example.com/hook","secret":"shh","event_types":["order.created"]}`)
	rec := ingestRequest(spigot, http.MethodPost, "/api/v1/subscriptions", body, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp SubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://example.com/hook", resp.TargetURL)
	mockDB.AssertExpectations(t)
}

func TestCreateSubscription_MissingTargetURL(t *testing.T) {
	mockDB := new(testutil.MockQuerier)
	spigot := newSubscriptionsTestApp(t, mockDB)

	rec := ingestRequest(spigot, http.MethodPost, "/api/v1/subscriptions", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSubscription_RelativeTargetURL(t *testing.T) {
	mockDB := new(testutil.MockQuerier)
	spigot := newSubscriptionsTestApp(t, mockDB)

	rec := ingestRequest(spigot, http.MethodPost, "/api/v1/subscriptions",
		[]byte(`{"target_url":"not-a-url"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSubscription_StrictRateLimit(t *testing.T) {
	mockDB := new(testutil.MockQuerier)
	spigot := newSubscriptionsTestApp(t, mockDB)
	spigot.Config.SubscriptionCreateLimit = 2

	created := testutil.NewSubscription()
	mockDB.On("CreateSubscription", mock.Anything, mock.Anything).Return(created, nil)

	body := []byte(`{"target_url":"https://example.com/hook"}`)
	for i := 0; i < 2; i++ {
		rec := ingestRequest(spigot, http.MethodPost, "/api/v1/subscriptions", body, nil)
		assert.Equal(t, http.StatusCreated, rec.Code, "request %d", i+1)
	}

	rec := ingestRequest(spigot, http.MethodPost, "/api/v1/subscriptions", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "retry_after")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestGetSubscription_NotFound(t *testing.T) {
	mockDB := new(testutil.MockQuerier)
	spigot := newSubscriptionsTestApp(t, mockDB)

	id := testutil.NewUUID()
	mockDB.On("GetSubscription", mock.Anything, id).Return(db.Subscription{}, pgx.ErrNoRows)

	rec := ingestRequest(spigot, http.MethodGet, "/api/v1/subscriptions/"+app.UuidToString(id), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateSubscription_BumpsAndInvalidates(t *testing.T) {
	mockDB := new(testutil.MockQuerier)
	spigot := newSubscriptionsTestApp(t, mockDB)

	existing := testutil.NewSubscription()
	updated := existing
	updated.TargetUrl = "https://example.com/v2"

	mockDB.On("GetSubscription", mock.Anything, existing.ID).Return(existing, nil)
	mockDB.On("UpdateSubscription", mock.Anything, mock.MatchedBy(func(arg db.UpdateSubscriptionParams) bool {
		return arg.ID == existing.ID && arg.TargetUrl == "https://example.com/v2" && arg.UpdatedAt.Valid
	})).Return(updated, nil)

	// Seed the cache so we can observe the invalidation
	require.NoError(t, spigot.SubCache.Put(t.Context(), existing))

	rec := ingestRequest(spigot, http.MethodPut,
		"/api/v1/subscriptions/"+app.UuidToString(existing.ID),
		[]byte(`{"target_url":"https://example.com/v2"}`), nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	// Stale record must not be observable after the mutation responds
	_, found, err := spigot.SubCache.Get(t.Context(), existing.ID)
	require.NoError(t, err)
	assert.False(t, found)
	mockDB.AssertExpectations(t)
}

func TestDeleteSubscription_Invalidates(t *testing.T) {
	mockDB := new(testutil.MockQuerier)
	spigot := newSubscriptionsTestApp(t, mockDB)

	existing := testutil.NewSubscription()
	mockDB.On("GetSubscription", mock.Anything, existing.ID).Return(existing, nil)
	mockDB.On("DeleteSubscription", mock.Anything, existing.ID).Return(nil)

	require.NoError(t, spigot.SubCache.Put(t.Context(), existing))

	rec := ingestRequest(spigot, http.MethodDelete,
		"/api/v1/subscriptions/"+app.UuidToString(existing.ID), nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	_, found, err := spigot.SubCache.Get(t.Context(), existing.ID)
	require.NoError(t, err)
	assert.False(t, found)
	mockDB.AssertExpectations(t)
}

func TestListSubscriptionDeliveries(t *testing.T) {
	mockDB := new(testutil.MockQuerier)
	spigot := newSubscriptionsTestApp(t, mockDB)

	sub := testutil.NewSubscription()
	logs := []db.DeliveryLog{
		testutil.NewDeliveryLog(func(l *db.DeliveryLog) {
			l.SubscriptionID = sub.ID
			l.Status = db.DeliveryLogStatusSUCCESS
		}),
	}
	mockDB.On("SubscriptionExists", mock.Anything, sub.ID).Return(true, nil)
	mockDB.On("ListDeliveryLogsForSubscription", mock.Anything, db.ListDeliveryLogsForSubscriptionParams{
		SubscriptionID: sub.ID,
		Limit:          20,
	}).Return(logs, nil)

	rec := ingestRequest(spigot, http.MethodGet,
		"/api/v1/subscriptions/"+app.UuidToString(sub.ID)+"/deliveries", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp []DeliveryLogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "SUCCESS", resp[0].Status)
}
