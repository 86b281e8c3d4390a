package e2e

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sweater-ventures/spigot/api"
	"github.com/sweater-ventures/spigot/app"
	"github.com/sweater-ventures/spigot/config"
	"github.com/sweater-ventures/spigot/db"
	"github.com/sweater-ventures/spigot/testutil"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		fmt.Println("skipping e2e tests (-short flag)")
		os.Exit(0)
	}

	postgres := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(15433).
			Database("spigot_test"),
	)

	if err := postgres.Start(); err != nil {
		log.Fatalf("failed to start embedded postgres: %v", err)
	}

	pool, err := pgxpool.New(context.Background(),
		"host=localhost port=15433 user=postgres password=postgres dbname=spigot_test sslmode=disable",
	)
	if err != nil {
		postgres.Stop()
		log.Fatalf("failed to connect to embedded postgres: %v", err)
	}

	if err := runMigrations(pool); err != nil {
		pool.Close()
		postgres.Stop()
		log.Fatalf("failed to run migrations: %v", err)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	if err := postgres.Stop(); err != nil {
		log.Printf("warning: failed to stop embedded postgres: %v", err)
	}
	os.Exit(code)
}

// runMigrations reads all schema/*.sql files and executes the -- +migrate Up sections.
func runMigrations(pool *pgxpool.Pool) error {
	schemaDir := filepath.Join("..", "..", "schema")
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return fmt.Errorf("reading schema dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(schemaDir, f))
		if err != nil {
			return fmt.Errorf("reading %s: %w", f, err)
		}

		upSQL := extractMigrateUp(string(content))
		if upSQL == "" {
			continue
		}

		if _, err := pool.Exec(context.Background(), upSQL); err != nil {
			return fmt.Errorf("executing migration %s: %w", f, err)
		}
	}
	return nil
}

// extractMigrateUp returns the statements between -- +migrate Up and
// -- +migrate Down.
func extractMigrateUp(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx < 0 {
		return content
	}
	content = content[upIdx+len("-- +migrate Up"):]
	if downIdx := strings.Index(content, "-- +migrate Down"); downIdx >= 0 {
		content = content[:downIdx]
	}
	return strings.TrimSpace(content)
}

// testFixture bundles everything a scenario needs: the application over the
// shared pool, its HTTP surface, the worker, and the recording queue.
type testFixture struct {
	app    *app.Application
	worker *app.DeliveryWorker
	queue  *testutil.FakeEnqueuer
	router *http.ServeMux
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	// Each scenario starts from clean tables
	_, err := testPool.Exec(context.Background(), "TRUNCATE subscriptions, delivery_tasks, delivery_logs CASCADE")
	if err != nil {
		t.Fatalf("truncating tables: %v", err)
	}

	client, _ := testutil.NewRedis(t)
	queries := db.New(testPool)
	queue := testutil.NewFakeEnqueuer()

	a := &app.Application{
		Config: config.AppConfig{
			WebhookTimeoutSeconds:    2,
			WebhookMaxRetries:        5,
			WebhookRetryDelays:       "10,30,60,300,900",
			MaxWebhookPayloadSize:    1024 * 1024,
			VerifySSLCertificates:    true,
			TargetURLRateLimit:       1000,
			LogRetentionHours:        72,
			FailedTaskRetentionDays:  7,
			RateLimitEnabled:         false,
			SubscriptionCreateLimit:  5,
			SubscriptionCreateWindow: 60,
			PollIntervalSeconds:      30,
			PollBatchSize:            100,
			CacheTTLSeconds:          3600,
		},
		DB:            queries,
		Pool:          testPool,
		Redis:         client,
		Queue:         queue,
		SubCache:      app.NewSubscriptionCache(client, queries, time.Hour),
		Limiter:       app.NewRateLimiter(client, "fixed-window", 1000, 60),
		TargetLimiter: app.NewTargetRateLimiter(client, 1000),
		Metrics:       app.NewMetrics(),
	}

	router := http.NewServeMux()
	api.AddApis(a, router)

	return &testFixture{
		app:    a,
		worker: app.NewDeliveryWorker(a),
		queue:  queue,
		router: router,
	}
}

func (f *testFixture) do(t *testing.T, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(string(body)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// makeEligible clears a task's future next_attempt_at so the next worker pass
// claims it without waiting out the real backoff.
func makeEligible(t *testing.T, taskID string) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		"UPDATE delivery_tasks SET next_attempt_at = now() - interval '1 second' WHERE id = $1", taskID)
	if err != nil {
		t.Fatalf("making task eligible: %v", err)
	}
}

func countRows(t *testing.T, table string) int {
	t.Helper()
	var count int
	if err := testPool.QueryRow(context.Background(), "SELECT count(*) FROM "+table).Scan(&count); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return count
}
