package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sweater-ventures/spigot/app"
)

func init() {
	registerRoute(func(spigot *app.Application, router *http.ServeMux) {
		router.Handle("GET /v1/health", routeHandler(spigot, healthHandler))
		router.Handle("GET /v1/health/ready", routeHandler(spigot, readinessHandler))
	})
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func healthHandler(spigot *app.Application, w http.ResponseWriter, r *http.Request) {
	writeJsonResponse(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// readinessHandler checks the durable store and the shared KV. Either being
// down means new work cannot be accepted safely.
func readinessHandler(spigot *app.Application, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]string{"database": "ok", "redis": "ok"}
	status := http.StatusOK

	if err := spigot.Pool.Ping(ctx); err != nil {
		log(r.Context()).Error("Database readiness check failed", "error", err)
		components["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := spigot.Redis.Ping(ctx).Err(); err != nil {
		log(r.Context()).Error("Redis readiness check failed", "error", err)
		components["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	state := "ok"
	if status != http.StatusOK {
		state = "unavailable"
	}
	writeJsonResponse(w, status, HealthResponse{Status: state, Components: components})
}
