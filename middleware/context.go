package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/sweater-ventures/spigot/config"
)

func log(ctx context.Context) *slog.Logger {
	log := ctx.Value(config.LoggerContextKey)
	if log == nil {
		return slog.Default()
	} else {
		return (log).(*slog.Logger)
	}
}

// RequestID returns the request id assigned by ContextLoggerMiddleware, or ""
// when the middleware did not run.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(config.RequestIDContextKey).(string)
	return id
}

// ContextLoggerMiddleware adds a logger to the request context.  This includes the request id,
// which is also echoed back on the response.
func ContextLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				requestID = "unknown"
			} else {
				requestID = id.String()
			}
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), config.RequestIDContextKey, requestID)
		ctx = context.WithValue(ctx, config.LoggerContextKey, log(ctx).With(
			slog.String("request_id", requestID),
		))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
