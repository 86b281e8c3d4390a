package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sweater-ventures/spigot/app"
)

// RateLimitResponse is the 429 body.
type RateLimitResponse struct {
	Detail     string `json:"detail"`
	Limit      int    `json:"limit"`
	Window     string `json:"window"`
	RetryAfter int    `json:"retry_after"`
	RequestID  string `json:"request_id,omitempty"`
}

// ClientKey identifies the caller for rate limiting: the first X-Forwarded-For
// hop when present, the remote address host otherwise.
func ClientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			forwarded = forwarded[:idx]
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware applies the default per-client, per-route limit to
// every request. On any limiter error the request is allowed through with a
// diagnostic header — rate limiting must never take the service down with it.
func RateLimitMiddleware(limiter *app.RateLimiter, enabled bool, windowSeconds int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := RequestID(r.Context())

			decision, err := limiter.Allow(r.Context(), ClientKey(r), app.RouteKey(r.URL.Path), requestID)
			if err != nil {
				log(r.Context()).Error("Rate limiting error", "error", err)
				w.Header().Set("X-Rate-Limit-Error", "1")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-Rate-Limit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-Rate-Limit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-Rate-Limit-Reset", strconv.Itoa(decision.Reset))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(RateLimitResponse{
					Detail:     "Rate limit exceeded",
					Limit:      decision.Limit,
					Window:     strconv.Itoa(windowSeconds) + " seconds",
					RetryAfter: decision.RetryAfter,
					RequestID:  requestID,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
