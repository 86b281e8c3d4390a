package middleware

import (
	"net/http"
)

func AllStandardMiddleware(rateLimit func(http.Handler) http.Handler, next http.Handler) http.Handler {
	return ContextLoggerMiddleware(LoggingMiddleware(rateLimit(next)))
}
