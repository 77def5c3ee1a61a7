// Package middleware holds the gateway HTTP middleware chain.
package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"parley/internal/httputil"
)

// Recovery turns handler panics into 500 responses instead of taking the
// process down with an in-flight stream.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
