package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gantry/gantry/pkg/logger"
)

// Recovery returns a middleware that converts panics into 500 responses.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered",
						"panic", rec,
						"path", r.URL.Path,
						"request_id", GetRequestID(r.Context()),
						"stack", string(debug.Stack()),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error","kind":"Internal"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
