// Package middleware provides HTTP middleware for the ledger API.
package middleware

import (
	"net/http"
	"time"

	"github.com/horizon/portal-ledger/internal/logging"
)

// Logger is an HTTP middleware that logs request details using structured logging.
//
// Entries carry chi's request id through logging.FromContext, so an access
// line can be matched with the service log lines of the same request.
//
// Log fields:
//   - method, path, status
//   - duration_ms: Request processing time in milliseconds
//   - ip: Client IP resolved by TrustedRealIP
//   - actor: Operator resolved by Identity, when known
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", ClientIP(r),
		}
		if actor := ActorFrom(r.Context()); actor != "" {
			args = append(args, "actor", actor)
		}

		logger := logging.FromContext(r.Context())
		if ww.status >= http.StatusInternalServerError {
			logger.Warn("request", args...)
			return
		}
		logger.Info("request", args...)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying ResponseWriter to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
