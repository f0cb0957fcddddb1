package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
)

// Recover recovers from panics, reports them to Sentry and logs the error
func (m *Middleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := string(debug.Stack())
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("path", r.URL.Path)
					scope.SetTag("method", r.Method)
					scope.SetExtra("panic", err)
					scope.SetExtra("stack", stack)
					sentry.CaptureMessage("panic in request")
				})

				m.log.Error().
					Interface("error", err).
					Str("stack", stack).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Msg("panic recovered")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"An unexpected error occurred"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
