package httputil

import (
	"net/http"
	"runtime/debug"

	"github.com/nimbushost/billing/pkg/observability"
)

// Recovery converts a handler panic into a 500 response instead of tearing
// down the connection. The panic value and stack go to the request-scoped
// logger; the client only ever sees a generic message.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				observability.FromContext(r.Context()).
					WithField("panic", rec).
					WithField("stack", string(debug.Stack())).
					WithField("path", r.URL.Path).
					Error("Handler panic recovered")
				WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// MaxBytes caps the request body at limit bytes. Reads past the limit fail,
// which the JSON and payload readers surface as a 400.
func MaxBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
