package middleware

import (
	"net/http"
	"sort"

	"github.com/mediatech/mediatech-auth/internal/guard"
)

// QueryGuard runs the injection check over every query parameter before the
// handler sees the request. Violations go to respond, which owns the
// response shape and the security event.
func (m *Middleware) QueryGuard(respond func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			keys := make([]string, 0, len(query))
			for k := range query {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				for _, v := range query[k] {
					if violation := guard.CheckInjection(k, v); violation != nil {
						respond(w, r, violation)
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
