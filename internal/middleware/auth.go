package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/mediatech/mediatech-auth/internal/model"
)

const invalidTokenBody = `{"error":"Invalid or expired token"}`

// Authenticator resolves a bearer token to the principal it was issued to
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken, ip string) (*model.Principal, error)
}

// Auth requires a valid, non-blacklisted bearer token and stores the
// principal in the request context. The failure reason is only logged.
func (m *Middleware) Auth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, invalidTokenBody)
				return
			}

			p, err := authn.Authenticate(r.Context(), token, ClientIP(r))
			if err != nil {
				m.log.Warn().Err(err).Str("path", r.URL.Path).Str("ip", ClientIP(r)).Msg("Token rejected")
				writeJSONError(w, http.StatusUnauthorized, invalidTokenBody)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects principals that hold none of the given roles
func (m *Middleware) RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := GetPrincipal(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, invalidTokenBody)
				return
			}
			if !slices.Contains(roles, p.Role) {
				if m.audit != nil {
					m.audit.UnauthorizedAccess(r.Context(), p.Username, r.URL.Path, r.Method, ClientIP(r), "Access denied: insufficient role "+string(p.Role))
				}
				writeJSONError(w, http.StatusForbidden, `{"error":"You do not have permission to access this resource"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal returns the authenticated principal, if any
func GetPrincipal(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*model.Principal)
	return p, ok && p != nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeJSONError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
