package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mediatech/mediatech-auth/internal/config"
	"github.com/mediatech/mediatech-auth/internal/database"
	"github.com/mediatech/mediatech-auth/internal/guard"
	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/telemetry"
)

type eventSink struct {
	mu     sync.Mutex
	events []*model.SecurityEvent
}

func (s *eventSink) Write(_ context.Context, e *model.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type stubAuthenticator struct {
	principals map[string]*model.Principal
}

func (a stubAuthenticator) Authenticate(_ context.Context, token, _ string) (*model.Principal, error) {
	if p, ok := a.principals[token]; ok {
		return p, nil
	}
	return nil, errors.New("token rejected")
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = true
	return cfg
}

func newTestMiddleware(t *testing.T, rdb *database.Redis) (*Middleware, *eventSink, *telemetry.Dispatcher) {
	t.Helper()
	sink := &eventSink{}
	dispatcher := telemetry.NewDispatcher(telemetry.Config{QueueSize: 16}, sink, nil, logger.Nop())
	t.Cleanup(dispatcher.Close)
	audit := telemetry.NewRecorder(dispatcher, logger.Nop())
	return New(rdb, logger.Nop(), testConfig(), audit), sink, dispatcher
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestIDIsGeneratedOrPropagated(t *testing.T) {
	mw, _, _ := newTestMiddleware(t, nil)

	var seen string
	h := mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "req-42", seen)
}

func TestClientIPUsesFirstForwardedHop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	require.Equal(t, "192.0.2.1:1234", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	require.Equal(t, "203.0.113.7", ClientIP(req))
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	mw, _, _ := newTestMiddleware(t, nil)
	alice := &model.Principal{Username: "alice", Role: model.RoleVendeur}
	authn := stubAuthenticator{principals: map[string]*model.Principal{"good": alice}}

	var got *model.Principal
	h := mw.Auth(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetPrincipal(r.Context())
	}))

	for _, header := range []string{"", "Bearer bad", "Basic good", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/api/users/alice", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, header)
		require.JSONEq(t, `{"error":"Invalid or expired token"}`, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/users/alice", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Same(t, alice, got)
}

func TestRequireRoleRecordsDeniedAccess(t *testing.T) {
	mw, sink, dispatcher := newTestMiddleware(t, nil)
	authn := stubAuthenticator{principals: map[string]*model.Principal{
		"admin":  {Username: "root", Role: model.RoleAdmin},
		"vendor": {Username: "alice", Role: model.RoleVendeur},
	}}
	h := mw.Auth(authn)(mw.RequireRole(model.RoleAdmin)(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/security/dashboard", nil)
	req.Header.Set("Authorization", "Bearer vendor")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/security/dashboard", nil)
	req.Header.Set("Authorization", "Bearer admin")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	dispatcher.Close()
	require.Equal(t, []string{model.EventUnauthorizedAccess}, sink.types())
}

func TestRateLimitWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := database.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	mw, _, _ := newTestMiddleware(t, rdb)

	h := mw.RateLimit(RateLimitConfig{Name: "login", Limit: 2, Window: time.Minute, KeyFn: IPKey})(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "198.51.100.9"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if i == 0 {
			require.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
			require.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
		}
		if rec.Code == http.StatusTooManyRequests {
			require.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	require.Equal(t, []int{200, 200, 429}, codes)

	// another client has its own budget
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "198.51.100.10"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitFallsBackToLocalLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := database.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	mw, _, _ := newTestMiddleware(t, rdb)
	mr.Close()

	h := mw.RateLimit(RateLimitConfig{Name: "login", Limit: 2, Window: time.Hour, KeyFn: IPKey})(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "198.51.100.9"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimitDisabled(t *testing.T) {
	mw, _, _ := newTestMiddleware(t, nil)
	mw.cfg.Security.RateLimiting.Enabled = false

	h := mw.RateLimit(RateLimitConfig{Name: "login", Limit: 1, Window: time.Hour, KeyFn: IPKey})(okHandler)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestQueryGuardStopsInjection(t *testing.T) {
	mw, _, _ := newTestMiddleware(t, nil)

	var violation *guard.Violation
	respond := func(w http.ResponseWriter, _ *http.Request, err error) {
		require.True(t, errors.As(err, &violation))
		w.WriteHeader(http.StatusBadRequest)
	}
	h := mw.QueryGuard(respond)(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/security/users/risk?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/security/users/risk?limit=1%20UNION%20SELECT%20password", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, guard.KindInjection, violation.Kind)
	require.Equal(t, "limit", violation.Field)
}

func TestRecoverReturnsGenericError(t *testing.T) {
	mw, _, _ := newTestMiddleware(t, nil)
	h := mw.Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"An unexpected error occurred"}`, rec.Body.String())
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	mw, _, _ := newTestMiddleware(t, nil)
	h := mw.SecurityHeaders(mw.CORS([]string{"http://localhost:4200"})(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:4200", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
