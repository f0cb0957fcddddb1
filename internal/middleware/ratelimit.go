package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for a specific rate limit
type RateLimitConfig struct {
	Name   string
	Limit  int
	Window time.Duration
	KeyFn  func(*http.Request) string
}

// RateLimit counts requests per key in Redis. When Redis is unreachable an
// in-process token bucket with the same average rate is used instead.
func (m *Middleware) RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.cfg.Security.RateLimiting.Enabled || cfg.Limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := fmt.Sprintf("ratelimit:%s:%s", cfg.Name, cfg.KeyFn(r))

			if m.rdb != nil {
				count, ttl, err := m.rdb.IncrWithWindow(r.Context(), key, cfg.Window)
				if err == nil {
					w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
					w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, cfg.Limit-int(count))))
					w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

					if int(count) > cfg.Limit {
						m.tooManyRequests(w, r, ttl)
						return
					}
					next.ServeHTTP(w, r)
					return
				}
				m.log.Warn().Err(err).Msg("Rate limit store unavailable, using local limiter")
			}

			if !m.localLimiter(key, cfg).Allow() {
				m.tooManyRequests(w, r, cfg.Window/time.Duration(cfg.Limit))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) tooManyRequests(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	m.log.Warn().Str("path", r.URL.Path).Str("ip", ClientIP(r)).Msg("Rate limit exceeded")
	writeJSONError(w, http.StatusTooManyRequests, `{"error":"Too many requests. Please try again later."}`)
}

func (m *Middleware) localLimiter(key string, cfg RateLimitConfig) *rate.Limiter {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()

	limiter, ok := m.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.Limit)), cfg.Limit)
		m.limiters[key] = limiter
	}
	return limiter
}

// IPKey returns the client IP address as the rate limit key
func IPKey(r *http.Request) string {
	return ClientIP(r)
}

// UsernameKey returns the authenticated username, falling back to the IP
func UsernameKey(r *http.Request) string {
	if p, ok := GetPrincipal(r.Context()); ok {
		return p.Username
	}
	return ClientIP(r)
}
