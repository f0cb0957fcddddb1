package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mediatech/mediatech-auth/internal/config"
	"github.com/mediatech/mediatech-auth/internal/handler"
	"github.com/mediatech/mediatech-auth/internal/middleware"
	"github.com/mediatech/mediatech-auth/internal/model"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, authn middleware.Authenticator, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Panic recovery (outermost)
	r.Use(mw.Recover)
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.CORS(cfg.Server.AllowedOrigins))

	// Health check endpoints (no auth required)
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	limits := cfg.Security.RateLimiting
	loginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "login",
		Limit:  limits.LoginLimit,
		Window: limits.LoginWindow,
		KeyFn:  middleware.IPKey,
	})
	refreshRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "refresh",
		Limit:  limits.RefreshLimit,
		Window: limits.RefreshWindow,
		KeyFn:  middleware.IPKey,
	})
	verifyRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "verify",
		Limit:  limits.VerifyLimit,
		Window: limits.VerifyWindow,
		KeyFn:  middleware.IPKey,
	})
	apiRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "api",
		Limit:  limits.DefaultLimit,
		Window: limits.DefaultWindow,
		KeyFn:  middleware.UsernameKey,
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.QueryGuard(h.RespondError))

		// Public authentication routes (rate limited)
		r.Route("/auth", func(r chi.Router) {
			r.With(loginRateLimit).Post("/login", h.Login)
			r.With(refreshRateLimit).Post("/refresh", h.Refresh)
			r.Post("/logout", h.Logout)
			r.With(verifyRateLimit).Get("/verify", h.VerifyAccount)
		})

		// Protected routes (require auth)
		r.Group(func(r chi.Router) {
			r.Use(mw.Auth(authn))
			r.Use(apiRateLimit)

			r.Patch("/users/{username}", h.UpdateUser)
			r.Get("/invoices/{ref}/summary", h.InvoiceSummary)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(model.RoleAdmin))

				r.Route("/security", func(r chi.Router) {
					r.Get("/dashboard", h.SecurityDashboard)
					r.Get("/users/risk", h.UserRiskAnalysis)
					r.Get("/invoices/analysis", h.InvoiceAnalysis)
					r.Get("/events/timeline", h.EventTimeline)
				})

				r.Route("/admin", func(r chi.Router) {
					r.Get("/security/risky-users", h.AdminRiskyUsers)
					r.Get("/security/invoice-stats", h.AdminInvoiceStats)
					r.Get("/users/{username}", h.AdminAccountStatus)
					r.Post("/users/{username}/unlock", h.AdminUnlockAccount)
					r.Post("/users/{username}/revoke", h.AdminRevokeSessions)
				})
			})
		})
	})

	return r
}
