package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mediatech/mediatech-auth/internal/guard"
	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/middleware"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/service"
	"github.com/mediatech/mediatech-auth/internal/telemetry"
)

// Sessions is the login, refresh, logout and profile surface
type Sessions interface {
	Login(ctx context.Context, c service.Credentials) (*service.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*service.RefreshResponse, error)
	Logout(ctx context.Context, accessToken string) error
	UpdateEmail(ctx context.Context, username, email, actor string) error
	VerifyAccount(ctx context.Context, code string) error
}

// Accounts is the administrative account surface
type Accounts interface {
	Status(ctx context.Context, username string) (*service.AccountStatus, error)
	Unlock(ctx context.Context, username, actor string) error
	UpdateAccess(ctx context.Context, username string, change service.AccessChange, actor string) (*service.AccountStatus, error)
	RevokeSessions(ctx context.Context, username, accessToken, actor string) (int64, error)
}

// Analytics serves risk scoring and dashboard data
type Analytics interface {
	Dashboard(ctx context.Context) (*service.Dashboard, error)
	TopRiskyUsers(ctx context.Context, limit int) ([]*model.RiskProfile, error)
	InvoiceStats(ctx context.Context) (*model.InvoiceStats, error)
	Timeline(ctx context.Context, hours int) ([]service.TimelinePoint, error)
	FindInvoice(ctx context.Context, ref string) (*model.InvoiceActivity, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Dependency is a named backing store checked by /health and /ready
type Dependency struct {
	Name   string
	Pinger Pinger
}

var (
	_ Sessions  = (*service.SessionService)(nil)
	_ Accounts  = (*service.AccountService)(nil)
	_ Analytics = (*service.RiskService)(nil)
)

// Handler holds all HTTP handlers
type Handler struct {
	sessions  Sessions
	accounts  Accounts
	analytics Analytics
	audit     *telemetry.Recorder
	deps      []Dependency
	log       *logger.Logger
}

// New creates a new Handler instance
func New(sessions Sessions, accounts Accounts, analytics Analytics, audit *telemetry.Recorder, deps []Dependency, log *logger.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		accounts:  accounts,
		analytics: analytics,
		audit:     audit,
		deps:      deps,
		log:       log.WithComponent("handler"),
	}
}

// JSON helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"message": message})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// actor returns the authenticated principal as a guard actor. Routes behind
// the auth middleware always have one.
func actor(r *http.Request) guard.Actor {
	if p, ok := middleware.GetPrincipal(r.Context()); ok {
		return guard.Actor{Username: p.Username, Role: p.Role}
	}
	return guard.Actor{}
}
