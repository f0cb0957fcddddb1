package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/mediatech/mediatech-auth/internal/guard"
	"github.com/mediatech/mediatech-auth/internal/middleware"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/service"
)

// Messages returned to clients. Internal reasons only go to the log.
const (
	msgInvalidInput      = "The provided input contains invalid characters"
	msgUnprocessable     = "Unable to process the request"
	msgNotAuthorized     = "Access to this resource is not authorized"
	msgBadCredentials    = "Invalid username or password"
	msgAccountDisabled   = "Account not verified. Please check your email."
	msgInvalidRefresh    = "Invalid or expired refresh token"
	msgInvalidToken      = "Invalid or expired token"
	msgUnexpected        = "An unexpected error occurred"
	msgLockedWithMinutes = "Account is locked due to too many failed login attempts. Try again in %d minutes."
)

// respondError turns err into a sanitized response and records the matching
// security event. It is the only place that looks inside a guard violation.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	ip := middleware.ClientIP(r)
	log := h.log.WithRequestID(middleware.GetRequestID(ctx))

	var violation *guard.Violation
	if errors.As(err, &violation) {
		username := actor(r).Username
		switch violation.Kind {
		case guard.KindInjection:
			log.Error().Str("field", violation.Field).Str("ip", ip).Msg("SQL injection attempt blocked")
			h.audit.CriticalIncident(ctx, username, model.EventSQLInjectionAttempt, r.URL.Path, ip,
				"Suspicious SQL patterns detected in input: "+violation.Sample)
			writeError(w, http.StatusBadRequest, msgInvalidInput)
		case guard.KindMassAssignment:
			log.Warn().Str("field", violation.Field).Str("actor", violation.Actor).Msg("Mass assignment attempt blocked")
			h.audit.SuspiciousActivity(ctx, username, model.EventMassAssignmentAttempt, ip,
				"Attempted to modify protected field: "+violation.Field)
			writeError(w, http.StatusBadRequest, msgUnprocessable)
		default:
			log.Warn().Str("resource", violation.Resource).Str("actor", violation.Actor).Msg("IDOR attempt blocked")
			h.audit.SecurityIncident(ctx, username, model.EventIDORAttack, r.URL.Path, ip,
				"Attempted unauthorized access to resource: "+violation.Resource)
			writeError(w, http.StatusForbidden, msgNotAuthorized)
		}
		return
	}

	var locked *service.AccountLockedError
	switch {
	case errors.As(err, &locked):
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":            fmt.Sprintf(msgLockedWithMinutes, locked.RemainingMinutes),
			"remainingMinutes": locked.RemainingMinutes,
		})
	case errors.Is(err, service.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
	case errors.Is(err, service.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, msgAccountDisabled)
	case errors.Is(err, service.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "Invalid role")
	case errors.Is(err, service.ErrTokenNotOwned):
		log.Warn().Err(err).Str("ip", ip).Msg("Revocation token rejected")
		writeError(w, http.StatusBadRequest, "Access token does not belong to this user")
	case errors.Is(err, service.ErrRefreshTokenInvalid):
		log.Warn().Err(err).Str("ip", ip).Msg("Refresh rejected")
		writeError(w, http.StatusUnauthorized, msgInvalidRefresh)
	case errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrTokenInvalid),
		errors.Is(err, service.ErrTokenBlacklisted):
		log.Warn().Err(err).Str("ip", ip).Msg("Token rejected")
		writeError(w, http.StatusUnauthorized, msgInvalidToken)
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrInvoiceNotFound):
		writeError(w, http.StatusNotFound, "Invoice not found")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled error")
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
		writeError(w, http.StatusInternalServerError, msgUnexpected)
	}
}

// RespondError exposes the error mapper to middleware that rejects requests
// before a handler runs
func (h *Handler) RespondError(w http.ResponseWriter, r *http.Request, err error) {
	h.respondError(w, r, err)
}
