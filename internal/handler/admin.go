package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mediatech/mediatech-auth/internal/guard"
)

// AdminRiskyUsers lists the riskiest users
func (h *Handler) AdminRiskyUsers(w http.ResponseWriter, r *http.Request) {
	h.UserRiskAnalysis(w, r)
}

// AdminInvoiceStats returns invoice security statistics
func (h *Handler) AdminInvoiceStats(w http.ResponseWriter, r *http.Request) {
	h.InvoiceAnalysis(w, r)
}

// AdminUnlockAccount clears the lockout of an account
func (h *Handler) AdminUnlockAccount(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if v := guard.ValidateAlphanumeric("username", username); v != nil {
		h.respondError(w, r, v)
		return
	}

	if err := h.accounts.Unlock(r.Context(), username, actor(r).Username); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.log.Info().Str("username", username).Str("admin", actor(r).Username).Msg("Account unlocked by admin")
	writeMessage(w, http.StatusOK, "Account unlocked")
}

// AdminAccountStatus returns the role, enablement and lockout state of an
// account
func (h *Handler) AdminAccountStatus(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if v := guard.ValidateAlphanumeric("username", username); v != nil {
		h.respondError(w, r, v)
		return
	}

	status, err := h.accounts.Status(r.Context(), username)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type revokeRequest struct {
	AccessToken string `json:"accessToken"`
}

// AdminRevokeSessions revokes every refresh token of an account. An access
// token passed in the body is blacklisted as well.
func (h *Handler) AdminRevokeSessions(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if v := guard.ValidateAlphanumeric("username", username); v != nil {
		h.respondError(w, r, v)
		return
	}

	var req revokeRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	admin := actor(r).Username
	revoked, err := h.accounts.RevokeSessions(r.Context(), username, strings.TrimSpace(req.AccessToken), admin)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.log.Warn().Str("username", username).Str("admin", admin).Int64("revoked", revoked).Msg("Sessions revoked by admin")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":              "Sessions revoked",
		"revokedRefreshTokens": revoked,
	})
}
