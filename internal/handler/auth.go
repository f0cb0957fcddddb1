package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mediatech/mediatech-auth/internal/guard"
	"github.com/mediatech/mediatech-auth/internal/middleware"
	"github.com/mediatech/mediatech-auth/internal/service"
)

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest represents the refresh request body
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	if v := guard.CheckInjection("username", req.Username); v != nil {
		h.respondError(w, r, v)
		return
	}

	ip := middleware.ClientIP(r)
	h.log.Info().Str("username", req.Username).Str("ip", ip).Msg("Login attempt")

	resp, err := h.sessions.Login(r.Context(), service.Credentials{
		Username:  req.Username,
		Password:  req.Password,
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Refresh exchanges a refresh token for a new token pair
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusUnauthorized, msgInvalidRefresh)
		return
	}

	resp, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout blacklists the presented access token and revokes the user's
// refresh tokens. It always answers 200.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		writeMessage(w, http.StatusOK, "Logged out (no active session)")
		return
	}

	if err := h.sessions.Logout(r.Context(), token); err != nil {
		h.log.WithRequestID(middleware.GetRequestID(r.Context())).
			Error().Err(err).Msg("Logout failed")
		writeMessage(w, http.StatusOK, "Logged out")
		return
	}

	writeMessage(w, http.StatusOK, "Logged out successfully")
}

// VerifyAccount enables an account from the emailed verification link
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if v := guard.ValidateAlphanumeric("code", code); v != nil {
		h.respondError(w, r, v)
		return
	}

	if err := h.sessions.VerifyAccount(r.Context(), code); err != nil {
		if errors.Is(err, service.ErrVerificationCodeInvalid) {
			writeError(w, http.StatusBadRequest, "Invalid or expired verification link.")
			return
		}
		h.respondError(w, r, err)
		return
	}

	writeMessage(w, http.StatusOK, "Account verified successfully! You can now login.")
}
