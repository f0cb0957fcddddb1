package handler

import (
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mediatech/mediatech-auth/internal/guard"
	"github.com/mediatech/mediatech-auth/internal/model"
	"github.com/mediatech/mediatech-auth/internal/service"
)

// updatableUserFields is the whitelist for profile updates
var updatableUserFields = []string{"email"}

// accessFields go through the role and enablement guards instead of the
// whitelist
var accessFields = []string{"role", "enabled"}

// UpdateUser applies a user update. The email is the only profile field;
// role and enabled are applied for admins and rejected as privilege
// escalation for everyone else. Any other field is a mass-assignment
// attempt.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "username")
	a := actor(r)

	if v := guard.CheckSelfModification(a, target); v != nil {
		h.respondError(w, r, v)
		return
	}

	var body map[string]json.RawMessage
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fields := make([]string, 0, len(body))
	accessRequested := false
	for f := range body {
		if slices.Contains(accessFields, f) {
			accessRequested = true
			continue
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)

	if v := guard.CheckMassAssignment(a, guard.EntityUser, fields); v != nil {
		h.respondError(w, r, v)
		return
	}
	for _, f := range fields {
		if v := guard.CheckWhitelist(a, f, updatableUserFields); v != nil {
			h.respondError(w, r, v)
			return
		}
	}

	change, ok := h.accessChange(w, r, a, target, body)
	if !ok {
		return
	}

	resp := map[string]interface{}{"username": target}

	if raw, present := body["email"]; present || !accessRequested {
		var email string
		if !present || json.Unmarshal(raw, &email) != nil {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}
		email = strings.TrimSpace(email)
		if email == "" {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}
		if v := guard.CheckInjection("email", email); v != nil {
			h.respondError(w, r, v)
			return
		}
		if guard.ValidateEmail(email) != nil {
			writeError(w, http.StatusBadRequest, "Invalid email address")
			return
		}
		if err := h.sessions.UpdateEmail(r.Context(), target, email, a.Username); err != nil {
			h.respondError(w, r, err)
			return
		}
		resp["email"] = email
	}

	if change.Role != nil || change.Enabled != nil {
		status, err := h.accounts.UpdateAccess(r.Context(), target, change, a.Username)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		resp["role"] = status.Role
		resp["enabled"] = status.Enabled
	}

	writeJSON(w, http.StatusOK, resp)
}

// accessChange decodes role and enabled from body and runs them through
// the modification guards. A role equal to the current one is dropped.
func (h *Handler) accessChange(w http.ResponseWriter, r *http.Request, a guard.Actor, target string, body map[string]json.RawMessage) (service.AccessChange, bool) {
	var change service.AccessChange

	if raw, ok := body["role"]; ok {
		var role model.Role
		if err := json.Unmarshal(raw, &role); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return change, false
		}
		status, err := h.accounts.Status(r.Context(), target)
		if err != nil {
			h.respondError(w, r, err)
			return change, false
		}
		if v := guard.CheckRoleModification(a, string(status.Role), string(role)); v != nil {
			h.respondError(w, r, v)
			return change, false
		}
		if role != status.Role {
			change.Role = &role
		}
	}

	if raw, ok := body["enabled"]; ok {
		var enabled bool
		if err := json.Unmarshal(raw, &enabled); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return change, false
		}
		if v := guard.CheckEnabledModification(a); v != nil {
			h.respondError(w, r, v)
			return change, false
		}
		change.Enabled = &enabled
	}

	return change, true
}
