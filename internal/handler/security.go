package handler

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultRiskLimit     = 10
	maxRiskLimit         = 100
	defaultTimelineHours = 24
	maxTimelineHours     = 24 * 30
)

// SecurityDashboard returns KPIs, 24h distributions, top risky users and
// suspicious transactions
func (h *Handler) SecurityDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.analytics.Dashboard(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// UserRiskAnalysis returns the riskiest users, highest score first
func (h *Handler) UserRiskAnalysis(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRiskLimit, maxRiskLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profiles, err := h.analytics.TopRiskyUsers(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// InvoiceAnalysis returns high-value invoice statistics
func (h *Handler) InvoiceAnalysis(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analytics.InvoiceStats(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// EventTimeline returns hourly event counts for the trailing window
func (h *Handler) EventTimeline(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", defaultTimelineHours, maxTimelineHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := h.analytics.Timeline(r.Context(), hours)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// queryInt parses a positive integer query parameter, capped at max
func queryInt(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	if n > max {
		n = max
	}
	return n, nil
}
