package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mediatech/mediatech-auth/internal/guard"
)

// InvoiceSummary returns the security read model of one invoice
func (h *Handler) InvoiceSummary(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if v := guard.CheckInjection("ref", ref); v != nil {
		h.respondError(w, r, v)
		return
	}

	invoice, err := h.analytics.FindInvoice(r.Context(), ref)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if v := guard.CheckInvoiceAccess(actor(r), invoice); v != nil {
		h.respondError(w, r, v)
		return
	}

	writeJSON(w, http.StatusOK, invoice)
}
