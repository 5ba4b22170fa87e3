package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	views, err := h.History.History(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrderViews(e, views) })
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	view, err := h.History.Invoice(r.Context(), p, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrderView(e, *view) })
}

func (h *Handler) listRefundRequests(w http.ResponseWriter, r *http.Request) {
	p, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reqs, err := h.Refunds.ListForOrder(r.Context(), p, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRefundRequests(e, reqs) })
}

func (h *Handler) submitRefundRequest(w http.ResponseWriter, r *http.Request) {
	p, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body refundRequestBody
	if err := h.bind(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.Refunds.Submit(r.Context(), p, chi.URLParam(r, "orderID"), body.Reason, body.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeRefundRequest(e, *req) })
}
