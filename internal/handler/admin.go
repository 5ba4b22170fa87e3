package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/history"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

func (h *Handler) executeRefund(w http.ResponseWriter, r *http.Request) {
	var body adminRefundBody
	if err := h.bind(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Payments.Refund(r.Context(), auth.FromContext(r.Context()), payment.RefundInput{
		OrderID:   chi.URLParam(r, "orderID"),
		Amount:    body.Amount,
		RequestID: body.RequestID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRefund(e, *res) })
}

func (h *Handler) linkPaymentReference(w http.ResponseWriter, r *http.Request) {
	var body linkReferenceBody
	if err := h.bind(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Payments.LinkCapture(r.Context(), auth.FromContext(r.Context()),
		chi.URLParam(r, "orderID"), body.Method, body.Reference)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
}

// listDeliveries accepts ?payment_status= and ?limit=.
func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f history.DeliveryFilter
	if s := q.Get("payment_status"); s != "" {
		f.PaymentStatus = order.PaymentStatus(s)
		if !f.PaymentStatus.Valid() {
			writeError(w, r, errInvalidParam.Withf("unknown payment_status %q", s))
			return
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, r, errInvalidParam.Withf("limit must be a positive integer"))
			return
		}
		f.Limit = n
	}

	views, err := h.History.Deliveries(r.Context(), auth.FromContext(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrderViews(e, views) })
}

func (h *Handler) listOpenRefundRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Refunds.ListOpen(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRefundRequests(e, reqs) })
}

func (h *Handler) resolveRefundRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "requestID"), "requestID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body resolveBody
	if err := h.bind(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := h.Refunds.Resolve(r.Context(), auth.FromContext(r.Context()), id, body.Status(), body.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRefundRequest(e, *req) })
}
