package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// bindCheckout decodes the optional delivery choice.
func (h *Handler) bindCheckout(r *http.Request) (checkout.Input, error) {
	var req checkoutRequest
	if err := h.bind(r, &req); err != nil {
		return checkout.Input{}, err
	}
	return checkout.Input{
		DeliveryMethod:  req.DeliveryMethod,
		DeliveryAddress: req.DeliveryAddress,
	}, nil
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	in, err := h.bindCheckout(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p := auth.FromContext(r.Context())
	cc, err := h.Quotes.Quote(r.Context(), p.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, cc) })
}

func (h *Handler) placePickupOrder(w http.ResponseWriter, r *http.Request) {
	p, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := h.bindCheckout(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.PlacePickupOrder(r.Context(), p.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, *o) })
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	p, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := h.bindCheckout(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	intent, err := h.Payments.CreatePayment(r.Context(), p.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeIntent(e, *intent) })
}

// capturePayment answers 201 for a new order and 200 when the gateway order
// was already captured into an existing one.
func (h *Handler) capturePayment(w http.ResponseWriter, r *http.Request) {
	p, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := h.bindCheckout(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Payments.Capture(r.Context(), p.UserID, chi.URLParam(r, "gatewayOrderID"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeCapture(e, *res) })
}
