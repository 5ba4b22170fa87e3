package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// requireUser returns the signed-in caller or fails for anonymous visitors.
func requireUser(r *http.Request) (auth.Principal, error) {
	p := auth.FromContext(r.Context())
	if p.Anonymous() {
		return p, checkout.ErrUnauthorized.Withf("sign in first")
	}
	return p, nil
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Products.List(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range products {
				h.encodeProduct(e, p)
			}
		})
	})
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	snap, err := h.Carts.Snapshot(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "cart snapshot"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, snap) })
}

// writeCart answers a cart mutation with the updated snapshot.
func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, userID string, status int) {
	snap, err := h.Carts.Snapshot(r.Context(), userID)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "cart snapshot"))
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeCart(e, snap) })
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	p, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addCartItemRequest
	if err := h.bind(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Carts.Add(r.Context(), p.UserID, req.ProductID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCart(w, r, p.UserID, http.StatusCreated)
}

func (h *Handler) setCartQuantity(w http.ResponseWriter, r *http.Request) {
	p, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req setQuantityRequest
	if err := h.bind(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	productID := chi.URLParam(r, "productID")
	if err := h.Carts.SetQuantity(r.Context(), p.UserID, productID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCart(w, r, p.UserID, http.StatusOK)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	p, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Carts.Remove(r.Context(), p.UserID, chi.URLParam(r, "productID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeStatus(w, http.StatusNoContent)
}
