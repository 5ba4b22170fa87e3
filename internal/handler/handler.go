// Package handler exposes the checkout services over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/history"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/refund"
)

// Carts reads and mutates the caller's cart.
type Carts interface {
	Snapshot(ctx context.Context, userID string) (cart.Snapshot, error)
	Add(ctx context.Context, userID, productID string, quantity int) error
	SetQuantity(ctx context.Context, userID, productID string, quantity int) error
	Remove(ctx context.Context, userID, productID string) error
}

// Quotes prices the caller's cart.
type Quotes interface {
	Quote(ctx context.Context, userID string, in checkout.Input) (checkout.Context, error)
}

// Orders places orders paid at pickup.
type Orders interface {
	PlacePickupOrder(ctx context.Context, userID string, in checkout.Input) (*order.Order, error)
}

// Payments moves money through the gateway.
type Payments interface {
	CreatePayment(ctx context.Context, userID string, in checkout.Input) (*payment.Intent, error)
	Capture(ctx context.Context, userID, gatewayOrderID string, in checkout.Input) (*payment.CaptureResult, error)
	Refund(ctx context.Context, actor auth.Principal, in payment.RefundInput) (*payment.RefundResult, error)
	LinkCapture(ctx context.Context, actor auth.Principal, orderID, method, reference string) (*order.Order, error)
}

// History renders order projections.
type History interface {
	History(ctx context.Context, userID string) ([]history.OrderView, error)
	Invoice(ctx context.Context, p auth.Principal, orderID string) (*history.OrderView, error)
	Deliveries(ctx context.Context, p auth.Principal, f history.DeliveryFilter) ([]history.OrderView, error)
}

// Refunds manages refund requests.
type Refunds interface {
	Submit(ctx context.Context, actor auth.Principal, orderID, reason string, amount *decimal.Decimal) (*refund.Request, error)
	Resolve(ctx context.Context, actor auth.Principal, id int64, decision refund.Status, note string) (*refund.Request, error)
	ListForOrder(ctx context.Context, actor auth.Principal, orderID string) ([]refund.Request, error)
	ListOpen(ctx context.Context, actor auth.Principal) ([]refund.Request, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative product image paths.
	ImageBaseURL string
}

// Deps are the services the Handler delegates to.
type Deps struct {
	Products product.Repository
	Carts    Carts
	Quotes   Quotes
	Orders   Orders
	Payments Payments
	History  History
	Refunds  Refunds
}

// Handler serves the /api routes.
type Handler struct {
	Deps
	imageBaseURL string
	validate     *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig, deps Deps) *Handler {
	return &Handler{
		Deps:         deps,
		imageBaseURL: cfg.ImageBaseURL,
		validate:     newValidator(),
	}
}

// Routes mounts the API on a chi router. Authentication runs before any
// route; anonymous callers may browse the catalog and read an empty cart.
func (h *Handler) Routes(security *SecurityHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(security.Middleware)

	r.Get("/products", h.listProducts)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Post("/items", h.addCartItem)
		r.Put("/items/{productID}", h.setCartQuantity)
		r.Delete("/items/{productID}", h.removeCartItem)
	})

	r.Post("/checkout/quote", h.quote)
	r.Post("/checkout/pickup", h.placePickupOrder)

	r.Post("/payments", h.createPayment)
	r.Post("/payments/{gatewayOrderID}/capture", h.capturePayment)

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Get("/{orderID}", h.getInvoice)
		r.Get("/{orderID}/refund-requests", h.listRefundRequests)
		r.Post("/{orderID}/refund-requests", h.submitRefundRequest)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/orders/{orderID}/refunds", h.executeRefund)
		r.Post("/orders/{orderID}/payment-reference", h.linkPaymentReference)
		r.Get("/deliveries", h.listDeliveries)
		r.Get("/refund-requests", h.listOpenRefundRequests)
		r.Post("/refund-requests/{requestID}/resolve", h.resolveRefundRequest)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, errRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusMethodNotAllowed) })
				e.Field("message", func(e *jx.Encoder) { e.Str("method not allowed") })
			})
		})
	})
	return r
}
