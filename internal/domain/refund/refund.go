// Package refund manages customer refund requests. A request records intent
// and the admin decision; money only moves through the payment service.
package refund

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusRequested         Status = "requested"
	StatusApproved          Status = "approved"
	StatusDenied            Status = "denied"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// MaxReasonLength bounds the customer supplied reason, in runes.
const MaxReasonLength = 1000

var (
	ErrNotFound        = apperr.NotFound("refund_request_not_found", "refund request not found")
	ErrNotOwner        = apperr.Authorization("refund_not_owner", "order belongs to another user")
	ErrReasonRequired  = apperr.Validation("refund_reason_required", "a reason is required")
	ErrInvalidAmount   = apperr.Validation("refund_invalid_amount", "amount must be positive and not exceed the order total")
	ErrInvalidDecision = apperr.Validation("refund_invalid_decision", "decision must be approved or denied")
	ErrNotOpen         = apperr.Validation("refund_not_open", "refund request is already resolved")
	ErrNotRefundable   = apperr.Validation("order_not_refundable", "order has no refundable payment")
	ErrOrderMismatch   = apperr.Validation("refund_order_mismatch", "refund request belongs to another order")
)

// Request is a customer refund request.
type Request struct {
	ID      int64
	OrderID string
	UserID  string
	// RequestedAmount is nil for a full refund.
	RequestedAmount *decimal.Decimal
	RefundedAmount  *decimal.Decimal
	Reason          string
	AdminNote       string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Open reports whether money can still be refunded against the request.
func (r Request) Open() bool {
	return r.Status == StatusRequested || r.Status == StatusApproved
}

// Repository persists refund requests.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id int64) (*Request, error)
	Update(ctx context.Context, r *Request) error
	ListByOrder(ctx context.Context, orderID string) ([]Request, error)
	LatestByOrders(ctx context.Context, orderIDs []string) (map[string]Request, error)
	ListByStatus(ctx context.Context, statuses []Status) ([]Request, error)
}

// Latest returns the most recently created request. Ties on CreatedAt go to
// the higher id.
func Latest(requests []Request) (Request, bool) {
	if len(requests) == 0 {
		return Request{}, false
	}
	latest := requests[0]
	for _, r := range requests[1:] {
		if r.CreatedAt.After(latest.CreatedAt) || (r.CreatedAt.Equal(latest.CreatedAt) && r.ID > latest.ID) {
			latest = r
		}
	}
	return latest, true
}

// ApplyRefund returns r moved to refunded or partially_refunded after the
// gateway confirmed a refund of amount.
func ApplyRefund(r Request, amount decimal.Decimal, partial bool, now time.Time) (Request, error) {
	if !r.Open() {
		return r, ErrNotOpen.Withf("request %d is %s", r.ID, r.Status)
	}
	r.Status = StatusRefunded
	if partial {
		r.Status = StatusPartiallyRefunded
	}
	amount = amount.Round(2)
	r.RefundedAmount = &amount
	r.UpdatedAt = now
	return r, nil
}
