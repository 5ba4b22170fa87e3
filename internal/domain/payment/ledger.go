// Package payment records captures and refunds in an append-only ledger and
// keeps each order's cached payment status consistent with it.
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/refund"
)

// Event is something that moves an order through the payment state machine.
type Event int

const (
	EventCapture Event = iota + 1
	EventRefund
)

var (
	ErrAlreadyPaid       = apperr.Validation("payment_already_captured", "order is already paid")
	ErrNotPaid           = apperr.Validation("payment_not_captured", "order has no captured payment")
	ErrFullyRefunded     = apperr.Validation("payment_fully_refunded", "order is already fully refunded")
	ErrInvalidAmount     = apperr.Validation("refund_invalid_amount", "refund amount must be positive")
	ErrExceedsTotal      = apperr.Validation("refund_exceeds_total", "refund amount exceeds order total")
	ErrExceedsRefundable = apperr.Validation("refund_exceeds_refundable", "refund amount exceeds remaining refundable balance")
	ErrMissingReference  = apperr.Validation("payment_reference_missing", "order has no capture reference")
	ErrCaptureInProgress = apperr.Validation("capture_in_progress", "capture is already being processed")
	ErrRefundInProgress  = apperr.Validation("refund_in_progress", "another refund for this order is being processed")
	ErrInvalidGatewayID  = apperr.Validation("gateway_order_required", "gateway order id is required")
	ErrStatusConflict    = apperr.Persistence("payment_status_conflict", "order payment status changed concurrently")
	ErrNotRecorded       = apperr.Persistence("payment_not_recorded", "payment completed but could not be recorded")
)

// Transition returns the status that follows current after event.
// cumulativeRefunded includes the refund being applied.
func Transition(current order.PaymentStatus, event Event, cumulativeRefunded, total decimal.Decimal) (order.PaymentStatus, error) {
	if current == order.StatusRefunded {
		return current, ErrFullyRefunded
	}
	switch event {
	case EventCapture:
		if current != order.StatusUnpaid {
			return current, ErrAlreadyPaid
		}
		return order.StatusPaid, nil
	case EventRefund:
		if current != order.StatusPaid && current != order.StatusPartiallyRefunded {
			return current, ErrNotPaid
		}
		if cumulativeRefunded.GreaterThan(total) {
			return current, ErrExceedsRefundable
		}
		if cumulativeRefunded.LessThan(total) {
			return order.StatusPartiallyRefunded, nil
		}
		return order.StatusRefunded, nil
	default:
		return current, apperr.Validation("payment_unknown_event", "unknown payment event")
	}
}

// Entry is one immutable ledger row.
type Entry struct {
	ID                int64
	OrderID           string
	Method            string
	Status            order.PaymentStatus
	Amount            decimal.Decimal
	ProviderReference string
	// Payload is the raw provider response.
	Payload   []byte
	CreatedAt time.Time
}

// IsRefund reports whether the entry records money returned to the customer.
func (e Entry) IsRefund() bool {
	return e.Status == order.StatusRefunded || e.Status == order.StatusPartiallyRefunded
}

// Record is a ledger entry together with the cache updates it implies. The
// ledger applies all of it in one transaction, inserting the entry first.
type Record struct {
	Entry Entry
	// ExpectStatus guards against a concurrent writer; the append fails with
	// ErrStatusConflict when the cached status differs.
	ExpectStatus order.PaymentStatus
	OrderStatus  order.PaymentStatus
	// PaymentMethod and PaymentReference overwrite the cache when non-empty.
	PaymentMethod    string
	PaymentReference string
	// Request, when set, is written back in the same transaction.
	Request *refund.Request
}

// Ledger stores payment entries and the order payment cache.
type Ledger interface {
	Append(ctx context.Context, rec Record) error
	Entries(ctx context.Context, orderID string) ([]Entry, error)
	// RefundedTotal sums refund entries of an order.
	RefundedTotal(ctx context.Context, orderID string) (decimal.Decimal, error)
	RefundedTotals(ctx context.Context, orderIDs []string) (map[string]decimal.Decimal, error)
	// UpdateReference changes the cached method and reference without
	// touching the status.
	UpdateReference(ctx context.Context, orderID, method, reference string) error
	// SetCachedStatus overwrites the cached status; used by reconciliation.
	SetCachedStatus(ctx context.Context, orderID string, status order.PaymentStatus, method, reference string) error
}

// RefundedSum sums the refund entries in entries.
func RefundedSum(entries []Entry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		if e.IsRefund() {
			sum = sum.Add(e.Amount)
		}
	}
	return sum.Round(2)
}

// CapturedSum sums the capture entries in entries.
func CapturedSum(entries []Entry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		if e.Status == order.StatusPaid {
			sum = sum.Add(e.Amount)
		}
	}
	return sum.Round(2)
}

// RefundLimit is the most that may be refunded in total: the order total,
// or the captured sum when the provider took less. A zero captured sum
// means the ledger has no captures and the total applies.
func RefundLimit(total, captured decimal.Decimal) decimal.Decimal {
	if captured.IsPositive() && captured.LessThan(total) {
		return captured
	}
	return total
}
