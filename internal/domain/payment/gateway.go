package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Provider statuses the service acts on.
const (
	StatusCompleted = "COMPLETED"
	StatusPending   = "PENDING"
)

// GatewayOrder is a payment order created at the provider.
type GatewayOrder struct {
	ID     string
	Status string
}

// Capture is the provider's answer to capturing a gateway order.
type Capture struct {
	OrderID   string
	Status    string
	CaptureID string
	Amount    *decimal.Decimal
	Payload   []byte
}

// Refund is the provider's answer to refunding a capture.
type Refund struct {
	ID      string
	Status  string
	Amount  *decimal.Decimal
	DebugID string
	Payload []byte
}

// Gateway is the external payment provider. Failures are returned as
// *apperr.GatewayError.
type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, amount decimal.Decimal, reference string) (*GatewayOrder, error)
	CaptureOrder(ctx context.Context, gatewayOrderID string) (*Capture, error)
	// RefundCapture refunds amount, or the full capture when amount is nil.
	// requestID makes retries of the same refund idempotent at the provider.
	RefundCapture(ctx context.Context, captureID string, amount *decimal.Decimal, requestID string) (*Refund, error)
}
