// Package events publishes domain events for downstream consumers
// (notifications, analytics). Publishing never blocks or fails a checkout.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Type names an event.
type Type string

const (
	OrderCreated          Type = "order.created"
	OrderPaid             Type = "order.paid"
	OrderRefunded         Type = "order.refunded"
	RefundRequestCreated  Type = "refund_request.created"
	RefundRequestResolved Type = "refund_request.resolved"
)

// Event is a single domain event.
type Event struct {
	Type       Type
	OrderID    string
	UserID     string
	Amount     decimal.Decimal
	Status     string
	Reference  string
	OccurredAt time.Time
}

// Encode writes e as a JSON object.
func (e Event) Encode(enc *jx.Encoder) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Type)) })
		enc.Field("order_id", func(enc *jx.Encoder) { enc.Str(e.OrderID) })
		if e.UserID != "" {
			enc.Field("user_id", func(enc *jx.Encoder) { enc.Str(e.UserID) })
		}
		enc.Field("amount", func(enc *jx.Encoder) { enc.Str(e.Amount.StringFixed(2)) })
		if e.Status != "" {
			enc.Field("status", func(enc *jx.Encoder) { enc.Str(e.Status) })
		}
		if e.Reference != "" {
			enc.Field("reference", func(enc *jx.Encoder) { enc.Str(e.Reference) })
		}
		enc.Field("occurred_at", func(enc *jx.Encoder) { enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano)) })
	})
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PublishBestEffort stamps and publishes e, logging instead of returning
// any failure. A nil publisher is a no-op.
func PublishBestEffort(ctx context.Context, p Publisher, lg *zap.Logger, e Event) {
	if p == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if err := p.Publish(ctx, e); err != nil {
		lg.Warn("Publish event",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

// LogPublisher writes events to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	lg *zap.Logger
}

// NewLogPublisher returns a LogPublisher.
func NewLogPublisher(lg *zap.Logger) *LogPublisher {
	return &LogPublisher{lg: lg}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.lg.Info("Event",
		zap.String("type", string(e.Type)),
		zap.String("order_id", e.OrderID),
		zap.String("amount", e.Amount.StringFixed(2)),
		zap.String("status", e.Status),
	)
	return nil
}
