package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/events"
)

// Quoter builds checkout contexts from the stored cart.
type Quoter interface {
	Quote(ctx context.Context, userID string, in checkout.Input) (checkout.Context, error)
}

// Service places orders that do not go through the payment gateway.
type Service struct {
	quotes  Quoter
	factory *Factory
	events  events.Publisher
	lg      *zap.Logger
}

// NewService creates an order Service.
func NewService(quotes Quoter, factory *Factory, publisher events.Publisher, lg *zap.Logger) *Service {
	return &Service{
		quotes:  quotes,
		factory: factory,
		events:  publisher,
		lg:      lg,
	}
}

// PlacePickupOrder creates an unpaid order that is settled at pickup.
func (s *Service) PlacePickupOrder(ctx context.Context, userID string, in checkout.Input) (*Order, error) {
	if pricing.ParseDeliveryMethod(in.DeliveryMethod) != pricing.DeliveryPickup {
		return nil, ErrDeliveryUnpaid
	}
	cc, err := s.quotes.Quote(ctx, userID, in)
	if err != nil {
		return nil, errors.Wrap(err, "quote")
	}
	o, err := s.factory.CreateOrder(ctx, userID, cc)
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	events.PublishBestEffort(ctx, s.events, s.lg, events.Event{
		Type:    events.OrderCreated,
		OrderID: o.ID,
		UserID:  userID,
		Amount:  o.Total,
		Status:  string(o.PaymentStatus),
	})
	return o, nil
}
