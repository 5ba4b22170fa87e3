package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// CartClearer empties a user's cart after checkout.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

// Factory turns a checkout context into a persisted order.
type Factory struct {
	store Store
	carts CartClearer
	lg    *zap.Logger
	now   func() time.Time
	newID func() string
}

// NewFactory creates a Factory.
func NewFactory(store Store, carts CartClearer, lg *zap.Logger) *Factory {
	return &Factory{
		store: store,
		carts: carts,
		lg:    lg,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// CreateOrder persists the order header and all items in one transaction.
// The cart is re-checked inside the transaction so a concurrent checkout
// that already emptied it fails with checkout.ErrEmptyCart. Clearing the cart
// afterwards is best effort.
func (f *Factory) CreateOrder(ctx context.Context, userID string, cc checkout.Context) (*Order, error) {
	if len(cc.Lines) == 0 {
		return nil, checkout.ErrEmptyCart
	}

	o := &Order{
		ID:              f.newID(),
		UserID:          userID,
		Total:           cc.Total,
		DeliveryMethod:  cc.DeliveryMethod,
		DeliveryAddress: cc.DeliveryAddress,
		DeliveryFee:     cc.DeliveryFee,
		CreatedAt:       f.now().UTC(),
		PaymentStatus:   StatusUnpaid,
		Items:           make([]Item, len(cc.Lines)),
	}
	for i, l := range cc.Lines {
		o.Items[i] = Item{
			OrderID:     o.ID,
			ProductID:   l.ProductID,
			ProductName: l.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.EffectivePrice,
		}
	}

	err := f.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		n, err := tx.CountCartLines(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "count cart lines")
		}
		if n == 0 {
			return checkout.ErrEmptyCart
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		if err := tx.InsertItems(ctx, o.ID, o.Items); err != nil {
			return errors.Wrap(err, "insert items")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, checkout.ErrEmptyCart) {
			return nil, checkout.ErrEmptyCart
		}
		return nil, ErrCheckoutFailed.With(err)
	}

	if err := f.carts.Clear(ctx, userID); err != nil {
		f.lg.Warn("Cart not cleared after checkout",
			zap.String("order_id", o.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	return o, nil
}
