package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// PaymentStatus is the cached payment state of an order. The payment ledger
// is the source of truth; this value is derived from it.
type PaymentStatus string

const (
	StatusUnpaid            PaymentStatus = "unpaid"
	StatusPaid              PaymentStatus = "paid"
	StatusPartiallyRefunded PaymentStatus = "partially_refunded"
	StatusRefunded          PaymentStatus = "refunded"
)

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusUnpaid, StatusPaid, StatusPartiallyRefunded, StatusRefunded:
		return true
	}
	return false
}

var (
	ErrNotFound       = apperr.NotFound("order_not_found", "order not found")
	ErrCheckoutFailed = apperr.Persistence("checkout_failed", "checkout failed")
	ErrDeliveryUnpaid = apperr.Validation("delivery_requires_payment", "delivery orders must be paid online")
)

// Order is a placed order. Only the payment fields change after creation.
type Order struct {
	ID               string
	UserID           string
	Total            decimal.Decimal
	DeliveryMethod   pricing.DeliveryMethod
	DeliveryAddress  string
	DeliveryFee      decimal.Decimal
	CreatedAt        time.Time
	PaymentMethod    string
	PaymentStatus    PaymentStatus
	PaymentReference string
	Items            []Item
}

// Item is an order line with the price paid at purchase time.
type Item struct {
	OrderID   string
	ProductID string
	// ProductName is empty when the product has since been deleted.
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// LineTotal returns UnitPrice * Quantity rounded to cents.
func (i Item) LineTotal() decimal.Decimal {
	return pricing.LineTotal(i.UnitPrice, i.Quantity)
}

// ListFilter narrows admin order listings.
type ListFilter struct {
	DeliveryMethod pricing.DeliveryMethod
	PaymentStatus  PaymentStatus
	Limit          int
}

// Repository reads orders.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	ListIDs(ctx context.Context) ([]string, error)
	ItemsByOrders(ctx context.Context, orderIDs []string) (map[string][]Item, error)
}

// Tx is the set of writes the factory performs inside one transaction.
type Tx interface {
	CountCartLines(ctx context.Context, userID string) (int, error)
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, orderID string, items []Item) error
}

// Store runs fn in a transaction. Returning an error from fn rolls back
// every write fn made.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
