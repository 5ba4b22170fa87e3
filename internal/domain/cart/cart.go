// Package cart reads and mutates the per-user shopping cart. The cart is
// always loaded from the store; nothing is cached in process.
package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

var (
	ErrInvalidQuantity = apperr.Validation("invalid_quantity", "quantity must be at least 1")
	ErrLineNotFound    = apperr.NotFound("cart_line_not_found", "product is not in the cart")
)

// StoredLine is a cart row joined with the live product data.
type StoredLine struct {
	ProductID       string
	Name            string
	Price           decimal.Decimal
	DiscountPercent decimal.Decimal
	Quantity        int
	AddedAt         time.Time
}

// Line is a priced cart entry.
type Line struct {
	ProductID      string
	Name           string
	UnitPrice      decimal.Decimal
	EffectivePrice decimal.Decimal
	HasDiscount    bool
	Quantity       int
}

// Snapshot is the cart of one user at the time it was read.
type Snapshot struct {
	UserID string
	Lines  []Line
}

// Empty reports whether the snapshot has no lines.
func (s Snapshot) Empty() bool { return len(s.Lines) == 0 }

// Repository persists cart lines.
type Repository interface {
	// Lines returns the user's cart in insertion order.
	Lines(ctx context.Context, userID string) ([]StoredLine, error)
	// Add inserts a line or increments the quantity of an existing one.
	Add(ctx context.Context, userID, productID string, quantity int) error
	SetQuantity(ctx context.Context, userID, productID string, quantity int) error
	Remove(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}
