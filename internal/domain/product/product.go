package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// DeletedName is shown in place of a product that no longer exists in the
// catalog but is still referenced by historical order items.
const DeletedName = "Deleted product"

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = apperr.NotFound("product_not_found", "product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID              string
	Name            string
	Price           decimal.Decimal
	DiscountPercent decimal.Decimal
	Category        string
	ImageURL        string
}

// EffectivePrice returns the unit price after the product discount.
func (p Product) EffectivePrice() (decimal.Decimal, bool) {
	return pricing.EffectivePrice(p.Price, p.DiscountPercent)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
