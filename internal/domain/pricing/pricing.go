// Package pricing holds the money rules shared by the cart, checkout and
// payment flows: price normalization, percentage discounts and the delivery
// fee. All amounts are rounded to whole cents, half away from zero.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

// DeliveryMethod is how an order reaches the customer.
type DeliveryMethod string

const (
	DeliveryPickup   DeliveryMethod = "pickup"
	DeliveryDelivery DeliveryMethod = "delivery"
)

// ParseDeliveryMethod maps free-form input to a method. Only the exact
// string "delivery" selects delivery; everything else is pickup.
func ParseDeliveryMethod(s string) DeliveryMethod {
	if DeliveryMethod(s) == DeliveryDelivery {
		return DeliveryDelivery
	}
	return DeliveryPickup
}

// DefaultDeliveryFee is the flat fee charged for delivery orders.
var DefaultDeliveryFee = decimal.RequireFromString("1.50")

var hundred = decimal.NewFromInt(100)

// NormalizePrice clamps negative amounts to zero and rounds to cents.
func NormalizePrice(d decimal.Decimal) decimal.Decimal {
	return floorAtZero(d).Round(2)
}

// NormalizeFloat is NormalizePrice for float inputs; NaN and infinities
// become zero.
func NormalizeFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return decimal.Zero
	}
	return NormalizePrice(decimal.NewFromFloat(f))
}

// EffectivePrice applies a percentage discount to base. The percentage is
// clamped to [0, 100].
func EffectivePrice(base, discountPercent decimal.Decimal) (price decimal.Decimal, hasDiscount bool) {
	d := ClampPercent(discountPercent)
	base = NormalizePrice(base)
	if d.IsZero() {
		return base, false
	}
	factor := hundred.Sub(d).Div(hundred)
	return floorAtZero(base.Mul(factor)).Round(2), true
}

// ClampPercent bounds a percentage to [0, 100].
func ClampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// LineTotal returns price * quantity rounded to cents.
func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// Sum adds already rounded amounts and rounds the result.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a.Round(2))
	}
	return total.Round(2)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
