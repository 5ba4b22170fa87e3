package pricing

import "github.com/shopspring/decimal"

// Policy carries the configurable parts of pricing.
type Policy struct {
	// Fee charged for delivery orders.
	Fee decimal.Decimal
	// Subtotal at or above which the fee is waived. Zero disables the waiver.
	FreeDeliveryThreshold decimal.Decimal
}

// DefaultPolicy charges the default fee and never waives it.
func DefaultPolicy() Policy {
	return Policy{Fee: DefaultDeliveryFee}
}

// DeliveryFee returns the fee for an order. Pickup, a waived order, or a
// user with free delivery pay nothing.
func (p Policy) DeliveryFee(method DeliveryMethod, waived, userHasFreeDelivery bool) decimal.Decimal {
	if method != DeliveryDelivery || waived || userHasFreeDelivery {
		return decimal.Zero
	}
	return NormalizePrice(p.Fee)
}

// Waived reports whether subtotal qualifies for free delivery.
func (p Policy) Waived(subtotal decimal.Decimal) bool {
	if !p.FreeDeliveryThreshold.IsPositive() {
		return false
	}
	return subtotal.GreaterThanOrEqual(p.FreeDeliveryThreshold)
}
