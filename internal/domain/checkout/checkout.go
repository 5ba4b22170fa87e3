// Package checkout turns a cart snapshot and delivery choice into a priced,
// immutable quote. Building a quote has no side effects.
package checkout

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// DefaultMaxAddressLength bounds the stored delivery address, in runes.
const DefaultMaxAddressLength = 255

var (
	ErrEmptyCart      = apperr.Validation("empty_cart", "cart is empty")
	ErrUnauthorized   = apperr.Authorization("checkout_unauthorized", "only customers can check out")
	ErrMissingAddress = apperr.Validation("missing_address", "delivery address is required")
)

// Line is one priced line of a quote.
type Line struct {
	ProductID      string
	Name           string
	UnitPrice      decimal.Decimal
	EffectivePrice decimal.Decimal
	Quantity       int
	LineTotal      decimal.Decimal
}

// Context is the priced quote for a checkout. It is never persisted.
// Total always equals Subtotal + DeliveryFee rounded to cents.
type Context struct {
	UserID          string
	Lines           []Line
	DeliveryMethod  pricing.DeliveryMethod
	DeliveryAddress string
	FeeWaived       bool
	DeliveryFee     decimal.Decimal
	Subtotal        decimal.Decimal
	Total           decimal.Decimal
}

// Input is the delivery choice submitted by the client.
type Input struct {
	DeliveryMethod  string
	DeliveryAddress string
}

// Builder builds quotes under a pricing policy.
type Builder struct {
	policy           pricing.Policy
	maxAddressLength int
}

// NewBuilder returns a Builder. A non-positive maxAddressLength selects
// DefaultMaxAddressLength.
func NewBuilder(policy pricing.Policy, maxAddressLength int) *Builder {
	if maxAddressLength <= 0 {
		maxAddressLength = DefaultMaxAddressLength
	}
	return &Builder{policy: policy, maxAddressLength: maxAddressLength}
}

// BuildContext prices snap for userID. The result depends only on its
// arguments.
func (b *Builder) BuildContext(userID string, snap cart.Snapshot, methodInput, addressInput string, profile user.Profile) (Context, error) {
	if snap.Empty() {
		return Context{}, ErrEmptyCart
	}
	if profile.Role != user.RoleCustomer {
		return Context{}, ErrUnauthorized
	}

	method := pricing.ParseDeliveryMethod(methodInput)
	address := ""
	if method == pricing.DeliveryDelivery {
		address = b.normalizeAddress(addressInput)
		if address == "" {
			address = b.normalizeAddress(profile.Address)
		}
		if address == "" {
			return Context{}, ErrMissingAddress
		}
	}

	lines := make([]Line, len(snap.Lines))
	totals := make([]decimal.Decimal, len(snap.Lines))
	for i, l := range snap.Lines {
		lineTotal := pricing.LineTotal(l.EffectivePrice, l.Quantity)
		lines[i] = Line{
			ProductID:      l.ProductID,
			Name:           l.Name,
			UnitPrice:      l.UnitPrice,
			EffectivePrice: l.EffectivePrice,
			Quantity:       l.Quantity,
			LineTotal:      lineTotal,
		}
		totals[i] = lineTotal
	}
	subtotal := pricing.Sum(totals...)

	waived := b.policy.Waived(subtotal)
	fee := b.policy.DeliveryFee(method, waived, profile.FreeDelivery)

	return Context{
		UserID:          userID,
		Lines:           lines,
		DeliveryMethod:  method,
		DeliveryAddress: address,
		FeeWaived:       waived,
		DeliveryFee:     fee,
		Subtotal:        subtotal,
		Total:           pricing.Sum(subtotal, fee),
	}, nil
}

func (b *Builder) normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > b.maxAddressLength {
		s = strings.TrimSpace(string(r[:b.maxAddressLength]))
	}
	return s
}
