package checkout

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func customer() user.Profile {
	return user.Profile{ID: "u1", Name: "Ada", Role: user.RoleCustomer}
}

func line(id, price, discount string, qty int) cart.Line {
	effective, has := pricing.EffectivePrice(dec(price), dec(discount))
	return cart.Line{
		ProductID:      id,
		Name:           id,
		UnitPrice:      dec(price),
		EffectivePrice: effective,
		HasDiscount:    has,
		Quantity:       qty,
	}
}

func snapshot(lines ...cart.Line) cart.Snapshot {
	return cart.Snapshot{UserID: "u1", Lines: lines}
}

func TestBuildContext_PickupNoDiscount(t *testing.T) {
	b := NewBuilder(pricing.DefaultPolicy(), 0)

	cc, err := b.BuildContext("u1", snapshot(line("bun", "1.50", "0", 5)), "pickup", "", customer())
	require.NoError(t, err)

	assert.Equal(t, pricing.DeliveryPickup, cc.DeliveryMethod)
	assert.Empty(t, cc.DeliveryAddress)
	assert.True(t, dec("7.50").Equal(cc.Subtotal))
	assert.True(t, cc.DeliveryFee.IsZero())
	assert.True(t, dec("7.50").Equal(cc.Total))
}

func TestBuildContext_DeliveryWithDiscount(t *testing.T) {
	b := NewBuilder(pricing.DefaultPolicy(), 0)

	cc, err := b.BuildContext("u1", snapshot(line("croissant", "1.00", "20", 1)), "delivery", "  1 Main St  ", customer())
	require.NoError(t, err)

	assert.Equal(t, pricing.DeliveryDelivery, cc.DeliveryMethod)
	assert.Equal(t, "1 Main St", cc.DeliveryAddress)
	assert.True(t, dec("0.80").Equal(cc.Lines[0].EffectivePrice))
	assert.True(t, dec("0.80").Equal(cc.Subtotal))
	assert.True(t, dec("1.50").Equal(cc.DeliveryFee))
	assert.True(t, dec("2.30").Equal(cc.Total))
}

func TestBuildContext_Errors(t *testing.T) {
	b := NewBuilder(pricing.DefaultPolicy(), 0)
	admin := user.Profile{ID: "a1", Role: user.RoleAdmin, Address: "HQ"}

	tests := []struct {
		name    string
		snap    cart.Snapshot
		method  string
		address string
		profile user.Profile
		wantErr error
	}{
		{name: "empty cart", snap: snapshot(), method: "pickup", profile: customer(), wantErr: ErrEmptyCart},
		{name: "admin cannot check out", snap: snapshot(line("a", "1", "0", 1)), method: "pickup", profile: admin, wantErr: ErrUnauthorized},
		{name: "delivery without address", snap: snapshot(line("a", "1", "0", 1)), method: "delivery", address: "   ", profile: customer(), wantErr: ErrMissingAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.BuildContext("u1", tt.snap, tt.method, tt.address, tt.profile)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuildContext_AddressFallbackAndTruncation(t *testing.T) {
	b := NewBuilder(pricing.DefaultPolicy(), 10)
	profile := customer()
	profile.Address = "Profile Street 42"

	cc, err := b.BuildContext("u1", snapshot(line("a", "1", "0", 1)), "delivery", "", profile)
	require.NoError(t, err)
	assert.Equal(t, "Profile St", cc.DeliveryAddress)

	cc, err = b.BuildContext("u1", snapshot(line("a", "1", "0", 1)), "delivery", strings.Repeat("é", 20), profile)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 10), cc.DeliveryAddress)
}

func TestBuildContext_UnknownMethodIsPickup(t *testing.T) {
	b := NewBuilder(pricing.DefaultPolicy(), 0)

	cc, err := b.BuildContext("u1", snapshot(line("a", "2", "0", 1)), "teleport", "somewhere", customer())
	require.NoError(t, err)
	assert.Equal(t, pricing.DeliveryPickup, cc.DeliveryMethod)
	assert.Empty(t, cc.DeliveryAddress)
	assert.True(t, cc.DeliveryFee.IsZero())
}

func TestBuildContext_FreeDelivery(t *testing.T) {
	profile := customer()
	profile.FreeDelivery = true
	b := NewBuilder(pricing.DefaultPolicy(), 0)

	cc, err := b.BuildContext("u1", snapshot(line("a", "2", "0", 1)), "delivery", "x", profile)
	require.NoError(t, err)
	assert.True(t, cc.DeliveryFee.IsZero())

	b = NewBuilder(pricing.Policy{Fee: dec("1.50"), FreeDeliveryThreshold: dec("10")}, 0)
	cc, err = b.BuildContext("u1", snapshot(line("a", "5", "0", 2)), "delivery", "x", customer())
	require.NoError(t, err)
	assert.True(t, cc.FeeWaived)
	assert.True(t, dec("10").Equal(cc.Total))
}

func TestBuildContext_TotalIdentityAndOrderIndependence(t *testing.T) {
	b := NewBuilder(pricing.DefaultPolicy(), 0)
	lines := []cart.Line{
		line("a", "0.33", "0", 3),
		line("b", "19.99", "12.5", 2),
		line("c", "4.05", "33", 7),
		line("d", "0.01", "50", 1),
	}
	reversed := []cart.Line{lines[3], lines[2], lines[1], lines[0]}

	first, err := b.BuildContext("u1", snapshot(lines...), "delivery", "x", customer())
	require.NoError(t, err)
	second, err := b.BuildContext("u1", snapshot(reversed...), "delivery", "x", customer())
	require.NoError(t, err)

	assert.True(t, first.Total.Equal(first.Subtotal.Add(first.DeliveryFee).Round(2)))
	assert.True(t, first.Total.Equal(second.Total))
	assert.True(t, first.Subtotal.Equal(second.Subtotal))

	again, err := b.BuildContext("u1", snapshot(lines...), "delivery", "x", customer())
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

// --- Service ---

type stubCarts struct {
	snap cart.Snapshot
}

func (s *stubCarts) Snapshot(_ context.Context, _ string) (cart.Snapshot, error) {
	return s.snap, nil
}

type stubUsers struct {
	profile *user.Profile
}

func (s *stubUsers) GetByID(_ context.Context, _ string) (*user.Profile, error) {
	if s.profile == nil {
		return nil, user.ErrNotFound
	}
	return s.profile, nil
}

func (s *stubUsers) GetByIDs(_ context.Context, _ []string) ([]user.Profile, error) {
	return nil, nil
}

func TestService_Quote(t *testing.T) {
	profile := customer()
	svc := NewService(NewBuilder(pricing.DefaultPolicy(), 0), &stubCarts{snap: snapshot(line("bun", "1.50", "0", 5))}, &stubUsers{profile: &profile})

	cc, err := svc.Quote(context.Background(), "u1", Input{DeliveryMethod: "pickup"})
	require.NoError(t, err)
	assert.True(t, dec("7.50").Equal(cc.Total))

	_, err = svc.Quote(context.Background(), "", Input{})
	require.ErrorIs(t, err, ErrUnauthorized)

	svc = NewService(NewBuilder(pricing.DefaultPolicy(), 0), &stubCarts{}, &stubUsers{})
	_, err = svc.Quote(context.Background(), "u1", Input{})
	require.ErrorIs(t, err, user.ErrNotFound)
}
