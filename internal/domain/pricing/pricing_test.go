package pricing

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "-3.10", want: "0"},
		{in: "0", want: "0"},
		{in: "1.005", want: "1.01"},
		{in: "2.344", want: "2.34"},
		{in: "10", want: "10"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizePrice(d(tt.in))
			assert.True(t, d(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestNormalizeFloat_NonFinite(t *testing.T) {
	assert.True(t, NormalizeFloat(math.NaN()).IsZero())
	assert.True(t, NormalizeFloat(math.Inf(1)).IsZero())
	assert.True(t, NormalizeFloat(math.Inf(-1)).IsZero())
	assert.True(t, NormalizeFloat(-1.5).IsZero())
	assert.True(t, d("1.25").Equal(NormalizeFloat(1.25)))
}

func TestEffectivePrice(t *testing.T) {
	tests := []struct {
		name         string
		base         string
		discount     string
		want         string
		wantDiscount bool
	}{
		{name: "no discount", base: "1.50", discount: "0", want: "1.50", wantDiscount: false},
		{name: "twenty percent", base: "1.00", discount: "20", want: "0.80", wantDiscount: true},
		{name: "rounds half away from zero", base: "0.25", discount: "10", want: "0.23", wantDiscount: true},
		{name: "negative discount clamped", base: "3.00", discount: "-15", want: "3.00", wantDiscount: false},
		{name: "over hundred clamped", base: "3.00", discount: "150", want: "0", wantDiscount: true},
		{name: "negative base", base: "-2", discount: "10", want: "0", wantDiscount: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, has := EffectivePrice(d(tt.base), d(tt.discount))
			assert.True(t, d(tt.want).Equal(got), "want %s, got %s", tt.want, got)
			assert.Equal(t, tt.wantDiscount, has)
		})
	}
}

func TestEffectivePrice_NeverAboveBase(t *testing.T) {
	bases := []string{"0", "0.01", "0.99", "1.50", "19.99", "1234.56"}
	discounts := []string{"-10", "0", "0.5", "12.5", "33.333", "99.99", "100", "250"}
	for _, b := range bases {
		for _, disc := range discounts {
			got, _ := EffectivePrice(d(b), d(disc))
			assert.True(t, got.LessThanOrEqual(NormalizePrice(d(b))), "base %s discount %s gave %s", b, disc, got)
			assert.False(t, got.IsNegative())
		}
		zeroDisc, _ := EffectivePrice(d(b), decimal.Zero)
		assert.True(t, NormalizePrice(d(b)).Equal(zeroDisc))
	}
}

func TestPolicy_DeliveryFee(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, p.DeliveryFee(DeliveryPickup, false, false).IsZero())
	assert.True(t, d("1.50").Equal(p.DeliveryFee(DeliveryDelivery, false, false)))
	assert.True(t, p.DeliveryFee(DeliveryDelivery, true, false).IsZero())
	assert.True(t, p.DeliveryFee(DeliveryDelivery, false, true).IsZero())

	custom := Policy{Fee: d("2.499")}
	assert.True(t, d("2.50").Equal(custom.DeliveryFee(DeliveryDelivery, false, false)), "configured fee is normalized")
	assert.True(t, custom.DeliveryFee(DeliveryPickup, false, false).IsZero())
}

func TestPolicy_Waived(t *testing.T) {
	assert.False(t, DefaultPolicy().Waived(d("1000")))

	p := Policy{Fee: DefaultDeliveryFee, FreeDeliveryThreshold: d("50")}
	assert.False(t, p.Waived(d("49.99")))
	assert.True(t, p.Waived(d("50.00")))
}

func TestParseDeliveryMethod(t *testing.T) {
	assert.Equal(t, DeliveryDelivery, ParseDeliveryMethod("delivery"))
	assert.Equal(t, DeliveryPickup, ParseDeliveryMethod("Delivery"))
	assert.Equal(t, DeliveryPickup, ParseDeliveryMethod(""))
	assert.Equal(t, DeliveryPickup, ParseDeliveryMethod("drone"))
}

func TestSum_RoundsEachTerm(t *testing.T) {
	got := Sum(d("0.005"), d("0.005"))
	assert.True(t, d("0.02").Equal(got), "got %s", got)
}
