package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/events"
)

// --- Mock implementations ---

// memStore is a transactional in-memory store. Writes made inside InTx are
// staged and only become visible when fn returns nil.
type memStore struct {
	cartLines map[string]int
	orders    map[string]Order
	items     map[string][]Item

	failAfterHeader bool
	countErr        error
}

func newMemStore() *memStore {
	return &memStore{
		cartLines: make(map[string]int),
		orders:    make(map[string]Order),
		items:     make(map[string][]Item),
	}
}

type memTx struct {
	s      *memStore
	orders map[string]Order
	items  map[string][]Item
}

func (t *memTx) CountCartLines(_ context.Context, userID string) (int, error) {
	if t.s.countErr != nil {
		return 0, t.s.countErr
	}
	return t.s.cartLines[userID], nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	t.orders[o.ID] = *o
	return nil
}

func (t *memTx) InsertItems(_ context.Context, orderID string, items []Item) error {
	if t.s.failAfterHeader {
		return errors.New("connection reset")
	}
	t.items[orderID] = append(t.items[orderID], items...)
	return nil
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{s: s, orders: make(map[string]Order), items: make(map[string][]Item)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for id, items := range tx.items {
		s.items[id] = items
	}
	return nil
}

type mockCarts struct {
	cleared []string
	err     error
}

func (m *mockCarts) Clear(_ context.Context, userID string) error {
	m.cleared = append(m.cleared, userID)
	return m.err
}

type mockQuoter struct {
	cc  checkout.Context
	err error
}

func (m *mockQuoter) Quote(_ context.Context, _ string, _ checkout.Input) (checkout.Context, error) {
	return m.cc, m.err
}

type mockPublisher struct {
	got []events.Event
}

func (m *mockPublisher) Publish(_ context.Context, e events.Event) error {
	m.got = append(m.got, e)
	return nil
}

// --- Helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testContext() checkout.Context {
	return checkout.Context{
		UserID: "u1",
		Lines: []checkout.Line{
			{ProductID: "bun", Name: "Bun", UnitPrice: dec("1.50"), EffectivePrice: dec("1.50"), Quantity: 5, LineTotal: dec("7.50")},
			{ProductID: "croissant", Name: "Croissant", UnitPrice: dec("1.00"), EffectivePrice: dec("0.80"), Quantity: 1, LineTotal: dec("0.80")},
		},
		DeliveryMethod:  pricing.DeliveryDelivery,
		DeliveryAddress: "1 Main St",
		DeliveryFee:     dec("1.50"),
		Subtotal:        dec("8.30"),
		Total:           dec("9.80"),
	}
}

func newTestFactory(store *memStore, carts *mockCarts, lg *zap.Logger) *Factory {
	f := NewFactory(store, carts, lg)
	f.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	f.newID = func() string { return "order-1" }
	return f
}

// --- Tests ---

func TestCreateOrder_PersistsHeaderAndItems(t *testing.T) {
	store := newMemStore()
	store.cartLines["u1"] = 2
	carts := &mockCarts{}
	f := newTestFactory(store, carts, zap.NewNop())

	o, err := f.CreateOrder(context.Background(), "u1", testContext())
	require.NoError(t, err)

	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, StatusUnpaid, o.PaymentStatus)
	assert.Empty(t, o.PaymentMethod)
	assert.Empty(t, o.PaymentReference)
	assert.True(t, dec("9.80").Equal(o.Total))

	stored, ok := store.orders["order-1"]
	require.True(t, ok)
	assert.Equal(t, "1 Main St", stored.DeliveryAddress)

	items := store.items["order-1"]
	require.Len(t, items, 2)
	assert.True(t, dec("0.80").Equal(items[1].UnitPrice), "items snapshot the effective price")
	assert.Equal(t, []string{"u1"}, carts.cleared)
}

func TestCreateOrder_FailureAfterHeaderLeavesNothing(t *testing.T) {
	store := newMemStore()
	store.cartLines["u1"] = 2
	store.failAfterHeader = true
	carts := &mockCarts{}
	f := newTestFactory(store, carts, zap.NewNop())

	_, err := f.CreateOrder(context.Background(), "u1", testContext())
	require.ErrorIs(t, err, ErrCheckoutFailed)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))

	assert.Empty(t, store.orders)
	assert.Empty(t, store.items)
	assert.Empty(t, carts.cleared, "cart is kept when checkout fails")
}

func TestCreateOrder_CartEmptiedConcurrently(t *testing.T) {
	store := newMemStore()
	f := newTestFactory(store, &mockCarts{}, zap.NewNop())

	_, err := f.CreateOrder(context.Background(), "u1", testContext())
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
	assert.Empty(t, store.orders)
}

func TestCreateOrder_EmptyContext(t *testing.T) {
	f := newTestFactory(newMemStore(), &mockCarts{}, zap.NewNop())

	_, err := f.CreateOrder(context.Background(), "u1", checkout.Context{})
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestCreateOrder_CartClearIsBestEffort(t *testing.T) {
	store := newMemStore()
	store.cartLines["u1"] = 1
	core, logs := observer.New(zap.WarnLevel)
	f := newTestFactory(store, &mockCarts{err: errors.New("timeout")}, zap.New(core))

	o, err := f.CreateOrder(context.Background(), "u1", testContext())
	require.NoError(t, err)
	assert.Equal(t, "order-1", o.ID)
	assert.Len(t, store.orders, 1)
	assert.Equal(t, 1, logs.FilterMessage("Cart not cleared after checkout").Len())
}

func TestPlacePickupOrder(t *testing.T) {
	store := newMemStore()
	store.cartLines["u1"] = 1
	cc := testContext()
	cc.DeliveryMethod = pricing.DeliveryPickup
	cc.DeliveryAddress = ""
	cc.DeliveryFee = decimal.Zero
	cc.Total = dec("8.30")
	pub := &mockPublisher{}
	svc := NewService(&mockQuoter{cc: cc}, newTestFactory(store, &mockCarts{}, zap.NewNop()), pub, zap.NewNop())

	o, err := svc.PlacePickupOrder(context.Background(), "u1", checkout.Input{DeliveryMethod: "pickup"})
	require.NoError(t, err)
	assert.Equal(t, StatusUnpaid, o.PaymentStatus)
	require.Len(t, pub.got, 1)
	assert.Equal(t, events.OrderCreated, pub.got[0].Type)

	_, err = svc.PlacePickupOrder(context.Background(), "u1", checkout.Input{DeliveryMethod: "delivery"})
	require.ErrorIs(t, err, ErrDeliveryUnpaid)
}

func TestPlacePickupOrder_QuoteError(t *testing.T) {
	svc := NewService(&mockQuoter{err: checkout.ErrEmptyCart}, newTestFactory(newMemStore(), &mockCarts{}, zap.NewNop()), nil, zap.NewNop())

	_, err := svc.PlacePickupOrder(context.Background(), "u1", checkout.Input{})
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
