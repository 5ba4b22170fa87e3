//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "checkout",
				"POSTGRES_PASSWORD": "checkout",
				"POSTGRES_DB":       "checkout",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := c.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://checkout:checkout@%s:%s/checkout?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Second run is a no-op.
	if err := RunMigrations(testPool); err != nil {
		log.Fatalf("migrations rerun: %v", err)
	}

	return m.Run()
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// seedUserCart creates a user holding 6 buns at 1.50.
func seedUserCart(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	seeder := NewSeeder(testPool)
	userID := "u-" + uuid.NewString()

	require.NoError(t, seeder.UpsertUser(ctx, user.Profile{ID: userID, Name: "Ada", Role: user.RoleCustomer, Address: "1 Main St"}))
	require.NoError(t, seeder.UpsertProduct(ctx, product.Product{ID: "bun", Name: "Bun", Price: dec("1.50"), DiscountPercent: decimal.Zero}))
	require.NoError(t, NewCartRepository(testPool).Add(ctx, userID, "bun", 6))
	return userID
}

func quoteFor(userID string) checkout.Context {
	return checkout.Context{
		UserID:         userID,
		Lines:          []checkout.Line{{ProductID: "bun", Name: "Bun", EffectivePrice: dec("1.50"), Quantity: 6, LineTotal: dec("9.00")}},
		DeliveryMethod: pricing.DeliveryPickup,
		Subtotal:       dec("9.00"),
		Total:          dec("9.00"),
	}
}

func TestCartRepository_AddIncrements(t *testing.T) {
	ctx := context.Background()
	userID := seedUserCart(t)
	carts := NewCartRepository(testPool)

	require.NoError(t, carts.Add(ctx, userID, "bun", 2))
	lines, err := carts.Lines(ctx, userID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 8, lines[0].Quantity)
	assert.True(t, dec("1.50").Equal(lines[0].Price))

	require.NoError(t, carts.SetQuantity(ctx, userID, "bun", 3))
	require.ErrorIs(t, carts.SetQuantity(ctx, userID, "nope", 3), cart.ErrLineNotFound)
}

func TestOrderFactory_CreatesOrderAndClearsCart(t *testing.T) {
	ctx := context.Background()
	userID := seedUserCart(t)
	orders := NewOrderRepository(testPool)
	carts := NewCartRepository(testPool)

	o, err := order.NewFactory(orders, carts, zap.NewNop()).CreateOrder(ctx, userID, quoteFor(userID))
	require.NoError(t, err)

	stored, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, dec("9.00").Equal(stored.Total))
	assert.Equal(t, order.StatusUnpaid, stored.PaymentStatus)

	items, err := orders.ItemsByOrders(ctx, []string{o.ID})
	require.NoError(t, err)
	require.Len(t, items[o.ID], 1)
	assert.Equal(t, "Bun", items[o.ID][0].ProductName)

	lines, err := carts.Lines(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = order.NewFactory(orders, carts, zap.NewNop()).CreateOrder(ctx, userID, quoteFor(userID))
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestOrderRepository_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	userID := seedUserCart(t)
	orders := NewOrderRepository(testPool)
	id := uuid.NewString()

	boom := errors.New("items failed")
	err := orders.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		require.NoError(t, tx.InsertOrder(ctx, &order.Order{
			ID: id, UserID: userID, Total: dec("9"), DeliveryMethod: pricing.DeliveryPickup,
			CreatedAt: time.Now(), PaymentStatus: order.StatusUnpaid,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = orders.GetByID(ctx, id)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestLedgerRepository_AppendBoundsAndConflicts(t *testing.T) {
	ctx := context.Background()
	userID := seedUserCart(t)
	orders := NewOrderRepository(testPool)
	ledger := NewLedgerRepository(testPool)
	requests := NewRefundRequestRepository(testPool)

	o, err := order.NewFactory(orders, NewCartRepository(testPool), zap.NewNop()).CreateOrder(ctx, userID, quoteFor(userID))
	require.NoError(t, err)

	require.NoError(t, ledger.Append(ctx, payment.Record{
		Entry:            payment.Entry{OrderID: o.ID, Method: "paypal", Status: order.StatusPaid, Amount: o.Total, ProviderReference: "CAP-1", Payload: []byte(`{"id":"GW-1"}`)},
		ExpectStatus:     order.StatusUnpaid,
		OrderStatus:      order.StatusPaid,
		PaymentMethod:    "paypal",
		PaymentReference: "CAP-1",
	}))

	err = ledger.Append(ctx, payment.Record{
		Entry:        payment.Entry{OrderID: o.ID, Method: "paypal", Status: order.StatusPaid, Amount: o.Total},
		ExpectStatus: order.StatusUnpaid,
		OrderStatus:  order.StatusPaid,
	})
	require.ErrorIs(t, err, payment.ErrStatusConflict)

	req := &refund.Request{OrderID: o.ID, UserID: userID, Reason: "cold", Status: refund.StatusRequested, CreatedAt: time.Now().UTC()}
	require.NoError(t, requests.Create(ctx, req))
	applied, err := refund.ApplyRefund(*req, dec("4"), true, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, ledger.Append(ctx, payment.Record{
		Entry:        payment.Entry{OrderID: o.ID, Method: "paypal", Status: order.StatusPartiallyRefunded, Amount: dec("4"), ProviderReference: "REF-1"},
		ExpectStatus: order.StatusPaid,
		OrderStatus:  order.StatusPartiallyRefunded,
		Request:      &applied,
	}))

	err = ledger.Append(ctx, payment.Record{
		Entry:        payment.Entry{OrderID: o.ID, Method: "paypal", Status: order.StatusRefunded, Amount: dec("5.01")},
		ExpectStatus: order.StatusPartiallyRefunded,
		OrderStatus:  order.StatusRefunded,
	})
	require.ErrorIs(t, err, payment.ErrExceedsRefundable)

	require.NoError(t, ledger.Append(ctx, payment.Record{
		Entry:        payment.Entry{OrderID: o.ID, Method: "paypal", Status: order.StatusRefunded, Amount: dec("5"), ProviderReference: "REF-2"},
		ExpectStatus: order.StatusPartiallyRefunded,
		OrderStatus:  order.StatusRefunded,
	}))

	stored, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, stored.PaymentStatus)
	assert.Equal(t, "CAP-1", stored.PaymentReference)

	refunded, err := ledger.RefundedTotal(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, dec("9").Equal(refunded))

	totals, err := ledger.RefundedTotals(ctx, []string{o.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, totals, 1)

	entries, err := ledger.Entries(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.JSONEq(t, `{"id":"GW-1"}`, string(entries[0].Payload))
	assert.Equal(t, payment.Derive(*stored, entries).Status, stored.PaymentStatus)

	latest, err := requests.LatestByOrders(ctx, []string{o.ID})
	require.NoError(t, err)
	assert.Equal(t, refund.StatusPartiallyRefunded, latest[o.ID].Status)
	require.NotNil(t, latest[o.ID].RefundedAmount)
	assert.True(t, dec("4").Equal(*latest[o.ID].RefundedAmount))
}

func TestLedgerRepository_RefundsBoundedByCapturedSum(t *testing.T) {
	ctx := context.Background()
	userID := seedUserCart(t)
	orders := NewOrderRepository(testPool)
	ledger := NewLedgerRepository(testPool)

	o, err := order.NewFactory(orders, NewCartRepository(testPool), zap.NewNop()).CreateOrder(ctx, userID, quoteFor(userID))
	require.NoError(t, err)

	require.NoError(t, ledger.Append(ctx, payment.Record{
		Entry:            payment.Entry{OrderID: o.ID, Method: "paypal", Status: order.StatusPaid, Amount: dec("5"), ProviderReference: "CAP-5"},
		ExpectStatus:     order.StatusUnpaid,
		OrderStatus:      order.StatusPaid,
		PaymentReference: "CAP-5",
	}))

	err = ledger.Append(ctx, payment.Record{
		Entry:        payment.Entry{OrderID: o.ID, Method: "paypal", Status: order.StatusRefunded, Amount: dec("9")},
		ExpectStatus: order.StatusPaid,
		OrderStatus:  order.StatusRefunded,
	})
	require.ErrorIs(t, err, payment.ErrExceedsRefundable)

	require.NoError(t, ledger.Append(ctx, payment.Record{
		Entry:        payment.Entry{OrderID: o.ID, Method: "paypal", Status: order.StatusRefunded, Amount: dec("5"), ProviderReference: "REF-5"},
		ExpectStatus: order.StatusPaid,
		OrderStatus:  order.StatusRefunded,
	}))

	stored, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	entries, err := ledger.Entries(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, payment.Derive(*stored, entries).Status)
}

func TestIdempotencyRepository(t *testing.T) {
	ctx := context.Background()
	store := NewIdempotencyRepository(testPool)
	key := "capture:" + uuid.NewString()

	c, err := store.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, c.Acquired)

	c, err = store.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, payment.Claim{}, c)

	require.NoError(t, store.Complete(ctx, key, "order-1", time.Hour))
	c, err = store.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, payment.Claim{Completed: true, Result: "order-1"}, c)

	expired := "refund:" + uuid.NewString()
	_, err = store.Claim(ctx, expired, -time.Second)
	require.NoError(t, err)
	c, err = store.Claim(ctx, expired, time.Minute)
	require.NoError(t, err)
	assert.True(t, c.Acquired, "expired claim is taken over")
}
