package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

const (
	orderColumns = `id, user_id, total, delivery_method, delivery_address, delivery_fee,
		created_at, payment_method, payment_status, payment_reference`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	listOrderIDsSQL = `SELECT id FROM orders ORDER BY created_at, id`

	listItemsSQL = `SELECT i.order_id, i.product_id, COALESCE(p.name, ''), i.quantity, i.unit_price
		FROM order_items i LEFT JOIN products p ON p.id = i.product_id
		WHERE i.order_id = ANY($1)
		ORDER BY i.id`

	countCartLinesForUpdateSQL = `SELECT count(*) FROM (
		SELECT 1 FROM cart_lines WHERE user_id = $1 FOR UPDATE
	) AS locked`

	insertOrderSQL = `INSERT INTO orders (id, user_id, total, delivery_method, delivery_address,
		delivery_fee, created_at, payment_method, payment_status, payment_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	insertItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)`
)

// defaultListLimit bounds admin listings without an explicit limit.
const defaultListLimit = 200

var (
	_ order.Repository = (*OrderRepository)(nil)
	_ order.Store      = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository and order.Store backed by
// PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// InTx runs fn in a transaction that commits only if fn returns nil.
func (r *OrderRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, orderTx{tx: tx})
	})
}

// GetByID returns an order header. Items are not loaded.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// List returns orders matching filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.DeliveryMethod != "" {
		args = append(args, string(filter.DeliveryMethod))
		where = append(where, fmt.Sprintf("delivery_method = $%d", len(args)))
	}
	if filter.PaymentStatus != "" {
		args = append(args, string(filter.PaymentStatus))
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	var sb strings.Builder
	sb.WriteString(`SELECT ` + orderColumns + ` FROM orders`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListIDs returns every order id, oldest first.
func (r *OrderRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listOrderIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing order ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ItemsByOrders returns items grouped by order id. Items whose product was
// deleted have an empty ProductName.
func (r *OrderRepository) ItemsByOrders(ctx context.Context, orderIDs []string) (map[string][]order.Item, error) {
	rows, err := r.pool.Query(ctx, listItemsSQL, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("listing order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing order items: %w", err)
	}
	out := make(map[string][]order.Item, len(orderIDs))
	for _, it := range items {
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, nil
}

type orderTx struct {
	tx pgx.Tx
}

func (t orderTx) CountCartLines(ctx context.Context, userID string) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, countCartLinesForUpdateSQL, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cart lines: %w", err)
	}
	return n, nil
}

func (t orderTx) InsertOrder(ctx context.Context, o *order.Order) error {
	_, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.Total, string(o.DeliveryMethod), o.DeliveryAddress,
		o.DeliveryFee, o.CreatedAt, o.PaymentMethod, string(o.PaymentStatus), o.PaymentReference,
	)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	return nil
}

func (t orderTx) InsertItems(ctx context.Context, orderID string, items []order.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(insertItemSQL, orderID, it.ProductID, it.Quantity, it.UnitPrice)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting items of %q: %w", orderID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o              order.Order
		method, status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Total, &method, &o.DeliveryAddress, &o.DeliveryFee,
		&o.CreatedAt, &o.PaymentMethod, &status, &o.PaymentReference,
	)
	o.DeliveryMethod = pricing.DeliveryMethod(method)
	o.PaymentStatus = order.PaymentStatus(status)
	return o, err
}
