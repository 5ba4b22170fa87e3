package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/refund"
)

const (
	lockOrderSQL = `SELECT payment_status, total FROM orders WHERE id = $1 FOR UPDATE`

	refundedSumSQL = `SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE order_id = $1 AND status IN ('partially_refunded', 'refunded')`

	capturedSumSQL = `SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE order_id = $1 AND status = 'paid'`

	refundedSumsSQL = `SELECT order_id, SUM(amount) FROM payments
		WHERE order_id = ANY($1) AND status IN ('partially_refunded', 'refunded')
		GROUP BY order_id`

	insertPaymentSQL = `INSERT INTO payments (order_id, method, status, amount, provider_reference, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	updateOrderPaymentSQL = `UPDATE orders SET payment_status = $2,
		payment_method = COALESCE(NULLIF($3, ''), payment_method),
		payment_reference = COALESCE(NULLIF($4, ''), payment_reference)
		WHERE id = $1`

	updateRequestFromRefundSQL = `UPDATE refund_requests
		SET status = $3, refunded_amount = $4, admin_note = $5, updated_at = $6
		WHERE id = $1 AND order_id = $2`

	paymentColumns = `id, order_id, method, status, amount, provider_reference, payload, created_at`

	listPaymentsSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY id`

	pagePaymentsSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id > $1 ORDER BY id LIMIT $2`

	updateReferenceSQL = `UPDATE orders SET payment_method = $2, payment_reference = $3 WHERE id = $1`

	setCachedStatusSQL = `UPDATE orders SET payment_status = $2, payment_method = $3, payment_reference = $4
		WHERE id = $1`
)

var _ payment.Ledger = (*LedgerRepository)(nil)

// LedgerRepository implements payment.Ledger backed by PostgreSQL. Ledger
// rows are only ever inserted.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Append inserts the ledger row, then updates the order cache and the linked
// refund request, all in one transaction. The order row is locked for the
// duration so concurrent appends are serialized.
func (r *LedgerRepository) Append(ctx context.Context, rec payment.Record) error {
	e := rec.Entry
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var (
			status string
			total  decimal.Decimal
		)
		if err := tx.QueryRow(ctx, lockOrderSQL, e.OrderID).Scan(&status, &total); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return fmt.Errorf("locking order %q: %w", e.OrderID, err)
		}
		if order.PaymentStatus(status) != rec.ExpectStatus {
			return payment.ErrStatusConflict.Withf("order %s is %s, expected %s", e.OrderID, status, rec.ExpectStatus)
		}

		if e.IsRefund() {
			var refunded decimal.Decimal
			if err := tx.QueryRow(ctx, refundedSumSQL, e.OrderID).Scan(&refunded); err != nil {
				return fmt.Errorf("summing refunds of %q: %w", e.OrderID, err)
			}
			var captured decimal.Decimal
			if err := tx.QueryRow(ctx, capturedSumSQL, e.OrderID).Scan(&captured); err != nil {
				return fmt.Errorf("summing captures of %q: %w", e.OrderID, err)
			}
			if refunded.Add(e.Amount).GreaterThan(payment.RefundLimit(total, captured)) {
				return payment.ErrExceedsRefundable
			}
		}

		var payload []byte
		if len(e.Payload) > 0 {
			payload = e.Payload
		}
		if err := tx.QueryRow(ctx, insertPaymentSQL,
			e.OrderID, e.Method, string(e.Status), e.Amount, e.ProviderReference, payload, e.CreatedAt,
		).Scan(&e.ID); err != nil {
			return fmt.Errorf("inserting payment for %q: %w", e.OrderID, err)
		}

		if _, err := tx.Exec(ctx, updateOrderPaymentSQL,
			e.OrderID, string(rec.OrderStatus), rec.PaymentMethod, rec.PaymentReference,
		); err != nil {
			return fmt.Errorf("updating payment cache of %q: %w", e.OrderID, err)
		}

		if req := rec.Request; req != nil {
			tag, err := tx.Exec(ctx, updateRequestFromRefundSQL,
				req.ID, e.OrderID, string(req.Status), req.RefundedAmount, req.AdminNote, req.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("updating refund request %d: %w", req.ID, err)
			}
			if tag.RowsAffected() == 0 {
				return refund.ErrNotFound
			}
		}
		return nil
	})
}

// Entries returns an order's ledger rows, oldest first.
func (r *LedgerRepository) Entries(ctx context.Context, orderID string) ([]payment.Entry, error) {
	rows, err := r.pool.Query(ctx, listPaymentsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing payments of %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanEntry)
}

// Page returns up to limit ledger rows with id greater than afterID.
func (r *LedgerRepository) Page(ctx context.Context, afterID int64, limit int) ([]payment.Entry, error) {
	rows, err := r.pool.Query(ctx, pagePaymentsSQL, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("paging payments after %d: %w", afterID, err)
	}
	return pgx.CollectRows(rows, scanEntry)
}

// RefundedTotal sums the refund rows of an order.
func (r *LedgerRepository) RefundedTotal(ctx context.Context, orderID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := r.pool.QueryRow(ctx, refundedSumSQL, orderID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("summing refunds of %q: %w", orderID, err)
	}
	return sum, nil
}

// RefundedTotals sums refunds per order. Orders without refunds are absent.
func (r *LedgerRepository) RefundedTotals(ctx context.Context, orderIDs []string) (map[string]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, refundedSumsSQL, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("summing refunds: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(orderIDs))
	var (
		id  string
		sum decimal.Decimal
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &sum}, func() error {
		out[id] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("summing refunds: %w", err)
	}
	return out, nil
}

// UpdateReference replaces the cached method and reference.
func (r *LedgerRepository) UpdateReference(ctx context.Context, orderID, method, reference string) error {
	tag, err := r.pool.Exec(ctx, updateReferenceSQL, orderID, method, reference)
	if err != nil {
		return fmt.Errorf("updating reference of %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// SetCachedStatus overwrites the cached payment fields of an order.
func (r *LedgerRepository) SetCachedStatus(ctx context.Context, orderID string, status order.PaymentStatus, method, reference string) error {
	tag, err := r.pool.Exec(ctx, setCachedStatusSQL, orderID, string(status), method, reference)
	if err != nil {
		return fmt.Errorf("setting payment status of %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanEntry(row pgx.CollectableRow) (payment.Entry, error) {
	var (
		e      payment.Entry
		status string
	)
	err := row.Scan(&e.ID, &e.OrderID, &e.Method, &status, &e.Amount, &e.ProviderReference, &e.Payload, &e.CreatedAt)
	e.Status = order.PaymentStatus(status)
	return e, err
}
