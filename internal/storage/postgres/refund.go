package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/refund"
)

const (
	refundColumns = `id, order_id, user_id, requested_amount, refunded_amount, reason, admin_note,
		status, created_at, updated_at`

	insertRefundRequestSQL = `INSERT INTO refund_requests (order_id, user_id, requested_amount, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`

	getRefundRequestSQL = `SELECT ` + refundColumns + ` FROM refund_requests WHERE id = $1`

	updateRefundRequestSQL = `UPDATE refund_requests
		SET status = $2, admin_note = $3, refunded_amount = $4, updated_at = $5
		WHERE id = $1`

	listRefundRequestsByOrderSQL = `SELECT ` + refundColumns + ` FROM refund_requests
		WHERE order_id = $1 ORDER BY created_at DESC, id DESC`

	latestRefundRequestsSQL = `SELECT DISTINCT ON (order_id) ` + refundColumns + ` FROM refund_requests
		WHERE order_id = ANY($1)
		ORDER BY order_id, created_at DESC, id DESC`

	listRefundRequestsByStatusSQL = `SELECT ` + refundColumns + ` FROM refund_requests
		WHERE status = ANY($1) ORDER BY created_at, id`
)

var _ refund.Repository = (*RefundRequestRepository)(nil)

// RefundRequestRepository implements refund.Repository backed by PostgreSQL.
type RefundRequestRepository struct {
	pool *pgxpool.Pool
}

// NewRefundRequestRepository returns a RefundRequestRepository that uses the
// given pool.
func NewRefundRequestRepository(pool *pgxpool.Pool) *RefundRequestRepository {
	return &RefundRequestRepository{pool: pool}
}

// Create inserts a request and sets its ID.
func (r *RefundRequestRepository) Create(ctx context.Context, req *refund.Request) error {
	err := r.pool.QueryRow(ctx, insertRefundRequestSQL,
		req.OrderID, req.UserID, req.RequestedAmount, req.Reason, string(req.Status), req.CreatedAt,
	).Scan(&req.ID)
	if err != nil {
		return fmt.Errorf("creating refund request for %q: %w", req.OrderID, err)
	}
	req.UpdatedAt = req.CreatedAt
	return nil
}

// GetByID returns a request.
func (r *RefundRequestRepository) GetByID(ctx context.Context, id int64) (*refund.Request, error) {
	rows, err := r.pool.Query(ctx, getRefundRequestSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting refund request %d: %w", id, err)
	}
	req, err := pgx.CollectExactlyOneRow(rows, scanRefundRequest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, refund.ErrNotFound
		}
		return nil, fmt.Errorf("getting refund request %d: %w", id, err)
	}
	return &req, nil
}

// Update writes the mutable fields of a request.
func (r *RefundRequestRepository) Update(ctx context.Context, req *refund.Request) error {
	tag, err := r.pool.Exec(ctx, updateRefundRequestSQL,
		req.ID, string(req.Status), req.AdminNote, req.RefundedAmount, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating refund request %d: %w", req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return refund.ErrNotFound
	}
	return nil
}

// ListByOrder returns every request for an order, newest first.
func (r *RefundRequestRepository) ListByOrder(ctx context.Context, orderID string) ([]refund.Request, error) {
	rows, err := r.pool.Query(ctx, listRefundRequestsByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing refund requests of %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanRefundRequest)
}

// LatestByOrders returns the most recently created request per order.
func (r *RefundRequestRepository) LatestByOrders(ctx context.Context, orderIDs []string) (map[string]refund.Request, error) {
	rows, err := r.pool.Query(ctx, latestRefundRequestsSQL, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("latest refund requests: %w", err)
	}
	reqs, err := pgx.CollectRows(rows, scanRefundRequest)
	if err != nil {
		return nil, fmt.Errorf("latest refund requests: %w", err)
	}
	out := make(map[string]refund.Request, len(reqs))
	for _, req := range reqs {
		out[req.OrderID] = req
	}
	return out, nil
}

// ListByStatus returns requests in any of statuses, oldest first.
func (r *RefundRequestRepository) ListByStatus(ctx context.Context, statuses []refund.Status) ([]refund.Request, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, listRefundRequestsByStatusSQL, names)
	if err != nil {
		return nil, fmt.Errorf("listing refund requests by status: %w", err)
	}
	return pgx.CollectRows(rows, scanRefundRequest)
}

func scanRefundRequest(row pgx.CollectableRow) (refund.Request, error) {
	var (
		req    refund.Request
		status string
	)
	err := row.Scan(
		&req.ID, &req.OrderID, &req.UserID, &req.RequestedAmount, &req.RefundedAmount,
		&req.Reason, &req.AdminNote, &status, &req.CreatedAt, &req.UpdatedAt,
	)
	req.Status = refund.Status(status)
	return req, err
}
