package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

const (
	// An expired claim is taken over by the next caller.
	claimKeySQL = `INSERT INTO idempotency_keys (key, result, expires_at)
		VALUES ($1, NULL, now() + $2::interval)
		ON CONFLICT (key) DO UPDATE SET result = NULL, expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at < now()
		RETURNING key`

	getKeyResultSQL = `SELECT result FROM idempotency_keys WHERE key = $1`

	completeKeySQL = `UPDATE idempotency_keys SET result = $2, expires_at = now() + $3::interval
		WHERE key = $1`

	releaseKeySQL = `DELETE FROM idempotency_keys WHERE key = $1 AND result IS NULL`

	purgeKeysSQL = `DELETE FROM idempotency_keys WHERE expires_at < now()`
)

var _ payment.Idempotency = (*IdempotencyRepository)(nil)

// IdempotencyRepository implements payment.Idempotency on a PostgreSQL table.
type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

// NewIdempotencyRepository returns an IdempotencyRepository that uses the
// given pool.
func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

// Claim reserves key for ttl or reports who holds it.
func (r *IdempotencyRepository) Claim(ctx context.Context, key string, ttl time.Duration) (payment.Claim, error) {
	var claimed string
	err := r.pool.QueryRow(ctx, claimKeySQL, key, ttl).Scan(&claimed)
	if err == nil {
		return payment.Claim{Acquired: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return payment.Claim{}, fmt.Errorf("claiming %q: %w", key, err)
	}

	var result *string
	if err := r.pool.QueryRow(ctx, getKeyResultSQL, key).Scan(&result); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Released between the two statements.
			return payment.Claim{}, nil
		}
		return payment.Claim{}, fmt.Errorf("reading %q: %w", key, err)
	}
	if result == nil {
		return payment.Claim{}, nil
	}
	return payment.Claim{Completed: true, Result: *result}, nil
}

// Complete stores the result of the operation holding key.
func (r *IdempotencyRepository) Complete(ctx context.Context, key, result string, ttl time.Duration) error {
	if _, err := r.pool.Exec(ctx, completeKeySQL, key, result, ttl); err != nil {
		return fmt.Errorf("completing %q: %w", key, err)
	}
	return nil
}

// Release drops an unfinished claim.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, releaseKeySQL, key); err != nil {
		return fmt.Errorf("releasing %q: %w", key, err)
	}
	return nil
}

// Purge deletes expired keys and returns how many were removed.
func (r *IdempotencyRepository) Purge(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, purgeKeysSQL)
	if err != nil {
		return 0, fmt.Errorf("purging idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
