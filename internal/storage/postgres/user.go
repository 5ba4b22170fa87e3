package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/user"
)

const (
	getUserSQL = `SELECT id, name, role, address, free_delivery
		FROM users WHERE id = $1`

	getUsersSQL = `SELECT id, name, role, address, free_delivery
		FROM users WHERE id = ANY($1)`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID returns a user profile.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.Profile, error) {
	rows, err := r.pool.Query(ctx, getUserSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns the profiles that still exist among ids.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]user.Profile, error) {
	rows, err := r.pool.Query(ctx, getUsersSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting users by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProfile)
}

func scanProfile(row pgx.CollectableRow) (user.Profile, error) {
	var (
		p    user.Profile
		role string
	)
	err := row.Scan(&p.ID, &p.Name, &role, &p.Address, &p.FreeDelivery)
	p.Role = user.Role(role)
	return p, err
}
