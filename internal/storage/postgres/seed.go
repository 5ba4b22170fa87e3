package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

const (
	upsertUserSQL = `INSERT INTO users (id, name, role, address, free_delivery)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role,
			address = EXCLUDED.address, free_delivery = EXCLUDED.free_delivery`

	upsertProductSQL = `INSERT INTO products (id, name, price, discount_percent, category, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			discount_percent = EXCLUDED.discount_percent, category = EXCLUDED.category,
			image_url = EXCLUDED.image_url`
)

// Seeder writes reference data used by cmd/seed-db and tests.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// UpsertUser creates or replaces a user profile.
func (s *Seeder) UpsertUser(ctx context.Context, p user.Profile) error {
	if _, err := s.pool.Exec(ctx, upsertUserSQL, p.ID, p.Name, string(p.Role), p.Address, p.FreeDelivery); err != nil {
		return fmt.Errorf("upserting user %q: %w", p.ID, err)
	}
	return nil
}

// UpsertProduct creates or replaces a catalog product.
func (s *Seeder) UpsertProduct(ctx context.Context, p product.Product) error {
	if _, err := s.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price, p.DiscountPercent, p.Category, p.ImageURL,
	); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}
