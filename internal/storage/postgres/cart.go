package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

const (
	listCartLinesSQL = `SELECT c.product_id, p.name, p.price, p.discount_percent, c.quantity, c.created_at
		FROM cart_lines c JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.id`

	addCartLineSQL = `INSERT INTO cart_lines (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity`

	setCartQuantitySQL = `UPDATE cart_lines SET quantity = $3 WHERE user_id = $1 AND product_id = $2`

	removeCartLineSQL = `DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2`

	clearCartSQL = `DELETE FROM cart_lines WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Lines returns the user's cart joined with live product data, in insertion
// order.
func (r *CartRepository) Lines(ctx context.Context, userID string) ([]cart.StoredLine, error) {
	rows, err := r.pool.Query(ctx, listCartLinesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.StoredLine, error) {
		var l cart.StoredLine
		err := row.Scan(&l.ProductID, &l.Name, &l.Price, &l.DiscountPercent, &l.Quantity, &l.AddedAt)
		return l, err
	})
}

// Add inserts a line or increments an existing one.
func (r *CartRepository) Add(ctx context.Context, userID, productID string, quantity int) error {
	if _, err := r.pool.Exec(ctx, addCartLineSQL, userID, productID, quantity); err != nil {
		return fmt.Errorf("adding %q to cart of %q: %w", productID, userID, err)
	}
	return nil
}

// SetQuantity replaces the quantity of an existing line.
func (r *CartRepository) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	tag, err := r.pool.Exec(ctx, setCartQuantitySQL, userID, productID, quantity)
	if err != nil {
		return fmt.Errorf("setting quantity of %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrLineNotFound
	}
	return nil
}

// Remove deletes a line. Removing an absent line is not an error.
func (r *CartRepository) Remove(ctx context.Context, userID, productID string) error {
	if _, err := r.pool.Exec(ctx, removeCartLineSQL, userID, productID); err != nil {
		return fmt.Errorf("removing %q from cart: %w", productID, err)
	}
	return nil
}

// Clear empties the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart of %q: %w", userID, err)
	}
	return nil
}
