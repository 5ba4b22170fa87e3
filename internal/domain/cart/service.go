package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// Service loads cart snapshots and applies cart mutations.
type Service struct {
	lines    Repository
	users    user.Repository
	products product.Repository
}

// NewService creates a cart Service.
func NewService(lines Repository, users user.Repository, products product.Repository) *Service {
	return &Service{
		lines:    lines,
		users:    users,
		products: products,
	}
}

// Snapshot returns the priced cart of userID. An anonymous caller (empty
// userID) has an empty cart; an unknown user id is a not-found error.
func (s *Service) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, nil
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return Snapshot{}, errors.Wrap(err, "get user")
	}

	stored, err := s.lines.Lines(ctx, userID)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "load cart lines")
	}

	snap := Snapshot{UserID: userID, Lines: make([]Line, 0, len(stored))}
	for _, sl := range stored {
		effective, hasDiscount := pricing.EffectivePrice(sl.Price, sl.DiscountPercent)
		snap.Lines = append(snap.Lines, Line{
			ProductID:      sl.ProductID,
			Name:           sl.Name,
			UnitPrice:      pricing.NormalizePrice(sl.Price),
			EffectivePrice: effective,
			HasDiscount:    hasDiscount,
			Quantity:       sl.Quantity,
		})
	}
	return snap, nil
}

// Add puts quantity units of productID into the cart, incrementing an
// existing line.
func (s *Service) Add(ctx context.Context, userID, productID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return errors.Wrap(err, "get product")
	}
	if err := s.lines.Add(ctx, userID, productID, quantity); err != nil {
		return errors.Wrap(err, "add cart line")
	}
	return nil
}

// SetQuantity replaces the quantity of an existing line.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if err := s.lines.SetQuantity(ctx, userID, productID, quantity); err != nil {
		return errors.Wrap(err, "set cart quantity")
	}
	return nil
}

// Remove deletes a line from the cart.
func (s *Service) Remove(ctx context.Context, userID, productID string) error {
	if err := s.lines.Remove(ctx, userID, productID); err != nil {
		return errors.Wrap(err, "remove cart line")
	}
	return nil
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.lines.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}
