package checkout

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// SnapshotLoader loads the current cart of a user.
type SnapshotLoader interface {
	Snapshot(ctx context.Context, userID string) (cart.Snapshot, error)
}

// Service quotes checkouts from the stored cart and profile.
type Service struct {
	builder *Builder
	carts   SnapshotLoader
	users   user.Repository
}

// NewService creates a checkout Service.
func NewService(builder *Builder, carts SnapshotLoader, users user.Repository) *Service {
	return &Service{
		builder: builder,
		carts:   carts,
		users:   users,
	}
}

// Quote reads the user's profile and cart and builds a checkout context.
func (s *Service) Quote(ctx context.Context, userID string, in Input) (Context, error) {
	if userID == "" {
		return Context{}, ErrUnauthorized
	}
	profile, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Context{}, errors.Wrap(err, "get profile")
	}
	snap, err := s.carts.Snapshot(ctx, userID)
	if err != nil {
		return Context{}, errors.Wrap(err, "load cart")
	}
	return s.builder.BuildContext(userID, snap, in.DeliveryMethod, in.DeliveryAddress, *profile)
}
