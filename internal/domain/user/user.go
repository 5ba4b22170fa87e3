// Package user describes the customer profile the checkout flow reads.
// Account management itself lives outside this service.
package user

import (
	"context"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
)

// DeletedAccountName is rendered for orders whose owner row is gone.
const DeletedAccountName = "Deleted account"

// Role controls what a caller may do.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// ErrNotFound is returned when no profile exists for a user id.
var ErrNotFound = apperr.NotFound("user_not_found", "user not found")

// Profile is the subset of account data used when pricing and rendering orders.
type Profile struct {
	ID           string
	Name         string
	Role         Role
	Address      string
	FreeDelivery bool
}

// Repository reads user profiles.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	GetByIDs(ctx context.Context, ids []string) ([]Profile, error)
}
