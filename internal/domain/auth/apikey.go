package auth

import (
	"context"

	"github.com/xenking/kart-checkout/internal/domain/apperr"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// APIKeyInfo holds the identity bound to a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	UserID  string
	Role    user.Role
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// ErrForbidden is returned when the caller lacks the role an operation needs.
var ErrForbidden = apperr.Authorization("forbidden", "operation not permitted")

// Principal is the authenticated caller of an operation. The zero value is
// an anonymous visitor.
type Principal struct {
	UserID string
	Role   user.Role
	KeyID  string
}

// Anonymous reports whether no user is attached.
func (p Principal) Anonymous() bool { return p.UserID == "" }

// IsAdmin reports whether the caller holds the admin role.
func (p Principal) IsAdmin() bool { return !p.Anonymous() && p.Role == user.RoleAdmin }

// RequireAdmin fails with ErrForbidden unless p is an admin.
func RequireAdmin(p Principal) error {
	if !p.IsAdmin() {
		return ErrForbidden.Withf("admin role required")
	}
	return nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or an anonymous one.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}
