package payment

import (
	"context"
	"time"
)

// Claim is the outcome of reserving an idempotency key.
type Claim struct {
	// Acquired is true when the caller now owns the key.
	Acquired bool
	// Completed is true when an earlier owner finished; Result holds its value.
	Completed bool
	Result    string
}

// Idempotency reserves keys across processes so a logical operation runs
// at most once.
type Idempotency interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key, result string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}
