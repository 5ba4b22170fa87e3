// Package idempotency keeps short-lived claims on payment operations in
// Redis so that captures and refunds run at most once across processes.
package idempotency

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

const (
	pending    = "pending"
	donePrefix = "done:"
)

var _ payment.Idempotency = (*RedisStore)(nil)

// RedisStore implements payment.Idempotency on Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore. Keys are stored under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

// Claim reserves key for ttl or reports who holds it.
func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (payment.Claim, error) {
	// The holder may expire between SETNX and GET; one retry covers that.
	for range 2 {
		ok, err := s.client.SetNX(ctx, s.key(key), pending, ttl).Result()
		if err != nil {
			return payment.Claim{}, errors.Wrap(err, "setnx")
		}
		if ok {
			return payment.Claim{Acquired: true}, nil
		}

		v, err := s.client.Get(ctx, s.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return payment.Claim{}, errors.Wrap(err, "get")
		}
		if result, ok := strings.CutPrefix(v, donePrefix); ok {
			return payment.Claim{Completed: true, Result: result}, nil
		}
		return payment.Claim{}, nil
	}
	return payment.Claim{}, nil
}

// Complete stores the result of the operation holding key.
func (s *RedisStore) Complete(ctx context.Context, key, result string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), donePrefix+result, ttl).Err(); err != nil {
		return errors.Wrap(err, "set")
	}
	return nil
}

// Release drops an unfinished claim.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}
