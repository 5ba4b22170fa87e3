package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

var errUnauthorized = errors.New("unauthorized")

// SecurityHandler authenticates requests via HMAC-SHA256 hashed API keys and
// attaches the resulting principal to the request context.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, as stored in
// api_keys.key_hash.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate resolves an API key to a principal.
func (s *SecurityHandler) Authenticate(ctx context.Context, key string) (auth.Principal, error) {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := s.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return auth.Principal{}, errUnauthorized
	}

	storedBytes, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return auth.Principal{}, errUnauthorized
	}
	if subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
		return auth.Principal{}, errUnauthorized
	}

	return auth.Principal{UserID: info.UserID, Role: info.Role, KeyID: info.ID}, nil
}

// Middleware authenticates the api_key header. Requests without the header
// continue as anonymous; requests with an unknown key are rejected.
func (s *SecurityHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		p, err := s.Authenticate(r.Context(), key)
		if err != nil {
			zctx.From(r.Context()).Debug("Rejected API key", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusUnauthorized) })
					e.Field("kind", func(e *jx.Encoder) { e.Str("authorization") })
					e.Field("message", func(e *jx.Encoder) { e.Str("invalid api key") })
				})
			})
			return
		}

		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.With(ctx, zap.String("user_id", p.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
