package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/chain-data-gateway/internal/httputil"
	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/store"
)

const (
	// APIKeyHeader carries a gateway API key.
	APIKeyHeader = "X-API-Key"
	// APIKeyQueryParam carries a gateway API key in the query string.
	APIKeyQueryParam = "api_key"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// GetAPIKey extracts the authenticated API key from the request context.
func GetAPIKey(ctx context.Context) *model.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*model.APIKey)
	return key
}

// WithAPIKey returns a copy of ctx carrying key.
func WithAPIKey(ctx context.Context, key *model.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

// APIKeyAuth returns middleware that authenticates requests by API key.
// The key is read from the X-API-Key header, a Bearer token, or the
// api_key query parameter, in that order.
//
// If bypassHeader is set and the request carries no key but does carry
// that header, the request continues unauthenticated so another scheme
// can handle it.
func APIKeyAuth(s store.APIKeyStore, limiter *AuthAttemptLimiter, bypassHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractAPIKey(r)
			if token == "" && bypassHeader != "" && r.Header.Get(bypassHeader) != "" {
				next.ServeHTTP(w, r)
				return
			}

			attempt, ok := limiter.Begin(r, "api_key")
			if !ok {
				httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
				return
			}

			if token == "" {
				attempt.Fail()
				httputil.RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
				return
			}

			apiKey, err := s.GetAPIKeyByHash(r.Context(), SHA256Hex(token))
			if err != nil {
				attempt.Fail()
				httputil.RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
				return
			}

			if apiKey.Status != model.StatusActive {
				attempt.Fail()
				httputil.RespondError(w, http.StatusUnauthorized, "invalid_api_key", "API key is not active")
				return
			}

			if !apiKey.Usable(time.Now()) {
				attempt.Fail()
				httputil.RespondError(w, http.StatusUnauthorized, "invalid_api_key", "API key has expired")
				return
			}

			attempt.Succeed()
			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), apiKey)))
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	if key := extractBearerToken(r); key != "" {
		return key
	}
	return r.URL.Query().Get(APIKeyQueryParam)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// SHA256Hex returns the hex-encoded SHA-256 hash of the input.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}
