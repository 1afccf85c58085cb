package middleware

import (
	"context"
	"net/http"

	"github.com/chain-data-gateway/internal/httputil"
	"github.com/chain-data-gateway/internal/session"
)

type sessionKey struct{}

// GetSession returns the wallet session claims set by SessionAuth.
func GetSession(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(sessionKey{}).(*session.Claims)
	return claims
}

// SessionAuth requires a Bearer session token issued by wallet login.
func SessionAuth(issuer *session.Issuer, limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempt, ok := limiter.Begin(r, "session")
			if !ok {
				httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
				return
			}

			token := extractBearerToken(r)
			if token == "" {
				attempt.Fail()
				httputil.RespondError(w, http.StatusUnauthorized, "unauthorized", "Missing session token")
				return
			}

			claims, err := issuer.Parse(token)
			if err != nil {
				attempt.Fail()
				httputil.RespondError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired session token")
				return
			}

			attempt.Succeed()
			ctx := context.WithValue(r.Context(), sessionKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
