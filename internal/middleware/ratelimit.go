package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chain-data-gateway/internal/httputil"
	"github.com/chain-data-gateway/internal/model"
)

// RateLimiter implements fixed-window rate limiting keyed by an opaque id:
// an API key id for credit traffic, a client IP for anonymous x402 traffic.
type RateLimiter struct {
	mu          sync.Mutex
	counters    map[string]*window
	lastCleanup time.Time
	now         func() time.Time
}

type window struct {
	count    int
	resetAt  time.Time
	lastSeen time.Time
}

// Limit is a request budget per window.
type Limit struct {
	Max    int
	Window time.Duration
}

const (
	cleanupInterval    = 5 * time.Minute
	expiredWindowGrace = 10 * time.Minute
	staleEntryTTL      = 24 * time.Hour
)

// NewRateLimiter creates a new in-memory rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		counters:    make(map[string]*window),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow counts one request against id.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) Allow(id string, limit Limit) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	defer rl.cleanupLocked(now)

	w, exists := rl.counters[id]
	if !exists || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(limit.Window)}
		rl.counters[id] = w
	}
	w.lastSeen = now

	if w.count >= limit.Max {
		return false, 0, w.resetAt
	}
	w.count++
	return true, limit.Max - w.count, w.resetAt
}

// Remaining returns the remaining request count without incrementing.
func (rl *RateLimiter) Remaining(id string, limit Limit) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	defer rl.cleanupLocked(now)

	w, exists := rl.counters[id]
	if !exists || now.After(w.resetAt) {
		return limit.Max
	}
	w.lastSeen = now
	return max(limit.Max-w.count, 0)
}

// RemainingForKey returns what is left of an API key's own limit.
func (rl *RateLimiter) RemainingForKey(apiKey *model.APIKey) int {
	return rl.Remaining(keyID(apiKey), keyLimit(apiKey))
}

func keyID(apiKey *model.APIKey) string { return "key:" + apiKey.ID.String() }

func keyLimit(apiKey *model.APIKey) Limit {
	return Limit{Max: apiKey.RateLimitMax, Window: time.Duration(apiKey.RateLimitWindow) * time.Second}
}

// RateLimitMiddleware enforces the authenticated API key's own limit.
// Requests without a key pass through.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := GetAPIKey(r.Context())
			if apiKey == nil {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey.RateLimitMax <= 0 || apiKey.RateLimitWindow <= 0 {
				httputil.RespondError(w, http.StatusInternalServerError, "invalid_key_configuration", "API key rate limit configuration is invalid")
				return
			}

			if !enforce(w, rl, keyID(apiKey), keyLimit(apiKey)) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AnonymousRateLimit limits requests that carry no API key by client IP.
// A non-positive Max disables it.
func AnonymousRateLimit(rl *RateLimiter, limit Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit.Max <= 0 || GetAPIKey(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !enforce(w, rl, "ip:"+ClientIP(r), limit) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func enforce(w http.ResponseWriter, rl *RateLimiter, id string, limit Limit) bool {
	allowed, remaining, resetAt := rl.Allow(id, limit)

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Max))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

	if !allowed {
		httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
		return false
	}
	return true
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	if now.Sub(rl.lastCleanup) < cleanupInterval {
		return
	}

	for id, w := range rl.counters {
		if now.Sub(w.lastSeen) > staleEntryTTL || now.After(w.resetAt.Add(expiredWindowGrace)) {
			delete(rl.counters, id)
		}
	}

	rl.lastCleanup = now
}
