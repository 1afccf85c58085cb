// Package nonce issues and consumes single-use login nonces.
//
// A nonce moves Issued -> Consumed or Issued -> Expired exactly once. The
// transition is driven by Store.Take, which removes the entry atomically so
// that its removal is itself the success signal.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/chain-data-gateway/internal/metrics"
)

const (
	// DefaultTTL is how long an issued nonce stays valid.
	DefaultTTL = 5 * time.Minute

	size = 32

	// MessageTemplate is the exact text a wallet signs. Verification compares
	// the signed message byte for byte, whitespace included.
	MessageTemplate = "Sign this message to authenticate with Chain Data Gateway.\n\nNonce: %s"
)

var (
	ErrNotFound       = errors.New("nonce not found")
	ErrReplayDetected = errors.New("nonce already used")
	ErrExpired        = errors.New("nonce expired")
	ErrDuplicate      = errors.New("nonce already issued")
)

// Entry is an issued nonce.
type Entry struct {
	Value     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Message returns the sign-in message embedding this nonce.
func (e Entry) Message() string {
	return Message(e.Value)
}

// Message renders MessageTemplate for value.
func Message(value string) string {
	return fmt.Sprintf(MessageTemplate, value)
}

// Store persists issued nonces. Take must remove the entry in the same
// atomic step that reads it, returning ErrReplayDetected for a value that was
// already taken and ErrNotFound for one that was never issued or has been
// forgotten.
type Store interface {
	Put(ctx context.Context, entry Entry) error
	Take(ctx context.Context, value string) (Entry, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Authenticator issues nonces and validates them on use.
type Authenticator struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

func NewAuthenticator(store Store, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authenticator{store: store, ttl: ttl, now: time.Now}
}

// Issue creates and stores a fresh random nonce.
func (a *Authenticator) Issue(ctx context.Context) (Entry, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return Entry{}, fmt.Errorf("generate nonce: %w", err)
	}

	entry := Entry{
		Value:     hex.EncodeToString(buf),
		ExpiresAt: a.now().Add(a.ttl).UTC(),
	}
	if err := a.store.Put(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("store nonce: %w", err)
	}
	metrics.NoncesIssuedTotal.Inc()
	return entry, nil
}

// ValidateAndConsume takes the nonce out of the store. An entry taken at or
// after its expiry is discarded and reported as ErrExpired.
func (a *Authenticator) ValidateAndConsume(ctx context.Context, value string) error {
	if value == "" {
		metrics.NonceRejectionsTotal.WithLabelValues("not_found").Inc()
		return ErrNotFound
	}

	entry, err := a.store.Take(ctx, value)
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.NonceRejectionsTotal.WithLabelValues("not_found").Inc()
		return err
	case errors.Is(err, ErrReplayDetected):
		metrics.NonceRejectionsTotal.WithLabelValues("replay").Inc()
		return err
	case err != nil:
		return fmt.Errorf("take nonce: %w", err)
	}

	if !a.now().Before(entry.ExpiresAt) {
		metrics.NonceRejectionsTotal.WithLabelValues("expired").Inc()
		return ErrExpired
	}
	return nil
}
