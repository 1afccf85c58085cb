package model

import (
	"time"

	"github.com/google/uuid"
)

type APIKeyStatus string

const (
	StatusActive  APIKeyStatus = "active"
	StatusRevoked APIKeyStatus = "revoked"
)

type APIKey struct {
	ID              uuid.UUID    `json:"id"`
	AccountID       uuid.UUID    `json:"account_id"`
	Name            string       `json:"name"`
	KeyHash         string       `json:"-"`
	KeyPrefix       string       `json:"key_prefix"`
	RateLimitMax    int          `json:"rate_limit_max"`
	RateLimitWindow int          `json:"rate_limit_window"`
	Status          APIKeyStatus `json:"status"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Usable reports whether the key may authorize calls at the given instant.
func (k *APIKey) Usable(now time.Time) bool {
	if k.Status != StatusActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// Account owns a credit balance shared by all of its API keys.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
