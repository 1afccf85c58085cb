package model

import (
	"time"

	"github.com/google/uuid"
)

type AccessScheme string

const (
	SchemeCredits AccessScheme = "credits"
	SchemeX402    AccessScheme = "x402"
)

// UsageLog is one completed gateway request attempt. Rows are never updated.
type UsageLog struct {
	ID             uuid.UUID    `json:"id"`
	APIKeyID       *uuid.UUID   `json:"api_key_id,omitempty"`
	AccountID      *uuid.UUID   `json:"account_id,omitempty"`
	EndpointID     string       `json:"endpoint_id"`
	Method         string       `json:"method"`
	Path           string       `json:"path"`
	Scheme         AccessScheme `json:"scheme"`
	StatusCode     int          `json:"status_code"`
	LatencyMs      int64        `json:"latency_ms"`
	Error          string       `json:"error,omitempty"`
	CreditsCharged int64        `json:"credits_charged"`
	Payer          string       `json:"payer,omitempty"`
	Network        string       `json:"network,omitempty"`
	Transaction    string       `json:"transaction,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}
