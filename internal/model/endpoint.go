package model

import (
	"strings"
	"time"
)

// PriceTier selects the x402 price charged for an endpoint.
type PriceTier string

const (
	TierResearch PriceTier = "research"
	TierTrading  PriceTier = "trading"
)

// Endpoint is a registered route template and the upstream URL it maps to.
// Path segments wrapped in braces, like {chain}, are placeholders.
type Endpoint struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	UpstreamURL string    `json:"-"`
	Method      string    `json:"method"`
	Category    PriceTier `json:"category"`
	CreditCost  int64     `json:"credit_cost"`
	Paginated   bool      `json:"paginated"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasPlaceholders reports whether any path segment is a {name} placeholder.
// Braces inside a longer segment, as in /a{b}/c, are literal text.
func (e *Endpoint) HasPlaceholders() bool {
	for _, segment := range strings.Split(e.Path, "/") {
		if _, ok := PlaceholderName(segment); ok {
			return true
		}
	}
	return false
}

// PlaceholderName returns name when segment is exactly "{name}".
func PlaceholderName(segment string) (string, bool) {
	if len(segment) < 3 || segment[0] != '{' || segment[len(segment)-1] != '}' {
		return "", false
	}
	return segment[1 : len(segment)-1], true
}
