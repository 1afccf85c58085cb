package x402

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/usdc"
)

var ErrNoMatchingRequirement = errors.New("no payment requirement matches the payment")

// credentialParams are stripped from resource URIs.
var credentialParams = []string{"api_key"}

// Pricing maps endpoint tiers to atomic USDC amounts.
type Pricing struct {
	Research string
	Trading  string
}

// NewPricing converts decimal USDC prices such as "0.01" to atomic units.
func NewPricing(research, trading string) (Pricing, error) {
	r, err := usdc.Atomic(research)
	if err != nil {
		return Pricing{}, fmt.Errorf("research price %q: %w", research, err)
	}
	t, err := usdc.Atomic(trading)
	if err != nil {
		return Pricing{}, fmt.Errorf("trading price %q: %w", trading, err)
	}
	if r == "0" || t == "0" {
		return Pricing{}, errors.New("x402 prices must be positive")
	}
	return Pricing{Research: r, Trading: t}, nil
}

// Amount returns the atomic price of a tier. Unknown tiers cost research.
func (p Pricing) Amount(tier model.PriceTier) string {
	if tier == model.TierTrading {
		return p.Trading
	}
	return p.Research
}

// Builder produces the requirement list for a request. The output for a
// given endpoint and request URL is deterministic.
type Builder struct {
	baseURL *url.URL
	pricing Pricing

	mu    sync.RWMutex
	rails []Rail
}

func NewBuilder(publicBaseURL string, pricing Pricing, rails ...Rail) (*Builder, error) {
	base, err := url.Parse(strings.TrimRight(publicBaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid public base url %q", publicBaseURL)
	}
	if len(rails) == 0 {
		return nil, errors.New("at least one payment network is required")
	}
	return &Builder{baseURL: base, pricing: pricing, rails: rails}, nil
}

// Networks lists the configured network ids in order.
func (b *Builder) Networks() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.rails))
	for i, r := range b.rails {
		out[i] = r.Network
	}
	return out
}

// SetExtra sets an extra field on the rail for network, for values only
// known after startup such as a facilitator-nominated fee payer.
func (b *Builder) SetExtra(network, key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.rails {
		if b.rails[i].Network != network {
			continue
		}
		extra := make(map[string]any, len(b.rails[i].Extra)+1)
		for k, v := range b.rails[i].Extra {
			extra[k] = v
		}
		extra[key] = value
		b.rails[i].Extra = extra
	}
}

// Price returns the atomic price for endpoint.
func (b *Builder) Price(endpoint model.Endpoint) string {
	return b.pricing.Amount(endpoint.Category)
}

// Build returns one requirement per configured network for endpoint,
// bound to the request path and query.
func (b *Builder) Build(endpoint model.Endpoint, path string, query url.Values) []PaymentRequirement {
	resource := b.Resource(path, query)
	amount := b.Price(endpoint)
	description := endpoint.Description
	if description == "" {
		description = "Access to " + endpoint.Path
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	reqs := make([]PaymentRequirement, 0, len(b.rails))
	for _, r := range b.rails {
		reqs = append(reqs, PaymentRequirement{
			Scheme:            SchemeExact,
			Network:           r.Network,
			MaxAmountRequired: amount,
			Resource:          resource,
			Description:       description,
			MimeType:          "application/json",
			PayTo:             r.PayTo,
			MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
			Asset:             r.Asset,
			Extra:             r.Extra,
		})
	}
	return reqs
}

// Resource is the canonical URI of a request: public base URL, path and
// query with keys sorted and credentials removed.
func (b *Builder) Resource(path string, query url.Values) string {
	u := *b.baseURL
	u.Path = b.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = ""

	if len(query) > 0 {
		q := make(url.Values, len(query))
		for k, v := range query {
			q[k] = v
		}
		for _, name := range credentialParams {
			q.Del(name)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Match returns the single requirement with the payment's scheme and
// network.
func Match(payment *PaymentPayload, reqs []PaymentRequirement) (PaymentRequirement, error) {
	for _, r := range reqs {
		if r.Scheme == payment.Scheme && r.Network == payment.Network {
			return r, nil
		}
	}
	return PaymentRequirement{}, fmt.Errorf("%w: scheme %q on network %q", ErrNoMatchingRequirement, payment.Scheme, payment.Network)
}
