package router

import (
	"errors"
	"testing"

	"github.com/chain-data-gateway/internal/model"
)

func endpoints() []model.Endpoint {
	return []model.Endpoint{
		{ID: "chain-tvl", Path: "/defi/{chain}/tvl", UpstreamURL: "https://up.test/v1/tvl?chain={chain}"},
		{ID: "latest-tvl", Path: "/defi/latest/tvl", UpstreamURL: "https://up.test/v1/tvl/latest"},
		{ID: "token", Path: "/tokens/{chain}/{address}", UpstreamURL: "https://up.test/{chain}/token/{address}"},
		{ID: "token-any", Path: "/tokens/{network}/{contract}", UpstreamURL: "https://other.test/{network}/{contract}"},
	}
}

func TestResolveBindsPlaceholders(t *testing.T) {
	m, err := Resolve("/tokens/ethereum/0xabc", endpoints())
	if err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if m.Endpoint.ID != "token" {
		t.Fatalf("expected token endpoint, got %q", m.Endpoint.ID)
	}
	if m.Params["chain"] != "ethereum" || m.Params["address"] != "0xabc" {
		t.Fatalf("unexpected params: %#v", m.Params)
	}
	if got := m.UpstreamURL(); got != "https://up.test/ethereum/token/0xabc" {
		t.Fatalf("unexpected upstream URL %q", got)
	}
}

func TestResolveLiteralBeatsEarlierParameterizedTemplate(t *testing.T) {
	m, err := Resolve("/defi/latest/tvl", endpoints())
	if err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if m.Endpoint.ID != "latest-tvl" {
		t.Fatalf("literal route should win, got %q", m.Endpoint.ID)
	}
	if len(m.Params) != 0 {
		t.Fatalf("literal match should have no params, got %#v", m.Params)
	}
}

func TestResolveFirstParameterizedMatchWins(t *testing.T) {
	m, err := Resolve("/tokens/solana/mint", endpoints())
	if err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if m.Endpoint.ID != "token" {
		t.Fatalf("expected registration order to win, got %q", m.Endpoint.ID)
	}
}

func TestResolveRejects(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"segment count mismatch", "/defi/eth/tvl/extra"},
		{"literal case differs", "/DeFi/eth/tvl"},
		{"unknown path", "/nft/collections"},
		{"empty path", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.path, endpoints())
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestResolveIgnoresSurroundingSlashes(t *testing.T) {
	m, err := Resolve("defi/arbitrum/tvl/", endpoints())
	if err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if m.Params["chain"] != "arbitrum" {
		t.Fatalf("unexpected params: %#v", m.Params)
	}
}

func TestSubstituteDoesNotReparseValues(t *testing.T) {
	got := Substitute("https://up.test/{a}/{b}", map[string]string{"a": "{b}", "b": "x"})
	if got != "https://up.test/%7Bb%7D/x" {
		t.Fatalf("unexpected substitution %q", got)
	}
}

func TestSubstituteKeepsValuesInsideOneSegment(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"0xabc?admin=true#", "https://up.test/v1/wallets/0xabc%3Fadmin=true%23/balance"},
		{"..", "https://up.test/v1/wallets/%2E%2E/balance"},
		{".", "https://up.test/v1/wallets/%2E/balance"},
		{"a b", "https://up.test/v1/wallets/a%20b/balance"},
		{"a/../b", "https://up.test/v1/wallets/a%2F..%2Fb/balance"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := Substitute("https://up.test/v1/wallets/{address}/balance", map[string]string{"address": tt.value})
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSubstituteEscapesQueryValues(t *testing.T) {
	got := Substitute("https://up.test/v1/tvl?chain={chain}", map[string]string{"chain": "eth&admin=true"})
	if got != "https://up.test/v1/tvl?chain=eth%26admin%3Dtrue" {
		t.Fatalf("unexpected substitution %q", got)
	}
}

func TestResolveRejectsDotSegmentCaptures(t *testing.T) {
	endpoints := []model.Endpoint{{ID: "balance", Path: "/wallets/{address}/balance"}}
	for _, path := range []string{"/wallets/../balance", "/wallets/./balance"} {
		if _, err := Resolve(path, endpoints); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", path, err)
		}
	}
}

func TestSubstituteKeepsUnknownTokens(t *testing.T) {
	got := Substitute("https://up.test/{a}/{missing}", map[string]string{"a": "1"})
	if got != "https://up.test/1/{missing}" {
		t.Fatalf("unexpected substitution %q", got)
	}
}

func TestPlaceholders(t *testing.T) {
	names := Placeholders("/tokens/{chain}/{address}")
	if len(names) != 2 || names[0] != "chain" || names[1] != "address" {
		t.Fatalf("unexpected placeholders %#v", names)
	}
}

func TestResolveTreatsEmbeddedBracesAsLiteral(t *testing.T) {
	endpoints := []model.Endpoint{
		{ID: "any", Path: "/{x}/c"},
		{ID: "braced", Path: "/a{b}/c"},
	}
	m, err := Resolve("/a{b}/c", endpoints)
	if err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if m.Endpoint.ID != "braced" {
		t.Fatalf("expected the literal template to win, got %q", m.Endpoint.ID)
	}
}
