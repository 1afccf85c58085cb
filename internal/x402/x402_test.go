package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chain-data-gateway/internal/model"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	pricing, err := NewPricing("0.01", "0.05")
	require.NoError(t, err)

	evm, err := EVMRail("base", "0x1111111111111111111111111111111111111111",
		"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin", "2")
	require.NoError(t, err)
	sol, err := SolanaRail("solana", "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "")
	require.NoError(t, err)

	b, err := NewBuilder("https://gateway.test/", pricing, evm, sol)
	require.NoError(t, err)
	return b
}

func encodeJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestBuildOneRequirementPerNetwork(t *testing.T) {
	b := testBuilder(t)
	research := model.Endpoint{Path: "/defi/{chain}/tvl", Category: model.TierResearch, Description: "TVL"}
	trading := model.Endpoint{Path: "/dex/{pair}/quote", Category: model.TierTrading}

	reqs := b.Build(research, "/x402/defi/eth/tvl", nil)
	require.Len(t, reqs, 2)
	assert.Equal(t, "base", reqs[0].Network)
	assert.Equal(t, "solana", reqs[1].Network)
	for _, r := range reqs {
		assert.Equal(t, SchemeExact, r.Scheme)
		assert.Equal(t, "10000", r.MaxAmountRequired)
		assert.Equal(t, "https://gateway.test/x402/defi/eth/tvl", r.Resource)
		assert.Equal(t, 300, r.MaxTimeoutSeconds)
		assert.Equal(t, "TVL", r.Description)
	}
	assert.Equal(t, map[string]any{"name": "USD Coin", "version": "2"}, reqs[0].Extra)

	reqs = b.Build(trading, "/x402/dex/eth-usdc/quote", nil)
	assert.Equal(t, "50000", reqs[0].MaxAmountRequired)
	assert.Equal(t, "Access to /dex/{pair}/quote", reqs[0].Description)
}

func TestBuildIsDeterministic(t *testing.T) {
	b := testBuilder(t)
	e := model.Endpoint{Path: "/wallets/{address}", Category: model.TierResearch}
	q := url.Values{"b": {"2"}, "a": {"1"}, "api_key": {"secret"}}

	first, err := json.Marshal(b.Build(e, "/x402/wallets/0xabc", q))
	require.NoError(t, err)
	second, err := json.Marshal(b.Build(e, "/x402/wallets/0xabc", url.Values{"a": {"1"}, "b": {"2"}}))
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestResourceStripsCredentialsAndSortsQuery(t *testing.T) {
	b := testBuilder(t)
	got := b.Resource("gateway/tokens", url.Values{"z": {"9"}, "api_key": {"k"}, "offset": {"2"}})
	assert.Equal(t, "https://gateway.test/gateway/tokens?offset=2&z=9", got)
}

func TestSetExtraFillsFeePayer(t *testing.T) {
	b := testBuilder(t)
	b.SetExtra("solana", "feePayer", "FeePayer1111111111111111111111111111111111")

	reqs := b.Build(model.Endpoint{Path: "/x"}, "/x402/x", nil)
	assert.Equal(t, "FeePayer1111111111111111111111111111111111", reqs[1].Extra["feePayer"])
	assert.NotContains(t, reqs[0].Extra, "feePayer")
}

func TestDecodePayment(t *testing.T) {
	valid := map[string]any{
		"x402Version": 1, "scheme": "exact", "network": "base",
		"payload": map[string]any{"signature": "0xabc"},
	}

	p, err := DecodePayment(encodeJSON(t, valid))
	require.NoError(t, err)
	assert.Equal(t, "base", p.Network)
	assert.JSONEq(t, `{"signature":"0xabc"}`, string(p.Payload))

	urlSafe, _ := json.Marshal(valid)
	_, err = DecodePayment(base64.RawURLEncoding.EncodeToString(urlSafe))
	require.NoError(t, err)

	tests := map[string]string{
		"not base64":      "%%%",
		"not json":        base64.StdEncoding.EncodeToString([]byte("nope")),
		"wrong version":   encodeJSON(t, map[string]any{"x402Version": 2, "scheme": "exact", "network": "base", "payload": map[string]any{}}),
		"missing network": encodeJSON(t, map[string]any{"x402Version": 1, "scheme": "exact", "payload": map[string]any{}}),
		"missing payload": encodeJSON(t, map[string]any{"x402Version": 1, "scheme": "exact", "network": "base"}),
		"empty":           "",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePayment(header)
			assert.ErrorIs(t, err, ErrMalformedPayment)
		})
	}
}

func TestMatch(t *testing.T) {
	reqs := testBuilder(t).Build(model.Endpoint{Path: "/x"}, "/x402/x", nil)

	got, err := Match(&PaymentPayload{Scheme: "exact", Network: "solana"}, reqs)
	require.NoError(t, err)
	assert.Equal(t, "solana", got.Network)

	_, err = Match(&PaymentPayload{Scheme: "exact", Network: "polygon"}, reqs)
	assert.ErrorIs(t, err, ErrNoMatchingRequirement)
	_, err = Match(&PaymentPayload{Scheme: "upto", Network: "base"}, reqs)
	assert.ErrorIs(t, err, ErrNoMatchingRequirement)
}

func TestSettlementHeaderRoundTrip(t *testing.T) {
	in := SettlementResponse{Success: true, Transaction: "0xfeed", Network: "base", Payer: "0xabc"}
	header, err := EncodeSettlement(in)
	require.NoError(t, err)

	out, err := DecodeSettlement(header)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestParseNetworks(t *testing.T) {
	got, err := ParseNetworks("base, solana-devnet")
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "solana-devnet"}, got)

	_, err = ParseNetworks("base,polygon")
	assert.Error(t, err)
	_, err = ParseNetworks("base,base")
	assert.Error(t, err)
}

func TestNewPricingRejectsInvalid(t *testing.T) {
	_, err := NewPricing("0", "0.05")
	assert.Error(t, err)
	_, err = NewPricing("abc", "0.05")
	assert.Error(t, err)
}

func TestHTTPFacilitator(t *testing.T) {
	var lastBody facilitatorRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&lastBody))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"isValid":true,"payer":"0xpayer"}`))
		case "/settle":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"errorReason":"insufficient_funds","transaction":""}`))
		case "/supported":
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(`{"kinds":[{"x402Version":1,"scheme":"exact","network":"solana","extra":{"feePayer":"FP111"}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewHTTPFacilitator(srv.URL+"/", srv.Client())
	payment := PaymentPayload{X402Version: 1, Scheme: "exact", Network: "base", Payload: json.RawMessage(`{"sig":"1"}`)}
	req := PaymentRequirement{Scheme: "exact", Network: "base", MaxAmountRequired: "10000", MaxTimeoutSeconds: 5}

	verify, err := f.Verify(context.Background(), payment, req)
	require.NoError(t, err)
	assert.True(t, verify.IsValid)
	assert.Equal(t, "0xpayer", verify.Payer)
	assert.Equal(t, "10000", lastBody.PaymentRequirements.MaxAmountRequired)
	assert.JSONEq(t, `{"sig":"1"}`, string(lastBody.PaymentPayload.Payload))

	settle, err := f.Settle(context.Background(), payment, req)
	require.NoError(t, err)
	assert.False(t, settle.Success)
	assert.Equal(t, "insufficient_funds", settle.ErrorReason)
	assert.Equal(t, "base", settle.Network)

	supported, err := f.Supported(context.Background())
	require.NoError(t, err)
	fp, ok := FeePayer(supported, "solana")
	assert.True(t, ok)
	assert.Equal(t, "FP111", fp)
	_, ok = FeePayer(supported, "base")
	assert.False(t, ok)
}

func TestHTTPFacilitatorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewHTTPFacilitator(srv.URL, srv.Client())
	_, err := f.Verify(context.Background(), PaymentPayload{}, PaymentRequirement{MaxTimeoutSeconds: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFacilitator))
}

func TestHTTPFacilitatorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPFacilitator(srv.URL, nil).Supported(context.Background())
	assert.ErrorIs(t, err, ErrFacilitator)
}

func TestDefaultUSDC(t *testing.T) {
	for network := range networkFamilies {
		assert.NotEmpty(t, DefaultUSDC(network), network)
	}
	assert.Empty(t, DefaultUSDC("polygon"))
}
