package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chain-data-gateway/internal/config"
	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/nonce"
	"github.com/chain-data-gateway/internal/registry"
	"github.com/chain-data-gateway/internal/store"
	"github.com/chain-data-gateway/internal/x402"
)

const testFeePayer = "So11111111111111111111111111111111111111112"

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()

	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/supported" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(x402.SupportedResponse{Kinds: []x402.SupportedKind{
			{X402Version: 1, Scheme: x402.SchemeExact, Network: "solana-devnet", Extra: map[string]any{"feePayer": testFeePayer}},
		}})
	}))
	t.Cleanup(facilitator.Close)
	cfg.FacilitatorURL = facilitator.URL

	mem := store.NewMemory(model.Endpoint{
		ID: "tokens", Path: "/tokens", UpstreamURL: "http://upstream.invalid/tokens",
		Category: model.TierResearch, CreditCost: 1,
	})
	s := &Server{
		cfg:      cfg,
		version:  "test",
		store:    mem,
		registry: registry.New(mem),
		nonces:   nonce.NewMemoryStore(),
	}
	_, err := s.registry.Reload(context.Background())
	require.NoError(t, err)

	router, err := s.buildRouter(context.Background())
	require.NoError(t, err)
	return router
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                 8080,
		PublicBaseURL:        "https://gateway.test",
		UpstreamAPIKey:       "upstream-secret",
		UpstreamAPIKeyHeader: "X-API-Key",
		UpstreamTimeout:      time.Second,
		PageSize:             100,
		DeepPageThreshold:    5,
		X402Networks:         "base-sepolia,solana-devnet",
		X402ResearchPrice:    "0.01",
		X402TradingPrice:     "0.05",
		EVMPayTo:             "0x1111111111111111111111111111111111111111",
		EVMUSDCName:          "USDC",
		EVMUSDCVersion:       "2",
		SolanaPayTo:          "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		NonceTTL:             time.Minute,
		SessionSecret:        "0123456789abcdef0123456789abcdef",
		SessionTTL:           time.Hour,
		AnonRateLimit:        60,
	}
}

func TestRouterMountsPublicRoutes(t *testing.T) {
	router := newTestRouter(t, testConfig())

	for _, path := range []string{"/health", "/metrics", "/v1/endpoints", "/auth/nonce"} {
		t.Run(path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rr.Code)
		})
	}
}

func TestAdminRoutesDisabledWithoutGoogleClient(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/usage", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestChallengeCarriesDiscoveredFeePayer(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x402/tokens", nil))
	require.Equal(t, http.StatusPaymentRequired, rr.Code)

	var body x402.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Accepts, 2)
	assert.Equal(t, "base-sepolia", body.Accepts[0].Network)
	assert.Equal(t, x402.DefaultUSDC("base-sepolia"), body.Accepts[0].Asset)
	assert.Equal(t, "solana-devnet", body.Accepts[1].Network)
	assert.Equal(t, testFeePayer, body.Accepts[1].Extra["feePayer"])
}

func TestCORSExposesPaymentHeaders(t *testing.T) {
	router := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	exposed := strings.ToLower(rr.Header().Get("Access-Control-Expose-Headers"))
	assert.Contains(t, exposed, "x-payment-response")
	assert.Contains(t, exposed, "x-credits-remaining")
}

func TestGatewayRequiresCredentials(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/gateway/tokens", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
