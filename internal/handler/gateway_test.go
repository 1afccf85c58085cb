package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chain-data-gateway/internal/forwarder"
	"github.com/chain-data-gateway/internal/middleware"
	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/pagination"
	"github.com/chain-data-gateway/internal/registry"
	"github.com/chain-data-gateway/internal/service"
	"github.com/chain-data-gateway/internal/store"
	"github.com/chain-data-gateway/internal/x402"
)

type stubFacilitator struct{}

func (stubFacilitator) Verify(ctx context.Context, p x402.PaymentPayload, req x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	return &x402.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (stubFacilitator) Settle(ctx context.Context, p x402.PaymentPayload, req x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	return &x402.SettlementResponse{Success: true, Transaction: "0xtx"}, nil
}

func (stubFacilitator) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	return &x402.SupportedResponse{}, nil
}

type testServer struct {
	router   http.Handler
	mem      *store.Memory
	keys     *service.APIKeyService
	registry *registry.Registry
	builder  *x402.Builder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/tokens":
			w.Write([]byte(`[{"symbol":"USDC"},{"symbol":"SOL"},{"symbol":"ETH"}]`))
		default:
			w.Write([]byte(`{"address":"` + r.URL.Path + `"}`))
		}
	}))
	t.Cleanup(upstream.Close)

	mem := store.NewMemory(
		model.Endpoint{ID: "tokens", Path: "/tokens", UpstreamURL: upstream.URL + "/v1/tokens", Category: model.TierResearch, CreditCost: 1, Paginated: true},
		model.Endpoint{ID: "wallet", Path: "/wallets/{address}", UpstreamURL: upstream.URL + "/v1/wallets/{address}", Category: model.TierTrading, CreditCost: 3},
	)
	reg := registry.New(mem)
	_, err := reg.Reload(context.Background())
	require.NoError(t, err)

	pricing, err := x402.NewPricing("0.01", "0.05")
	require.NoError(t, err)
	rail, err := x402.EVMRail("base-sepolia", "0x1111111111111111111111111111111111111111", "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "USDC", "2")
	require.NoError(t, err)
	builder, err := x402.NewBuilder("https://gateway.test", pricing, rail)
	require.NoError(t, err)

	fwd := forwarder.New(upstream.Client(), forwarder.Config{Credential: "upstream-secret", Timeout: 5 * time.Second})
	gateway := service.NewGatewayService(
		reg, fwd,
		service.NewCreditService(mem, mem),
		service.NewPaymentService(builder, stubFacilitator{}, mem),
		pagination.Options{PageSize: 2},
	)
	keys := service.NewAPIKeyService(mem, mem, mem, true)
	rl := middleware.NewRateLimiter()

	r := chi.NewRouter()
	r.Route("/gateway", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(mem, nil, x402.HeaderPayment))
		r.Use(middleware.RateLimitMiddleware(rl))
		r.Handle("/*", NewGatewayHandler(gateway, "/gateway", false))
	})
	r.Route("/x402", func(r chi.Router) {
		r.Handle("/*", NewGatewayHandler(gateway, "/x402", true))
	})
	r.Get("/v1/endpoints", NewCatalogHandler(reg, builder).ServeHTTP)
	r.With(middleware.APIKeyAuth(mem, nil, "")).Get("/v1/account", NewAccountHandler(keys, rl).ServeHTTP)
	r.Get("/health", NewHealthHandler(mem, reg, "test").ServeHTTP)

	return &testServer{router: r, mem: mem, keys: keys, registry: reg, builder: builder}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) newKey(t *testing.T, credits int64) string {
	t.Helper()
	res, err := s.keys.Create(context.Background(), service.CreateAPIKeyInput{Name: "client", InitialCredits: credits})
	require.NoError(t, err)
	return res.RawKey
}

func TestGatewayCreditsFlow(t *testing.T) {
	s := newTestServer(t)
	key := s.newKey(t, 5)

	req := httptest.NewRequest(http.MethodGet, "/gateway/wallets/0xabc", nil)
	req.Header.Set(middleware.APIKeyHeader, key)
	rr := s.do(t, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"address":"/v1/wallets/0xabc"}`, rr.Body.String())
	assert.Equal(t, "2", rr.Header().Get("X-Credits-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Limit"))
}

func TestGatewayPaginatesAndKeepsQueryCredential(t *testing.T) {
	s := newTestServer(t)
	key := s.newKey(t, 5)

	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/gateway/tokens?api_key="+key, nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Data       []json.RawMessage `json:"data"`
		IsComplete bool              `json:"is_complete"`
		Navigation struct {
			Next *string `json:"next"`
		} `json:"navigation"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
	assert.False(t, body.IsComplete)
	require.NotNil(t, body.Navigation.Next)
	assert.Contains(t, *body.Navigation.Next, "offset=2")
	assert.Contains(t, *body.Navigation.Next, "api_key=")

	rr = s.do(t, httptest.NewRequest(http.MethodGet, "/gateway/tokens?offset=9&api_key="+key, nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "page_out_of_range")
}

func TestGatewayRejectsMissingCredentials(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/gateway/tokens", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGatewayInsufficientCredits(t *testing.T) {
	s := newTestServer(t)
	key := s.newKey(t, 2)

	req := httptest.NewRequest(http.MethodGet, "/gateway/wallets/0xabc", nil)
	req.Header.Set(middleware.APIKeyHeader, key)
	rr := s.do(t, req)

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_credits", body["error"])
	assert.EqualValues(t, 3, body["required"])
	assert.EqualValues(t, 2, body["balance"])
}

func TestX402ChallengeBody(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/x402/wallets/0xabc?api_key=ignored", nil))
	require.Equal(t, http.StatusPaymentRequired, rr.Code)

	var body struct {
		X402Version int                       `json:"x402Version"`
		Error       string                    `json:"error"`
		Accepts     []x402.PaymentRequirement `json:"accepts"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.X402Version)
	assert.Equal(t, "payment_required", body.Error)
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, "50000", body.Accepts[0].MaxAmountRequired)
	assert.Equal(t, "https://gateway.test/x402/wallets/0xabc", body.Accepts[0].Resource)
}

func TestX402PaidRequest(t *testing.T) {
	s := newTestServer(t)
	header, err := x402.EncodePayment(x402.PaymentPayload{
		X402Version: 1, Scheme: x402.SchemeExact, Network: "base-sepolia",
		Payload: json.RawMessage(`{"signature":"0xsig"}`),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/gateway/wallets/0xabc", nil)
	req.Header.Set(x402.HeaderPayment, header)
	rr := s.do(t, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	settlement, err := x402.DecodeSettlement(rr.Header().Get(x402.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.Equal(t, "0xtx", settlement.Transaction)
}

func TestCatalogAndAccount(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/endpoints", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var catalog catalogResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &catalog))
	require.Len(t, catalog.Endpoints, 2)
	assert.Equal(t, "0.01", catalog.Endpoints[0].PriceUSDC)
	assert.Equal(t, "0.05", catalog.Endpoints[1].PriceUSDC)
	assert.Equal(t, []string{"base-sepolia"}, catalog.Networks)
	assert.NotContains(t, rr.Body.String(), "upstream")

	key := s.newKey(t, 7)
	req := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
	req.Header.Set(middleware.APIKeyHeader, key)
	rr = s.do(t, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var account AccountResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &account))
	assert.Equal(t, int64(7), account.Credits)
	assert.True(t, account.IsActive)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Endpoints)
}
