package handler

import (
	"net/http"
	"time"

	"github.com/chain-data-gateway/internal/middleware"
	"github.com/chain-data-gateway/internal/service"
)

// AccountHandler shows an API key holder its own account.
type AccountHandler struct {
	svc         *service.APIKeyService
	rateLimiter *middleware.RateLimiter
}

func NewAccountHandler(svc *service.APIKeyService, rl *middleware.RateLimiter) *AccountHandler {
	return &AccountHandler{svc: svc, rateLimiter: rl}
}

type AccountResponse struct {
	AccountID    string        `json:"account_id"`
	AccountName  string        `json:"account_name"`
	APIKeyName   string        `json:"api_key_name"`
	KeyPrefix    string        `json:"key_prefix"`
	Credits      int64         `json:"credits"`
	ExpiresAt    *string       `json:"expires_at"`
	IsActive     bool          `json:"is_active"`
	ChargedCalls int64         `json:"charged_calls"`
	RateLimit    RateLimitInfo `json:"rate_limit"`
}

type RateLimitInfo struct {
	MaxRequests   int `json:"max_requests"`
	WindowSeconds int `json:"window_seconds"`
	Remaining     int `json:"remaining"`
}

func (h *AccountHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiKey := middleware.GetAPIKey(r.Context())
	if apiKey == nil {
		RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
		return
	}

	view, err := h.svc.Account(r.Context(), apiKey)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	resp := AccountResponse{
		AccountID:    view.Account.ID.String(),
		AccountName:  view.Account.Name,
		APIKeyName:   apiKey.Name,
		KeyPrefix:    apiKey.KeyPrefix,
		Credits:      view.Account.Credits,
		IsActive:     apiKey.Usable(time.Now()),
		ChargedCalls: view.ChargedCalls,
		RateLimit: RateLimitInfo{
			MaxRequests:   apiKey.RateLimitMax,
			WindowSeconds: apiKey.RateLimitWindow,
			// read-only, does not consume a request
			Remaining: h.rateLimiter.RemainingForKey(apiKey),
		},
	}
	if apiKey.ExpiresAt != nil {
		s := apiKey.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	RespondJSON(w, http.StatusOK, resp)
}
