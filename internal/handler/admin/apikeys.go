package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/handler"
	"github.com/chain-data-gateway/internal/httputil"
	"github.com/chain-data-gateway/internal/middleware"
	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/service"
)

// --- List API Keys ---

type ListAPIKeysHandler struct {
	svc *service.APIKeyService
}

func NewListAPIKeysHandler(svc *service.APIKeyService) *ListAPIKeysHandler {
	return &ListAPIKeysHandler{svc: svc}
}

type listAPIKeysResponse struct {
	APIKeys []apiKeyItem `json:"api_keys"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
}

type apiKeyItem struct {
	ID              uuid.UUID `json:"id"`
	AccountID       uuid.UUID `json:"account_id"`
	Name            string    `json:"name"`
	KeyPrefix       string    `json:"key_prefix"`
	RateLimitMax    int       `json:"rate_limit_max"`
	RateLimitWindow int       `json:"rate_limit_window"`
	ExpiresAt       *string   `json:"expires_at"`
	Status          string    `json:"status"`
	CreatedAt       string    `json:"created_at"`
}

func (h *ListAPIKeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	keys, total, err := h.svc.List(r.Context(), page, perPage)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	items := make([]apiKeyItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, toAPIKeyItem(key))
	}

	handler.RespondJSON(w, http.StatusOK, listAPIKeysResponse{
		APIKeys: items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// --- Get API Key ---

type GetAPIKeyHandler struct {
	svc *service.APIKeyService
}

func NewGetAPIKeyHandler(svc *service.APIKeyService) *GetAPIKeyHandler {
	return &GetAPIKeyHandler{svc: svc}
}

func (h *GetAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}

	key, err := h.svc.Get(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, toAPIKeyItem(key))
}

// --- Create API Key ---

type CreateAPIKeyHandler struct {
	svc *service.APIKeyService
}

func NewCreateAPIKeyHandler(svc *service.APIKeyService) *CreateAPIKeyHandler {
	return &CreateAPIKeyHandler{svc: svc}
}

type createAPIKeyRequest struct {
	Name           string         `json:"name"`
	AccountID      *uuid.UUID     `json:"account_id,omitempty"`
	AccountName    string         `json:"account_name,omitempty"`
	InitialCredits int64          `json:"initial_credits"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	RateLimit      *rateLimitJSON `json:"rate_limit,omitempty"`
}

type rateLimitJSON struct {
	MaxRequests   int `json:"max_requests"`
	WindowSeconds int `json:"window_seconds"`
}

type createAPIKeyResponse struct {
	apiKeyItem
	APIKey  string `json:"api_key"`
	Credits int64  `json:"credits"`
}

func (h *CreateAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if !handler.DecodeJSON(w, r, &req) {
		return
	}

	input := service.CreateAPIKeyInput{
		Name:           req.Name,
		AccountID:      req.AccountID,
		AccountName:    req.AccountName,
		InitialCredits: req.InitialCredits,
		ExpiresAt:      req.ExpiresAt,
	}
	if req.RateLimit != nil {
		input.RateLimitMax = &req.RateLimit.MaxRequests
		input.RateLimitWindow = &req.RateLimit.WindowSeconds
	}

	result, err := h.svc.Create(r.Context(), input)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("admin", middleware.GetAdminEmail(r.Context())).
		Str("api_key_id", result.APIKey.ID.String()).
		Str("account_id", result.Account.ID.String()).
		Msg("API key created")

	handler.RespondJSON(w, http.StatusCreated, createAPIKeyResponse{
		apiKeyItem: toAPIKeyItem(result.APIKey),
		APIKey:     result.RawKey,
		Credits:    result.Account.Credits,
	})
}

// --- Revoke API Key ---

type RevokeAPIKeyHandler struct {
	svc *service.APIKeyService
}

func NewRevokeAPIKeyHandler(svc *service.APIKeyService) *RevokeAPIKeyHandler {
	return &RevokeAPIKeyHandler{svc: svc}
}

func (h *RevokeAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Revoke(r.Context(), id); err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().Str("admin", middleware.GetAdminEmail(r.Context())).Str("api_key_id", id.String()).Msg("API key revoked")
	handler.RespondJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"status": model.StatusRevoked,
	})
}

// --- Top Up Credits ---

type TopUpCreditsHandler struct {
	svc *service.APIKeyService
}

func NewTopUpCreditsHandler(svc *service.APIKeyService) *TopUpCreditsHandler {
	return &TopUpCreditsHandler{svc: svc}
}

type topUpRequest struct {
	Credits int64 `json:"credits"`
}

type topUpResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Added     int64     `json:"added"`
	Credits   int64     `json:"credits"`
}

func (h *TopUpCreditsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}

	var req topUpRequest
	if !handler.DecodeJSON(w, r, &req) {
		return
	}

	account, err := h.svc.TopUp(r.Context(), id, req.Credits)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("admin", middleware.GetAdminEmail(r.Context())).
		Str("account_id", account.ID.String()).
		Int64("credits", req.Credits).
		Msg("credits topped up")

	handler.RespondJSON(w, http.StatusOK, topUpResponse{
		AccountID: account.ID,
		Added:     req.Credits,
		Credits:   account.Credits,
	})
}

// --- Helpers ---

func parseKeyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return uuid.Nil, false
	}
	return id, true
}

func toAPIKeyItem(key *model.APIKey) apiKeyItem {
	item := apiKeyItem{
		ID:              key.ID,
		AccountID:       key.AccountID,
		Name:            key.Name,
		KeyPrefix:       key.KeyPrefix,
		RateLimitMax:    key.RateLimitMax,
		RateLimitWindow: key.RateLimitWindow,
		Status:          string(key.Status),
		CreatedAt:       key.CreatedAt.Format(time.RFC3339),
	}
	if key.ExpiresAt != nil {
		s := key.ExpiresAt.UTC().Format(time.RFC3339)
		item.ExpiresAt = &s
	}
	return item
}
