package admin

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/handler"
	"github.com/chain-data-gateway/internal/httputil"
	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/service"
	"github.com/chain-data-gateway/internal/store"
)

// --- List Usage Logs ---

type UsageLogsHandler struct {
	store store.UsageLogStore
}

func NewUsageLogsHandler(s store.UsageLogStore) *UsageLogsHandler {
	return &UsageLogsHandler{store: s}
}

type usageLogsResponse struct {
	UsageLogs []*model.UsageLog `json:"usage_logs"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	PerPage   int               `json:"per_page"`
}

func (h *UsageLogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, perPage, err := httputil.ParsePagination(q.Get("page"), q.Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	filters := store.UsageFilters{
		Page:    page,
		PerPage: perPage,
	}

	for param, dst := range map[string]**uuid.UUID{
		"api_key_id": &filters.APIKeyID,
		"account_id": &filters.AccountID,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid "+param)
			return
		}
		*dst = &id
	}

	if endpointID := q.Get("endpoint_id"); endpointID != "" {
		filters.EndpointID = &endpointID
	}

	if schemeStr := q.Get("scheme"); schemeStr != "" {
		scheme := model.AccessScheme(schemeStr)
		if scheme != model.SchemeCredits && scheme != model.SchemeX402 {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "scheme must be credits or x402")
			return
		}
		filters.Scheme = &scheme
	}

	if fromStr := q.Get("from"); fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid 'from' date format (use RFC3339)")
			return
		}
		filters.From = &t
	}

	if toStr := q.Get("to"); toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid 'to' date format (use RFC3339)")
			return
		}
		filters.To = &t
	}

	logs, total, err := h.store.ListUsageLogs(r.Context(), filters)
	if err != nil {
		log.Error().Err(err).Msg("failed to list usage logs")
		service.RespondError(w, service.NewInternal(service.CodeInternal, "Failed to list usage logs"))
		return
	}
	if logs == nil {
		logs = []*model.UsageLog{}
	}

	handler.RespondJSON(w, http.StatusOK, usageLogsResponse{
		UsageLogs: logs,
		Total:     total,
		Page:      page,
		PerPage:   perPage,
	})
}
