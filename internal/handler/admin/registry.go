package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/handler"
	"github.com/chain-data-gateway/internal/middleware"
	"github.com/chain-data-gateway/internal/model"
)

// Registry is the endpoint registry as the admin API sees it.
type Registry interface {
	Reload(ctx context.Context) (int, error)
	Endpoints() []model.Endpoint
	LoadedAt() time.Time
}

// --- List Registry ---

type ListRegistryHandler struct {
	registry Registry
}

func NewListRegistryHandler(r Registry) *ListRegistryHandler {
	return &ListRegistryHandler{registry: r}
}

type registryEntry struct {
	model.Endpoint
	UpstreamURL string `json:"upstream_url"`
}

type registryResponse struct {
	Endpoints []registryEntry `json:"endpoints"`
	LoadedAt  string          `json:"loaded_at,omitempty"`
}

func (h *ListRegistryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	endpoints := h.registry.Endpoints()
	entries := make([]registryEntry, 0, len(endpoints))
	for _, e := range endpoints {
		entries = append(entries, registryEntry{Endpoint: e, UpstreamURL: e.UpstreamURL})
	}

	handler.RespondJSON(w, http.StatusOK, registryResponse{
		Endpoints: entries,
		LoadedAt:  formatLoadedAt(h.registry.LoadedAt()),
	})
}

// --- Reload Registry ---

type ReloadRegistryHandler struct {
	registry Registry
}

func NewReloadRegistryHandler(r Registry) *ReloadRegistryHandler {
	return &ReloadRegistryHandler{registry: r}
}

type reloadResponse struct {
	Endpoints int    `json:"endpoints"`
	LoadedAt  string `json:"loaded_at"`
}

func (h *ReloadRegistryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n, err := h.registry.Reload(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin registry reload failed")
		handler.RespondError(w, http.StatusUnprocessableEntity, "invalid_registry", err.Error())
		return
	}

	log.Info().Str("admin", middleware.GetAdminEmail(r.Context())).Int("endpoints", n).Msg("endpoint registry reloaded")
	handler.RespondJSON(w, http.StatusOK, reloadResponse{
		Endpoints: n,
		LoadedAt:  formatLoadedAt(h.registry.LoadedAt()),
	})
}

func formatLoadedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
