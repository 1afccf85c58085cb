package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Pinger checks backing store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegistryStatus reports the loaded endpoint registry.
type RegistryStatus interface {
	Len() int
	LoadedAt() time.Time
}

type HealthHandler struct {
	db        Pinger
	registry  RegistryStatus
	version   string
	startTime time.Time
}

func NewHealthHandler(db Pinger, registry RegistryStatus, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		registry:  registry,
		version:   version,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	Database         string `json:"database"`
	Endpoints        int    `json:"endpoints"`
	RegistryLoadedAt string `json:"registry_loaded_at,omitempty"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Database:      "ok",
		Endpoints:     h.registry.Len(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if loaded := h.registry.LoadedAt(); !loaded.IsZero() {
		resp.RegistryLoadedAt = loaded.UTC().Format(time.RFC3339)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("health check database ping failed")
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if resp.Endpoints == 0 {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	RespondJSON(w, status, resp)
}
