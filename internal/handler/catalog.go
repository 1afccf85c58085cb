package handler

import (
	"math/big"
	"net/http"

	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/usdc"
	"github.com/chain-data-gateway/internal/x402"
)

// EndpointLister returns the registered endpoints.
type EndpointLister interface {
	Endpoints() []model.Endpoint
}

// CatalogHandler lists every gated endpoint with its credit cost and
// x402 price.
type CatalogHandler struct {
	registry EndpointLister
	builder  *x402.Builder
}

func NewCatalogHandler(registry EndpointLister, builder *x402.Builder) *CatalogHandler {
	return &CatalogHandler{registry: registry, builder: builder}
}

type catalogResponse struct {
	Endpoints []catalogItem `json:"endpoints"`
	Networks  []string      `json:"networks"`
}

type catalogItem struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Method      string `json:"method,omitempty"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Paginated   bool   `json:"paginated"`
	CreditCost  int64  `json:"credit_cost"`
	PriceUSDC   string `json:"price_usdc"`
	PriceAtomic string `json:"price_atomic"`
}

func (h *CatalogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	endpoints := h.registry.Endpoints()
	items := make([]catalogItem, 0, len(endpoints))
	for _, e := range endpoints {
		atomic := h.builder.Price(e)
		items = append(items, catalogItem{
			ID:          e.ID,
			Path:        e.Path,
			Method:      e.Method,
			Category:    string(e.Category),
			Description: e.Description,
			Paginated:   e.Paginated,
			CreditCost:  e.CreditCost,
			PriceUSDC:   formatPrice(atomic),
			PriceAtomic: atomic,
		})
	}

	RespondJSON(w, http.StatusOK, catalogResponse{
		Endpoints: items,
		Networks:  h.builder.Networks(),
	})
}

func formatPrice(atomic string) string {
	n, ok := new(big.Int).SetString(atomic, 10)
	if !ok {
		return atomic
	}
	return usdc.Format(n)
}
