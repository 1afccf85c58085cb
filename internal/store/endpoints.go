package store

import (
	"context"
	"fmt"

	"github.com/chain-data-gateway/internal/model"
)

// ListEndpoints returns every enabled endpoint in registration order.
func (p *Postgres) ListEndpoints(ctx context.Context) ([]model.Endpoint, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, path, upstream_url, method, category, credit_cost, paginated,
		       COALESCE(description, ''), created_at
		FROM endpoints
		WHERE enabled
		ORDER BY position, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []model.Endpoint
	for rows.Next() {
		var e model.Endpoint
		if err := rows.Scan(
			&e.ID, &e.Path, &e.UpstreamURL, &e.Method, &e.Category, &e.CreditCost, &e.Paginated,
			&e.Description, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}
