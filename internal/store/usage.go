package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chain-data-gateway/internal/model"
)

func (p *Postgres) CreateUsageLog(ctx context.Context, log *model.UsageLog) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO usage_logs (
			api_key_id, account_id, endpoint_id, method, path, scheme,
			status_code, latency_ms, error, credits_charged,
			payer, network, transaction_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`,
		log.APIKeyID, log.AccountID, log.EndpointID, log.Method, log.Path, log.Scheme,
		log.StatusCode, log.LatencyMs, nullString(log.Error), log.CreditsCharged,
		nullString(log.Payer), nullString(log.Network), nullString(log.Transaction),
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage_log: %w", err)
	}
	return nil
}

func (p *Postgres) ListUsageLogs(ctx context.Context, filters UsageFilters) ([]*model.UsageLog, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filters.APIKeyID != nil {
		where += fmt.Sprintf(" AND api_key_id = $%d", argIdx)
		args = append(args, *filters.APIKeyID)
		argIdx++
	}
	if filters.AccountID != nil {
		where += fmt.Sprintf(" AND account_id = $%d", argIdx)
		args = append(args, *filters.AccountID)
		argIdx++
	}
	if filters.EndpointID != nil {
		where += fmt.Sprintf(" AND endpoint_id = $%d", argIdx)
		args = append(args, *filters.EndpointID)
		argIdx++
	}
	if filters.Scheme != nil {
		where += fmt.Sprintf(" AND scheme = $%d", argIdx)
		args = append(args, *filters.Scheme)
		argIdx++
	}
	if filters.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *filters.From)
		argIdx++
	}
	if filters.To != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *filters.To)
		argIdx++
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM usage_logs %s", where)
	if err := p.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count usage_logs: %w", err)
	}

	page, perPage := normalizePage(filters.Page, filters.PerPage)
	offset := (page - 1) * perPage

	args = append(args, perPage, offset)
	query := fmt.Sprintf(`
		SELECT id, api_key_id, account_id, endpoint_id, method, path, scheme,
		       status_code, latency_ms, error, credits_charged,
		       payer, network, transaction_ref, created_at
		FROM usage_logs %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, argIdx, argIdx+1)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list usage_logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.UsageLog
	for rows.Next() {
		var log model.UsageLog
		var errMsg, payer, network, txn *string

		err := rows.Scan(
			&log.ID, &log.APIKeyID, &log.AccountID, &log.EndpointID, &log.Method, &log.Path, &log.Scheme,
			&log.StatusCode, &log.LatencyMs, &errMsg, &log.CreditsCharged,
			&payer, &network, &txn, &log.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan usage_log: %w", err)
		}
		log.Error = deref(errMsg)
		log.Payer = deref(payer)
		log.Network = deref(network)
		log.Transaction = deref(txn)
		logs = append(logs, &log)
	}
	return logs, total, rows.Err()
}

func (p *Postgres) CountUsageByAPIKey(ctx context.Context, apiKeyID uuid.UUID) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM usage_logs WHERE api_key_id = $1 AND credits_charged > 0
	`, apiKeyID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
