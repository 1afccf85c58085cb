package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chain-data-gateway/internal/model"
)

func (p *Postgres) CreateAccount(ctx context.Context, account *model.Account) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO accounts (name, credits) VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`, account.Name, account.Credits).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (p *Postgres) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	var a model.Account
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, credits, created_at, updated_at FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &a.Credits, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (p *Postgres) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var credits int64
	err := p.pool.QueryRow(ctx, `SELECT credits FROM accounts WHERE id = $1`, accountID).Scan(&credits)
	if err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return credits, nil
}

// DebitCredits decrements in a single conditional UPDATE so concurrent
// debits against the same account serialize on the row lock.
func (p *Postgres) DebitCredits(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	var remaining int64
	err := p.pool.QueryRow(ctx, `
		UPDATE accounts
		SET credits = credits - $1, updated_at = NOW()
		WHERE id = $2 AND credits >= $1
		RETURNING credits
	`, amount, accountID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !isNoRows(err) {
		return 0, fmt.Errorf("debit credits: %w", err)
	}

	// Distinguish a missing account from a drained one.
	if _, err := p.GetBalance(ctx, accountID); err != nil {
		return 0, err
	}
	return 0, ErrInsufficientCredits
}

func (p *Postgres) AddCredits(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	var balance int64
	err := p.pool.QueryRow(ctx, `
		UPDATE accounts SET credits = credits + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING credits
	`, amount, accountID).Scan(&balance)
	if err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return balance, nil
}
