package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chain-data-gateway/internal/model"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// APIKeyStore defines operations for API key management.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, page, perPage int) ([]*model.APIKey, int, error)
	UpdateAPIKeyStatus(ctx context.Context, id uuid.UUID, status model.APIKeyStatus) error
}

// CreditLedger holds per-account credit balances. DebitCredits must be a
// single atomic decrement at the storage layer and never drive a balance
// below zero; it returns ErrInsufficientCredits instead.
type CreditLedger interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	DebitCredits(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error)
	AddCredits(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error)
}

// UsageLogStore is the append-only request log.
type UsageLogStore interface {
	CreateUsageLog(ctx context.Context, log *model.UsageLog) error
	ListUsageLogs(ctx context.Context, filters UsageFilters) ([]*model.UsageLog, int, error)
	CountUsageByAPIKey(ctx context.Context, apiKeyID uuid.UUID) (int64, error)
}

// EndpointStore is the read-only endpoint registry source.
type EndpointStore interface {
	ListEndpoints(ctx context.Context) ([]model.Endpoint, error)
}

// Store combines every store the gateway needs.
type Store interface {
	APIKeyStore
	CreditLedger
	UsageLogStore
	EndpointStore
	Ping(ctx context.Context) error
}

type UsageFilters struct {
	APIKeyID   *uuid.UUID
	AccountID  *uuid.UUID
	EndpointID *string
	Scheme     *model.AccessScheme
	From       *time.Time
	To         *time.Time
	Page       int
	PerPage    int
}
