package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/middleware"
	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/store"
)

const (
	defaultRateLimitMax    = 100
	defaultRateLimitWindow = 60
	maxRateLimitMax        = 10000
	maxRateLimitWindow     = 86400
	maxCreditGrant         = 1_000_000_000
)

// APIKeyService handles API key and account business logic.
type APIKeyService struct {
	keys     store.APIKeyStore
	accounts store.CreditLedger
	usage    store.UsageLogStore
	testMode bool
}

// NewAPIKeyService creates a new API key service. In test mode keys are
// issued with the cdg_test_ prefix.
func NewAPIKeyService(keys store.APIKeyStore, accounts store.CreditLedger, usage store.UsageLogStore, testMode bool) *APIKeyService {
	return &APIKeyService{keys: keys, accounts: accounts, usage: usage, testMode: testMode}
}

// CreateAPIKeyInput contains the parameters for creating a new API key.
// When AccountID is nil a new account is opened with InitialCredits.
type CreateAPIKeyInput struct {
	Name            string
	AccountID       *uuid.UUID
	AccountName     string
	InitialCredits  int64
	ExpiresAt       *time.Time
	RateLimitMax    *int
	RateLimitWindow *int
}

// CreateAPIKeyResult contains the output of a successful key creation.
type CreateAPIKeyResult struct {
	APIKey  *model.APIKey
	Account *model.Account
	RawKey  string
}

// Create validates input, opens or reuses an account, and persists a new key.
func (s *APIKeyService) Create(ctx context.Context, input CreateAPIKeyInput) (*CreateAPIKeyResult, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, NewBadRequest(CodeInvalidRequest, "name is required")
	}
	if input.InitialCredits < 0 || input.InitialCredits > maxCreditGrant {
		return nil, NewBadRequest(CodeInvalidRequest, "initial_credits must be between 0 and 1000000000")
	}
	if input.AccountID != nil && input.InitialCredits > 0 {
		return nil, NewBadRequest(CodeInvalidRequest, "initial_credits only applies to new accounts, use the credits endpoint to top up")
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now().UTC()) {
		return nil, NewBadRequest(CodeInvalidRequest, "expires_at must be in the future")
	}

	rateLimitMax, rateLimitWindow, err := normalizeRateLimit(input.RateLimitMax, input.RateLimitWindow)
	if err != nil {
		return nil, NewBadRequest(CodeInvalidRequest, err.Error())
	}

	var account *model.Account
	if input.AccountID != nil {
		account, err = s.accounts.GetAccount(ctx, *input.AccountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, NewNotFound(CodeNotFound, "Account not found")
			}
			log.Error().Err(err).Str("account_id", input.AccountID.String()).Msg("failed to load account")
			return nil, NewInternal(CodeInternal, "Failed to create API key")
		}
	} else {
		name := input.AccountName
		if name == "" {
			name = input.Name
		}
		account = &model.Account{Name: name, Credits: input.InitialCredits}
		if err := s.accounts.CreateAccount(ctx, account); err != nil {
			log.Error().Err(err).Msg("failed to create account")
			return nil, NewInternal(CodeInternal, "Failed to create API key")
		}
	}

	rawKey, err := generateAPIKey(s.testMode)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate API key")
		return nil, NewInternal(CodeInternal, "Failed to create API key")
	}

	apiKey := &model.APIKey{
		AccountID:       account.ID,
		Name:            input.Name,
		KeyHash:         middleware.SHA256Hex(rawKey),
		KeyPrefix:       rawKey[:17] + "...",
		RateLimitMax:    rateLimitMax,
		RateLimitWindow: rateLimitWindow,
		Status:          model.StatusActive,
		ExpiresAt:       input.ExpiresAt,
	}
	if err := s.keys.CreateAPIKey(ctx, apiKey); err != nil {
		log.Error().Err(err).Msg("failed to create API key")
		return nil, NewInternal(CodeInternal, "Failed to create API key")
	}

	return &CreateAPIKeyResult{APIKey: apiKey, Account: account, RawKey: rawKey}, nil
}

// Get returns a key by id.
func (s *APIKeyService) Get(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	apiKey, err := s.keys.GetAPIKeyByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound(CodeNotFound, "API key not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to get API key")
		return nil, NewInternal(CodeInternal, "Failed to get API key")
	}
	return apiKey, nil
}

// List returns one page of keys and the total count.
func (s *APIKeyService) List(ctx context.Context, page, perPage int) ([]*model.APIKey, int, error) {
	keys, total, err := s.keys.ListAPIKeys(ctx, page, perPage)
	if err != nil {
		log.Error().Err(err).Msg("failed to list API keys")
		return nil, 0, NewInternal(CodeInternal, "Failed to list API keys")
	}
	return keys, total, nil
}

// Revoke marks an API key as revoked.
func (s *APIKeyService) Revoke(ctx context.Context, id uuid.UUID) error {
	apiKey, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if apiKey.Status == model.StatusRevoked {
		return NewBadRequest("invalid_status", "API key is already revoked")
	}

	if err := s.keys.UpdateAPIKeyStatus(ctx, id, model.StatusRevoked); err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("failed to revoke API key")
		return NewInternal(CodeInternal, "Failed to revoke API key")
	}

	return nil
}

// TopUp adds credits to the account that owns the key.
func (s *APIKeyService) TopUp(ctx context.Context, keyID uuid.UUID, credits int64) (*model.Account, error) {
	if credits <= 0 || credits > maxCreditGrant {
		return nil, NewBadRequest(CodeInvalidRequest, "credits must be between 1 and 1000000000")
	}
	apiKey, err := s.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}

	if _, err := s.accounts.AddCredits(ctx, apiKey.AccountID, credits); err != nil {
		log.Error().Err(err).Str("account_id", apiKey.AccountID.String()).Msg("failed to add credits")
		return nil, NewInternal(CodeInternal, "Failed to add credits")
	}
	log.Info().Str("account_id", apiKey.AccountID.String()).Int64("credits", credits).Msg("credits added")

	account, err := s.accounts.GetAccount(ctx, apiKey.AccountID)
	if err != nil {
		log.Error().Err(err).Str("account_id", apiKey.AccountID.String()).Msg("failed to reload account")
		return nil, NewInternal(CodeInternal, "Failed to add credits")
	}
	return account, nil
}

// AccountView is what an API key holder can see about its own account.
type AccountView struct {
	Account      *model.Account
	APIKey       *model.APIKey
	ChargedCalls int64
}

// Account returns the owning account and usage count for key.
func (s *APIKeyService) Account(ctx context.Context, key *model.APIKey) (*AccountView, error) {
	account, err := s.accounts.GetAccount(ctx, key.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound(CodeNotFound, "Account not found")
		}
		log.Error().Err(err).Str("account_id", key.AccountID.String()).Msg("failed to get account")
		return nil, NewInternal(CodeInternal, "Failed to get account")
	}
	calls, err := s.usage.CountUsageByAPIKey(ctx, key.ID)
	if err != nil {
		log.Error().Err(err).Str("api_key_id", key.ID.String()).Msg("failed to count usage")
		return nil, NewInternal(CodeInternal, "Failed to get account")
	}
	return &AccountView{Account: account, APIKey: key, ChargedCalls: calls}, nil
}

func generateAPIKey(testMode bool) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	prefix := "cdg_live_"
	if testMode {
		prefix = "cdg_test_"
	}
	return prefix + hex.EncodeToString(b), nil
}

func normalizeRateLimit(maxRequests, windowSeconds *int) (int, int, error) {
	rlMax := defaultRateLimitMax
	rlWindow := defaultRateLimitWindow

	if maxRequests != nil {
		if *maxRequests < 1 || *maxRequests > maxRateLimitMax {
			return 0, 0, fmt.Errorf("rate_limit.max_requests must be between 1 and 10000")
		}
		rlMax = *maxRequests
	}

	if windowSeconds != nil {
		if *windowSeconds < 1 || *windowSeconds > maxRateLimitWindow {
			return 0, 0, fmt.Errorf("rate_limit.window_seconds must be between 1 and 86400")
		}
		rlWindow = *windowSeconds
	}

	return rlMax, rlWindow, nil
}
