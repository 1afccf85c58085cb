package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chain-data-gateway/internal/model"
)

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu        sync.RWMutex
	keys      map[uuid.UUID]*model.APIKey
	keyHashes map[string]uuid.UUID
	accounts  map[uuid.UUID]*model.Account
	usage     []*model.UsageLog
	endpoints []model.Endpoint
}

// NewMemory creates an empty in-memory store seeded with the given endpoints.
func NewMemory(endpoints ...model.Endpoint) *Memory {
	return &Memory{
		keys:      make(map[uuid.UUID]*model.APIKey),
		keyHashes: make(map[string]uuid.UUID),
		accounts:  make(map[uuid.UUID]*model.Account),
		endpoints: endpoints,
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// SetEndpoints replaces the registered endpoints.
func (m *Memory) SetEndpoints(endpoints []model.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = append([]model.Endpoint(nil), endpoints...)
}

func (m *Memory) ListEndpoints(ctx context.Context) ([]model.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Endpoint(nil), m.endpoints...), nil
}

func (m *Memory) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	key.CreatedAt, key.UpdatedAt = now, now
	cp := *key
	m.keys[key.ID] = &cp
	m.keyHashes[key.KeyHash] = key.ID
	return nil
}

func (m *Memory) GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.keyHashes[keyHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.keys[id]
	return &cp, nil
}

func (m *Memory) GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (m *Memory) ListAPIKeys(ctx context.Context, page, perPage int) ([]*model.APIKey, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*model.APIKey, 0, len(m.keys))
	for _, k := range m.keys {
		cp := *k
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return pageOf(all, page, perPage), len(all), nil
}

func (m *Memory) UpdateAPIKeyStatus(ctx context.Context, id uuid.UUID, status model.APIKeyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.Status = status
	key.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) CreateAccount(ctx context.Context, account *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.CreatedAt, account.UpdatedAt = now, now
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	return a.Credits, nil
}

func (m *Memory) DebitCredits(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	if a.Credits < amount {
		return 0, ErrInsufficientCredits
	}
	a.Credits -= amount
	a.UpdatedAt = time.Now().UTC()
	return a.Credits, nil
}

func (m *Memory) AddCredits(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	a.Credits += amount
	a.UpdatedAt = time.Now().UTC()
	return a.Credits, nil
}

func (m *Memory) CreateUsageLog(ctx context.Context, log *model.UsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.ID = uuid.New()
	log.CreatedAt = time.Now().UTC()
	cp := *log
	m.usage = append(m.usage, &cp)
	return nil
}

func (m *Memory) ListUsageLogs(ctx context.Context, filters UsageFilters) ([]*model.UsageLog, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*model.UsageLog
	for i := len(m.usage) - 1; i >= 0; i-- {
		l := m.usage[i]
		if filters.APIKeyID != nil && (l.APIKeyID == nil || *l.APIKeyID != *filters.APIKeyID) {
			continue
		}
		if filters.AccountID != nil && (l.AccountID == nil || *l.AccountID != *filters.AccountID) {
			continue
		}
		if filters.EndpointID != nil && l.EndpointID != *filters.EndpointID {
			continue
		}
		if filters.Scheme != nil && l.Scheme != *filters.Scheme {
			continue
		}
		if filters.From != nil && l.CreatedAt.Before(*filters.From) {
			continue
		}
		if filters.To != nil && l.CreatedAt.After(*filters.To) {
			continue
		}
		cp := *l
		matched = append(matched, &cp)
	}
	page, perPage := normalizePage(filters.Page, filters.PerPage)
	return pageOf(matched, page, perPage), len(matched), nil
}

func (m *Memory) CountUsageByAPIKey(ctx context.Context, apiKeyID uuid.UUID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, l := range m.usage {
		if l.APIKeyID != nil && *l.APIKeyID == apiKeyID && l.CreditsCharged > 0 {
			n++
		}
	}
	return n, nil
}

func pageOf[T any](items []T, page, perPage int) []T {
	start := (page - 1) * perPage
	if start >= len(items) {
		return nil
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
