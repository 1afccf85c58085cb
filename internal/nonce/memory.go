package nonce

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps nonces in process memory. Taken values are remembered
// as tombstones until their original expiry so a second Take reports a
// replay rather than an unknown nonce. Contents do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	taken   map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		taken:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) Put(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.Value]; exists {
		return ErrDuplicate
	}
	if _, used := s.taken[entry.Value]; used {
		return ErrDuplicate
	}
	s.entries[entry.Value] = entry
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, value string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[value]
	if !ok {
		if _, used := s.taken[value]; used {
			return Entry{}, ErrReplayDetected
		}
		return Entry{}, ErrNotFound
	}

	delete(s.entries, value)
	s.taken[value] = entry.ExpiresAt
	return entry, nil
}

// Sweep drops entries and tombstones whose expiry has passed. Removing an
// entry that a concurrent Take already consumed is a no-op.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for value, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, value)
			removed++
		}
	}
	for value, expiresAt := range s.taken {
		if !now.Before(expiresAt) {
			delete(s.taken, value)
		}
	}
	return removed, nil
}

// Len reports the number of outstanding nonces.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
