package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chain-data-gateway/internal/middleware"
	"github.com/chain-data-gateway/internal/store"
)

func TestNormalizeRateLimit(t *testing.T) {
	t.Run("uses defaults when nil", func(t *testing.T) {
		max, window, err := normalizeRateLimit(nil, nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if max != defaultRateLimitMax || window != defaultRateLimitWindow {
			t.Fatalf("unexpected defaults: max=%d window=%d", max, window)
		}
	})

	t.Run("accepts valid values", func(t *testing.T) {
		maxReq := 500
		windowSec := 120
		max, window, err := normalizeRateLimit(&maxReq, &windowSec)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if max != 500 || window != 120 {
			t.Fatalf("unexpected values: max=%d window=%d", max, window)
		}
	})

	t.Run("rejects invalid max", func(t *testing.T) {
		maxReq := 0
		windowSec := 120
		_, _, err := normalizeRateLimit(&maxReq, &windowSec)
		if err == nil || !strings.Contains(err.Error(), "max_requests") {
			t.Fatalf("expected max_requests error, got %v", err)
		}
	})

	t.Run("rejects invalid window", func(t *testing.T) {
		maxReq := 10
		windowSec := 0
		_, _, err := normalizeRateLimit(&maxReq, &windowSec)
		if err == nil || !strings.Contains(err.Error(), "window_seconds") {
			t.Fatalf("expected window_seconds error, got %v", err)
		}
	})
}

func TestGenerateAPIKeyPrefix(t *testing.T) {
	t.Run("test mode prefix", func(t *testing.T) {
		k, err := generateAPIKey(true)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.HasPrefix(k, "cdg_test_") {
			t.Fatalf("unexpected prefix: %s", k)
		}
	})

	t.Run("live prefix", func(t *testing.T) {
		k, err := generateAPIKey(false)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.HasPrefix(k, "cdg_live_") || len(k) != len("cdg_live_")+64 {
			t.Fatalf("unexpected key: %s", k)
		}
	})
}

func TestAPIKeyServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("opens account with initial credits", func(t *testing.T) {
		mem := store.NewMemory()
		svc := NewAPIKeyService(mem, mem, mem, false)

		res, err := svc.Create(ctx, CreateAPIKeyInput{Name: "indexer", InitialCredits: 250})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.APIKey.KeyHash != middleware.SHA256Hex(res.RawKey) {
			t.Fatalf("stored hash does not match raw key")
		}
		balance, err := mem.GetBalance(ctx, res.Account.ID)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if balance != 250 {
			t.Fatalf("expected balance 250, got %d", balance)
		}
		if res.Account.Name != "indexer" {
			t.Fatalf("expected account name to default to key name, got %q", res.Account.Name)
		}
	})

	t.Run("shares an existing account", func(t *testing.T) {
		mem := store.NewMemory()
		svc := NewAPIKeyService(mem, mem, mem, false)

		first, err := svc.Create(ctx, CreateAPIKeyInput{Name: "a", InitialCredits: 10})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		second, err := svc.Create(ctx, CreateAPIKeyInput{Name: "b", AccountID: &first.Account.ID})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if second.APIKey.AccountID != first.Account.ID {
			t.Fatalf("expected shared account")
		}
	})

	t.Run("rejects unknown account", func(t *testing.T) {
		mem := store.NewMemory()
		svc := NewAPIKeyService(mem, mem, mem, false)
		id := uuid.New()

		_, err := svc.Create(ctx, CreateAPIKeyInput{Name: "a", AccountID: &id})
		var svcErr *Error
		if !errors.As(err, &svcErr) || svcErr.Kind != ErrNotFound {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("rejects missing name", func(t *testing.T) {
		mem := store.NewMemory()
		svc := NewAPIKeyService(mem, mem, mem, false)

		_, err := svc.Create(ctx, CreateAPIKeyInput{Name: "  "})
		var svcErr *Error
		if !errors.As(err, &svcErr) || svcErr.Kind != ErrBadRequest {
			t.Fatalf("expected bad request, got %v", err)
		}
	})

	t.Run("rejects past expiry", func(t *testing.T) {
		mem := store.NewMemory()
		svc := NewAPIKeyService(mem, mem, mem, false)
		past := time.Now().Add(-time.Hour)

		_, err := svc.Create(ctx, CreateAPIKeyInput{Name: "a", ExpiresAt: &past})
		if err == nil || !strings.Contains(err.Error(), "expires_at") {
			t.Fatalf("expected expires_at error, got %v", err)
		}
	})
}

func TestAPIKeyServiceRevokeAndTopUp(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewAPIKeyService(mem, mem, mem, true)

	res, err := svc.Create(ctx, CreateAPIKeyInput{Name: "a", InitialCredits: 5})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	account, err := svc.TopUp(ctx, res.APIKey.ID, 20)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if account.Credits != 25 {
		t.Fatalf("expected 25 credits, got %d", account.Credits)
	}

	if _, err := svc.TopUp(ctx, res.APIKey.ID, 0); err == nil {
		t.Fatal("expected error for zero top-up")
	}

	if err := svc.Revoke(ctx, res.APIKey.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	key, err := svc.Get(ctx, res.APIKey.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if key.Usable(time.Now()) {
		t.Fatal("revoked key must not be usable")
	}
	if err := svc.Revoke(ctx, res.APIKey.ID); err == nil {
		t.Fatal("expected error revoking twice")
	}
}
