package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/metrics"
	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/store"
)

// CreditService gates calls on an API key with enough prepaid credits.
//
// Authorize only checks the balance; the debit happens in Charge after the
// upstream call succeeded. Two concurrent calls may both pass Authorize,
// but the storage-level conditional debit never drives a balance below
// zero: the losing call gets ErrInsufficientCredits and its response is
// withheld.
type CreditService struct {
	ledger store.CreditLedger
	usage  store.UsageLogStore
	now    func() time.Time
}

// NewCreditService creates a new credit service.
func NewCreditService(ledger store.CreditLedger, usage store.UsageLogStore) *CreditService {
	return &CreditService{ledger: ledger, usage: usage, now: time.Now}
}

// Grant is a passed authorization check, valid for a single call.
type Grant struct {
	APIKeyID  uuid.UUID
	AccountID uuid.UUID
	Cost      int64
	Balance   int64
}

// Outcome describes a finished upstream attempt for the usage log.
type Outcome struct {
	EndpointID string
	Method     string
	Path       string
	StatusCode int
	Latency    time.Duration
	Err        string
}

// Authorize checks that key may spend cost credits.
func (s *CreditService) Authorize(ctx context.Context, key *model.APIKey, cost int64) (*Grant, error) {
	if key == nil {
		metrics.CreditDecisionsTotal.WithLabelValues("unauthenticated").Inc()
		return nil, NewUnauthenticated("invalid_api_key", "Missing API key")
	}
	if !key.Usable(s.now()) {
		metrics.CreditDecisionsTotal.WithLabelValues("unauthenticated").Inc()
		return nil, NewUnauthenticated("invalid_api_key", "API key is not active")
	}

	balance, err := s.ledger.GetBalance(ctx, key.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.CreditDecisionsTotal.WithLabelValues("unauthenticated").Inc()
			return nil, NewUnauthenticated("invalid_api_key", "API key has no account")
		}
		log.Error().Err(err).Str("account_id", key.AccountID.String()).Msg("failed to read credit balance")
		return nil, NewUnavailable("balance_check_failed", "Unable to read credit balance")
	}
	if balance < cost {
		metrics.CreditDecisionsTotal.WithLabelValues("insufficient").Inc()
		return nil, NewInsufficientCredits(cost, balance)
	}

	return &Grant{APIKeyID: key.ID, AccountID: key.AccountID, Cost: cost, Balance: balance}, nil
}

// Charge debits the grant after a successful upstream call and appends a
// usage log entry. It returns the remaining balance. If a concurrent call
// drained the balance since Authorize, nothing is debited and an
// InsufficientCredits error is returned.
func (s *CreditService) Charge(ctx context.Context, g *Grant, o Outcome) (int64, error) {
	remaining, err := s.ledger.DebitCredits(ctx, g.AccountID, g.Cost)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientCredits) {
			metrics.CreditDecisionsTotal.WithLabelValues("drained").Inc()
			o.StatusCode = http.StatusPaymentRequired
			o.Err = "balance drained by a concurrent request"
			s.appendLog(ctx, g, o, 0)

			balance, _ := s.ledger.GetBalance(ctx, g.AccountID)
			return 0, NewInsufficientCredits(g.Cost, balance)
		}
		log.Error().Err(err).Str("account_id", g.AccountID.String()).Msg("failed to debit credits")
		o.StatusCode = http.StatusInternalServerError
		o.Err = "debit failed"
		s.appendLog(ctx, g, o, 0)
		return 0, NewInternal(CodeInternal, "Failed to charge credits")
	}

	metrics.CreditDecisionsTotal.WithLabelValues("charged").Inc()
	metrics.CreditsDebitedTotal.Add(float64(g.Cost))
	s.appendLog(ctx, g, o, g.Cost)
	return remaining, nil
}

// RecordFailure logs a failed attempt without debiting.
func (s *CreditService) RecordFailure(ctx context.Context, g *Grant, o Outcome) {
	metrics.CreditDecisionsTotal.WithLabelValues("upstream_failed").Inc()
	s.appendLog(ctx, g, o, 0)
}

// appendLog is best effort: a failed write is logged and the request
// continues.
func (s *CreditService) appendLog(ctx context.Context, g *Grant, o Outcome, charged int64) {
	keyID, accountID := g.APIKeyID, g.AccountID
	entry := &model.UsageLog{
		APIKeyID:       &keyID,
		AccountID:      &accountID,
		EndpointID:     o.EndpointID,
		Method:         o.Method,
		Path:           o.Path,
		Scheme:         model.SchemeCredits,
		StatusCode:     o.StatusCode,
		LatencyMs:      o.Latency.Milliseconds(),
		Error:          o.Err,
		CreditsCharged: charged,
	}
	if err := s.usage.CreateUsageLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).Str("api_key_id", keyID.String()).Str("endpoint", o.EndpointID).Msg("failed to write usage log")
	}
}
