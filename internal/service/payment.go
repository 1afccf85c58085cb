package service

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/metrics"
	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/store"
	"github.com/chain-data-gateway/internal/x402"
)

// PaymentService runs the x402 challenge, verify and settle steps around a
// gated call. It holds no locks; the facilitator is the source of truth
// against double spends.
type PaymentService struct {
	builder     *x402.Builder
	facilitator x402.Facilitator
	usage       store.UsageLogStore
}

// NewPaymentService creates a new payment service.
func NewPaymentService(builder *x402.Builder, facilitator x402.Facilitator, usage store.UsageLogStore) *PaymentService {
	return &PaymentService{builder: builder, facilitator: facilitator, usage: usage}
}

// PaymentGrant is a verified payment waiting to be settled.
type PaymentGrant struct {
	Requirement x402.PaymentRequirement
	Payment     *x402.PaymentPayload
	Payer       string
}

// Requirements lists the accepted payments for a request.
func (s *PaymentService) Requirements(endpoint model.Endpoint, path string, query url.Values) []x402.PaymentRequirement {
	return s.builder.Build(endpoint, path, query)
}

// Authorize checks the X-PAYMENT header value for a request. Every refusal
// is a PaymentRequired error carrying the current accepts list.
func (s *PaymentService) Authorize(ctx context.Context, endpoint model.Endpoint, path string, query url.Values, header string) (*PaymentGrant, error) {
	accepts := s.Requirements(endpoint, path, query)

	if header == "" {
		metrics.PaymentsTotal.WithLabelValues("", "challenged").Inc()
		return nil, paymentRequired(x402.ReasonPaymentRequired, "X-PAYMENT header is required", accepts)
	}

	payment, err := x402.DecodePayment(header)
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues("", "invalid").Inc()
		return nil, paymentRequired(x402.ReasonInvalidPayment, err.Error(), accepts)
	}

	req, err := x402.Match(payment, accepts)
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(payment.Network, "no_match").Inc()
		return nil, paymentRequired(x402.ReasonNoMatchingRequirement, err.Error(), accepts)
	}

	verdict, err := s.facilitator.Verify(ctx, *payment, req)
	if err != nil {
		log.Error().Err(err).Str("network", req.Network).Msg("payment verification failed")
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, NewGatewayTimeout("facilitator_timeout", "Payment facilitator did not respond in time")
		}
		return nil, NewBadGateway("facilitator_error", "Payment facilitator is unavailable")
	}
	if !verdict.IsValid {
		metrics.PaymentsTotal.WithLabelValues(req.Network, "verify_failed").Inc()
		reason := verdict.InvalidReason
		if reason == "" {
			reason = x402.ReasonVerificationFailed
		}
		return nil, paymentRequired(reason, "Payment verification failed: "+reason, accepts)
	}

	return &PaymentGrant{Requirement: req, Payment: payment, Payer: verdict.Payer}, nil
}

// Settle executes a verified payment once its response has been produced.
// It runs detached from the caller's cancellation, bounded by the
// requirement's timeout. A nil settlement with an error means the payment
// was not settled.
func (s *PaymentService) Settle(ctx context.Context, g *PaymentGrant) (*x402.SettlementResponse, error) {
	timeout := time.Duration(g.Requirement.MaxTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	settlement, err := s.facilitator.Settle(ctx, *g.Payment, g.Requirement)
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(g.Requirement.Network, "settle_failed").Inc()
		return nil, err
	}
	if !settlement.Success {
		metrics.PaymentsTotal.WithLabelValues(g.Requirement.Network, "settle_failed").Inc()
		return nil, &SettlementError{Reason: settlement.ErrorReason}
	}
	if settlement.Payer == "" {
		settlement.Payer = g.Payer
	}
	if settlement.Network == "" {
		settlement.Network = g.Requirement.Network
	}

	metrics.PaymentsTotal.WithLabelValues(g.Requirement.Network, "settled").Inc()
	return settlement, nil
}

// Skip records that a verified payment was deliberately not settled.
func (s *PaymentService) Skip(g *PaymentGrant, reason string) {
	metrics.PaymentsTotal.WithLabelValues(g.Requirement.Network, "skipped").Inc()
	log.Info().Str("network", g.Requirement.Network).Str("payer", g.Payer).Str("reason", reason).
		Msg("verified payment not settled")
}

// Record appends a usage log entry for a paid call. settlement is nil when
// the payment was not settled.
func (s *PaymentService) Record(ctx context.Context, g *PaymentGrant, o Outcome, settlement *x402.SettlementResponse) {
	entry := &model.UsageLog{
		EndpointID: o.EndpointID,
		Method:     o.Method,
		Path:       o.Path,
		Scheme:     model.SchemeX402,
		StatusCode: o.StatusCode,
		LatencyMs:  o.Latency.Milliseconds(),
		Error:      o.Err,
		Payer:      g.Payer,
		Network:    g.Requirement.Network,
	}
	if settlement != nil {
		entry.Transaction = settlement.Transaction
		if settlement.Payer != "" {
			entry.Payer = settlement.Payer
		}
	}
	if err := s.usage.CreateUsageLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).Str("endpoint", o.EndpointID).Msg("failed to write usage log")
	}
}

// SettlementError is a facilitator refusal to settle.
type SettlementError struct {
	Reason string
}

func (e *SettlementError) Error() string {
	if e.Reason == "" {
		return "settlement failed"
	}
	return "settlement failed: " + e.Reason
}

func paymentRequired(reason, message string, accepts []x402.PaymentRequirement) *Error {
	return &Error{
		Kind:    ErrPaymentRequired,
		Code:    reason,
		Message: message,
		Details: map[string]any{
			"x402Version": x402.Version,
			"accepts":     accepts,
		},
	}
}
