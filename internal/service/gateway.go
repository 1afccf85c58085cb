package service

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/forwarder"
	"github.com/chain-data-gateway/internal/model"
	"github.com/chain-data-gateway/internal/pagination"
	"github.com/chain-data-gateway/internal/router"
	"github.com/chain-data-gateway/internal/x402"
)

// Resolver resolves request paths to endpoints.
type Resolver interface {
	Resolve(path string) (*router.Match, error)
}

// Upstream performs forwarded calls.
type Upstream interface {
	Do(ctx context.Context, in forwarder.Request) (*forwarder.Response, error)
}

// GatewayService serves a gated request: resolve, authorize, forward,
// reshape, then charge or settle.
type GatewayService struct {
	resolver Resolver
	upstream Upstream
	credits  *CreditService
	payments *PaymentService
	paging   pagination.Options
}

// NewGatewayService creates a new gateway service. paging carries the page
// size and deep-page threshold; its Path and Query are filled per request.
func NewGatewayService(
	resolver Resolver,
	upstream Upstream,
	credits *CreditService,
	payments *PaymentService,
	paging pagination.Options,
) *GatewayService {
	return &GatewayService{
		resolver: resolver,
		upstream: upstream,
		credits:  credits,
		payments: payments,
		paging:   paging,
	}
}

// GatewayRequest is an incoming gated call. Path is the endpoint path with
// the route prefix removed; RequestPath is the full path the client used.
type GatewayRequest struct {
	Method        string
	Path          string
	RequestPath   string
	Query         url.Values
	Body          []byte
	ContentType   string
	PaymentHeader string
}

// GatewayResponse is the reshaped body plus any headers to set.
type GatewayResponse struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	// Remaining is the credit balance after a charged call.
	Remaining *int64
}

// ServeWithCredits handles a call paid from key's account.
func (s *GatewayService) ServeWithCredits(ctx context.Context, key *model.APIKey, req GatewayRequest) (*GatewayResponse, error) {
	match, page, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	grant, err := s.credits.Authorize(ctx, key, match.Endpoint.CreditCost)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := s.fetch(ctx, match, req, page)
	outcome := Outcome{
		EndpointID: match.Endpoint.ID,
		Method:     req.Method,
		Path:       req.RequestPath,
		Latency:    time.Since(start),
	}
	if err != nil {
		svcErr := classify(err)
		outcome.StatusCode = svcErr.Kind.HTTPStatus()
		outcome.Err = svcErr.Message
		s.credits.RecordFailure(ctx, grant, outcome)
		return nil, svcErr
	}

	outcome.StatusCode = http.StatusOK
	remaining, err := s.credits.Charge(ctx, grant, outcome)
	if err != nil {
		return nil, err
	}
	return &GatewayResponse{StatusCode: http.StatusOK, Body: body, Header: http.Header{}, Remaining: &remaining}, nil
}

// ServeWithPayment handles a call paid per request over x402.
func (s *GatewayService) ServeWithPayment(ctx context.Context, req GatewayRequest) (*GatewayResponse, error) {
	match, page, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	grant, err := s.payments.Authorize(ctx, match.Endpoint, req.RequestPath, req.Query, req.PaymentHeader)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := s.fetch(ctx, match, req, page)
	outcome := Outcome{
		EndpointID: match.Endpoint.ID,
		Method:     req.Method,
		Path:       req.RequestPath,
		Latency:    time.Since(start),
	}
	if err != nil {
		svcErr := classify(err)
		outcome.StatusCode = svcErr.Kind.HTTPStatus()
		outcome.Err = svcErr.Message
		s.payments.Skip(grant, "upstream_failed")
		s.payments.Record(ctx, grant, outcome, nil)
		return nil, svcErr
	}
	if ctx.Err() != nil {
		outcome.StatusCode = 499
		outcome.Err = "client cancelled"
		s.payments.Skip(grant, "client_cancelled")
		s.payments.Record(ctx, grant, outcome, nil)
		return nil, ctx.Err()
	}

	resp := &GatewayResponse{StatusCode: http.StatusOK, Body: body, Header: http.Header{}}
	outcome.StatusCode = http.StatusOK

	settlement, err := s.payments.Settle(ctx, grant)
	if err != nil {
		log.Warn().Err(err).
			Str("endpoint", match.Endpoint.ID).
			Str("network", grant.Requirement.Network).
			Str("payer", grant.Payer).
			Msg("settlement failed after delivering response")
		resp.Header.Set(x402.HeaderSettlement, "failed")
		outcome.Err = "settlement failed"
		s.payments.Record(ctx, grant, outcome, nil)
		return resp, nil
	}

	header, err := x402.EncodeSettlement(*settlement)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode settlement header")
	} else {
		resp.Header.Set(x402.HeaderPaymentResponse, header)
	}
	s.payments.Record(ctx, grant, outcome, settlement)
	return resp, nil
}

func (s *GatewayService) prepare(req GatewayRequest) (*router.Match, int, error) {
	match, err := s.resolve(req.Path)
	if err != nil {
		return nil, 0, err
	}
	page, err := pagination.ParsePage(req.Query.Get(pagination.PageParam))
	if err != nil {
		return nil, 0, NewBadRequest(CodeInvalidRequest, err.Error())
	}
	return match, page, nil
}

func (s *GatewayService) resolve(path string) (*router.Match, error) {
	match, err := s.resolver.Resolve(path)
	if err != nil {
		if errors.Is(err, router.ErrNotFound) {
			return nil, NewNotFound(CodeEndpointNotFound, "No endpoint matches "+path)
		}
		return nil, err
	}
	return match, nil
}

// fetch calls upstream and reshapes the body for the requested page.
func (s *GatewayService) fetch(ctx context.Context, match *router.Match, req GatewayRequest, page int) ([]byte, error) {
	method := match.Endpoint.Method
	if method == "" {
		method = req.Method
	}
	in := forwarder.Request{
		EndpointID:  match.Endpoint.ID,
		Method:      method,
		URL:         match.UpstreamURL(),
		Query:       req.Query,
		ContentType: req.ContentType,
	}
	if len(req.Body) > 0 {
		in.Body = bytes.NewReader(req.Body)
	}

	resp, err := s.upstream.Do(ctx, in)
	if err != nil {
		return nil, err
	}
	if !match.Endpoint.Paginated {
		return resp.Body, nil
	}

	payload, err := forwarder.Classify(resp.Body)
	if err != nil {
		return nil, err
	}
	opts := s.paging
	opts.Path = req.RequestPath
	opts.Query = req.Query
	return forwarder.Reshape(payload, page, opts)
}

// classify maps forwarding errors onto the service taxonomy.
func classify(err error) *Error {
	var svcErr *Error
	var rangeErr *pagination.RangeError
	var statusErr *forwarder.StatusError
	switch {
	case errors.As(err, &svcErr):
		return svcErr
	case errors.As(err, &rangeErr):
		return NewBadRequest(CodePageOutOfRange, rangeErr.Error()).
			WithDetail("total_pages", rangeErr.TotalPages)
	case errors.Is(err, forwarder.ErrTimeout):
		return NewGatewayTimeout(CodeUpstreamTimeout, "Upstream did not respond in time")
	case errors.As(err, &statusErr):
		return NewBadGateway(CodeUpstreamError, "Upstream returned status "+http.StatusText(statusErr.StatusCode)).
			WithDetail("upstream_status", statusErr.StatusCode)
	case errors.Is(err, forwarder.ErrUpstream):
		return NewBadGateway(CodeUpstreamError, "Upstream request failed")
	case errors.Is(err, context.Canceled):
		return NewBadGateway(CodeUpstreamError, "Request cancelled")
	default:
		log.Error().Err(err).Msg("unexpected gateway error")
		return NewInternal(CodeInternal, "An unexpected error occurred")
	}
}
