// Package forwarder performs upstream calls on behalf of gated requests.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chain-data-gateway/internal/metrics"
)

const defaultMaxBody = 64 << 20

var (
	ErrTimeout  = errors.New("upstream timed out")
	ErrUpstream = errors.New("upstream request failed")
	ErrTooLarge = fmt.Errorf("%w: response too large", ErrUpstream)
)

// StatusError is returned for upstream responses outside 2xx.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

// gatewayParams are consumed by the gateway and never forwarded.
var gatewayParams = []string{"api_key", "offset"}

// Config holds the service credential attached to every upstream call.
type Config struct {
	CredentialHeader string
	Credential       string
	Timeout          time.Duration
	// MaxBodyBytes caps the upstream response size. Larger responses fail
	// with ErrTooLarge instead of being truncated.
	MaxBodyBytes int64
}

// Forwarder calls upstream APIs with the gateway's own credential. The
// caller's credentials are never passed upstream.
type Forwarder struct {
	client *http.Client
	cfg    Config
}

func New(client *http.Client, cfg Config) *Forwarder {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.CredentialHeader == "" {
		cfg.CredentialHeader = "X-API-Key"
	}
	return &Forwarder{client: client, cfg: cfg}
}

// Request is one upstream call.
type Request struct {
	EndpointID  string
	Method      string
	URL         string
	Query       url.Values
	Body        io.Reader
	ContentType string
}

// Response is a successful upstream response, fully read.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Latency     time.Duration
}

// Do performs the call, bounded by the configured timeout. A deadline
// expiry is reported as ErrTimeout and a non-2xx status as *StatusError.
func (f *Forwarder) Do(ctx context.Context, in Request) (*Response, error) {
	target, err := f.buildURL(in.URL, in.Query)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	method := in.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, target, in.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in.ContentType != "" {
		req.Header.Set("Content-Type", in.ContentType)
	}
	if f.cfg.Credential != "" {
		req.Header.Set(f.cfg.CredentialHeader, f.cfg.Credential)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.UpstreamRequestsTotal.WithLabelValues(in.EndpointID, "timeout").Inc()
			return nil, ErrTimeout
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(in.EndpointID, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, redact(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	latency := time.Since(start)
	metrics.UpstreamLatency.Observe(latency.Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.UpstreamRequestsTotal.WithLabelValues(in.EndpointID, "timeout").Inc()
			return nil, ErrTimeout
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(in.EndpointID, "error").Inc()
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		metrics.UpstreamRequestsTotal.WithLabelValues(in.EndpointID, "error").Inc()
		return nil, ErrTooLarge
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.UpstreamRequestsTotal.WithLabelValues(in.EndpointID, "error").Inc()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	metrics.UpstreamRequestsTotal.WithLabelValues(in.EndpointID, "success").Inc()
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Latency:     latency,
	}, nil
}

// buildURL merges the caller's query into the upstream URL, dropping
// gateway-only parameters. Parameters already in the upstream URL win.
func (f *Forwarder) buildURL(raw string, query url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	q := u.Query()
	for k, v := range query {
		if _, exists := q[k]; exists {
			continue
		}
		q[k] = v
	}
	for _, name := range gatewayParams {
		q.Del(name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redact drops the URL from client errors so upstream query strings do
// not reach logs.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
