package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chain-data-gateway/internal/metrics"
)

const (
	defaultFacilitatorTimeout = 10 * time.Second
	maxFacilitatorBody        = 1 << 20
)

var ErrFacilitator = errors.New("facilitator request failed")

// Facilitator verifies and settles payments on behalf of the gateway.
type Facilitator interface {
	Verify(ctx context.Context, payment PaymentPayload, req PaymentRequirement) (*VerifyResponse, error)
	Settle(ctx context.Context, payment PaymentPayload, req PaymentRequirement) (*SettlementResponse, error)
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// HTTPFacilitator talks to a facilitator's /verify, /settle and /supported
// endpoints.
type HTTPFacilitator struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPFacilitator(baseURL string, httpClient *http.Client) *HTTPFacilitator {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPFacilitator{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (f *HTTPFacilitator) Verify(ctx context.Context, payment PaymentPayload, req PaymentRequirement) (*VerifyResponse, error) {
	var out VerifyResponse
	body := facilitatorRequest{X402Version: Version, PaymentPayload: payment, PaymentRequirements: req}
	if err := f.do(ctx, "verify", timeoutFor(req), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle asks the facilitator to execute a verified payment. A response
// with Success=false is returned without error.
func (f *HTTPFacilitator) Settle(ctx context.Context, payment PaymentPayload, req PaymentRequirement) (*SettlementResponse, error) {
	var out SettlementResponse
	body := facilitatorRequest{X402Version: Version, PaymentPayload: payment, PaymentRequirements: req}
	if err := f.do(ctx, "settle", timeoutFor(req), body, &out); err != nil {
		return nil, err
	}
	if out.Network == "" {
		out.Network = req.Network
	}
	return &out, nil
}

func (f *HTTPFacilitator) Supported(ctx context.Context) (*SupportedResponse, error) {
	var out SupportedResponse
	if err := f.do(ctx, "supported", defaultFacilitatorTimeout, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *HTTPFacilitator) do(ctx context.Context, op string, timeout time.Duration, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := http.MethodGet
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		method = http.MethodPost
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+"/"+op, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	metrics.FacilitatorLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFacilitator, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFacilitatorBody))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", ErrFacilitator, op, err)
	}
	// verify and settle report rejections in the body with a 4xx status.
	if resp.StatusCode >= 500 || (resp.StatusCode >= 300 && len(raw) == 0) {
		return fmt.Errorf("%w: %s returned status %d", ErrFacilitator, op, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s response (status %d): %v", ErrFacilitator, op, resp.StatusCode, err)
	}
	return nil
}

func timeoutFor(req PaymentRequirement) time.Duration {
	if req.MaxTimeoutSeconds > 0 {
		return time.Duration(req.MaxTimeoutSeconds) * time.Second
	}
	return defaultFacilitatorTimeout
}

// FeePayer returns the fee payer a facilitator nominates for network, if
// its /supported response names one.
func FeePayer(supported *SupportedResponse, network string) (string, bool) {
	if supported == nil {
		return "", false
	}
	for _, k := range supported.Kinds {
		if k.Network != network || k.Scheme != SchemeExact {
			continue
		}
		if fp, ok := k.Extra["feePayer"].(string); ok && fp != "" {
			return fp, true
		}
	}
	return "", false
}
