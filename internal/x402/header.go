package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedPayment = errors.New("malformed payment header")

// DecodePayment parses an X-PAYMENT header value. Both standard and URL
// safe base64 alphabets are accepted, with or without padding.
func DecodePayment(header string) (*PaymentPayload, error) {
	raw, err := decodeBase64(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrMalformedPayment)
	}

	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedPayment)
	}
	if p.X402Version != Version {
		return nil, fmt.Errorf("%w: unsupported x402Version %d", ErrMalformedPayment, p.X402Version)
	}
	if p.Scheme == "" || p.Network == "" {
		return nil, fmt.Errorf("%w: scheme and network are required", ErrMalformedPayment)
	}
	if len(p.Payload) == 0 || string(p.Payload) == "null" {
		return nil, fmt.Errorf("%w: payload is required", ErrMalformedPayment)
	}
	return &p, nil
}

// EncodePayment is the inverse of DecodePayment.
func EncodePayment(p PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeSettlement renders the X-PAYMENT-RESPONSE header value.
func EncodeSettlement(s SettlementResponse) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSettlement parses an X-PAYMENT-RESPONSE header value.
func DecodeSettlement(header string) (*SettlementResponse, error) {
	raw, err := decodeBase64(header)
	if err != nil {
		return nil, fmt.Errorf("decode settlement: %w", err)
	}
	var s SettlementResponse
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode settlement: %w", err)
	}
	return &s, nil
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty")
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if raw, err := enc.DecodeString(s); err == nil {
			return raw, nil
		}
	}
	return nil, errors.New("invalid base64")
}
