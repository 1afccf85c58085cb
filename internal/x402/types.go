// Package x402 implements the server side of the x402 payment protocol:
// building payment requirements, decoding payment headers and talking to
// a facilitator that verifies and settles payments.
package x402

import "encoding/json"

const (
	Version = 1

	SchemeExact = "exact"

	// HeaderPayment carries the caller's base64 encoded PaymentPayload.
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentResponse carries the base64 encoded SettlementResponse.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	// HeaderSettlement flags a delivered response whose settlement failed.
	HeaderSettlement = "X-PAYMENT-SETTLEMENT"

	DefaultMaxTimeoutSeconds = 300
)

// Failure reasons surfaced in the error field of a 402 response.
const (
	ReasonPaymentRequired       = "payment_required"
	ReasonInvalidPayment        = "invalid_payment"
	ReasonNoMatchingRequirement = "no_matching_requirement"
	ReasonVerificationFailed    = "verification_failed"
)

// PaymentRequirement is one way a caller may pay for a resource.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	OutputSchema      map[string]any `json:"outputSchema,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentPayload is the decoded X-PAYMENT header. Payload is the
// network-specific signed proof and is passed to the facilitator verbatim.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// PaymentRequiredResponse is the body of a 402 challenge.
type PaymentRequiredResponse struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error,omitempty"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// VerifyResponse is the facilitator's verdict on a payment.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettlementResponse is the facilitator's settle result. Success responses
// are also returned to the caller in X-PAYMENT-RESPONSE.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// SupportedKind is one (scheme, network) pair a facilitator handles.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

type facilitatorRequest struct {
	X402Version         int                `json:"x402Version"`
	PaymentPayload      PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements PaymentRequirement `json:"paymentRequirements"`
}
