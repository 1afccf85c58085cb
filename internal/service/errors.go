package service

import "fmt"

// Error is a domain error returned by service methods.
// Handlers map these to appropriate HTTP responses.
type Error struct {
	Kind    ErrorKind
	Code    string // machine-readable error code (e.g., "invalid_request", "not_found")
	Message string // human-readable message
	// Details are merged into the JSON error body, e.g. the x402 accepts list.
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail returns e with key set in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrorKind classifies domain errors for HTTP status mapping.
type ErrorKind int

const (
	ErrBadRequest          ErrorKind = iota // 400
	ErrNotFound                             // 404
	ErrForbidden                            // 403
	ErrInternal                             // 500
	ErrUnavailable                          // 503
	ErrBadGateway                           // 502
	ErrGatewayTimeout                       // 504
	ErrUnauthenticated                      // 401
	ErrInsufficientCredits                  // 402
	ErrPaymentRequired                      // 402
	ErrRateLimited                          // 429
)

// Codes shared between services and handlers.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeNotFound            = "not_found"
	CodeEndpointNotFound    = "endpoint_not_found"
	CodeUnauthenticated     = "unauthenticated"
	CodeInsufficientCredits = "insufficient_credits"
	CodeReplayDetected      = "replay_detected"
	CodeNonceExpired        = "nonce_expired"
	CodeInvalidSignature    = "invalid_signature"
	CodeUpstreamError       = "upstream_error"
	CodeUpstreamTimeout     = "upstream_timeout"
	CodePageOutOfRange      = "page_out_of_range"
	CodeInternal            = "internal_error"
)

func NewBadRequest(code, message string) *Error {
	return &Error{Kind: ErrBadRequest, Code: code, Message: message}
}

func NewNotFound(code, message string) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func NewInternal(code, message string) *Error {
	return &Error{Kind: ErrInternal, Code: code, Message: message}
}

func NewUnavailable(code, message string) *Error {
	return &Error{Kind: ErrUnavailable, Code: code, Message: message}
}

func NewBadGateway(code, message string) *Error {
	return &Error{Kind: ErrBadGateway, Code: code, Message: message}
}

func NewGatewayTimeout(code, message string) *Error {
	return &Error{Kind: ErrGatewayTimeout, Code: code, Message: message}
}

func NewUnauthenticated(code, message string) *Error {
	return &Error{Kind: ErrUnauthenticated, Code: code, Message: message}
}

func NewInsufficientCredits(required, balance int64) *Error {
	return &Error{
		Kind:    ErrInsufficientCredits,
		Code:    CodeInsufficientCredits,
		Message: fmt.Sprintf("This endpoint costs %d credits, balance is %d", required, balance),
		Details: map[string]any{"required": required, "balance": balance},
	}
}

func NewForbidden(code, message string) *Error {
	return &Error{Kind: ErrForbidden, Code: code, Message: message}
}
