package protocol

import "fmt"

// Error codes returned by the gateway.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotPaired      = "NOT_PAIRED"
	CodeNotLinked      = "NOT_LINKED"
	CodeAgentTimeout   = "AGENT_TIMEOUT"
	CodeUnavailable    = "UNAVAILABLE"

	// CodeRateLimited responses carry retryAfterMs.
	CodeRateLimited = "RATE_LIMITED"
)

// ErrorShape is the error object inside a response envelope.
type ErrorShape struct {
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	Retryable    bool           `json:"retryable,omitempty"`
	RetryAfterMs int            `json:"retryAfterMs,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// GatewayError is a protocol-level failure reported by the gateway for a
// request. It is an immutable value constructed at the point of failure.
type GatewayError struct {
	Code         string
	Message      string
	Retryable    bool
	RetryAfterMs int
	Details      map[string]any
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway error: %s", e.Message)
}

// NewGatewayError converts a wire ErrorShape into a GatewayError.
func NewGatewayError(shape *ErrorShape) *GatewayError {
	if shape == nil {
		return &GatewayError{Message: "unknown error"}
	}
	return &GatewayError{
		Code:         shape.Code,
		Message:      shape.Message,
		Retryable:    shape.Retryable,
		RetryAfterMs: shape.RetryAfterMs,
		Details:      shape.Details,
	}
}
