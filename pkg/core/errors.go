package core

import (
	"fmt"
)

// Error is the canonical error shape surfaced at the session-core boundary.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"

	// ErrProvider covers transient collaborator failures (LLM, STT, TTS,
	// token issuance). Retried once, then degraded.
	ErrProvider ErrorType = "provider_error"

	// ErrTransport covers media transport failures (peer connection, media
	// track). The avatar manager moves to its error state; the session
	// continues on the non-streaming fallback.
	ErrTransport ErrorType = "transport_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string) *Error {
	return &Error{
		Type:    ErrRateLimit,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewProviderError creates a collaborator failure error. The provider
// identifier lands in Code so operators can tell which upstream degraded.
func NewProviderError(provider, message string) *Error {
	return &Error{
		Type:    ErrProvider,
		Message: message,
		Code:    provider,
	}
}

// NewTransportError creates a media transport failure error.
func NewTransportError(message string) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: message,
	}
}
