package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these instead of hardcoded strings.
const (
	// Broker (503)
	ErrCodeBrokerUnavailable   ErrorCode = "broker_unavailable"
	ErrCodeBrokerChannelClosed ErrorCode = "broker_channel_closed"

	// Validation (400)
	ErrCodeQueueUnknown       ErrorCode = "validation_queue_unknown"
	ErrCodeJobInvalidPayload  ErrorCode = "validation_job_invalid_payload"
	ErrCodeJobUnknownType     ErrorCode = "validation_job_unknown_type"
	ErrCodeValidationRequired ErrorCode = "validation_missing_required_field"

	// Auth (401)
	ErrCodeAuthKeyMissing ErrorCode = "auth_admin_key_missing"
	ErrCodeAuthKeyInvalid ErrorCode = "auth_admin_key_invalid"

	// Handler execution
	ErrCodeHandlerTimeout ErrorCode = "handler_timeout"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalStorage       ErrorCode = "internal_storage_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamSync          ErrorCode = "upstream_sync_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeEmailBlocked          ErrorCode = "email_blocked"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "broker_"):
		return http.StatusServiceUnavailable
	case s == string(ErrCodeEmailBlocked):
		return http.StatusForbidden
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Infrastructure and
// handler errors are expressed as AppError so that workers can decide
// between retrying and dead-lettering, and the admin surface can map them
// to HTTP responses.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// Retryable reports whether a later attempt can succeed. Validation errors
// and blocked recipients never recover on their own.
func (e *AppError) Retryable() bool {
	s := string(e.Code)
	switch {
	case strings.HasPrefix(s, "validation_"), strings.HasPrefix(s, "auth_"):
		return false
	case e.Code == ErrCodeEmailBlocked:
		return false
	default:
		return true
	}
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the ErrorCode of the first AppError in err's chain, or
// ErrCodeInternalUnexpected when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsRetryable reports whether err is worth another attempt. Errors that are
// not AppErrors are assumed transient.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable()
	}
	return true
}
