package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeQueueUnknown,
		Message: "queue jobs_queue is not registered",
	}

	expected := "validation_queue_unknown: queue jobs_queue is not registered"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorErrorFormatWithCause(t *testing.T) {
	appErr := NewAppError(ErrCodeBrokerUnavailable, "dial failed", errors.New("connection refused"))

	expected := "broker_unavailable: dial failed: connection refused"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection reset")
	appErr := NewAppError(ErrCodeInternalDB, "failed to save result", underlying)

	if !errors.Is(appErr, underlying) {
		t.Errorf("errors.Is did not find the underlying error")
	}
}

func TestAppErrorErrorsAs(t *testing.T) {
	appErr := NewAppError(ErrCodeHandlerTimeout, "handler exceeded 2m", nil)
	wrapped := fmt.Errorf("consume: %w", appErr)

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to extract AppError")
	}
	if target.Code != ErrCodeHandlerTimeout {
		t.Errorf("Code = %q, want %q", target.Code, ErrCodeHandlerTimeout)
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeQueueUnknown, http.StatusBadRequest},
		{ErrCodeJobInvalidPayload, http.StatusBadRequest},
		{ErrCodeAuthKeyInvalid, http.StatusUnauthorized},
		{ErrCodeBrokerUnavailable, http.StatusServiceUnavailable},
		{ErrCodeEmailBlocked, http.StatusForbidden},
		{ErrCodeUpstreamSync, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain error", errors.New("boom"), true},
		{"upstream", NewAppError(ErrCodeUpstreamEmailProvider, "503", nil), true},
		{"invalid payload", NewAppError(ErrCodeJobInvalidPayload, "bad", nil), false},
		{"blocked recipient", fmt.Errorf("send: %w", NewAppError(ErrCodeEmailBlocked, "403", nil)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(errors.New("x")); got != ErrCodeInternalUnexpected {
		t.Errorf("CodeOf(plain) = %q", got)
	}
	if got := CodeOf(fmt.Errorf("w: %w", NewAppError(ErrCodeInternalStorage, "s3", nil))); got != ErrCodeInternalStorage {
		t.Errorf("CodeOf(wrapped) = %q", got)
	}
}

func TestWithDetailsDoesNotMutate(t *testing.T) {
	orig := &AppError{Code: ErrCodeInternalDB, Message: "m", Details: map[string]any{"a": 1}}
	next := orig.WithDetails(map[string]any{"b": 2})

	if len(orig.Details) != 1 {
		t.Errorf("original details mutated: %v", orig.Details)
	}
	if next.Details["a"] != 1 || next.Details["b"] != 2 {
		t.Errorf("merged details = %v", next.Details)
	}
}
