package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ProviderError is an infrastructure fault raised by a gateway adapter. The
// Transient flag drives the orchestrator's retry policy: only transient
// classes may be retried, with backoff; everything else fails immediately.
type ProviderError struct {
	ErrCode    string
	Message    string
	HTTPStatus int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Code returns the stable machine-readable error code.
func (e *ProviderError) Code() string { return e.ErrCode }

// Retryable reports whether the orchestrator may retry the failed call.
func (e *ProviderError) Retryable() bool { return e.Transient }

// NewConnectionError wraps a transport-level failure reaching the provider.
func NewConnectionError(err error) *ProviderError {
	return &ProviderError{ErrCode: "PROVIDER_CONNECTION", Message: "could not connect to provider", Transient: true, Err: err}
}

// NewTimeoutError wraps a provider call that exceeded its deadline.
func NewTimeoutError(err error) *ProviderError {
	return &ProviderError{ErrCode: "PROVIDER_TIMEOUT", Message: "provider call timed out", Transient: true, Err: err}
}

// NewAuthenticationError reports rejected credentials. Never retried.
func NewAuthenticationError(message string) *ProviderError {
	return &ProviderError{ErrCode: "PROVIDER_AUTHENTICATION", Message: message, HTTPStatus: http.StatusUnauthorized}
}

// NewConfigurationError reports missing or malformed adapter configuration.
func NewConfigurationError(message string) *ProviderError {
	return &ProviderError{ErrCode: "PROVIDER_CONFIGURATION", Message: message}
}

// NewResponseError reports an unexpected provider response. 5xx-class
// responses are transient; 4xx-class responses are not.
func NewResponseError(httpStatus int, message string) *ProviderError {
	return &ProviderError{
		ErrCode:    "PROVIDER_RESPONSE",
		Message:    message,
		HTTPStatus: httpStatus,
		Transient:  httpStatus >= http.StatusInternalServerError,
	}
}

// NewRateLimitError reports provider throttling.
func NewRateLimitError(message string) *ProviderError {
	return &ProviderError{ErrCode: "PROVIDER_RATE_LIMIT", Message: message, HTTPStatus: http.StatusTooManyRequests, Transient: true}
}

// NewNotSupportedError reports a provider kind with no registered adapter.
func NewNotSupportedError(kind string) *ProviderError {
	return &ProviderError{ErrCode: "PROVIDER_NOT_SUPPORTED", Message: fmt.Sprintf("no adapter registered for provider %q", kind)}
}

// NewWebhookVerificationError reports a webhook signature mismatch.
func NewWebhookVerificationError() *ProviderError {
	return &ProviderError{ErrCode: "WEBHOOK_VERIFICATION", Message: "webhook signature verification failed"}
}

// NewMaintenanceError reports a provider maintenance window.
func NewMaintenanceError(message string) *ProviderError {
	return &ProviderError{ErrCode: "PROVIDER_MAINTENANCE", Message: message, HTTPStatus: http.StatusServiceUnavailable, Transient: true}
}

// IsProviderError reports whether the error belongs to the provider family.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsRetryable reports whether the error is an explicitly transient provider
// fault. Domain errors and non-transient provider errors return false.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
