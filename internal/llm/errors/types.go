// Package errors defines the failure types raised by the model provider
// layer and the classification used to decide whether a call is retried.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType categorizes provider failures for retry classification.
// Transient types are retried by the retry middleware; permanent types are
// surfaced immediately.
type ErrorType string

const (
	// ErrorTypeTimeout indicates request timeout or deadline exceeded (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates a local, global or remote rate limit (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates network connectivity issues (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider indicates the provider service is unavailable (retryable).
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeValidation indicates the provider rejected the request body.
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeContent indicates content blocked by safety filters.
	ErrorTypeContent ErrorType = "content_filtered"

	// ErrorTypeMalformed indicates output that could not be decoded as JSON.
	ErrorTypeMalformed ErrorType = "malformed_output"

	// ErrorTypeAuth indicates authentication failed.
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypePermission indicates insufficient permissions.
	ErrorTypePermission ErrorType = "permission_denied"

	// ErrorTypeQuota indicates account quota exceeded.
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeCircuitOpen indicates the call was refused by an open circuit
	// breaker without reaching the provider.
	ErrorTypeCircuitOpen ErrorType = "circuit_open"

	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Sentinel errors shared across the provider layer.
var (
	// ErrUnknownProvider indicates an unknown or unconfigured provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrMissingAPIKey indicates a provider was configured without credentials.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrEmptyResponse indicates a successful HTTP exchange without content.
	ErrEmptyResponse = errors.New("empty provider response")

	// ErrMalformedOutput indicates the model's content held no decodable
	// JSON object.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrRateLimitExceeded indicates a rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrMaxRetriesExceeded indicates every retry attempt failed.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// ErrCircuitOpen indicates the circuit breaker for a provider/model is
	// open or out of half-open trials.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// ProviderError captures a structured error response from a model provider.
// It carries the HTTP status, the provider's error code and any Retry-After
// hint so retry decisions need no further parsing.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"` // seconds
}

// Error returns the provider error with status code context.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is transient.
func (e *ProviderError) IsRetryable() bool {
	return e.Type.Retryable()
}

// GetRetryAfter implements RetryAfterProvider.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError is returned by the rate limit middleware before a request
// leaves the process. Scope is "local", "global" or "fallback".
type RateLimitError struct {
	Scope      string `json:"scope"`
	Key        string `json:"key"`
	RetryAfter int    `json:"retry_after"` // seconds
	Limit      int    `json:"limit"`
}

// Error returns the limit scope with retry guidance.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded for %s, retry after %d seconds", e.Scope, e.Key, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded for %s", e.Scope, e.Key)
}

// Unwrap lets errors.Is match ErrRateLimitExceeded.
func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// GetRetryAfter implements RetryAfterProvider.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RetryAfterProvider is implemented by errors that carry a server-supplied
// wait before the next attempt.
type RetryAfterProvider interface {
	GetRetryAfter() time.Duration
}

// Retryable reports whether errors of type t are transient.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// IsRetryableError determines whether err warrants another attempt. Caller
// cancellation is never retried.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err).Retryable()
}

// ClassifyStatus maps an HTTP status code to an ErrorType.
func ClassifyStatus(statusCode int) ErrorType {
	switch statusCode {
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return ErrorTypeAuth
	case http.StatusForbidden:
		return ErrorTypePermission
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrorTypeValidation
	default:
		if statusCode >= http.StatusInternalServerError {
			return ErrorTypeProvider
		}
		return ErrorTypeUnknown
	}
}
