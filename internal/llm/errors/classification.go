package errors

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Classify returns the ErrorType of err, inspecting wrapped provider and
// rate limit errors before falling back to context and network checks.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		if provErr.Type != "" {
			return provErr.Type
		}
		return classifyCode(provErr.StatusCode, provErr.Code)
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) || errors.Is(err, ErrRateLimitExceeded) {
		return ErrorTypeRateLimit
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return ErrorTypeCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, ErrMalformedOutput), errors.Is(err, ErrEmptyResponse):
		return ErrorTypeMalformed
	case errors.Is(err, ErrMissingAPIKey):
		return ErrorTypeAuth
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorTypeNetwork
	}

	return ErrorTypeUnknown
}

// classifyCode refines a status classification with the provider's own
// error code, which is more specific when present.
func classifyCode(statusCode int, code string) ErrorType {
	c := strings.ToLower(code)
	switch {
	case strings.Contains(c, "quota"):
		return ErrorTypeQuota
	case strings.Contains(c, "rate_limit"), c == "resource_exhausted":
		return ErrorTypeRateLimit
	case strings.Contains(c, "content_filter") || strings.Contains(c, "safety"):
		return ErrorTypeContent
	case c == "overloaded_error" || c == "unavailable":
		return ErrorTypeProvider
	case c == "invalid_api_key" || c == "authentication_error" || c == "unauthenticated":
		return ErrorTypeAuth
	}
	return ClassifyStatus(statusCode)
}

// NewProviderError builds a ProviderError and classifies it from the
// status and code.
func NewProviderError(provider string, statusCode int, code, message string, retryAfter int) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
		Type:       classifyCode(statusCode, code),
		RetryAfter: retryAfter,
	}
}
