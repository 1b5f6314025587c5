package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProviderError(t *testing.T) {
	err := NewProviderError("openai", 429, "rate_limit_exceeded", "slow down", 7)

	assert.Equal(t, "openai error (status 429): slow down", err.Error())
	assert.Equal(t, ErrorTypeRateLimit, err.Type)
	assert.True(t, err.IsRetryable())
	assert.Equal(t, 7*time.Second, err.GetRetryAfter())
}

func TestRateLimitError(t *testing.T) {
	withWait := &RateLimitError{Scope: "global", Key: "openai:gpt-4o-mini", RetryAfter: 3}
	assert.Equal(t, "global rate limit exceeded for openai:gpt-4o-mini, retry after 3 seconds", withWait.Error())
	assert.Equal(t, 3*time.Second, withWait.GetRetryAfter())
	assert.ErrorIs(t, withWait, ErrRateLimitExceeded)

	noWait := &RateLimitError{Scope: "local", Key: "google:gemini"}
	assert.Equal(t, "local rate limit exceeded for google:gemini", noWait.Error())
	assert.Zero(t, noWait.GetRetryAfter())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeUnknown},
		{"server_error", NewProviderError("anthropic", 503, "", "down", 0), ErrorTypeProvider},
		{"overloaded_code", NewProviderError("anthropic", 529, "overloaded_error", "busy", 0), ErrorTypeProvider},
		{"bad_request", NewProviderError("openai", 400, "invalid_request_error", "bad", 0), ErrorTypeValidation},
		{"auth", NewProviderError("openai", 401, "", "nope", 0), ErrorTypeAuth},
		{"quota", NewProviderError("openai", 429, "insufficient_quota", "pay", 0), ErrorTypeQuota},
		{"content_filter", NewProviderError("openai", 400, "content_filter", "blocked", 0), ErrorTypeContent},
		{"wrapped_provider", fmt.Errorf("call: %w", NewProviderError("google", 504, "", "", 0)), ErrorTypeTimeout},
		{"untyped_provider", &ProviderError{StatusCode: 502}, ErrorTypeProvider},
		{"rate_limit", &RateLimitError{Scope: "local"}, ErrorTypeRateLimit},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout},
		{"malformed", fmt.Errorf("decode: %w", ErrMalformedOutput), ErrorTypeMalformed},
		{"missing_key", ErrMissingAPIKey, ErrorTypeAuth},
		{"circuit_open", fmt.Errorf("openai:gpt-4o-mini: %w", ErrCircuitOpen), ErrorTypeCircuitOpen},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrorTypeNetwork},
		{"plain", errors.New("boom"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.False(t, IsRetryableError(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(NewProviderError("openai", 500, "", "", 0)))
	assert.False(t, IsRetryableError(NewProviderError("openai", 401, "", "", 0)))
	assert.False(t, IsRetryableError(ErrMalformedOutput))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ErrorTypeRateLimit, ClassifyStatus(429))
	assert.Equal(t, ErrorTypePermission, ClassifyStatus(403))
	assert.Equal(t, ErrorTypeTimeout, ClassifyStatus(408))
	assert.Equal(t, ErrorTypeValidation, ClassifyStatus(422))
	assert.Equal(t, ErrorTypeProvider, ClassifyStatus(500))
	assert.Equal(t, ErrorTypeUnknown, ClassifyStatus(404))
}
