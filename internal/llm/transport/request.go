// Package transport holds the provider-neutral request and response types
// and the middleware pipeline every model call travels through.
package transport

import (
	"net/http"
	"time"
)

// FinishReason reports why the model stopped generating.
type FinishReason string

// Normalized finish reasons.
const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolUse       FinishReason = "tool_use"
)

// Request is a normalized model request. Adapters translate it into the
// vendor wire format.
type Request struct {
	// Provider identifies which model service to use.
	Provider string `json:"provider"` // "openai"|"anthropic"|"google"

	// Model specifies the exact model version to use.
	Model string `json:"model"`

	// Flow is the name of the flow issuing the call. Used for metrics and
	// rate limit keys.
	Flow string `json:"flow"`

	// Prompt is the rendered user prompt.
	Prompt string `json:"prompt"`

	// SystemPrompt provides instructions ahead of the prompt.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Schema is the JSON Schema the reply must satisfy; SchemaName labels it
	// for providers that require a name.
	Schema     map[string]any `json:"schema,omitempty"`
	SchemaName string         `json:"schema_name,omitempty"`

	// Generation parameters.
	MaxTokens   int64   `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Seed        *int64  `json:"seed,omitempty"`

	// Control fields for resilience and observability.
	Timeout        time.Duration     `json:"timeout"`
	IdempotencyKey string            `json:"idempotency_key"`
	TraceID        string            `json:"trace_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Response is normalized output from any provider.
type Response struct {
	// Content is the model's text, expected to hold a JSON object.
	Content string `json:"content"`

	FinishReason       FinishReason    `json:"finish_reason"`
	ProviderRequestIDs []string        `json:"provider_request_ids"`
	Usage              NormalizedUsage `json:"usage"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`

	// RawBody preserves the original response for audit.
	RawBody []byte `json:"raw_body"`
}

// NormalizedUsage provides consistent usage metrics across all providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}

// Key returns the provider/model pair used for rate limit and metrics keys.
func (r *Request) Key() string {
	return r.Provider + ":" + r.Model
}
