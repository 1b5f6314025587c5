package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ahrav/go-promptflow/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

// OpenAIAdapter implements transport.ProviderAdapter for the chat/completions
// API. Structured output is requested through response_format json_schema.
type OpenAIAdapter struct {
	config configuration.ProviderConfig
}

// NewOpenAIAdapter creates an OpenAI adapter, defaulting the endpoint to the
// production API.
func NewOpenAIAdapter(cfg configuration.ProviderConfig) *OpenAIAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = configuration.DefaultEndpoint(ProviderOpenAI)
	}
	return &OpenAIAdapter{config: cfg}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() string { return ProviderOpenAI }

// Build constructs a chat/completions request.
func (a *OpenAIAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	messages := []map[string]any{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]any{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"model":       req.Model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Seed != nil {
		body["seed"] = *req.Seed
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "output"
		}
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"strict": true,
				"schema": req.Schema,
			},
		}
	}

	httpReq, err := newJSONRequest(ctx, a.config.Endpoint+"/chat/completions", body, a.config.Headers)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", a.config.APIKey))
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	return httpReq, nil
}

// Parse extracts content, usage and finish reason from a chat/completions
// response.
func (a *OpenAIAdapter) Parse(httpResp *http.Response) (*transport.Response, error) {
	body, err := readBody(httpResp)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, parseOpenAIError(httpResp, body)
	}

	var resp struct {
		ID      string `json:"id"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
				Refusal string `json:"refusal"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
			TotalTokens      int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", ProviderOpenAI, llmerrors.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, &llmerrors.ProviderError{
			Provider:   ProviderOpenAI,
			StatusCode: httpResp.StatusCode,
			Message:    choice.Message.Refusal,
			Code:       "refusal",
			Type:       llmerrors.ErrorTypeContent,
		}
	}

	return &transport.Response{
		Content:            choice.Message.Content,
		FinishReason:       mapOpenAIFinishReason(choice.FinishReason),
		ProviderRequestIDs: requestIDs(httpResp.Header, "x-request-id"),
		Usage: transport.NormalizedUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Headers: httpResp.Header,
		RawBody: body,
	}, nil
}

func mapOpenAIFinishReason(reason string) transport.FinishReason {
	switch reason {
	case "length":
		return transport.FinishLength
	case "content_filter":
		return transport.FinishContentFilter
	case "tool_calls", "function_call":
		return transport.FinishToolUse
	default:
		return transport.FinishStop
	}
}

// parseOpenAIError converts an OpenAI error body to a ProviderError.
func parseOpenAIError(httpResp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return fallbackError(ProviderOpenAI, httpResp, body)
	}

	code := errResp.Error.Code
	if code == "" {
		code = errResp.Error.Type
	}
	return llmerrors.NewProviderError(ProviderOpenAI, httpResp.StatusCode, code, errResp.Error.Message, retryAfterSeconds(httpResp.Header))
}
