package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ahrav/go-promptflow/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

const anthropicVersion = "2023-06-01"

// AnthropicAdapter implements transport.ProviderAdapter for the Messages
// API. The output schema travels as an instruction in the system prompt.
type AnthropicAdapter struct {
	config configuration.ProviderConfig
}

// NewAnthropicAdapter creates an Anthropic adapter, defaulting the endpoint
// to the production API.
func NewAnthropicAdapter(cfg configuration.ProviderConfig) *AnthropicAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = configuration.DefaultEndpoint(ProviderAnthropic)
	}
	return &AnthropicAdapter{config: cfg}
}

// Name returns the provider name.
func (a *AnthropicAdapter) Name() string { return ProviderAnthropic }

// Build constructs a /messages request.
func (a *AnthropicAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	system := req.SystemPrompt
	if req.Schema != nil {
		instr, err := schemaInstruction(req.Schema)
		if err != nil {
			return nil, err
		}
		if system != "" {
			system += "\n\n"
		}
		system += instr
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = configuration.DefaultMaxTokens
	}

	body := map[string]any{
		"model": req.Model,
		"messages": []map[string]any{
			{"role": "user", "content": req.Prompt},
		},
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
	}
	if system != "" {
		body["system"] = system
	}

	httpReq, err := newJSONRequest(ctx, a.config.Endpoint+"/messages", body, a.config.Headers)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	return httpReq, nil
}

// Parse extracts the concatenated text blocks, usage and stop reason.
func (a *AnthropicAdapter) Parse(httpResp *http.Response) (*transport.Response, error) {
	body, err := readBody(httpResp)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, parseAnthropicError(httpResp, body)
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", ProviderAnthropic, llmerrors.ErrEmptyResponse)
	}

	return &transport.Response{
		Content:            sb.String(),
		FinishReason:       mapAnthropicStopReason(resp.StopReason),
		ProviderRequestIDs: requestIDs(httpResp.Header, "request-id", "anthropic-request-id"),
		Usage: transport.NormalizedUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Headers: httpResp.Header,
		RawBody: body,
	}, nil
}

func mapAnthropicStopReason(reason string) transport.FinishReason {
	switch reason {
	case "max_tokens":
		return transport.FinishLength
	case "refusal":
		return transport.FinishContentFilter
	case "tool_use":
		return transport.FinishToolUse
	default:
		return transport.FinishStop
	}
}

// parseAnthropicError converts an Anthropic error envelope to a
// ProviderError.
func parseAnthropicError(httpResp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return fallbackError(ProviderAnthropic, httpResp, body)
	}
	return llmerrors.NewProviderError(ProviderAnthropic, httpResp.StatusCode, errResp.Error.Type, errResp.Error.Message, retryAfterSeconds(httpResp.Header))
}
