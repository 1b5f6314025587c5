package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ahrav/go-promptflow/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

// GoogleAdapter implements transport.ProviderAdapter for the Gemini
// generateContent API. Structured output uses responseMimeType and
// responseSchema.
type GoogleAdapter struct {
	config configuration.ProviderConfig
}

// NewGoogleAdapter creates a Gemini adapter, defaulting the endpoint to the
// production API.
func NewGoogleAdapter(cfg configuration.ProviderConfig) *GoogleAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = configuration.DefaultEndpoint(ProviderGoogle)
	}
	return &GoogleAdapter{config: cfg}
}

// Name returns the provider name.
func (a *GoogleAdapter) Name() string { return ProviderGoogle }

// Build constructs a generateContent request.
func (a *GoogleAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", a.config.Endpoint, url.PathEscape(req.Model))

	genCfg := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		genCfg["maxOutputTokens"] = req.MaxTokens
	}
	if req.Seed != nil {
		genCfg["seed"] = *req.Seed
	}
	if req.Schema != nil {
		genCfg["responseMimeType"] = "application/json"
		genCfg["responseSchema"] = geminiSchema(req.Schema)
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": req.Prompt}}},
		},
		"generationConfig": genCfg,
	}
	if req.SystemPrompt != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemPrompt}},
		}
	}

	httpReq, err := newJSONRequest(ctx, endpoint, body, a.config.Headers)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-goog-api-key", a.config.APIKey)
	return httpReq, nil
}

// Parse extracts text parts, usage and finish reason.
func (a *GoogleAdapter) Parse(httpResp *http.Response) (*transport.Response, error) {
	body, err := readBody(httpResp)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, parseGoogleError(httpResp, body)
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
		UsageMetadata struct {
			PromptTokenCount     int64 `json:"promptTokenCount"`
			CandidatesTokenCount int64 `json:"candidatesTokenCount"`
			TotalTokenCount      int64 `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.PromptFeedback.BlockReason != "" {
		return nil, &llmerrors.ProviderError{
			Provider:   ProviderGoogle,
			StatusCode: httpResp.StatusCode,
			Message:    "prompt blocked: " + resp.PromptFeedback.BlockReason,
			Code:       resp.PromptFeedback.BlockReason,
			Type:       llmerrors.ErrorTypeContent,
		}
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%s: %w", ProviderGoogle, llmerrors.ErrEmptyResponse)
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}

	return &transport.Response{
		Content:            sb.String(),
		FinishReason:       mapGoogleFinishReason(cand.FinishReason),
		ProviderRequestIDs: requestIDs(httpResp.Header, "x-goog-request-id", "x-request-id"),
		Usage: transport.NormalizedUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
		Headers: httpResp.Header,
		RawBody: body,
	}, nil
}

func mapGoogleFinishReason(reason string) transport.FinishReason {
	switch strings.ToUpper(reason) {
	case "MAX_TOKENS":
		return transport.FinishLength
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT", "RECITATION":
		return transport.FinishContentFilter
	default:
		return transport.FinishStop
	}
}

// geminiSchema converts a JSON Schema to the OpenAPI subset Gemini accepts:
// type names are upper-cased and additionalProperties is dropped.
func geminiSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "additionalProperties", "$schema", "title":
			continue
		case "type":
			if s, ok := v.(string); ok {
				out[k] = strings.ToUpper(s)
				continue
			}
		case "items":
			if m, ok := v.(map[string]any); ok {
				out[k] = geminiSchema(m)
				continue
			}
		case "properties":
			if props, ok := v.(map[string]any); ok {
				converted := make(map[string]any, len(props))
				for name, p := range props {
					if pm, ok := p.(map[string]any); ok {
						converted[name] = geminiSchema(pm)
					} else {
						converted[name] = p
					}
				}
				out[k] = converted
				continue
			}
		}
		out[k] = v
	}
	return out
}

// parseGoogleError converts a Google RPC error body to a ProviderError.
func parseGoogleError(httpResp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return fallbackError(ProviderGoogle, httpResp, body)
	}
	return llmerrors.NewProviderError(ProviderGoogle, httpResp.StatusCode, errResp.Error.Status, errResp.Error.Message, retryAfterSeconds(httpResp.Header))
}
