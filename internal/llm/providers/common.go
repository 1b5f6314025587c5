package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
)

// maxResponseBytes bounds how much of a provider body is read.
const maxResponseBytes = 8 << 20

// newJSONRequest marshals body and builds a POST with JSON content type and
// the configured extra headers.
func newJSONRequest(ctx context.Context, endpoint string, body any, headers map[string]string) (*http.Request, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// readBody reads a bounded response body.
func readBody(httpResp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// retryAfterSeconds parses an integer Retry-After header. HTTP-date values
// are ignored.
func retryAfterSeconds(h http.Header) int {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// requestIDs collects the first present header among names.
func requestIDs(h http.Header, names ...string) []string {
	for _, name := range names {
		if id := h.Get(name); id != "" {
			return []string{id}
		}
	}
	return []string{}
}

// fallbackError builds a ProviderError from an unparseable error body.
func fallbackError(provider string, httpResp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(httpResp.StatusCode)
	}
	return llmerrors.NewProviderError(provider, httpResp.StatusCode, "", msg, retryAfterSeconds(httpResp.Header))
}

// schemaInstruction renders schema as an instruction for providers without a
// structured output parameter.
func schemaInstruction(schema map[string]any) (string, error) {
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return "Respond only with a single JSON object, without Markdown fences or commentary, that conforms to this JSON Schema:\n" + string(b), nil
}
