package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// CurrentCanonicalVersion is the canonicalization format version. Bump it
// when canonicalization changes so old keys stop matching.
const CurrentCanonicalVersion = "v1"

// CanonicalPayload is the normalized form of a logical model request and the
// sole input to IdemKey hashing.
type CanonicalPayload struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Flow     string         `json:"flow,omitempty"`
	System   string         `json:"system,omitempty"`
	Prompt   string         `json:"prompt"`
	Schema   map[string]any `json:"schema,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Seed     *int64         `json:"seed,omitempty"`
	Version  string         `json:"version"`
}

// IdemKey is a deterministic SHA-256 hex key for a canonical payload.
type IdemKey string

// String returns the key as a string.
func (k IdemKey) String() string { return string(k) }

// BuildCanonicalPayload normalizes req so that equivalent requests produce
// identical payloads.
func BuildCanonicalPayload(req *Request) *CanonicalPayload {
	payload := &CanonicalPayload{
		Provider: strings.ToLower(strings.TrimSpace(req.Provider)),
		Model:    strings.TrimSpace(req.Model),
		Flow:     req.Flow,
		System:   normalizeText(req.SystemPrompt),
		Prompt:   normalizeText(req.Prompt),
		Schema:   req.Schema,
		Seed:     req.Seed,
		Version:  CurrentCanonicalVersion,
	}

	// Only non-default parameters, to keep key variations down.
	params := make(map[string]any)
	if req.MaxTokens > 0 {
		params["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != 0 {
		params["temperature"] = req.Temperature
	}
	if len(params) > 0 {
		payload.Params = params
	}
	return payload
}

// GenerateIdemKey canonicalizes req and hashes the result. encoding/json
// sorts map keys, so nested schema maps hash stably.
func GenerateIdemKey(req *Request) (IdemKey, error) {
	b, err := json.Marshal(BuildCanonicalPayload(req))
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return IdemKey(hex.EncodeToString(sum[:])), nil
}

// normalizeText trims, converts CRLF to LF and collapses runs of spaces
// within each line. Line breaks are kept since they change the prompt.
func normalizeText(text string) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}
