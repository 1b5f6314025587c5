// Package providers adapts the normalized transport request to each model
// vendor's HTTP API and asks for JSON output matching the flow's schema.
package providers

import (
	"fmt"

	"github.com/ahrav/go-promptflow/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

// Supported provider identifiers, matching configuration keys.
const (
	ProviderOpenAI    = configuration.ProviderOpenAI    // OpenAI GPT models
	ProviderAnthropic = configuration.ProviderAnthropic // Anthropic Claude models
	ProviderGoogle    = configuration.ProviderGoogle    // Google Gemini models
)

// NewRouter creates a router with one adapter per configured provider.
func NewRouter(configs map[string]configuration.ProviderConfig) (transport.Router, error) {
	adapters := make(map[string]transport.ProviderAdapter, len(configs))

	for name, cfg := range configs {
		var adapter transport.ProviderAdapter
		switch name {
		case ProviderOpenAI:
			adapter = NewOpenAIAdapter(cfg)
		case ProviderAnthropic:
			adapter = NewAnthropicAdapter(cfg)
		case ProviderGoogle:
			adapter = NewGoogleAdapter(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, name)
		}
		adapters[name] = adapter
	}

	return &router{adapters: adapters}, nil
}

// router maps provider names to adapters. Models are not restricted.
type router struct {
	adapters map[string]transport.ProviderAdapter
}

// Pick returns the adapter for provider.
func (r *router) Pick(provider, _ string) (transport.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}
