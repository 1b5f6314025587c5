package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	pc := cfg.Providers[ProviderOpenAI]
	pc.APIKey = "sk-test"
	cfg.Providers[ProviderOpenAI] = pc
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Retry.UseJitter)
	assert.True(t, cfg.RateLimit.Local.Enabled)
	assert.False(t, cfg.RateLimit.Global.Enabled)
	assert.True(t, cfg.Observability.RedactPrompts)

	for _, name := range []string{ProviderOpenAI, ProviderAnthropic, ProviderGoogle} {
		pc, ok := cfg.Providers[name]
		require.True(t, ok, name)
		assert.Equal(t, DefaultEndpoint(name), pc.Endpoint)
		assert.Equal(t, DefaultAPIKeyEnv(name), pc.APIKeyEnv)
		assert.Empty(t, pc.APIKey)
	}
}

func TestDefaultConfigRequiresAPIKey(t *testing.T) {
	err := DefaultConfig().Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), `no API key for provider "openai"`)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown_provider", mutate: func(c *Config) { c.Provider = "mistral" }, wantErr: true},
		{name: "empty_model", mutate: func(c *Config) { c.Model = "" }, wantErr: true},
		{name: "zero_max_tokens", mutate: func(c *Config) { c.Generation.MaxTokens = 0 }, wantErr: true},
		{name: "temperature_too_high", mutate: func(c *Config) { c.Generation.Temperature = 3 }, wantErr: true},
		{name: "zero_attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: true},
		{name: "bad_log_format", mutate: func(c *Config) { c.Observability.LogFormat = "xml" }, wantErr: true},
		{
			name: "global_limit_without_redis",
			mutate: func(c *Config) {
				c.RateLimit.Global.Enabled = true
				c.RateLimit.Global.RedisAddr = ""
			},
			wantErr: true,
		},
		{
			name: "global_limit_with_redis",
			mutate: func(c *Config) {
				c.RateLimit.Global.Enabled = true
				c.RateLimit.Global.RedisAddr = "localhost:6379"
			},
		},
		{
			name: "selected_provider_without_key",
			mutate: func(c *Config) {
				c.Provider = ProviderAnthropic
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSelectedProvider(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "sk-test", cfg.SelectedProvider().APIKey)

	cfg.Provider = ProviderGoogle
	assert.Equal(t, DefaultEndpoint(ProviderGoogle), cfg.SelectedProvider().Endpoint)
}
