// Package configuration holds the settings of the model provider client.
package configuration

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

// Supported provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the model client configuration: which provider and model to
// call, generation parameters, resilience settings and observability.
type Config struct {
	// Provider and Model select the default target for every flow.
	Provider string `json:"provider" validate:"required,oneof=openai anthropic google"`
	Model    string `json:"model" validate:"required"`

	// HTTP client configuration.
	HTTPTimeout time.Duration `json:"http_timeout" validate:"gt=0"`
	HTTPClient  *http.Client  `json:"-" validate:"-"`

	// Providers holds per-vendor endpoints and credentials.
	Providers map[string]ProviderConfig `json:"providers" validate:"dive"`

	Generation     GenerationConfig     `json:"generation"`
	Retry          RetryConfig          `json:"retry"`
	RateLimit      RateLimitConfig      `json:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Observability  ObservabilityConfig  `json:"observability"`
}

// ProviderConfig holds provider-specific endpoint and authentication.
type ProviderConfig struct {
	Endpoint  string            `json:"endpoint" validate:"omitempty,url"`
	APIKey    string            `json:"-"` // Sensitive, not serialized
	APIKeyEnv string            `json:"api_key_env"`
	Timeout   time.Duration     `json:"timeout" validate:"gte=0"`
	Headers   map[string]string `json:"headers"`
}

// GenerationConfig controls sampling parameters sent with every request.
type GenerationConfig struct {
	MaxTokens    int64   `json:"max_tokens" validate:"gt=0"`
	Temperature  float64 `json:"temperature" validate:"gte=0,lte=2"`
	Seed         *int64  `json:"seed,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// RetryConfig controls retry behavior for failed provider calls.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" validate:"gte=1"`     // Total attempts including the first
	MaxElapsedTime  time.Duration `json:"max_elapsed_time" validate:"gte=0"` // Total time budget for all attempts
	InitialInterval time.Duration `json:"initial_interval" validate:"gte=0"` // Starting backoff duration
	MaxInterval     time.Duration `json:"max_interval" validate:"gte=0"`     // Maximum backoff duration
	Multiplier      float64       `json:"multiplier" validate:"gte=1"`       // Exponential backoff multiplier
	UseJitter       bool          `json:"use_jitter"`                        // Enable full jitter randomization
}

// RateLimitConfig combines an in-memory token bucket with a Redis fixed
// window shared by every process.
type RateLimitConfig struct {
	Local  LocalRateLimitConfig  `json:"local"`
	Global GlobalRateLimitConfig `json:"global"`
}

// LocalRateLimitConfig for in-memory token buckets.
type LocalRateLimitConfig struct {
	TokensPerSecond float64 `json:"tokens_per_second" validate:"gte=0"`
	BurstSize       int     `json:"burst_size" validate:"gte=0"`
	Enabled         bool    `json:"enabled"`
}

// GlobalRateLimitConfig for Redis-based fixed window rate limiting.
type GlobalRateLimitConfig struct {
	Enabled           bool          `json:"enabled"`
	RequestsPerSecond int           `json:"requests_per_second" validate:"required_if=Enabled true,gte=0"`
	RedisAddr         string        `json:"redis_addr" validate:"required_if=Enabled true"`
	RedisPassword     string        `json:"-"` // Sensitive
	RedisDB           int           `json:"redis_db" validate:"gte=0"`
	ConnectTimeout    time.Duration `json:"connect_timeout" validate:"gte=0"`
}

// CircuitBreakerConfig controls per provider/model circuit breaking.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled"`
	FailureThreshold int           `json:"failure_threshold" validate:"required_if=Enabled true,gte=0"` // Consecutive failures that open the circuit
	SuccessThreshold int           `json:"success_threshold" validate:"required_if=Enabled true,gte=0"` // Trial successes that close it again
	OpenTimeout      time.Duration `json:"open_timeout" validate:"gte=0"`                               // Time spent open before probing
	HalfOpenTrials   int           `json:"half_open_trials" validate:"required_if=Enabled true,gte=0"`  // Concurrent trials while half-open
}

// ObservabilityConfig controls logging and metrics.
type ObservabilityConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	LogLevel       string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat      string `json:"log_format" validate:"omitempty,oneof=json text"`
	RedactPrompts  bool   `json:"redact_prompts"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and that the selected provider has an
// API key.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	pc, ok := c.Providers[c.Provider]
	if !ok || pc.APIKey == "" {
		return fmt.Errorf("%w: no API key for provider %q", ErrInvalidConfig, c.Provider)
	}
	return nil
}

// SelectedProvider returns the settings of the selected provider.
func (c *Config) SelectedProvider() ProviderConfig {
	return c.Providers[c.Provider]
}
