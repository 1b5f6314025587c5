// Package config assembles process configuration from a .env file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ahrav/go-promptflow/internal/llm/configuration"
)

type (
	// Config holds the settings of a promptflow process: the model client
	// and the Temporal worker.
	Config struct {
		LLM      *configuration.Config `validate:"required"`
		Temporal TemporalConfig
		// PricingFile optionally overrides the built-in token rates.
		PricingFile string `validate:"omitempty,filepath"`
	}

	// TemporalConfig locates the Temporal frontend and the task queue the
	// flow worker polls.
	TemporalConfig struct {
		HostPort  string `validate:"required,hostname_port"`
		Namespace string `validate:"required"`
		TaskQueue string `validate:"required"`
	}
)

const (
	DefaultTemporalHostPort  = "localhost:7233"
	DefaultTemporalNamespace = "default"
	DefaultTaskQueue         = "promptflow"

	MaxMaxTokens          = 1_000_000
	MaxRetryAttempts      = 100
	MaxHTTPTimeoutSeconds = 600
	MaxBurstSize          = 100_000
	MaxRequestsPerSecond  = 100_000
	MaxRedisDB            = 15
	MaxFailureThreshold   = 1_000
	MaxOpenTimeoutSeconds = 3_600
)

var (
	ErrInvalidFloat = errors.New("invalid float")
	ErrInvalidBool  = errors.New("invalid bool")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewDefaultConfig returns the built-in defaults. No API key is set, so the
// result does not validate until keys are loaded.
func NewDefaultConfig() *Config {
	return &Config{
		LLM: configuration.DefaultConfig(),
		Temporal: TemporalConfig{
			HostPort:  DefaultTemporalHostPort,
			Namespace: DefaultTemporalNamespace,
			TaskQueue: DefaultTaskQueue,
		},
	}
}

// Load reads the given .env files (".env" when none are named), applies the
// environment on top of the defaults and validates the result. Missing .env
// files are ignored; variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any set variable cannot be parsed.
func (c *Config) LoadFromEnv() error {
	llm := c.LLM

	if v := os.Getenv("PROMPTFLOW_PROVIDER"); v != "" {
		llm.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("PROMPTFLOW_MODEL"); v != "" {
		llm.Model = v
	}
	if v := os.Getenv("PROMPTFLOW_SYSTEM_PROMPT"); v != "" {
		llm.Generation.SystemPrompt = v
	}
	loadProviders(llm.Providers)

	var httpTimeout int64
	if err := loadEnvInt("PROMPTFLOW_HTTP_TIMEOUT_SECONDS", &httpTimeout, 0, MaxHTTPTimeoutSeconds); err != nil {
		return err
	}
	if httpTimeout > 0 {
		llm.HTTPTimeout = time.Duration(httpTimeout) * time.Second
	}
	if err := loadEnvInt("PROMPTFLOW_MAX_TOKENS", &llm.Generation.MaxTokens, 0, MaxMaxTokens); err != nil {
		return err
	}
	if err := loadEnvFloat("PROMPTFLOW_TEMPERATURE", &llm.Generation.Temperature); err != nil {
		return err
	}
	if v := os.Getenv("PROMPTFLOW_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid PROMPTFLOW_SEED: %q", v)
		}
		llm.Generation.Seed = &seed
	}

	if err := loadEnvInt("RETRY_MAX_ATTEMPTS", &llm.Retry.MaxAttempts, 0, MaxRetryAttempts); err != nil {
		return err
	}

	if err := loadEnvBool("RATE_LIMIT_ENABLED", &llm.RateLimit.Local.Enabled); err != nil {
		return err
	}
	if err := loadEnvFloat("RATE_LIMIT_TOKENS_PER_SECOND", &llm.RateLimit.Local.TokensPerSecond); err != nil {
		return err
	}
	if err := loadEnvInt("RATE_LIMIT_BURST", &llm.RateLimit.Local.BurstSize, 0, MaxBurstSize); err != nil {
		return err
	}

	// A Redis address turns the shared limiter on.
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		llm.RateLimit.Global.Enabled = true
		llm.RateLimit.Global.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		llm.RateLimit.Global.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 || db > MaxRedisDB {
			return fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		llm.RateLimit.Global.RedisDB = db
	}
	if err := loadEnvInt("GLOBAL_RATE_LIMIT_RPS", &llm.RateLimit.Global.RequestsPerSecond, 0, MaxRequestsPerSecond); err != nil {
		return err
	}

	if err := loadEnvBool("CIRCUIT_BREAKER_ENABLED", &llm.CircuitBreaker.Enabled); err != nil {
		return err
	}
	if err := loadEnvInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", &llm.CircuitBreaker.FailureThreshold, 0, MaxFailureThreshold); err != nil {
		return err
	}
	if err := loadEnvSeconds("CIRCUIT_BREAKER_OPEN_TIMEOUT_SECONDS", &llm.CircuitBreaker.OpenTimeout, MaxOpenTimeoutSeconds); err != nil {
		return err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		llm.Observability.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		llm.Observability.LogFormat = strings.ToLower(v)
	}
	var logPrompts bool
	if err := loadEnvBool("LOG_PROMPTS", &logPrompts); err != nil {
		return err
	}
	llm.Observability.RedactPrompts = !logPrompts
	if err := loadEnvBool("METRICS_ENABLED", &llm.Observability.MetricsEnabled); err != nil {
		return err
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		llm.Observability.MetricsAddr = v
	}

	if v := os.Getenv("PRICING_FILE"); v != "" {
		c.PricingFile = v
	}

	if v := os.Getenv("TEMPORAL_HOST_PORT"); v != "" {
		c.Temporal.HostPort = v
	}
	if v := os.Getenv("TEMPORAL_NAMESPACE"); v != "" {
		c.Temporal.Namespace = v
	}
	if v := os.Getenv("TEMPORAL_TASK_QUEUE"); v != "" {
		c.Temporal.TaskQueue = v
	}

	return nil
}

// Validate checks the model client settings, including the presence of an
// API key for the selected provider, and the Temporal settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", configuration.ErrInvalidConfig, err)
	}
	return c.LLM.Validate()
}

// loadProviders fills API keys from each provider's key variable and
// endpoint overrides from <PROVIDER>_ENDPOINT.
func loadProviders(providers map[string]configuration.ProviderConfig) {
	for name, pc := range providers {
		if pc.APIKeyEnv != "" {
			if key := os.Getenv(pc.APIKeyEnv); key != "" {
				pc.APIKey = key
			}
		}
		if endpoint := os.Getenv(strings.ToUpper(name) + "_ENDPOINT"); endpoint != "" {
			pc.Endpoint = strings.TrimRight(endpoint, "/")
		}
		providers[name] = pc
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

func loadEnvSeconds(key string, dst *time.Duration, max int) error {
	var secs int
	if err := loadEnvInt(key, &secs, 0, max); err != nil {
		return err
	}
	if secs > 0 {
		*dst = time.Duration(secs) * time.Second
	}
	return nil
}

func loadEnvFloat(key string, dst *float64) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w %s: %q", ErrInvalidFloat, key, s)
	}
	*dst = v
	return nil
}

func loadEnvBool(key string, dst *bool) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("%w %s: %q", ErrInvalidBool, key, s)
	}
	*dst = v
	return nil
}
