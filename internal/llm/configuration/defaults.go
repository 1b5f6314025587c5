package configuration

import "time"

// HTTP constants.
const (
	DefaultMaxIdleConns       = 100
	DefaultIdleTimeoutSeconds = 90
	DefaultTLSTimeoutSeconds  = 10
	DefaultHTTPTimeoutSeconds = 30
)

// Generation constants.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
)

// Retry constants.
const (
	DefaultMaxAttempts       = 3
	DefaultMaxElapsedTime    = 45 * time.Second
	DefaultInitialInterval   = 250 * time.Millisecond
	DefaultMaxInterval       = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Rate limiting constants.
const (
	DefaultTokensPerSecond = 10
	DefaultBurstSize       = 20
	DefaultConnectTimeout  = 5 * time.Second
	DefaultMetricsAddr     = ":9090"
)

// Circuit breaker constants.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultOpenTimeout      = 30 * time.Second
	DefaultHalfOpenTrials   = 1
)

// Default endpoints per provider.
var defaultEndpoints = map[string]string{
	ProviderOpenAI:    "https://api.openai.com/v1",
	ProviderAnthropic: "https://api.anthropic.com/v1",
	ProviderGoogle:    "https://generativelanguage.googleapis.com/v1beta",
}

// Default API key environment variables per provider.
var defaultKeyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGoogle:    "GOOGLE_API_KEY",
}

// DefaultEndpoint returns the production endpoint of provider.
func DefaultEndpoint(provider string) string { return defaultEndpoints[provider] }

// DefaultAPIKeyEnv returns the environment variable holding provider's key.
func DefaultAPIKeyEnv(provider string) string { return defaultKeyEnv[provider] }

// DefaultConfig returns a configuration targeting OpenAI with local rate
// limiting and circuit breaking on and the Redis limiter off. API keys are
// left empty.
func DefaultConfig() *Config {
	providers := make(map[string]ProviderConfig, len(defaultEndpoints))
	for name, endpoint := range defaultEndpoints {
		providers[name] = ProviderConfig{
			Endpoint:  endpoint,
			APIKeyEnv: defaultKeyEnv[name],
		}
	}

	return &Config{
		Provider:    ProviderOpenAI,
		Model:       DefaultModel,
		HTTPTimeout: DefaultHTTPTimeoutSeconds * time.Second,
		Providers:   providers,
		Generation: GenerationConfig{
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			MaxElapsedTime:  DefaultMaxElapsedTime,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultBackoffMultiplier,
			UseJitter:       true,
		},
		RateLimit: RateLimitConfig{
			Local: LocalRateLimitConfig{
				TokensPerSecond: DefaultTokensPerSecond,
				BurstSize:       DefaultBurstSize,
				Enabled:         true,
			},
			Global: GlobalRateLimitConfig{
				RequestsPerSecond: DefaultTokensPerSecond,
				ConnectTimeout:    DefaultConnectTimeout,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: DefaultFailureThreshold,
			SuccessThreshold: DefaultSuccessThreshold,
			OpenTimeout:      DefaultOpenTimeout,
			HalfOpenTrials:   DefaultHalfOpenTrials,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsAddr:    DefaultMetricsAddr,
			LogLevel:       "info",
			LogFormat:      "json",
			RedactPrompts:  true,
		},
	}
}
