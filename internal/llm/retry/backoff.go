package retry

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-promptflow/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
)

// ExponentialBackoff returns the delay before retry number attempt (1-based)
// using InitialInterval*Multiplier^(attempt-1) capped at MaxInterval, with
// full jitter when enabled. Non-positive attempts yield zero.
func ExponentialBackoff(attempt int, cfg configuration.RetryConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := cfg.InitialInterval
	if backoff <= 0 {
		backoff = time.Millisecond // Avoid a hot loop.
	}
	multiplier := max(cfg.Multiplier, 1.0)
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if cfg.MaxInterval > 0 && backoff >= cfg.MaxInterval {
			backoff = cfg.MaxInterval
			break
		}
	}

	if cfg.UseJitter {
		// Full jitter: uniform in [0, backoff].
		return time.Duration(rand.Int64N(int64(backoff) + 1)) // #nosec G404 -- non-cryptographic jitter is appropriate here
	}
	return backoff
}

// retryAfter returns the provider-specified delay carried by err, if any.
func retryAfter(err error) time.Duration {
	var p llmerrors.RetryAfterProvider
	if errors.As(err, &p) {
		return p.GetRetryAfter()
	}
	return 0
}
