// Package retry retries transient provider failures with exponential backoff
// and full jitter, honouring provider Retry-After hints.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-promptflow/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

var (
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")
	errMaxElapsedTimeInvalid  = errors.New("maxElapsedTime must be >= 0")
)

// Observer is notified of every retry the middleware schedules.
type Observer interface {
	ObserveRetry(provider, model string, errType llmerrors.ErrorType)
}

// Option configures the retry middleware.
type Option func(*retryMiddleware)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *retryMiddleware) {
		if l != nil {
			r.logger = l.With("component", "retry")
		}
	}
}

// WithObserver reports scheduled retries to o.
func WithObserver(o Observer) Option {
	return func(r *retryMiddleware) { r.observer = o }
}

// Stats is a snapshot of retry activity.
type Stats struct {
	TotalAttempts           int64 `json:"total_attempts"`
	SuccessfulFirstAttempts int64 `json:"successful_first_attempts"`
	SuccessfulRetries       int64 `json:"successful_retries"`
	FailedRetries           int64 `json:"failed_retries"`
}

// Middleware retries transient failures of the wrapped handler.
type Middleware struct {
	r *retryMiddleware
}

type retryMiddleware struct {
	config   configuration.RetryConfig
	logger   *slog.Logger
	observer Observer

	totalAttempts           atomic.Int64
	successfulFirstAttempts atomic.Int64
	successfulRetries       atomic.Int64
	failedRetries           atomic.Int64
}

// New validates cfg and returns a retry middleware.
func New(cfg configuration.RetryConfig, opts ...Option) (*Middleware, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v", errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}
	if cfg.MaxElapsedTime < 0 {
		return nil, fmt.Errorf("%w, got %v", errMaxElapsedTimeInvalid, cfg.MaxElapsedTime)
	}

	r := &retryMiddleware{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return &Middleware{r: r}, nil
}

// Stats returns a snapshot of the counters.
func (m *Middleware) Stats() Stats {
	return Stats{
		TotalAttempts:           m.r.totalAttempts.Load(),
		SuccessfulFirstAttempts: m.r.successfulFirstAttempts.Load(),
		SuccessfulRetries:       m.r.successfulRetries.Load(),
		FailedRetries:           m.r.failedRetries.Load(),
	}
}

// Wrap returns the transport middleware.
func (m *Middleware) Wrap() transport.Middleware {
	r := m.r
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			start := time.Now()
			var lastErr error
			attempts := 0

			for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
				attempts = attempt
				resp, err := next.Handle(ctx, req)
				r.totalAttempts.Add(1)

				if err == nil {
					if attempt > 1 {
						r.successfulRetries.Add(1)
						r.logger.Info("request succeeded after retry",
							"attempt", attempt,
							"provider", req.Provider,
							"model", req.Model,
							"flow", req.Flow)
					} else {
						r.successfulFirstAttempts.Add(1)
					}
					return resp, nil
				}

				// The caller gave up; its deadline is not ours to retry.
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, fmt.Errorf("%w: %w", ctxErr, err)
				}
				if !llmerrors.IsRetryableError(err) {
					r.logger.Debug("non-retryable error",
						"error", err,
						"attempt", attempt,
						"provider", req.Provider)
					return nil, err
				}

				lastErr = err
				if attempt == r.config.MaxAttempts {
					break
				}

				backoff := r.backoff(attempt, err)
				if r.config.MaxElapsedTime > 0 && time.Since(start)+backoff > r.config.MaxElapsedTime {
					r.logger.Warn("max elapsed time exceeded",
						"elapsed", time.Since(start),
						"attempts", attempt,
						"last_error", err)
					break
				}

				if r.observer != nil {
					r.observer.ObserveRetry(req.Provider, req.Model, llmerrors.Classify(err))
				}
				r.logger.Debug("retrying after backoff",
					"attempt", attempt,
					"backoff", backoff,
					"error", err,
					"provider", req.Provider)

				timer := time.NewTimer(backoff)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return nil, fmt.Errorf("%w (retrying after: %w)", ctx.Err(), lastErr)
				}
			}

			r.failedRetries.Add(1)
			return nil, fmt.Errorf("%w after %d attempts: %w", llmerrors.ErrMaxRetriesExceeded, attempts, lastErr)
		})
	}
}

// backoff prefers a provider Retry-After hint, capped at MaxInterval,
// over the computed exponential delay.
func (r *retryMiddleware) backoff(attempt int, err error) time.Duration {
	if ra := retryAfter(err); ra > 0 {
		if r.config.MaxInterval > 0 && ra > r.config.MaxInterval {
			return r.config.MaxInterval
		}
		return ra
	}
	return ExponentialBackoff(attempt, r.config)
}
