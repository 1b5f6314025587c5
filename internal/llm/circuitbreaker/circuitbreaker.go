// Package circuitbreaker stops calling a provider/model that keeps failing
// and lets a few trial requests through once it has been left alone for a
// while.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ahrav/go-promptflow/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

// jitterDivisor caps open-timeout jitter at a tenth of the timeout.
const jitterDivisor = 10

var (
	errFailureThreshold = errors.New("circuit breaker: FailureThreshold must be positive")
	errSuccessThreshold = errors.New("circuit breaker: SuccessThreshold must be positive")
	errHalfOpenTrials   = errors.New("circuit breaker: HalfOpenTrials must be positive")
	errOpenTimeout      = errors.New("circuit breaker: OpenTimeout cannot be negative")
)

// State is the position of one breaker.
type State int32

const (
	// StateClosed lets every request through.
	StateClosed State = iota
	// StateOpen rejects every request.
	StateOpen
	// StateHalfOpen lets a bounded number of trials through.
	StateHalfOpen
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Observer is notified of every state transition.
type Observer interface {
	ObserveCircuitState(provider, model, state string)
}

// Option configures Breakers.
type Option func(*Breakers)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Breakers) {
		if l != nil {
			b.logger = l.With("component", "circuit_breaker")
		}
	}
}

// WithObserver reports state transitions to o.
func WithObserver(o Observer) Option {
	return func(b *Breakers) { b.observer = o }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breakers) { b.now = now }
}

// WithoutJitter disables open-timeout jitter, for tests.
func WithoutJitter() Option {
	return func(b *Breakers) { b.jitter = func(time.Duration) time.Duration { return 0 } }
}

// Breakers keeps one breaker per provider:model key.
type Breakers struct {
	cfg      configuration.CircuitBreakerConfig
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	jitter   func(time.Duration) time.Duration

	mu       sync.Mutex
	breakers map[string]*breaker
}

// New validates cfg and creates an empty breaker set.
func New(cfg configuration.CircuitBreakerConfig, opts ...Option) (*Breakers, error) {
	if cfg.Enabled {
		if err := validate(cfg); err != nil {
			return nil, err
		}
	}

	b := &Breakers{
		cfg:      cfg,
		logger:   slog.Default().With("component", "circuit_breaker"),
		now:      time.Now,
		jitter:   randomJitter,
		breakers: make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func validate(cfg configuration.CircuitBreakerConfig) error {
	switch {
	case cfg.FailureThreshold <= 0:
		return errFailureThreshold
	case cfg.SuccessThreshold <= 0:
		return errSuccessThreshold
	case cfg.HalfOpenTrials <= 0:
		return errHalfOpenTrials
	case cfg.OpenTimeout < 0:
		return errOpenTimeout
	}
	return nil
}

// Middleware rejects requests whose breaker is open with an error wrapping
// ErrCircuitOpen. Only provider-side failures count against a breaker;
// rejected requests, rate limits and caller cancellation do not.
func (b *Breakers) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if !b.cfg.Enabled {
				return next.Handle(ctx, req)
			}

			key := req.Key()
			br := b.get(key)
			trial, change, err := br.allow(b)
			b.transition(req, change)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			resp, err := next.Handle(ctx, req)
			switch {
			case err == nil:
				b.transition(req, br.success(b, trial))
			case countsAsFailure(ctx, err):
				b.transition(req, br.failure(b, trial))
			default:
				br.release(trial)
			}
			return resp, err
		})
	}
}

// State returns the state of the breaker for key. Unknown keys are closed.
func (b *Breakers) State(key string) State {
	b.mu.Lock()
	br, ok := b.breakers[key]
	b.mu.Unlock()
	if !ok {
		return StateClosed
	}
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.state
}

func (b *Breakers) get(key string) *breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	br, ok := b.breakers[key]
	if !ok {
		br = &breaker{}
		b.breakers[key] = br
	}
	return br
}

// transition logs and reports a state change. from == to means none
// happened.
func (b *Breakers) transition(req *transport.Request, change stateChange) {
	if change.from == change.to {
		return
	}
	b.logger.Info("circuit breaker state transition",
		"key", req.Key(),
		"from", change.from.String(),
		"to", change.to.String())
	if b.observer != nil {
		b.observer.ObserveCircuitState(req.Provider, req.Model, change.to.String())
	}
}

func countsAsFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch llmerrors.Classify(err) {
	case llmerrors.ErrorTypeTimeout, llmerrors.ErrorTypeNetwork, llmerrors.ErrorTypeProvider:
		return true
	default:
		return false
	}
}

func randomJitter(timeout time.Duration) time.Duration {
	jit := timeout / jitterDivisor
	if jit <= 0 {
		return 0
	}
	return rand.N(jit) //nolint:gosec // jitter does not need a secure source
}

type stateChange struct{ from, to State }

// breaker is the state of one provider:model key.
type breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	successes int
	trials    int
	reopenAt  time.Time
}

// allow reports whether a request may proceed and whether it is a
// half-open trial. An open breaker whose timeout has passed moves to
// half-open here.
func (br *breaker) allow(b *Breakers) (bool, stateChange, error) {
	br.mu.Lock()
	defer br.mu.Unlock()

	change := stateChange{from: br.state, to: br.state}
	if br.state == StateOpen {
		if b.now().Before(br.reopenAt) {
			return false, change, llmerrors.ErrCircuitOpen
		}
		br.state = StateHalfOpen
		br.successes = 0
		br.trials = 0
		change.to = StateHalfOpen
	}

	if br.state == StateHalfOpen {
		if br.trials >= b.cfg.HalfOpenTrials {
			return false, change, fmt.Errorf("%w: half-open trial limit reached", llmerrors.ErrCircuitOpen)
		}
		br.trials++
		return true, change, nil
	}
	return false, change, nil
}

func (br *breaker) success(b *Breakers, trial bool) stateChange {
	br.mu.Lock()
	defer br.mu.Unlock()

	from := br.state
	br.releaseLocked(trial)
	switch br.state {
	case StateClosed:
		br.failures = 0
	case StateHalfOpen:
		if !trial {
			break
		}
		br.successes++
		if br.successes >= b.cfg.SuccessThreshold {
			br.state = StateClosed
			br.failures = 0
			br.successes = 0
			br.trials = 0
		}
	}
	return stateChange{from: from, to: br.state}
}

func (br *breaker) failure(b *Breakers, trial bool) stateChange {
	br.mu.Lock()
	defer br.mu.Unlock()

	from := br.state
	br.releaseLocked(trial)
	switch br.state {
	case StateClosed:
		br.failures++
		if br.failures >= b.cfg.FailureThreshold {
			br.open(b)
		}
	case StateHalfOpen:
		if trial {
			br.open(b)
		}
	}
	return stateChange{from: from, to: br.state}
}

func (br *breaker) release(trial bool) {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.releaseLocked(trial)
}

func (br *breaker) releaseLocked(trial bool) {
	if trial && br.trials > 0 {
		br.trials--
	}
}

func (br *breaker) open(b *Breakers) {
	br.state = StateOpen
	br.failures = 0
	br.successes = 0
	br.trials = 0
	br.reopenAt = b.now().Add(b.cfg.OpenTimeout + b.jitter(b.cfg.OpenTimeout))
}
