package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptflow/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu     sync.Mutex
	states []string
}

func (o *recordingObserver) ObserveCircuitState(_, _, state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

// scriptedHandler fails every call with err, or succeeds when err is nil.
type scriptedHandler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (h *scriptedHandler) set(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *scriptedHandler) Handle(context.Context, *transport.Request) (*transport.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	return &transport.Response{Content: "{}"}, nil
}

var (
	req       = &transport.Request{Provider: "openai", Model: "gpt-4o-mini"}
	errServer = llmerrors.NewProviderError("openai", 503, "", "down", 0)
)

func testConfig() configuration.CircuitBreakerConfig {
	return configuration.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Second,
		HalfOpenTrials:   1,
	}
}

func newBreakers(t *testing.T, cfg configuration.CircuitBreakerConfig, opts ...Option) (*Breakers, *fakeClock, *recordingObserver) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	obs := &recordingObserver{}
	opts = append([]Option{WithClock(clock.Now), WithObserver(obs), WithoutJitter()}, opts...)
	b, err := New(cfg, opts...)
	require.NoError(t, err)
	return b, clock, obs
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*configuration.CircuitBreakerConfig)
		want error
	}{
		{"failure_threshold", func(c *configuration.CircuitBreakerConfig) { c.FailureThreshold = 0 }, errFailureThreshold},
		{"success_threshold", func(c *configuration.CircuitBreakerConfig) { c.SuccessThreshold = 0 }, errSuccessThreshold},
		{"trials", func(c *configuration.CircuitBreakerConfig) { c.HalfOpenTrials = 0 }, errHalfOpenTrials},
		{"open_timeout", func(c *configuration.CircuitBreakerConfig) { c.OpenTimeout = -time.Second }, errOpenTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mod(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, tt.want)

			cfg.Enabled = false
			_, err = New(cfg)
			assert.NoError(t, err)
		})
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b, _, obs := newBreakers(t, testConfig())
	next := &scriptedHandler{err: errServer}
	h := b.Middleware()(next)

	for range 3 {
		_, err := h.Handle(context.Background(), req)
		assert.ErrorIs(t, err, errServer)
	}
	assert.Equal(t, StateOpen, b.State(req.Key()))

	_, err := h.Handle(context.Background(), req)
	assert.ErrorIs(t, err, llmerrors.ErrCircuitOpen)
	assert.Equal(t, llmerrors.ErrorTypeCircuitOpen, llmerrors.Classify(err))
	assert.False(t, llmerrors.IsRetryableError(err))
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, []string{"open"}, obs.states)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _, _ := newBreakers(t, testConfig())
	next := &scriptedHandler{err: errServer}
	h := b.Middleware()(next)

	for range 2 {
		_, _ = h.Handle(context.Background(), req)
	}
	next.set(nil)
	_, err := h.Handle(context.Background(), req)
	require.NoError(t, err)

	next.set(errServer)
	for range 2 {
		_, _ = h.Handle(context.Background(), req)
	}
	assert.Equal(t, StateClosed, b.State(req.Key()))
}

func TestHalfOpenRecovery(t *testing.T) {
	b, clock, obs := newBreakers(t, testConfig())
	next := &scriptedHandler{err: errServer}
	h := b.Middleware()(next)
	for range 3 {
		_, _ = h.Handle(context.Background(), req)
	}

	clock.Advance(10 * time.Second)
	next.set(nil)

	_, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State(req.Key()))

	_, err = h.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State(req.Key()))
	assert.Equal(t, []string{"open", "half-open", "closed"}, obs.states)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, clock, _ := newBreakers(t, testConfig())
	next := &scriptedHandler{err: errServer}
	h := b.Middleware()(next)
	for range 3 {
		_, _ = h.Handle(context.Background(), req)
	}

	clock.Advance(10 * time.Second)
	_, err := h.Handle(context.Background(), req)
	assert.ErrorIs(t, err, errServer)
	assert.Equal(t, StateOpen, b.State(req.Key()))

	_, err = h.Handle(context.Background(), req)
	assert.ErrorIs(t, err, llmerrors.ErrCircuitOpen)
}

func TestHalfOpenTrialLimit(t *testing.T) {
	b, clock, _ := newBreakers(t, testConfig())
	failing := &scriptedHandler{err: errServer}
	h := b.Middleware()(failing)
	for range 3 {
		_, _ = h.Handle(context.Background(), req)
	}
	clock.Advance(10 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	slow := b.Middleware()(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		close(started)
		<-release
		return &transport.Response{}, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := slow.Handle(context.Background(), req)
		done <- err
	}()
	<-started

	_, err := h.Handle(context.Background(), req)
	assert.ErrorIs(t, err, llmerrors.ErrCircuitOpen)
	assert.ErrorContains(t, err, "half-open trial limit reached")

	close(release)
	require.NoError(t, <-done)
}

func TestIgnoredErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"bad_request", llmerrors.NewProviderError("openai", 400, "", "bad", 0)},
		{"rate_limited", &llmerrors.RateLimitError{Scope: "local", Key: "openai:gpt-4o-mini"}},
		{"malformed", llmerrors.ErrMalformedOutput},
		{"unknown", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, _ := newBreakers(t, testConfig())
			h := b.Middleware()(&scriptedHandler{err: tt.err})
			for range 5 {
				_, _ = h.Handle(context.Background(), req)
			}
			assert.Equal(t, StateClosed, b.State(req.Key()))
		})
	}
}

func TestCallerCancellationIsNotAFailure(t *testing.T) {
	b, _, _ := newBreakers(t, testConfig())
	h := b.Middleware()(&scriptedHandler{err: context.DeadlineExceeded})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 5 {
		_, _ = h.Handle(ctx, req)
	}
	assert.Equal(t, StateClosed, b.State(req.Key()))
}

func TestKeysAreIndependent(t *testing.T) {
	b, _, _ := newBreakers(t, testConfig())
	h := b.Middleware()(&scriptedHandler{err: errServer})
	for range 3 {
		_, _ = h.Handle(context.Background(), req)
	}

	other := &transport.Request{Provider: "google", Model: "gemini-2.0-flash"}
	assert.Equal(t, StateOpen, b.State(req.Key()))
	assert.Equal(t, StateClosed, b.State(other.Key()))
}

func TestDisabledPassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	b, _, _ := newBreakers(t, cfg)
	next := &scriptedHandler{err: errServer}
	h := b.Middleware()(next)
	for range 10 {
		_, _ = h.Handle(context.Background(), req)
	}
	assert.Equal(t, 10, next.calls)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
