package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-promptflow/internal/shape"
)

// Request is what the executor hands the model provider for one call.
type Request struct {
	// Flow names the flow being executed; providers use it for logging and
	// request metadata.
	Flow         string
	Prompt       string
	SystemPrompt string
	// Output is the shape the provider is asked to produce.
	Output shape.Shape
}

// Provider turns a rendered prompt into a structured value. It is the only
// blocking step of an invocation and must honour ctx cancellation.
type Provider interface {
	Invoke(ctx context.Context, req Request) (map[string]any, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (map[string]any, error)

// Invoke calls f.
func (f ProviderFunc) Invoke(ctx context.Context, req Request) (map[string]any, error) {
	return f(ctx, req)
}

// State is a step in an invocation's lifecycle.
type State string

const (
	StateCreated            State = "created"
	StateValidating         State = "validating"
	StateShortCircuited     State = "short_circuited"
	StateRendering          State = "rendering"
	StateInvoking           State = "invoking"
	StateValidatingResponse State = "validating_response"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

// Metrics records finished invocations.
type Metrics interface {
	ObserveInvocation(flow string, outcome Outcome, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveInvocation(string, Outcome, time.Duration) {}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger used for state transitions.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the sink for invocation outcomes.
func WithMetrics(m Metrics) ExecutorOption {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// Executor runs flow invocations against a Provider. It holds no
// per-invocation state and is safe for concurrent use.
type Executor struct {
	provider Provider
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
}

// NewExecutor creates an Executor that sends prompts to provider.
func NewExecutor(provider Provider, opts ...ExecutorOption) *Executor {
	e := &Executor{
		provider: provider,
		logger:   slog.Default(),
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one invocation of def with input.
//
// Input is validated first; a guard that fires returns its output without a
// provider call. Otherwise the prompt is rendered and sent to the provider,
// and the provider's value is validated against the output shape. The
// returned error is one of *ValidationError, *TemplateError, *ProviderError,
// *SchemaMismatchError or *CancelledError.
func (e *Executor) Execute(ctx context.Context, def *Definition, input map[string]any) (map[string]any, error) {
	inv := e.begin(ctx, def)

	inv.to(StateValidating)
	if err := shape.Validate(def.input, input); err != nil {
		return inv.fail(err)
	}

	if def.guard != nil {
		if out, ok := def.guard(input); ok {
			inv.to(StateShortCircuited)
			if err := shape.Validate(def.output, out); err != nil {
				return inv.fail(&SchemaMismatchError{Flow: def.name, Source: SourceGuard, Cause: err})
			}
			return inv.complete(out, OutcomeShortCircuited)
		}
	}

	inv.to(StateRendering)
	text, err := def.tmpl.Render(input)
	if err != nil {
		return inv.fail(err)
	}

	inv.to(StateInvoking)
	if err := ctx.Err(); err != nil {
		return inv.fail(&CancelledError{Flow: def.name, Cause: err})
	}
	out, err := e.provider.Invoke(ctx, Request{
		Flow:         def.name,
		Prompt:       text,
		SystemPrompt: def.system,
		Output:       def.output.Clone(),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return inv.fail(&CancelledError{Flow: def.name, Cause: ctxErr})
		}
		return inv.fail(&ProviderError{Flow: def.name, Cause: err})
	}

	inv.to(StateValidatingResponse)
	if err := shape.Validate(def.output, out); err != nil {
		return inv.fail(&SchemaMismatchError{Flow: def.name, Source: SourceProvider, Cause: err})
	}
	return inv.complete(out, OutcomeCompleted)
}

// Render validates input and returns the prompt Execute would send, without
// applying the guard or contacting the provider.
func (e *Executor) Render(def *Definition, input map[string]any) (string, error) {
	if err := shape.Validate(def.input, input); err != nil {
		return "", err
	}
	return def.tmpl.Render(input)
}

// invocation tracks one Execute call. It lives only for the duration of the
// call and is never shared.
type invocation struct {
	ctx    context.Context
	id     string
	flow   string
	state  State
	start  time.Time
	exec   *Executor
	logger *slog.Logger
}

func (e *Executor) begin(ctx context.Context, def *Definition) *invocation {
	id := uuid.NewString()
	return &invocation{
		ctx:    ctx,
		id:     id,
		flow:   def.name,
		state:  StateCreated,
		start:  e.now(),
		exec:   e,
		logger: e.logger.With("invocation_id", id, "flow", def.name),
	}
}

func (inv *invocation) to(next State) {
	inv.logger.DebugContext(inv.ctx, "flow state transition",
		"from", inv.state,
		"to", next,
	)
	inv.state = next
}

func (inv *invocation) complete(out map[string]any, outcome Outcome) (map[string]any, error) {
	inv.to(StateCompleted)
	inv.finish(outcome)
	return out, nil
}

func (inv *invocation) fail(err error) (map[string]any, error) {
	inv.to(StateFailed)
	outcome := Classify(err)
	inv.logger.DebugContext(inv.ctx, "flow invocation failed",
		"outcome", outcome,
		"error", err,
	)
	inv.finish(outcome)
	return nil, err
}

func (inv *invocation) finish(outcome Outcome) {
	inv.exec.metrics.ObserveInvocation(inv.flow, outcome, inv.exec.now().Sub(inv.start))
}
