// Package metrics provides Prometheus metrics for flow invocations and the
// provider pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-promptflow/internal/flow"
	"github.com/ahrav/go-promptflow/internal/llm"
	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
	"github.com/ahrav/go-promptflow/internal/llm/pricing"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

const namespace = "promptflow"

// Collector holds all Prometheus metrics. It implements flow.Metrics and
// llm.Metrics.
type Collector struct {
	// Flow metrics
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderTokens          *prometheus.CounterVec
	ProviderCost            *prometheus.CounterVec
	ProviderRetries         *prometheus.CounterVec

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitState       *prometheus.GaugeVec
	CircuitTransitions *prometheus.CounterVec

	prices *pricing.Table
}

// Option configures a Collector.
type Option func(*Collector)

// WithPricing sets the rates used for the cost counter. The default is
// pricing.Default().
func WithPricing(t *pricing.Table) Option {
	return func(c *Collector) {
		if t != nil {
			c.prices = t
		}
	}
}

var (
	_ flow.Metrics = (*Collector)(nil)
	_ llm.Metrics  = (*Collector)(nil)
)

// New creates a collector with all metrics registered on reg. A nil reg
// uses the default registerer.
func New(reg prometheus.Registerer, opts ...Option) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_invocations_total",
				Help:      "Total flow invocations by terminal outcome",
			},
			[]string{"flow", "outcome"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flow_invocation_duration_seconds",
				Help:      "Flow invocation duration in seconds",
				Buckets:   []float64{.001, .01, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"flow", "outcome"},
		),

		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total provider calls by result",
			},
			[]string{"provider", "model", "flow", "result"},
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Provider call duration in seconds, retries included",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_tokens_total",
				Help:      "Tokens reported by providers",
			},
			[]string{"provider", "model", "kind"},
		),
		ProviderCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_cost_millicents_total",
				Help:      "Estimated provider spend in milli-cents, for models with known rates",
			},
			[]string{"provider", "model"},
		),
		ProviderRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_retries_total",
				Help:      "Provider call retries by error type",
			},
			[]string{"provider", "model", "error_type"},
		),

		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by a rate limiter before leaving the process",
			},
			[]string{"provider", "model", "scope"},
		),

		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider", "model"},
		),
		CircuitTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_transitions_total",
				Help:      "Circuit breaker state changes by target state",
			},
			[]string{"provider", "model", "state"},
		),

		prices: pricing.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ObserveInvocation implements flow.Metrics.
func (c *Collector) ObserveInvocation(flowName string, outcome flow.Outcome, duration time.Duration) {
	c.InvocationsTotal.WithLabelValues(flowName, string(outcome)).Inc()
	c.InvocationDuration.WithLabelValues(flowName, string(outcome)).Observe(duration.Seconds())
}

// ObserveRequest implements llm.Metrics.
func (c *Collector) ObserveRequest(
	provider, model, flowName string,
	errType llmerrors.ErrorType,
	duration time.Duration,
	usage transport.NormalizedUsage,
) {
	result := "success"
	if errType != "" {
		result = string(errType)
	}
	c.ProviderRequestsTotal.WithLabelValues(provider, model, flowName, result).Inc()
	c.ProviderRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if usage.PromptTokens > 0 {
		c.ProviderTokens.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		c.ProviderTokens.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
	}
	if cost, ok := c.prices.Cost(provider, model, usage); ok && cost > 0 {
		c.ProviderCost.WithLabelValues(provider, model).Add(float64(cost))
	}
}

// ObserveRetry implements llm.Metrics.
func (c *Collector) ObserveRetry(provider, model string, errType llmerrors.ErrorType) {
	c.ProviderRetries.WithLabelValues(provider, model, string(errType)).Inc()
}

// ObserveRateLimited implements llm.Metrics.
func (c *Collector) ObserveRateLimited(provider, model, scope string) {
	c.RateLimitHits.WithLabelValues(provider, model, scope).Inc()
}

// ObserveCircuitState implements llm.Metrics.
func (c *Collector) ObserveCircuitState(provider, model, state string) {
	c.CircuitTransitions.WithLabelValues(provider, model, state).Inc()
	c.CircuitState.WithLabelValues(provider, model).Set(circuitStateValue(state))
}

func circuitStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
