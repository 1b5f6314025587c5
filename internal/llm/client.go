// Package llm provides the model provider client used by the flow executor:
// a middleware pipeline of logging, circuit breaking, retry and rate limiting
// in front of vendor adapters that request JSON output.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-promptflow/internal/flow"
	"github.com/ahrav/go-promptflow/internal/llm/circuitbreaker"
	"github.com/ahrav/go-promptflow/internal/llm/configuration"
	"github.com/ahrav/go-promptflow/internal/llm/providers"
	"github.com/ahrav/go-promptflow/internal/llm/ratelimit"
	"github.com/ahrav/go-promptflow/internal/llm/retry"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger  *slog.Logger
	metrics Metrics
	redis   redis.UniversalClient
	router  transport.Router
}

// WithLogger sets the logger for the client and its middleware.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithMetrics reports provider telemetry to m.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithRedisClient shares an existing Redis client with the global limiter.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *clientOptions) { o.redis = c }
}

// WithRouter replaces the adapter router built from the configuration.
func WithRouter(r transport.Router) Option {
	return func(o *clientOptions) { o.router = r }
}

// Client sends flow prompts to the configured provider and decodes the
// JSON object it returns. It implements flow.Provider.
type Client struct {
	cfg      *configuration.Config
	handler  transport.Handler
	limiter  *ratelimit.Limiter
	breakers *circuitbreaker.Breakers
	logger   *slog.Logger
}

var _ flow.Provider = (*Client)(nil)

// NewClient builds the pipeline
// logging -> circuit breaker -> retry -> rate limit -> HTTP.
// Rate limiting sits inside retry so every attempt is counted; the breaker
// sees one outcome per logical call.
func NewClient(cfg *configuration.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	o := clientOptions{logger: slog.Default(), metrics: NoOpMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "llm")

	router := o.router
	if router == nil {
		var err error
		if router, err = providers.NewRouter(cfg.Providers); err != nil {
			return nil, fmt.Errorf("failed to initialize router: %w", err)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          configuration.DefaultMaxIdleConns,
				IdleConnTimeout:       configuration.DefaultIdleTimeoutSeconds * time.Second,
				TLSHandshakeTimeout:   configuration.DefaultTLSTimeoutSeconds * time.Second,
				ExpectContinueTimeout: time.Second,
			},
			Timeout: cfg.HTTPTimeout,
		}
	}

	core := transport.NewHTTPHandler(httpClient, router, logger)

	rlOpts := []ratelimit.Option{ratelimit.WithLogger(o.logger), ratelimit.WithObserver(o.metrics)}
	if o.redis != nil {
		rlOpts = append(rlOpts, ratelimit.WithRedisClient(o.redis))
	}
	limiter, err := ratelimit.New(cfg.RateLimit, rlOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	retrier, err := retry.New(cfg.Retry, retry.WithLogger(o.logger), retry.WithObserver(o.metrics))
	if err != nil {
		_ = limiter.Close()
		return nil, fmt.Errorf("failed to initialize retry middleware: %w", err)
	}

	breakers, err := circuitbreaker.New(cfg.CircuitBreaker,
		circuitbreaker.WithLogger(o.logger), circuitbreaker.WithObserver(o.metrics))
	if err != nil {
		_ = limiter.Close()
		return nil, fmt.Errorf("failed to initialize circuit breaker: %w", err)
	}

	handler := transport.Chain(core,
		NewLoggingMiddleware(logger, o.metrics, cfg.Observability.RedactPrompts),
		breakers.Middleware(),
		retrier.Wrap(),
		limiter.Middleware(),
	)

	return &Client{
		cfg:      cfg,
		handler:  handler,
		limiter:  limiter,
		breakers: breakers,
		logger:   logger,
	}, nil
}

// Invoke implements flow.Provider. It requests JSON matching req.Output and
// returns the decoded object; shape validation is left to the executor.
func (c *Client) Invoke(ctx context.Context, req flow.Request) (map[string]any, error) {
	treq := c.newRequest(req)
	if key, err := transport.GenerateIdemKey(treq); err == nil {
		treq.IdempotencyKey = key.String()
	}

	resp, err := c.handler.Handle(ctx, treq)
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(resp.Content)
	if err != nil {
		c.logger.WarnContext(ctx, "model returned no JSON object",
			"flow", req.Flow,
			"trace_id", treq.TraceID,
			"finish_reason", resp.FinishReason,
			"content_length", len(resp.Content))
		return nil, err
	}
	return decodeObject(raw)
}

// Do sends a prepared request through the pipeline.
func (c *Client) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return c.handler.Handle(ctx, req)
}

// CircuitState reports the breaker state for the configured provider and
// model.
func (c *Client) CircuitState() circuitbreaker.State {
	return c.breakers.State(c.cfg.Provider + ":" + c.cfg.Model)
}

// Close releases the rate limiter's background resources.
func (c *Client) Close() error {
	return c.limiter.Close()
}

func (c *Client) newRequest(req flow.Request) *transport.Request {
	gen := c.cfg.Generation
	system := req.SystemPrompt
	if system == "" {
		system = gen.SystemPrompt
	}

	return &transport.Request{
		Provider:     c.cfg.Provider,
		Model:        c.cfg.Model,
		Flow:         req.Flow,
		Prompt:       req.Prompt,
		SystemPrompt: system,
		Schema:       req.Output.JSONSchema(),
		SchemaName:   req.Output.Name,
		MaxTokens:    gen.MaxTokens,
		Temperature:  gen.Temperature,
		Seed:         gen.Seed,
		Timeout:      c.cfg.SelectedProvider().Timeout,
		TraceID:      uuid.NewString(),
	}
}
