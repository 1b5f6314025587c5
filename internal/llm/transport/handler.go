package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Router selects the provider adapter for a request.
type Router interface {
	Pick(provider, model string) (ProviderAdapter, error)
}

// ProviderAdapter abstracts vendor-specific HTTP communication.
type ProviderAdapter interface {
	Build(ctx context.Context, req *Request) (*http.Request, error)
	Parse(httpResp *http.Response) (*Response, error)
	Name() string
}

// Handler processes model requests through a composable middleware pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler.
// The first middleware is outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// TraceHeader carries the request's trace ID to the provider so vendor-side
// logs can be correlated with ours.
const TraceHeader = "X-Promptflow-Trace-Id"

// NewHTTPHandler returns the innermost handler: it picks the adapter for the
// request, performs one HTTP exchange and lets the adapter parse the result.
// It never retries.
func NewHTTPHandler(client *http.Client, router Router, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &exchange{client: client, router: router, logger: logger}
}

type exchange struct {
	client *http.Client
	router Router
	logger *slog.Logger
}

func (x *exchange) Handle(ctx context.Context, req *Request) (*Response, error) {
	adapter, err := x.router.Pick(req.Provider, req.Model)
	if err != nil {
		return nil, fmt.Errorf("no adapter for %s: %w", req.Key(), err)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := adapter.Build(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: build request for flow %q: %w", adapter.Name(), req.Flow, err)
	}
	if req.TraceID != "" {
		httpReq.Header.Set(TraceHeader, req.TraceID)
	}

	start := time.Now()
	httpResp, err := x.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: send: %w", adapter.Name(), err)
	}
	defer x.drain(adapter.Name(), httpResp)

	x.logger.DebugContext(ctx, "provider responded",
		"provider", adapter.Name(),
		"flow", req.Flow,
		"trace_id", req.TraceID,
		"status", httpResp.StatusCode)

	resp, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}
	resp.Usage.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

// drain closes the body so the connection can be reused.
func (x *exchange) drain(provider string, resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		x.logger.Warn("closing provider response body", "provider", provider, "error", err)
	}
}
