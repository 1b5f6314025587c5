package llm

import (
	"context"
	"log/slog"
	"time"

	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

// Metrics receives provider call telemetry. The ratelimit, retry and circuit
// breaker observers are part of it so one collector covers the whole
// pipeline.
type Metrics interface {
	// ObserveRequest records one logical provider call. errType is empty
	// on success.
	ObserveRequest(provider, model, flow string, errType llmerrors.ErrorType, duration time.Duration, usage transport.NormalizedUsage)
	ObserveRetry(provider, model string, errType llmerrors.ErrorType)
	ObserveRateLimited(provider, model, scope string)
	ObserveCircuitState(provider, model, state string)
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

// ObserveRequest implements Metrics.
func (NoOpMetrics) ObserveRequest(string, string, string, llmerrors.ErrorType, time.Duration, transport.NormalizedUsage) {
}

// ObserveRetry implements Metrics.
func (NoOpMetrics) ObserveRetry(string, string, llmerrors.ErrorType) {}

// ObserveRateLimited implements Metrics.
func (NoOpMetrics) ObserveRateLimited(string, string, string) {}

// ObserveCircuitState implements Metrics.
func (NoOpMetrics) ObserveCircuitState(string, string, string) {}

// NewLoggingMiddleware logs the start and end of every provider call and
// reports it to metrics. With redact set, prompt text is replaced by its
// length.
func NewLoggingMiddleware(logger *slog.Logger, metrics Metrics, redact bool) transport.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}

	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			fields := []any{
				"trace_id", req.TraceID,
				"provider", req.Provider,
				"model", req.Model,
				"flow", req.Flow,
				"max_tokens", req.MaxTokens,
				"temperature", req.Temperature,
			}
			if redact {
				fields = append(fields, "prompt_length", len(req.Prompt))
				if req.SystemPrompt != "" {
					fields = append(fields, "system_prompt_length", len(req.SystemPrompt))
				}
			} else {
				fields = append(fields, "prompt", req.Prompt)
				if req.SystemPrompt != "" {
					fields = append(fields, "system_prompt", req.SystemPrompt)
				}
			}
			logger.DebugContext(ctx, "provider request started", fields...)

			start := time.Now()
			resp, err := next.Handle(ctx, req)
			duration := time.Since(start)

			if err != nil {
				errType := llmerrors.Classify(err)
				metrics.ObserveRequest(req.Provider, req.Model, req.Flow, errType, duration, transport.NormalizedUsage{})
				logger.WarnContext(ctx, "provider request failed",
					"trace_id", req.TraceID,
					"provider", req.Provider,
					"model", req.Model,
					"flow", req.Flow,
					"error_type", errType,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return nil, err
			}

			metrics.ObserveRequest(req.Provider, req.Model, req.Flow, "", duration, resp.Usage)
			logger.InfoContext(ctx, "provider request completed",
				"trace_id", req.TraceID,
				"provider", req.Provider,
				"model", req.Model,
				"flow", req.Flow,
				"finish_reason", resp.FinishReason,
				"prompt_tokens", resp.Usage.PromptTokens,
				"completion_tokens", resp.Usage.CompletionTokens,
				"provider_request_ids", resp.ProviderRequestIDs,
				"duration_ms", duration.Milliseconds())
			return resp, nil
		})
	}
}
