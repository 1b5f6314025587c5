package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-promptflow/internal/config"
	"github.com/ahrav/go-promptflow/internal/flow"
	"github.com/ahrav/go-promptflow/internal/llm"
	"github.com/ahrav/go-promptflow/internal/llm/pricing"
	"github.com/ahrav/go-promptflow/internal/logging"
	"github.com/ahrav/go-promptflow/internal/metrics"
	"github.com/ahrav/go-promptflow/internal/worker"
)

const metricsShutdownTimeout = 5 * time.Second

func newWorkerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Serve the flows from a Temporal worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LLM.Observability.LogLevel, cfg.LLM.Observability.LogFormat)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg, logger)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prices := pricing.Default()
	if cfg.PricingFile != "" {
		if err := prices.LoadFile(cfg.PricingFile); err != nil {
			return err
		}
	}
	collector := metrics.New(reg, metrics.WithPricing(prices))

	llmClient, err := llm.NewClient(cfg.LLM, llm.WithLogger(logger), llm.WithMetrics(collector))
	if err != nil {
		return err
	}
	defer llmClient.Close()

	flows, err := catalogRegistry()
	if err != nil {
		return err
	}
	exec := flow.NewExecutor(llmClient, flow.WithLogger(logger), flow.WithMetrics(collector))

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to temporal: %w", err)
	}
	defer tc.Close()

	w := sdkworker.New(tc, cfg.Temporal.TaskQueue, sdkworker.Options{})
	worker.RegisterAll(w, worker.NewActivities(exec, flows))

	obs := cfg.LLM.Observability
	if obs.MetricsEnabled {
		srv := &http.Server{
			Addr:              obs.MetricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", obs.MetricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.InfoContext(ctx, "worker starting",
		"task_queue", cfg.Temporal.TaskQueue,
		"flows", flows.Names(),
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model)
	return w.Run(sdkworker.InterruptCh())
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newSubmitCmd(opts *options) *cobra.Command {
	in := &inputFlags{}
	cmd := &cobra.Command{
		Use:   "submit <flow>",
		Short: "Run a flow through the Temporal worker and wait for its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			input, err := in.read(cmd.InOrStdin())
			if err != nil {
				return err
			}

			tc, err := client.Dial(client.Options{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("failed to connect to temporal: %w", err)
			}
			defer tc.Close()

			run, err := tc.ExecuteWorkflow(cmd.Context(), client.StartWorkflowOptions{
				ID:        args[0] + "-" + uuid.NewString(),
				TaskQueue: cfg.Temporal.TaskQueue,
			}, worker.FlowWorkflow, worker.FlowRequest{Flow: args[0], Input: input})
			if err != nil {
				return fmt.Errorf("failed to start workflow: %w", err)
			}

			var out map[string]any
			if err := run.Get(cmd.Context(), &out); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	in.bind(cmd)
	return cmd
}
