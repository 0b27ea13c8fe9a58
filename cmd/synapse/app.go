package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petrijr/synapse/internal/agents"
	"github.com/petrijr/synapse/internal/config"
	"github.com/petrijr/synapse/internal/engine"
	"github.com/petrijr/synapse/internal/logging"
	"github.com/petrijr/synapse/internal/persistence"
	"github.com/petrijr/synapse/internal/telemetry"
	"github.com/petrijr/synapse/pkg/api"
)

// app holds the process-wide pieces built from the configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics *telemetry.MetricsObserver
	tracer  *telemetry.TracingObserver
	tp      *sdktrace.TracerProvider
}

func newApp(ctx context.Context, cfg *config.Config, opts *options) (*app, error) {
	logger, err := logging.New(cfg.Log, opts.stderr)
	if err != nil {
		return nil, &usageError{err: err}
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		a.metrics = telemetry.NewMetricsObserver()
	}

	if cfg.Tracing.Endpoint != "" {
		tp, err := telemetry.InitTracer(ctx, telemetry.OTelConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ExportEndpoint: cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
		})
		if err != nil {
			return nil, err
		}
		a.tp = tp
		a.tracer = telemetry.NewTracingObserver(tp)
		logger.Debug("span export enabled", slog.String("endpoint", cfg.Tracing.Endpoint))
	}
	return a, nil
}

// withProcessCollectors adds Go runtime and process metrics, which only make
// sense for a long-running server.
func (a *app) withProcessCollectors() {
	if a.metrics == nil {
		return
	}
	reg := a.metrics.Registry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func (a *app) openStore(ctx context.Context) (persistence.TraceStore, error) {
	store, err := persistence.Open(ctx, a.cfg.Store)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("trace store opened", slog.String("backend", string(a.cfg.Store.Backend)))
	return store, nil
}

func (a *app) observer() api.Observer {
	obs := []api.Observer{api.NewLoggingObserver(a.logger)}
	if a.metrics != nil {
		obs = append(obs, a.metrics)
	}
	if a.tracer != nil {
		obs = append(obs, a.tracer)
	}
	return api.NewCompositeObserver(obs...)
}

func (a *app) newEngine(graph *api.WorkflowGraph, store persistence.TraceWriter) (api.Engine, error) {
	policy := a.cfg.Engine.Retry.Policy()
	return engine.NewEngineWithConfig(engine.Config{
		Graph:       graph,
		Store:       store,
		Resolver:    agents.NewDefaultRegistry(a.logger),
		Observer:    a.observer(),
		RetryPolicy: &policy,
		MaxSteps:    a.cfg.Engine.MaxSteps,
	})
}

// shutdown flushes spans that are still batched.
func (a *app) shutdown(ctx context.Context) {
	if a.tp == nil {
		return
	}
	if err := a.tp.Shutdown(ctx); err != nil {
		a.logger.Warn("tracer shutdown failed", slog.Any("error", err))
	}
}
