// Package telemetry exports run and step activity as Prometheus metrics
// and OpenTelemetry spans. Both are wired in as api.Observer
// implementations.
package telemetry

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/petrijr/synapse/pkg/api"
)

// MetricsObserver records engine activity in its own Prometheus registry.
type MetricsObserver struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runsInFlight  prometheus.Gauge
	attemptsTotal *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
}

var _ api.Observer = (*MetricsObserver)(nil)

// NewMetricsObserver creates the collectors and registers them on a fresh
// registry.
func NewMetricsObserver() *MetricsObserver {
	m := &MetricsObserver{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synapse_runs_total",
				Help: "Finished workflow runs by outcome.",
			},
			[]string{"status"}, // completed | failed
		),
		runsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "synapse_runs_in_flight",
				Help: "Workflow runs currently executing.",
			},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synapse_step_attempts_total",
				Help: "Step attempts by step and outcome.",
			},
			[]string{"step", "status"}, // success | failure
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "synapse_step_duration_seconds",
				Help:    "Duration of step attempts in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step", "model"},
		),
	}
	m.registry.MustRegister(m.runsTotal, m.runsInFlight, m.attemptsTotal, m.stepDuration)
	return m
}

// Registry exposes the underlying registry, e.g. to add process collectors.
func (m *MetricsObserver) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsObserver) OnRunStart(ctx context.Context, run *api.Run) {
	m.runsInFlight.Inc()
}

func (m *MetricsObserver) OnRunCompleted(ctx context.Context, run *api.Run, final api.Context) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues("completed").Inc()
}

func (m *MetricsObserver) OnRunFailed(ctx context.Context, run *api.Run, err error) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues("failed").Inc()
}

func (m *MetricsObserver) OnStepStart(ctx context.Context, run *api.Run, step api.StepName) {}

func (m *MetricsObserver) OnStepAttempt(ctx context.Context, run *api.Run, attempt *api.StepAttempt) {
	status := "success"
	if !attempt.Succeeded() {
		status = "failure"
	}
	m.attemptsTotal.WithLabelValues(string(attempt.StepName), status).Inc()
	m.stepDuration.WithLabelValues(string(attempt.StepName), attempt.Model).Observe(attempt.Duration.Seconds())
}

// WritePrometheus writes every metric in the text exposition format.
func (m *MetricsObserver) WritePrometheus(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
