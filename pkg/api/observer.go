package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the execution engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay the run.
type Observer interface {
	// OnRunStart is called once after the run header has been recorded,
	// before the first step is executed.
	OnRunStart(ctx context.Context, run *Run)

	// OnRunCompleted is called when the run reached a terminal step.
	OnRunCompleted(ctx context.Context, run *Run, final Context)

	// OnRunFailed is called when the run ends with an error.
	OnRunFailed(ctx context.Context, run *Run, err error)

	// OnStepStart is called before the first attempt of a step.
	OnStepStart(ctx context.Context, run *Run, step StepName)

	// OnStepAttempt is called after every attempt of a step, for both
	// successes and failures (attempt.Error != nil).
	OnStepAttempt(ctx context.Context, run *Run, attempt *StepAttempt)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *Run)                    {}
func (NoopObserver) OnRunCompleted(ctx context.Context, run *Run, final Context) {}
func (NoopObserver) OnRunFailed(ctx context.Context, run *Run, err error)        {}
func (NoopObserver) OnStepStart(ctx context.Context, run *Run, step StepName)    {}
func (NoopObserver) OnStepAttempt(ctx context.Context, run *Run, attempt *StepAttempt) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *Run) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run *Run, final Context) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run, final)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, run *Run, step StepName) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, run, step)
	}
}

func (c *CompositeObserver) OnStepAttempt(ctx context.Context, run *Run, attempt *StepAttempt) {
	for _, o := range c.observers {
		o.OnStepAttempt(ctx, run, attempt)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *Run) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("workflow", run.WorkflowRef),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run *Run, final Context) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("workflow", run.WorkflowRef),
		slog.String("run_id", run.ID),
		slog.Int("context_keys", len(final)),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *Run, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("workflow", run.WorkflowRef),
		slog.String("run_id", run.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, run *Run, step StepName) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("run_id", run.ID),
		slog.String("step", string(step)),
	)
}

func (o *LoggingObserver) OnStepAttempt(ctx context.Context, run *Run, attempt *StepAttempt) {
	level := slog.LevelDebug
	attrs := []any{
		slog.String("run_id", run.ID),
		slog.String("step", string(attempt.StepName)),
		slog.Int("attempt", attempt.Attempt),
		slog.String("model", attempt.Model),
		slog.Duration("duration", attempt.Duration),
	}
	if attempt.Error != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", attempt.Error.Message))
	}
	o.Logger.Log(ctx, level, "step_attempt", attrs...)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	attempts          atomic.Int64
	failedAttempts    atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds, successful attempts only
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsInFlight  int64

	Attempts        int64
	FailedAttempts  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *Run) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, run *Run, final Context) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *Run, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnStepAttempt(ctx context.Context, run *Run, attempt *StepAttempt) {
	m.attempts.Add(1)
	if attempt.Error != nil {
		m.failedAttempts.Add(1)
		return
	}
	m.totalStepDuration.Add(attempt.Duration.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	attempts := m.attempts.Load()
	failedAttempts := m.failedAttempts.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if ok := attempts - failedAttempts; ok > 0 {
		avg = time.Duration(totalNs / ok)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		RunsInFlight:    started - completed - failed,
		Attempts:        attempts,
		FailedAttempts:  failedAttempts,
		AvgStepDuration: avg,
	}
}
