package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/synapse/pkg/api"
)

// TracerName is the instrumentation scope of synapse spans.
const TracerName = "github.com/petrijr/synapse"

// OTelConfig configures span export over OTLP/HTTP.
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer installs a global tracer provider that batches spans to the
// configured collector. The caller must Shutdown the provider on exit.
func InitTracer(ctx context.Context, cfg OTelConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.ExportEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "synapse"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// TracingObserver emits one span per run with a child span per step
// attempt. Attempt spans are back-dated from the recorded duration so they
// line up with the trace store.
type TracingObserver struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]trace.Span
}

var _ api.Observer = (*TracingObserver)(nil)

// NewTracingObserver uses tp, or the global provider when tp is nil.
func NewTracingObserver(tp trace.TracerProvider) *TracingObserver {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingObserver{
		tracer: tp.Tracer(TracerName),
		runs:   make(map[string]trace.Span),
	}
}

func (o *TracingObserver) OnRunStart(ctx context.Context, run *api.Run) {
	_, span := o.tracer.Start(ctx, "run.execute",
		trace.WithTimestamp(run.StartedAt),
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("workflow.ref", run.WorkflowRef),
		),
	)
	o.mu.Lock()
	o.runs[run.ID] = span
	o.mu.Unlock()
}

func (o *TracingObserver) OnRunCompleted(ctx context.Context, run *api.Run, final api.Context) {
	if span := o.take(run.ID); span != nil {
		span.SetStatus(codes.Ok, "")
		span.End()
	}
}

func (o *TracingObserver) OnRunFailed(ctx context.Context, run *api.Run, err error) {
	if span := o.take(run.ID); span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
	}
}

func (o *TracingObserver) OnStepStart(ctx context.Context, run *api.Run, step api.StepName) {
	o.mu.Lock()
	span := o.runs[run.ID]
	o.mu.Unlock()
	if span != nil {
		span.AddEvent("step.start", trace.WithAttributes(attribute.String("step.name", string(step))))
	}
}

func (o *TracingObserver) OnStepAttempt(ctx context.Context, run *api.Run, attempt *api.StepAttempt) {
	o.mu.Lock()
	parent := o.runs[run.ID]
	o.mu.Unlock()
	if parent != nil {
		ctx = trace.ContextWithSpan(ctx, parent)
	}

	start := attempt.Timestamp.Add(-attempt.Duration)
	_, span := o.tracer.Start(ctx, "step.attempt",
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("step.name", string(attempt.StepName)),
			attribute.String("agent.id", attempt.AgentID),
			attribute.Int("step.attempt", attempt.Attempt),
			attribute.String("step.model", attempt.Model),
		),
	)
	if attempt.Error != nil {
		span.SetStatus(codes.Error, attempt.Error.Message)
		span.SetAttributes(attribute.String("error.message", attempt.Error.Message))
	}
	span.End(trace.WithTimestamp(attempt.Timestamp))
}

func (o *TracingObserver) take(runID string) trace.Span {
	o.mu.Lock()
	defer o.mu.Unlock()
	span := o.runs[runID]
	delete(o.runs, runID)
	return span
}
