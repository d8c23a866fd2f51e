package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

const instrumentationName = "github.com/core-tools/hsu-sandbox"

// Instruments holds the tracer and metric instruments for executions.
type Instruments struct {
	tracer     trace.Tracer
	executions metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram
	cpuTime    metric.Float64Histogram
}

// NewInstruments binds to the global providers installed by Init.
func NewInstruments() *Instruments {
	return NewInstrumentsFrom(otel.GetTracerProvider(), otel.GetMeterProvider())
}

func NewInstrumentsFrom(tracerProvider trace.TracerProvider, meterProvider metric.MeterProvider) *Instruments {
	meter := meterProvider.Meter(instrumentationName)

	// Creation only fails on invalid names; a failed instrument stays nil and
	// is skipped when recording.
	executions, _ := meter.Int64Counter("sandbox.executions.total",
		metric.WithDescription("Completed sandboxed executions by violation"))
	failures, _ := meter.Int64Counter("sandbox.failures.total",
		metric.WithDescription("Executions that failed before producing a result, by error type"))
	duration, _ := meter.Float64Histogram("sandbox.execution.duration",
		metric.WithDescription("Wall clock duration of sandboxed executions in seconds"),
		metric.WithUnit("s"))
	cpuTime, _ := meter.Float64Histogram("sandbox.execution.cpu_time",
		metric.WithDescription("CPU time charged to sandboxed executions in seconds"),
		metric.WithUnit("s"))

	return &Instruments{
		tracer:     tracerProvider.Tracer(instrumentationName),
		executions: executions,
		failures:   failures,
		duration:   duration,
		cpuTime:    cpuTime,
	}
}

// StartExecution opens the span covering one execution.
func (i *Instruments) StartExecution(ctx context.Context, executionID, path string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "sandbox.execute", trace.WithAttributes(
		attribute.String("execution.id", executionID),
		attribute.String("execution.path", path),
	))
}

// ExecutionRecord carries what is measured about a finished execution.
type ExecutionRecord struct {
	PID       int
	ExitCode  int
	TimedOut  bool
	Violation resourcelimits.Violation
	WallClock time.Duration
	CPUTime   time.Duration
}

func (i *Instruments) RecordResult(ctx context.Context, span trace.Span, record ExecutionRecord) {
	attrs := []attribute.KeyValue{
		attribute.String("violation", record.Violation.String()),
		attribute.Bool("timed_out", record.TimedOut),
	}
	span.SetAttributes(append(attrs,
		attribute.Int("process.pid", record.PID),
		attribute.Int("process.exit_code", record.ExitCode),
		attribute.Float64("execution.cpu_time_seconds", record.CPUTime.Seconds()),
	)...)
	if record.TimedOut || record.Violation != resourcelimits.ViolationNone {
		span.SetStatus(codes.Error, "resource limit reached")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	set := metric.WithAttributes(attrs...)
	if i.executions != nil {
		i.executions.Add(ctx, 1, set)
	}
	if i.duration != nil {
		i.duration.Record(ctx, record.WallClock.Seconds(), set)
	}
	if i.cpuTime != nil {
		i.cpuTime.Record(ctx, record.CPUTime.Seconds(), set)
	}
}

func (i *Instruments) RecordFailure(ctx context.Context, span trace.Span, errorType string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, errorType)
	if i.failures != nil {
		i.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("error_type", errorType)))
	}
}
