package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_ExportsToWriter(t *testing.T) {
	previousTracer, previousMeter := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(previousTracer)
		otel.SetMeterProvider(previousMeter)
	})

	var out bytes.Buffer
	shutdown, err := Init(context.Background(), Config{Enabled: true, Writer: &out}, nil)
	require.NoError(t, err)

	instruments := NewInstruments()
	ctx, span := instruments.StartExecution(context.Background(), "exec-1", "/bin/true")
	instruments.RecordResult(ctx, span, ExecutionRecord{Violation: resourcelimits.ViolationNone, WallClock: time.Millisecond})
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), "sandbox.execute")
	assert.Contains(t, out.String(), "sandbox.executions.total")
	assert.Contains(t, out.String(), ServiceName)
}

func newTestInstruments(t *testing.T) (*Instruments, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return NewInstrumentsFrom(tracerProvider, meterProvider), recorder, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	require.FailNow(t, "metric not found", name)
	return metricdata.Metrics{}
}

func TestInstruments_RecordResult(t *testing.T) {
	instruments, recorder, reader := newTestInstruments(t)

	ctx, span := instruments.StartExecution(context.Background(), "exec-2", "/tmp/spin.sh")
	instruments.RecordResult(ctx, span, ExecutionRecord{
		PID:       4242,
		ExitCode:  -24,
		Violation: resourcelimits.ViolationCPULimit,
		WallClock: 1500 * time.Millisecond,
		CPUTime:   time.Second,
	})
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "sandbox.execute", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("violation", "cpu_limit"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("execution.id", "exec-2"))

	executions := findMetric(t, reader, "sandbox.executions.total")
	sum, ok := executions.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
	violation, _ := sum.DataPoints[0].Attributes.Value("violation")
	assert.Equal(t, "cpu_limit", violation.AsString())

	duration := findMetric(t, reader, "sandbox.execution.duration")
	histogram, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, histogram.DataPoints, 1)
	assert.InDelta(t, 1.5, histogram.DataPoints[0].Sum, 1e-9)
}

func TestInstruments_RecordFailure(t *testing.T) {
	instruments, recorder, reader := newTestInstruments(t)

	ctx, span := instruments.StartExecution(context.Background(), "exec-3", "/missing")
	instruments.RecordFailure(ctx, span, "not_found", fmt.Errorf("File not found"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "not_found", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)

	failures := findMetric(t, reader, "sandbox.failures.total")
	sum, ok := failures.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	errorType, _ := sum.DataPoints[0].Attributes.Value("error_type")
	assert.Equal(t, "not_found", errorType.AsString())
}
