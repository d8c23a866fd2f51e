// Package telemetry wires OpenTelemetry tracing and metrics for sandboxed
// executions. Exporters write to a stream (stderr by default); without Init
// the global no-op providers are used and instruments cost nothing.
package telemetry

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"

	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/logging"
)

const (
	ServiceName    = "hsu-sandbox"
	ServiceVersion = "0.1.0"
)

type Config struct {
	Enabled     bool      `yaml:"enabled"`
	PrettyPrint bool      `yaml:"pretty_print"`
	Writer      io.Writer `yaml:"-"`
}

type Shutdown func(context.Context) error

// Init installs global tracer and meter providers. The returned Shutdown
// flushes both exporters and must be called before exit.
func Init(ctx context.Context, config Config, logger logging.Logger) (Shutdown, error) {
	if !config.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	writer := config.Writer
	if writer == nil {
		writer = os.Stderr
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", ServiceVersion),
		),
	)
	if err != nil {
		return nil, errors.NewInternalError("failed to create telemetry resource", err)
	}

	tracerProvider, err := newTracerProvider(res, writer, config.PrettyPrint)
	if err != nil {
		return nil, errors.NewInternalError("failed to initialize tracer", err)
	}
	meterProvider, err := newMeterProvider(res, writer, config.PrettyPrint)
	if err != nil {
		return nil, multierr.Append(
			errors.NewInternalError("failed to initialize meter", err),
			tracerProvider.Shutdown(ctx))
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	logger.Debugf("OpenTelemetry initialized, service: %s", ServiceName)

	return func(ctx context.Context) error {
		return multierr.Combine(
			tracerProvider.Shutdown(ctx),
			meterProvider.Shutdown(ctx),
		)
	}, nil
}

func newTracerProvider(res *resource.Resource, writer io.Writer, pretty bool) (*sdktrace.TracerProvider, error) {
	opts := []stdouttrace.Option{stdouttrace.WithWriter(writer)}
	if pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}
	// Synchronous export: a CLI run is one span and exits right after.
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

func newMeterProvider(res *resource.Resource, writer io.Writer, pretty bool) (*sdkmetric.MeterProvider, error) {
	opts := []stdoutmetric.Option{stdoutmetric.WithWriter(writer)}
	if pretty {
		opts = append(opts, stdoutmetric.WithPrettyPrint())
	}
	exporter, err := stdoutmetric.New(opts...)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	), nil
}
