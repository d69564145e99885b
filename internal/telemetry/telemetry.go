// Package telemetry wires up the background job controller's metrics
// and tracing emission, generalizing the platform's otel/grpc
// instrumentation (already used by internal/daemon) onto the otel
// metrics and tracing SDKs.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewTracerProvider dials endpoint over gRPC and returns a tracer
// provider that batches spans to it, plus its shutdown func. Used to
// wrap a background job run in a span so its two passes and the
// janitor invocation show up as child spans of one trace.
func NewTracerProvider(ctx context.Context, endpoint, serviceVersion string) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: dial trace exporter: %w", err)
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", "dexopt"),
		attribute.String("service.version", serviceVersion),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, tp.Shutdown, nil
}

// NewMeterProvider returns an SDK-backed meter provider for the
// instruments below. It registers no reader of its own: a deployment
// attaches whatever reader (periodic OTLP push, pull-based scrape)
// matches its metrics backend by passing sdkmetric.Option values
// through opts.
func NewMeterProvider(opts ...sdkmetric.Option) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(opts...)
}

// JobStatus mirrors the background job controller's terminal status
// values.
type JobStatus string

const (
	JobFinished         JobStatus = "JOB_FINISHED"
	AbortByCancellation JobStatus = "ABORT_BY_CANCELLATION"
	AbortByAPI          JobStatus = "ABORT_BY_API"
	AbortNoSpaceLeft    JobStatus = "ABORT_NO_SPACE_LEFT"
	FatalError          JobStatus = "FATAL_ERROR"
)

// Metrics holds the background job controller's emitted instruments.
// A nil *Metrics is valid and every method on it is a no-op, so
// callers that run without telemetry wired in (tests, tools) don't
// need to special-case it.
type Metrics struct {
	jobStatus        metric.Int64Counter
	packagesDexopted metric.Int64Counter
	bcpDependent     metric.Int64Counter
	wallDuration     metric.Float64Histogram
}

// NewMetrics creates every instrument the background job controller
// emits, from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	jobStatus, err := meter.Int64Counter("dexopt.bgjob.runs",
		metric.WithDescription("Background dexopt job runs, by terminal status"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create dexopt.bgjob.runs: %w", err)
	}
	packagesDexopted, err := meter.Int64Counter("dexopt.bgjob.packages_dexopted",
		metric.WithDescription("Packages actually dexopted by a background job run"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create dexopt.bgjob.packages_dexopted: %w", err)
	}
	bcpDependent, err := meter.Int64Counter("dexopt.bgjob.boot_classpath_dependent_packages",
		metric.WithDescription("Dexopted packages whose compiled code depends on the boot classpath"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create dexopt.bgjob.boot_classpath_dependent_packages: %w", err)
	}
	wallDuration, err := meter.Float64Histogram("dexopt.bgjob.wall_duration_ms",
		metric.WithDescription("Wall-clock duration of a background dexopt job run"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create dexopt.bgjob.wall_duration_ms: %w", err)
	}
	return &Metrics{
		jobStatus:        jobStatus,
		packagesDexopted: packagesDexopted,
		bcpDependent:     bcpDependent,
		wallDuration:     wallDuration,
	}, nil
}

// RecordJobRun records one completed background job run: its terminal
// status, how many packages it actually dexopted, how many of those
// depended on the boot classpath, and its wall-clock duration.
func (m *Metrics) RecordJobRun(ctx context.Context, status JobStatus, packagesDexopted, bcpDependentPackages int64, wallDurationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	m.jobStatus.Add(ctx, 1, attrs)
	m.packagesDexopted.Add(ctx, packagesDexopted, attrs)
	m.bcpDependent.Add(ctx, bcpDependentPackages, attrs)
	m.wallDuration.Record(ctx, wallDurationMs, attrs)
}
