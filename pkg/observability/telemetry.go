// Package observability wires OpenTelemetry tracing and metrics with
// pluggable backends. A nil exporter or reader disables the concern without
// touching call sites: instruments degrade to no-ops.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures the telemetry stack.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	TraceExporter   sdktrace.SpanExporter
	TraceSampleRate float64

	MetricReader sdkmetric.Reader

	Logger *slog.Logger
}

// Telemetry holds the configured providers and the service's instruments.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Metrics        *Metrics
	Logger         *slog.Logger

	shutdown []func(context.Context) error
}

// Init initializes OpenTelemetry with graceful degradation: a failed or
// absent backend logs and disables that concern rather than failing startup.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	tel := &Telemetry{Logger: cfg.Logger}

	if cfg.TraceExporter != nil {
		sampler := sdktrace.AlwaysSample()
		if cfg.TraceSampleRate <= 0 {
			sampler = sdktrace.NeverSample()
		} else if cfg.TraceSampleRate < 1.0 {
			sampler = sdktrace.TraceIDRatioBased(cfg.TraceSampleRate)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(cfg.TraceExporter),
			sdktrace.WithSampler(sampler),
		)
		tel.TracerProvider = tp
		tel.shutdown = append(tel.shutdown, tp.Shutdown)
		otel.SetTracerProvider(tp)
	} else {
		tel.TracerProvider = noop.NewTracerProvider()
		cfg.Logger.Info("tracing disabled, no exporter configured")
	}

	var meterProvider *sdkmetric.MeterProvider
	if cfg.MetricReader != nil {
		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(cfg.MetricReader),
		)
		tel.shutdown = append(tel.shutdown, meterProvider.Shutdown)
		otel.SetMeterProvider(meterProvider)
	} else {
		// A reader-less provider records nothing; instruments stay valid.
		meterProvider = sdkmetric.NewMeterProvider()
		cfg.Logger.Info("metrics disabled, no reader configured")
	}
	tel.MeterProvider = meterProvider

	metrics, err := NewMetrics(meterProvider.Meter("userd"))
	if err != nil {
		return nil, err
	}
	tel.Metrics = metrics

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tel, nil
}

// Shutdown flushes and stops the configured providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown: %v", errs)
	}
	return nil
}

// Tracer returns a tracer for the given instrumentation name.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	return t.TracerProvider.Tracer(name)
}
