// Package telemetry initializes OpenTelemetry tracing and metrics exporters.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown combines multiple shutdown functions.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry tracer and meter providers.
// If endpoint is empty, OTEL is disabled and no-op providers are used.
// Returns a shutdown function that must be called during graceful shutdown.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	// Trace exporter.
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Register W3C Trace Context and Baggage propagators.
	// This enables automatic extraction of incoming traceparent/tracestate/baggage
	// headers and injection into outgoing requests (e.g., embedding API calls).
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	// Metric exporter.
	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(endpoint),
	}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(15*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// StatSource supplies the live counters Metrics exposes. internal/index.Index
// satisfies this with its own segment-set and delete-map sizes.
type StatSource interface {
	SealedSegmentCount() int
	GrowingSegmentCount() int
	DeleteMapSize() int
	WALPendingBytes() int64
}

// Metrics registers the engine's observable gauges against an OTEL meter
// and, side by side, a Prometheus registry for hosts that scrape instead of
// push — mirroring how the pack's bench harness uses hdrhistogram and the
// Prometheus client together rather than picking one.
type Metrics struct {
	registry *prometheus.Registry
}

// Registry returns the Prometheus registry callers can mount at /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// NewMetrics registers sealed/growing segment counts, delete-map size, and
// WAL pending bytes as OTEL observable gauges (read from src on every
// collection) and equivalent Prometheus GaugeFuncs.
func NewMetrics(meter metric.Meter, src StatSource) (*Metrics, error) {
	sealedGauge, err := meter.Int64ObservableGauge("vecindex.sealed_segments",
		metric.WithDescription("current number of sealed segments"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: sealed gauge: %w", err)
	}
	growingGauge, err := meter.Int64ObservableGauge("vecindex.growing_segments",
		metric.WithDescription("current number of growing segments"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: growing gauge: %w", err)
	}
	deleteMapGauge, err := meter.Int64ObservableGauge("vecindex.delete_map_size",
		metric.WithDescription("current number of tombstoned pointers"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: delete map gauge: %w", err)
	}
	walGauge, err := meter.Int64ObservableGauge("vecindex.wal_pending_bytes",
		metric.WithDescription("bytes appended to the write segment's WAL since it was last rotated"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: wal gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(sealedGauge, int64(src.SealedSegmentCount()))
		o.ObserveInt64(growingGauge, int64(src.GrowingSegmentCount()))
		o.ObserveInt64(deleteMapGauge, int64(src.DeleteMapSize()))
		o.ObserveInt64(walGauge, src.WALPendingBytes())
		return nil
	}, sealedGauge, growingGauge, deleteMapGauge, walGauge)
	if err != nil {
		return nil, fmt.Errorf("telemetry: register callback: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "vecindex_sealed_segments",
			Help: "current number of sealed segments",
		}, func() float64 { return float64(src.SealedSegmentCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "vecindex_growing_segments",
			Help: "current number of growing segments",
		}, func() float64 { return float64(src.GrowingSegmentCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "vecindex_delete_map_size",
			Help: "current number of tombstoned pointers",
		}, func() float64 { return float64(src.DeleteMapSize()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "vecindex_wal_pending_bytes",
			Help: "bytes appended to the write segment's WAL since it was last rotated",
		}, func() float64 { return float64(src.WALPendingBytes()) }),
	)

	return &Metrics{registry: registry}, nil
}
