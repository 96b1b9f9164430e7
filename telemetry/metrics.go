// Package telemetry records OpenTelemetry metrics for artifact retrieval and
// exposes them over Prometheus and/or OTLP.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/artifact-fetcher"
)

// durationBuckets covers anything from a local mirror read to a slow
// multi-hundred-megabyte proving key transfer.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120, 300}

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus handler.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	fetchTotal        metric.Int64Counter
	fetchDuration     metric.Float64Histogram
	fetchBytesTotal   metric.Int64Counter
	sessionInitTotal  metric.Int64Counter
	sessionInitDur    metric.Float64Histogram
	variantTotal      metric.Int64Counter
	variantDuration   metric.Float64Histogram
	gatewayTotal      metric.Int64Counter
	gatewayDuration   metric.Float64Histogram
	gatewayBytesTotal metric.Int64Counter
	backendOpsTotal   metric.Int64Counter
	backendOpDuration metric.Float64Histogram
	backendBytesTotal metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "artifact-fetcher"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// Keep collecting even with no exporter so instruments stay valid.
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp)
	if err != nil {
		return err
	}
	m.promHandler = promHandler
	globalMetrics = m
	return nil
}

func newMetrics(mp *sdkmetric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{meterProvider: mp}

	var err error
	if m.fetchTotal, err = meter.Int64Counter(
		"artifact_fetcher_fetch_total",
		metric.WithDescription("Total number of artifact fetches"),
		metric.WithUnit("{fetch}"),
	); err != nil {
		return nil, err
	}
	if m.fetchDuration, err = meter.Float64Histogram(
		"artifact_fetcher_fetch_duration_seconds",
		metric.WithDescription("Duration of artifact fetches"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.fetchBytesTotal, err = meter.Int64Counter(
		"artifact_fetcher_fetch_bytes_total",
		metric.WithDescription("Total artifact bytes received"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.sessionInitTotal, err = meter.Int64Counter(
		"artifact_fetcher_session_init_total",
		metric.WithDescription("Total number of store session creation attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.sessionInitDur, err = meter.Float64Histogram(
		"artifact_fetcher_session_init_duration_seconds",
		metric.WithDescription("Duration of store session creation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.variantTotal, err = meter.Int64Counter(
		"artifact_fetcher_variant_downloads_total",
		metric.WithDescription("Total number of variant downloads"),
		metric.WithUnit("{download}"),
	); err != nil {
		return nil, err
	}
	if m.variantDuration, err = meter.Float64Histogram(
		"artifact_fetcher_variant_download_duration_seconds",
		metric.WithDescription("Duration of variant downloads"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.gatewayTotal, err = meter.Int64Counter(
		"artifact_fetcher_gateway_request_total",
		metric.WithDescription("Total number of gateway HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.gatewayDuration, err = meter.Float64Histogram(
		"artifact_fetcher_gateway_request_duration_seconds",
		metric.WithDescription("Duration of gateway HTTP requests including body transfer"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.gatewayBytesTotal, err = meter.Int64Counter(
		"artifact_fetcher_gateway_request_bytes_total",
		metric.WithDescription("Total bytes read from gateway responses"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.backendOpsTotal, err = meter.Int64Counter(
		"artifact_fetcher_backend_operations_total",
		metric.WithDescription("Total number of local backend operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}
	if m.backendOpDuration, err = meter.Float64Histogram(
		"artifact_fetcher_backend_operation_duration_seconds",
		metric.WithDescription("Duration of local backend operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if m.backendBytesTotal, err = meter.Int64Counter(
		"artifact_fetcher_backend_bytes_total",
		metric.WithDescription("Total bytes moved through local backends"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordFetch records a single artifact fetch.
// outcome is "success", "not_found", "canceled" or "error".
func RecordFetch(ctx context.Context, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	globalMetrics.fetchTotal.Add(ctx, 1, attrs)
	globalMetrics.fetchDuration.Record(ctx, duration.Seconds(), attrs)
	if bytesRead > 0 {
		globalMetrics.fetchBytesTotal.Add(ctx, bytesRead, attrs)
	}
}

// RecordSessionInit records a store session creation attempt.
func RecordSessionInit(ctx context.Context, duration time.Duration, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	globalMetrics.sessionInitTotal.Add(ctx, 1, attrs)
	globalMetrics.sessionInitDur.Record(ctx, duration.Seconds(), attrs)
}

// RecordVariantDownload records a variant download.
// outcome is "success", "incomplete", "canceled" or "error".
func RecordVariantDownload(ctx context.Context, duration time.Duration, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	globalMetrics.variantTotal.Add(ctx, 1, attrs)
	globalMetrics.variantDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordGatewayRequest records a gateway HTTP request.
func RecordGatewayRequest(ctx context.Context, host string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("host", host),
		attribute.String("outcome", outcome),
	)
	globalMetrics.gatewayDuration.Record(ctx, duration.Seconds(), attrs)
	globalMetrics.gatewayTotal.Add(ctx, 1, attrs)
	if bytesRead > 0 {
		globalMetrics.gatewayBytesTotal.Add(ctx, bytesRead, attrs)
	}
}

// RecordBackendOp records an operation against a local backend.
// backend names the role ("mirror", "output"); op is "read", "write", "delete" or "exists".
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	globalMetrics.backendOpsTotal.Add(ctx, 1, attrs)
	globalMetrics.backendOpDuration.Record(ctx, duration.Seconds(), attrs)
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, attrs)
	}
}

// PrometheusHandler returns an HTTP handler serving the Prometheus registry,
// or 404 when Prometheus export is not enabled.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
