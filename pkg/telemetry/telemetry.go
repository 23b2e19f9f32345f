// Package telemetry wires up Prometheus + OpenTelemetry exporters used across
// the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"guest-dns/pkg/config"
	"guest-dns/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName names the meter and tracer used by every component
const InstrumentationName = "guest-dns"

// Telemetry holds telemetry providers and exporters
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds all application metrics
type Metrics struct {
	// Query intake
	QueriesReceived metric.Int64Counter
	QueriesRejected metric.Int64Counter

	// Per-question resolution
	Questions      metric.Int64Counter
	LookupDuration metric.Float64Histogram

	// Responses
	ResponsesQueued  metric.Int64Counter
	ResponsesDropped metric.Int64Counter

	// Lifecycle
	Outstanding  metric.Int64UpDownCounter
	HostsEntries metric.Int64Gauge

	// Journal
	JournalQueriesDropped metric.Int64Counter
}

// New creates a new telemetry instance
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{
		cfg:    cfg,
		logger: logger,
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	if cfg.TracingEnabled {
		t.setupTracing(res)
	} else {
		t.tracerProvider = tracenoop.NewTracerProvider()
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
		"tracing", cfg.TracingEnabled,
	)

	return t, nil
}

// setupMetrics initializes the metrics provider
func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	t.startPrometheusServer()

	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

// setupTracing installs an in-process SDK tracer provider. Spans are sampled
// and ended but not exported until an exporter is registered.
func (t *Telemetry) setupTracing(res *resource.Resource) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	t.tracerProvider = tp
	otel.SetTracerProvider(tp)

	t.logger.Info("Tracing enabled")
}

// startPrometheusServer starts the Prometheus metrics HTTP server
func (t *Telemetry) startPrometheusServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()
}

// InitMetrics initializes and returns all application metrics
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	return NewMetrics(t.meterProvider)
}

// NewMetrics creates every instrument on the given provider
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(InstrumentationName)

	queriesReceived, err := meter.Int64Counter(
		"dns.queries.received",
		metric.WithDescription("Total number of DNS queries handed to the server"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries received counter: %w", err)
	}

	queriesRejected, err := meter.Int64Counter(
		"dns.queries.rejected",
		metric.WithDescription("DNS queries dropped before dispatch, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries rejected counter: %w", err)
	}

	questions, err := meter.Int64Counter(
		"dns.questions",
		metric.WithDescription("Resolved questions by source and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create questions counter: %w", err)
	}

	lookupDuration, err := meter.Float64Histogram(
		"resolver.lookup.duration",
		metric.WithDescription("Host resolver lookup duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup duration histogram: %w", err)
	}

	responsesQueued, err := meter.Int64Counter(
		"dns.responses.queued",
		metric.WithDescription("Responses pushed to the output queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create responses queued counter: %w", err)
	}

	responsesDropped, err := meter.Int64Counter(
		"dns.responses.dropped",
		metric.WithDescription("Finalized responses that were never delivered, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create responses dropped counter: %w", err)
	}

	outstanding, err := meter.Int64UpDownCounter(
		"dns.operations.outstanding",
		metric.WithDescription("Queries accepted whose response has not been consumed or dropped"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outstanding gauge: %w", err)
	}

	hostsEntries, err := meter.Int64Gauge(
		"hosts.entries",
		metric.WithDescription("Number of active host overrides"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create hosts entries gauge: %w", err)
	}

	journalDropped, err := meter.Int64Counter(
		"journal.queries.dropped",
		metric.WithDescription("Number of journal entries dropped due to full buffer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal dropped counter: %w", err)
	}

	return &Metrics{
		QueriesReceived:       queriesReceived,
		QueriesRejected:       queriesRejected,
		Questions:             questions,
		LookupDuration:        lookupDuration,
		ResponsesQueued:       responsesQueued,
		ResponsesDropped:      responsesDropped,
		Outstanding:           outstanding,
		HostsEntries:          hostsEntries,
		JournalQueriesDropped: journalDropped,
	}, nil
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// TracerProvider returns the tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// Tracer returns the tracer used for per-query spans
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracerProvider.Tracer(InstrumentationName)
}

// AddDroppedQuery implements storage.MetricsRecorder interface
// This allows Metrics to be passed to storage without creating import cycles
func (m *Metrics) AddDroppedQuery(ctx context.Context, count int64) {
	if m != nil && m.JournalQueriesDropped != nil {
		m.JournalQueriesDropped.Add(ctx, count)
	}
}

// RecordHostsEntries records the size of the override table after a reload
func (m *Metrics) RecordHostsEntries(ctx context.Context, n int) {
	if m != nil && m.HostsEntries != nil {
		m.HostsEntries.Record(ctx, int64(n))
	}
}

// Shutdown gracefully shuts down telemetry
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if provider, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	t.logger.Info("Telemetry shut down")
	return nil
}
