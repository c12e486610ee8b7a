package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Trace exporter names accepted by [ProviderConfig].
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

// ProviderConfig configures the OpenTelemetry SDK.
type ProviderConfig struct {
	// ServiceName is reported on every signal. Default: "goftar".
	ServiceName string

	// ServiceVersion is reported on every signal.
	ServiceVersion string

	// Environment is reported as deployment.environment.
	Environment string

	// TraceExporter selects where spans go: "none" (recorded, not
	// exported), "stdout" or "otlp". Default: "none".
	TraceExporter string

	// OTLPEndpoint is the collector's gRPC endpoint (host:port).
	OTLPEndpoint string

	// OTLPInsecure disables TLS towards the collector.
	OTLPInsecure bool

	// SpanExporter overrides TraceExporter. Tests use an in-memory exporter.
	SpanExporter sdktrace.SpanExporter
}

// Telemetry is an initialised SDK.
type Telemetry struct {
	// MetricsHandler serves the Prometheus scrape endpoint.
	MetricsHandler http.Handler

	// Metrics holds the application instruments registered on the SDK's
	// meter provider.
	Metrics *Metrics

	shutdown []func(context.Context) error
}

// Shutdown flushes and closes the exporters.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InitProvider sets up metrics through a Prometheus exporter on a private
// registry and traces through the configured exporter, and registers both
// as the global OpenTelemetry providers together with the W3C trace
// context propagator.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "goftar"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	// Schema-less attributes merge with the SDK's own detectors whatever
	// semconv version those were built against.
	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	exp := cfg.SpanExporter
	if exp == nil {
		if exp, err = newSpanExporter(ctx, cfg); err != nil {
			return nil, err
		}
	}

	tel := &Telemetry{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promExp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(promExp))
	otel.SetMeterProvider(mp)
	tel.shutdown = append(tel.shutdown, mp.Shutdown)
	tel.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

	if tel.Metrics, err = NewMetrics(mp); err != nil {
		return nil, fmt.Errorf("observe: create metrics: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exp != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tel.shutdown = append(tel.shutdown, tp.Shutdown)

	slog.Info("telemetry initialized", "service", cfg.ServiceName, "trace_exporter", exporterName(cfg))
	return tel, nil
}

func exporterName(cfg ProviderConfig) string {
	if cfg.SpanExporter != nil {
		return "custom"
	}
	if cfg.TraceExporter == "" {
		return TraceExporterNone
	}
	return cfg.TraceExporter
}

func newSpanExporter(ctx context.Context, cfg ProviderConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.TraceExporter)) {
	case "", TraceExporterNone:
		return nil, nil
	case TraceExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("observe: stdout exporter: %w", err)
		}
		return exp, nil
	case TraceExporterOTLP:
		if cfg.OTLPEndpoint == "" {
			return nil, errors.New("observe: otlp exporter needs an endpoint")
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("observe: otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("observe: unknown trace exporter %q", cfg.TraceExporter)
	}
}
