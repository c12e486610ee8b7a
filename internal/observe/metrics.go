// Package observe provides the observability primitives shared by the
// server: OpenTelemetry metrics, tracing helpers, trace-aware logging and
// HTTP middleware that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed for
// scraping by the Prometheus exporter set up in [InitProvider]. Tests should
// use [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every goftar metric.
const meterName = "github.com/MrWong99/goftar"

// Pipeline stage names used as the "stage" attribute.
const (
	StageTranscode  = "transcode"
	StageTranscribe = "transcribe"
	StageCorrect    = "correct"
)

// Metrics holds the application's metric instruments. All fields are safe
// for concurrent use.
type Metrics struct {
	// StageDuration tracks per-stage pipeline latency. Attributes: stage,
	// status.
	StageDuration metric.Float64Histogram

	// Transcriptions counts finished pipeline runs. Attributes: mode,
	// status.
	Transcriptions metric.Int64Counter

	// Corrections counts correction outcomes by strategy actually used.
	Corrections metric.Int64Counter

	// ProviderErrors counts backend failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// AudioBytes records the size of uploaded audio.
	AudioBytes metric.Int64Histogram

	// LiveSessions tracks open /api/live connections.
	LiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP latency. Attributes: method, path,
	// status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Offline transcription
// of long uploads runs into tens of seconds.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("goftar.pipeline.stage.duration",
		metric.WithDescription("Latency of a transcription pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Transcriptions, err = m.Int64Counter("goftar.transcriptions",
		metric.WithDescription("Finished transcription requests by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("goftar.corrections",
		metric.WithDescription("Correction outcomes by strategy used."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("goftar.provider.errors",
		metric.WithDescription("Backend errors by provider and error kind."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Histogram("goftar.upload.size",
		metric.WithDescription("Size of uploaded audio."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(16<<10, 64<<10, 256<<10, 1<<20, 4<<20, 16<<20),
	); err != nil {
		return nil, err
	}
	if met.LiveSessions, err = m.Int64UpDownCounter("goftar.live.sessions",
		metric.WithDescription("Open live recognition sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("goftar.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on the global meter
// provider at first use. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status returns "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64, err error) {
	m.StageDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", Status(err)),
	))
}

// RecordTranscription counts a finished pipeline run.
func (m *Metrics) RecordTranscription(ctx context.Context, mode string, err error) {
	m.Transcriptions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", Status(err)),
	))
}

// RecordCorrection counts a correction outcome.
func (m *Metrics) RecordCorrection(ctx context.Context, strategy string) {
	m.Corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordProviderError counts a backend failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}
