// Package observe provides application-wide observability primitives
// for Backchannel: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A
// Prometheus exporter bridge is available via [InitProvider] so that
// metrics can still be scraped via the standard /metrics endpoint. A
// package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Backchannel
// metrics.
const meterName = "github.com/nvollmar/backchannel"

// Metrics holds all OpenTelemetry metric instruments for the
// application. All fields are safe for concurrent use — the underlying
// OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DecodeDuration tracks recognition latency per Accept call that ran
	// inference.
	DecodeDuration metric.Float64Histogram

	// ClassifyDuration tracks reaction-classifier latency, including
	// calls that ended in the fallback label.
	ClassifyDuration metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts inbound audio frames fed to recognition.
	FramesProcessed metric.Int64Counter

	// UtterancesFinalized counts finalized utterances that ran the
	// metrics-then-classify pipeline.
	UtterancesFinalized metric.Int64Counter

	// ClassifierFallbacks counts classifier calls resolved by the
	// fallback label (timeout, failure, or unknown response).
	ClassifierFallbacks metric.Int64Counter

	// SessionErrors counts session-level errors. Use with attribute:
	//   attribute.String("kind", ...) — "model_unavailable",
	//   "decode", "transport".
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live participant sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds)
// optimised for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the
// given [metric.MeterProvider]. Returns an error if any instrument
// creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DecodeDuration, err = m.Float64Histogram("backchannel.decode.duration",
		metric.WithDescription("Latency of speech recognition per inference call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("backchannel.classify.duration",
		metric.WithDescription("Latency of reaction classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("backchannel.frames.processed",
		metric.WithDescription("Total inbound audio frames fed to recognition."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesFinalized, err = m.Int64Counter("backchannel.utterances.finalized",
		metric.WithDescription("Total finalized utterances processed by the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierFallbacks, err = m.Int64Counter("backchannel.classifier.fallbacks",
		metric.WithDescription("Total classifier calls resolved by the fallback label."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("backchannel.session.errors",
		metric.WithDescription("Total session errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("backchannel.active_sessions",
		metric.WithDescription("Number of live participant sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("backchannel.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating
// it on first call using [otel.GetMeterProvider]. Subsequent calls
// return the same pointer. Panics if instrument creation fails (should
// not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce
// verbosity at call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionError records a session error counter increment with the
// standard kind attribute.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
