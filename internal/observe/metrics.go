// Package observe provides application-wide observability primitives for
// voxrelay: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxrelay metrics.
const meterName = "github.com/MrWong99/voxrelay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranslateDuration tracks translation latency per utterance.
	TranslateDuration metric.Float64Histogram

	// TTSDuration tracks synthesis plus playback time per utterance.
	TTSDuration metric.Float64Histogram

	// UtteranceDuration tracks the time from a final transcript arriving to
	// its translation finishing playback.
	UtteranceDuration metric.Float64Histogram

	// RelayBlockDuration tracks how long the capture callback was blocked
	// waiting for space in the audio relay.
	RelayBlockDuration metric.Float64Histogram

	// --- Counters ---

	// STTUtterances counts final transcripts. Use with attribute:
	//   attribute.String("provider", ...)
	STTUtterances metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// CorrectionDeletions counts words removed from transcripts.
	CorrectionDeletions metric.Int64Counter

	// CorrectionSkipped counts transcripts passed through uncorrected or only
	// partially corrected. Use with attribute:
	//   attribute.String("reason", ...)
	CorrectionSkipped metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks utterances waiting for translation.
	QueueDepth metric.Int64UpDownCounter

	// ActiveSessions tracks the number of running transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// blockBuckets covers relay backpressure waits, which are normally far below
// a millisecond.
var blockBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranslateDuration, err = m.Float64Histogram("voxrelay.translate.duration",
		metric.WithDescription("Latency of text translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxrelay.tts.duration",
		metric.WithDescription("Latency of speech synthesis including playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("voxrelay.utterance.duration",
		metric.WithDescription("Time from final transcript to spoken translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RelayBlockDuration, err = m.Float64Histogram("voxrelay.relay.block.duration",
		metric.WithDescription("Time the audio producer waited for relay space."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(blockBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.STTUtterances, err = m.Int64Counter("voxrelay.stt.utterances",
		metric.WithDescription("Total final transcripts by provider."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxrelay.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.CorrectionDeletions, err = m.Int64Counter("voxrelay.correction.deletions",
		metric.WithDescription("Total low-confidence words removed from transcripts."),
	); err != nil {
		return nil, err
	}
	if met.CorrectionSkipped, err = m.Int64Counter("voxrelay.correction.skipped",
		metric.WithDescription("Total transcripts not fully corrected, by reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxrelay.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("voxrelay.queue.depth",
		metric.WithDescription("Utterances waiting for translation."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxrelay.active_sessions",
		metric.WithDescription("Number of running transcription sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxrelay.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance counts one final transcript from provider.
func (m *Metrics) RecordUtterance(ctx context.Context, provider string) {
	m.STTUtterances.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordCorrection records the outcome of one transcript correction.
// reason is empty when every selected word was removed.
func (m *Metrics) RecordCorrection(ctx context.Context, deleted int, reason string) {
	if deleted > 0 {
		m.CorrectionDeletions.Add(ctx, int64(deleted))
	}
	if reason != "" {
		m.CorrectionSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// RecordRelayBlock records one backpressure wait. It has the signature of
// an audio relay block observer.
func (m *Metrics) RecordRelayBlock(d time.Duration) {
	m.RelayBlockDuration.Record(context.Background(), d.Seconds())
}
