// Package observe provides application-wide observability primitives for
// sofi: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served by the health
// server at /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all sofi metrics.
const meterName = "github.com/MrWong99/sofi"

// Fragment outcomes recorded by [Metrics.RecordFragment].
const (
	FragmentAdmitted = "admitted"
	FragmentRejected = "rejected"
	FragmentNoSpeech = "no_speech"
	FragmentFailed   = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms ---

	// STTDuration tracks transcription latency per provider.
	STTDuration metric.Float64Histogram

	// DeliveryDuration tracks how long the text sink takes per utterance.
	DeliveryDuration metric.Float64Histogram

	// TTSDuration tracks synthesis plus playback of a spoken reply.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// SamplesEnqueued counts audio samples pushed onto the channel.
	SamplesEnqueued metric.Int64Counter

	// Fragments counts transcripts by outcome. Use with attribute:
	//   attribute.String("outcome", ...)
	Fragments metric.Int64Counter

	// Flushes counts accumulator flushes. Use with attribute:
	//   attribute.String("reason", ...)
	Flushes metric.Int64Counter

	// WakeActivations counts INACTIVE to ACTIVE transitions of the gate.
	WakeActivations metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription and sink round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("sofi.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DeliveryDuration, err = m.Float64Histogram("sofi.sink.duration",
		metric.WithDescription("Latency of delivering an utterance to the text sink."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("sofi.tts.duration",
		metric.WithDescription("Latency of synthesising and playing a spoken reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SamplesEnqueued, err = m.Int64Counter("sofi.audio.samples",
		metric.WithDescription("Total audio samples enqueued for recognition."),
	); err != nil {
		return nil, err
	}
	if met.Fragments, err = m.Int64Counter("sofi.fragments",
		metric.WithDescription("Total transcripts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Flushes, err = m.Int64Counter("sofi.flushes",
		metric.WithDescription("Total buffer flushes by reason."),
	); err != nil {
		return nil, err
	}
	if met.WakeActivations, err = m.Int64Counter("sofi.wake.activations",
		metric.WithDescription("Total wake-word activations."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("sofi.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("sofi.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sofi.http.request.duration",
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
//
// Call it after [InitProvider]; instruments created earlier are bound to the
// provider that was global at that time.
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

// ObserveQueueDepth registers an asynchronous gauge reporting fn's value on
// every collection.
func (m *Metrics) ObserveQueueDepth(fn func() int) error {
	_, err := m.meter.Int64ObservableGauge("sofi.queue.depth",
		metric.WithDescription("Audio samples waiting for transcription."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(fn()))
			return nil
		}),
	)
	return err
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
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

// RecordFragment counts one transcript with the given outcome.
func (m *Metrics) RecordFragment(ctx context.Context, outcome string) {
	m.Fragments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordFlush counts one flush with the given reason.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.Flushes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordWakeActivation counts one gate activation.
func (m *Metrics) RecordWakeActivation(ctx context.Context) {
	m.WakeActivations.Add(ctx, 1)
}
