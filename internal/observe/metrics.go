// Package observe provides application-wide observability primitives for
// micpipe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all micpipe metrics.
const meterName = "github.com/MrWong99/micpipe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture pipeline counters ---

	// FramesRead counts frames delivered by ReadFrame.
	FramesRead metric.Int64Counter

	// FeedChunks counts chunks handed to the front-end engine.
	FeedChunks metric.Int64Counter

	// DeviceReadErrors counts failed hardware reads (retried).
	DeviceReadErrors metric.Int64Counter

	// EngineFeedErrors counts fatal engine feed failures.
	EngineFeedErrors metric.Int64Counter

	// EngineFetchErrors counts failed engine fetches (retried).
	EngineFetchErrors metric.Int64Counter

	// InvariantViolations counts dropped data that broke a size invariant.
	// Use with attribute:
	//   attribute.String("kind", "fetch_size"|"read_size")
	InvariantViolations metric.Int64Counter

	// EncoderPackets counts encoded packets emitted by a capture session.
	// Use with attribute:
	//   attribute.String("codec", ...)
	EncoderPackets metric.Int64Counter

	// --- Latency histograms ---

	// ReadFrameDuration tracks how long ReadFrame blocked waiting for audio.
	ReadFrameDuration metric.Float64Histogram

	// --- Gauges ---

	// LimiterGain records the peak limiter's gain after each fed chunk.
	LimiterGain metric.Float64Gauge

	// ActiveCaptures tracks the number of started capture runs.
	ActiveCaptures metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// readBuckets defines histogram bucket boundaries (in seconds) around the
// 10 ms frame cadence.
var readBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesRead, err = m.Int64Counter("micpipe.frames.read",
		metric.WithDescription("Total frames delivered to the capture session."),
	); err != nil {
		return nil, err
	}
	if met.FeedChunks, err = m.Int64Counter("micpipe.feed.chunks",
		metric.WithDescription("Total chunks fed to the audio front-end engine."),
	); err != nil {
		return nil, err
	}
	if met.DeviceReadErrors, err = m.Int64Counter("micpipe.device.read_errors",
		metric.WithDescription("Total failed capture device reads."),
	); err != nil {
		return nil, err
	}
	if met.EngineFeedErrors, err = m.Int64Counter("micpipe.engine.feed_errors",
		metric.WithDescription("Total audio front-end engine feed failures."),
	); err != nil {
		return nil, err
	}
	if met.EngineFetchErrors, err = m.Int64Counter("micpipe.engine.fetch_errors",
		metric.WithDescription("Total audio front-end engine fetch failures."),
	); err != nil {
		return nil, err
	}
	if met.InvariantViolations, err = m.Int64Counter("micpipe.invariant.violations",
		metric.WithDescription("Total pipeline size invariant violations by kind."),
	); err != nil {
		return nil, err
	}
	if met.EncoderPackets, err = m.Int64Counter("micpipe.encoder.packets",
		metric.WithDescription("Total packets emitted by the capture session by codec."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ReadFrameDuration, err = m.Float64Histogram("micpipe.read_frame.duration",
		metric.WithDescription("Time ReadFrame blocked waiting for audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(readBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.LimiterGain, err = m.Float64Gauge("micpipe.limiter.gain",
		metric.WithDescription("Peak limiter gain after the most recent chunk."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("micpipe.active_captures",
		metric.WithDescription("Number of started capture runs."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("micpipe.http.request.duration",
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

// RecordInvariantViolation records an invariant violation of the given kind.
func (m *Metrics) RecordInvariantViolation(ctx context.Context, kind string) {
	m.InvariantViolations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordEncoderPacket records one emitted packet for codec.
func (m *Metrics) RecordEncoderPacket(ctx context.Context, codec string) {
	m.EncoderPackets.Add(ctx, 1, metric.WithAttributes(attribute.String("codec", codec)))
}
