// Package observe provides application-wide observability primitives for
// easyvoice: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all easyvoice metrics.
const meterName = "github.com/MrWong99/easyvoice"

// Reasons used with [Metrics.RecordPacketDropped].
const (
	DropBackpressure = "backpressure"
	DropEmptyDecode  = "empty_decode"
	DropDecodeError  = "decode_error"
	DropEncodeError  = "encode_error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Outbound ---

	// PacketsEncoded counts packets emitted by the outbound pipeline.
	PacketsEncoded metric.Int64Counter

	// CompressedBytes counts compressed bytes emitted.
	CompressedBytes metric.Int64Counter

	// ClampedBytes counts PCM bytes discarded because a tick exceeded the
	// uncompressed size cap.
	ClampedBytes metric.Int64Counter

	// RemainderTruncatedBytes counts carry-over bytes discarded by the
	// remainder cap.
	RemainderTruncatedBytes metric.Int64Counter

	// TalkingTransitions counts talking edges. Use with attribute:
	//   attribute.String("edge", "start"|"stop")
	TalkingTransitions metric.Int64Counter

	// MicLevel is the most recent microphone level in [0, 1].
	MicLevel metric.Float64Gauge

	// TickDuration tracks the time spent in one outbound tick.
	TickDuration metric.Float64Histogram

	// --- Inbound ---

	// PacketsDecoded counts packets handed to a sink.
	PacketsDecoded metric.Int64Counter

	// PacketsDropped counts packets dropped on either path. Use with
	// attribute:
	//   attribute.String("reason", ...)
	PacketsDropped metric.Int64Counter

	// PlaybackReleases counts sinks stopped after running idle.
	PlaybackReleases metric.Int64Counter

	// ActiveSpeakers tracks remote speakers with a playback.
	ActiveSpeakers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// tickBuckets defines histogram bucket boundaries (in seconds) for work done
// inside a single tick.
var tickBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Outbound.
	if met.PacketsEncoded, err = m.Int64Counter("easyvoice.voice.packets_encoded",
		metric.WithDescription("Total packets produced by the outbound pipeline."),
	); err != nil {
		return nil, err
	}
	if met.CompressedBytes, err = m.Int64Counter("easyvoice.voice.compressed_bytes",
		metric.WithDescription("Total compressed bytes produced."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ClampedBytes, err = m.Int64Counter("easyvoice.voice.clamped_bytes",
		metric.WithDescription("PCM bytes discarded by the per-tick size cap."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.RemainderTruncatedBytes, err = m.Int64Counter("easyvoice.voice.remainder_truncated_bytes",
		metric.WithDescription("Carry-over PCM bytes discarded by the remainder cap."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TalkingTransitions, err = m.Int64Counter("easyvoice.voice.talking_transitions",
		metric.WithDescription("Talking start and stop edges."),
	); err != nil {
		return nil, err
	}
	if met.MicLevel, err = m.Float64Gauge("easyvoice.voice.mic_level",
		metric.WithDescription("Most recent microphone level."),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("easyvoice.voice.tick.duration",
		metric.WithDescription("Time spent in one outbound tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}

	// Inbound.
	if met.PacketsDecoded, err = m.Int64Counter("easyvoice.voice.packets_decoded",
		metric.WithDescription("Total packets decoded and queued for playback."),
	); err != nil {
		return nil, err
	}
	if met.PacketsDropped, err = m.Int64Counter("easyvoice.voice.packets_dropped",
		metric.WithDescription("Total packets dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackReleases, err = m.Int64Counter("easyvoice.voice.playback_releases",
		metric.WithDescription("Playback sinks stopped after running idle."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSpeakers, err = m.Int64UpDownCounter("easyvoice.voice.active_speakers",
		metric.WithDescription("Number of remote speakers with a playback."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("easyvoice.http.request.duration",
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

// RecordPacketEncoded records one outbound packet of size bytes.
func (m *Metrics) RecordPacketEncoded(ctx context.Context, size int) {
	m.PacketsEncoded.Add(ctx, 1)
	m.CompressedBytes.Add(ctx, int64(size))
}

// RecordTalkingEdge records a talking transition. edge is "start" or "stop".
func (m *Metrics) RecordTalkingEdge(ctx context.Context, edge string) {
	m.TalkingTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("edge", edge)),
	)
}

// RecordPacketDropped records a dropped packet with the given reason.
func (m *Metrics) RecordPacketDropped(ctx context.Context, reason string) {
	m.PacketsDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
