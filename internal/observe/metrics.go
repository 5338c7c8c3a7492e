// Package observe provides application-wide observability primitives for
// voxgate: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxgate metrics.
const meterName = "github.com/MrWong99/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use. The underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GateDuration tracks how long each gate of the pipeline takes. Use with
	// attributes:
	//   attribute.String("gate", ...), attribute.String("status", ...)
	GateDuration metric.Float64Histogram

	// SegmentSpeech tracks the speech length of sealed segments.
	SegmentSpeech metric.Float64Histogram

	// --- Counters ---

	// SegmentVerdicts counts gate pipeline verdicts. Use with attributes:
	//   attribute.String("scenario", ...), attribute.String("verdict", ...),
	//   attribute.String("reason", ...)
	SegmentVerdicts metric.Int64Counter

	// CollaboratorRequests counts collaborator calls. Use with attributes:
	//   attribute.String("collaborator", ...), attribute.String("kind", ...), attribute.String("status", ...)
	CollaboratorRequests metric.Int64Counter

	// ChunksCaptured counts PCM chunks published by the audio source.
	ChunksCaptured metric.Int64Counter

	// SessionsCompleted counts recorder sessions by recorder and outcome.
	SessionsCompleted metric.Int64Counter

	// --- Error counters ---

	// CollaboratorErrors counts collaborator failures. Use with attributes:
	//   attribute.String("collaborator", ...), attribute.String("kind", ...)
	CollaboratorErrors metric.Int64Counter

	// ChunksDropped counts chunks discarded because the consumer fell behind.
	ChunksDropped metric.Int64Counter

	// DeviceOverruns counts input overflows reported by the capture device.
	DeviceOverruns metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running recorder sessions. Use with
	// attribute:
	//   attribute.String("recorder", ...)
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration is the ops server latency, recorded by [Middleware]
	// with method, route and status attributes.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for gate
// latencies, from local energy analysis to remote model inference.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// speechBuckets defines histogram bucket boundaries (in seconds) for the
// speech length of sealed segments.
var speechBuckets = []float64{
	0.5, 0.7, 1, 1.5, 2, 3, 5, 8, 12,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GateDuration, err = m.Float64Histogram("voxgate.gate.duration",
		metric.WithDescription("Latency of a single gate of the segment pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentSpeech, err = m.Float64Histogram("voxgate.segment.speech",
		metric.WithDescription("Speech length of sealed segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(speechBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentVerdicts, err = m.Int64Counter("voxgate.segment.verdicts",
		metric.WithDescription("Total gate pipeline verdicts by scenario, verdict, and reason."),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorRequests, err = m.Int64Counter("voxgate.collaborator.requests",
		metric.WithDescription("Total collaborator calls by collaborator, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ChunksCaptured, err = m.Int64Counter("voxgate.audio.chunks",
		metric.WithDescription("Total PCM chunks published by the audio source."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCompleted, err = m.Int64Counter("voxgate.sessions.completed",
		metric.WithDescription("Total recorder sessions by recorder and outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CollaboratorErrors, err = m.Int64Counter("voxgate.collaborator.errors",
		metric.WithDescription("Total collaborator errors by collaborator and kind."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("voxgate.audio.chunks_dropped",
		metric.WithDescription("Total chunks discarded because the consumer fell behind."),
	); err != nil {
		return nil, err
	}
	if met.DeviceOverruns, err = m.Int64Counter("voxgate.audio.overruns",
		metric.WithDescription("Total input overflows reported by the capture device."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.active_sessions",
		metric.WithDescription("Number of running recorder sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
		metric.WithDescription("Ops server request latency by method, route and status."),
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

// RecordGate records the latency and outcome of one gate.
func (m *Metrics) RecordGate(ctx context.Context, gate, status string, d time.Duration) {
	m.GateDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("gate", gate),
			attribute.String("status", status),
		),
	)
}

// RecordVerdict records a pipeline verdict. reason is empty for accepted
// segments.
func (m *Metrics) RecordVerdict(ctx context.Context, scenario, verdict, reason string) {
	m.SegmentVerdicts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("scenario", scenario),
			attribute.String("verdict", verdict),
			attribute.String("reason", reason),
		),
	)
}

// RecordCollaboratorRequest is a convenience method that records a
// collaborator call with the standard attribute set.
func (m *Metrics) RecordCollaboratorRequest(ctx context.Context, collaborator, kind, status string) {
	m.CollaboratorRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("collaborator", collaborator),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordCollaboratorError is a convenience method that records a
// collaborator error counter increment.
func (m *Metrics) RecordCollaboratorError(ctx context.Context, collaborator, kind string) {
	m.CollaboratorErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("collaborator", collaborator),
			attribute.String("kind", kind),
		),
	)
}

// RecordSession records the end of a recorder session.
func (m *Metrics) RecordSession(ctx context.Context, recorder, outcome string) {
	m.SessionsCompleted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("recorder", recorder),
			attribute.String("outcome", outcome),
		),
	)
}
