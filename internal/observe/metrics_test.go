package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxgate.gate.duration", m.GateDuration},
		{"voxgate.segment.speech", m.SegmentSpeech},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordGate(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordGate(context.Background(), "quality", "ok", 20*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "voxgate.gate.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	if v, ok := hist.DataPoints[0].Attributes.Value("gate"); !ok || v.AsString() != "quality" {
		t.Errorf("gate attribute = %v", v)
	}
	if got := hist.DataPoints[0].Sum; got < 0.019 || got > 0.021 {
		t.Errorf("sum = %v, want 0.02", got)
	}
}

func TestRecordVerdict(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordVerdict(ctx, "td_enrollment", "rejected", "too_noisy")
	m.RecordVerdict(ctx, "td_enrollment", "rejected", "too_noisy")
	m.RecordVerdict(ctx, "td_enrollment", "accepted", "")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxgate.segment.verdicts", "reason", "too_noisy"); got != 2 {
		t.Errorf("too_noisy = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "voxgate.segment.verdicts", "verdict", "accepted"); got != 1 {
		t.Errorf("accepted = %d, want 1", got)
	}
}

func TestCollaboratorCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("collaborator", "remote"),
		attribute.String("kind", "liveness"),
		attribute.String("status", "ok"),
	)
	m.CollaboratorRequests.Add(ctx, 1, attrs)
	m.RecordCollaboratorRequest(ctx, "remote", "liveness", "ok")
	m.RecordCollaboratorRequest(ctx, "remote", "liveness", "error")
	m.RecordCollaboratorError(ctx, "remote", "liveness")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxgate.collaborator.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "voxgate.collaborator.errors", "kind", "liveness"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestAudioObserver(t *testing.T) {
	m, reader := newTestMetrics(t)

	obs := m.AudioObserver("mic")
	obs.ChunkCaptured(audio.Chunk{})
	obs.ChunkCaptured(audio.Chunk{})
	obs.ChunksDropped(5)
	obs.Overrun()

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxgate.audio.chunks", "device", "mic"); got != 2 {
		t.Errorf("chunks = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "voxgate.audio.chunks_dropped", "device", "mic"); got != 5 {
		t.Errorf("dropped = %d, want 5", got)
	}
	if got := sumWhere(t, rm, "voxgate.audio.overruns", "device", "mic"); got != 1 {
		t.Errorf("overruns = %d, want 1", got)
	}
}

func TestSessionsMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive, so we simulate Set(2) as Add(1) twice.
	rec := metric.WithAttributes(attribute.String("recorder", "verification"))
	m.ActiveSessions.Add(ctx, 1, rec)
	m.ActiveSessions.Add(ctx, 1, rec)
	m.RecordSession(ctx, "verification", "completed")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxgate.active_sessions", "recorder", "verification"); got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "voxgate.sessions.completed", "outcome", "completed"); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("route", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "voxgate.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
