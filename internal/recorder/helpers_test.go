package recorder_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxgate/internal/engine"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/recorder"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/mock"
	epmock "github.com/MrWong99/voxgate/pkg/provider/endpoint/mock"
	livenessmock "github.com/MrWong99/voxgate/pkg/provider/liveness/mock"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
	qualitymock "github.com/MrWong99/voxgate/pkg/provider/quality/mock"
	snrmock "github.com/MrWong99/voxgate/pkg/provider/snr/mock"
)

const (
	rate = 16000
	// chunkDur is four 10 ms mock endpoint frames.
	chunkDur = 40 * time.Millisecond
)

var chunkBytes = audio.BytesFor(chunkDur, rate)

// tone returns d of a square wave with the given amplitude. Every mock
// endpoint frame of it counts as speech.
func tone(d time.Duration, amp int16) []byte {
	samples := make([]int16, audio.BytesFor(d, rate)/audio.BytesPerSample)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amp
		} else {
			samples[i] = -amp
		}
	}
	return audio.PCM16(samples)
}

func silence(d time.Duration) []byte { return make([]byte, audio.BytesFor(d, rate)) }

// peak returns the largest sample magnitude in pcm.
// peak is the largest absolute sample value. It is widened so that a
// full-scale negative sample (-32768) reports 32768.
func peak(pcm []byte) int32 {
	var p int32
	for _, v := range audio.Samples16(pcm) {
		w := int32(v)
		p = max(p, w, -w)
	}
	return p
}

func TestPeak(t *testing.T) {
	t.Parallel()
	tests := []struct {
		samples []int16
		want    int32
	}{
		{[]int16{0, 0}, 0},
		{[]int16{1000, -400}, 1000},
		{[]int16{12, -32768, 32767}, 32768},
	}
	for _, tt := range tests {
		if got := peak(audio.PCM16(tt.samples)); got != tt.want {
			t.Errorf("peak(%v) = %d, want %d", tt.samples, got, tt.want)
		}
	}
}

// fixture wires a real audio source over a scripted mock device to passing
// collaborator mocks.
type fixture struct {
	dev      *mock.Device
	src      *audio.Source
	det      *epmock.Detector
	quality  *qualitymock.Scorer
	th       *qualitymock.ThresholdProvider
	snr      *snrmock.Computer
	liveness *livenessmock.Scorer
	metrics  *observe.Metrics
	reader   *sdkmetric.ManualReader
}

func newFixture(t *testing.T, script ...[]byte) *fixture {
	t.Helper()
	f := &fixture{
		dev:      &mock.Device{Script: script},
		det:      &epmock.Detector{},
		quality:  &qualitymock.Scorer{Result: quality.Result{Description: quality.DescriptionOK}},
		th:       &qualitymock.ThresholdProvider{},
		snr:      &snrmock.Computer{SNR: 20},
		liveness: &livenessmock.Scorer{Probability: 0.9},
		reader:   sdkmetric.NewManualReader(),
	}
	src, err := audio.NewSource(f.dev, audio.SourceConfig{SampleRate: rate, ChunkDuration: chunkDur})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	t.Cleanup(func() { _ = src.Stop() })
	f.src = src

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(f.reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	if f.metrics, err = observe.NewMetrics(mp); err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return f
}

func (f *fixture) deps() recorder.Deps {
	return recorder.Deps{
		Endpoint:   f.det,
		Quality:    f.quality,
		Thresholds: f.th,
		SNR:        f.snr,
		Liveness:   f.liveness,
	}
}

func (f *fixture) opts() []recorder.Option {
	return []recorder.Option{recorder.WithMetrics(f.metrics)}
}

// sum returns the total of an int64 sum instrument over data points whose
// attribute key has value.
func (f *fixture) sum(t *testing.T, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// events is a snapshot of everything a listener received.
type events[P any] struct {
	statuses        []quality.Description
	livenessStarted int
	liveness        []engine.LivenessStatus
	progress        []float64
	started         []int
	rejected        []engine.Reason
	completed       []P
	failed          []error
}

// listener records events and closes done on the first OnComplete or
// OnFailed.
type listener[P any] struct {
	mu   sync.Mutex
	ev   events[P]
	done chan struct{}
	once sync.Once

	// onLivenessStarted, if set, runs inside OnLivenessStarted.
	onLivenessStarted func()
}

func newListener[P any]() *listener[P] {
	return &listener[P]{done: make(chan struct{})}
}

func (l *listener[P]) OnQualityStatus(s quality.Description) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ev.statuses = append(l.ev.statuses, s)
}

func (l *listener[P]) OnLivenessStarted() {
	l.mu.Lock()
	l.ev.livenessStarted++
	fn := l.onLivenessStarted
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (l *listener[P]) OnLivenessStatus(s engine.LivenessStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ev.liveness = append(l.ev.liveness, s)
}

func (l *listener[P]) OnProgress(f float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ev.progress = append(l.ev.progress, f)
}

func (l *listener[P]) OnSegmentStarted(i int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ev.started = append(l.ev.started, i)
}

func (l *listener[P]) OnRejected(r engine.Reason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ev.rejected = append(l.ev.rejected, r)
}

func (l *listener[P]) OnComplete(p P) {
	l.mu.Lock()
	l.ev.completed = append(l.ev.completed, p)
	l.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

func (l *listener[P]) OnFailed(err error) {
	l.mu.Lock()
	l.ev.failed = append(l.ev.failed, err)
	l.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

func (l *listener[P]) snapshot() events[P] {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := l.ev
	ev.statuses = slices.Clone(ev.statuses)
	ev.liveness = slices.Clone(ev.liveness)
	ev.progress = slices.Clone(ev.progress)
	ev.started = slices.Clone(ev.started)
	ev.rejected = slices.Clone(ev.rejected)
	ev.completed = slices.Clone(ev.completed)
	ev.failed = slices.Clone(ev.failed)
	return ev
}

// rejections returns the number of OnRejected calls so far.
func (l *listener[P]) rejections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ev.rejected)
}

// waitEnd waits for the listener's terminal event and then for the session
// to finish.
func waitEnd[P any](t *testing.T, l *listener[P], done <-chan struct{}) {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(10 * time.Second):
		t.Fatal("session did not complete or fail")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
