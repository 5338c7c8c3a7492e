package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxgate/internal/engine"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

const (
	rate = 16000
	// chunkDur is four 10 ms mock endpoint frames, so every chunk is
	// classified without carry-over.
	chunkDur = 40 * time.Millisecond
)

var chunkBytes = audio.BytesFor(chunkDur, rate)

// chunkGen hands out chunks with consecutive sequence numbers.
type chunkGen struct{ seq uint64 }

func (g *chunkGen) next(speech bool) audio.Chunk {
	data := make([]byte, chunkBytes)
	if speech {
		samples := make([]int16, chunkBytes/audio.BytesPerSample)
		for i := range samples {
			if i%2 == 0 {
				samples[i] = 3000
			} else {
				samples[i] = -3000
			}
		}
		data = audio.PCM16(samples)
	}
	c := audio.Chunk{Data: data, SampleRate: rate, Seq: g.seq, Timestamp: time.Duration(g.seq) * chunkDur}
	g.seq++
	return c
}

// phrase returns n speech chunks followed by m silent chunks.
func (g *chunkGen) phrase(n, m int) []audio.Chunk {
	var out []audio.Chunk
	for range n {
		out = append(out, g.next(true))
	}
	for range m {
		out = append(out, g.next(false))
	}
	return out
}

// newMetrics returns metrics backed by a private meter provider.
func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// fakeSource is a ChunkSource over a plain channel that tracks suspension.
type fakeSource struct {
	ch  chan audio.Chunk
	err error

	mu       sync.Mutex
	held     int
	suspends int
}

func newFakeSource(chunks ...audio.Chunk) *fakeSource {
	s := &fakeSource{ch: make(chan audio.Chunk, len(chunks)+64)}
	for _, c := range chunks {
		s.ch <- c
	}
	return s
}

func (s *fakeSource) Chunks() <-chan audio.Chunk { return s.ch }
func (s *fakeSource) Err() error                 { return s.err }

func (s *fakeSource) Suspend() func() {
	s.mu.Lock()
	s.held++
	s.suspends++
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.held--
			s.mu.Unlock()
		})
	}
}

func (s *fakeSource) counts() (held, suspends int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held, s.suspends
}

// events is the ordered record of Handler and GateObserver calls.
type events struct {
	statuses   []quality.Description
	liveStarts int
	liveness   []engine.LivenessStatus
	progress   []float64
	verdicts   []engine.Result
}

// recorder captures every Handler and GateObserver event.
type recorder struct {
	mu sync.Mutex
	ev events

	// onVerdict, if set, decides whether Run ends.
	onVerdict func(engine.Result) bool
}

func (r *recorder) OnQualityStatus(s quality.Description) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.statuses = append(r.ev.statuses, s)
}

func (r *recorder) OnLivenessStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.liveStarts++
}

func (r *recorder) OnLivenessStatus(s engine.LivenessStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.liveness = append(r.ev.liveness, s)
}

func (r *recorder) OnProgress(f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev.progress = append(r.ev.progress, f)
}

func (r *recorder) OnVerdict(_ context.Context, res engine.Result) bool {
	r.mu.Lock()
	r.ev.verdicts = append(r.ev.verdicts, res)
	fn := r.onVerdict
	r.mu.Unlock()
	if fn != nil {
		return fn(res)
	}
	return res.Accepted
}

func (r *recorder) snapshot() events {
	r.mu.Lock()
	defer r.mu.Unlock()
	return events{
		statuses:   append([]quality.Description(nil), r.ev.statuses...),
		liveStarts: r.ev.liveStarts,
		liveness:   append([]engine.LivenessStatus(nil), r.ev.liveness...),
		progress:   append([]float64(nil), r.ev.progress...),
		verdicts:   append([]engine.Result(nil), r.ev.verdicts...),
	}
}
