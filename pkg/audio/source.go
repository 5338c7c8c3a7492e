package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a [Source].
type State int32

const (
	StateStopped State = iota
	StateRecording
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// SourceConfig configures a [Source]. Zero fields take the defaults below.
type SourceConfig struct {
	// SampleRate of the emitted chunks in Hz. Default: 16000.
	SampleRate int

	// ChunkDuration is the length of each emitted chunk. Must be at least
	// [MinChunkDuration]. Default: 32ms.
	ChunkDuration time.Duration

	// FramesPerBuffer is the device read size in frames. Default: 512.
	FramesPerBuffer int

	// QueueCapacity bounds the number of chunks buffered between producer
	// and consumer. Default: 256.
	QueueCapacity int

	// Observer, if set, receives capture events.
	Observer Observer
}

func (c *SourceConfig) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.ChunkDuration == 0 {
		c.ChunkDuration = MinChunkDuration
	}
	if c.FramesPerBuffer == 0 {
		c.FramesPerBuffer = 512
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 256
	}
}

// SourceStats reports counters for the current capture session.
type SourceStats struct {
	Chunks   uint64
	Dropped  uint64
	Overruns uint64
}

// Source captures mono 16-bit PCM from a [Device] on a dedicated producer
// goroutine and publishes fixed-length [Chunk]s on a bounded channel.
//
// The producer never blocks on the consumer: when the queue is full it
// discards everything still queued and keeps going, so stale audio never
// accumulates. Pause blocks the producer before its next device read;
// Suspend does the same on behalf of a consumer that is busy gating.
//
// All methods are safe for concurrent use.
type Source struct {
	dev Device
	cfg SourceConfig

	latch   *pauseLatch
	running atomic.Bool

	chunks   atomic.Uint64
	dropped  atomic.Uint64
	overruns atomic.Uint64
	err      atomic.Pointer[AudioError]

	mu       sync.Mutex // serialises Start and Stop
	queue    chan Chunk
	cancel   context.CancelFunc
	done     chan struct{}
	closeErr error
}

// NewSource validates cfg and returns a stopped Source reading from dev.
func NewSource(dev Device, cfg SourceConfig) (*Source, error) {
	if dev == nil {
		return nil, errors.New("audio: source requires a device")
	}
	cfg.applyDefaults()
	if cfg.SampleRate < 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.ChunkDuration < MinChunkDuration {
		return nil, fmt.Errorf("audio: chunk duration %s below minimum %s", cfg.ChunkDuration, MinChunkDuration)
	}
	if cfg.FramesPerBuffer < 0 || cfg.QueueCapacity < 0 {
		return nil, errors.New("audio: frames per buffer and queue capacity must be positive")
	}
	closed := make(chan Chunk)
	close(closed)
	return &Source{
		dev:   dev,
		cfg:   cfg,
		latch: newPauseLatch(),
		queue: closed,
	}, nil
}

// Start opens the device and launches the producer. If the source is already
// running it is fully stopped first, so Start is safe to call repeatedly.
// Cancelling ctx stops the producer as if Stop had been called, except that
// the device handle is only released once Stop runs or the producer exits.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	want := Format{SampleRate: s.cfg.SampleRate, Channels: 1}
	stream, err := s.dev.Open(ctx, want, s.cfg.FramesPerBuffer)
	if err != nil {
		aerr := &AudioError{Op: "open", Device: s.dev.Name(), Kind: classify(err, ErrDeviceUnavailable), Err: err}
		s.err.Store(aerr)
		return aerr
	}
	got := stream.Format()
	if got.SampleRate <= 0 || got.Channels <= 0 {
		_ = stream.Close()
		aerr := &AudioError{Op: "open", Device: s.dev.Name(), Kind: ErrUnsupportedFormat,
			Err: fmt.Errorf("device reported %s", got)}
		s.err.Store(aerr)
		return aerr
	}

	s.err.Store(nil)
	s.chunks.Store(0)
	s.dropped.Store(0)
	s.overruns.Store(0)
	s.latch.reset()

	runCtx, cancel := context.WithCancel(ctx)
	s.queue = make(chan Chunk, s.cfg.QueueCapacity)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.closeErr = nil
	s.running.Store(true)

	p := &producer{
		src:    s,
		stream: stream,
		conv:   &FormatConverter{From: got, To: want},
		out:    s.queue,
	}
	go p.run(runCtx, s.done)

	slog.Info("audio source started",
		"device", s.dev.Name(),
		"device_format", got.String(),
		"format", want.String(),
		"chunk", s.cfg.ChunkDuration,
	)
	return nil
}

// Stop stops the producer, waits for it to exit, releases the device and
// discards queued chunks. It is idempotent and returns the error from
// closing the device stream, if any.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Source) stopLocked() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.latch.close()
	<-s.done
	n := Drain(s.queue)
	s.cancel = nil
	s.running.Store(false)
	if n > 0 {
		slog.Debug("audio source: discarded queued chunks on stop", "device", s.dev.Name(), "chunks", n)
	}
	return s.closeErr
}

// Pause blocks the producer before its next device read. Pausing a stopped
// source has no effect on the next Start.
func (s *Source) Pause() { s.latch.setUser(true) }

// Resume releases a Pause. Suspensions held by the consumer stay in effect.
func (s *Source) Resume() { s.latch.setUser(false) }

// Suspend pauses the producer independently of Pause/Resume and returns a
// function that releases the suspension. The release func is idempotent and
// harmless after the source was restarted.
func (s *Source) Suspend() (resume func()) { return s.latch.hold() }

// Chunks returns the channel of the current capture session. The channel is
// closed when the producer exits; check [Source.Err] to tell a failure from a
// regular stop. Before the first Start it returns a closed channel.
func (s *Source) Chunks() <-chan Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue
}

// Err returns the terminal error of the current session, or nil.
func (s *Source) Err() error {
	if e := s.err.Load(); e != nil {
		return e
	}
	return nil
}

// State reports whether the source is stopped, recording, or paused.
func (s *Source) State() State {
	if !s.running.Load() {
		return StateStopped
	}
	if s.latch.isPaused() {
		return StatePaused
	}
	return StateRecording
}

// Stats returns counters for the current session.
func (s *Source) Stats() SourceStats {
	return SourceStats{
		Chunks:   s.chunks.Load(),
		Dropped:  s.dropped.Load(),
		Overruns: s.overruns.Load(),
	}
}

// Config returns the effective configuration after defaults.
func (s *Source) Config() SourceConfig { return s.cfg }

// producer owns the device stream for one capture session.
type producer struct {
	src    *Source
	stream Stream
	conv   *FormatConverter
	out    chan Chunk

	seq    uint64
	offset time.Duration
}

func (p *producer) run(ctx context.Context, done chan<- struct{}) {
	s := p.src
	defer close(done)
	defer close(p.out)
	defer func() {
		if err := p.stream.Close(); err != nil {
			s.closeErr = err
			slog.Warn("audio source: close device", "device", s.dev.Name(), "err", err)
		}
		s.running.Store(false)
	}()

	in := p.stream.Format()
	buf := make([]byte, s.cfg.FramesPerBuffer*in.FrameBytes())
	chunkBytes := BytesFor(s.cfg.ChunkDuration, s.cfg.SampleRate)
	pending := make([]byte, 0, chunkBytes*2)

	for {
		if ctx.Err() != nil {
			return
		}
		if !s.latch.wait() || ctx.Err() != nil {
			return
		}

		n, err := p.stream.Read(buf)
		if err != nil {
			switch {
			case errors.Is(err, ErrOverflow):
				s.overruns.Add(1)
				if obs := s.cfg.Observer; obs != nil {
					obs.Overrun()
				}
				slog.Debug("audio source: device overrun", "device", s.dev.Name())
			case ctx.Err() != nil:
				return
			default:
				aerr := &AudioError{Op: "read", Device: s.dev.Name(), Kind: classify(err, ErrDeviceRead), Err: err}
				s.err.Store(aerr)
				slog.Error("audio source: capture failed", "device", s.dev.Name(), "err", err)
				return
			}
		}
		if n == 0 {
			continue
		}

		pending = append(pending, p.conv.Convert(buf[:n])...)
		off := 0
		for len(pending)-off >= chunkBytes {
			data := make([]byte, chunkBytes)
			copy(data, pending[off:off+chunkBytes])
			off += chunkBytes

			c := Chunk{Data: data, SampleRate: s.cfg.SampleRate, Seq: p.seq, Timestamp: p.offset}
			p.seq++
			p.offset += c.Duration()
			p.publish(c)
		}
		pending = append(pending[:0], pending[off:]...)
	}
}

// publish enqueues c without ever blocking. A full queue is cleared first.
func (p *producer) publish(c Chunk) {
	s := p.src
	if obs := s.cfg.Observer; obs != nil {
		obs.ChunkCaptured(c)
	}

	select {
	case p.out <- c:
		s.chunks.Add(1)
		return
	default:
	}

	dropped := 0
flush:
	for {
		select {
		case <-p.out:
			dropped++
		default:
			break flush
		}
	}

	select {
	case p.out <- c:
	default:
		dropped++
	}
	if dropped > 0 {
		s.dropped.Add(uint64(dropped))
		if obs := s.cfg.Observer; obs != nil {
			obs.ChunksDropped(dropped)
		}
		slog.Warn("audio source: queue full, dropped stale chunks",
			"device", s.dev.Name(),
			"dropped", dropped,
			"seq", c.Seq,
		)
	}
	s.chunks.Add(1)
}
