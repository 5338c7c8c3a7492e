// Package mock provides an in-memory implementation of [audio.Device] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{Script: [][]byte{speech, silence}}
//	src, _ := audio.NewSource(dev, audio.SourceConfig{SampleRate: 16000})
//	_ = src.Start(ctx)
//	dev.LastStream().Push(moreSpeech)
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// PollInterval is how long [Stream.Read] waits for pushed data before
// returning (0, nil), mimicking a device buffer period.
const PollInterval = 2 * time.Millisecond

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	Want            audio.Format
	FramesPerBuffer int
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// DeviceName is returned by Name. Defaults to "mock".
	DeviceName string

	// StreamFormat overrides the format reported by opened streams. When zero
	// the requested format is echoed back.
	StreamFormat audio.Format

	// OpenError is returned by Open when non-nil.
	OpenError error

	// Script is the PCM served, in order, by the next opened stream.
	Script [][]byte

	// ReadError, when non-nil, is returned by a stream's Read once its
	// script and pushed data are exhausted.
	ReadError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	// Streams holds every stream returned by Open in order.
	Streams []*Stream
}

var _ audio.Device = (*Device)(nil)

// Name implements [audio.Device].
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DeviceName == "" {
		return "mock"
	}
	return d.DeviceName
}

// Open implements [audio.Device]. Records the call and returns a new [Stream]
// preloaded with Script, or OpenError.
func (d *Device) Open(_ context.Context, want audio.Format, framesPerBuffer int) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Want: want, FramesPerBuffer: framesPerBuffer})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	format := d.StreamFormat
	if format == (audio.Format{}) {
		format = want
	}
	s := NewStream(format)
	for _, pcm := range d.Script {
		s.Push(pcm)
	}
	s.readErr = d.ReadError
	d.Streams = append(d.Streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (d *Device) LastStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// ─── Stream ───────────────────────────────────────────────────────────────────

type item struct {
	pcm []byte
	err error
}

// Stream is a mock implementation of [audio.Stream]. Data pushed with
// [Stream.Push] is served by Read in whole frames.
type Stream struct {
	mu sync.Mutex

	format  audio.Format
	queue   []item
	pending []byte
	readErr error
	closed  bool
	wake    chan struct{}

	// CloseError is returned by Close.
	CloseError error

	// CallCountRead records how many times Read returned data or an error.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Stream = (*Stream)(nil)

// NewStream returns an empty stream reporting the given format.
func NewStream(format audio.Format) *Stream {
	return &Stream{format: format, wake: make(chan struct{}, 1)}
}

// Push appends PCM to be served by subsequent reads.
func (s *Stream) Push(pcm []byte) {
	s.enqueue(item{pcm: pcm})
}

// PushError queues err to be returned by the read that reaches it.
func (s *Stream) PushError(err error) {
	s.enqueue(item{err: err})
}

func (s *Stream) enqueue(it item) {
	s.mu.Lock()
	s.queue = append(s.queue, it)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Read implements [audio.Stream]. It waits up to [PollInterval] for data and
// returns (0, nil) if none arrives.
func (s *Stream) Read(p []byte) (int, error) {
	if n, ok, err := s.tryRead(p); ok {
		return n, err
	}
	t := time.NewTimer(PollInterval)
	defer t.Stop()
	select {
	case <-s.wake:
	case <-t.C:
	}
	n, _, err := s.tryRead(p)
	return n, err
}

func (s *Stream) tryRead(p []byte) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, true, io.ErrClosedPipe
	}
	for len(s.pending) == 0 && len(s.queue) > 0 {
		it := s.queue[0]
		s.queue = s.queue[1:]
		if it.err != nil {
			s.CallCountRead++
			return 0, true, it.err
		}
		s.pending = it.pcm
	}
	if len(s.pending) == 0 {
		if s.readErr != nil {
			s.CallCountRead++
			return 0, true, s.readErr
		}
		return 0, false, nil
	}
	n := min(len(p), len(s.pending))
	if fb := s.format.FrameBytes(); fb > 0 {
		n -= n % fb
	}
	copy(p, s.pending[:n])
	s.pending = s.pending[n:]
	s.CallCountRead++
	return n, true, nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.CallCountClose++
	return s.CloseError
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Buffered returns the number of bytes pushed but not yet read.
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	for _, it := range s.queue {
		n += len(it.pcm)
	}
	return n
}
