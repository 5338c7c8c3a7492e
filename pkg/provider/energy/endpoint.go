package energy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/endpoint"
)

// Detector is an [endpoint.Detector] based on frame energy.
type Detector struct {
	cfg Config
}

var _ endpoint.Detector = (*Detector)(nil)

// NewDetector returns a Detector configured by opts.
func NewDetector(opts ...Option) *Detector {
	return &Detector{cfg: newConfig(opts)}
}

// NewStream implements [endpoint.Detector].
func (d *Detector) NewStream(cfg endpoint.Config) (endpoint.Stream, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	frameBytes := audio.BytesFor(d.cfg.Frame, cfg.SampleRate)
	if frameBytes == 0 {
		return nil, fmt.Errorf("energy: frame %s too short at %dHz", d.cfg.Frame, cfg.SampleRate)
	}
	return &stream{
		cl:         classifier{cfg: d.cfg},
		frame:      d.cfg.Frame,
		frameBytes: frameBytes,
	}, nil
}

var errClosed = errors.New("energy: stream closed")

type stream struct {
	mu         sync.Mutex
	cl         classifier
	frame      time.Duration
	frameBytes int
	carry      []byte
	speech     time.Duration
	silence    time.Duration
	closed     bool
}

func (s *stream) AddSamples(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if len(pcm)%audio.BytesPerSample != 0 {
		return fmt.Errorf("energy: odd PCM length %d", len(pcm))
	}

	buf := pcm
	if len(s.carry) > 0 {
		buf = append(s.carry, pcm...)
	}
	off := 0
	for ; len(buf)-off >= s.frameBytes; off += s.frameBytes {
		lvl := rms(audio.Samples16(buf[off : off+s.frameBytes]))
		if s.cl.isSpeech(lvl) {
			s.speech += s.frame
			s.silence = 0
		} else {
			s.silence += s.frame
		}
	}
	s.carry = append(s.carry[:0:0], buf[off:]...)
	return nil
}

func (s *stream) SpeechLength() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speech
}

func (s *stream) SilenceTail() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silence
}

func (s *stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cl.reset()
	s.carry = nil
	s.speech = 0
	s.silence = 0
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.carry = nil
	return nil
}
