package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/endpoint"
)

// SealMode selects when a segment is complete.
type SealMode int

const (
	// SealOnEndOfSpeech seals once at least MinSpeech of speech was followed
	// by MaxSilence of trailing silence.
	SealOnEndOfSpeech SealMode = iota

	// SealImmediately seals as soon as MinSpeech of speech was collected,
	// regardless of trailing silence.
	SealImmediately
)

func (m SealMode) String() string {
	switch m {
	case SealOnEndOfSpeech:
		return "end_of_speech"
	case SealImmediately:
		return "immediate"
	default:
		return fmt.Sprintf("SealMode(%d)", int(m))
	}
}

// SegmenterState is the position of a [Segmenter] in its state machine.
type SegmenterState int

const (
	StateAwaitingSpeechStart SegmenterState = iota
	StateAccumulating
	StateSealed
)

func (s SegmenterState) String() string {
	switch s {
	case StateAwaitingSpeechStart:
		return "awaiting_speech_start"
	case StateAccumulating:
		return "accumulating"
	case StateSealed:
		return "sealed"
	default:
		return fmt.Sprintf("SegmenterState(%d)", int(s))
	}
}

const (
	// DefaultMinSpeech is the speech length a segment needs before it may seal.
	DefaultMinSpeech = 700 * time.Millisecond

	// DefaultMaxSilence is the trailing silence that ends an utterance.
	DefaultMaxSilence = 150 * time.Millisecond

	// DefaultSpeechStartWindow is the probe length examined for speech onset.
	DefaultSpeechStartWindow = 500 * time.Millisecond
)

// SegmenterConfig configures a [Segmenter]. Zero durations take the
// package defaults.
type SegmenterConfig struct {
	// SampleRate of the incoming chunks. Required.
	SampleRate int

	Mode SealMode

	MinSpeech  time.Duration
	MaxSilence time.Duration

	// SpeechStartWindow is the amount of audio buffered while waiting for
	// speech. A window without speech is discarded.
	SpeechStartWindow time.Duration
}

func (c *SegmenterConfig) applyDefaults() {
	if c.MinSpeech <= 0 {
		c.MinSpeech = DefaultMinSpeech
	}
	if c.MaxSilence <= 0 {
		c.MaxSilence = DefaultMaxSilence
	}
	if c.SpeechStartWindow <= 0 {
		c.SpeechStartWindow = DefaultSpeechStartWindow
	}
}

// Segmenter turns a chunk stream into speech segments using an endpoint
// detector stream. It runs on the consumer goroutine and is not safe for
// concurrent use.
//
// States:
//
//	AwaitingSpeechStart: chunks fill a probe window. A full window is handed
//	    to the detector; if it holds any speech it becomes the start of a new
//	    segment, otherwise it is dropped and the detector reset.
//	Accumulating: every chunk is appended and analysed until the seal
//	    condition for the configured [SealMode] holds.
//	Sealed: the segment was returned by OnChunk. Further chunks are refused
//	    until Reset.
type Segmenter struct {
	cfg    SegmenterConfig
	stream endpoint.Stream

	state SegmenterState
	probe []audio.Chunk
	// probeBytes is the total length of probe.
	probeBytes  int
	windowBytes int
	seg         *Segment
	lastSpeech  time.Duration
	onProgress  func(float64)
}

// NewSegmenter opens a detector stream for cfg.SampleRate and returns a
// Segmenter awaiting speech.
func NewSegmenter(det endpoint.Detector, cfg SegmenterConfig) (*Segmenter, error) {
	if det == nil {
		return nil, errors.New("engine: endpoint detector must not be nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("engine: invalid sample rate %d", cfg.SampleRate)
	}
	cfg.applyDefaults()
	stream, err := det.NewStream(endpoint.Config{SampleRate: cfg.SampleRate})
	if err != nil {
		return nil, fmt.Errorf("engine: open endpoint stream: %w", err)
	}
	return &Segmenter{
		cfg:         cfg,
		stream:      stream,
		windowBytes: audio.BytesFor(cfg.SpeechStartWindow, cfg.SampleRate),
	}, nil
}

// Config returns the effective configuration with defaults applied.
func (s *Segmenter) Config() SegmenterConfig { return s.cfg }

// OnProgress registers fn to receive the fraction of MinSpeech collected so
// far, clamped to [0, 1]. fn is called only when the speech length strictly
// increases.
func (s *Segmenter) OnProgress(fn func(fraction float64)) { s.onProgress = fn }

// State returns the current state.
func (s *Segmenter) State() SegmenterState { return s.state }

// OnChunk consumes one chunk. It returns the sealed segment when c completes
// one, and nil otherwise. In [StateSealed] it returns [ErrSegmentSealed] and
// leaves the segment untouched. A detector error leaves the Segmenter in an
// undefined position; callers should Reset it.
func (s *Segmenter) OnChunk(c audio.Chunk) (*Segment, error) {
	if c.SampleRate != 0 && c.SampleRate != s.cfg.SampleRate {
		return nil, fmt.Errorf("engine: chunk %d at %d Hz, want %d Hz", c.Seq, c.SampleRate, s.cfg.SampleRate)
	}

	switch s.state {
	case StateSealed:
		return nil, ErrSegmentSealed

	case StateAwaitingSpeechStart:
		s.probe = append(s.probe, c)
		s.probeBytes += len(c.Data)
		if s.probeBytes < s.windowBytes {
			return nil, nil
		}
		if err := s.openSegment(); err != nil {
			return nil, err
		}
		if s.state != StateAccumulating {
			return nil, nil
		}

	case StateAccumulating:
		if err := s.stream.AddSamples(c.Data); err != nil {
			return nil, fmt.Errorf("engine: endpoint: %w", err)
		}
		if err := s.seg.append(c); err != nil {
			return nil, err
		}
	}

	s.seg.measure(s.stream.SpeechLength(), s.stream.SilenceTail())
	s.progress()
	if !s.sealable() {
		return nil, nil
	}
	s.seg.seal()
	s.state = StateSealed
	return s.seg, nil
}

// openSegment analyses the full probe window. It moves to
// [StateAccumulating] when the window holds speech.
func (s *Segmenter) openSegment() error {
	probe := s.probe
	s.probe = s.probe[:0]
	s.probeBytes = 0

	buf := make([]byte, 0, s.windowBytes+len(probe[len(probe)-1].Data))
	for _, c := range probe {
		buf = append(buf, c.Data...)
	}
	if err := s.stream.AddSamples(buf); err != nil {
		return fmt.Errorf("engine: endpoint: %w", err)
	}
	if s.stream.SpeechLength() <= 0 {
		s.stream.Reset()
		return nil
	}

	s.seg = newSegment(s.cfg.SampleRate)
	for _, c := range probe {
		if err := s.seg.append(c); err != nil {
			return err
		}
	}
	s.state = StateAccumulating
	return nil
}

func (s *Segmenter) sealable() bool {
	if s.seg.SpeechLength() < s.cfg.MinSpeech {
		return false
	}
	if s.cfg.Mode == SealImmediately {
		return true
	}
	return s.seg.SilenceTail() >= s.cfg.MaxSilence
}

func (s *Segmenter) progress() {
	speech := s.seg.SpeechLength()
	if speech <= s.lastSpeech {
		return
	}
	s.lastSpeech = speech
	if s.onProgress == nil {
		return
	}
	f := float64(speech) / float64(s.cfg.MinSpeech)
	s.onProgress(min(f, 1))
}

// Reset drops any partial or sealed segment, resets the detector stream and
// returns to [StateAwaitingSpeechStart]. A sealed segment already returned by
// OnChunk is not affected.
func (s *Segmenter) Reset() {
	s.stream.Reset()
	clear(s.probe)
	s.probe = s.probe[:0]
	s.probeBytes = 0
	s.seg = nil
	s.lastSpeech = 0
	s.state = StateAwaitingSpeechStart
}

// Close releases the detector stream.
func (s *Segmenter) Close() error {
	return s.stream.Close()
}
