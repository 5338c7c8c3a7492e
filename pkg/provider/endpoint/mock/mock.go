// Package mock provides test doubles for the endpoint package interfaces.
//
// Stream classifies audio deterministically in 10ms frames: a frame is speech
// when any sample's magnitude exceeds Threshold (default 0, i.e. any non-zero
// sample). Tests synthesise speech as a tone and silence as zeros.
//
// Example:
//
//	det := &mock.Detector{}
//	stream, _ := det.NewStream(endpoint.Config{SampleRate: 16000})
//	_ = stream.AddSamples(tone)
//	stream.SpeechLength() // == len(tone) as a duration
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/endpoint"
)

// Frame is the analysis granularity of [Stream].
const Frame = 10 * time.Millisecond

// NewStreamCall records a single invocation of Detector.NewStream.
type NewStreamCall struct {
	Cfg endpoint.Config
}

// Detector is a mock implementation of endpoint.Detector. Every NewStream
// call returns a fresh [Stream], recorded in Streams.
type Detector struct {
	mu sync.Mutex

	// Threshold is copied into every new Stream.
	Threshold int16

	// AddErr is copied into every new Stream.
	AddErr error

	// NewStreamErr, if non-nil, is returned as the error from NewStream.
	NewStreamErr error

	// NewStreamCalls records every call to NewStream in order.
	NewStreamCalls []NewStreamCall

	// Streams holds every stream created, in order.
	Streams []*Stream
}

// NewStream records the call and returns a new Stream.
func (d *Detector) NewStream(cfg endpoint.Config) (endpoint.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.NewStreamCalls = append(d.NewStreamCalls, NewStreamCall{Cfg: cfg})
	if d.NewStreamErr != nil {
		return nil, d.NewStreamErr
	}
	s := &Stream{SampleRate: cfg.SampleRate, Threshold: d.Threshold, AddErr: d.AddErr}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// LastStream returns the most recently created stream, or nil.
func (d *Detector) LastStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// Stream is a mock implementation of endpoint.Stream.
type Stream struct {
	mu sync.Mutex

	// SampleRate of the analysed PCM. Defaults to 16000.
	SampleRate int

	// Threshold is the sample magnitude above which a frame counts as speech.
	Threshold int16

	// AddErr, if non-nil, is returned by AddSamples without analysing.
	AddErr error

	carry   []byte
	speech  time.Duration
	silence time.Duration

	// AddedBytes counts all bytes passed to AddSamples since the last Reset.
	AddedBytes int

	// CallCountAddSamples, CallCountReset and CallCountClose record method
	// invocations.
	CallCountAddSamples int
	CallCountReset      int
	CallCountClose      int
}

// AddSamples implements endpoint.Stream.
func (s *Stream) AddSamples(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountAddSamples++
	if s.AddErr != nil {
		return s.AddErr
	}
	s.AddedBytes += len(pcm)

	rate := s.SampleRate
	if rate == 0 {
		rate = 16000
	}
	frameBytes := audio.BytesFor(Frame, rate)
	buf := append(s.carry, pcm...)
	off := 0
	for ; len(buf)-off >= frameBytes; off += frameBytes {
		speech := false
		for _, v := range audio.Samples16(buf[off : off+frameBytes]) {
			if v > s.Threshold || v < -s.Threshold {
				speech = true
				break
			}
		}
		if speech {
			s.speech += Frame
			s.silence = 0
		} else {
			s.silence += Frame
		}
	}
	s.carry = append([]byte(nil), buf[off:]...)
	return nil
}

// SpeechLength implements endpoint.Stream.
func (s *Stream) SpeechLength() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speech
}

// SilenceTail implements endpoint.Stream.
func (s *Stream) SilenceTail() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silence
}

// Reset implements endpoint.Stream.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReset++
	s.carry = nil
	s.speech = 0
	s.silence = 0
	s.AddedBytes = 0
}

// Close implements endpoint.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Ensure the mocks implement the endpoint interfaces at compile time.
var (
	_ endpoint.Detector = (*Detector)(nil)
	_ endpoint.Stream   = (*Stream)(nil)
)
