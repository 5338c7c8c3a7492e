package engine

import (
	"errors"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// ErrSegmentSealed is returned when audio is offered to a segment, or to a
// [Segmenter] holding one, after the seal condition was met.
var ErrSegmentSealed = errors.New("engine: segment sealed")

// Segment is one contiguous utterance candidate: the concatenated bytes of
// every chunk from detected speech start to the seal point, together with
// the endpoint measures observed at the last append.
//
// A Segment is owned by the consumer goroutine while it grows. Once sealed it
// is immutable and may be handed to other goroutines.
type Segment struct {
	data       []byte
	sampleRate int
	chunks     int
	firstSeq   uint64
	lastSeq    uint64
	speech     time.Duration
	silence    time.Duration
	sealed     bool
}

func newSegment(sampleRate int) *Segment {
	return &Segment{sampleRate: sampleRate}
}

// append adds c to the segment. The chunk bytes are copied.
func (s *Segment) append(c audio.Chunk) error {
	if s.sealed {
		return ErrSegmentSealed
	}
	if s.chunks == 0 {
		s.firstSeq = c.Seq
	}
	s.lastSeq = c.Seq
	s.chunks++
	s.data = append(s.data, c.Data...)
	return nil
}

func (s *Segment) measure(speech, silence time.Duration) {
	s.speech = speech
	s.silence = silence
}

func (s *Segment) seal() { s.sealed = true }

// Bytes returns the segment PCM. The slice must not be modified.
func (s *Segment) Bytes() []byte { return s.data }

// Len returns the segment length in bytes.
func (s *Segment) Len() int { return len(s.data) }

// Samples returns the number of 16-bit samples in the segment.
func (s *Segment) Samples() int { return len(s.data) / audio.BytesPerSample }

// Duration returns the audio duration covered by the segment.
func (s *Segment) Duration() time.Duration { return audio.DurationOf(len(s.data), s.sampleRate) }

// SampleRate returns the sample rate of the segment PCM.
func (s *Segment) SampleRate() int { return s.sampleRate }

// SpeechLength returns the cumulative speech length reported by the endpoint
// detector.
func (s *Segment) SpeechLength() time.Duration { return s.speech }

// SilenceTail returns the trailing silence reported by the endpoint detector.
func (s *Segment) SilenceTail() time.Duration { return s.silence }

// Chunks returns the number of chunks that contributed to the segment.
func (s *Segment) Chunks() int { return s.chunks }

// SeqRange returns the sequence numbers of the first and last contributing
// chunks.
func (s *Segment) SeqRange() (first, last uint64) { return s.firstSeq, s.lastSeq }

// Sealed reports whether the segment is complete.
func (s *Segment) Sealed() bool { return s.sealed }
