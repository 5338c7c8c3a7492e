package audio

import "time"

// BytesPerSample is the width of one signed 16-bit little-endian PCM sample.
const BytesPerSample = 2

// MinChunkDuration is the shortest chunk a [Source] will emit. Capture
// hardware commonly refuses smaller buffers, and the endpoint collaborators
// need at least one analysis frame per chunk.
const MinChunkDuration = 32 * time.Millisecond

// Chunk is one contiguous run of mono 16-bit PCM emitted by a [Source].
// Chunks are the atomic unit flowing from the capture producer to the
// segmentation consumer. A chunk is owned by whoever received it from the
// channel; the producer never touches it again after sending.
type Chunk struct {
	// Data holds little-endian int16 mono samples. Its length is always even.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for speech analysis).
	SampleRate int

	// Seq increases by exactly one for every chunk the producer emits in a
	// capture session. Gaps on the consumer side mean chunks were dropped
	// under back-pressure.
	Seq uint64

	// Timestamp is the offset of the chunk's first sample from the start of
	// the capture session, derived from the number of samples emitted.
	Timestamp time.Duration
}

// Samples returns the number of PCM samples in the chunk.
func (c Chunk) Samples() int { return len(c.Data) / BytesPerSample }

// Duration returns the playback duration of the chunk.
func (c Chunk) Duration() time.Duration { return DurationOf(len(c.Data), c.SampleRate) }

// DurationOf returns the playback duration of n bytes of mono 16-bit PCM at
// the given sample rate. It returns 0 for a non-positive rate.
func DurationOf(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := int64(n / BytesPerSample)
	return time.Duration(samples * int64(time.Second) / int64(sampleRate))
}

// BytesFor returns the number of bytes of mono 16-bit PCM needed to hold d at
// the given sample rate, rounded up to a whole sample.
func BytesFor(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := (int64(d)*int64(sampleRate) + int64(time.Second) - 1) / int64(time.Second)
	return int(samples) * BytesPerSample
}
