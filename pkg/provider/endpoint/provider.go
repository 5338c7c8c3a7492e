// Package endpoint defines the Detector interface for speech endpoint
// detection backends.
//
// An endpoint detector consumes a running stream of PCM and reports two
// cumulative measures: how much of it was speech, and how long the audio has
// been non-speech since the last speech frame (the silence tail). The
// segmenter uses them to decide when a speech segment starts and when it is
// complete.
//
// Detection is synchronous: AddSamples returns once the samples were
// analysed, so the consumer loop can read the measures immediately after.
//
// Implementations must be safe for concurrent use across different streams.
// A single Stream should not be shared across goroutines.
package endpoint

import "time"

// Config holds the parameters for an endpoint stream.
type Config struct {
	// SampleRate is the rate of the mono 16-bit PCM passed to AddSamples.
	SampleRate int
}

// Stream is the per-session detection state for one audio stream. Reset
// clears accumulated measures without releasing the stream.
type Stream interface {
	// AddSamples analyses little-endian int16 mono PCM. Samples that do not
	// fill a whole analysis frame are carried over to the next call.
	AddSamples(pcm []byte) error

	// SpeechLength returns the total duration classified as speech since the
	// last Reset.
	SpeechLength() time.Duration

	// SilenceTail returns the duration of trailing non-speech audio since
	// the last speech frame, or since the last Reset if none was found.
	SilenceTail() time.Duration

	// Reset clears all accumulated state.
	Reset()

	// Close releases the stream. Calling Close more than once is safe.
	Close() error
}

// Detector is the factory for endpoint streams, implemented by each backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewStream simultaneously.
type Detector interface {
	NewStream(cfg Config) (Stream, error)
}
