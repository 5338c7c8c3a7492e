// Package liveness defines the Scorer interface for anti-spoofing backends.
//
// A liveness scorer estimates the probability that a speech segment was
// spoken by a live person rather than replayed or synthesised. Callers
// compare the probability against a threshold ([DefaultThreshold] unless
// configured otherwise).
//
// Implementations must be safe for concurrent use.
package liveness

import "context"

// DefaultThreshold is the probability at or above which speech is
// considered live.
const DefaultThreshold = 0.5

// Scorer is the interface implemented by every liveness backend.
type Scorer interface {
	// Check returns the probability in [0, 1] that the mono 16-bit PCM at
	// sampleRate is live speech.
	Check(ctx context.Context, pcm []byte, sampleRate int) (float64, error)
}
