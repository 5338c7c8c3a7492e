// Package snr defines the Computer interface for signal-to-noise ratio
// estimation backends.
//
// Implementations must be safe for concurrent use.
package snr

import "context"

// Computer estimates the signal-to-noise ratio of a speech segment.
type Computer interface {
	// Compute returns the SNR in dB of mono 16-bit PCM at sampleRate.
	Compute(ctx context.Context, pcm []byte, sampleRate int) (float64, error)
}
