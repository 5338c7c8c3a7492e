package audio

import "context"

// Device is a capture device that can be opened for reading raw PCM.
//
// Implementations must be safe to Open again after the previous [Stream] was
// closed. The capture backends live in sub-packages (portaudio, file) so that
// this package stays free of cgo.
type Device interface {
	// Name returns a human-readable identifier used in logs and errors.
	Name() string

	// Open starts capture with the requested format and buffer size. The
	// device may deliver a different format, reported by [Stream.Format];
	// the [Source] converts it. Errors should wrap one of the audio error
	// kinds (e.g. [ErrDeviceBusy]) so they can be classified.
	Open(ctx context.Context, want Format, framesPerBuffer int) (Stream, error)
}

// Stream is an open capture stream. It is owned by exactly one goroutine;
// Read and Close are never called concurrently.
type Stream interface {
	// Format returns the format of the PCM delivered by Read.
	Format() Format

	// Read fills p with whole interleaved frames of little-endian int16 PCM
	// and returns the number of bytes written. It should block for at most
	// about one buffer period; returning (0, nil) when no audio is ready is
	// allowed. An error wrapping [ErrOverflow] is non-fatal and may be
	// accompanied by n > 0.
	Read(p []byte) (int, error)

	// Close stops capture and releases the device.
	Close() error
}

// Observer receives capture events from a [Source]. Methods are called from
// the producer goroutine and must not block.
type Observer interface {
	ChunkCaptured(c Chunk)
	ChunksDropped(n int)
	Overrun()
}
