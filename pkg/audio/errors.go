package audio

import (
	"errors"
	"fmt"
)

// Error kinds reported by a [Source]. Match them with [errors.Is]; the
// concrete value returned by the source is always an [*AudioError].
var (
	// ErrUnsupportedFormat means the device cannot deliver the requested
	// sample rate, channel count, or buffer size.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")

	// ErrDeviceBusy means another process holds the capture device.
	ErrDeviceBusy = errors.New("audio: device busy")

	// ErrDeviceUnavailable means the device does not exist or vanished.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrDeviceRead means a read from an open device failed.
	ErrDeviceRead = errors.New("audio: device read failed")
)

// ErrOverflow is returned by [Stream.Read] when the device dropped input
// because it was not read fast enough. It is not terminal: the producer
// counts it and keeps reading.
var ErrOverflow = errors.New("audio: input overflow")

// AudioError is the terminal failure of a capture session. Kind is one of the
// sentinel errors above; Err carries the device-specific cause, if any.
type AudioError struct {
	Op     string
	Device string
	Kind   error
	Err    error
}

func (e *AudioError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("audio: %s %q: %v", e.Op, e.Device, e.Kind)
	case errors.Is(e.Err, e.Kind):
		// The cause already names the kind.
		return fmt.Sprintf("audio: %s %q: %v", e.Op, e.Device, e.Err)
	default:
		return fmt.Sprintf("audio: %s %q: %v: %v", e.Op, e.Device, e.Kind, e.Err)
	}
}

func (e *AudioError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// classify picks the error kind for a device failure, defaulting to fallback
// when the cause does not wrap any known kind.
func classify(err, fallback error) error {
	for _, kind := range []error{ErrUnsupportedFormat, ErrDeviceBusy, ErrDeviceUnavailable, ErrDeviceRead} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return fallback
}
