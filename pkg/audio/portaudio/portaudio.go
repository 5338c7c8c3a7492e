// Package portaudio implements [audio.Device] on top of the PortAudio C
// library via github.com/gordonklaus/portaudio.
//
// Each opened stream initialises PortAudio and terminates it on Close;
// PortAudio reference-counts these calls, so several devices can coexist.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// Device is a PortAudio capture device. The zero value captures from the
// system default input device.
type Device struct {
	// DeviceName selects an input device by its PortAudio name. Empty
	// selects the default input device.
	DeviceName string
}

var _ audio.Device = (*Device)(nil)

// New returns a Device for the named input, or the default input when name
// is empty.
func New(name string) *Device {
	return &Device{DeviceName: name}
}

// Name implements [audio.Device].
func (d *Device) Name() string {
	if d.DeviceName == "" {
		return "default"
	}
	return d.DeviceName
}

// Open implements [audio.Device]. It always opens a mono int16 stream at the
// requested rate; PortAudio performs any host-side conversion.
func (d *Device) Open(_ context.Context, want audio.Format, framesPerBuffer int) (audio.Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", mapError(err, audio.ErrDeviceBusy))
	}

	info, err := d.lookup()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(want.SampleRate)
	params.FramesPerBuffer = framesPerBuffer

	s := &stream{
		buf:    make([]int16, framesPerBuffer),
		format: audio.Format{SampleRate: want.SampleRate, Channels: 1},
		period: time.Duration(int64(framesPerBuffer) * int64(time.Second) / int64(want.SampleRate)),
	}
	s.pa, err = portaudio.OpenStream(params, s.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open %q: %w", info.Name, mapError(err, audio.ErrDeviceBusy))
	}
	if err := s.pa.Start(); err != nil {
		_ = s.pa.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start %q: %w", info.Name, mapError(err, audio.ErrDeviceBusy))
	}
	return s, nil
}

func (d *Device) lookup() (*portaudio.DeviceInfo, error) {
	if d.DeviceName == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input: %w", mapError(err, audio.ErrDeviceBusy))
		}
		return info, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", mapError(err, audio.ErrDeviceBusy))
	}
	for _, info := range devices {
		if info.Name == d.DeviceName && info.MaxInputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device named %q: %w", d.DeviceName, audio.ErrDeviceUnavailable)
}

// InputDevices returns the names of all devices with at least one input
// channel.
func InputDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, mapError(err, audio.ErrDeviceUnavailable)
	}
	defer func() { _ = portaudio.Terminate() }()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, mapError(err, audio.ErrDeviceUnavailable)
	}
	var names []string
	for _, info := range devices {
		if info.MaxInputChannels > 0 {
			names = append(names, info.Name)
		}
	}
	return names, nil
}

type stream struct {
	pa     *portaudio.Stream
	buf    []int16
	format audio.Format
	period time.Duration
}

func (s *stream) Format() audio.Format { return s.format }

// Read polls for a full buffer so the producer can observe cancellation at
// least once per buffer period.
func (s *stream) Read(p []byte) (int, error) {
	avail, err := s.pa.AvailableToRead()
	if err != nil {
		return 0, mapError(err, audio.ErrDeviceRead)
	}
	if avail < len(s.buf) {
		time.Sleep(s.period / 4)
		return 0, nil
	}

	var overflow bool
	if err := s.pa.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return 0, mapError(err, audio.ErrDeviceRead)
		}
		overflow = true
	}

	n := min(len(s.buf), len(p)/audio.BytesPerSample)
	copy(p, audio.PCM16(s.buf[:n]))
	if overflow {
		return n * audio.BytesPerSample, audio.ErrOverflow
	}
	return n * audio.BytesPerSample, nil
}

func (s *stream) Close() error {
	stopErr := s.pa.Stop()
	closeErr := s.pa.Close()
	termErr := portaudio.Terminate()
	return errors.Join(stopErr, closeErr, termErr)
}

// mapError wraps PortAudio error codes with the matching audio error kind,
// or fallback when the code has no specific meaning for capture.
func mapError(err, fallback error) error {
	switch {
	case errors.Is(err, portaudio.InvalidSampleRate),
		errors.Is(err, portaudio.InvalidChannelCount),
		errors.Is(err, portaudio.SampleFormatNotSupported),
		errors.Is(err, portaudio.BufferTooSmall),
		errors.Is(err, portaudio.BufferTooBig):
		return fmt.Errorf("%w: %w", audio.ErrUnsupportedFormat, err)
	case errors.Is(err, portaudio.DeviceUnavailable),
		errors.Is(err, portaudio.InvalidDevice),
		errors.Is(err, portaudio.NotInitialized):
		return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", fallback, err)
	}
}
