// Package file implements [audio.Device] over a file of raw little-endian
// int16 PCM. It is used for replaying captured sessions and for running the
// pipeline on machines without a microphone.
//
// Reads are paced to real time unless Realtime is false. Once the file is
// exhausted the stream keeps delivering silence, like an idle microphone, so
// the trailing segment can still end on a silence tail.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// Device replays a raw PCM file.
type Device struct {
	// Path of the PCM file.
	Path string

	// Format of the samples stored in the file.
	Format audio.Format

	// Realtime paces reads to the playback rate of the file.
	Realtime bool

	// Loop restarts the file at EOF instead of delivering silence.
	Loop bool
}

var _ audio.Device = (*Device)(nil)

// Name implements [audio.Device].
func (d *Device) Name() string { return "file:" + d.Path }

// Open implements [audio.Device]. The requested format is ignored; the file
// format is reported and converted by the source.
func (d *Device) Open(_ context.Context, _ audio.Format, framesPerBuffer int) (audio.Stream, error) {
	if d.Format.SampleRate <= 0 || d.Format.Channels <= 0 {
		return nil, fmt.Errorf("file: %w: format %s", audio.ErrUnsupportedFormat, d.Format)
	}
	f, err := os.Open(d.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file: %w: %w", audio.ErrDeviceUnavailable, err)
		}
		return nil, fmt.Errorf("file: %w: %w", audio.ErrDeviceBusy, err)
	}
	frames := max(framesPerBuffer, 1)
	return &stream{
		dev:    d,
		f:      f,
		r:      bufio.NewReader(f),
		period: time.Duration(int64(frames) * int64(time.Second) / int64(d.Format.SampleRate)),
		frames: frames,
		next:   time.Now(),
	}, nil
}

type stream struct {
	dev    *Device
	f      *os.File
	r      *bufio.Reader
	period time.Duration
	frames int
	next   time.Time
	eof    bool
}

func (s *stream) Format() audio.Format { return s.dev.Format }

func (s *stream) Read(p []byte) (int, error) {
	fb := s.dev.Format.FrameBytes()
	want := min(len(p), s.frames*fb)
	want -= want % fb
	if want == 0 {
		return 0, nil
	}

	if s.dev.Realtime {
		if d := time.Until(s.next); d > 0 {
			time.Sleep(d)
		} else if d < -s.period {
			// The reader stalled (paused source); resume pacing from now
			// rather than bursting the backlog.
			s.next = time.Now()
		}
		s.next = s.next.Add(audio.DurationOf(want/s.dev.Format.Channels, s.dev.Format.SampleRate))
	}

	if s.eof {
		clear(p[:want])
		return want, nil
	}

	n, err := io.ReadFull(s.r, p[:want])
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if s.dev.Loop {
			if _, serr := s.f.Seek(0, io.SeekStart); serr != nil {
				return 0, fmt.Errorf("file: rewind: %w", serr)
			}
			s.r.Reset(s.f)
			m, _ := io.ReadFull(s.r, p[n:want])
			n += m
		} else {
			s.eof = true
		}
		n -= n % fb
		clear(p[n:want])
		return want, nil
	default:
		return n - n%fb, err
	}
}

func (s *stream) Close() error { return s.f.Close() }
