package file_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/file"
)

func writePCM(t *testing.T, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.pcm")
	if err := os.WriteFile(path, audio.PCM16(samples), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDevice_ReadsThenPadsSilence(t *testing.T) {
	t.Parallel()

	path := writePCM(t, []int16{1, 2, 3})
	dev := &file.Device{Path: path, Format: audio.Format{SampleRate: 16000, Channels: 1}}
	s, err := dev.Open(context.Background(), audio.Format{}, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	buf := make([]byte, 8)
	n, err := s.Read(buf)
	if err != nil || n != 8 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	got := audio.Samples16(buf[:n])
	want := []int16{1, 2, 3, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}

	n, err = s.Read(buf)
	if err != nil || n != 8 {
		t.Fatalf("Read after EOF = %d, %v", n, err)
	}
	for i, v := range audio.Samples16(buf) {
		if v != 0 {
			t.Errorf("sample %d after EOF = %d, want silence", i, v)
		}
	}
}

func TestDevice_Loop(t *testing.T) {
	t.Parallel()

	path := writePCM(t, []int16{7, 8})
	dev := &file.Device{Path: path, Format: audio.Format{SampleRate: 16000, Channels: 1}, Loop: true}
	s, err := dev.Open(context.Background(), audio.Format{}, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	buf := make([]byte, 4)
	for range 3 {
		if _, err := s.Read(buf); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	got := audio.Samples16(buf)
	if got[0] != 7 || got[1] != 8 {
		t.Errorf("looped samples = %v, want [7 8]", got)
	}
}

func TestDevice_RealtimeResumesPacingAfterStall(t *testing.T) {
	t.Parallel()

	// 10ms per read at 8kHz mono with 80-frame buffers.
	path := writePCM(t, make([]int16, 8000))
	dev := &file.Device{Path: path, Format: audio.Format{SampleRate: 8000, Channels: 1}, Realtime: true}
	s, err := dev.Open(context.Background(), audio.Format{}, 80)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	buf := make([]byte, 160)
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read after stall: %v", err)
	}

	start := time.Now()
	for range 3 {
		if _, err := s.Read(buf); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	// Paced reads take about 30ms; a backlog burst returns at once.
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("3 reads after stall took %v, want paced at ~10ms each", elapsed)
	}
}

func TestDevice_MissingFile(t *testing.T) {
	t.Parallel()

	dev := &file.Device{Path: filepath.Join(t.TempDir(), "nope.pcm"), Format: audio.Format{SampleRate: 16000, Channels: 1}}
	_, err := dev.Open(context.Background(), audio.Format{}, 4)
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Open error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestDevice_InvalidFormat(t *testing.T) {
	t.Parallel()

	dev := &file.Device{Path: writePCM(t, nil)}
	_, err := dev.Open(context.Background(), audio.Format{}, 4)
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("Open error = %v, want ErrUnsupportedFormat", err)
	}
}
