package audio_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/mock"
)

const testRate = 16000

// tone returns d of a 440Hz sine at the given rate and channel count.
func tone(d time.Duration, rate, channels int) []byte {
	n := int(int64(d) * int64(rate) / int64(time.Second))
	samples := make([]int16, 0, n*channels)
	for i := range n {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		for range channels {
			samples = append(samples, v)
		}
	}
	return samplesToBytes(samples)
}

func recv(t *testing.T, ch <-chan audio.Chunk, timeout time.Duration) (audio.Chunk, bool) {
	t.Helper()
	select {
	case c, ok := <-ch:
		return c, ok
	case <-time.After(timeout):
		t.Fatalf("no chunk within %s", timeout)
		return audio.Chunk{}, false
	}
}

func expectNone(t *testing.T, ch <-chan audio.Chunk, wait time.Duration) {
	t.Helper()
	select {
	case c, ok := <-ch:
		if ok {
			t.Fatalf("unexpected chunk seq=%d", c.Seq)
		}
	case <-time.After(wait):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newSource(t *testing.T, dev audio.Device, cfg audio.SourceConfig) *audio.Source {
	t.Helper()
	src, err := audio.NewSource(dev, cfg)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	t.Cleanup(func() { _ = src.Stop() })
	return src
}

func TestNewSource_RejectsShortChunks(t *testing.T) {
	t.Parallel()
	_, err := audio.NewSource(&mock.Device{}, audio.SourceConfig{ChunkDuration: 10 * time.Millisecond})
	if err == nil {
		t.Fatal("expected error for chunk shorter than minimum")
	}
}

func TestSource_EmitsFixedChunksInOrder(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{Script: [][]byte{tone(time.Second, testRate, 1)}}
	src := newSource(t, dev, audio.SourceConfig{SampleRate: testRate})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	chunkBytes := audio.BytesFor(audio.MinChunkDuration, testRate)
	want := (testRate * 2) / chunkBytes
	ch := src.Chunks()
	for i := range want {
		c, ok := recv(t, ch, time.Second)
		if !ok {
			t.Fatalf("channel closed after %d chunks", i)
		}
		if c.Seq != uint64(i) {
			t.Fatalf("chunk %d: seq = %d", i, c.Seq)
		}
		if len(c.Data) != chunkBytes {
			t.Errorf("chunk %d: %d bytes, want %d", i, len(c.Data), chunkBytes)
		}
		if c.SampleRate != testRate {
			t.Errorf("chunk %d: rate %d", i, c.SampleRate)
		}
		if wantTS := time.Duration(i) * audio.MinChunkDuration; c.Timestamp != wantTS {
			t.Errorf("chunk %d: timestamp %s, want %s", i, c.Timestamp, wantTS)
		}
	}
	if got := src.State(); got != audio.StateRecording {
		t.Errorf("State = %s, want recording", got)
	}
}

func TestSource_ConvertsDeviceFormat(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{
		StreamFormat: audio.Format{SampleRate: 48000, Channels: 2},
		Script:       [][]byte{tone(500*time.Millisecond, 48000, 2)},
	}
	src := newSource(t, dev, audio.SourceConfig{SampleRate: testRate})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c, _ := recv(t, src.Chunks(), time.Second)
	if c.SampleRate != testRate || len(c.Data) != audio.BytesFor(audio.MinChunkDuration, testRate) {
		t.Errorf("got %d bytes at %dHz", len(c.Data), c.SampleRate)
	}
}

func TestSource_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	src := newSource(t, dev, audio.SourceConfig{})
	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	first := dev.LastStream()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !first.Closed() {
		t.Error("restart did not release the previous device stream")
	}
	if len(dev.OpenCalls) != 2 {
		t.Errorf("OpenCalls = %d, want 2", len(dev.OpenCalls))
	}
	if src.State() != audio.StateRecording {
		t.Errorf("State = %s, want recording", src.State())
	}
}

func TestSource_StopReleasesDeviceAndClearsQueue(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{Script: [][]byte{tone(time.Second, testRate, 1)}}
	src := newSource(t, dev, audio.SourceConfig{SampleRate: testRate})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "chunks", func() bool { return src.Stats().Chunks > 3 })
	ch := src.Chunks()

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if !dev.LastStream().Closed() {
		t.Error("device stream not closed")
	}
	if _, ok := <-ch; ok {
		t.Error("queue still held chunks after Stop")
	}
	if src.State() != audio.StateStopped {
		t.Errorf("State = %s, want stopped", src.State())
	}
	if err := src.Err(); err != nil {
		t.Errorf("Err after regular stop = %v", err)
	}
}

func TestSource_OpenErrorIsClassified(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"busy", fmt.Errorf("held by pid 42: %w", audio.ErrDeviceBusy), audio.ErrDeviceBusy},
		{"format", fmt.Errorf("8kHz only: %w", audio.ErrUnsupportedFormat), audio.ErrUnsupportedFormat},
		{"unknown", errors.New("boom"), audio.ErrDeviceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			src := newSource(t, &mock.Device{OpenError: tc.err}, audio.SourceConfig{})
			err := src.Start(context.Background())
			if !errors.Is(err, tc.kind) {
				t.Fatalf("Start error = %v, want kind %v", err, tc.kind)
			}
			var aerr *audio.AudioError
			if !errors.As(err, &aerr) || aerr.Op != "open" {
				t.Errorf("want *AudioError with op open, got %#v", err)
			}
			if src.State() != audio.StateStopped {
				t.Errorf("State = %s, want stopped", src.State())
			}
		})
	}
}

func TestSource_ReadErrorIsTerminal(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{ReadError: errors.New("unplugged")}
	src := newSource(t, dev, audio.SourceConfig{})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := recv(t, src.Chunks(), time.Second); ok {
		t.Fatal("expected channel to close on read failure")
	}
	if !errors.Is(src.Err(), audio.ErrDeviceRead) {
		t.Errorf("Err = %v, want ErrDeviceRead", src.Err())
	}
	if src.State() != audio.StateStopped {
		t.Errorf("State = %s, want stopped", src.State())
	}
}

func TestSource_OverflowIsNotFatal(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	src := newSource(t, dev, audio.SourceConfig{SampleRate: testRate})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := dev.LastStream()
	s.PushError(audio.ErrOverflow)
	s.Push(tone(100*time.Millisecond, testRate, 1))

	if _, ok := recv(t, src.Chunks(), time.Second); !ok {
		t.Fatal("channel closed after overflow")
	}
	if got := src.Stats().Overruns; got != 1 {
		t.Errorf("Overruns = %d, want 1", got)
	}
	if src.Err() != nil {
		t.Errorf("Err = %v, want nil", src.Err())
	}
}

func TestSource_PauseBlocksProducer(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	src := newSource(t, dev, audio.SourceConfig{SampleRate: testRate})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Pause()
	if src.State() != audio.StatePaused {
		t.Fatalf("State = %s, want paused", src.State())
	}
	// Let the producer finish any in-flight poll and park on the latch.
	time.Sleep(20 * time.Millisecond)

	dev.LastStream().Push(tone(100*time.Millisecond, testRate, 1))
	expectNone(t, src.Chunks(), 30*time.Millisecond)

	src.Resume()
	if _, ok := recv(t, src.Chunks(), time.Second); !ok {
		t.Fatal("channel closed")
	}
}

func TestSource_SuspendIsIndependentOfPause(t *testing.T) {
	t.Parallel()

	src := newSource(t, &mock.Device{}, audio.SourceConfig{})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	release := src.Suspend()
	src.Pause()
	src.Resume()
	if src.State() != audio.StatePaused {
		t.Fatalf("Resume lifted a consumer suspension: state %s", src.State())
	}
	release()
	release()
	if src.State() != audio.StateRecording {
		t.Fatalf("State = %s after release, want recording", src.State())
	}

	src.Pause()
	stale := src.Suspend()
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	stale()
	if src.State() != audio.StateRecording {
		t.Errorf("State = %s after restart, want recording", src.State())
	}
}

func TestSource_DropsStaleChunksWhenQueueFull(t *testing.T) {
	t.Parallel()

	const total = 10
	dev := &mock.Device{Script: [][]byte{tone(total*audio.MinChunkDuration, testRate, 1)}}
	src := newSource(t, dev, audio.SourceConfig{SampleRate: testRate, QueueCapacity: 2})
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "all chunks produced", func() bool { return src.Stats().Chunks == total })

	stats := src.Stats()
	if stats.Dropped == 0 {
		t.Fatal("expected dropped chunks with a full queue")
	}

	var got []audio.Chunk
	ch := src.Chunks()
drain:
	for {
		select {
		case c := <-ch:
			got = append(got, c)
		default:
			break drain
		}
	}
	if len(got) == 0 || len(got) > 2 {
		t.Fatalf("received %d chunks, want 1..2", len(got))
	}
	if last := got[len(got)-1].Seq; last != total-1 {
		t.Errorf("last seq = %d, want newest %d", last, total-1)
	}
	if uint64(len(got))+stats.Dropped != total {
		t.Errorf("received %d + dropped %d != produced %d", len(got), stats.Dropped, total)
	}
}
