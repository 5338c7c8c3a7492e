package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string { return formatString(f.SampleRate, f.Channels) }

// FrameBytes returns the size in bytes of one interleaved sample frame.
func (f Format) FrameBytes() int { return f.Channels * BytesPerSample }

// FormatConverter turns raw device PCM in the From format into mono PCM in
// the To format. It logs a warning on the first mismatch and on the first
// misaligned buffer. Create one per capture stream; not designed for shared
// use across goroutines.
type FormatConverter struct {
	From Format
	To   Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts one device buffer. If the formats already match the input
// is returned unchanged (zero allocation). Conversion order: downmix first,
// then resample, so only one channel is ever interpolated.
func (c *FormatConverter) Convert(pcm []byte) []byte {
	frame := c.From.FrameBytes()
	if frame <= 0 || len(pcm)%frame != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: misaligned PCM buffer, dropping",
				"bytes", len(pcm),
				"format", c.From.String(),
			)
		})
		return nil
	}

	if c.From == c.To {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", c.From.String(),
			"to", c.To.String(),
		)
	})

	switch c.From.Channels {
	case 1:
	case 2:
		pcm = StereoToMono(pcm)
	default:
		pcm = Downmix(pcm, c.From.Channels)
	}
	return ResampleMono16(pcm, c.From.SampleRate, c.To.SampleRate)
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	return Downmix(pcm, 2)
}

// Downmix averages every interleaved frame of the given channel count into a
// single mono sample. Trailing bytes that do not form a whole frame are
// ignored.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * BytesPerSample
	frames := len(pcm) / stride
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*stride + ch*BytesPerSample
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		avg := sum / int32(channels)
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(clamp16(avg)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// Samples16 decodes little-endian int16 PCM into samples. A trailing odd byte
// is ignored.
func Samples16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
	}
	return out
}

// PCM16 encodes samples as little-endian int16 PCM.
func PCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
