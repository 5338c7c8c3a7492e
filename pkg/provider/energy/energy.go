// Package energy provides pure-Go collaborators based on short-term RMS
// energy: an endpoint detector, an SNR estimator and a quality scorer.
//
// They need no model files or network access and are good enough for quiet
// rooms and tests. They cannot detect overlapping speakers or spoofing, so
// there is no liveness scorer in this package.
//
// Frames are classified with two thresholds: a frame is speech when its RMS
// reaches SpeechThreshold, or when the previous frame was speech and its RMS
// stays above SilenceThreshold.
package energy

import (
	"errors"
	"math"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

const (
	defaultFrame            = 20 * time.Millisecond
	defaultSpeechThreshold  = 0.015
	defaultSilenceThreshold = 0.008

	// MaxSNR caps the estimate for digitally silent noise floors.
	MaxSNR = 60.0

	noiseFloorFraction = 0.1
	minPower           = 1e-10
)

// ErrTooShort is returned when the audio holds less than one analysis frame.
var ErrTooShort = errors.New("energy: audio shorter than one frame")

// Config holds the analysis parameters shared by all collaborators.
type Config struct {
	Frame            time.Duration
	SpeechThreshold  float64
	SilenceThreshold float64
}

// Option is a functional option for the energy collaborators.
type Option func(*Config)

// WithFrame sets the analysis frame length. Default: 20ms.
func WithFrame(d time.Duration) Option {
	return func(c *Config) { c.Frame = d }
}

// WithSpeechThreshold sets the normalised RMS at which a frame becomes
// speech. Default: 0.015.
func WithSpeechThreshold(v float64) Option {
	return func(c *Config) { c.SpeechThreshold = v }
}

// WithSilenceThreshold sets the normalised RMS below which an ongoing run of
// speech frames ends. Default: 0.008.
func WithSilenceThreshold(v float64) Option {
	return func(c *Config) { c.SilenceThreshold = v }
}

func newConfig(opts []Option) Config {
	c := Config{
		Frame:            defaultFrame,
		SpeechThreshold:  defaultSpeechThreshold,
		SilenceThreshold: defaultSilenceThreshold,
	}
	for _, o := range opts {
		o(&c)
	}
	if c.SilenceThreshold > c.SpeechThreshold {
		c.SilenceThreshold = c.SpeechThreshold
	}
	return c
}

// classifier carries the hysteresis state across frames.
type classifier struct {
	cfg      Config
	inSpeech bool
}

func (c *classifier) isSpeech(level float64) bool {
	if c.inSpeech {
		c.inSpeech = level >= c.cfg.SilenceThreshold
	} else {
		c.inSpeech = level >= c.cfg.SpeechThreshold
	}
	return c.inSpeech
}

func (c *classifier) reset() { c.inSpeech = false }

// rms returns the root-mean-square level of samples, normalised to [0, 1].
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// analysis is the frame-level view of a whole segment.
type analysis struct {
	levels []float64
	speech []bool
	frame  time.Duration
}

func analyse(cfg Config, pcm []byte, sampleRate int) (analysis, error) {
	frameBytes := audio.BytesFor(cfg.Frame, sampleRate)
	if frameBytes == 0 || len(pcm) < frameBytes {
		return analysis{}, ErrTooShort
	}
	n := len(pcm) / frameBytes
	a := analysis{
		levels: make([]float64, n),
		speech: make([]bool, n),
		frame:  cfg.Frame,
	}
	cl := classifier{cfg: cfg}
	for i := range n {
		lvl := rms(audio.Samples16(pcm[i*frameBytes : (i+1)*frameBytes]))
		a.levels[i] = lvl
		a.speech[i] = cl.isSpeech(lvl)
	}
	return a, nil
}

func (a analysis) speechLength() time.Duration {
	var n int
	for _, s := range a.speech {
		if s {
			n++
		}
	}
	return time.Duration(n) * a.frame
}

func (a analysis) duration() time.Duration {
	return time.Duration(len(a.levels)) * a.frame
}
