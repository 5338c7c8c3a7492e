// Package quality defines the Scorer interface for speech quality assessment
// backends and the thresholds they evaluate against.
//
// A scorer inspects a sealed speech segment and returns a single verdict
// (a [Description]) together with the raw metrics that produced it. Which
// thresholds apply depends on the [Scenario]: enrollment is stricter than
// verification, and text-independent speech needs more material than a
// pass-phrase.
//
// Implementations must be safe for concurrent use.
package quality

import (
	"context"
	"fmt"
	"time"
)

// Description is the verdict of a quality check. Exactly one description is
// returned per segment; when several checks fail the scorer reports the first
// in declaration order.
type Description int

const (
	DescriptionOK Description = iota
	DescriptionTooNoisy
	DescriptionTooSmallSpeechTotalLength
	DescriptionTooSmallSpeechRelativeLength
	DescriptionMultipleSpeakersDetected
)

var descriptionNames = map[Description]string{
	DescriptionOK:                           "ok",
	DescriptionTooNoisy:                     "too_noisy",
	DescriptionTooSmallSpeechTotalLength:    "too_small_speech_total_length",
	DescriptionTooSmallSpeechRelativeLength: "too_small_speech_relative_length",
	DescriptionMultipleSpeakersDetected:     "multiple_speakers_detected",
}

func (d Description) String() string {
	if s, ok := descriptionNames[d]; ok {
		return s
	}
	return fmt.Sprintf("Description(%d)", int(d))
}

// ParseDescription is the inverse of [Description.String].
func ParseDescription(s string) (Description, error) {
	for d, name := range descriptionNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("quality: unknown description %q", s)
}

// Metrics are the raw measurements behind a verdict.
type Metrics struct {
	// SNR is the signal-to-noise ratio in dB.
	SNR float64

	// SpeechLength is the amount of speech found in the segment.
	SpeechLength time.Duration

	// SpeechRelativeLength is SpeechLength divided by the segment duration.
	SpeechRelativeLength float64

	// MultipleSpeakersProbability in [0, 1]. Backends that cannot detect
	// overlapping speakers report 0.
	MultipleSpeakersProbability float64
}

// Thresholds are the acceptance bounds for one scenario.
type Thresholds struct {
	MinSNR                         float64
	MinSpeechLength                time.Duration
	MinSpeechRelativeLength        float64
	MaxMultipleSpeakersProbability float64
}

// Result is the outcome of [Scorer.Score].
type Result struct {
	Description Description
	Metrics     Metrics
}

// Scorer is the interface implemented by every quality backend.
type Scorer interface {
	// Score assesses mono 16-bit PCM at sampleRate against th.
	Score(ctx context.Context, pcm []byte, sampleRate int, th Thresholds) (Result, error)
}
