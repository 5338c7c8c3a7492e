package quality

import (
	"fmt"
	"maps"
	"sync/atomic"
	"time"
)

// Scenario selects the threshold set for a quality check.
type Scenario string

const (
	ScenarioTDEnrollment   Scenario = "td_enrollment"
	ScenarioTIEnrollment   Scenario = "ti_enrollment"
	ScenarioTDVerification Scenario = "td_verification"
	ScenarioTIVerification Scenario = "ti_verification"
)

// Scenarios lists every known scenario.
var Scenarios = []Scenario{
	ScenarioTDEnrollment,
	ScenarioTIEnrollment,
	ScenarioTDVerification,
	ScenarioTIVerification,
}

// Valid reports whether s is a known scenario.
func (s Scenario) Valid() bool {
	for _, known := range Scenarios {
		if s == known {
			return true
		}
	}
	return false
}

// ThresholdProvider returns the thresholds to apply for a scenario.
type ThresholdProvider interface {
	Thresholds(s Scenario) (Thresholds, error)
}

// StaticThresholds is a fixed [ThresholdProvider].
type StaticThresholds map[Scenario]Thresholds

var _ ThresholdProvider = StaticThresholds(nil)

// Thresholds implements [ThresholdProvider].
func (t StaticThresholds) Thresholds(s Scenario) (Thresholds, error) {
	th, ok := t[s]
	if !ok {
		return Thresholds{}, fmt.Errorf("quality: no thresholds for scenario %q", s)
	}
	return th, nil
}

// Merge returns a copy of t with every scenario in override replaced.
func (t StaticThresholds) Merge(override StaticThresholds) StaticThresholds {
	out := maps.Clone(t)
	if out == nil {
		out = make(StaticThresholds, len(override))
	}
	maps.Copy(out, override)
	return out
}

// SwappableThresholds is a [ThresholdProvider] whose table can be replaced
// while sessions are reading it. The zero value has no thresholds.
type SwappableThresholds struct {
	table atomic.Pointer[StaticThresholds]
}

var _ ThresholdProvider = (*SwappableThresholds)(nil)

// NewSwappableThresholds returns a provider serving t.
func NewSwappableThresholds(t StaticThresholds) *SwappableThresholds {
	s := &SwappableThresholds{}
	s.Store(t)
	return s
}

// Store replaces the table. t is copied.
func (s *SwappableThresholds) Store(t StaticThresholds) {
	c := maps.Clone(t)
	s.table.Store(&c)
}

// Thresholds implements [ThresholdProvider].
func (s *SwappableThresholds) Thresholds(sc Scenario) (Thresholds, error) {
	t := s.table.Load()
	if t == nil {
		return Thresholds{}, fmt.Errorf("quality: no thresholds for scenario %q", sc)
	}
	return t.Thresholds(sc)
}

// DefaultThresholds returns conservative bounds for every scenario.
// Enrollment demands cleaner audio than verification; text-independent
// speech is judged on longer material.
func DefaultThresholds() StaticThresholds {
	return StaticThresholds{
		ScenarioTDEnrollment: {
			MinSNR:                         10,
			MinSpeechLength:                700 * time.Millisecond,
			MinSpeechRelativeLength:        0.3,
			MaxMultipleSpeakersProbability: 0.5,
		},
		ScenarioTIEnrollment: {
			MinSNR:                         10,
			MinSpeechLength:                2 * time.Second,
			MinSpeechRelativeLength:        0.5,
			MaxMultipleSpeakersProbability: 0.5,
		},
		ScenarioTDVerification: {
			MinSNR:                         8,
			MinSpeechLength:                700 * time.Millisecond,
			MinSpeechRelativeLength:        0.2,
			MaxMultipleSpeakersProbability: 0.7,
		},
		ScenarioTIVerification: {
			MinSNR:                         8,
			MinSpeechLength:                3 * time.Second,
			MinSpeechRelativeLength:        0.4,
			MaxMultipleSpeakersProbability: 0.7,
		},
	}
}

// Evaluate applies th to m and returns the first failing description in
// declaration order, or [DescriptionOK].
func Evaluate(m Metrics, th Thresholds) Description {
	switch {
	case m.SNR < th.MinSNR:
		return DescriptionTooNoisy
	case m.SpeechLength < th.MinSpeechLength:
		return DescriptionTooSmallSpeechTotalLength
	case m.SpeechRelativeLength < th.MinSpeechRelativeLength:
		return DescriptionTooSmallSpeechRelativeLength
	case th.MaxMultipleSpeakersProbability > 0 && m.MultipleSpeakersProbability > th.MaxMultipleSpeakersProbability:
		return DescriptionMultipleSpeakersDetected
	default:
		return DescriptionOK
	}
}
