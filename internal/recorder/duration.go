package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxgate/internal/engine"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// Duration enrollment defaults.
const (
	DefaultSegmentLength  = 3 * time.Second
	DefaultTargetSpeech   = 10 * time.Second
	DefaultDurationMinSNR = 10.0
)

// DurationConfig configures a [DurationEnrollment] recorder. Zero fields
// take the defaults.
type DurationConfig struct {
	// SegmentLength is the speech per segment. Segments seal as soon as it
	// is reached. Default: 3s.
	SegmentLength time.Duration

	// Target is the cumulative accepted speech that completes the session.
	// Default: 10s.
	Target time.Duration

	// MinSNR is the SNR gate bound in dB. Default: 10. Negative disables
	// the gate.
	MinSNR float64

	// FinalLiveness runs one liveness check over the concatenated speech
	// once the target is reached. Segments are never checked individually.
	FinalLiveness bool

	// LivenessThreshold is the minimum live probability of the final check.
	// Zero means the liveness package default.
	LivenessThreshold float64
}

func (c *DurationConfig) applyDefaults() {
	if c.SegmentLength == 0 {
		c.SegmentLength = DefaultSegmentLength
	}
	if c.Target == 0 {
		c.Target = DefaultTargetSpeech
	}
	if c.MinSNR == 0 {
		c.MinSNR = DefaultDurationMinSNR
	}
}

// DurationSet is the result of a duration enrollment.
type DurationSet struct {
	// PCM is the concatenation of every accepted segment in capture order.
	PCM        []byte
	SampleRate int

	// SpeechLength is the sum of the accepted segments' speech lengths. It
	// is at least the configured target.
	SpeechLength time.Duration

	// Segments is the number of accepted segments.
	Segments int

	// Liveness holds the final liveness check, or nil when it was disabled.
	Liveness *engine.LivenessStatus
}

// Duration returns the audio length of the set.
func (d DurationSet) Duration() time.Duration { return audio.DurationOf(len(d.PCM), d.SampleRate) }

// DurationEnrollment records free speech for text-independent enrollment in
// fixed-length segments until enough speech was accepted.
type DurationEnrollment struct {
	*session[DurationSet]
	cfg DurationConfig
}

// NewDurationEnrollment returns an idle duration enrollment recorder
// reading from src.
func NewDurationEnrollment(src Source, deps Deps, cfg DurationConfig, l Listener[DurationSet], opts ...Option) (*DurationEnrollment, error) {
	cfg.applyDefaults()
	if cfg.SegmentLength < 0 || cfg.Target < 0 {
		return nil, fmt.Errorf("recorder: duration enrollment: negative length (segment %v, target %v)", cfg.SegmentLength, cfg.Target)
	}
	if cfg.FinalLiveness && deps.Liveness == nil {
		return nil, errors.New("recorder: duration enrollment: liveness scorer is required for the final check")
	}
	pol := &durationPolicy{target: cfg.Target, final: cfg.FinalLiveness}
	s, err := newSession("duration_enrollment", src, deps,
		engine.SegmenterConfig{
			Mode:      engine.SealImmediately,
			MinSpeech: cfg.SegmentLength,
		},
		engine.PipelineConfig{
			Scenario:          quality.ScenarioTIEnrollment,
			MinSNR:            max(cfg.MinSNR, 0),
			LivenessThreshold: cfg.LivenessThreshold,
		},
		pol, l, opts)
	if err != nil {
		return nil, err
	}
	pol.gates = s.gates
	return &DurationEnrollment{session: s, cfg: cfg}, nil
}

// Config returns the effective configuration.
func (d *DurationEnrollment) Config() DurationConfig { return d.cfg }

type durationPolicy struct {
	target time.Duration
	final  bool
	gates  *engine.Pipeline

	pcm      []byte
	rate     int
	speech   time.Duration
	segments int
}

func (p *durationPolicy) begin() {
	p.pcm, p.rate, p.speech, p.segments = nil, 0, 0, 0
}

func (p *durationPolicy) index() int { return p.segments }

// progress reports accepted speech against the target. Partial segments
// are not counted.
func (p *durationPolicy) progress(_ float64, accepted bool) (float64, bool) {
	if !accepted {
		return 0, false
	}
	return min(float64(p.speech)/float64(p.target), 1), true
}

func (p *durationPolicy) accept(ctx context.Context, res engine.Result, obs engine.GateObserver) (DurationSet, bool, error) {
	seg := res.Segment
	p.pcm = append(p.pcm, seg.Bytes()...)
	p.rate = seg.SampleRate()
	p.speech += seg.SpeechLength()
	p.segments++
	if p.speech < p.target {
		return DurationSet{}, false, nil
	}

	set := DurationSet{
		PCM:          p.pcm,
		SampleRate:   p.rate,
		SpeechLength: p.speech,
		Segments:     p.segments,
	}
	if p.final {
		st, err := p.gates.CheckLiveness(ctx, p.pcm, p.rate, obs)
		if err != nil {
			return DurationSet{}, false, fmt.Errorf("recorder: final liveness check: %w", err)
		}
		set.Liveness = &st
	}
	p.pcm = nil
	return set, true, nil
}
