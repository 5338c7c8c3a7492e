package recorder

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/voxgate/internal/engine"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// Phrase enrollment defaults.
const (
	DefaultPhrases         = 3
	DefaultPhraseMinSNR    = 8.0
	DefaultPhraseMinSpeech = 700 * time.Millisecond
)

// PhraseConfig configures a [PhraseEnrollment] recorder. Zero fields take
// the defaults.
type PhraseConfig struct {
	// Phrases is the number of accepted repetitions required. Default: 3.
	Phrases int

	// MinSpeech is the speech required before a phrase may seal.
	// Default: 700ms.
	MinSpeech time.Duration

	// MaxSilence is the trailing silence that ends a phrase.
	// Default: [engine.DefaultMaxSilence].
	MaxSilence time.Duration

	// MinSNR is the SNR gate bound in dB. Default: 8. Negative disables
	// the gate.
	MinSNR float64

	// SkipLiveness disables the per-phrase liveness gate.
	SkipLiveness bool

	// LivenessThreshold is the minimum live probability. Zero means the
	// liveness package default.
	LivenessThreshold float64
}

func (c *PhraseConfig) applyDefaults() {
	if c.Phrases == 0 {
		c.Phrases = DefaultPhrases
	}
	if c.MinSpeech == 0 {
		c.MinSpeech = DefaultPhraseMinSpeech
	}
	if c.MaxSilence == 0 {
		c.MaxSilence = engine.DefaultMaxSilence
	}
	if c.MinSNR == 0 {
		c.MinSNR = DefaultPhraseMinSNR
	}
}

// PhraseSet is the result of a phrase enrollment: the accepted phrases in
// the order they were spoken.
type PhraseSet struct {
	Samples []Sample
}

// PhraseEnrollment records the same pass-phrase several times for
// text-dependent enrollment. OnSegmentStarted announces each phrase index;
// rejected phrases are discarded without advancing it.
type PhraseEnrollment struct {
	*session[PhraseSet]
	cfg PhraseConfig
}

// NewPhraseEnrollment returns an idle phrase enrollment recorder reading
// from src.
func NewPhraseEnrollment(src Source, deps Deps, cfg PhraseConfig, l Listener[PhraseSet], opts ...Option) (*PhraseEnrollment, error) {
	cfg.applyDefaults()
	if cfg.Phrases < 1 {
		return nil, fmt.Errorf("recorder: phrase enrollment: phrases must be positive, got %d", cfg.Phrases)
	}
	s, err := newSession("phrase_enrollment", src, deps,
		engine.SegmenterConfig{
			Mode:       engine.SealOnEndOfSpeech,
			MinSpeech:  cfg.MinSpeech,
			MaxSilence: cfg.MaxSilence,
		},
		engine.PipelineConfig{
			Scenario:          quality.ScenarioTDEnrollment,
			MinSNR:            max(cfg.MinSNR, 0),
			CheckLiveness:     !cfg.SkipLiveness,
			LivenessThreshold: cfg.LivenessThreshold,
		},
		&phrasePolicy{n: cfg.Phrases}, l, opts)
	if err != nil {
		return nil, err
	}
	return &PhraseEnrollment{session: s, cfg: cfg}, nil
}

// Config returns the effective configuration.
func (p *PhraseEnrollment) Config() PhraseConfig { return p.cfg }

type phrasePolicy struct {
	n       int
	samples []Sample
}

func (p *phrasePolicy) begin() { p.samples = nil }

func (p *phrasePolicy) index() int { return len(p.samples) }

func (p *phrasePolicy) progress(f float64, accepted bool) (float64, bool) {
	return f, !accepted
}

func (p *phrasePolicy) accept(_ context.Context, res engine.Result, _ engine.GateObserver) (PhraseSet, bool, error) {
	p.samples = append(p.samples, sampleOf(res.Segment, res.Metrics))
	if len(p.samples) < p.n {
		return PhraseSet{}, false, nil
	}
	return PhraseSet{Samples: slices.Clone(p.samples)}, true, nil
}
