package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/voxgate/internal/engine"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// Minimum speech per verification segment.
const (
	DefaultTDVerificationSpeech = 700 * time.Millisecond
	DefaultTIVerificationSpeech = 5 * time.Second
)

// VerificationConfig configures a [Verification] recorder. Zero fields take
// defaults that depend on Biometrics.
type VerificationConfig struct {
	// Biometrics selects the threshold scenario. Default: [TextDependent].
	Biometrics Biometrics

	// MinSpeech is the speech required before a segment may seal.
	// Default: 700ms for text-dependent, 5s for text-independent.
	MinSpeech time.Duration

	// MaxSilence is the trailing silence that ends an utterance.
	// Default: [engine.DefaultMaxSilence].
	MaxSilence time.Duration

	// MinSNR enables the SNR gate when positive.
	MinSNR float64

	// SkipLiveness disables the liveness gate.
	SkipLiveness bool

	// LivenessThreshold is the minimum live probability. Zero means the
	// liveness package default.
	LivenessThreshold float64

	// RejectMultipleSpeakers rejects segments flagged as multi-speaker. By
	// default they are accepted with [engine.Metrics.MultipleSpeakers] set.
	RejectMultipleSpeakers bool
}

func (c *VerificationConfig) applyDefaults() {
	if c.Biometrics == "" {
		c.Biometrics = TextDependent
	}
	if c.MinSpeech == 0 {
		c.MinSpeech = DefaultTDVerificationSpeech
		if c.Biometrics == TextIndependent {
			c.MinSpeech = DefaultTIVerificationSpeech
		}
	}
	if c.MaxSilence == 0 {
		c.MaxSilence = engine.DefaultMaxSilence
	}
}

func (c VerificationConfig) scenario() quality.Scenario {
	if c.Biometrics == TextIndependent {
		return quality.ScenarioTIVerification
	}
	return quality.ScenarioTDVerification
}

// Verification records a single utterance for speaker verification. The
// session completes with the first segment that passes every gate; rejected
// segments are discarded and capture re-arms.
type Verification struct {
	*session[Sample]
	cfg VerificationConfig
}

// NewVerification returns an idle verification recorder reading from src.
func NewVerification(src Source, deps Deps, cfg VerificationConfig, l Listener[Sample], opts ...Option) (*Verification, error) {
	cfg.applyDefaults()
	if !cfg.Biometrics.Valid() {
		return nil, fmt.Errorf("recorder: verification: unknown biometrics %q", cfg.Biometrics)
	}
	s, err := newSession("verification", src, deps,
		engine.SegmenterConfig{
			Mode:       engine.SealOnEndOfSpeech,
			MinSpeech:  cfg.MinSpeech,
			MaxSilence: cfg.MaxSilence,
		},
		engine.PipelineConfig{
			Scenario:              cfg.scenario(),
			MinSNR:                cfg.MinSNR,
			CheckLiveness:         !cfg.SkipLiveness,
			LivenessThreshold:     cfg.LivenessThreshold,
			AllowMultipleSpeakers: !cfg.RejectMultipleSpeakers,
		},
		verificationPolicy{}, l, opts)
	if err != nil {
		return nil, err
	}
	return &Verification{session: s, cfg: cfg}, nil
}

// Config returns the effective configuration.
func (v *Verification) Config() VerificationConfig { return v.cfg }

type verificationPolicy struct{}

func (verificationPolicy) begin() {}

func (verificationPolicy) index() int { return 0 }

func (verificationPolicy) progress(f float64, accepted bool) (float64, bool) {
	return f, !accepted
}

func (verificationPolicy) accept(_ context.Context, res engine.Result, _ engine.GateObserver) (Sample, bool, error) {
	return sampleOf(res.Segment, res.Metrics), true, nil
}
