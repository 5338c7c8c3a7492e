package energy

import (
	"context"
	"math"
	"slices"

	"github.com/MrWong99/voxgate/pkg/provider/quality"
	"github.com/MrWong99/voxgate/pkg/provider/snr"
)

// SNR is an [snr.Computer] that compares the mean power of speech frames
// against the quietest tenth of the segment.
type SNR struct {
	cfg Config
}

var _ snr.Computer = (*SNR)(nil)

// NewSNR returns an SNR estimator configured by opts.
func NewSNR(opts ...Option) *SNR {
	return &SNR{cfg: newConfig(opts)}
}

// Compute implements [snr.Computer].
func (s *SNR) Compute(ctx context.Context, pcm []byte, sampleRate int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a, err := analyse(s.cfg, pcm, sampleRate)
	if err != nil {
		return 0, err
	}
	return a.snr(), nil
}

func (a analysis) snr() float64 {
	powers := make([]float64, len(a.levels))
	var signal float64
	var speechFrames int
	for i, lvl := range a.levels {
		powers[i] = lvl * lvl
		if a.speech[i] {
			signal += powers[i]
			speechFrames++
		}
	}
	slices.Sort(powers)
	if speechFrames == 0 {
		return 0
	}
	signal /= float64(speechFrames)

	floor := max(1, int(float64(len(powers))*noiseFloorFraction))
	var noise float64
	for _, p := range powers[:floor] {
		noise += p
	}
	noise = max(noise/float64(floor), minPower)

	db := 10 * math.Log10(signal/noise)
	return min(max(db, 0), MaxSNR)
}

// Scorer is a [quality.Scorer] built from the energy analysis. It never
// reports multiple speakers.
type Scorer struct {
	cfg Config
}

var _ quality.Scorer = (*Scorer)(nil)

// NewScorer returns a quality Scorer configured by opts.
func NewScorer(opts ...Option) *Scorer {
	return &Scorer{cfg: newConfig(opts)}
}

// Score implements [quality.Scorer].
func (s *Scorer) Score(ctx context.Context, pcm []byte, sampleRate int, th quality.Thresholds) (quality.Result, error) {
	if err := ctx.Err(); err != nil {
		return quality.Result{}, err
	}
	a, err := analyse(s.cfg, pcm, sampleRate)
	if err != nil {
		return quality.Result{}, err
	}
	m := quality.Metrics{
		SNR:          a.snr(),
		SpeechLength: a.speechLength(),
	}
	if d := a.duration(); d > 0 {
		m.SpeechRelativeLength = float64(m.SpeechLength) / float64(d)
	}
	return quality.Result{Description: quality.Evaluate(m, th), Metrics: m}, nil
}
