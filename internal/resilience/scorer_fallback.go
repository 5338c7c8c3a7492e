package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/voxgate/pkg/provider/liveness"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
	"github.com/MrWong99/voxgate/pkg/provider/snr"
)

// QualityFallback implements [quality.Scorer] with failover across several
// quality backends.
type QualityFallback struct {
	*FallbackGroup[quality.Scorer]
}

var _ quality.Scorer = (*QualityFallback)(nil)

// NewQualityFallback returns a [QualityFallback] preferring primary.
func NewQualityFallback(primary quality.Scorer, primaryName string, cfg FallbackConfig) *QualityFallback {
	return &QualityFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Score asks the first healthy backend to score pcm.
func (f *QualityFallback) Score(ctx context.Context, pcm []byte, sampleRate int, th quality.Thresholds) (quality.Result, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(ctx context.Context, s quality.Scorer) (quality.Result, error) {
		return s.Score(ctx, pcm, sampleRate, th)
	})
}

// Close closes every backend that implements [io.Closer].
func (f *QualityFallback) Close() error { return closeAll(f.FallbackGroup) }

// LivenessFallback implements [liveness.Scorer] with failover across several
// anti-spoofing backends.
type LivenessFallback struct {
	*FallbackGroup[liveness.Scorer]
}

var _ liveness.Scorer = (*LivenessFallback)(nil)

// NewLivenessFallback returns a [LivenessFallback] preferring primary.
func NewLivenessFallback(primary liveness.Scorer, primaryName string, cfg FallbackConfig) *LivenessFallback {
	return &LivenessFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Check asks the first healthy backend for a liveness probability.
func (f *LivenessFallback) Check(ctx context.Context, pcm []byte, sampleRate int) (float64, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(ctx context.Context, s liveness.Scorer) (float64, error) {
		return s.Check(ctx, pcm, sampleRate)
	})
}

// Close closes every backend that implements [io.Closer].
func (f *LivenessFallback) Close() error { return closeAll(f.FallbackGroup) }

// SNRFallback implements [snr.Computer] with failover.
type SNRFallback struct {
	*FallbackGroup[snr.Computer]
}

var _ snr.Computer = (*SNRFallback)(nil)

// NewSNRFallback returns an [SNRFallback] preferring primary.
func NewSNRFallback(primary snr.Computer, primaryName string, cfg FallbackConfig) *SNRFallback {
	return &SNRFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Compute asks the first healthy backend for the SNR of pcm.
func (f *SNRFallback) Compute(ctx context.Context, pcm []byte, sampleRate int) (float64, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(ctx context.Context, c snr.Computer) (float64, error) {
		return c.Compute(ctx, pcm, sampleRate)
	})
}

// Close closes every backend that implements [io.Closer].
func (f *SNRFallback) Close() error { return closeAll(f.FallbackGroup) }

// closeAll closes every entry that implements [io.Closer].
func closeAll[T any](fg *FallbackGroup[T]) error {
	var errs []error
	fg.Each(func(_ string, v T) {
		if c, ok := any(v).(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}
