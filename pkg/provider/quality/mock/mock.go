// Package mock provides a test double for the quality.Scorer interface.
//
// Set Result and Err to control what Score returns, or ScoreFunc for
// per-call behaviour. Every invocation is recorded in Calls.
//
// Example:
//
//	scorer := &mock.Scorer{
//	    Result: quality.Result{Description: quality.DescriptionTooNoisy},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// ScoreCall records a single invocation of Scorer.Score.
type ScoreCall struct {
	PCM        []byte
	SampleRate int
	Thresholds quality.Thresholds
}

// Scorer is a mock implementation of quality.Scorer.
type Scorer struct {
	mu sync.Mutex

	// Result is returned by Score when ScoreFunc is nil.
	Result quality.Result

	// Err, if non-nil, is returned by Score when ScoreFunc is nil.
	Err error

	// ScoreFunc, if set, computes the return values.
	ScoreFunc func(ctx context.Context, pcm []byte, sampleRate int, th quality.Thresholds) (quality.Result, error)

	// Calls records every call to Score in order.
	Calls []ScoreCall
}

// Score implements quality.Scorer.
func (s *Scorer) Score(ctx context.Context, pcm []byte, sampleRate int, th quality.Thresholds) (quality.Result, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, ScoreCall{PCM: pcm, SampleRate: sampleRate, Thresholds: th})
	fn, res, err := s.ScoreFunc, s.Result, s.Err
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, pcm, sampleRate, th)
	}
	return res, err
}

// CallCount returns the number of Score calls. Thread-safe.
func (s *Scorer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// ThresholdProvider is a mock implementation of quality.ThresholdProvider.
type ThresholdProvider struct {
	mu sync.Mutex

	// Result is returned by Thresholds.
	Result quality.Thresholds

	// Err, if non-nil, is returned by Thresholds.
	Err error

	// Scenarios records every requested scenario in order.
	Scenarios []quality.Scenario
}

// Thresholds implements quality.ThresholdProvider.
func (p *ThresholdProvider) Thresholds(s quality.Scenario) (quality.Thresholds, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scenarios = append(p.Scenarios, s)
	return p.Result, p.Err
}

var (
	_ quality.Scorer            = (*Scorer)(nil)
	_ quality.ThresholdProvider = (*ThresholdProvider)(nil)
)
