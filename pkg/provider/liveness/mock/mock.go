// Package mock provides a test double for the liveness.Scorer interface.
//
// Probability and Err control the return values; CheckFunc overrides them
// per call, e.g. to block until the context is cancelled.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/liveness"
)

// CheckCall records a single invocation of Scorer.Check.
type CheckCall struct {
	PCM        []byte
	SampleRate int
}

// Scorer is a mock implementation of liveness.Scorer.
type Scorer struct {
	mu sync.Mutex

	// Probability is returned by Check when CheckFunc is nil.
	Probability float64

	// Err, if non-nil, is returned by Check when CheckFunc is nil.
	Err error

	// CheckFunc, if set, computes the return values.
	CheckFunc func(ctx context.Context, pcm []byte, sampleRate int) (float64, error)

	// Calls records every call to Check in order.
	Calls []CheckCall
}

// Check implements liveness.Scorer.
func (s *Scorer) Check(ctx context.Context, pcm []byte, sampleRate int) (float64, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, CheckCall{PCM: pcm, SampleRate: sampleRate})
	fn, p, err := s.CheckFunc, s.Probability, s.Err
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, pcm, sampleRate)
	}
	return p, err
}

// CallCount returns the number of Check calls. Thread-safe.
func (s *Scorer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

var _ liveness.Scorer = (*Scorer)(nil)
