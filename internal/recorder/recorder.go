// Package recorder implements capture sessions on top of the gating engine.
//
// Three recorders share one lifecycle (Start, Pause, Resume, Stop) and one
// event surface ([Listener]) and differ only in when a session is complete:
//
//   - [Verification] completes with the first accepted segment.
//   - [PhraseEnrollment] completes once N segments (default 3) were accepted,
//     announcing each new phrase with OnSegmentStarted.
//   - [DurationEnrollment] seals fixed-length segments immediately and
//     completes once their cumulative speech length reaches a target.
//
// A session owns its audio source for its lifetime: Start starts the source,
// and the source is stopped when the session completes, fails or is stopped.
// Listener callbacks run on the session's consumer goroutine, one at a time.
// No callback runs after Stop returns, and a stopped session never calls
// OnComplete. Callbacks may query and control their recorder; Stop called
// from a callback ends the session without waiting for it.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxgate/internal/engine"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/endpoint"
	"github.com/MrWong99/voxgate/pkg/provider/liveness"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
	"github.com/MrWong99/voxgate/pkg/provider/snr"
)

// ErrActive is returned by Start while a session is recording or paused.
var ErrActive = errors.New("recorder: session already active")

// State is the lifecycle state of a recorder.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateCompleted
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// active reports whether a session is running.
func (s State) active() bool { return s == StateRecording || s == StatePaused }

// Listener receives session events. P is the completion payload of the
// recorder.
type Listener[P any] interface {
	// OnQualityStatus reports the quality verdict of each gated segment.
	OnQualityStatus(status quality.Description)

	// OnLivenessStarted is called before a liveness check runs.
	OnLivenessStarted()

	// OnLivenessStatus reports the outcome of a liveness check.
	OnLivenessStatus(status engine.LivenessStatus)

	// OnProgress reports session progress in [0, 1]. It is called only when
	// the collected speech grows.
	OnProgress(fraction float64)

	// OnSegmentStarted announces the index of the segment now being
	// captured. Rejections do not advance the index.
	OnSegmentStarted(index int)

	// OnRejected reports a discarded segment. Capture continues.
	OnRejected(reason engine.Reason)

	// OnComplete delivers the session result. The session ends afterwards.
	OnComplete(payload P)

	// OnFailed reports a fatal capture error. The session ends afterwards.
	OnFailed(err error)
}

// Funcs adapts optional functions to a [Listener]. Nil fields are ignored.
type Funcs[P any] struct {
	QualityStatus   func(quality.Description)
	LivenessStarted func()
	LivenessStatus  func(engine.LivenessStatus)
	Progress        func(float64)
	SegmentStarted  func(int)
	Rejected        func(engine.Reason)
	Complete        func(P)
	Failed          func(error)
}

func (f Funcs[P]) OnQualityStatus(s quality.Description) {
	if f.QualityStatus != nil {
		f.QualityStatus(s)
	}
}

func (f Funcs[P]) OnLivenessStarted() {
	if f.LivenessStarted != nil {
		f.LivenessStarted()
	}
}

func (f Funcs[P]) OnLivenessStatus(s engine.LivenessStatus) {
	if f.LivenessStatus != nil {
		f.LivenessStatus(s)
	}
}

func (f Funcs[P]) OnProgress(fraction float64) {
	if f.Progress != nil {
		f.Progress(fraction)
	}
}

func (f Funcs[P]) OnSegmentStarted(index int) {
	if f.SegmentStarted != nil {
		f.SegmentStarted(index)
	}
}

func (f Funcs[P]) OnRejected(r engine.Reason) {
	if f.Rejected != nil {
		f.Rejected(r)
	}
}

func (f Funcs[P]) OnComplete(p P) {
	if f.Complete != nil {
		f.Complete(p)
	}
}

func (f Funcs[P]) OnFailed(err error) {
	if f.Failed != nil {
		f.Failed(err)
	}
}

// Sample is one accepted segment handed to the caller.
type Sample struct {
	// PCM is mono 16-bit little-endian audio. It must not be modified.
	PCM          []byte
	SampleRate   int
	SpeechLength time.Duration
	Metrics      engine.Metrics
}

func sampleOf(seg *engine.Segment, m engine.Metrics) Sample {
	return Sample{
		PCM:          seg.Bytes(),
		SampleRate:   seg.SampleRate(),
		SpeechLength: seg.SpeechLength(),
		Metrics:      m,
	}
}

// Duration returns the audio length of the sample.
func (s Sample) Duration() time.Duration { return audio.DurationOf(len(s.PCM), s.SampleRate) }

// Biometrics selects text-dependent (pass-phrase) or text-independent
// (free speech) thresholds.
type Biometrics string

const (
	TextDependent   Biometrics = "text_dependent"
	TextIndependent Biometrics = "text_independent"
)

// Valid reports whether b is a known mode.
func (b Biometrics) Valid() bool { return b == TextDependent || b == TextIndependent }

// Source is the audio source a recorder drives. [*audio.Source] satisfies it.
type Source interface {
	engine.ChunkSource
	Start(ctx context.Context) error
	Stop() error
	Pause()
	Resume()
	Config() audio.SourceConfig
}

var _ Source = (*audio.Source)(nil)

// Deps are the external collaborators used by a recorder. Endpoint, Quality
// and Thresholds are always required; SNR and Liveness only when the
// recorder's configuration enables those gates.
type Deps struct {
	Endpoint   endpoint.Detector
	Quality    quality.Scorer
	Thresholds quality.ThresholdProvider
	SNR        snr.Computer
	Liveness   liveness.Scorer
}

func (d Deps) collaborators() engine.Collaborators {
	return engine.Collaborators{
		Quality:    d.Quality,
		Thresholds: d.Thresholds,
		SNR:        d.SNR,
		Liveness:   d.Liveness,
	}
}

// Option is a functional option for configuring a recorder.
type Option func(*options)

type options struct {
	metrics *observe.Metrics
	log     *slog.Logger
}

// WithMetrics records session, engine and gate metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the session logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}
