package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxgate/internal/engine"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/provider/endpoint"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// policy is the completion rule of a recorder. Its methods are called on the
// consumer goroutine, except begin which runs in Start before the goroutine
// is launched.
type policy[P any] interface {
	// begin clears accumulated state for a new session.
	begin()

	// progress maps segmenter progress to session progress. It is called
	// with accepted set once a segment was accepted and consumed. The second
	// result suppresses the event.
	progress(segment float64, accepted bool) (float64, bool)

	// accept consumes an accepted verdict and reports whether the session is
	// complete. A non-nil error fails the session.
	accept(ctx context.Context, res engine.Result, obs engine.GateObserver) (payload P, complete bool, err error)

	// index returns the index of the segment being captured.
	index() int
}

// session runs one recorder's capture sessions. Only one session is active
// at a time; a finished session can be followed by a new Start.
type session[P any] struct {
	kind   string
	src    Source
	det    endpoint.Detector
	segCfg engine.SegmenterConfig
	gates  *engine.Pipeline
	pol    policy[P]
	l      Listener[P]
	opts   options

	mu       sync.Mutex // guards the fields below
	state    State
	id       string
	cancel   context.CancelFunc
	done     chan struct{}
	closeErr error

	// deliverMu serialises listener callbacks with Stop so that none starts
	// once the session context is cancelled.
	deliverMu sync.Mutex

	// consumer is the goroutine id of the running consumer. Stop compares it
	// with its caller to recognise a call from inside a listener callback.
	consumer atomic.Uint64
}

func newSession[P any](kind string, src Source, deps Deps, segCfg engine.SegmenterConfig, pipeCfg engine.PipelineConfig, pol policy[P], l Listener[P], opts []Option) (*session[P], error) {
	var errs []error
	if src == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if deps.Endpoint == nil {
		errs = append(errs, errors.New("endpoint detector is required"))
	}
	if l == nil {
		errs = append(errs, errors.New("listener is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("recorder: %s: %w", kind, err)
	}

	o := buildOptions(opts)
	gates, err := engine.NewPipeline(pipeCfg, deps.collaborators(), engine.WithMetrics(o.metrics))
	if err != nil {
		return nil, fmt.Errorf("recorder: %s: %w", kind, err)
	}
	segCfg.SampleRate = src.Config().SampleRate

	done := make(chan struct{})
	close(done)
	return &session[P]{
		kind:   kind,
		src:    src,
		det:    deps.Endpoint,
		segCfg: segCfg,
		gates:  gates,
		pol:    pol,
		l:      l,
		opts:   o,
		done:   done,
	}, nil
}

// Start starts the audio source and begins capturing. It returns
// [ErrActive] if a session is already running, and the source's
// [*audio.AudioError] if the device cannot be opened. Cancelling ctx ends
// the session like Stop, except that it does not wait.
func (s *session[P]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.active() {
		return ErrActive
	}
	<-s.done

	seg, err := engine.NewSegmenter(s.det, s.segCfg)
	if err != nil {
		return fmt.Errorf("recorder: %s: %w", s.kind, err)
	}

	id := uuid.NewString()
	sctx, cancel := context.WithCancel(ctx)
	sctx, span := observe.StartSpan(sctx, "recorder.session", trace.WithAttributes(
		attribute.String("recorder", s.kind),
		attribute.String("session_id", id),
	))
	log := s.opts.log.With("recorder", s.kind, "session_id", id)
	if tid := observe.TraceID(sctx); tid != "" {
		log = log.With("trace_id", tid)
	}

	if err := s.src.Start(sctx); err != nil {
		_ = seg.Close()
		observe.EndSpan(span, err)
		cancel()
		return err
	}

	h := &handler[P]{s: s, ctx: sctx}
	s.pol.begin()

	eng := engine.New(s.src, seg, s.gates, h,
		engine.WithEngineMetrics(s.opts.metrics),
		engine.WithLogger(log),
	)

	s.state = StateRecording
	s.id = id
	s.cancel = cancel
	s.done = make(chan struct{})
	s.closeErr = nil
	s.opts.metrics.ActiveSessions.Add(sctx, 1, s.attrs())

	log.Info("recorder: session started",
		"sample_rate", s.segCfg.SampleRate,
		"seal_mode", s.segCfg.Mode,
		"min_speech", s.segCfg.MinSpeech,
	)
	go s.run(sctx, cancel, span, eng, seg, h, log, s.done)
	return nil
}

func (s *session[P]) attrs() metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("recorder", s.kind))
}

// run is the consumer goroutine of one session.
func (s *session[P]) run(ctx context.Context, cancel context.CancelFunc, span trace.Span, eng *engine.Engine, seg *engine.Segmenter, h *handler[P], log *slog.Logger, done chan struct{}) {
	defer close(done)
	defer cancel()

	s.consumer.Store(goroutineID())
	defer s.consumer.Store(0)

	h.deliver(func() { s.l.OnSegmentStarted(s.pol.index()) })
	err := eng.Run(ctx)
	if err == nil {
		err = h.err
	}

	var final State
	var outcome string
	switch {
	case h.completed:
		final, outcome, err = StateCompleted, "completed", nil
	case ctx.Err() != nil:
		final, outcome, err = StateStopped, "stopped", nil
	case err != nil:
		final, outcome = StateFailed, "failed"
		log.Error("recorder: session failed", "err", err)
		h.deliver(func() { s.l.OnFailed(err) })
	default:
		final, outcome = StateCompleted, "completed"
	}

	closeErr := s.src.Stop()
	if cerr := seg.Close(); cerr != nil {
		closeErr = errors.Join(closeErr, cerr)
	}
	if closeErr != nil {
		log.Warn("recorder: release audio", "err", closeErr)
	}

	mctx := context.WithoutCancel(ctx)
	s.opts.metrics.ActiveSessions.Add(mctx, -1, s.attrs())
	s.opts.metrics.RecordSession(mctx, s.kind, outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	observe.EndSpan(span, err)

	s.mu.Lock()
	s.state = final
	s.closeErr = closeErr
	s.mu.Unlock()
	log.Info("recorder: session ended", "outcome", outcome)
}

// Stop ends the session, cancelling any gate evaluation in flight, and
// waits for the consumer goroutine and the audio source to finish. It is
// safe to call in any state. It returns the error from releasing the audio
// device, if any.
//
// Called from inside a listener callback, Stop cancels the session and
// returns nil at once; the session ends when the callback returns. A
// completion being delivered still counts as completed.
func (s *session[P]) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil && s.consumer.Load() == goroutineID() {
		cancel()
		return nil
	}
	if cancel != nil {
		s.deliverMu.Lock()
		cancel()
		s.deliverMu.Unlock()
	}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Pause stops capturing without releasing the device.
func (s *session[P]) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRecording {
		s.src.Pause()
		s.state = StatePaused
	}
}

// Resume continues a paused session.
func (s *session[P]) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePaused {
		s.src.Resume()
		s.state = StateRecording
	}
}

// State returns the lifecycle state.
func (s *session[P]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the identifier of the current or last session.
func (s *session[P]) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Done returns a channel closed when the current session has fully ended.
func (s *session[P]) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// ─── engine handler ──────────────────────────────────────────────────────────

// handler adapts engine events of one session to the listener.
type handler[P any] struct {
	s   *session[P]
	ctx context.Context

	// err fails the session after Run returns. Written only by the consumer.
	err error

	// completed is set once OnComplete was delivered.
	completed bool
}

var _ engine.Handler = (*handler[Sample])(nil)

// deliver runs fn unless the session was cancelled and reports whether it
// ran.
func (h *handler[P]) deliver(fn func()) bool {
	h.s.deliverMu.Lock()
	defer h.s.deliverMu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

func (h *handler[P]) OnQualityStatus(st quality.Description) {
	h.deliver(func() { h.s.l.OnQualityStatus(st) })
}

func (h *handler[P]) OnLivenessStarted() {
	h.deliver(func() { h.s.l.OnLivenessStarted() })
}

func (h *handler[P]) OnLivenessStatus(st engine.LivenessStatus) {
	h.deliver(func() { h.s.l.OnLivenessStatus(st) })
}

func (h *handler[P]) OnProgress(f float64) {
	if p, ok := h.s.pol.progress(f, false); ok {
		h.deliver(func() { h.s.l.OnProgress(p) })
	}
}

func (h *handler[P]) OnVerdict(ctx context.Context, res engine.Result) bool {
	if !res.Accepted {
		h.deliver(func() { h.s.l.OnRejected(res.Reason) })
		return false
	}
	payload, complete, err := h.s.pol.accept(ctx, res, h)
	if err != nil {
		h.err = err
		return true
	}
	if p, ok := h.s.pol.progress(0, true); ok {
		h.deliver(func() { h.s.l.OnProgress(p) })
	}
	if complete {
		h.completed = h.deliver(func() { h.s.l.OnComplete(payload) })
		return true
	}
	h.deliver(func() { h.s.l.OnSegmentStarted(h.s.pol.index()) })
	return false
}

// goroutineID returns the id of the calling goroutine, parsed from the
// header of its stack trace ("goroutine 18 [running]:").
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
