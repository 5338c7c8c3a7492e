// Package engine turns a live chunk stream into gated speech segments.
//
// The [Engine] is the consumer half of the capture pipeline. It pulls
// [audio.Chunk] values from a [ChunkSource], feeds them to a [Segmenter]
// that tracks speech onset and end via an endpoint detector, and hands every
// sealed [Segment] to a [Pipeline] that runs the quality, SNR and liveness
// gates. Every verdict is passed to a [Handler]; rejected segments are
// discarded entirely and capture re-arms without restarting the source.
//
// The source is suspended while a segment is gated so that the producer
// does not flood the queue with audio the consumer cannot yet analyse.
//
// This package lives under internal/ because it encapsulates application-private
// processing logic and is not intended to be imported by external code.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/audio"
)

// ErrSourceClosed is returned by [Engine.Run] when the chunk channel closed
// without a source error while the context was still live.
var ErrSourceClosed = errors.New("engine: audio source closed")

// ChunkSource is the view of an audio source the engine consumes.
// [*audio.Source] satisfies it.
type ChunkSource interface {
	Chunks() <-chan audio.Chunk
	Err() error
	Suspend() (resume func())
}

var _ ChunkSource = (*audio.Source)(nil)

// Handler receives engine events. All methods are called on the goroutine
// running [Engine.Run] and never after its context was cancelled.
type Handler interface {
	GateObserver

	// OnProgress reports the fraction of the minimum speech length collected
	// for the current segment.
	OnProgress(fraction float64)

	// OnVerdict receives the result of every gated segment. The source stays
	// suspended while it runs. Returning true ends Run with a nil error.
	OnVerdict(ctx context.Context, res Result) (done bool)
}

// Engine is the consumer loop of one capture session. It is not safe for
// concurrent use; call Run from a single goroutine.
type Engine struct {
	src     ChunkSource
	seg     *Segmenter
	gates   *Pipeline
	h       Handler
	metrics *observe.Metrics
	log     *slog.Logger

	lastSeq uint64
	seen    bool
}

// Option is a functional option for configuring an Engine during construction.
type Option func(*Engine)

// WithEngineMetrics records segment metrics on m instead of
// [observe.DefaultMetrics].
func WithEngineMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New wires the source, segmenter, gate pipeline and handler together.
func New(src ChunkSource, seg *Segmenter, gates *Pipeline, h Handler, opts ...Option) *Engine {
	e := &Engine{
		src:   src,
		seg:   seg,
		gates: gates,
		h:     h,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Segmenter returns the engine's segmenter.
func (e *Engine) Segmenter() *Segmenter { return e.seg }

// Run consumes chunks until the handler reports completion, ctx is cancelled,
// or the source closes its channel. It returns nil on completion, ctx.Err()
// on cancellation, the source's terminal error if capture failed, and
// [ErrSourceClosed] if the source stopped on its own.
//
// The segmenter is reset when Run returns.
func (e *Engine) Run(ctx context.Context) error {
	defer e.seg.Reset()
	e.seg.OnProgress(func(f float64) {
		if ctx.Err() == nil {
			e.h.OnProgress(f)
		}
	})
	defer e.seg.OnProgress(nil)

	chunks := e.src.Chunks()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				if err := e.src.Err(); err != nil {
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrSourceClosed
			}
			if e.seen && c.Seq <= e.lastSeq {
				e.log.Debug("engine: skipping out-of-order chunk", "seq", c.Seq, "last", e.lastSeq)
				continue
			}
			e.seen, e.lastSeq = true, c.Seq

			done, err := e.onChunk(ctx, c)
			if err != nil || done {
				return err
			}
		}
	}
}

func (e *Engine) onChunk(ctx context.Context, c audio.Chunk) (bool, error) {
	seg, err := e.seg.OnChunk(c)
	if err != nil {
		e.log.Warn("engine: segmentation failed, re-arming", "seq", c.Seq, "err", err)
		e.metrics.RecordCollaboratorError(ctx, "endpoint", "endpoint")
		e.seg.Reset()
		return false, nil
	}
	if seg == nil {
		return false, nil
	}
	return e.gate(ctx, seg)
}

// gate evaluates a sealed segment with the source suspended.
func (e *Engine) gate(ctx context.Context, seg *Segment) (bool, error) {
	resume := e.src.Suspend()
	defer resume()

	e.metrics.SegmentSpeech.Record(ctx, seg.SpeechLength().Seconds())
	first, last := seg.SeqRange()
	e.log.Debug("engine: segment sealed",
		"bytes", seg.Len(),
		"speech", seg.SpeechLength(),
		"silence_tail", seg.SilenceTail(),
		"first_seq", first,
		"last_seq", last,
	)

	res := e.gates.Evaluate(ctx, seg, e.h)
	// Re-arm before the verdict is delivered; rejected bytes are dropped with
	// the segment.
	e.seg.Reset()
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if !res.Accepted {
		e.log.Info("engine: segment rejected", "reason", res.Reason, "err", res.Err)
	}
	return e.h.OnVerdict(ctx, res), nil
}
