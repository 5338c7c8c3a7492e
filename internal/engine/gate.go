package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/provider/liveness"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
	"github.com/MrWong99/voxgate/pkg/provider/snr"
)

// Gate names used in metrics, spans and logs.
const (
	GateQuality  = "quality"
	GateSNR      = "snr"
	GateLiveness = "liveness"
)

// GateObserver receives status events while a segment is gated. Calls are
// made synchronously on the consumer goroutine.
type GateObserver interface {
	// OnQualityStatus reports the quality verdict. A failing SNR gate
	// reports [quality.DescriptionTooNoisy]. OK is reported once every
	// quality-related gate passed.
	OnQualityStatus(status quality.Description)

	// OnLivenessStarted is called before the liveness collaborator runs.
	OnLivenessStarted()

	// OnLivenessStatus reports the liveness outcome.
	OnLivenessStatus(status LivenessStatus)
}

// PipelineConfig selects which gates run and their bounds.
type PipelineConfig struct {
	// Scenario selects the quality thresholds.
	Scenario quality.Scenario

	// MinSNR enables the SNR gate when positive. Segments below it are
	// rejected as [ReasonTooNoisy].
	MinSNR float64

	// CheckLiveness enables the liveness gate.
	CheckLiveness bool

	// LivenessThreshold is the minimum live probability. Zero means
	// [liveness.DefaultThreshold].
	LivenessThreshold float64

	// AllowMultipleSpeakers accepts segments the quality scorer flags as
	// multi-speaker, setting [Metrics.MultipleSpeakers] instead of rejecting.
	AllowMultipleSpeakers bool
}

// Collaborators are the external scorers consulted by a [Pipeline].
type Collaborators struct {
	Quality    quality.Scorer
	Thresholds quality.ThresholdProvider

	// SNR is required when PipelineConfig.MinSNR > 0.
	SNR snr.Computer

	// Liveness is required when PipelineConfig.CheckLiveness is set, or
	// when [Pipeline.CheckLiveness] is used.
	Liveness liveness.Scorer
}

// Pipeline evaluates sealed segments through the quality, SNR and liveness
// gates in that order, stopping at the first rejection. Collaborator errors
// never escape: they become [ReasonCollaboratorFailure] verdicts.
//
// Pipeline is safe for concurrent use if its collaborators are.
type Pipeline struct {
	cfg     PipelineConfig
	deps    Collaborators
	metrics *observe.Metrics
	now     func() time.Time
}

// PipelineOption configures a [Pipeline].
type PipelineOption func(*Pipeline)

// WithMetrics records gate metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline validates cfg against deps and returns a Pipeline.
func NewPipeline(cfg PipelineConfig, deps Collaborators, opts ...PipelineOption) (*Pipeline, error) {
	var errs []error
	if !cfg.Scenario.Valid() {
		errs = append(errs, fmt.Errorf("unknown scenario %q", cfg.Scenario))
	}
	if deps.Quality == nil {
		errs = append(errs, errors.New("quality scorer is required"))
	}
	if deps.Thresholds == nil {
		errs = append(errs, errors.New("threshold provider is required"))
	}
	if cfg.MinSNR > 0 && deps.SNR == nil {
		errs = append(errs, errors.New("SNR computer is required when min SNR is set"))
	}
	if cfg.CheckLiveness && deps.Liveness == nil {
		errs = append(errs, errors.New("liveness scorer is required when liveness checks are enabled"))
	}
	if cfg.LivenessThreshold < 0 || cfg.LivenessThreshold > 1 {
		errs = append(errs, fmt.Errorf("liveness threshold %v outside [0, 1]", cfg.LivenessThreshold))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("engine: pipeline: %w", err)
	}
	if cfg.LivenessThreshold == 0 {
		cfg.LivenessThreshold = liveness.DefaultThreshold
	}

	p := &Pipeline{cfg: cfg, deps: deps, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() PipelineConfig { return p.cfg }

// Evaluate runs seg through the enabled gates. Observer events are suppressed
// once ctx is cancelled; the verdict of a cancelled evaluation should be
// discarded by the caller. obs may be nil.
func (p *Pipeline) Evaluate(ctx context.Context, seg *Segment, obs GateObserver) Result {
	ctx, span := observe.StartSpan(ctx, "engine.evaluate", trace.WithAttributes(
		attribute.String("scenario", string(p.cfg.Scenario)),
		attribute.Int64("segment.ms", seg.Duration().Milliseconds()),
		attribute.Int64("segment.speech_ms", seg.SpeechLength().Milliseconds()),
	))
	res := p.evaluate(ctx, seg, guard(ctx, obs))
	span.SetAttributes(
		attribute.Bool("accepted", res.Accepted),
		attribute.String("reason", res.Reason.String()),
	)
	observe.EndSpan(span, res.Err)

	verdict := "accepted"
	if !res.Accepted {
		verdict = "rejected"
	}
	p.metrics.RecordVerdict(ctx, string(p.cfg.Scenario), verdict, res.Reason.String())
	return res
}

func (p *Pipeline) evaluate(ctx context.Context, seg *Segment, obs GateObserver) Result {
	res := Result{Segment: seg}
	pcm, rate := seg.Bytes(), seg.SampleRate()

	// Quality.
	q, err := p.score(ctx, pcm, rate)
	if err != nil {
		return p.failed(ctx, res, GateQuality, err)
	}
	res.Metrics.Quality = q.Metrics
	status := q.Description
	if status == quality.DescriptionMultipleSpeakersDetected && p.cfg.AllowMultipleSpeakers {
		res.Metrics.MultipleSpeakers = true
		status = quality.DescriptionOK
	}
	if status != quality.DescriptionOK {
		obs.OnQualityStatus(status)
		return rejected(res, reasonFor(status))
	}

	// SNR.
	if p.cfg.MinSNR > 0 {
		start := p.now()
		db, err := p.deps.SNR.Compute(ctx, pcm, rate)
		p.record(ctx, GateSNR, err, start)
		if err != nil {
			return p.failed(ctx, res, GateSNR, err)
		}
		res.Metrics.SNR = db
		if db < p.cfg.MinSNR {
			obs.OnQualityStatus(quality.DescriptionTooNoisy)
			return rejected(res, ReasonTooNoisy)
		}
	}
	obs.OnQualityStatus(quality.DescriptionOK)

	// Liveness.
	if p.cfg.CheckLiveness {
		ls, err := p.checkLiveness(ctx, pcm, rate, obs)
		if err != nil {
			return p.failed(ctx, res, GateLiveness, err)
		}
		res.Metrics.Liveness = ls
		res.Metrics.LivenessChecked = true
		if !ls.Live() {
			return rejected(res, ReasonSpoofDetected)
		}
	}

	res.Accepted = true
	return res
}

func (p *Pipeline) score(ctx context.Context, pcm []byte, rate int) (quality.Result, error) {
	start := p.now()
	th, err := p.deps.Thresholds.Thresholds(p.cfg.Scenario)
	if err != nil {
		p.record(ctx, GateQuality, err, start)
		return quality.Result{}, fmt.Errorf("thresholds: %w", err)
	}
	q, err := p.deps.Quality.Score(ctx, pcm, rate, th)
	p.record(ctx, GateQuality, err, start)
	return q, err
}

// CheckLiveness runs only the liveness gate on arbitrary PCM, reporting
// through obs. It is used for checks over audio assembled from several
// segments.
func (p *Pipeline) CheckLiveness(ctx context.Context, pcm []byte, sampleRate int, obs GateObserver) (LivenessStatus, error) {
	if p.deps.Liveness == nil {
		return LivenessStatus{}, errors.New("engine: no liveness scorer configured")
	}
	ctx, span := observe.StartSpan(ctx, "engine.liveness", trace.WithAttributes(
		attribute.Int("pcm.bytes", len(pcm)),
	))
	ls, err := p.checkLiveness(ctx, pcm, sampleRate, guard(ctx, obs))
	if err != nil {
		p.metrics.RecordCollaboratorError(ctx, collaboratorName(p.deps.Liveness), GateLiveness)
	}
	observe.EndSpan(span, err)
	return ls, err
}

func (p *Pipeline) checkLiveness(ctx context.Context, pcm []byte, rate int, obs GateObserver) (LivenessStatus, error) {
	obs.OnLivenessStarted()
	start := p.now()
	prob, err := p.deps.Liveness.Check(ctx, pcm, rate)
	p.record(ctx, GateLiveness, err, start)
	if err != nil {
		return LivenessStatus{}, err
	}
	ls := LivenessStatus{Probability: prob, Threshold: p.cfg.LivenessThreshold}
	obs.OnLivenessStatus(ls)
	return ls, nil
}

func (p *Pipeline) record(ctx context.Context, gate string, err error, start time.Time) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordGate(ctx, gate, status, p.now().Sub(start))
	p.metrics.RecordCollaboratorRequest(ctx, p.collaborator(gate), gate, status)
}

func (p *Pipeline) collaborator(gate string) string {
	switch gate {
	case GateQuality:
		return collaboratorName(p.deps.Quality)
	case GateSNR:
		return collaboratorName(p.deps.SNR)
	case GateLiveness:
		return collaboratorName(p.deps.Liveness)
	}
	return "unknown"
}

// failed downgrades a collaborator error to a rejection.
func (p *Pipeline) failed(ctx context.Context, res Result, gate string, err error) Result {
	if ctx.Err() == nil {
		observe.Logger(ctx).Warn("engine: collaborator failed, dropping segment",
			"gate", gate, "scenario", p.cfg.Scenario, "err", err)
	}
	p.metrics.RecordCollaboratorError(ctx, p.collaborator(gate), gate)
	res.Err = fmt.Errorf("engine: %s gate: %w", gate, err)
	return rejected(res, ReasonCollaboratorFailure)
}

func rejected(res Result, r Reason) Result {
	res.Accepted = false
	res.Reason = r
	return res
}

// collaboratorName labels a collaborator in metrics by its dynamic type.
func collaboratorName(v any) string {
	if n, ok := v.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", v)
}

// guardedObserver drops events once ctx is done.
type guardedObserver struct {
	ctx context.Context
	obs GateObserver
}

func guard(ctx context.Context, obs GateObserver) GateObserver {
	return guardedObserver{ctx: ctx, obs: obs}
}

func (g guardedObserver) OnQualityStatus(s quality.Description) {
	if g.obs != nil && g.ctx.Err() == nil {
		g.obs.OnQualityStatus(s)
	}
}

func (g guardedObserver) OnLivenessStarted() {
	if g.obs != nil && g.ctx.Err() == nil {
		g.obs.OnLivenessStarted()
	}
}

func (g guardedObserver) OnLivenessStatus(s LivenessStatus) {
	if g.obs != nil && g.ctx.Err() == nil {
		g.obs.OnLivenessStatus(s)
	}
}
