package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/engine"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/recorder"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// recording is the part of a recorder the CLI drives.
type recording interface {
	Start(ctx context.Context) error
	Stop() error
	Done() <-chan struct{}
	SessionID() string
}

// cliSession runs one recorder session and remembers how it ended.
type cliSession struct {
	rec recording
	out string

	mu       sync.Mutex
	complete bool
	err      error
}

func newSession(mode string, cfg *config.Config, st *stack, out string, m *observe.Metrics) (*cliSession, error) {
	s := &cliSession{out: out}
	opts := []recorder.Option{recorder.WithMetrics(m)}

	var err error
	switch mode {
	case modeVerify:
		s.rec, err = recorder.NewVerification(st.source, st.deps, cfg.Recorders.Verification.Recorder(),
			events(s, func(p recorder.Sample) error {
				slog.Info("verification sample ready", "speech", p.SpeechLength, "snr_db", p.Metrics.SNR)
				return s.write(out, p.PCM)
			}), opts...)
	case modeEnrollTD:
		s.rec, err = recorder.NewPhraseEnrollment(st.source, st.deps, cfg.Recorders.PhraseEnrollment.Recorder(),
			events(s, func(p recorder.PhraseSet) error {
				slog.Info("phrase enrollment complete", "phrases", len(p.Samples))
				for i, smp := range p.Samples {
					if err := s.write(indexedPath(out, i), smp.PCM); err != nil {
						return err
					}
				}
				return nil
			}), opts...)
	case modeEnrollTI:
		s.rec, err = recorder.NewDurationEnrollment(st.source, st.deps, cfg.Recorders.DurationEnrollment.Recorder(),
			events(s, func(p recorder.DurationSet) error {
				attrs := []any{"speech", p.SpeechLength, "segments", p.Segments}
				if p.Liveness != nil {
					attrs = append(attrs, "live", p.Liveness.Live(), "liveness", p.Liveness.Probability)
				}
				slog.Info("duration enrollment complete", attrs...)
				return s.write(out, p.PCM)
			}), opts...)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// events builds a listener that logs every session event and hands the
// payload to onComplete.
func events[P any](s *cliSession, onComplete func(P) error) recorder.Listener[P] {
	return recorder.Funcs[P]{
		QualityStatus: func(d quality.Description) {
			slog.Info("quality", "status", d)
		},
		LivenessStarted: func() { slog.Debug("liveness check started") },
		LivenessStatus: func(st engine.LivenessStatus) {
			slog.Info("liveness", "probability", st.Probability, "threshold", st.Threshold, "live", st.Live())
		},
		Progress: func(f float64) {
			slog.Info("progress", "percent", fmt.Sprintf("%.0f%%", f*100))
		},
		SegmentStarted: func(i int) { slog.Info("speak now", "segment", i) },
		Rejected: func(r engine.Reason) {
			slog.Warn("segment rejected", "reason", r, "hint", r.Message())
		},
		Complete: func(p P) { s.finish(true, onComplete(p)) },
		Failed:   func(err error) { s.finish(false, err) },
	}
}

func (s *cliSession) finish(complete bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = complete
	s.err = err
}

// run starts the recorder and blocks until it ends on its own or ctx is
// cancelled. Recorder failures are reported through exitCode.
func (s *cliSession) run(ctx context.Context) error {
	if err := s.rec.Start(ctx); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	slog.Info("session started", "session_id", s.rec.SessionID())

	select {
	case <-s.rec.Done():
	case <-ctx.Done():
		slog.Info("stopping session")
	}
	if err := s.rec.Stop(); err != nil {
		slog.Warn("release audio device", "err", err)
	}
	return nil
}

// exitCode is 0 for a completed session, 1 for a failed one and 130 when
// the session was interrupted.
func (s *cliSession) exitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.err != nil:
		slog.Error("session failed", "err", s.err)
		return 1
	case s.complete:
		return 0
	default:
		return 130
	}
}

func (s *cliSession) write(path string, pcm []byte) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, pcm, 0o644); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	slog.Info("capture written", "path", path, "bytes", len(pcm))
	return nil
}

// indexedPath turns "take.pcm" into "take-1.pcm" for i == 0.
func indexedPath(path string, i int) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(path, ext), i+1, ext)
}
