// Command voxgate captures speech from a microphone or a PCM file, gates it
// through quality and liveness checks and prints the session events.
//
// Usage:
//
//	voxgate -config voxgate.yaml -mode verify|enroll-td|enroll-ti [-out capture.pcm]
//
// The accepted audio is written as raw 16-bit little-endian mono PCM when
// -out is set. While the session runs, /metrics, /healthz and /readyz are
// served on server.listen_addr, and edits to the log level and quality
// thresholds in the config file are applied without a restart.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/recorder"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// Recorder modes selectable with -mode.
const (
	modeVerify   = "verify"
	modeEnrollTD = "enroll-td"
	modeEnrollTI = "enroll-ti"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "voxgate.yaml", "path to the YAML configuration file")
	mode := flag.String("mode", modeVerify, "recorder to run: verify, enroll-td or enroll-ti")
	out := flag.String("out", "", "write accepted PCM to this path")
	flag.Parse()

	switch *mode {
	case modeVerify, modeEnrollTD, modeEnrollTI:
	default:
		fmt.Fprintf(os.Stderr, "voxgate: unknown -mode %q\n", *mode)
		return 2
	}

	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	thresholds := &quality.SwappableThresholds{}
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(config.Diff(old, new), new, &level, thresholds)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	level.Set(cfg.Server.LogLevel.Level())
	thresholds.Store(cfg.Thresholds.Table())

	slog.Info("voxgate starting",
		"config", *configPath,
		"mode", *mode,
		"device", cfg.Audio.Device.Name,
		"quality", describeChain(cfg.Providers.Quality),
		"liveness", describeChain(cfg.Providers.Liveness),
		"snr", describeChain(cfg.Providers.SNR),
		"listen_addr", cfg.Server.ListenAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxgate",
		Mode:        *mode,
		Device:      cfg.Audio.Device.Name,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	st, err := buildStack(cfg, reg, thresholds, metrics)
	if err != nil {
		slog.Error("failed to build capture stack", "err", err)
		return 1
	}
	defer st.Close()

	sess, err := newSession(*mode, cfg, st, *out, metrics)
	if err != nil {
		slog.Error("failed to create recorder", "err", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	if cfg.Server.ListenAddr != "" {
		g.Go(func() error { return serveOps(gctx, cfg.Server.ListenAddr, metrics, st.checkers()) })
	}
	g.Go(func() error {
		err := sess.run(gctx)
		// The session is the unit of work: when it ends, so does the process.
		stop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("voxgate failed", "err", err)
		return 1
	}
	return sess.exitCode()
}

// applyReload applies the hot-reloadable parts of a config change.
func applyReload(d config.ConfigDiff, cfg *config.Config, level *slog.LevelVar, th *quality.SwappableThresholds) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.ThresholdsChanged) > 0 {
		th.Store(cfg.Thresholds.Table())
		slog.Info("quality thresholds reloaded", "scenarios", d.ThresholdsChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// serveOps runs the metrics and probe server until ctx is done.
func serveOps(ctx context.Context, addr string, m *observe.Metrics, checkers []health.Checker) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("ops server listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// stack holds the source and collaborators shared by a session.
type stack struct {
	source *audio.Source
	deps   recorder.Deps
}

func buildStack(cfg *config.Config, reg *config.Registry, th quality.ThresholdProvider, m *observe.Metrics) (*stack, error) {
	dev, err := reg.CreateDevice(cfg.Audio.Device)
	if err != nil {
		return nil, err
	}
	srcCfg := cfg.Audio.SourceConfig()
	srcCfg.Observer = m.AudioObserver(dev.Name())
	src, err := audio.NewSource(dev, srcCfg)
	if err != nil {
		return nil, err
	}

	s := &stack{source: src, deps: recorder.Deps{Thresholds: th}}
	fb := cfg.Providers.Breaker.Fallback()
	if s.deps.Endpoint, err = reg.CreateEndpoint(cfg.Providers.Endpoint); err != nil {
		return nil, err
	}
	if s.deps.Quality, err = reg.CreateQuality(cfg.Providers.Quality, fb); err != nil {
		s.Close()
		return nil, err
	}
	if s.deps.SNR, err = reg.CreateSNR(cfg.Providers.SNR, fb); err != nil {
		s.Close()
		return nil, err
	}
	if s.deps.Liveness, err = reg.CreateLiveness(cfg.Providers.Liveness, fb); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// checkers returns the readiness checks for the stack: the capture source
// must not have failed, and every fallback chain needs one usable backend.
func (s *stack) checkers() []health.Checker {
	cs := []health.Checker{health.Func("audio", s.source.Err)}
	for name, v := range map[string]any{
		"quality":  s.deps.Quality,
		"snr":      s.deps.SNR,
		"liveness": s.deps.Liveness,
	} {
		if r, ok := v.(health.StatusReporter); ok {
			cs = append(cs, health.Breakers(name, r))
		}
	}
	return cs
}

// Close releases collaborator resources.
func (s *stack) Close() {
	closeProvider("quality", s.deps.Quality)
	closeProvider("snr", s.deps.SNR)
	closeProvider("liveness", s.deps.Liveness)
	closeProvider("endpoint", s.deps.Endpoint)
}
