package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/audio/file"
	"github.com/MrWong99/voxgate/pkg/audio/portaudio"
	"github.com/MrWong99/voxgate/pkg/provider/endpoint"
	"github.com/MrWong99/voxgate/pkg/provider/energy"
	"github.com/MrWong99/voxgate/pkg/provider/liveness"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
	"github.com/MrWong99/voxgate/pkg/provider/remote"
	"github.com/MrWong99/voxgate/pkg/provider/snr"
)

// registerBuiltinProviders wires every built-in device and collaborator
// factory into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterDevice("portaudio", func(e config.ProviderEntry) (audio.Device, error) {
		return portaudio.New(optString(e.Options, "device")), nil
	})
	reg.RegisterDevice("file", func(e config.ProviderEntry) (audio.Device, error) {
		path := optString(e.Options, "path")
		if path == "" {
			return nil, errors.New("options.path is required")
		}
		return &file.Device{
			Path: path,
			Format: audio.Format{
				SampleRate: optInt(e.Options, "sample_rate", 16000),
				Channels:   optInt(e.Options, "channels", 1),
			},
			Realtime: optBool(e.Options, "realtime", true),
			Loop:     optBool(e.Options, "loop", false),
		}, nil
	})

	reg.RegisterEndpoint("energy", func(e config.ProviderEntry) (endpoint.Detector, error) {
		return energy.NewDetector(energyOptions(e)...), nil
	})
	reg.RegisterQuality("energy", func(e config.ProviderEntry) (quality.Scorer, error) {
		return energy.NewScorer(energyOptions(e)...), nil
	})
	reg.RegisterSNR("energy", func(e config.ProviderEntry) (snr.Computer, error) {
		return energy.NewSNR(energyOptions(e)...), nil
	})

	reg.RegisterQuality("remote", func(e config.ProviderEntry) (quality.Scorer, error) { return newRemote(e) })
	reg.RegisterLiveness("remote", func(e config.ProviderEntry) (liveness.Scorer, error) { return newRemote(e) })
	reg.RegisterSNR("remote", func(e config.ProviderEntry) (snr.Computer, error) { return newRemote(e) })
}

func energyOptions(e config.ProviderEntry) []energy.Option {
	var opts []energy.Option
	if v := optInt(e.Options, "frame_ms", 0); v > 0 {
		opts = append(opts, energy.WithFrame(time.Duration(v)*time.Millisecond))
	}
	if v := optFloat(e.Options, "speech_threshold", 0); v > 0 {
		opts = append(opts, energy.WithSpeechThreshold(v))
	}
	if v := optFloat(e.Options, "silence_threshold", 0); v > 0 {
		opts = append(opts, energy.WithSilenceThreshold(v))
	}
	return opts
}

func newRemote(e config.ProviderEntry) (*remote.Client, error) {
	var opts []remote.Option
	if e.APIKey != "" {
		opts = append(opts, remote.WithAPIKey(e.APIKey))
	}
	if v := optInt(e.Options, "timeout_ms", 0); v > 0 {
		opts = append(opts, remote.WithTimeout(time.Duration(v)*time.Millisecond))
	}
	return remote.New(e.BaseURL, opts...)
}

// closeProvider closes v if it holds resources.
func closeProvider(kind string, v any) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("provider close error", "kind", kind, "err", err)
	}
}

// optString extracts a string option. Missing or mistyped values yield "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func optFloat(opts map[string]any, key string, def float64) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func optBool(opts map[string]any, key string, def bool) bool {
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return def
}

// describeChain renders a provider chain for the startup log.
func describeChain(chain []config.ProviderEntry) string {
	if len(chain) == 0 {
		return "(none)"
	}
	s := chain[0].Name
	for _, e := range chain[1:] {
		s += fmt.Sprintf(" -> %s", e.Name)
	}
	return s
}
