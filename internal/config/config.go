// Package config provides the configuration schema, loader, file watcher and
// provider registry for the voxgate capture service.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxgate/internal/recorder"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown and empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Recorders  RecordersConfig  `yaml:"recorders"`
}

// ServerConfig holds the ops HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the /metrics, /healthz and /readyz
	// endpoints. Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the capture device and shapes the chunk stream.
type AudioConfig struct {
	// Device selects a registered device implementation ("portaudio",
	// "file").
	Device ProviderEntry `yaml:"device"`

	SampleRate      int `yaml:"sample_rate"`
	ChunkMS         int `yaml:"chunk_ms"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`
	QueueCapacity   int `yaml:"queue_capacity"`
}

// SourceConfig converts c to the settings of an [audio.Source]. Zero fields
// are left for the source to default.
func (c AudioConfig) SourceConfig() audio.SourceConfig {
	return audio.SourceConfig{
		SampleRate:      c.SampleRate,
		ChunkDuration:   time.Duration(c.ChunkMS) * time.Millisecond,
		FramesPerBuffer: c.FramesPerBuffer,
		QueueCapacity:   c.QueueCapacity,
	}
}

// ProvidersConfig declares the collaborator implementations. Quality,
// Liveness and SNR are chains: the first entry is the primary and the rest
// are fallbacks tried in order when it fails.
type ProvidersConfig struct {
	Endpoint ProviderEntry   `yaml:"endpoint"`
	Quality  []ProviderEntry `yaml:"quality"`
	Liveness []ProviderEntry `yaml:"liveness"`
	SNR      []ProviderEntry `yaml:"snr"`

	// Breaker tunes the circuit breaker placed in front of every chain entry.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ProviderEntry is the common configuration block of every provider. Name
// selects the factory in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "energy", "remote").
	Name string `yaml:"name"`

	// APIKey authenticates against a remote backend, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL is the backend address for remote providers.
	BaseURL string `yaml:"base_url"`

	// Options holds implementation-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig mirrors [resilience.CircuitBreakerConfig] in YAML form.
type BreakerConfig struct {
	MaxFailures    int `yaml:"max_failures"`
	ResetTimeoutMS int `yaml:"reset_timeout_ms"`
	HalfOpenMax    int `yaml:"half_open_max"`
}

// Fallback converts c to the settings of a [resilience.FallbackGroup].
func (c BreakerConfig) Fallback() resilience.FallbackConfig {
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  c.MaxFailures,
		ResetTimeout: ms(c.ResetTimeoutMS),
		HalfOpenMax:  c.HalfOpenMax,
	}}
}

// ThresholdsConfig overrides the recommended quality thresholds per
// scenario. Scenarios not listed keep [quality.DefaultThresholds].
// Hot-reloadable.
type ThresholdsConfig map[quality.Scenario]ThresholdEntry

// ThresholdEntry is one scenario's acceptance bounds.
type ThresholdEntry struct {
	MinSNR                         float64 `yaml:"min_snr_db"`
	MinSpeechMS                    int     `yaml:"min_speech_ms"`
	MinSpeechRelativeLength        float64 `yaml:"min_speech_relative_length"`
	MaxMultipleSpeakersProbability float64 `yaml:"max_multiple_speakers_probability"`
}

// Table merges the overrides over [quality.DefaultThresholds].
func (c ThresholdsConfig) Table() quality.StaticThresholds {
	override := make(quality.StaticThresholds, len(c))
	for sc, e := range c {
		override[sc] = quality.Thresholds{
			MinSNR:                         e.MinSNR,
			MinSpeechLength:                ms(e.MinSpeechMS),
			MinSpeechRelativeLength:        e.MinSpeechRelativeLength,
			MaxMultipleSpeakersProbability: e.MaxMultipleSpeakersProbability,
		}
	}
	return quality.DefaultThresholds().Merge(override)
}

// RecordersConfig holds per-recorder settings. Zero values take the
// recorder defaults.
type RecordersConfig struct {
	Verification       VerificationConfig       `yaml:"verification"`
	PhraseEnrollment   PhraseEnrollmentConfig   `yaml:"phrase_enrollment"`
	DurationEnrollment DurationEnrollmentConfig `yaml:"duration_enrollment"`
}

// VerificationConfig is the YAML form of [recorder.VerificationConfig].
type VerificationConfig struct {
	Biometrics             recorder.Biometrics `yaml:"biometrics"`
	MinSpeechMS            int                 `yaml:"min_speech_ms"`
	MaxSilenceMS           int                 `yaml:"max_silence_ms"`
	MinSNR                 float64             `yaml:"min_snr_db"`
	SkipLiveness           bool                `yaml:"skip_liveness"`
	LivenessThreshold      float64             `yaml:"liveness_threshold"`
	RejectMultipleSpeakers bool                `yaml:"reject_multiple_speakers"`
}

// Recorder converts c to recorder settings.
func (c VerificationConfig) Recorder() recorder.VerificationConfig {
	return recorder.VerificationConfig{
		Biometrics:             c.Biometrics,
		MinSpeech:              ms(c.MinSpeechMS),
		MaxSilence:             ms(c.MaxSilenceMS),
		MinSNR:                 c.MinSNR,
		SkipLiveness:           c.SkipLiveness,
		LivenessThreshold:      c.LivenessThreshold,
		RejectMultipleSpeakers: c.RejectMultipleSpeakers,
	}
}

// PhraseEnrollmentConfig is the YAML form of [recorder.PhraseConfig].
type PhraseEnrollmentConfig struct {
	Phrases           int     `yaml:"phrases"`
	MinSpeechMS       int     `yaml:"min_speech_ms"`
	MaxSilenceMS      int     `yaml:"max_silence_ms"`
	MinSNR            float64 `yaml:"min_snr_db"`
	SkipLiveness      bool    `yaml:"skip_liveness"`
	LivenessThreshold float64 `yaml:"liveness_threshold"`
}

// Recorder converts c to recorder settings.
func (c PhraseEnrollmentConfig) Recorder() recorder.PhraseConfig {
	return recorder.PhraseConfig{
		Phrases:           c.Phrases,
		MinSpeech:         ms(c.MinSpeechMS),
		MaxSilence:        ms(c.MaxSilenceMS),
		MinSNR:            c.MinSNR,
		SkipLiveness:      c.SkipLiveness,
		LivenessThreshold: c.LivenessThreshold,
	}
}

// DurationEnrollmentConfig is the YAML form of [recorder.DurationConfig].
type DurationEnrollmentConfig struct {
	SegmentMS          int     `yaml:"segment_ms"`
	TargetMS           int     `yaml:"target_ms"`
	MinSNR             float64 `yaml:"min_snr_db"`
	FinalLivenessCheck bool    `yaml:"final_liveness_check"`
	LivenessThreshold  float64 `yaml:"liveness_threshold"`
}

// Recorder converts c to recorder settings.
func (c DurationEnrollmentConfig) Recorder() recorder.DurationConfig {
	return recorder.DurationConfig{
		SegmentLength:     ms(c.SegmentMS),
		Target:            ms(c.TargetMS),
		MinSNR:            c.MinSNR,
		FinalLiveness:     c.FinalLivenessCheck,
		LivenessThreshold: c.LivenessThreshold,
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
