package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/voxgate/internal/recorder"
	"github.com/MrWong99/voxgate/pkg/audio"
	"gopkg.in/yaml.v3"
)

// Provider kinds as used in [ValidProviderNames] and registry errors.
const (
	KindDevice   = "device"
	KindEndpoint = "endpoint"
	KindQuality  = "quality"
	KindLiveness = "liveness"
	KindSNR      = "snr"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list.
var ValidProviderNames = map[string][]string{
	KindDevice:   {"portaudio", "file"},
	KindEndpoint: {"energy"},
	KindQuality:  {"energy", "remote"},
	KindLiveness: {"remote"},
	KindSNR:      {"energy", "remote"},
}

// Load reads the YAML file at path, applies defaults and returns the
// validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are an error. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset top-level choices: info logging, the portaudio
// device and the energy endpoint, quality and SNR providers. Numeric tuning
// is left at zero for the consuming packages to default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Device.Name == "" {
		cfg.Audio.Device.Name = "portaudio"
	}
	if cfg.Providers.Endpoint.Name == "" {
		cfg.Providers.Endpoint.Name = "energy"
	}
	if len(cfg.Providers.Quality) == 0 {
		cfg.Providers.Quality = []ProviderEntry{{Name: "energy"}}
	}
	if len(cfg.Providers.SNR) == 0 {
		cfg.Providers.SNR = []ProviderEntry{{Name: "energy"}}
	}
}

// Validate checks that cfg is coherent. It returns a joined error listing
// every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	a := cfg.Audio
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", a.SampleRate))
	}
	if a.ChunkMS != 0 && time.Duration(a.ChunkMS)*time.Millisecond < audio.MinChunkDuration {
		errs = append(errs, fmt.Errorf("audio.chunk_ms %d is below the minimum of %s", a.ChunkMS, audio.MinChunkDuration))
	}
	if a.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must not be negative", a.FramesPerBuffer))
	}
	if a.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity %d must not be negative", a.QueueCapacity))
	}
	if a.Device.Name == "file" && optionString(a.Device.Options, "path") == "" {
		errs = append(errs, errors.New("audio.device.options.path is required for the file device"))
	}

	p := cfg.Providers
	validateProviderName(KindDevice, a.Device.Name)
	validateProviderName(KindEndpoint, p.Endpoint.Name)
	for kind, chain := range map[string][]ProviderEntry{KindQuality: p.Quality, KindLiveness: p.Liveness, KindSNR: p.SNR} {
		for i, e := range chain {
			prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("%s.name is required", prefix))
				continue
			}
			if e.Name == "remote" && e.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s.base_url is required for the remote provider", prefix))
			}
			validateProviderName(kind, e.Name)
		}
	}
	if p.Breaker.MaxFailures < 0 || p.Breaker.ResetTimeoutMS < 0 || p.Breaker.HalfOpenMax < 0 {
		errs = append(errs, errors.New("providers.breaker values must not be negative"))
	}

	for sc, th := range cfg.Thresholds {
		prefix := fmt.Sprintf("thresholds.%s", sc)
		if !sc.Valid() {
			errs = append(errs, fmt.Errorf("%s: unknown scenario", prefix))
		}
		if th.MinSpeechMS < 0 {
			errs = append(errs, fmt.Errorf("%s.min_speech_ms %d must not be negative", prefix, th.MinSpeechMS))
		}
		if !unit(th.MinSpeechRelativeLength) {
			errs = append(errs, fmt.Errorf("%s.min_speech_relative_length %.2f is out of range [0, 1]", prefix, th.MinSpeechRelativeLength))
		}
		if !unit(th.MaxMultipleSpeakersProbability) {
			errs = append(errs, fmt.Errorf("%s.max_multiple_speakers_probability %.2f is out of range [0, 1]", prefix, th.MaxMultipleSpeakersProbability))
		}
	}

	r := cfg.Recorders
	if b := r.Verification.Biometrics; b != "" && !b.Valid() {
		errs = append(errs, fmt.Errorf("recorders.verification.biometrics %q is invalid; valid values: %s, %s", b, recorder.TextDependent, recorder.TextIndependent))
	}
	for name, v := range map[string]int{
		"verification.min_speech_ms":       r.Verification.MinSpeechMS,
		"verification.max_silence_ms":      r.Verification.MaxSilenceMS,
		"phrase_enrollment.phrases":        r.PhraseEnrollment.Phrases,
		"phrase_enrollment.min_speech_ms":  r.PhraseEnrollment.MinSpeechMS,
		"phrase_enrollment.max_silence_ms": r.PhraseEnrollment.MaxSilenceMS,
		"duration_enrollment.segment_ms":   r.DurationEnrollment.SegmentMS,
		"duration_enrollment.target_ms":    r.DurationEnrollment.TargetMS,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("recorders.%s %d must not be negative", name, v))
		}
	}
	for name, v := range map[string]float64{
		"verification.liveness_threshold":        r.Verification.LivenessThreshold,
		"phrase_enrollment.liveness_threshold":   r.PhraseEnrollment.LivenessThreshold,
		"duration_enrollment.liveness_threshold": r.DurationEnrollment.LivenessThreshold,
	} {
		if !unit(v) {
			errs = append(errs, fmt.Errorf("recorders.%s %.2f is out of range [0, 1]", name, v))
		}
	}

	if len(p.Liveness) == 0 {
		if !r.Verification.SkipLiveness || !r.PhraseEnrollment.SkipLiveness {
			slog.Warn("no liveness provider configured; verification and phrase enrollment need skip_liveness: true")
		}
		if r.DurationEnrollment.FinalLivenessCheck {
			errs = append(errs, errors.New("recorders.duration_enrollment.final_liveness_check requires providers.liveness"))
		}
	}

	return errors.Join(errs...)
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// optionString returns opts[key] if it is a string.
func optionString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// validateProviderName logs a warning if name is non-empty and not listed
// in [ValidProviderNames] for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
