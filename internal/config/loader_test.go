package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxgate/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log level", "server: {log_level: loud}", "server.log_level"},
		{"negative sample rate", "audio: {sample_rate: -1}", "audio.sample_rate"},
		{"chunk below minimum", "audio: {chunk_ms: 10}", "audio.chunk_ms"},
		{"file device without path", "audio: {device: {name: file}}", "options.path"},
		{"nameless chain entry", "providers: {quality: [{api_key: x}]}", "providers.quality[0].name"},
		{"remote without url", "providers: {snr: [{name: remote}]}", "providers.snr[0].base_url"},
		{"negative breaker", "providers: {breaker: {max_failures: -1}}", "providers.breaker"},
		{"unknown scenario", "thresholds: {shouting: {min_snr_db: 3}}", "thresholds.shouting"},
		{"relative length range", "thresholds: {td_enrollment: {min_speech_relative_length: 2}}", "min_speech_relative_length"},
		{"biometrics", "recorders: {verification: {biometrics: face}}", "recorders.verification.biometrics"},
		{"negative phrases", "recorders: {phrase_enrollment: {phrases: -3}}", "phrase_enrollment.phrases"},
		{"liveness threshold range", "recorders: {verification: {liveness_threshold: 1.5}}", "verification.liveness_threshold"},
		{"final liveness without provider", "recorders: {duration_enrollment: {final_liveness_check: true}}", "requires providers.liveness"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Audio:  config.AudioConfig{QueueCapacity: -1},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "audio.queue_capacity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err = %v, missing %q", err, want)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{config.KindDevice, config.KindEndpoint, config.KindQuality, config.KindLiveness, config.KindSNR} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known names for %s", kind)
		}
	}
}
