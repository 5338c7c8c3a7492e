package quality_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

func TestEvaluate_FirstFailureWins(t *testing.T) {
	t.Parallel()

	th := quality.Thresholds{
		MinSNR:                         10,
		MinSpeechLength:                time.Second,
		MinSpeechRelativeLength:        0.5,
		MaxMultipleSpeakersProbability: 0.5,
	}
	good := quality.Metrics{SNR: 20, SpeechLength: 2 * time.Second, SpeechRelativeLength: 0.8}

	tests := []struct {
		name string
		m    quality.Metrics
		want quality.Description
	}{
		{"ok", good, quality.DescriptionOK},
		{"noisy and short", quality.Metrics{SNR: 5, SpeechLength: 100 * time.Millisecond}, quality.DescriptionTooNoisy},
		{"short", quality.Metrics{SNR: 20, SpeechLength: 100 * time.Millisecond, SpeechRelativeLength: 0.9}, quality.DescriptionTooSmallSpeechTotalLength},
		{"sparse", quality.Metrics{SNR: 20, SpeechLength: 2 * time.Second, SpeechRelativeLength: 0.1}, quality.DescriptionTooSmallSpeechRelativeLength},
		{"crowded", quality.Metrics{SNR: 20, SpeechLength: 2 * time.Second, SpeechRelativeLength: 0.8, MultipleSpeakersProbability: 0.9}, quality.DescriptionMultipleSpeakersDetected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := quality.Evaluate(tc.m, th); got != tc.want {
				t.Errorf("Evaluate = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDefaultThresholds_CoverAllScenarios(t *testing.T) {
	t.Parallel()

	th := quality.DefaultThresholds()
	for _, s := range quality.Scenarios {
		if _, err := th.Thresholds(s); err != nil {
			t.Errorf("Thresholds(%s): %v", s, err)
		}
	}
	if _, err := th.Thresholds("bogus"); err == nil {
		t.Error("expected error for unknown scenario")
	}
}

func TestParseDescription(t *testing.T) {
	t.Parallel()

	for _, d := range []quality.Description{
		quality.DescriptionOK,
		quality.DescriptionTooNoisy,
		quality.DescriptionTooSmallSpeechTotalLength,
		quality.DescriptionTooSmallSpeechRelativeLength,
		quality.DescriptionMultipleSpeakersDetected,
	} {
		got, err := quality.ParseDescription(d.String())
		if err != nil || got != d {
			t.Errorf("ParseDescription(%q) = %v, %v", d.String(), got, err)
		}
	}
	if _, err := quality.ParseDescription("loud"); err == nil {
		t.Error("expected error for unknown description")
	}
}

func TestStaticThresholds_Merge(t *testing.T) {
	t.Parallel()
	base := quality.DefaultThresholds()
	custom := quality.Thresholds{MinSNR: 15, MinSpeechLength: time.Second}
	merged := base.Merge(quality.StaticThresholds{quality.ScenarioTDEnrollment: custom})

	if got, _ := merged.Thresholds(quality.ScenarioTDEnrollment); got != custom {
		t.Errorf("td_enrollment = %+v, want %+v", got, custom)
	}
	if got, _ := merged.Thresholds(quality.ScenarioTIVerification); got != base[quality.ScenarioTIVerification] {
		t.Errorf("ti_verification = %+v, want default", got)
	}
	if base[quality.ScenarioTDEnrollment] == custom {
		t.Error("Merge modified the receiver")
	}
}

func TestSwappableThresholds(t *testing.T) {
	t.Parallel()
	var empty quality.SwappableThresholds
	if _, err := empty.Thresholds(quality.ScenarioTDEnrollment); err == nil {
		t.Error("zero value returned thresholds")
	}

	table := quality.StaticThresholds{quality.ScenarioTDEnrollment: {MinSNR: 10}}
	s := quality.NewSwappableThresholds(table)
	table[quality.ScenarioTDEnrollment] = quality.Thresholds{MinSNR: 99}
	if got, _ := s.Thresholds(quality.ScenarioTDEnrollment); got.MinSNR != 10 {
		t.Errorf("MinSNR = %v, want 10 (table not copied)", got.MinSNR)
	}

	s.Store(quality.StaticThresholds{quality.ScenarioTDEnrollment: {MinSNR: 12}})
	if got, _ := s.Thresholds(quality.ScenarioTDEnrollment); got.MinSNR != 12 {
		t.Errorf("MinSNR after Store = %v, want 12", got.MinSNR)
	}
	if _, err := s.Thresholds(quality.ScenarioTIEnrollment); err == nil {
		t.Error("missing scenario returned thresholds")
	}
}
