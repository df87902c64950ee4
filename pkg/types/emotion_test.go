package types_test

import (
	"testing"

	"github.com/haven-health/keepsake/pkg/types"
)

// TestIntensityMonotonicInArousal verifies the label table keeps its
// ordering from detached up to lit.
func TestIntensityMonotonicInArousal(t *testing.T) {
	order := []types.EmotionLabel{
		types.EmotionDetached,
		types.EmotionCalm,
		types.EmotionLow,
		types.EmotionGuarded,
		types.EmotionVulnerable,
		types.EmotionAnxious,
		types.EmotionHigh,
		types.EmotionLit,
	}

	prev := -1.0
	for _, label := range order {
		got := label.Intensity()
		if got < prev {
			t.Errorf("intensity for %q is %v, below preceding %v", label, got, prev)
		}
		prev = got
	}

	if types.EmotionDetached.Intensity() != 0.1 {
		t.Errorf("detached intensity = %v, want 0.1", types.EmotionDetached.Intensity())
	}
	if types.EmotionLit.Intensity() != 0.9 {
		t.Errorf("lit intensity = %v, want 0.9", types.EmotionLit.Intensity())
	}
	if types.EmotionHigh.Intensity() != types.EmotionLit.Intensity() {
		t.Error("high and lit should share an intensity")
	}
}

func TestUnknownLabelDefaults(t *testing.T) {
	unknown := types.EmotionLabel("bewildered")

	if got := unknown.Intensity(); got != types.NeutralIntensity {
		t.Errorf("unknown intensity = %v, want %v", got, types.NeutralIntensity)
	}
	if unknown.Known() {
		t.Error("Known() should be false for an unlisted label")
	}
	if got := unknown.Vulnerability(); got != 0.4 {
		t.Errorf("unknown vulnerability = %v, want 0.4", got)
	}
}

func TestNormalizeEmotionFolds(t *testing.T) {
	cases := []struct {
		in   string
		want types.EmotionLabel
	}{
		{"Anxious", types.EmotionAnxious},
		{"  LIT  ", types.EmotionLit},
		{"calm", types.EmotionCalm},
	}

	for _, tc := range cases {
		if got := types.NormalizeEmotion(tc.in); got != tc.want {
			t.Errorf("NormalizeEmotion(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	// Casing must not change the lookup result.
	if types.EmotionLabel("ANXIOUS").Intensity() != types.EmotionAnxious.Intensity() {
		t.Error("intensity lookup should fold case")
	}
}

// TestVulnerabilityBandsForTrust checks the labels the trust update
// leans on: low and anxious must clear 0.6, detached must stay low.
func TestVulnerabilityBandsForTrust(t *testing.T) {
	for _, label := range []types.EmotionLabel{types.EmotionLow, types.EmotionAnxious, types.EmotionVulnerable} {
		if label.Vulnerability() < 0.6 {
			t.Errorf("%q vulnerability = %v, want >= 0.6", label, label.Vulnerability())
		}
	}
	if got := types.EmotionDetached.Vulnerability(); got != 0.2 {
		t.Errorf("detached vulnerability = %v, want 0.2", got)
	}
}
