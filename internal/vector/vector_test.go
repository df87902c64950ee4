package vector

import (
	"math"
	"testing"

	"github.com/haven-health/keepsake/pkg/types"
)

func TestVectorizeClampsOutOfRangeProsody(t *testing.T) {
	v := New(DefaultParams())
	variance := -20.0
	p := &types.Prosody{PitchHz: 10000, Energy: 5, PitchVariance: &variance}

	vec, intensity := v.Vectorize(types.EmotionAnxious, p)

	if len(vec) != types.ProsodyDims {
		t.Fatalf("vector length = %d, want %d", len(vec), types.ProsodyDims)
	}
	for i, c := range vec {
		if c < 0 || c > 1 {
			t.Errorf("component %d = %v, want within [0,1]", i, c)
		}
	}
	if vec[types.ProsodySlotPitch] != 1 {
		t.Errorf("pitch = %v, want clamped to 1", vec[types.ProsodySlotPitch])
	}
	if vec[types.ProsodySlotEnergy] != 1 {
		t.Errorf("energy = %v, want clamped to 1", vec[types.ProsodySlotEnergy])
	}
	if vec[types.ProsodySlotTempo] != 0 {
		t.Errorf("tempo = %v, want negative variance clamped to 0", vec[types.ProsodySlotTempo])
	}
	if intensity != 0.7 {
		t.Errorf("intensity = %v, want 0.7 for anxious", intensity)
	}
}

func TestVectorizeTempoHeuristic(t *testing.T) {
	v := New(DefaultParams())
	p := &types.Prosody{PitchHz: 250, Energy: 0.5}

	vec, _ := v.Vectorize(types.EmotionCalm, p)

	// 0.6*energy + 0.4*normalized_pitch = 0.6*0.5 + 0.4*0.5
	want := float32(0.5)
	if diff := float32(math.Abs(float64(vec[types.ProsodySlotTempo] - want))); diff > 1e-6 {
		t.Errorf("tempo = %v, want %v", vec[types.ProsodySlotTempo], want)
	}
}

func TestVectorizeWithoutProsody(t *testing.T) {
	v := New(DefaultParams())

	vec, intensity := v.Vectorize(types.EmotionLit, nil)

	want := []float32{0, 0, 0.9, 0}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, vec[i], want[i])
		}
	}
	if intensity != 0.9 {
		t.Errorf("intensity = %v, want 0.9", intensity)
	}
}

func TestVectorizeUnknownLabelIsNeutral(t *testing.T) {
	v := New(DefaultParams())

	vec, intensity := v.Vectorize("perplexed", nil)

	if intensity != types.NeutralIntensity {
		t.Errorf("intensity = %v, want %v", intensity, types.NeutralIntensity)
	}
	if vec[types.ProsodySlotIntensity] != float32(types.NeutralIntensity) {
		t.Errorf("intensity slot = %v, want %v", vec[types.ProsodySlotIntensity], types.NeutralIntensity)
	}
}

func TestCombineShape(t *testing.T) {
	prosody := []float32{0.1, 0.2, 0.3, 0.4}

	for _, semLen := range []int{0, 1, 8, 384, 1536} {
		sem := make([]float32, semLen)
		got := Combine(sem, prosody)
		if len(got) != semLen+types.ProsodyDims {
			t.Errorf("semantic len %d: combined len = %d, want %d", semLen, len(got), semLen+types.ProsodyDims)
		}
	}
}

func TestCombinePreservesComponents(t *testing.T) {
	sem := []float32{0.5, -0.5}
	prosody := []float32{0.1, 0.2, 0.3, 0.4}

	got := Combine(sem, prosody)

	sub := SubVector(got)
	for i := range prosody {
		if sub[i] != prosody[i] {
			t.Errorf("sub[%d] = %v, want %v", i, sub[i], prosody[i])
		}
	}
	if got[0] != 0.5 || got[1] != -0.5 {
		t.Error("semantic block was altered by Combine")
	}
}

func TestSubVectorTooShort(t *testing.T) {
	if SubVector([]float32{1, 2, 3}) != nil {
		t.Error("expected nil for a vector shorter than ProsodyDims")
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}
