// Package vector turns categorical emotion and raw prosody measurements
// into the numeric features the engine works with, and carries the
// shared vector math.
package vector

import (
	"math"

	"github.com/haven-health/keepsake/pkg/types"
)

// Params holds the normalization constants for prosody features.
type Params struct {
	// PitchNormHz divides raw pitch; 500 Hz maps the upper end of
	// conversational speech onto 1.0.
	PitchNormHz float64

	// VarianceNorm divides reported pitch variance.
	VarianceNorm float64

	// TempoEnergyWeight and TempoPitchWeight blend the tempo-variance
	// heuristic used when the provider reports no variance.
	TempoEnergyWeight float64
	TempoPitchWeight  float64
}

// DefaultParams returns the production normalization constants.
func DefaultParams() Params {
	return Params{
		PitchNormHz:       500,
		VarianceNorm:      100,
		TempoEnergyWeight: 0.6,
		TempoPitchWeight:  0.4,
	}
}

// Vectorizer derives prosody sub-vectors and intensity scalars. Pure
// computation; safe for concurrent use.
type Vectorizer struct {
	params Params
}

// New creates a vectorizer with the given params.
func New(params Params) *Vectorizer {
	return &Vectorizer{params: params}
}

// Vectorize converts an emotion label and optional prosody measurements
// into the 4-dim prosody sub-vector and the emotion-intensity scalar.
// Out-of-range measurements are clamped, missing ones degrade to
// defaults; this never fails.
func (v *Vectorizer) Vectorize(label types.EmotionLabel, p *types.Prosody) ([]float32, float64) {
	intensity := label.Intensity()

	var pitch, energy, tempo float64
	if p != nil {
		pitch = Clamp01(p.PitchHz / v.params.PitchNormHz)
		energy = Clamp01(p.Energy)
		if p.PitchVariance != nil {
			tempo = Clamp01(*p.PitchVariance / v.params.VarianceNorm)
		} else {
			tempo = v.params.TempoEnergyWeight*energy + v.params.TempoPitchWeight*pitch
		}
	}

	vec := []float32{
		float32(pitch),
		float32(energy),
		float32(intensity),
		float32(tempo),
	}
	return vec, intensity
}

// Combine concatenates the semantic vector with the prosody sub-vector
// into the unified embedding. No renormalization is applied: cosine
// over the full vector is dominated by the semantic block, and the
// trailing prosody components stay independently addressable.
func Combine(semantic, prosody []float32) []float32 {
	out := make([]float32, 0, len(semantic)+len(prosody))
	out = append(out, semantic...)
	out = append(out, prosody...)
	return out
}

// SubVector returns the trailing prosody components of a unified
// embedding, nil when the vector is too short.
func SubVector(embedding []float32) []float32 {
	if len(embedding) < types.ProsodyDims {
		return nil
	}
	return embedding[len(embedding)-types.ProsodyDims:]
}

// Cosine computes cosine similarity between two vectors, 0 when either
// has zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Clamp01 clamps x to [0,1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
