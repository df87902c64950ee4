// Package expression maps emotional state onto the continuous
// calm/guarded/lit blend the companion's voice and avatar are driven
// by, and derives the modulation parameters (TTS pitch/speed, glow,
// easing) the response layer hands to its renderers. Pure computation,
// no I/O.
package expression

import (
	"math"

	"github.com/haven-health/keepsake/pkg/types"
)

// Blend is a probability-style weighting over the three expression
// microstates. Components sum to ~1 for blends produced here.
type Blend struct {
	Calm    float64 `json:"calm"`
	Guarded float64 `json:"guarded"`
	Lit     float64 `json:"lit"`
}

// Modulation carries the interpolated voice and avatar parameters for
// one expression blend.
type Modulation struct {
	TTSPitchShift float64 `json:"tts_pitch_shift"`
	TTSSpeedScale float64 `json:"tts_speed_scale"`
	GlowIntensity float64 `json:"glow_intensity"`
	GlowHue       float64 `json:"glow_hue"`
	GlowEasing    string  `json:"glow_easing_curve"`
}

// Easing curve names understood by the avatar renderer.
const (
	EasingSine   = "sine"
	EasingEaseIn = "ease-in"
	EasingCubic  = "cubic"
)

// DefaultTemperature is the softmax temperature for classifier logits.
const DefaultTemperature = 0.7

// DefaultSmoothing is the weight kept from the previous blend when
// smoothing across turns.
const DefaultSmoothing = 0.3

// BlendLogits converts raw classifier logits (calm, guarded, lit) into
// a blend via tempered softmax. Anything but exactly three logits
// yields the even blend.
func BlendLogits(logits []float64, temperature float64) Blend {
	if len(logits) != 3 || temperature <= 0 {
		return evenBlend()
	}

	scaled := make([]float64, 3)
	maxv := math.Inf(-1)
	for i, l := range logits {
		scaled[i] = l / temperature
		if scaled[i] > maxv {
			maxv = scaled[i]
		}
	}
	var sum float64
	for i := range scaled {
		scaled[i] = math.Exp(scaled[i] - maxv)
		sum += scaled[i]
	}
	return Blend{
		Calm:    scaled[0] / sum,
		Guarded: scaled[1] / sum,
		Lit:     scaled[2] / sum,
	}
}

// Smooth blends consecutive turns to avoid expression jitter:
// (1-smoothing)*next + smoothing*prev per dimension, rounded to three
// decimals.
func Smooth(prev, next Blend, smoothing float64) Blend {
	mix := func(p, n float64) float64 {
		return roundTo((1-smoothing)*n+smoothing*p, 3)
	}
	return Blend{
		Calm:    mix(prev.Calm, next.Calm),
		Guarded: mix(prev.Guarded, next.Guarded),
		Lit:     mix(prev.Lit, next.Lit),
	}
}

// labelBlends projects each categorical label onto the expression
// simplex. Low-arousal vulnerable states load guarded, elevated states
// load lit.
var labelBlends = map[types.EmotionLabel]Blend{
	types.EmotionDetached:   {Calm: 0.75, Guarded: 0.2, Lit: 0.05},
	types.EmotionCalm:       {Calm: 0.8, Guarded: 0.1, Lit: 0.1},
	types.EmotionLow:        {Calm: 0.45, Guarded: 0.5, Lit: 0.05},
	types.EmotionGuarded:    {Calm: 0.2, Guarded: 0.75, Lit: 0.05},
	types.EmotionVulnerable: {Calm: 0.3, Guarded: 0.6, Lit: 0.1},
	types.EmotionAnxious:    {Calm: 0.15, Guarded: 0.65, Lit: 0.2},
	types.EmotionHigh:       {Calm: 0.1, Guarded: 0.1, Lit: 0.8},
	types.EmotionLit:        {Calm: 0.05, Guarded: 0.05, Lit: 0.9},
}

// FromLabel maps a categorical emotion label onto the blend simplex;
// unknown labels get the even blend.
func FromLabel(label types.EmotionLabel) Blend {
	if b, ok := labelBlends[types.NormalizeEmotion(string(label))]; ok {
		return b
	}
	return evenBlend()
}

// Modulation interpolates the voice and avatar parameters for the
// blend.
func (b Blend) Modulation() Modulation {
	easing := EasingCubic
	switch {
	case b.Calm > 0.6:
		easing = EasingSine
	case b.Guarded > 0.5:
		easing = EasingEaseIn
	}

	return Modulation{
		TTSPitchShift: roundTo((b.Lit-b.Calm)*0.08, 3),
		TTSSpeedScale: roundTo(0.9+b.Lit*0.2-b.Guarded*0.05, 3),
		GlowIntensity: roundTo(0.4*b.Calm+0.25*b.Guarded+0.9*b.Lit, 2),
		GlowHue:       roundTo(120*b.Lit+240*b.Guarded, 1),
		GlowEasing:    easing,
	}
}

func evenBlend() Blend {
	return Blend{Calm: 1.0 / 3, Guarded: 1.0 / 3, Lit: 1.0 / 3}
}

func roundTo(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
