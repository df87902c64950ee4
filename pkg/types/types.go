// Package types defines the core data structures for the Keepsake engine:
// moments, relational context, signal scores, and the behavioral evidence
// rows the scoring engine reads. Labels carry their derived scalars
// (intensity, vulnerability) so every component shares one table.
package types

import "strings"

// EmotionLabel is the categorical emotion attached to a moment by the
// upstream classification provider.
type EmotionLabel string

// Known emotion labels, ordered by perceived arousal.
const (
	EmotionDetached   EmotionLabel = "detached"
	EmotionCalm       EmotionLabel = "calm"
	EmotionLow        EmotionLabel = "low"
	EmotionGuarded    EmotionLabel = "guarded"
	EmotionVulnerable EmotionLabel = "vulnerable"
	EmotionAnxious    EmotionLabel = "anxious"
	EmotionHigh       EmotionLabel = "high"
	EmotionLit        EmotionLabel = "lit"
)

// KnownEmotionLabels contains every label with a defined intensity.
var KnownEmotionLabels = []EmotionLabel{
	EmotionDetached,
	EmotionCalm,
	EmotionLow,
	EmotionGuarded,
	EmotionVulnerable,
	EmotionAnxious,
	EmotionHigh,
	EmotionLit,
}

// NeutralIntensity is the arousal assigned to labels we have no table
// entry for. Unknown input degrades to neutral, it never fails.
const NeutralIntensity = 0.5

const defaultVulnerability = 0.4

// emotionIntensity is monotonic in perceived arousal.
var emotionIntensity = map[EmotionLabel]float64{
	EmotionDetached:   0.1,
	EmotionCalm:       0.3,
	EmotionLow:        0.4,
	EmotionGuarded:    0.5,
	EmotionVulnerable: 0.6,
	EmotionAnxious:    0.7,
	EmotionHigh:       0.9,
	EmotionLit:        0.9,
}

// emotionVulnerability weights how much sharing a state in this label
// should move the trust index. Guarded, low and vulnerable states count
// for more than detached ones.
var emotionVulnerability = map[EmotionLabel]float64{
	EmotionDetached:   0.2,
	EmotionCalm:       0.4,
	EmotionLow:        0.7,
	EmotionGuarded:    0.6,
	EmotionVulnerable: 0.8,
	EmotionAnxious:    0.8,
	EmotionHigh:       0.5,
	EmotionLit:        0.5,
}

// NormalizeEmotion folds free-form provider output onto a label value.
func NormalizeEmotion(s string) EmotionLabel {
	return EmotionLabel(strings.ToLower(strings.TrimSpace(s)))
}

// Intensity returns the arousal scalar for the label, NeutralIntensity
// when the label is unknown.
func (e EmotionLabel) Intensity() float64 {
	if v, ok := emotionIntensity[NormalizeEmotion(string(e))]; ok {
		return v
	}
	return NeutralIntensity
}

// Vulnerability returns the trust-delta weight for the label.
func (e EmotionLabel) Vulnerability() float64 {
	if v, ok := emotionVulnerability[NormalizeEmotion(string(e))]; ok {
		return v
	}
	return defaultVulnerability
}

// Known reports whether the label has a defined intensity.
func (e EmotionLabel) Known() bool {
	_, ok := emotionIntensity[NormalizeEmotion(string(e))]
	return ok
}

// ProsodyDims is the width of the prosody sub-vector appended to every
// unified embedding: [normalized_pitch, energy, emotion_intensity,
// tempo_variance].
const ProsodyDims = 4

// Component slots within the prosody sub-vector.
const (
	ProsodySlotPitch     = 0
	ProsodySlotEnergy    = 1
	ProsodySlotIntensity = 2
	ProsodySlotTempo     = 3
)

// OutreachLevel buckets an overall risk score into an outreach
// recommendation for the care team.
type OutreachLevel string

// Outreach levels, calm to critical.
const (
	OutreachSteady   OutreachLevel = "steady"
	OutreachWatch    OutreachLevel = "watch"
	OutreachElevated OutreachLevel = "elevated"
	OutreachUrgent   OutreachLevel = "urgent"
)
