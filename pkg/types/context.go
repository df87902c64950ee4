package types

import "time"

// RelationalContext is the per-actor running aggregate the companion
// leans on between conversations: what the actor talks about, how much
// they have trusted us with, and how emotionally continuous the
// relationship has been. One row per actor, created lazily on the first
// moment, mutated only through the relation store's update procedure.
type RelationalContext struct {
	ActorID string `json:"actor_id"`

	// Topics is the deduplicated union of every topic the actor has
	// raised, folded to lower case.
	Topics []string `json:"topics"`

	// EmotionMean is the running exponential average of the prosody
	// sub-vectors seen for this actor; len == ProsodyDims.
	EmotionMean []float32 `json:"emotion_mean"`

	Trust      float64 `json:"trust"`      // 0-1, nudged up when vulnerable states are shared
	Resonance  float64 `json:"resonance"`  // 0-1, how often system emotion matched the actor's
	Continuity float64 `json:"continuity"` // 0-1, topic overlap across consecutive moments

	UpdatedAt time.Time `json:"updated_at"`
}

// HasTopic reports whether the folded topic is already in the set.
func (c *RelationalContext) HasTopic(topic string) bool {
	for _, t := range c.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// MeanIntensity returns the emotion-intensity component of the running
// emotion mean, NeutralIntensity when no mean has been accumulated yet.
func (c *RelationalContext) MeanIntensity() float64 {
	if len(c.EmotionMean) != ProsodyDims {
		return NeutralIntensity
	}
	return float64(c.EmotionMean[ProsodySlotIntensity])
}
