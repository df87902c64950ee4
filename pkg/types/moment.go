package types

import "time"

// Prosody holds the vocal measurements supplied by the speech provider
// for a voice moment. All fields are raw provider units; normalization
// happens in the vectorizer.
type Prosody struct {
	PitchHz       float64  `json:"pitch_hz"`                 // Fundamental frequency in Hz
	Energy        float64  `json:"energy"`                   // Normalized loudness, expected 0-1
	PitchVariance *float64 `json:"pitch_variance,omitempty"` // Pitch variance when the provider reports it
}

// Moment is one captured unit of user expression: text, optional voice
// prosody, and the emotional metadata derived from both. A moment is
// immutable once its embedding is computed, except for the lifecycle
// fields (context weight, decay flag, reinforced intensity/TTL) and the
// index confirmation marker.
type Moment struct {
	ID      string       `json:"id"`
	ActorID string       `json:"actor_id"`
	Content string       `json:"content"`
	Emotion EmotionLabel `json:"emotion"`
	Prosody *Prosody     `json:"prosody,omitempty"`

	// Embedding is the semantic vector with the prosody sub-vector
	// concatenated at the end; len = semantic dims + ProsodyDims.
	Embedding []float32 `json:"embedding,omitempty"`

	// Derived emotional metadata.
	EmotionIntensity float64 `json:"emotion_intensity"` // Arousal scalar 0-1
	ContextWeight    float64 `json:"context_weight"`    // Retrieval relevance weight, reduced by decay
	TTLDays          float64 `json:"ttl_days"`          // Retention window in days

	// Lifecycle bookkeeping.
	Decayed   bool       `json:"decayed"`              // Set once the moment has outlived its TTL
	IndexedAt *time.Time `json:"indexed_at,omitempty"` // When the similarity index confirmed the vector

	CreatedAt time.Time `json:"created_at"`
}

// AgeDays returns the moment's age in fractional days at the given time.
func (m *Moment) AgeDays(now time.Time) float64 {
	return now.Sub(m.CreatedAt).Hours() / 24
}

// EmotionSubVector returns the trailing prosody components of the
// unified embedding, or nil when the embedding is too short to carry
// them.
func (m *Moment) EmotionSubVector() []float32 {
	if len(m.Embedding) < ProsodyDims {
		return nil
	}
	return m.Embedding[len(m.Embedding)-ProsodyDims:]
}
