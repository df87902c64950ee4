// Package relation maintains the per-actor relational context: the
// running aggregate of trust, resonance, continuity, topics and mean
// emotion that the companion carries between conversations.
//
// Context updates are read-modify-write against the persistent row, so
// updates for the same actor are serialized through a sharded lock
// arena; updates for different actors proceed independently.
package relation

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haven-health/keepsake/internal/storage"
	"github.com/haven-health/keepsake/internal/vector"
	"github.com/haven-health/keepsake/pkg/types"
)

// Params holds the smoothing and step constants for context updates.
type Params struct {
	// EmotionAlpha weights the newest emotion vector in the running
	// mean: new_mean = old*(1-alpha) + current*alpha.
	EmotionAlpha float64

	// TrustStep scales the vulnerability lookup into a trust delta.
	TrustStep float64

	// ContinuityKeep and ContinuityGain blend topic overlap into the
	// continuity score.
	ContinuityKeep float64
	ContinuityGain float64

	// ResonanceKeep and ResonanceGain smooth resonance samples.
	ResonanceKeep float64
	ResonanceGain float64

	// MatchSample and MismatchSample are the resonance samples for a
	// matched and mismatched user/system emotion pair.
	MatchSample    float64
	MismatchSample float64

	// InitialValue seeds trust, resonance and continuity for a fresh
	// context.
	InitialValue float64
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		EmotionAlpha:   0.2,
		TrustStep:      0.05,
		ContinuityKeep: 0.8,
		ContinuityGain: 0.2,
		ResonanceKeep:  0.9,
		ResonanceGain:  0.1,
		MatchSample:    1.0,
		MismatchSample: 0.5,
		InitialValue:   0.5,
	}
}

const lockShards = 64

// Store wraps the persistent context rows with per-actor serialization
// and the update procedure. Safe for concurrent use.
type Store struct {
	contexts storage.ContextStore
	params   Params

	locks [lockShards]sync.Mutex
}

// New creates a relation store over the given persistence.
func New(contexts storage.ContextStore, params Params) *Store {
	return &Store{contexts: contexts, params: params}
}

// Get returns the actor's context, storage.ErrNotFound before the first
// moment.
func (s *Store) Get(ctx context.Context, actorID string) (*types.RelationalContext, error) {
	return s.contexts.GetContext(ctx, actorID)
}

// Update applies one moment to the actor's context: topic union,
// emotion-mean smoothing, trust nudge and continuity blend, persisted
// before the actor lock is released. Reads after a completed Update see
// its effects.
func (s *Store) Update(ctx context.Context, actorID string, label types.EmotionLabel, emotionVec []float32, topics []string) (*types.RelationalContext, error) {
	if actorID == "" {
		return nil, fmt.Errorf("relation: %w: empty actor id", storage.ErrInvalidInput)
	}

	mu := s.lockFor(actorID)
	mu.Lock()
	defer mu.Unlock()

	rc, err := s.load(ctx, actorID, emotionVec)
	if err != nil {
		return nil, err
	}

	folded := foldTopics(topics)
	overlap := topicOverlap(folded, rc.Topics)
	rc.Topics = mergeTopics(rc.Topics, folded)

	s.smoothEmotionMean(rc, emotionVec)

	rc.Trust = vector.Clamp01(rc.Trust + label.Vulnerability()*s.params.TrustStep)
	rc.Continuity = vector.Clamp01(rc.Continuity*s.params.ContinuityKeep + overlap*s.params.ContinuityGain)
	rc.UpdatedAt = time.Now().UTC()

	if err := s.contexts.UpsertContext(ctx, rc); err != nil {
		return nil, fmt.Errorf("relation: persist context for %s: %w", actorID, err)
	}
	return rc, nil
}

// UpdateResonance folds one user/system emotion pairing into the
// actor's resonance index: a match samples 1.0, a mismatch 0.5.
func (s *Store) UpdateResonance(ctx context.Context, actorID string, userEmotion, systemEmotion types.EmotionLabel) (*types.RelationalContext, error) {
	if actorID == "" {
		return nil, fmt.Errorf("relation: %w: empty actor id", storage.ErrInvalidInput)
	}

	mu := s.lockFor(actorID)
	mu.Lock()
	defer mu.Unlock()

	rc, err := s.load(ctx, actorID, nil)
	if err != nil {
		return nil, err
	}

	sample := s.params.MismatchSample
	if types.NormalizeEmotion(string(userEmotion)) == types.NormalizeEmotion(string(systemEmotion)) {
		sample = s.params.MatchSample
	}
	rc.Resonance = vector.Clamp01(rc.Resonance*s.params.ResonanceKeep + sample*s.params.ResonanceGain)
	rc.UpdatedAt = time.Now().UTC()

	if err := s.contexts.UpsertContext(ctx, rc); err != nil {
		return nil, fmt.Errorf("relation: persist context for %s: %w", actorID, err)
	}
	return rc, nil
}

// load fetches the context or lazily creates a fresh one seeded with
// the current emotion vector.
func (s *Store) load(ctx context.Context, actorID string, emotionVec []float32) (*types.RelationalContext, error) {
	rc, err := s.contexts.GetContext(ctx, actorID)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("relation: load context for %s: %w", actorID, err)
	}

	fresh := &types.RelationalContext{
		ActorID:    actorID,
		Trust:      s.params.InitialValue,
		Resonance:  s.params.InitialValue,
		Continuity: s.params.InitialValue,
	}
	if len(emotionVec) == types.ProsodyDims {
		fresh.EmotionMean = append([]float32(nil), emotionVec...)
	}
	return fresh, nil
}

func (s *Store) smoothEmotionMean(rc *types.RelationalContext, current []float32) {
	if len(current) != types.ProsodyDims {
		return
	}
	if len(rc.EmotionMean) != types.ProsodyDims {
		rc.EmotionMean = append([]float32(nil), current...)
		return
	}
	a := s.params.EmotionAlpha
	for i := range rc.EmotionMean {
		rc.EmotionMean[i] = float32(float64(rc.EmotionMean[i])*(1-a) + float64(current[i])*a)
	}
}

func (s *Store) lockFor(actorID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(actorID))
	return &s.locks[h.Sum32()%lockShards]
}

// foldTopics lowercases, trims and deduplicates, dropping empties.
func foldTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		f := strings.ToLower(strings.TrimSpace(t))
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// topicOverlap is |new ∩ existing| / |new|, 0 when there are no new
// topics.
func topicOverlap(newTopics, existing []string) float64 {
	if len(newTopics) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		set[t] = struct{}{}
	}
	shared := 0
	for _, t := range newTopics {
		if _, ok := set[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(newTopics))
}

func mergeTopics(existing, folded []string) []string {
	set := make(map[string]struct{}, len(existing)+len(folded))
	merged := make([]string, 0, len(existing)+len(folded))
	for _, t := range existing {
		if _, ok := set[t]; !ok {
			set[t] = struct{}{}
			merged = append(merged, t)
		}
	}
	for _, t := range folded {
		if _, ok := set[t]; !ok {
			set[t] = struct{}{}
			merged = append(merged, t)
		}
	}
	sort.Strings(merged)
	return merged
}
