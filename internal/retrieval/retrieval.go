// Package retrieval finds the moments most relevant to an incoming
// utterance, re-ranked by emotional affinity, and synthesizes the
// relationship context summary used to condition a response.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/haven-health/keepsake/internal/index"
	"github.com/haven-health/keepsake/internal/observability/logging"
	"github.com/haven-health/keepsake/internal/observability/metrics"
	"github.com/haven-health/keepsake/internal/provider"
	"github.com/haven-health/keepsake/internal/storage"
	"github.com/haven-health/keepsake/internal/vector"
	"github.com/haven-health/keepsake/pkg/types"
)

// Result sources, used for metrics labels and diagnostics.
const (
	SourceVector  = "vector"
	SourceKeyword = "keyword"
	SourceNone    = "none"
)

// DefaultLimit is the number of moments returned when the query does
// not specify one.
const DefaultLimit = 5

// Params tunes candidate selection and re-ranking.
type Params struct {
	// EmotionFloor discards candidates whose emotion sub-vector cosine
	// against the query falls below this value.
	EmotionFloor float64

	// CandidateMultiplier oversizes the index query relative to the
	// requested limit so the emotion filter has room to discard.
	CandidateMultiplier int

	// IntensityBoost scales how much a candidate's stored emotional
	// intensity amplifies its semantic similarity.
	IntensityBoost float64

	// BaseWeight and EmotionWeight mix semantic and emotional
	// agreement into the final score.
	BaseWeight    float64
	EmotionWeight float64
}

// DefaultParams returns the standard re-ranking weights.
func DefaultParams() Params {
	return Params{
		EmotionFloor:        0.75,
		CandidateMultiplier: 2,
		IntensityBoost:      0.5,
		BaseWeight:          0.8,
		EmotionWeight:       0.2,
	}
}

// Query describes one retrieval request.
type Query struct {
	ActorID string
	Text    string
	Emotion types.EmotionLabel
	Prosody *types.Prosody
	Limit   int
}

// RankedMoment is a retrieved moment with its ranking breakdown. On
// the degraded keyword path all scores are zero and ordering is by
// recency.
type RankedMoment struct {
	Moment             *types.Moment `json:"moment"`
	SemanticSimilarity float64       `json:"semantic_similarity"`
	EmotionSimilarity  float64       `json:"emotion_similarity"`
	FinalScore         float64       `json:"final_score"`
}

// Result is the retrieval outcome. Degraded reports that the vector
// path was unavailable and a weaker source served the request.
type Result struct {
	Moments        []RankedMoment `json:"moments"`
	ContextSummary string         `json:"context_summary"`
	Degraded       bool           `json:"degraded"`
	Source         string         `json:"source"`
}

// Retriever executes similarity retrieval over the index with
// hydration from the moment store.
type Retriever struct {
	embedder   provider.TextEmbedder
	vectorizer *vector.Vectorizer
	idx        index.Index
	moments    storage.MomentStore
	contexts   storage.ContextStore
	params     Params
}

// New creates a retriever. idx may be nil, which forces the keyword
// path for every query.
func New(embedder provider.TextEmbedder, vectorizer *vector.Vectorizer, idx index.Index, moments storage.MomentStore, contexts storage.ContextStore, params Params) *Retriever {
	return &Retriever{
		embedder:   embedder,
		vectorizer: vectorizer,
		idx:        idx,
		moments:    moments,
		contexts:   contexts,
		params:     params,
	}
}

// Retrieve returns the actor's most relevant moments for the query.
// It never returns an error: failures along the vector path degrade to
// substring matching, and a failed store read yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, q Query) Result {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	emitToContext(ctx, TraceEvent{Kind: KindRetrievalStarted, Query: q.Text, Emotion: string(q.Emotion)})

	ranked, err := r.vectorPath(ctx, q, limit)
	if err != nil {
		logging.Warnf("Vector retrieval for actor %s degraded: %v", q.ActorID, err)
		metrics.RetrievalDegraded.Inc()
		return r.keywordPath(ctx, q, limit)
	}

	metrics.RetrievalRequests.WithLabelValues(SourceVector).Inc()
	return Result{
		Moments:        ranked,
		ContextSummary: r.contextSummary(ctx, q.ActorID),
		Source:         SourceVector,
	}
}

func (r *Retriever) vectorPath(ctx context.Context, q Query, limit int) ([]RankedMoment, error) {
	if r.idx == nil {
		return nil, errors.New("no index configured")
	}

	semantic, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}
	queryEmotion, queryIntensity := r.vectorizer.Vectorize(q.Emotion, q.Prosody)
	queryVec := vector.Combine(semantic, queryEmotion)

	candidates, err := r.idx.Query(ctx, queryVec, limit*r.params.CandidateMultiplier, index.Filter{ActorID: q.ActorID})
	if err != nil {
		return nil, fmt.Errorf("index query failed: %w", err)
	}
	emitToContext(ctx, TraceEvent{Kind: KindCandidatesFound, Count: len(candidates), Source: SourceVector})
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	similarity := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
		similarity[c.ID] = c.Similarity
	}

	moments, err := r.moments.GetMoments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("candidate hydration failed: %w", err)
	}
	r.traceHydrationMisses(ctx, ids, moments)

	ranked := make([]RankedMoment, 0, len(moments))
	for _, m := range moments {
		// Candidates whose felt emotion diverges from the query's are
		// dropped entirely, not just down-ranked.
		affinity := vector.Cosine(queryEmotion, m.EmotionSubVector())
		if affinity < r.params.EmotionFloor {
			emitToContext(ctx, TraceEvent{Kind: KindDiscarded, MomentID: m.ID,
				Reason: fmt.Sprintf("emotion affinity %.2f below floor %.2f", affinity, r.params.EmotionFloor)})
			continue
		}

		semanticSim := similarity[m.ID]
		emotionScore := semanticSim * (1 + m.EmotionIntensity*r.params.IntensityBoost)
		emotionSim := 1 - math.Abs(queryIntensity-m.EmotionIntensity)
		final := emotionScore * (r.params.BaseWeight + emotionSim*r.params.EmotionWeight)

		emitToContext(ctx, TraceEvent{Kind: KindScoredCandidate, MomentID: m.ID,
			Scores:     &TraceScores{Semantic: semanticSim, EmotionAffinity: affinity, EmotionSimilarity: emotionSim},
			FinalScore: final})

		ranked = append(ranked, RankedMoment{
			Moment:             m,
			SemanticSimilarity: semanticSim,
			EmotionSimilarity:  emotionSim,
			FinalScore:         final,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	traceReturned(ctx, ranked)
	return ranked, nil
}

// traceHydrationMisses records candidates the store no longer has; the
// diff is only computed when a trace is active.
func (r *Retriever) traceHydrationMisses(ctx context.Context, ids []string, moments []*types.Moment) {
	if _, ok := TraceCollectorFromContext(ctx); !ok || len(moments) == len(ids) {
		return
	}
	found := make(map[string]bool, len(moments))
	for _, m := range moments {
		found[m.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			emitToContext(ctx, TraceEvent{Kind: KindDiscarded, MomentID: id, Reason: "moment no longer stored"})
		}
	}
}

func traceReturned(ctx context.Context, ranked []RankedMoment) {
	if _, ok := TraceCollectorFromContext(ctx); !ok {
		return
	}
	ids := make([]string, len(ranked))
	for i, rm := range ranked {
		ids[i] = rm.Moment.ID
	}
	emitToContext(ctx, TraceEvent{Kind: KindResultsReturned, MomentIDs: ids})
}

func (r *Retriever) keywordPath(ctx context.Context, q Query, limit int) Result {
	moments, err := r.moments.SearchMomentText(ctx, q.ActorID, q.Text, limit)
	if err != nil {
		logging.Errorf("Keyword retrieval for actor %s failed: %v", q.ActorID, err)
		metrics.RetrievalRequests.WithLabelValues(SourceNone).Inc()
		return Result{Degraded: true, Source: SourceNone}
	}

	emitToContext(ctx, TraceEvent{Kind: KindCandidatesFound, Count: len(moments), Source: SourceKeyword})

	ranked := make([]RankedMoment, 0, len(moments))
	for _, m := range moments {
		ranked = append(ranked, RankedMoment{Moment: m})
	}
	traceReturned(ctx, ranked)
	metrics.RetrievalRequests.WithLabelValues(SourceKeyword).Inc()
	return Result{
		Moments:        ranked,
		ContextSummary: r.contextSummary(ctx, q.ActorID),
		Degraded:       true,
		Source:         SourceKeyword,
	}
}

// contextSummary renders the relational context as guidance text for
// the response generator. Pure formatting over the stored context.
func (r *Retriever) contextSummary(ctx context.Context, actorID string) string {
	rc, err := r.contexts.GetContext(ctx, actorID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.Warnf("Context summary for actor %s unavailable: %v", actorID, err)
		}
		return "This is a new relationship with no shared history yet."
	}

	var b strings.Builder
	b.WriteString("Relationship: ")
	b.WriteString(trustBand(rc.Trust))
	b.WriteString(", ")
	b.WriteString(continuityBand(rc.Continuity))
	b.WriteString(". Recent emotional tone: ")
	b.WriteString(toneBand(rc.MeanIntensity()))
	b.WriteString(".")
	if len(rc.Topics) > 0 {
		b.WriteString(" Shared topics: ")
		b.WriteString(strings.Join(topN(rc.Topics, 5), ", "))
		b.WriteString(".")
	}
	return b.String()
}

func trustBand(trust float64) string {
	switch {
	case trust >= 0.75:
		return "deep trust"
	case trust >= 0.55:
		return "growing trust"
	default:
		return "early trust"
	}
}

func continuityBand(continuity float64) string {
	switch {
	case continuity >= 0.7:
		return "strong conversational continuity"
	case continuity >= 0.4:
		return "developing continuity"
	default:
		return "fragmented conversations"
	}
}

func toneBand(intensity float64) string {
	switch {
	case intensity >= 0.75:
		return "heightened"
	case intensity >= 0.55:
		return "engaged"
	case intensity >= 0.35:
		return "steady"
	default:
		return "subdued"
	}
}

func topN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
