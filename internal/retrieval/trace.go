package retrieval

import (
	"context"
	"time"
)

// TraceKind classifies each retrieval trace event.
type TraceKind string

const (
	// KindRetrievalStarted is emitted at the beginning of a retrieval.
	KindRetrievalStarted TraceKind = "retrieval_started"

	// KindCandidatesFound is emitted once the candidate set is resolved.
	KindCandidatesFound TraceKind = "candidates_found"

	// KindScoredCandidate is emitted per candidate that survived the
	// emotion filter, with its ranking breakdown.
	KindScoredCandidate TraceKind = "scored_candidate"

	// KindDiscarded is emitted for every candidate that was dropped.
	KindDiscarded TraceKind = "discarded"

	// KindResultsReturned is emitted after truncation with the final
	// ordering.
	KindResultsReturned TraceKind = "results_returned"
)

// TraceScores holds the per-component ranking breakdown for one
// candidate.
type TraceScores struct {
	// Semantic is the index similarity over the unified vector.
	Semantic float64 `json:"semantic"`

	// EmotionAffinity is the cosine between the query's and the
	// candidate's emotion sub-vectors.
	EmotionAffinity float64 `json:"emotion_affinity"`

	// EmotionSimilarity is the intensity agreement used for the final
	// mix.
	EmotionSimilarity float64 `json:"emotion_similarity"`
}

// TraceEvent is a single structured event emitted during retrieval.
type TraceEvent struct {
	Kind TraceKind `json:"kind"`
	At   time.Time `json:"at"`

	// MomentID is set for per-candidate events.
	MomentID string `json:"moment_id,omitempty"`

	// Source is the path that produced candidates ("vector", "keyword").
	Source string `json:"source,omitempty"`

	// Count is used by candidates_found.
	Count int `json:"count,omitempty"`

	// Scores and FinalScore carry the breakdown for scored_candidate.
	Scores     *TraceScores `json:"scores,omitempty"`
	FinalScore float64      `json:"final_score,omitempty"`

	// Reason explains discarded events.
	Reason string `json:"reason,omitempty"`

	// Query and Emotion are populated in retrieval_started.
	Query   string `json:"query,omitempty"`
	Emotion string `json:"emotion,omitempty"`

	// MomentIDs lists the final ordering for results_returned.
	MomentIDs []string `json:"moment_ids,omitempty"`
}

// contextKey is an unexported type for context keys owned by this
// package.
type contextKey string

const traceKey contextKey = "retrieval_trace"

// TraceCollector accumulates TraceEvents for a single retrieval.
type TraceCollector struct {
	events    []TraceEvent
	startedAt time.Time
}

// NewTraceCollector returns a fresh collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{startedAt: time.Now()}
}

// Emit appends an event to the collector.
func (tc *TraceCollector) Emit(e TraceEvent) {
	tc.events = append(tc.events, e)
}

// Events returns the collected events in emission order.
func (tc *TraceCollector) Events() []TraceEvent {
	return tc.events
}

// ElapsedMS returns the elapsed time since the collector was created,
// in milliseconds.
func (tc *TraceCollector) ElapsedMS() int64 {
	return time.Since(tc.startedAt).Milliseconds()
}

// WithTraceCollector stores a collector in the context.
func WithTraceCollector(ctx context.Context, tc *TraceCollector) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// TraceCollectorFromContext retrieves the collector from the context.
// Returns (nil, false) if none is present.
func TraceCollectorFromContext(ctx context.Context) (*TraceCollector, bool) {
	tc, ok := ctx.Value(traceKey).(*TraceCollector)
	return tc, ok
}

// emitToContext emits an event only when a collector is present.
func emitToContext(ctx context.Context, e TraceEvent) {
	if tc, ok := TraceCollectorFromContext(ctx); ok {
		e.At = time.Now()
		tc.Emit(e)
	}
}

// Explanation is the structured report of why a retrieval returned what
// it did: every candidate considered, every discard and its reason, and
// the final ordering.
type Explanation struct {
	// QueryParams mirrors the request that was served.
	QueryParams map[string]string `json:"query_params"`

	// Source and Degraded mirror the Result they explain.
	Source   string `json:"source"`
	Degraded bool   `json:"degraded"`

	// CandidatesFound is the candidate count before filtering.
	CandidatesFound int `json:"candidates_found"`

	// Scored contains every candidate that passed the emotion filter.
	Scored []ScoredEntry `json:"scored"`

	// Discarded contains every candidate that was dropped and why.
	Discarded []DiscardedEntry `json:"discarded"`

	// Returned lists the IDs in final order.
	Returned []string `json:"returned"`

	// TimingMS is the total retrieval duration in milliseconds.
	TimingMS int64 `json:"timing_ms"`
}

// ScoredEntry is one candidate with its ranking breakdown.
type ScoredEntry struct {
	MomentID string      `json:"moment_id"`
	Scores   TraceScores `json:"scores"`
	Final    float64     `json:"final"`
}

// DiscardedEntry is one dropped candidate and the reason.
type DiscardedEntry struct {
	MomentID string `json:"moment_id"`
	Reason   string `json:"reason"`
}

// buildExplanation folds collected trace events into an Explanation.
func buildExplanation(events []TraceEvent, elapsedMS int64) *Explanation {
	exp := &Explanation{
		QueryParams: make(map[string]string),
		TimingMS:    elapsedMS,
	}

	for _, e := range events {
		switch e.Kind {
		case KindRetrievalStarted:
			exp.QueryParams["text"] = e.Query
			exp.QueryParams["emotion"] = e.Emotion
		case KindCandidatesFound:
			exp.CandidatesFound += e.Count
		case KindScoredCandidate:
			if e.Scores != nil {
				exp.Scored = append(exp.Scored, ScoredEntry{
					MomentID: e.MomentID,
					Scores:   *e.Scores,
					Final:    e.FinalScore,
				})
			}
		case KindDiscarded:
			exp.Discarded = append(exp.Discarded, DiscardedEntry{
				MomentID: e.MomentID,
				Reason:   e.Reason,
			})
		case KindResultsReturned:
			exp.Returned = e.MomentIDs
		}
	}

	// Non-nil slices for clean JSON output.
	if exp.Scored == nil {
		exp.Scored = []ScoredEntry{}
	}
	if exp.Discarded == nil {
		exp.Discarded = []DiscardedEntry{}
	}
	if exp.Returned == nil {
		exp.Returned = []string{}
	}

	return exp
}

// Explain runs a fully-traced retrieval and returns both the result and
// the explanation of how it was assembled.
func (r *Retriever) Explain(ctx context.Context, q Query) (Result, *Explanation) {
	tc := NewTraceCollector()
	ctx = WithTraceCollector(ctx, tc)

	res := r.Retrieve(ctx, q)

	exp := buildExplanation(tc.Events(), tc.ElapsedMS())
	exp.Source = res.Source
	exp.Degraded = res.Degraded
	return res, exp
}
