package types

import "time"

// SignalScore is one persisted scoring run for one actor. Rows are
// append-only: history ordered by CreatedAt feeds trend computation and
// is never rewritten.
type SignalScore struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`

	// Category scores, 0-10, higher means more risk.
	Medication       float64 `json:"medication"`
	MentalHealth     float64 `json:"mental_health"`
	Isolation        float64 `json:"isolation"`
	CareCoordination float64 `json:"care_coordination"`
	SystemTrust      float64 `json:"system_trust"`

	// Overall is the weighted combination after SDOH adjustment,
	// clamped to 0-10.
	Overall float64 `json:"overall"`

	// Momentum versus the previous persisted score, -1..1. Positive
	// means risk fell since last run.
	MedicationTrend   float64 `json:"medication_trend"`
	MentalHealthTrend float64 `json:"mental_health_trend"`
	OverallTrend      float64 `json:"overall_trend"`

	SDOHRisk         float64 `json:"sdoh_risk"`         // 0-10 need-detection contribution
	EngagementImpact float64 `json:"engagement_impact"` // 0-1 addressed-needs relief

	Outreach OutreachLevel `json:"outreach"`

	Metadata ScoreMetadata `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
}

// ScoreMetadata records what evidence a scoring run saw, for
// observability and for auditing partial results.
type ScoreMetadata struct {
	MomentsAnalyzed   int        `json:"moments_analyzed"`
	ActionsAnalyzed   int        `json:"actions_analyzed"`
	ReferralsAnalyzed int        `json:"referrals_analyzed"`
	GoalsAnalyzed     int        `json:"goals_analyzed"`
	FeedEvents        int        `json:"feed_events"`
	LastActivityAt    *time.Time `json:"last_activity_at,omitempty"`

	// PartialCategories lists categories that fell back to neutral
	// because their evidence query failed.
	PartialCategories []string `json:"partial_categories,omitempty"`

	// NeedsDetected lists SDOH categories that matched in recent
	// moments.
	NeedsDetected []string `json:"needs_detected,omitempty"`
}

// Partial reports whether any category fell back to neutral.
func (m ScoreMetadata) Partial() bool {
	return len(m.PartialCategories) > 0
}
