package signal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/haven-health/keepsake/internal/observability/logging"
	"github.com/haven-health/keepsake/internal/observability/metrics"
	"github.com/haven-health/keepsake/internal/storage"
	"github.com/haven-health/keepsake/pkg/types"
)

// Category weights for the overall risk blend. Medication lapses and
// mental-health signals dominate; isolation, care coordination and
// system trust refine.
const (
	weightMedication   = 0.3
	weightMentalHealth = 0.3
	weightIsolation    = 0.2
	weightCare         = 0.1
	weightTrust        = 0.1
)

const (
	// neutralScore is the category default when evidence is absent or
	// unreadable.
	neutralScore = 5.0

	maxScore = 10.0

	// Mental-health keyword steps and bonuses.
	negativeKeywordStep  = 0.5
	positiveKeywordStep  = 0.3
	negativeClusterSize  = 3
	negativeClusterBonus = 2.0
	negativeStreakSample = 5
	negativeStreakSize   = 3
	negativeStreakBonus  = 2.0

	// Isolation signals.
	sparseMomentFloor   = 3
	sparseMomentBump    = 2.0
	noSocialMentionBump = 1.5
	feedEventFloor      = 2
	lowFeedActivityBump = 1.5

	// System-trust signals.
	staleActivityDays     = 14
	quietActivityDays     = 7
	staleActivityBump     = 3.0
	quietActivityBump     = 1.0
	systemNegativeBump    = 1.0
	cancelledReferralBump = 0.5

	// SDOH adjustment.
	sdohRiskPerCategory = 2.5
	sdohRiskWeight      = 0.15
	engagementRelief    = 2.0

	// trendDivisor normalizes score deltas into [-1, 1].
	trendDivisor = 10.0
)

// Outreach thresholds over the final overall risk.
const (
	urgentThreshold   = 7.5
	elevatedThreshold = 6.0
	watchThreshold    = 4.5
)

// Params bounds the evidence windows.
type Params struct {
	// RecentMomentLimit caps the moment sample scanned for keywords.
	RecentMomentLimit int

	// RecentWindowDays is the isolation check's conversation window.
	RecentWindowDays int

	// FeedWindowDays is the community-feed activity window.
	FeedWindowDays int

	// ActionWindowDays is the adherence lookback for daily actions.
	ActionWindowDays int
}

// DefaultParams returns the standard evidence windows.
func DefaultParams() Params {
	return Params{
		RecentMomentLimit: 20,
		RecentWindowDays:  7,
		FeedWindowDays:    14,
		ActionWindowDays:  30,
	}
}

// Analyzer computes signal scores from stored moments and behavioral
// evidence. Reads are best-effort: a failing sub-query neutralizes the
// categories it feeds instead of failing the run.
type Analyzer struct {
	moments  storage.MomentStore
	behavior storage.BehaviorStore
	scores   storage.SignalStore
	lexicons *LexiconProvider
	params   Params
	now      func() time.Time
}

// NewAnalyzer creates a signal analyzer.
func NewAnalyzer(moments storage.MomentStore, behavior storage.BehaviorStore, scores storage.SignalStore, lexicons *LexiconProvider, params Params) *Analyzer {
	if params.RecentMomentLimit <= 0 {
		params.RecentMomentLimit = DefaultParams().RecentMomentLimit
	}
	if params.RecentWindowDays <= 0 {
		params.RecentWindowDays = DefaultParams().RecentWindowDays
	}
	if params.FeedWindowDays <= 0 {
		params.FeedWindowDays = DefaultParams().FeedWindowDays
	}
	if params.ActionWindowDays <= 0 {
		params.ActionWindowDays = DefaultParams().ActionWindowDays
	}
	return &Analyzer{
		moments:  moments,
		behavior: behavior,
		scores:   scores,
		lexicons: lexicons,
		params:   params,
		now:      time.Now,
	}
}

// evidence is everything one scoring run reads, with per-source
// failure flags.
type evidence struct {
	moments   []*types.Moment
	matchers  []*matcher
	actions   []*types.DailyAction
	referrals []*types.Referral
	goals     []*types.Goal
	feedCount int
	previous  *types.SignalScore

	momentsFailed   bool
	actionsFailed   bool
	referralsFailed bool
	goalsFailed     bool
	feedFailed      bool
	historyFailed   bool
}

// Analyze scores the actor now. It always returns a score; missing or
// unreadable evidence degrades the affected categories to neutral and
// is reported in the metadata.
func (a *Analyzer) Analyze(ctx context.Context, actorID string) *types.SignalScore {
	now := a.now().UTC()
	lex := a.lexicons.Current()
	ev := a.gather(ctx, actorID, now)

	partial := make(map[string]bool)

	medication := a.scoreMedication(ev, partial)
	mentalHealth := a.scoreMentalHealth(ev, lex, partial)
	isolation := a.scoreIsolation(ev, lex, now, partial)
	care := a.scoreCareCoordination(ev, partial)
	trust := a.scoreSystemTrust(ev, lex, now, partial)

	overall := weightMedication*medication +
		weightMentalHealth*mentalHealth +
		weightIsolation*isolation +
		weightCare*care +
		weightTrust*trust

	sdohRisk, needs := a.scoreSDOH(ev, lex, partial)
	impact := engagementImpact(ev, needs)
	overall = clampScore(overall + sdohRisk*sdohRiskWeight - impact*engagementRelief)

	score := &types.SignalScore{
		ActorID:          actorID,
		Medication:       medication,
		MentalHealth:     mentalHealth,
		Isolation:        isolation,
		CareCoordination: care,
		SystemTrust:      trust,
		Overall:          overall,
		SDOHRisk:         sdohRisk,
		EngagementImpact: impact,
		Outreach:         outreachFor(overall),
		CreatedAt:        now,
		Metadata: types.ScoreMetadata{
			MomentsAnalyzed:   len(ev.moments),
			ActionsAnalyzed:   len(ev.actions),
			ReferralsAnalyzed: len(ev.referrals),
			GoalsAnalyzed:     len(ev.goals),
			FeedEvents:        ev.feedCount,
			LastActivityAt:    lastActivity(ev.moments),
			NeedsDetected:     needs,
		},
	}

	a.applyTrends(score, ev, partial)

	if len(partial) > 0 {
		score.Metadata.PartialCategories = sortedKeys(partial)
		metrics.SignalPartials.Add(float64(len(partial)))
		logging.Warnf("Signal score for actor %s is partial: %v", actorID, score.Metadata.PartialCategories)
	}
	return score
}

// Persist analyzes the actor and appends the score to history.
func (a *Analyzer) Persist(ctx context.Context, actorID string) (*types.SignalScore, error) {
	score := a.Analyze(ctx, actorID)
	score.ID = uuid.New().String()
	if err := a.scores.AppendScore(ctx, score); err != nil {
		return nil, fmt.Errorf("failed to persist signal score: %w", err)
	}
	metrics.SignalScores.Inc()
	return score, nil
}

func (a *Analyzer) gather(ctx context.Context, actorID string, now time.Time) *evidence {
	ev := &evidence{}
	var err error

	ev.moments, err = a.moments.RecentMoments(ctx, actorID, a.params.RecentMomentLimit)
	if err != nil {
		ev.momentsFailed = true
		logging.Warnf("Signal scoring: moment read for actor %s failed: %v", actorID, err)
	}
	ev.matchers = make([]*matcher, len(ev.moments))
	for i, m := range ev.moments {
		ev.matchers[i] = newMatcher(m.Content)
	}

	actionsSince := now.AddDate(0, 0, -a.params.ActionWindowDays)
	ev.actions, err = a.behavior.ListActions(ctx, actorID, actionsSince)
	if err != nil {
		ev.actionsFailed = true
		logging.Warnf("Signal scoring: action read for actor %s failed: %v", actorID, err)
	}

	ev.referrals, err = a.behavior.ListReferrals(ctx, actorID)
	if err != nil {
		ev.referralsFailed = true
		logging.Warnf("Signal scoring: referral read for actor %s failed: %v", actorID, err)
	}

	ev.goals, err = a.behavior.ListGoals(ctx, actorID)
	if err != nil {
		ev.goalsFailed = true
		logging.Warnf("Signal scoring: goal read for actor %s failed: %v", actorID, err)
	}

	feedSince := now.AddDate(0, 0, -a.params.FeedWindowDays)
	ev.feedCount, err = a.behavior.CountFeedEvents(ctx, actorID, feedSince)
	if err != nil {
		ev.feedFailed = true
		logging.Warnf("Signal scoring: feed count for actor %s failed: %v", actorID, err)
	}

	ev.previous, err = a.scores.LatestScore(ctx, actorID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		ev.historyFailed = true
		logging.Warnf("Signal scoring: history read for actor %s failed: %v", actorID, err)
	}

	return ev
}

// scoreMedication rates adherence over recent medication actions.
func (a *Analyzer) scoreMedication(ev *evidence, partial map[string]bool) float64 {
	if ev.actionsFailed {
		partial["medication"] = true
		return neutralScore
	}

	var total, completed int
	for _, action := range ev.actions {
		if !action.IsMedication() {
			continue
		}
		total++
		if action.Completed {
			completed++
		}
	}
	if total == 0 {
		return neutralScore
	}
	rate := float64(completed) / float64(total)
	return clampScore(maxScore * (1 - rate))
}

// scoreMentalHealth runs keyword sentiment over the recent moment
// sample.
func (a *Analyzer) scoreMentalHealth(ev *evidence, lex *Lexicon, partial map[string]bool) float64 {
	if ev.momentsFailed {
		partial["mental_health"] = true
		return neutralScore
	}

	score := neutralScore
	clusterSeen := false
	netNegative := 0
	for i, m := range ev.matchers {
		neg := m.hits(lex.Negative)
		pos := m.hits(lex.Positive)
		score += negativeKeywordStep*float64(neg) - positiveKeywordStep*float64(pos)
		if neg >= negativeClusterSize {
			clusterSeen = true
		}
		if i < negativeStreakSample && neg > pos {
			netNegative++
		}
	}
	if clusterSeen {
		score += negativeClusterBonus
	}
	if netNegative >= negativeStreakSize {
		score += negativeStreakBonus
	}
	return clampScore(score)
}

// scoreIsolation looks for thin conversation, no social mentions and a
// silent community feed.
func (a *Analyzer) scoreIsolation(ev *evidence, lex *Lexicon, now time.Time, partial map[string]bool) float64 {
	if ev.momentsFailed {
		partial["isolation"] = true
		return neutralScore
	}

	score := neutralScore

	windowStart := now.AddDate(0, 0, -a.params.RecentWindowDays)
	recent := 0
	socialMentions := 0
	for i, m := range ev.moments {
		if m.CreatedAt.After(windowStart) {
			recent++
		}
		socialMentions += ev.matchers[i].hits(lex.Social)
	}
	if recent < sparseMomentFloor {
		score += sparseMomentBump
	}
	if socialMentions == 0 {
		score += noSocialMentionBump
	}

	if ev.feedFailed {
		partial["isolation"] = true
	} else if ev.feedCount < feedEventFloor {
		score += lowFeedActivityBump
	}

	return clampScore(score)
}

// scoreCareCoordination blends referral success with goal completion.
// Without goals the referral rate stands alone; without referrals the
// category is neutral.
func (a *Analyzer) scoreCareCoordination(ev *evidence, partial map[string]bool) float64 {
	if ev.referralsFailed {
		partial["care_coordination"] = true
		return neutralScore
	}
	if len(ev.referrals) == 0 {
		return neutralScore
	}

	referralRate := referralSuccessRate(ev.referrals)

	goalRate := referralRate
	if ev.goalsFailed {
		partial["care_coordination"] = true
	} else if len(ev.goals) > 0 {
		completed := 0
		for _, g := range ev.goals {
			if g.Status == types.GoalCompleted {
				completed++
			}
		}
		goalRate = float64(completed) / float64(len(ev.goals))
	}

	return clampScore(maxScore * (1 - (referralRate+goalRate)/2))
}

// scoreSystemTrust reads disengagement: stale activity, hostility
// toward the support system, abandoned referrals.
func (a *Analyzer) scoreSystemTrust(ev *evidence, lex *Lexicon, now time.Time, partial map[string]bool) float64 {
	if ev.momentsFailed {
		partial["system_trust"] = true
		return neutralScore
	}

	score := neutralScore

	if last := lastActivity(ev.moments); last == nil {
		score += staleActivityBump
	} else {
		idle := now.Sub(*last).Hours() / 24
		if idle > staleActivityDays {
			score += staleActivityBump
		} else if idle > quietActivityDays {
			score += quietActivityBump
		}
	}

	for _, m := range ev.matchers {
		if m.hits(lex.SystemNegative) > 0 {
			score += systemNegativeBump
		}
	}

	if !ev.referralsFailed {
		for _, r := range ev.referrals {
			if r.Status == types.ReferralCancelled {
				score += cancelledReferralBump
			}
		}
	}

	return clampScore(score)
}

// scoreSDOH detects social-need categories mentioned in recent
// moments. Risk grows with breadth of need, not mention count.
func (a *Analyzer) scoreSDOH(ev *evidence, lex *Lexicon, partial map[string]bool) (float64, []string) {
	if ev.momentsFailed {
		partial["sdoh"] = true
		return 0, nil
	}

	detected := make(map[string]bool)
	for category, terms := range lex.SDOH {
		for _, m := range ev.matchers {
			if m.hits(terms) > 0 {
				detected[category] = true
				break
			}
		}
	}
	if len(detected) == 0 {
		return 0, nil
	}

	risk := sdohRiskPerCategory * float64(len(detected))
	if risk > maxScore {
		risk = maxScore
	}
	return risk, sortedKeys(detected)
}

// engagementImpact measures how much of the detected need the care
// system is already addressing: the share of need categories with a
// completed referral, discounted by overall referral success.
func engagementImpact(ev *evidence, needs []string) float64 {
	if len(needs) == 0 || ev.referralsFailed || len(ev.referrals) == 0 {
		return 0
	}

	completedByCategory := make(map[string]bool)
	for _, r := range ev.referrals {
		if r.Status == types.ReferralCompleted {
			completedByCategory[r.Category] = true
		}
	}

	addressed := 0
	for _, need := range needs {
		if completedByCategory[need] {
			addressed++
		}
	}

	return float64(addressed) / float64(len(needs)) * referralSuccessRate(ev.referrals)
}

// applyTrends compares against the previous persisted score. Positive
// trend means risk is falling. With no history every trend is 0.
func (a *Analyzer) applyTrends(score *types.SignalScore, ev *evidence, partial map[string]bool) {
	if ev.historyFailed {
		partial["trends"] = true
		return
	}
	if ev.previous == nil {
		return
	}
	score.MedicationTrend = (ev.previous.Medication - score.Medication) / trendDivisor
	score.MentalHealthTrend = (ev.previous.MentalHealth - score.MentalHealth) / trendDivisor
	score.OverallTrend = (ev.previous.Overall - score.Overall) / trendDivisor
}

func referralSuccessRate(referrals []*types.Referral) float64 {
	if len(referrals) == 0 {
		return 0
	}
	completed := 0
	for _, r := range referrals {
		if r.Status == types.ReferralCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(referrals))
}

func lastActivity(moments []*types.Moment) *time.Time {
	var latest *time.Time
	for _, m := range moments {
		t := m.CreatedAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest
}

// outreachFor maps final overall risk to the recommended outreach
// level.
func outreachFor(overall float64) types.OutreachLevel {
	switch {
	case overall >= urgentThreshold:
		return types.OutreachUrgent
	case overall >= elevatedThreshold:
		return types.OutreachElevated
	case overall >= watchThreshold:
		return types.OutreachWatch
	default:
		return types.OutreachSteady
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > maxScore {
		return maxScore
	}
	return v
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
