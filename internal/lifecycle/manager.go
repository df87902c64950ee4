package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/haven-health/keepsake/internal/index"
	"github.com/haven-health/keepsake/internal/observability/logging"
	"github.com/haven-health/keepsake/internal/observability/metrics"
	"github.com/haven-health/keepsake/internal/storage"
	"github.com/haven-health/keepsake/pkg/types"
)

const (
	// DefaultDecayFactor halves a moment's context weight when its
	// retention window expires.
	DefaultDecayFactor = 0.5

	// DefaultGraceMultiplier keeps decayed moments around for one more
	// full retention window before cleanup removes them.
	DefaultGraceMultiplier = 2.0

	// DefaultReinforceBoost is the intensity bump a recalled moment
	// receives.
	DefaultReinforceBoost = 0.05

	// sweepPageSize bounds memory during full-table sweeps.
	sweepPageSize = 200
)

// Params tunes the lifecycle sweeps.
type Params struct {
	DecayFactor     float64
	GraceMultiplier float64
	ReinforceBoost  float64
}

// DefaultParams returns the standard lifecycle tuning.
func DefaultParams() Params {
	return Params{
		DecayFactor:     DefaultDecayFactor,
		GraceMultiplier: DefaultGraceMultiplier,
		ReinforceBoost:  DefaultReinforceBoost,
	}
}

// SweepResult reports what a decay or cleanup pass did. Failed
// per-moment updates are counted and logged, not fatal; the sweep
// continues past them.
type SweepResult struct {
	Scanned  int  `json:"scanned"`
	Affected int  `json:"affected"`
	Failed   int  `json:"failed"`
	DryRun   bool `json:"dry_run"`
}

// Manager runs retention sweeps over the moment store. The index is
// optional; when present, cleanup removes deleted moments from it as
// well.
type Manager struct {
	moments storage.MomentStore
	idx     index.Index
	params  Params
	now     func() time.Time
}

// NewManager creates a lifecycle manager. idx may be nil.
func NewManager(moments storage.MomentStore, idx index.Index, params Params) *Manager {
	if params.DecayFactor <= 0 || params.DecayFactor >= 1 {
		params.DecayFactor = DefaultDecayFactor
	}
	if params.GraceMultiplier < 1 {
		params.GraceMultiplier = DefaultGraceMultiplier
	}
	if params.ReinforceBoost <= 0 {
		params.ReinforceBoost = DefaultReinforceBoost
	}
	return &Manager{moments: moments, idx: idx, params: params, now: time.Now}
}

// Decay marks every moment that has outlived its retention window:
// the context weight is multiplied by the decay factor and the decayed
// flag set. Already-decayed moments are skipped, so running the sweep
// twice changes nothing. With dryRun the store is not touched.
func (m *Manager) Decay(ctx context.Context, dryRun bool) (SweepResult, error) {
	result := SweepResult{DryRun: dryRun}
	now := m.now().UTC()

	opts := storage.ListOptions{Page: 1, Limit: sweepPageSize, SortBy: "created_at", SortOrder: "asc"}
	for {
		page, err := m.moments.ListMoments(ctx, opts)
		if err != nil {
			return result, fmt.Errorf("decay sweep aborted on page %d: %w", opts.Page, err)
		}

		for i := range page.Items {
			moment := &page.Items[i]
			result.Scanned++
			if moment.Decayed || moment.AgeDays(now) <= moment.TTLDays {
				continue
			}

			result.Affected++
			if dryRun {
				continue
			}
			if err := m.moments.MarkDecayed(ctx, moment.ID, moment.ContextWeight*m.params.DecayFactor); err != nil {
				result.Failed++
				logging.Warnf("Failed to decay moment %s: %v", moment.ID, err)
				continue
			}
			metrics.LifecycleDecayed.Inc()
		}

		if !page.HasMore {
			break
		}
		opts.Page++
	}

	logging.Infof("Decay sweep: scanned=%d decayed=%d failed=%d dry_run=%v",
		result.Scanned, result.Affected, result.Failed, dryRun)
	return result, nil
}

// Cleanup hard-deletes moments older than their retention window times
// the grace multiplier. Eligible IDs are collected up front so the
// deletions do not shift pagination under the sweep. Index removal
// failures only log; retrieval hydrates from the store, so an orphaned
// index entry cannot resurrect a deleted moment.
func (m *Manager) Cleanup(ctx context.Context, graceMultiplier float64, dryRun bool) (SweepResult, error) {
	if graceMultiplier < 1 {
		graceMultiplier = m.params.GraceMultiplier
	}
	result := SweepResult{DryRun: dryRun}
	now := m.now().UTC()

	var eligible []string
	opts := storage.ListOptions{Page: 1, Limit: sweepPageSize, SortBy: "created_at", SortOrder: "asc"}
	for {
		page, err := m.moments.ListMoments(ctx, opts)
		if err != nil {
			return result, fmt.Errorf("cleanup sweep aborted on page %d: %w", opts.Page, err)
		}

		for i := range page.Items {
			moment := &page.Items[i]
			result.Scanned++
			if moment.AgeDays(now) > moment.TTLDays*graceMultiplier {
				eligible = append(eligible, moment.ID)
			}
		}

		if !page.HasMore {
			break
		}
		opts.Page++
	}

	for _, id := range eligible {
		result.Affected++
		if dryRun {
			continue
		}
		if err := m.moments.DeleteMoment(ctx, id); err != nil {
			result.Failed++
			logging.Warnf("Failed to delete moment %s: %v", id, err)
			continue
		}
		metrics.LifecycleDeleted.Inc()
		if m.idx != nil {
			if err := m.idx.Delete(ctx, id); err != nil {
				logging.Warnf("Failed to remove moment %s from index: %v", id, err)
			}
		}
	}

	logging.Infof("Cleanup sweep: scanned=%d deleted=%d failed=%d grace=%.1f dry_run=%v",
		result.Scanned, result.Affected, result.Failed, graceMultiplier, dryRun)
	return result, nil
}

// Reinforce bumps a recalled moment's emotion intensity by boost
// (capped at 1.0) and extends its retention window to match. A boost
// of zero or less applies the configured default.
func (m *Manager) Reinforce(ctx context.Context, momentID string, boost float64) (*types.Moment, error) {
	if boost <= 0 {
		boost = m.params.ReinforceBoost
	}

	moment, err := m.moments.GetMoment(ctx, momentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load moment for reinforcement: %w", err)
	}

	intensity := moment.EmotionIntensity + boost
	if intensity > 1.0 {
		intensity = 1.0
	}
	ttl := RetentionDays(intensity)

	if err := m.moments.UpdateRetention(ctx, momentID, intensity, ttl); err != nil {
		return nil, fmt.Errorf("failed to reinforce moment: %w", err)
	}

	moment.EmotionIntensity = intensity
	moment.TTLDays = ttl
	return moment, nil
}

// Stats summarizes the retention state of the store using the
// configured grace multiplier.
func (m *Manager) Stats(ctx context.Context) (storage.LifecycleCounts, error) {
	counts, err := m.moments.LifecycleCounts(ctx, m.now().UTC(), m.params.GraceMultiplier)
	if err != nil {
		return storage.LifecycleCounts{}, fmt.Errorf("failed to load lifecycle stats: %w", err)
	}
	return counts, nil
}
