package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/haven-health/keepsake/internal/index"
	"github.com/haven-health/keepsake/internal/storage"
	"github.com/haven-health/keepsake/pkg/types"
)

// memStore is an in-memory MomentStore with real pagination, enough to
// exercise the sweeps.
type memStore struct {
	moments map[string]*types.Moment
	listErr error
}

func newMemStore() *memStore {
	return &memStore{moments: make(map[string]*types.Moment)}
}

func (s *memStore) CreateMoment(_ context.Context, m *types.Moment) error {
	cp := *m
	s.moments[m.ID] = &cp
	return nil
}

func (s *memStore) GetMoment(_ context.Context, id string) (*types.Moment, error) {
	m, ok := s.moments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) GetMoments(_ context.Context, ids []string) ([]*types.Moment, error) {
	var out []*types.Moment
	for _, id := range ids {
		if m, ok := s.moments[id]; ok {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListMoments(_ context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Moment], error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	opts.Normalize()

	all := make([]types.Moment, 0, len(s.moments))
	for _, m := range s.moments {
		all = append(all, *m)
	}
	sort.Slice(all, func(i, j int) bool {
		if opts.SortOrder == "asc" {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start := opts.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + opts.Limit
	if end > len(all) {
		end = len(all)
	}

	return &storage.PaginatedResult[types.Moment]{
		Items:    all[start:end],
		Total:    len(all),
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  end < len(all),
	}, nil
}

func (s *memStore) RecentMoments(context.Context, string, int) ([]*types.Moment, error) {
	return nil, nil
}

func (s *memStore) SearchMomentText(context.Context, string, string, int) ([]*types.Moment, error) {
	return nil, nil
}

func (s *memStore) MarkDecayed(_ context.Context, id string, weight float64) error {
	m, ok := s.moments[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.Decayed = true
	m.ContextWeight = weight
	return nil
}

func (s *memStore) UpdateRetention(_ context.Context, id string, intensity, ttlDays float64) error {
	m, ok := s.moments[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.EmotionIntensity = intensity
	m.TTLDays = ttlDays
	return nil
}

func (s *memStore) MarkIndexed(_ context.Context, id string, at time.Time) error {
	m, ok := s.moments[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.IndexedAt = &at
	return nil
}

func (s *memStore) ListUnindexed(context.Context, int) ([]*types.Moment, error) {
	return nil, nil
}

func (s *memStore) DeleteMoment(_ context.Context, id string) error {
	if _, ok := s.moments[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.moments, id)
	return nil
}

func (s *memStore) LifecycleCounts(_ context.Context, now time.Time, grace float64) (storage.LifecycleCounts, error) {
	counts := storage.LifecycleCounts{Total: len(s.moments)}
	for _, m := range s.moments {
		age := m.AgeDays(now)
		if age > m.TTLDays {
			counts.DecayEligible++
		}
		if age > m.TTLDays*grace {
			counts.CleanupEligible++
		}
	}
	return counts, nil
}

func (s *memStore) Close() error { return nil }

// captureIndex records which IDs cleanup removed from the index.
type captureIndex struct {
	deleted []string
}

func (c *captureIndex) Upsert(context.Context, index.Entry) error { return nil }

func (c *captureIndex) Query(context.Context, []float32, int, index.Filter) ([]index.Candidate, error) {
	return nil, nil
}

func (c *captureIndex) Delete(_ context.Context, id string) error {
	c.deleted = append(c.deleted, id)
	return nil
}

func daysAgo(now time.Time, days float64) time.Time {
	return now.Add(-time.Duration(days * 24 * float64(time.Hour)))
}

func seedMoment(id string, createdAt time.Time, ttlDays float64, decayed bool) *types.Moment {
	return &types.Moment{
		ID:               id,
		ActorID:          "alice",
		Content:          "moment " + id,
		Emotion:          types.EmotionCalm,
		Embedding:        []float32{0, 0, 0.3, 0},
		EmotionIntensity: 0.3,
		ContextWeight:    1.0,
		TTLDays:          ttlDays,
		Decayed:          decayed,
		CreatedAt:        createdAt,
	}
}

func TestRetentionDaysCurve(t *testing.T) {
	tests := []struct {
		name      string
		intensity float64
		want      float64
	}{
		{"flat affect", 0, 7},
		{"peak moment", 1, 90},
		{"midpoint", 0.5, 7 + 83*math.Pow(0.5, 1.5)},
		{"below range", -0.5, 7},
		{"above range", 1.5, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RetentionDays(tt.intensity)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RetentionDays(%v) = %v, want %v", tt.intensity, got, tt.want)
			}
		})
	}
}

func TestRetentionDaysMonotonic(t *testing.T) {
	prev := RetentionDays(0)
	for i := 1; i <= 100; i++ {
		cur := RetentionDays(float64(i) / 100)
		if cur < prev {
			t.Fatalf("retention decreased at intensity %v: %v < %v", float64(i)/100, cur, prev)
		}
		prev = cur
	}
}

func TestDecayMarksExpiredOnce(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	store.CreateMoment(ctx, seedMoment("expired", daysAgo(now, 40), 7, false))
	store.CreateMoment(ctx, seedMoment("fresh", daysAgo(now, 1), 7, false))

	m := NewManager(store, nil, DefaultParams())
	m.now = func() time.Time { return now }

	result, err := m.Decay(ctx, false)
	if err != nil {
		t.Fatalf("Decay failed: %v", err)
	}
	if result.Scanned != 2 || result.Affected != 1 {
		t.Fatalf("expected 2 scanned / 1 decayed, got %+v", result)
	}

	expired, _ := store.GetMoment(ctx, "expired")
	if !expired.Decayed {
		t.Error("expired moment not flagged")
	}
	if math.Abs(expired.ContextWeight-0.5) > 1e-9 {
		t.Errorf("expected halved weight 0.5, got %v", expired.ContextWeight)
	}

	fresh, _ := store.GetMoment(ctx, "fresh")
	if fresh.Decayed {
		t.Error("fresh moment should be untouched")
	}

	// The flag makes a second sweep a no-op: the weight is halved once,
	// not per run.
	second, err := m.Decay(ctx, false)
	if err != nil {
		t.Fatalf("second Decay failed: %v", err)
	}
	if second.Affected != 0 {
		t.Errorf("second sweep decayed %d moments, want 0", second.Affected)
	}
	expired, _ = store.GetMoment(ctx, "expired")
	if math.Abs(expired.ContextWeight-0.5) > 1e-9 {
		t.Errorf("weight changed on second sweep: %v", expired.ContextWeight)
	}
}

func TestDecayDryRunTouchesNothing(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	store.CreateMoment(ctx, seedMoment("expired", daysAgo(now, 40), 7, false))

	m := NewManager(store, nil, DefaultParams())
	m.now = func() time.Time { return now }

	result, err := m.Decay(ctx, true)
	if err != nil {
		t.Fatalf("Decay failed: %v", err)
	}
	if !result.DryRun || result.Affected != 1 {
		t.Fatalf("expected dry run reporting 1 eligible, got %+v", result)
	}

	moment, _ := store.GetMoment(ctx, "expired")
	if moment.Decayed || moment.ContextWeight != 1.0 {
		t.Errorf("dry run modified the store: %+v", moment)
	}
}

func TestDecayPaginatesAcrossPages(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// More moments than one sweep page.
	for i := 0; i < sweepPageSize+50; i++ {
		id := fmt.Sprintf("m%03d", i)
		store.CreateMoment(ctx, seedMoment(id, daysAgo(now, 40).Add(time.Duration(i)*time.Second), 7, false))
	}

	m := NewManager(store, nil, DefaultParams())
	m.now = func() time.Time { return now }

	result, err := m.Decay(ctx, false)
	if err != nil {
		t.Fatalf("Decay failed: %v", err)
	}
	if result.Scanned != sweepPageSize+50 {
		t.Errorf("expected %d scanned, got %d", sweepPageSize+50, result.Scanned)
	}
	if result.Affected != sweepPageSize+50 {
		t.Errorf("expected all moments decayed, got %d", result.Affected)
	}
}

func TestCleanupHonorsGraceWindow(t *testing.T) {
	store := newMemStore()
	idx := &captureIndex{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Past TTL but inside the grace window: decayed, not deleted.
	store.CreateMoment(ctx, seedMoment("graced", daysAgo(now, 10), 7, true))
	// Past TTL times grace: gone.
	store.CreateMoment(ctx, seedMoment("overdue", daysAgo(now, 20), 7, true))

	m := NewManager(store, idx, DefaultParams())
	m.now = func() time.Time { return now }

	result, err := m.Cleanup(ctx, 2.0, false)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.Affected != 1 {
		t.Fatalf("expected 1 deletion, got %+v", result)
	}

	if _, err := store.GetMoment(ctx, "overdue"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("overdue moment survived cleanup")
	}
	if _, err := store.GetMoment(ctx, "graced"); err != nil {
		t.Error("graced moment should survive cleanup")
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "overdue" {
		t.Errorf("expected index removal of overdue, got %v", idx.deleted)
	}

	second, err := m.Cleanup(ctx, 2.0, false)
	if err != nil {
		t.Fatalf("second Cleanup failed: %v", err)
	}
	if second.Affected != 0 {
		t.Errorf("second cleanup deleted %d moments, want 0", second.Affected)
	}
}

func TestCleanupDryRun(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	store.CreateMoment(ctx, seedMoment("overdue", daysAgo(now, 20), 7, true))

	m := NewManager(store, nil, DefaultParams())
	m.now = func() time.Time { return now }

	result, err := m.Cleanup(ctx, 2.0, true)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.Affected != 1 {
		t.Fatalf("expected 1 eligible, got %+v", result)
	}
	if _, err := store.GetMoment(ctx, "overdue"); err != nil {
		t.Error("dry run deleted the moment")
	}
}

func TestReinforceBoostsAndExtendsRetention(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	moment := seedMoment("m1", time.Now().UTC(), RetentionDays(0.5), false)
	moment.EmotionIntensity = 0.5
	store.CreateMoment(ctx, moment)

	m := NewManager(store, nil, DefaultParams())

	updated, err := m.Reinforce(ctx, "m1", 0)
	if err != nil {
		t.Fatalf("Reinforce failed: %v", err)
	}
	if math.Abs(updated.EmotionIntensity-0.55) > 1e-9 {
		t.Errorf("expected intensity 0.55, got %v", updated.EmotionIntensity)
	}
	want := RetentionDays(0.55)
	if math.Abs(updated.TTLDays-want) > 1e-9 {
		t.Errorf("expected TTL %v, got %v", want, updated.TTLDays)
	}

	stored, _ := store.GetMoment(ctx, "m1")
	if math.Abs(stored.EmotionIntensity-0.55) > 1e-9 {
		t.Error("reinforcement not persisted")
	}
}

func TestReinforceCapsAtOne(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	moment := seedMoment("m1", time.Now().UTC(), RetentionDays(0.98), false)
	moment.EmotionIntensity = 0.98
	store.CreateMoment(ctx, moment)

	m := NewManager(store, nil, DefaultParams())

	updated, err := m.Reinforce(ctx, "m1", 0.05)
	if err != nil {
		t.Fatalf("Reinforce failed: %v", err)
	}
	if updated.EmotionIntensity != 1.0 {
		t.Errorf("expected intensity capped at 1.0, got %v", updated.EmotionIntensity)
	}
	if updated.TTLDays != 90 {
		t.Errorf("expected max TTL 90, got %v", updated.TTLDays)
	}
}

func TestReinforceUnknownMoment(t *testing.T) {
	m := NewManager(newMemStore(), nil, DefaultParams())

	_, err := m.Reinforce(context.Background(), "ghost", 0)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	store.CreateMoment(ctx, seedMoment("fresh", daysAgo(now, 1), 7, false))
	store.CreateMoment(ctx, seedMoment("expired", daysAgo(now, 10), 7, false))
	store.CreateMoment(ctx, seedMoment("overdue", daysAgo(now, 20), 7, true))

	m := NewManager(store, nil, DefaultParams())
	m.now = func() time.Time { return now }

	counts, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if counts.Total != 3 {
		t.Errorf("expected 3 total, got %d", counts.Total)
	}
	if counts.DecayEligible != 2 {
		t.Errorf("expected 2 decay-eligible, got %d", counts.DecayEligible)
	}
	if counts.CleanupEligible != 1 {
		t.Errorf("expected 1 cleanup-eligible, got %d", counts.CleanupEligible)
	}
}
