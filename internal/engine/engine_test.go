package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haven-health/keepsake/internal/expression"
	"github.com/haven-health/keepsake/internal/index"
	"github.com/haven-health/keepsake/internal/lifecycle"
	"github.com/haven-health/keepsake/internal/notify"
	"github.com/haven-health/keepsake/internal/provider"
	"github.com/haven-health/keepsake/internal/storage"
	"github.com/haven-health/keepsake/pkg/types"
)

// memStore is an in-memory storage.Store for engine tests. Methods are
// mutex-guarded because sync workers touch the store concurrently with
// the test goroutine.
type memStore struct {
	mu       sync.Mutex
	moments  map[string]*types.Moment
	contexts map[string]*types.RelationalContext
	scores   []*types.SignalScore

	contextErr error
}

var _ storage.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		moments:  make(map[string]*types.Moment),
		contexts: make(map[string]*types.RelationalContext),
	}
}

func copyMoment(m *types.Moment) *types.Moment {
	c := *m
	c.Embedding = append([]float32(nil), m.Embedding...)
	return &c
}

func (s *memStore) CreateMoment(_ context.Context, m *types.Moment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moments[m.ID] = copyMoment(m)
	return nil
}

func (s *memStore) GetMoment(_ context.Context, id string) (*types.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyMoment(m), nil
}

func (s *memStore) GetMoments(_ context.Context, ids []string) ([]*types.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Moment
	for _, id := range ids {
		if m, ok := s.moments[id]; ok {
			out = append(out, copyMoment(m))
		}
	}
	return out, nil
}

func (s *memStore) ListMoments(_ context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Moment], error) {
	opts.Normalize()
	s.mu.Lock()
	all := make([]*types.Moment, 0, len(s.moments))
	for _, m := range s.moments {
		all = append(all, copyMoment(m))
	}
	s.mu.Unlock()

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

	items := make([]types.Moment, 0, end-start)
	for _, m := range all[start:end] {
		items = append(items, *m)
	}
	return &storage.PaginatedResult[types.Moment]{
		Items:    items,
		Total:    len(all),
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  end < len(all),
	}, nil
}

func (s *memStore) RecentMoments(_ context.Context, actorID string, limit int) ([]*types.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Moment
	for _, m := range s.moments {
		if m.ActorID == actorID {
			out = append(out, copyMoment(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) SearchMomentText(_ context.Context, actorID, query string, limit int) ([]*types.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []*types.Moment
	for _, m := range s.moments {
		if m.ActorID == actorID && strings.Contains(strings.ToLower(m.Content), q) {
			out = append(out, copyMoment(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkDecayed(_ context.Context, id string, weight float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moments[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.Decayed = true
	m.ContextWeight = weight
	return nil
}

func (s *memStore) UpdateRetention(_ context.Context, id string, intensity, ttlDays float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moments[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.EmotionIntensity = intensity
	m.TTLDays = ttlDays
	return nil
}

func (s *memStore) MarkIndexed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moments[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.IndexedAt = &at
	return nil
}

func (s *memStore) ListUnindexed(_ context.Context, limit int) ([]*types.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Moment
	for _, m := range s.moments {
		if m.IndexedAt == nil {
			out = append(out, copyMoment(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) DeleteMoment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.moments[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.moments, id)
	return nil
}

func (s *memStore) LifecycleCounts(_ context.Context, now time.Time, grace float64) (storage.LifecycleCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *memStore) GetContext(_ context.Context, actorID string) (*types.RelationalContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contextErr != nil {
		return nil, s.contextErr
	}
	c, ok := s.contexts[actorID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) UpsertContext(_ context.Context, c *types.RelationalContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.contexts[c.ActorID] = &cp
	return nil
}

func (s *memStore) AppendScore(_ context.Context, sc *types.SignalScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sc
	s.scores = append(s.scores, &cp)
	return nil
}

func (s *memStore) LatestScore(_ context.Context, actorID string) (*types.SignalScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.scores) - 1; i >= 0; i-- {
		if s.scores[i].ActorID == actorID {
			cp := *s.scores[i]
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) ListScores(_ context.Context, actorID string, limit int) ([]*types.SignalScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.SignalScore
	for i := len(s.scores) - 1; i >= 0; i-- {
		if s.scores[i].ActorID == actorID {
			cp := *s.scores[i]
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListActions(context.Context, string, time.Time) ([]*types.DailyAction, error) {
	return nil, nil
}

func (s *memStore) ListReferrals(context.Context, string) ([]*types.Referral, error) {
	return nil, nil
}

func (s *memStore) ListGoals(context.Context, string) ([]*types.Goal, error) {
	return nil, nil
}

func (s *memStore) CountFeedEvents(context.Context, string, time.Time) (int, error) {
	return 0, nil
}

func (s *memStore) momentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.moments)
}

func (s *memStore) indexedAt(id string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.moments[id]; ok {
		return m.IndexedAt
	}
	return nil
}

// recordingIndex is an index.Index double that records operations and
// can be told to fail the next N upserts.
type recordingIndex struct {
	mu       sync.Mutex
	entries  map[string]index.Entry
	deleted  []string
	attempts int
	failNext int
}

var _ index.Index = (*recordingIndex)(nil)

func newRecordingIndex() *recordingIndex {
	return &recordingIndex{entries: make(map[string]index.Entry)}
}

func (r *recordingIndex) Upsert(_ context.Context, entry index.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failNext > 0 {
		r.failNext--
		return index.ErrUnavailable
	}
	r.entries[entry.ID] = entry
	return nil
}

func (r *recordingIndex) Query(context.Context, []float32, int, index.Filter) ([]index.Candidate, error) {
	return nil, nil
}

func (r *recordingIndex) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	delete(r.entries, id)
	return nil
}

func (r *recordingIndex) hasEntry(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

func (r *recordingIndex) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *recordingIndex) wasDeleted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deleted {
		if d == id {
			return true
		}
	}
	return false
}

// recordingHub captures broadcast events.
type recordingHub struct {
	mu     sync.Mutex
	events []notify.Event
}

func (h *recordingHub) Broadcast(evt notify.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
}

func (h *recordingHub) kinds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, e := range h.events {
		out[i] = e.Kind
	}
	return out
}

func newStartedEngine(t *testing.T, store storage.Store, idx index.Index, hub Broadcaster, cfg Config) *Engine {
	t.Helper()
	eng, err := New(store, provider.NewLocalEmbedder(16), idx, nil, hub, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return eng
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// TestEngine_CaptureStoresAndIndexes verifies the full capture path:
// synchronous persistence with derived lifecycle fields, the relational
// update, the async index upsert and the broadcast.
func TestEngine_CaptureStoresAndIndexes(t *testing.T) {
	store := newMemStore()
	idx := newRecordingIndex()
	hub := &recordingHub{}
	eng := newStartedEngine(t, store, idx, hub, DefaultConfig())
	ctx := context.Background()

	res, err := eng.Capture(ctx, CaptureInput{
		ActorID: "alice",
		Content: "we repotted the tomatoes together",
		Emotion: "calm",
		Topics:  []string{"garden"},
	})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	if res.Moment.ID == "" {
		t.Error("expected a generated moment ID")
	}
	if res.Moment.EmotionIntensity != 0.3 {
		t.Errorf("expected calm intensity 0.3, got %v", res.Moment.EmotionIntensity)
	}
	if math.Abs(res.Moment.ContextWeight-1.15) > 1e-9 {
		t.Errorf("expected context weight 1.15, got %v", res.Moment.ContextWeight)
	}
	if want := lifecycle.RetentionDays(res.Moment.EmotionIntensity); res.Moment.TTLDays != want {
		t.Errorf("expected TTL %v days, got %v", want, res.Moment.TTLDays)
	}
	if want := 16 + types.ProsodyDims; len(res.Moment.Embedding) != want {
		t.Errorf("expected unified embedding of %d dims, got %d", want, len(res.Moment.Embedding))
	}

	if res.ContextDegraded {
		t.Error("expected relational update to succeed")
	}
	if res.Context == nil {
		t.Fatal("expected a relational context in the result")
	}
	if len(res.Context.Topics) != 1 || res.Context.Topics[0] != "garden" {
		t.Errorf("expected topics [garden], got %v", res.Context.Topics)
	}

	waitFor(t, 2*time.Second, func() bool {
		return idx.hasEntry(res.Moment.ID) && store.indexedAt(res.Moment.ID) != nil
	}, "timeout waiting for index sync")

	if !contains(hub.kinds(), notify.EventMomentCaptured) {
		t.Errorf("expected a %s broadcast, got %v", notify.EventMomentCaptured, hub.kinds())
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_CaptureBeforeStart verifies that Capture before Start
// returns an error without panicking.
func TestEngine_CaptureBeforeStart(t *testing.T) {
	eng, err := New(newMemStore(), provider.NewLocalEmbedder(16), nil, nil, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = eng.Capture(context.Background(), CaptureInput{ActorID: "alice", Content: "hello"})
	if err == nil {
		t.Fatal("expected Capture to fail before Start")
	}
	if err.Error() != "engine not started" {
		t.Errorf("expected 'engine not started', got: %v", err)
	}
}

// TestEngine_CaptureRejectsEmptyInput verifies input validation.
func TestEngine_CaptureRejectsEmptyInput(t *testing.T) {
	eng := newStartedEngine(t, newMemStore(), nil, nil, DefaultConfig())
	ctx := context.Background()

	if _, err := eng.Capture(ctx, CaptureInput{Content: "hello"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing actor, got: %v", err)
	}
	if _, err := eng.Capture(ctx, CaptureInput{ActorID: "alice"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing content, got: %v", err)
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_CaptureDegradesWhenContextUnavailable verifies that a
// failing relational store does not block the moment write.
func TestEngine_CaptureDegradesWhenContextUnavailable(t *testing.T) {
	store := newMemStore()
	store.contextErr = errors.New("context table offline")
	eng := newStartedEngine(t, store, nil, nil, DefaultConfig())
	ctx := context.Background()

	res, err := eng.Capture(ctx, CaptureInput{ActorID: "alice", Content: "rough day", Emotion: "low"})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	if !res.ContextDegraded {
		t.Error("expected ContextDegraded to be set")
	}
	if res.Context != nil {
		t.Error("expected no context in a degraded result")
	}
	if store.momentCount() != 1 {
		t.Errorf("expected the moment to be persisted, store has %d", store.momentCount())
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_IndexRetryAfterFailure verifies that a failed upsert is
// retried with backoff and eventually marks the moment indexed.
func TestEngine_IndexRetryAfterFailure(t *testing.T) {
	store := newMemStore()
	idx := newRecordingIndex()
	idx.failNext = 1
	eng := newStartedEngine(t, store, idx, nil, DefaultConfig())
	ctx := context.Background()

	res, err := eng.Capture(ctx, CaptureInput{ActorID: "alice", Content: "checking in", Emotion: "calm"})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	// First attempt fails; the retry waits one second.
	waitFor(t, 5*time.Second, func() bool {
		return store.indexedAt(res.Moment.ID) != nil
	}, "timeout waiting for retried index sync")

	if got := idx.attemptCount(); got < 2 {
		t.Errorf("expected at least 2 upsert attempts, got %d", got)
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_ReconcileQueuesUnindexed verifies that a moment whose sync
// attempts were exhausted is picked up again by Reconcile.
func TestEngine_ReconcileQueuesUnindexed(t *testing.T) {
	store := newMemStore()
	idx := newRecordingIndex()
	idx.failNext = 1

	cfg := DefaultConfig()
	cfg.SyncMaxAttempts = 1
	eng := newStartedEngine(t, store, idx, nil, cfg)
	ctx := context.Background()

	res, err := eng.Capture(ctx, CaptureInput{ActorID: "alice", Content: "quiet evening", Emotion: "calm"})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	// The single allowed attempt fails and the job is dropped.
	waitFor(t, 2*time.Second, func() bool { return idx.attemptCount() >= 1 }, "timeout waiting for first upsert attempt")
	time.Sleep(50 * time.Millisecond)
	if store.indexedAt(res.Moment.ID) != nil {
		t.Fatal("expected the moment to remain unindexed after exhausted attempts")
	}

	queued, err := eng.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if queued != 1 {
		t.Errorf("expected 1 re-queued moment, got %d", queued)
	}

	waitFor(t, 2*time.Second, func() bool {
		return idx.hasEntry(res.Moment.ID) && store.indexedAt(res.Moment.ID) != nil
	}, "timeout waiting for reconciled index sync")

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_ForgetRemovesStoreAndIndex verifies the two-phase delete:
// the store row goes first, the index entry follows asynchronously.
func TestEngine_ForgetRemovesStoreAndIndex(t *testing.T) {
	store := newMemStore()
	idx := newRecordingIndex()
	eng := newStartedEngine(t, store, idx, nil, DefaultConfig())
	ctx := context.Background()

	res, err := eng.Capture(ctx, CaptureInput{ActorID: "alice", Content: "please forget this", Emotion: "guarded"})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return idx.hasEntry(res.Moment.ID) }, "timeout waiting for index sync")

	if err := eng.Forget(ctx, res.Moment.ID); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}

	if _, err := store.GetMoment(ctx, res.Moment.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected the moment gone from the store, got: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return idx.wasDeleted(res.Moment.ID) }, "timeout waiting for index delete")

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_ScoreAndPersistBroadcastsElevatedOutreach verifies the
// scoring path end to end: an actor with no activity at all scores
// high on isolation and system trust, crossing the elevated threshold.
func TestEngine_ScoreAndPersistBroadcastsElevatedOutreach(t *testing.T) {
	store := newMemStore()
	hub := &recordingHub{}
	eng := newStartedEngine(t, store, nil, hub, DefaultConfig())
	ctx := context.Background()

	score, err := eng.ScoreAndPersist(ctx, "alice")
	if err != nil {
		t.Fatalf("ScoreAndPersist failed: %v", err)
	}

	// 0.3*5 + 0.3*5 + 0.2*10 + 0.1*5 + 0.1*8 for a silent actor.
	if math.Abs(score.Overall-6.3) > 1e-9 {
		t.Errorf("expected overall 6.3, got %v", score.Overall)
	}
	if score.Outreach != types.OutreachElevated {
		t.Errorf("expected elevated outreach, got %s", score.Outreach)
	}

	if got := len(store.scores); got != 1 {
		t.Errorf("expected 1 persisted score, got %d", got)
	}

	kinds := hub.kinds()
	if !contains(kinds, notify.EventSignalScored) {
		t.Errorf("expected a %s broadcast, got %v", notify.EventSignalScored, kinds)
	}
	if !contains(kinds, notify.EventOutreachRecommended) {
		t.Errorf("expected a %s broadcast, got %v", notify.EventOutreachRecommended, kinds)
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_RetrieveReinforcesOnRecall verifies that recalled moments
// get the default intensity boost when the engine is configured for it.
func TestEngine_RetrieveReinforcesOnRecall(t *testing.T) {
	store := newMemStore()
	seed := &types.Moment{
		ID:               "m1",
		ActorID:          "alice",
		Content:          "the garden was beautiful today",
		Emotion:          types.EmotionCalm,
		Embedding:        make([]float32, 16+types.ProsodyDims),
		EmotionIntensity: 0.5,
		ContextWeight:    1.0,
		TTLDays:          lifecycle.RetentionDays(0.5),
		CreatedAt:        time.Now().UTC().Add(-time.Hour),
	}
	if err := store.CreateMoment(context.Background(), seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.ReinforceOnRecall = true
	eng := newStartedEngine(t, store, nil, nil, cfg)
	ctx := context.Background()

	res, err := eng.Retrieve(ctx, RetrieveInput{ActorID: "alice", Text: "garden"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(res.Moments) != 1 {
		t.Fatalf("expected 1 moment, got %d", len(res.Moments))
	}

	if got := res.Moments[0].Moment.EmotionIntensity; math.Abs(got-0.55) > 1e-9 {
		t.Errorf("expected reinforced intensity 0.55, got %v", got)
	}
	stored, err := store.GetMoment(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMoment failed: %v", err)
	}
	if math.Abs(stored.EmotionIntensity-0.55) > 1e-9 {
		t.Errorf("expected the boost persisted, got %v", stored.EmotionIntensity)
	}
	if want := lifecycle.RetentionDays(stored.EmotionIntensity); stored.TTLDays != want {
		t.Errorf("expected TTL recomputed to %v, got %v", want, stored.TTLDays)
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_RecordResonance verifies the resonance smoothing path.
func TestEngine_RecordResonance(t *testing.T) {
	eng := newStartedEngine(t, newMemStore(), nil, nil, DefaultConfig())
	ctx := context.Background()

	if _, err := eng.Capture(ctx, CaptureInput{ActorID: "alice", Content: "hello", Emotion: "calm"}); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	rc, err := eng.RecordResonance(ctx, "alice", "anxious", "anxious")
	if err != nil {
		t.Fatalf("RecordResonance failed: %v", err)
	}
	// 0.5*0.9 + 1.0*0.1 for a matched pairing.
	if math.Abs(rc.Resonance-0.55) > 1e-9 {
		t.Errorf("expected resonance 0.55, got %v", rc.Resonance)
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_ExpressionSmoothingAcrossTurns verifies that the second
// capture's blend is pulled toward the first one.
func TestEngine_ExpressionSmoothingAcrossTurns(t *testing.T) {
	eng := newStartedEngine(t, newMemStore(), nil, nil, DefaultConfig())
	ctx := context.Background()

	first, err := eng.Capture(ctx, CaptureInput{ActorID: "alice", Content: "quiet morning", Emotion: "calm"})
	if err != nil {
		t.Fatalf("first Capture failed: %v", err)
	}
	second, err := eng.Capture(ctx, CaptureInput{ActorID: "alice", Content: "we won the raffle!", Emotion: "lit"})
	if err != nil {
		t.Fatalf("second Capture failed: %v", err)
	}

	pure := expression.FromLabel(types.EmotionLit)
	if second.Expression.Lit >= pure.Lit {
		t.Errorf("expected smoothing to hold lit below %v, got %v", pure.Lit, second.Expression.Lit)
	}
	if second.Expression.Lit <= first.Expression.Lit {
		t.Errorf("expected lit to rise from %v, got %v", first.Expression.Lit, second.Expression.Lit)
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_LifecycleDelegation verifies the decay sweep through the
// engine surface.
func TestEngine_LifecycleDelegation(t *testing.T) {
	store := newMemStore()
	old := &types.Moment{
		ID:               "old",
		ActorID:          "alice",
		Content:          "long ago",
		Emotion:          types.EmotionCalm,
		Embedding:        make([]float32, 16+types.ProsodyDims),
		EmotionIntensity: 0.1,
		ContextWeight:    1.0,
		TTLDays:          7,
		CreatedAt:        time.Now().UTC().AddDate(0, 0, -30),
	}
	if err := store.CreateMoment(context.Background(), old); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	eng := newStartedEngine(t, store, nil, nil, DefaultConfig())
	ctx := context.Background()

	sweep, err := eng.Decay(ctx, false)
	if err != nil {
		t.Fatalf("Decay failed: %v", err)
	}
	if sweep.Affected != 1 {
		t.Errorf("expected 1 decayed moment, got %d", sweep.Affected)
	}

	m, err := store.GetMoment(ctx, "old")
	if err != nil {
		t.Fatalf("GetMoment failed: %v", err)
	}
	if !m.Decayed {
		t.Error("expected the decay flag to be set")
	}

	stats, err := eng.LifecycleStats(ctx)
	if err != nil {
		t.Fatalf("LifecycleStats failed: %v", err)
	}
	if stats.Total != 1 || stats.DecayEligible != 1 || stats.CleanupEligible != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_DoubleStart verifies that calling Start twice returns an
// error without corrupting state.
func TestEngine_DoubleStart(t *testing.T) {
	eng := newStartedEngine(t, newMemStore(), nil, nil, DefaultConfig())
	ctx := context.Background()

	err := eng.Start(ctx)
	if err == nil {
		t.Fatal("expected second Start to fail")
	}
	if err.Error() != "engine already started" {
		t.Errorf("expected 'engine already started', got: %v", err)
	}

	// Engine is still usable.
	if _, err := eng.Capture(ctx, CaptureInput{ActorID: "alice", Content: "still here"}); err != nil {
		t.Errorf("Capture failed after double Start: %v", err)
	}

	if err := eng.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_ShutdownBeforeStart verifies that Shutdown before Start
// fails gracefully.
func TestEngine_ShutdownBeforeStart(t *testing.T) {
	eng, err := New(newMemStore(), provider.NewLocalEmbedder(16), nil, nil, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = eng.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected Shutdown to fail before Start")
	}
	if err.Error() != "engine not started" {
		t.Errorf("expected 'engine not started', got: %v", err)
	}
}

// TestEngine_ShutdownDrainsQueue verifies that Shutdown does not hang
// with jobs in flight.
func TestEngine_ShutdownDrainsQueue(t *testing.T) {
	store := newMemStore()
	idx := newRecordingIndex()
	eng := newStartedEngine(t, store, idx, nil, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.Capture(ctx, CaptureInput{ActorID: "alice", Content: "entry", Emotion: "calm"}); err != nil {
			t.Fatalf("Capture failed: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- eng.Shutdown(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown timed out")
	}
}

// TestEngine_InvalidConfig verifies config validation at creation.
func TestEngine_InvalidConfig(t *testing.T) {
	store := newMemStore()
	embedder := provider.NewLocalEmbedder(16)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"zero workers", func(c *Config) { c.SyncWorkers = 0 }, true},
		{"zero queue", func(c *Config) { c.SyncQueueSize = 0 }, true},
		{"zero attempts", func(c *Config) { c.SyncMaxAttempts = 0 }, true},
		{"zero reconcile batch", func(c *Config) { c.ReconcileBatchSize = 0 }, true},
		{"defaults", func(c *Config) {}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(store, embedder, nil, nil, nil, cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestEngine_RequiresStoreAndEmbedder verifies the required
// collaborators.
func TestEngine_RequiresStoreAndEmbedder(t *testing.T) {
	if _, err := New(nil, provider.NewLocalEmbedder(16), nil, nil, nil, DefaultConfig()); err == nil {
		t.Error("expected New to reject a nil store")
	}
	if _, err := New(newMemStore(), nil, nil, nil, nil, DefaultConfig()); err == nil {
		t.Error("expected New to reject a nil embedder")
	}
}
