package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haven-health/keepsake/internal/expression"
	"github.com/haven-health/keepsake/internal/index"
	"github.com/haven-health/keepsake/internal/lifecycle"
	"github.com/haven-health/keepsake/internal/notify"
	"github.com/haven-health/keepsake/internal/observability/logging"
	"github.com/haven-health/keepsake/internal/observability/metrics"
	"github.com/haven-health/keepsake/internal/provider"
	"github.com/haven-health/keepsake/internal/relation"
	"github.com/haven-health/keepsake/internal/retrieval"
	"github.com/haven-health/keepsake/internal/signal"
	"github.com/haven-health/keepsake/internal/storage"
	"github.com/haven-health/keepsake/internal/vector"
	"github.com/haven-health/keepsake/pkg/types"
)

// Broadcaster receives engine events for fan-out to connected clients.
// *notify.Hub implements it; a nil broadcaster disables events.
type Broadcaster interface {
	Broadcast(evt notify.Event)
}

// Engine is the core orchestrator for moment capture, retrieval,
// scoring and lifecycle. Capture persists synchronously and maintains
// the similarity index through an async worker pool, so a slow or down
// index never blocks the request path.
type Engine struct {
	config Config

	// Storage layer
	store storage.Store

	// Collaborators
	embedder   provider.TextEmbedder
	vectorizer *vector.Vectorizer
	idx        index.Index // may be nil: retrieval degrades to keyword matching
	relations  *relation.Store
	retriever  *retrieval.Retriever
	lifecycle  *lifecycle.Manager
	analyzer   *signal.Analyzer
	hub        Broadcaster // may be nil: no events

	// Index sync pipeline
	syncQueue       chan *SyncJob
	workerWaitGroup sync.WaitGroup
	workerCtx       context.Context
	workerCancel    context.CancelFunc

	// Per-actor expression smoothing state
	blendMu    sync.Mutex
	lastBlends map[string]expression.Blend

	// State management
	started      bool
	shuttingDown bool
	mu           sync.RWMutex
}

// New creates an engine over the given storage backend and embedder.
// idx, lexicons and hub may be nil: a nil index forces keyword-only
// retrieval, nil lexicons use the embedded defaults, a nil hub
// disables events.
func New(store storage.Store, embedder provider.TextEmbedder, idx index.Index, lexicons *signal.LexiconProvider, hub Broadcaster, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if lexicons == nil {
		lexicons = signal.NewLexiconProvider("")
	}

	e := &Engine{
		config:     cfg,
		store:      store,
		embedder:   embedder,
		idx:        idx,
		hub:        hub,
		syncQueue:  make(chan *SyncJob, cfg.SyncQueueSize),
		lastBlends: make(map[string]expression.Blend),
	}

	e.vectorizer = vector.New(vector.DefaultParams())
	e.relations = relation.New(store, relation.DefaultParams())
	e.retriever = retrieval.New(embedder, e.vectorizer, idx, store, store, retrieval.DefaultParams())
	e.lifecycle = lifecycle.NewManager(store, idx, lifecycle.DefaultParams())
	e.analyzer = signal.NewAnalyzer(store, store, store, lexicons, signal.DefaultParams())

	return e, nil
}

// Start starts the engine and its index sync workers, then reconciles
// unindexed moments from previous runs in the background. It must be
// called before Capture.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	e.workerCtx, e.workerCancel = context.WithCancel(ctx)

	if e.idx != nil {
		e.startWorkers()

		// Non-blocking so Start returns quickly.
		go func() {
			if _, err := e.reconcile(ctx); err != nil {
				logging.Errorf("Startup index reconciliation failed: %v", err)
			}
		}()
	}

	e.started = true
	logging.Infof("Engine started (embedder=%s)", e.embedder.Name())
	return nil
}

// Shutdown gracefully stops the engine. The sync queue is closed and
// workers drain remaining jobs, bounded by the shutdown timeout; jobs
// still queued after that stay unindexed for the reconciler.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return fmt.Errorf("engine not started")
	}

	e.shuttingDown = true

	if e.workerCancel != nil {
		e.workerCancel()
	}

	if err := e.stopWorkers(ctx); err != nil {
		logging.Warnf("Index sync worker shutdown had errors: %v", err)
	}

	e.started = false
	e.shuttingDown = false
	logging.Infof("Engine shut down")
	return nil
}

// CaptureInput is one unit of user expression to remember.
type CaptureInput struct {
	ActorID string         `json:"actor_id"`
	Content string         `json:"content"`
	Emotion string         `json:"emotion"` // free-form label, normalized internally
	Prosody *types.Prosody `json:"prosody,omitempty"`
	Topics  []string       `json:"topics,omitempty"`

	// Logits are optional raw classifier outputs (calm, guarded, lit);
	// when present they drive the expression blend instead of the label.
	Logits []float64 `json:"logits,omitempty"`
}

// CaptureResult reports what Capture stored and how the companion
// should express itself in response.
type CaptureResult struct {
	Moment     *types.Moment            `json:"moment"`
	Context    *types.RelationalContext `json:"context,omitempty"`
	Expression expression.Blend         `json:"expression"`
	Modulation expression.Modulation    `json:"modulation"`

	// ContextDegraded reports that the relational update failed and the
	// moment was stored without it.
	ContextDegraded bool `json:"context_degraded,omitempty"`
}

// Capture vectorizes and persists one moment, updates the actor's
// relational context, queues the vector for index sync and returns the
// expression parameters for the response layer.
//
// The moment write is the source of truth and fails the call; the
// relational update and the index sync only degrade it.
func (e *Engine) Capture(ctx context.Context, input CaptureInput) (*CaptureResult, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return nil, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	if input.ActorID == "" {
		return nil, fmt.Errorf("engine: %w: actor id is required", storage.ErrInvalidInput)
	}
	if input.Content == "" {
		return nil, fmt.Errorf("engine: %w: content is required", storage.ErrInvalidInput)
	}

	label := types.NormalizeEmotion(input.Emotion)
	prosodyVec, intensity := e.vectorizer.Vectorize(label, input.Prosody)

	semantic, err := e.embedder.Embed(ctx, input.Content)
	if err != nil {
		return nil, fmt.Errorf("engine: embed content: %w", err)
	}

	rc, err := e.relations.Update(ctx, input.ActorID, label, prosodyVec, input.Topics)
	degraded := false
	if err != nil {
		logging.Warnf("Relational update for actor %s failed, capturing anyway: %v", input.ActorID, err)
		metrics.ContextUpdateFailures.Inc()
		degraded = true
		rc = nil
	}

	now := time.Now().UTC()
	moment := &types.Moment{
		ID:               uuid.New().String(),
		ActorID:          input.ActorID,
		Content:          input.Content,
		Emotion:          label,
		Prosody:          input.Prosody,
		Embedding:        vector.Combine(semantic, prosodyVec),
		EmotionIntensity: intensity,
		ContextWeight:    1 + intensity*0.5,
		TTLDays:          lifecycle.RetentionDays(intensity),
		CreatedAt:        now,
	}

	if err := e.store.CreateMoment(ctx, moment); err != nil {
		return nil, fmt.Errorf("engine: persist moment: %w", err)
	}
	metrics.MomentsCaptured.Inc()

	if e.idx != nil {
		// Queue full is not an error: the moment stays unindexed and the
		// reconciler picks it up.
		e.enqueueSyncJob(&SyncJob{
			Kind:      SyncUpsert,
			MomentID:  moment.ID,
			ActorID:   moment.ActorID,
			Vector:    moment.Embedding,
			Timestamp: now,
		})
	}

	blend := e.nextBlend(input.ActorID, label, input.Logits)

	if e.hub != nil {
		e.hub.Broadcast(notify.NewEvent(notify.EventMomentCaptured, input.ActorID, momentEvent{
			MomentID:  moment.ID,
			Emotion:   string(label),
			Intensity: intensity,
		}))
	}

	return &CaptureResult{
		Moment:          moment,
		Context:         rc,
		Expression:      blend,
		Modulation:      blend.Modulation(),
		ContextDegraded: degraded,
	}, nil
}

// nextBlend computes the actor's expression blend for this turn,
// smoothed against the previous one.
func (e *Engine) nextBlend(actorID string, label types.EmotionLabel, logits []float64) expression.Blend {
	next := expression.FromLabel(label)
	if len(logits) == 3 {
		next = expression.BlendLogits(logits, expression.DefaultTemperature)
	}

	e.blendMu.Lock()
	defer e.blendMu.Unlock()

	if prev, ok := e.lastBlends[actorID]; ok {
		next = expression.Smooth(prev, next, expression.DefaultSmoothing)
	}
	e.lastBlends[actorID] = next
	return next
}

// RetrieveInput describes one retrieval request.
type RetrieveInput struct {
	ActorID string         `json:"actor_id"`
	Text    string         `json:"text"`
	Emotion string         `json:"emotion"`
	Prosody *types.Prosody `json:"prosody,omitempty"`
	Limit   int            `json:"limit"`
}

// Retrieve returns the actor's most relevant moments for the query,
// degrading rather than failing when the vector path is unavailable.
// With ReinforceOnRecall set, each returned moment gets the default
// intensity boost.
func (e *Engine) Retrieve(ctx context.Context, input RetrieveInput) (retrieval.Result, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return retrieval.Result{}, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	if input.ActorID == "" {
		return retrieval.Result{}, fmt.Errorf("engine: %w: actor id is required", storage.ErrInvalidInput)
	}

	res := e.retriever.Retrieve(ctx, retrieval.Query{
		ActorID: input.ActorID,
		Text:    input.Text,
		Emotion: types.NormalizeEmotion(input.Emotion),
		Prosody: input.Prosody,
		Limit:   input.Limit,
	})

	if e.config.ReinforceOnRecall {
		for i := range res.Moments {
			m, err := e.lifecycle.Reinforce(ctx, res.Moments[i].Moment.ID, 0)
			if err != nil {
				logging.Warnf("Reinforce on recall failed for moment %s: %v", res.Moments[i].Moment.ID, err)
				continue
			}
			res.Moments[i].Moment = m
		}
	}

	return res, nil
}

// ExplainRetrieve runs a fully-traced retrieval, reporting every
// candidate considered and every discard. Debug path; never
// reinforces.
func (e *Engine) ExplainRetrieve(ctx context.Context, input RetrieveInput) (retrieval.Result, *retrieval.Explanation, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return retrieval.Result{}, nil, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	if input.ActorID == "" {
		return retrieval.Result{}, nil, fmt.Errorf("engine: %w: actor id is required", storage.ErrInvalidInput)
	}

	res, exp := e.retriever.Explain(ctx, retrieval.Query{
		ActorID: input.ActorID,
		Text:    input.Text,
		Emotion: types.NormalizeEmotion(input.Emotion),
		Prosody: input.Prosody,
		Limit:   input.Limit,
	})
	return res, exp, nil
}

// Score computes the actor's risk signal without persisting it.
func (e *Engine) Score(ctx context.Context, actorID string) (*types.SignalScore, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return nil, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	if actorID == "" {
		return nil, fmt.Errorf("engine: %w: actor id is required", storage.ErrInvalidInput)
	}
	return e.analyzer.Analyze(ctx, actorID), nil
}

// ScoreAndPersist computes and appends the actor's risk signal, then
// broadcasts it; elevated and urgent levels additionally broadcast an
// outreach recommendation.
func (e *Engine) ScoreAndPersist(ctx context.Context, actorID string) (*types.SignalScore, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return nil, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	if actorID == "" {
		return nil, fmt.Errorf("engine: %w: actor id is required", storage.ErrInvalidInput)
	}

	score, err := e.analyzer.Persist(ctx, actorID)
	if err != nil {
		return nil, err
	}

	if e.hub != nil {
		e.hub.Broadcast(notify.NewEvent(notify.EventSignalScored, actorID, scoreEvent{
			ScoreID:  score.ID,
			Overall:  score.Overall,
			Outreach: score.Outreach,
			Partial:  score.Metadata.Partial(),
		}))
		if score.Outreach == types.OutreachElevated || score.Outreach == types.OutreachUrgent {
			e.hub.Broadcast(notify.NewEvent(notify.EventOutreachRecommended, actorID, outreachEvent{
				Level:   score.Outreach,
				Overall: score.Overall,
				Needs:   score.Metadata.NeedsDetected,
			}))
		}
	}

	return score, nil
}

// RecordResonance folds one user/system emotion pairing into the
// actor's resonance index.
func (e *Engine) RecordResonance(ctx context.Context, actorID, userEmotion, systemEmotion string) (*types.RelationalContext, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return nil, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	return e.relations.UpdateResonance(ctx, actorID,
		types.NormalizeEmotion(userEmotion), types.NormalizeEmotion(systemEmotion))
}

// Forget hard-deletes a moment at the actor's request. The store
// delete is the source of truth; the index entry is removed by the
// sync pipeline.
func (e *Engine) Forget(ctx context.Context, momentID string) error {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	if momentID == "" {
		return fmt.Errorf("engine: %w: moment id is required", storage.ErrInvalidInput)
	}

	if err := e.store.DeleteMoment(ctx, momentID); err != nil {
		return fmt.Errorf("engine: delete moment %s: %w", momentID, err)
	}

	if e.idx != nil {
		if !e.enqueueSyncJob(&SyncJob{Kind: SyncDelete, MomentID: momentID, Timestamp: time.Now().UTC()}) {
			// Stale index entries only cost a wasted candidate: hydration
			// skips IDs the store no longer has.
			logging.Warnf("Index delete for moment %s not queued", momentID)
		}
	}
	return nil
}

// Reconcile re-queues moments the index has not confirmed, closing the
// gap left by sync jobs that exhausted their attempts or were dropped
// at shutdown. Returns the number of moments queued.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return 0, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	return e.reconcile(ctx)
}

func (e *Engine) reconcile(ctx context.Context) (int, error) {
	if e.idx == nil {
		return 0, nil
	}

	moments, err := e.store.ListUnindexed(ctx, e.config.ReconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("engine: list unindexed moments: %w", err)
	}

	queued := 0
	for _, m := range moments {
		job := &SyncJob{
			Kind:      SyncUpsert,
			MomentID:  m.ID,
			ActorID:   m.ActorID,
			Vector:    m.Embedding,
			Timestamp: time.Now().UTC(),
		}
		if !e.enqueueSyncJob(job) {
			break
		}
		queued++
	}

	if queued > 0 {
		logging.Infof("Reconciler queued %d unindexed moments", queued)
	}
	return queued, nil
}

// Decay runs one decay sweep over all stored moments.
func (e *Engine) Decay(ctx context.Context, dryRun bool) (lifecycle.SweepResult, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return lifecycle.SweepResult{}, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	return e.lifecycle.Decay(ctx, dryRun)
}

// Cleanup hard-deletes moments past their grace window.
func (e *Engine) Cleanup(ctx context.Context, graceMultiplier float64, dryRun bool) (lifecycle.SweepResult, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return lifecycle.SweepResult{}, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	return e.lifecycle.Cleanup(ctx, graceMultiplier, dryRun)
}

// Reinforce boosts one moment's emotional intensity and extends its
// retention.
func (e *Engine) Reinforce(ctx context.Context, momentID string, boost float64) (*types.Moment, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return nil, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	return e.lifecycle.Reinforce(ctx, momentID, boost)
}

// LifecycleStats aggregates current retention state.
func (e *Engine) LifecycleStats(ctx context.Context) (storage.LifecycleCounts, error) {
	e.mu.RLock()
	if !e.started {
		e.mu.RUnlock()
		return storage.LifecycleCounts{}, fmt.Errorf("engine not started")
	}
	e.mu.RUnlock()

	return e.lifecycle.Stats(ctx)
}

// GetMoment retrieves a moment by ID.
func (e *Engine) GetMoment(ctx context.Context, id string) (*types.Moment, error) {
	return e.store.GetMoment(ctx, id)
}

// ListMoments retrieves moments with pagination and filtering.
func (e *Engine) ListMoments(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Moment], error) {
	return e.store.ListMoments(ctx, opts)
}

// Context returns the actor's relational context, storage.ErrNotFound
// before the first moment.
func (e *Engine) Context(ctx context.Context, actorID string) (*types.RelationalContext, error) {
	return e.relations.Get(ctx, actorID)
}

// ScoreHistory returns the actor's persisted scores, newest first.
func (e *Engine) ScoreHistory(ctx context.Context, actorID string, limit int) ([]*types.SignalScore, error) {
	return e.store.ListScores(ctx, actorID, limit)
}

// QueueSize returns the current number of queued index sync jobs.
func (e *Engine) QueueSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.syncQueue)
}

// momentEvent is the payload broadcast with moment.captured.
type momentEvent struct {
	MomentID  string  `json:"moment_id"`
	Emotion   string  `json:"emotion"`
	Intensity float64 `json:"intensity"`
}

// scoreEvent is the payload broadcast with signal.scored.
type scoreEvent struct {
	ScoreID  string              `json:"score_id"`
	Overall  float64             `json:"overall"`
	Outreach types.OutreachLevel `json:"outreach"`
	Partial  bool                `json:"partial,omitempty"`
}

// outreachEvent is the payload broadcast with outreach.recommended.
type outreachEvent struct {
	Level   types.OutreachLevel `json:"level"`
	Overall float64             `json:"overall"`
	Needs   []string            `json:"needs,omitempty"`
}
