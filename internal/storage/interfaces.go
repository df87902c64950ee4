// Package storage provides composable storage interfaces for the
// Keepsake engine.
//
// The storage layer is designed with small, focused interfaces that can
// be implemented independently and composed as needed. The engine core
// depends only on these contracts; postgres and sqlite adapters live in
// subpackages.
package storage

import (
	"context"
	"time"

	"github.com/haven-health/keepsake/pkg/types"
)

// MomentStore persists moments and their lifecycle state. This is the
// source of truth for memory; the similarity index is derived from it.
type MomentStore interface {
	// CreateMoment persists a new moment. The moment must carry an ID,
	// actor, content and embedding; ErrInvalidInput otherwise.
	CreateMoment(ctx context.Context, m *types.Moment) error

	// GetMoment retrieves a moment by ID.
	// Returns ErrNotFound if the moment doesn't exist.
	GetMoment(ctx context.Context, id string) (*types.Moment, error)

	// GetMoments retrieves a batch of moments by ID. IDs that no longer
	// exist are skipped, not errors; order follows the input IDs.
	GetMoments(ctx context.Context, ids []string) ([]*types.Moment, error)

	// ListMoments retrieves moments with pagination and filtering.
	ListMoments(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Moment], error)

	// RecentMoments returns the actor's newest moments, newest first.
	RecentMoments(ctx context.Context, actorID string, limit int) ([]*types.Moment, error)

	// SearchMomentText performs a keyword match over the actor's moment
	// content, best matches first. Backends may use full-text search or
	// a case-insensitive substring scan. This is the degraded retrieval
	// path when the similarity index is unavailable.
	SearchMomentText(ctx context.Context, actorID, query string, limit int) ([]*types.Moment, error)

	// MarkDecayed sets the decay flag and the reduced context weight.
	// Returns ErrNotFound if the moment doesn't exist.
	MarkDecayed(ctx context.Context, id string, weight float64) error

	// UpdateRetention writes a reinforced emotion intensity and the
	// recomputed TTL. Returns ErrNotFound if the moment doesn't exist.
	UpdateRetention(ctx context.Context, id string, intensity, ttlDays float64) error

	// MarkIndexed records that the similarity index confirmed the
	// moment's vector. Returns ErrNotFound if the moment doesn't exist.
	MarkIndexed(ctx context.Context, id string, at time.Time) error

	// ListUnindexed returns moments whose vectors the index has not
	// confirmed, oldest first, for the reconciler.
	ListUnindexed(ctx context.Context, limit int) ([]*types.Moment, error)

	// DeleteMoment hard-deletes a moment.
	// Returns ErrNotFound if the moment doesn't exist.
	DeleteMoment(ctx context.Context, id string) error

	// LifecycleCounts aggregates retention state as of now, using the
	// given grace multiplier for the cleanup-eligible count.
	LifecycleCounts(ctx context.Context, now time.Time, graceMultiplier float64) (LifecycleCounts, error)

	// Close releases any resources held by the store.
	Close() error
}

// ContextStore persists per-actor relational context rows. Serialization
// of concurrent updates is the relation package's job; implementations
// only need atomic single-row upserts.
type ContextStore interface {
	// GetContext retrieves the actor's relational context.
	// Returns ErrNotFound if the actor has no context yet.
	GetContext(ctx context.Context, actorID string) (*types.RelationalContext, error)

	// UpsertContext creates or replaces the actor's context row.
	UpsertContext(ctx context.Context, c *types.RelationalContext) error
}

// SignalStore persists scoring runs. History is append-only: rows are
// never updated or deleted by the engine.
type SignalStore interface {
	// AppendScore persists a new scoring run.
	AppendScore(ctx context.Context, s *types.SignalScore) error

	// LatestScore returns the actor's most recent persisted score.
	// Returns ErrNotFound if the actor has never been scored.
	LatestScore(ctx context.Context, actorID string) (*types.SignalScore, error)

	// ListScores returns the actor's score history, newest first.
	ListScores(ctx context.Context, actorID string, limit int) ([]*types.SignalScore, error)
}

// BehaviorStore reads the behavioral evidence owned by the surrounding
// service layer. The engine never writes these rows.
type BehaviorStore interface {
	// ListActions returns the actor's daily actions created at or after
	// since, newest first.
	ListActions(ctx context.Context, actorID string, since time.Time) ([]*types.DailyAction, error)

	// ListReferrals returns all referrals for the actor, newest first.
	ListReferrals(ctx context.Context, actorID string) ([]*types.Referral, error)

	// ListGoals returns all goals for the actor, newest first.
	ListGoals(ctx context.Context, actorID string) ([]*types.Goal, error)

	// CountFeedEvents counts community-feed interactions at or after
	// since.
	CountFeedEvents(ctx context.Context, actorID string, since time.Time) (int, error)
}

// Store is the full storage surface a backend provides.
type Store interface {
	MomentStore
	ContextStore
	SignalStore
	BehaviorStore
}
