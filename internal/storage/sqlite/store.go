package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/haven-health/keepsake/internal/observability/logging"
	"github.com/haven-health/keepsake/internal/storage"
	"github.com/haven-health/keepsake/pkg/types"
)

// momentSelectColumns is the canonical SELECT column list for the
// moments table. It must match the scan order in scanMomentRow.
const momentSelectColumns = `
	id, actor_id, content, emotion, prosody, embedding,
	emotion_intensity, context_weight, ttl_days,
	decayed, indexed_at, created_at
`

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new SQLite store with WAL self-healing. If the
// initial open fails due to stale WAL files (left behind by a crashed
// process), it verifies no other process holds them and retries once
// after removing the stale -shm/-wal files.
func NewStore(dsn string) (*Store, error) {
	store, err := openStore(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}

	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	logging.Infof("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// openStore opens a SQLite database, configures WAL mode, and creates
// the schema.
func openStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode allows concurrent readers to proceed
	// without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	// Wait instead of returning an immediate SQLITE_BUSY when the
	// connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetDB returns the underlying database connection.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close releases any resources held by the store.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateMoment persists a new moment row.
func (s *Store) CreateMoment(ctx context.Context, m *types.Moment) error {
	if m == nil {
		return storage.ErrInvalidInput
	}
	if m.ID == "" {
		return fmt.Errorf("%w: moment ID is required", storage.ErrInvalidInput)
	}
	if m.ActorID == "" {
		return fmt.Errorf("%w: actor ID is required", storage.ErrInvalidInput)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: moment content is required", storage.ErrInvalidInput)
	}
	if len(m.Embedding) == 0 {
		return fmt.Errorf("%w: moment embedding is required", storage.ErrInvalidInput)
	}

	var prosodyJSON []byte
	if m.Prosody != nil {
		var err error
		prosodyJSON, err = json.Marshal(m.Prosody)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal prosody: %w", err)
		}
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO moments (
			id, actor_id, content, emotion, prosody, embedding,
			emotion_intensity, context_weight, ttl_days,
			decayed, indexed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.ActorID,
		m.Content,
		string(m.Emotion),
		nullableText(prosodyJSON),
		packVector(m.Embedding),
		m.EmotionIntensity,
		m.ContextWeight,
		m.TTLDays,
		m.Decayed,
		nullableTimePtr(m.IndexedAt),
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to create moment: %w", err)
	}

	return nil
}

// GetMoment retrieves a moment by ID.
func (s *Store) GetMoment(ctx context.Context, id string) (*types.Moment, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: moment ID is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + momentSelectColumns + ` FROM moments WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	m, err := scanMomentRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get moment: %w", err)
	}
	return m, nil
}

// GetMoments retrieves a batch of moments by ID. Missing IDs are
// skipped; order follows the input.
func (s *Store) GetMoments(ctx context.Context, ids []string) ([]*types.Moment, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := `SELECT ` + momentSelectColumns + ` FROM moments WHERE id IN (` + placeholders + `)`

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get moments: %w", err)
	}
	defer rows.Close()

	found, err := scanMoments(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.Moment, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}

	out := make([]*types.Moment, 0, len(found))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// ListMoments retrieves moments with pagination and filtering.
func (s *Store) ListMoments(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Moment], error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}

	if opts.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, opts.ActorID)
	}
	if !opts.CreatedAfter.IsZero() {
		conditions = append(conditions, "created_at > ?")
		args = append(args, opts.CreatedAfter)
	}
	if !opts.CreatedBefore.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, opts.CreatedBefore)
	}

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	// Sorting is safe from SQL injection: Normalize() whitelists SortBy
	// and SortOrder above.
	query := `SELECT ` + momentSelectColumns + ` FROM moments` + whereClause
	query += fmt.Sprintf(" ORDER BY %s %s", opts.SortBy, opts.SortOrder)
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list moments: %w", err)
	}
	defer rows.Close()

	moments, err := scanMoments(rows)
	if err != nil {
		return nil, err
	}

	items := make([]types.Moment, 0, len(moments))
	for _, m := range moments {
		items = append(items, *m)
	}

	countArgs := args[:len(args)-2]
	countQuery := "SELECT COUNT(*) FROM moments" + whereClause
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: failed to count moments: %w", err)
	}

	return &storage.PaginatedResult[types.Moment]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// RecentMoments returns the actor's newest moments, newest first.
func (s *Store) RecentMoments(ctx context.Context, actorID string, limit int) ([]*types.Moment, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor ID is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + momentSelectColumns + `
		FROM moments
		WHERE actor_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list recent moments: %w", err)
	}
	defer rows.Close()

	return scanMoments(rows)
}

// SearchMomentText performs a keyword match over the actor's moment
// content using the FTS5 table, best matches first. Falls back to a
// substring scan when FTS5 matching fails or finds nothing.
func (s *Store) SearchMomentText(ctx context.Context, actorID, query string, limit int) ([]*types.Moment, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor ID is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}
	if strings.TrimSpace(query) == "" {
		return s.RecentMoments(ctx, actorID, limit)
	}

	// FTS5 rank values are negative (more negative == better match), so
	// ordering by rank ascending gives the best results first.
	if match := sanitizeFTSQuery(query); match != "" {
		const ftsSQL = `
			SELECT
				m.id, m.actor_id, m.content, m.emotion, m.prosody, m.embedding,
				m.emotion_intensity, m.context_weight, m.ttl_days,
				m.decayed, m.indexed_at, m.created_at
			FROM moments_fts fts
			JOIN moments m ON m.rowid = fts.rowid
			WHERE moments_fts MATCH ? AND m.actor_id = ?
			ORDER BY rank
			LIMIT ?`

		rows, err := s.db.QueryContext(ctx, ftsSQL, match, actorID, limit)
		if err != nil {
			// FTS5 can still error on input that slipped past
			// sanitization.
			logging.Warnf("FTS5 search failed, falling back to substring scan: %v", err)
		} else {
			moments, scanErr := func() ([]*types.Moment, error) {
				defer rows.Close()
				return scanMoments(rows)
			}()
			if scanErr != nil {
				return nil, scanErr
			}
			if len(moments) > 0 {
				return moments, nil
			}
		}
	}

	const likeSQL = `
		SELECT ` + momentSelectColumns + `
		FROM moments
		WHERE actor_id = ? AND content LIKE '%' || ? || '%'
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, likeSQL, actorID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to search moments: %w", err)
	}
	defer rows.Close()

	return scanMoments(rows)
}

// MarkDecayed sets the decay flag and the reduced context weight.
func (s *Store) MarkDecayed(ctx context.Context, id string, weight float64) error {
	if id == "" {
		return fmt.Errorf("%w: moment ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE moments SET decayed = 1, context_weight = ? WHERE id = ?", weight, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to mark moment decayed: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateRetention writes a reinforced intensity and the recomputed TTL.
func (s *Store) UpdateRetention(ctx context.Context, id string, intensity, ttlDays float64) error {
	if id == "" {
		return fmt.Errorf("%w: moment ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE moments SET emotion_intensity = ?, ttl_days = ? WHERE id = ?", intensity, ttlDays, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update retention: %w", err)
	}
	return requireRowAffected(result)
}

// MarkIndexed records that the similarity index confirmed the vector.
func (s *Store) MarkIndexed(ctx context.Context, id string, at time.Time) error {
	if id == "" {
		return fmt.Errorf("%w: moment ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE moments SET indexed_at = ? WHERE id = ?", at, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to mark moment indexed: %w", err)
	}
	return requireRowAffected(result)
}

// ListUnindexed returns moments the index has not confirmed, oldest
// first.
func (s *Store) ListUnindexed(ctx context.Context, limit int) ([]*types.Moment, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + momentSelectColumns + `
		FROM moments
		WHERE indexed_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list unindexed moments: %w", err)
	}
	defer rows.Close()

	return scanMoments(rows)
}

// DeleteMoment hard-deletes a moment.
func (s *Store) DeleteMoment(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: moment ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM moments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete moment: %w", err)
	}
	return requireRowAffected(result)
}

// LifecycleCounts aggregates retention state as of now.
func (s *Store) LifecycleCounts(ctx context.Context, now time.Time, graceMultiplier float64) (storage.LifecycleCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN julianday(?) - julianday(created_at) > ttl_days THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN julianday(?) - julianday(created_at) > ttl_days * ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(emotion_intensity), 0),
			COALESCE(AVG(ttl_days), 0)
		FROM moments
	`

	var counts storage.LifecycleCounts
	err := s.db.QueryRowContext(ctx, query, now, now, graceMultiplier).Scan(
		&counts.Total,
		&counts.DecayEligible,
		&counts.CleanupEligible,
		&counts.MeanIntensity,
		&counts.MeanTTLDays,
	)
	if err != nil {
		return storage.LifecycleCounts{}, fmt.Errorf("sqlite: failed to aggregate lifecycle counts: %w", err)
	}

	// MIN(created_at) loses the column's declared type, so the driver
	// would hand back a string; select the raw column instead.
	var oldest time.Time
	err = s.db.QueryRowContext(ctx,
		"SELECT created_at FROM moments ORDER BY created_at ASC LIMIT 1").Scan(&oldest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storage.LifecycleCounts{}, fmt.Errorf("sqlite: failed to find oldest moment: %w", err)
	}
	if err == nil {
		counts.OldestCreatedAt = &oldest
	}

	return counts, nil
}

// GetContext retrieves the actor's relational context.
func (s *Store) GetContext(ctx context.Context, actorID string) (*types.RelationalContext, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor ID is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT actor_id, topics, emotion_mean, trust, resonance, continuity, updated_at
		FROM relational_contexts
		WHERE actor_id = ?
	`

	var rc types.RelationalContext
	var topicsJSON sql.NullString
	var meanBytes []byte

	err := s.db.QueryRowContext(ctx, query, actorID).Scan(
		&rc.ActorID,
		&topicsJSON,
		&meanBytes,
		&rc.Trust,
		&rc.Resonance,
		&rc.Continuity,
		&rc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get context: %w", err)
	}

	if topicsJSON.Valid && topicsJSON.String != "" {
		if err := json.Unmarshal([]byte(topicsJSON.String), &rc.Topics); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal topics: %w", err)
		}
	}
	if len(meanBytes) > 0 {
		mean, err := unpackVector(meanBytes)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to unpack emotion mean: %w", err)
		}
		rc.EmotionMean = mean
	}

	return &rc, nil
}

// UpsertContext creates or replaces the actor's context row.
func (s *Store) UpsertContext(ctx context.Context, c *types.RelationalContext) error {
	if c == nil {
		return storage.ErrInvalidInput
	}
	if c.ActorID == "" {
		return fmt.Errorf("%w: actor ID is required", storage.ErrInvalidInput)
	}

	var topicsJSON []byte
	if len(c.Topics) > 0 {
		var err error
		topicsJSON, err = json.Marshal(c.Topics)
		if err != nil {
			return fmt.Errorf("sqlite: failed to marshal topics: %w", err)
		}
	}

	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO relational_contexts (
			actor_id, topics, emotion_mean, trust, resonance, continuity, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_id) DO UPDATE SET
			topics = excluded.topics,
			emotion_mean = excluded.emotion_mean,
			trust = excluded.trust,
			resonance = excluded.resonance,
			continuity = excluded.continuity,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ActorID,
		nullableText(topicsJSON),
		packVector(c.EmotionMean),
		c.Trust,
		c.Resonance,
		c.Continuity,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert context: %w", err)
	}
	return nil
}

// scoreSelectColumns must match the scan order in scanScoreRow.
const scoreSelectColumns = `
	id, actor_id,
	medication, mental_health, isolation, care_coordination, system_trust,
	overall,
	medication_trend, mental_health_trend, overall_trend,
	sdoh_risk, engagement_impact,
	outreach, metadata, created_at
`

// AppendScore persists a new scoring run.
func (s *Store) AppendScore(ctx context.Context, sc *types.SignalScore) error {
	if sc == nil {
		return storage.ErrInvalidInput
	}
	if sc.ID == "" {
		return fmt.Errorf("%w: score ID is required", storage.ErrInvalidInput)
	}
	if sc.ActorID == "" {
		return fmt.Errorf("%w: actor ID is required", storage.ErrInvalidInput)
	}

	metadataJSON, err := json.Marshal(sc.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal score metadata: %w", err)
	}

	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO signal_scores (
			id, actor_id,
			medication, mental_health, isolation, care_coordination, system_trust,
			overall,
			medication_trend, mental_health_trend, overall_trend,
			sdoh_risk, engagement_impact,
			outreach, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		sc.ID,
		sc.ActorID,
		sc.Medication,
		sc.MentalHealth,
		sc.Isolation,
		sc.CareCoordination,
		sc.SystemTrust,
		sc.Overall,
		sc.MedicationTrend,
		sc.MentalHealthTrend,
		sc.OverallTrend,
		sc.SDOHRisk,
		sc.EngagementImpact,
		string(sc.Outreach),
		string(metadataJSON),
		sc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to append score: %w", err)
	}
	return nil
}

// LatestScore returns the actor's most recent persisted score.
func (s *Store) LatestScore(ctx context.Context, actorID string) (*types.SignalScore, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor ID is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + scoreSelectColumns + `
		FROM signal_scores
		WHERE actor_id = ?
		ORDER BY created_at DESC
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, actorID)
	sc, err := scanScoreRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get latest score: %w", err)
	}
	return sc, nil
}

// ListScores returns the actor's score history, newest first.
func (s *Store) ListScores(ctx context.Context, actorID string, limit int) ([]*types.SignalScore, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor ID is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + scoreSelectColumns + `
		FROM signal_scores
		WHERE actor_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list scores: %w", err)
	}
	defer rows.Close()

	var out []*types.SignalScore
	for rows.Next() {
		sc, err := scanScoreRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan score: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating scores: %w", err)
	}
	return out, nil
}

// ListActions returns the actor's daily actions created at or after
// since, newest first.
func (s *Store) ListActions(ctx context.Context, actorID string, since time.Time) ([]*types.DailyAction, error) {
	query := `
		SELECT id, actor_id, kind, description, completed, created_at
		FROM daily_actions
		WHERE actor_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, actorID, since)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list actions: %w", err)
	}
	defer rows.Close()

	var out []*types.DailyAction
	for rows.Next() {
		var a types.DailyAction
		var description sql.NullString
		if err := rows.Scan(&a.ID, &a.ActorID, &a.Kind, &description, &a.Completed, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan action: %w", err)
		}
		if description.Valid {
			a.Description = description.String
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating actions: %w", err)
	}
	return out, nil
}

// ListReferrals returns all referrals for the actor, newest first.
func (s *Store) ListReferrals(ctx context.Context, actorID string) ([]*types.Referral, error) {
	query := `
		SELECT id, actor_id, category, status, created_at
		FROM referrals
		WHERE actor_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, actorID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list referrals: %w", err)
	}
	defer rows.Close()

	var out []*types.Referral
	for rows.Next() {
		var r types.Referral
		var status string
		if err := rows.Scan(&r.ID, &r.ActorID, &r.Category, &status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan referral: %w", err)
		}
		r.Status = types.ReferralStatus(status)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating referrals: %w", err)
	}
	return out, nil
}

// ListGoals returns all goals for the actor, newest first.
func (s *Store) ListGoals(ctx context.Context, actorID string) ([]*types.Goal, error) {
	query := `
		SELECT id, actor_id, title, status, created_at
		FROM goals
		WHERE actor_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, actorID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list goals: %w", err)
	}
	defer rows.Close()

	var out []*types.Goal
	for rows.Next() {
		var g types.Goal
		var title sql.NullString
		var status string
		if err := rows.Scan(&g.ID, &g.ActorID, &title, &status, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan goal: %w", err)
		}
		if title.Valid {
			g.Title = title.String
		}
		g.Status = types.GoalStatus(status)
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating goals: %w", err)
	}
	return out, nil
}

// CountFeedEvents counts community-feed interactions at or after since.
func (s *Store) CountFeedEvents(ctx context.Context, actorID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM feed_events WHERE actor_id = ? AND created_at >= ?",
		actorID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to count feed events: %w", err)
	}
	return count, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan
// helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMomentRow scans a single row into a Moment. The column order must
// match momentSelectColumns.
func scanMomentRow(row rowScanner) (*types.Moment, error) {
	var m types.Moment
	var emotion string
	var prosodyJSON sql.NullString
	var embedding []byte
	var indexedAt sql.NullTime

	err := row.Scan(
		&m.ID,
		&m.ActorID,
		&m.Content,
		&emotion,
		&prosodyJSON,
		&embedding,
		&m.EmotionIntensity,
		&m.ContextWeight,
		&m.TTLDays,
		&m.Decayed,
		&indexedAt,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Emotion = types.EmotionLabel(emotion)

	if prosodyJSON.Valid && prosodyJSON.String != "" {
		var p types.Prosody
		if err := json.Unmarshal([]byte(prosodyJSON.String), &p); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal prosody: %w", err)
		}
		m.Prosody = &p
	}
	if len(embedding) > 0 {
		vec, err := unpackVector(embedding)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to unpack embedding: %w", err)
		}
		m.Embedding = vec
	}
	if indexedAt.Valid {
		t := indexedAt.Time
		m.IndexedAt = &t
	}

	return &m, nil
}

// scanMoments reads all rows returned by a query.
func scanMoments(rows *sql.Rows) ([]*types.Moment, error) {
	var out []*types.Moment
	for rows.Next() {
		m, err := scanMomentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan moment: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating moments: %w", err)
	}
	return out, nil
}

// scanScoreRow scans a single row into a SignalScore. The column order
// must match scoreSelectColumns.
func scanScoreRow(row rowScanner) (*types.SignalScore, error) {
	var sc types.SignalScore
	var outreach string
	var metadataJSON sql.NullString

	err := row.Scan(
		&sc.ID,
		&sc.ActorID,
		&sc.Medication,
		&sc.MentalHealth,
		&sc.Isolation,
		&sc.CareCoordination,
		&sc.SystemTrust,
		&sc.Overall,
		&sc.MedicationTrend,
		&sc.MentalHealthTrend,
		&sc.OverallTrend,
		&sc.SDOHRisk,
		&sc.EngagementImpact,
		&outreach,
		&metadataJSON,
		&sc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sc.Outreach = types.OutreachLevel(outreach)
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &sc.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal score metadata: %w", err)
		}
	}

	return &sc, nil
}

// requireRowAffected maps a zero-row UPDATE or DELETE to ErrNotFound.
func requireRowAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// nullableText converts serialized JSON to a NULL-able TEXT value.
func nullableText(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullableTimePtr converts a *time.Time to a NULL-able driver value.
func nullableTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// packVector serializes a float32 slice as little-endian bytes.
func packVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// unpackVector deserializes little-endian bytes back to float32s.
func unpackVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector buffer length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// ftsStopWords are dropped from FTS queries; conversational captures
// are full of them and they carry no discriminative value.
var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"i": true, "my": true, "me": true, "we": true, "it": true,
	"is": true, "am": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "about": true,
	"and": true, "or": true, "but": true, "not": true,
	"this": true, "that": true, "these": true, "those": true,
	"how": true, "what": true, "when": true, "where": true, "why": true,
	"s": true, "t": true, // post-apostrophe fragments
}

// sanitizeFTSQuery converts a free-form query into a safe FTS5 MATCH
// expression. FTS5 syntax is fragile: an unbalanced quote or stray
// operator keyword causes a syntax error. Free-form input becomes a
// prefix query per remaining term with OR semantics.
//
// Example: "how have I been sleeping?" -> "sleeping*"
func sanitizeFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, " ",
		`'`, " ",
		"(", " ",
		")", " ",
		"*", " ",
		"-", " ",
		"^", " ",
		"?", " ",
		":", " ",
		".", " ",
		",", " ",
	)
	cleaned := replacer.Replace(query)

	var terms []string
	for _, w := range strings.Fields(strings.ToLower(cleaned)) {
		if len(w) >= 2 && !ftsStopWords[w] {
			terms = append(terms, w+"*")
		}
	}
	return strings.Join(terms, " OR ")
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN. Handles
// bare paths ("/path/to/db.sqlite") and file: URIs
// ("file:/path/to/db.sqlite?mode=rwc"). Returns empty string for
// in-memory databases or unparseable DSNs.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError returns true if the error matches patterns
// caused by stale WAL files left behind after a crash (SIGKILL, OOM).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given
// database path AND no other process currently holds them open (via
// lsof). Returns false if lsof is unavailable (conservative: no
// deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof returns exit code 1 when no files are open, which means
		// the WAL files are stale.
		return true
	}

	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database
// path.
func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warnf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

// fileExists returns true if the path exists on disk.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
