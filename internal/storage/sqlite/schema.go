// Package sqlite provides a SQLite implementation of the storage
// interfaces. It is the default backend: a single local file, no server
// to run, suitable for a companion that lives on one device. Similarity
// search is served by a separate index; this package covers the primary
// store and the keyword fallback only.
package sqlite

// Schema contains the SQLite DDL for all tables. Every statement is
// idempotent so the schema can be applied on every open.
const Schema = `
-- Moments: captured units of expression with emotional metadata.
CREATE TABLE IF NOT EXISTS moments (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    content TEXT NOT NULL,
    emotion TEXT NOT NULL DEFAULT '',

    -- Voice prosody snapshot as JSON, NULL for text-only captures.
    prosody TEXT,

    -- Unified embedding: semantic vector with the prosody sub-vector
    -- appended, packed as little-endian float32.
    embedding BLOB,

    emotion_intensity REAL NOT NULL DEFAULT 0.5,
    context_weight REAL NOT NULL DEFAULT 1.0,
    ttl_days REAL NOT NULL DEFAULT 7,

    decayed INTEGER NOT NULL DEFAULT 0,
    indexed_at TIMESTAMP,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Relational contexts: one evolving row per actor.
CREATE TABLE IF NOT EXISTS relational_contexts (
    actor_id TEXT PRIMARY KEY,
    topics TEXT,
    emotion_mean BLOB,
    trust REAL NOT NULL DEFAULT 0.5,
    resonance REAL NOT NULL DEFAULT 0.5,
    continuity REAL NOT NULL DEFAULT 0.5,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Signal scores: append-only history of scoring runs.
CREATE TABLE IF NOT EXISTS signal_scores (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    medication REAL NOT NULL DEFAULT 5,
    mental_health REAL NOT NULL DEFAULT 5,
    isolation REAL NOT NULL DEFAULT 5,
    care_coordination REAL NOT NULL DEFAULT 5,
    system_trust REAL NOT NULL DEFAULT 5,
    overall REAL NOT NULL DEFAULT 5,
    medication_trend REAL NOT NULL DEFAULT 0,
    mental_health_trend REAL NOT NULL DEFAULT 0,
    overall_trend REAL NOT NULL DEFAULT 0,
    sdoh_risk REAL NOT NULL DEFAULT 0,
    engagement_impact REAL NOT NULL DEFAULT 0,
    outreach TEXT NOT NULL DEFAULT 'steady',
    metadata TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Behavior evidence tables. The scoring engine only reads these; the
-- surrounding service layer owns their writes.
CREATE TABLE IF NOT EXISTS daily_actions (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    description TEXT,
    completed INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS referrals (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    category TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS goals (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    title TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS feed_events (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Indexes.
CREATE INDEX IF NOT EXISTS idx_moments_actor_created ON moments(actor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_moments_created_at ON moments(created_at);

-- Partial index keeps the reconcile scan cheap no matter how large the
-- moments table grows.
CREATE INDEX IF NOT EXISTS idx_moments_unindexed ON moments(created_at) WHERE indexed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_moments_decayed ON moments(decayed);
CREATE INDEX IF NOT EXISTS idx_scores_actor_created ON signal_scores(actor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_actions_actor_created ON daily_actions(actor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_referrals_actor ON referrals(actor_id);
CREATE INDEX IF NOT EXISTS idx_goals_actor ON goals(actor_id);
CREATE INDEX IF NOT EXISTS idx_feed_events_actor_created ON feed_events(actor_id, created_at);

-- FTS5 virtual table for keyword search over moment content, kept in
-- sync with the moments table via triggers (external content pattern).
CREATE VIRTUAL TABLE IF NOT EXISTS moments_fts USING fts5(
    content,
    content='moments',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS moments_fts_insert AFTER INSERT ON moments BEGIN
    INSERT INTO moments_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS moments_fts_delete AFTER DELETE ON moments BEGIN
    INSERT INTO moments_fts(moments_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS moments_fts_update AFTER UPDATE OF content ON moments BEGIN
    INSERT INTO moments_fts(moments_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO moments_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`
