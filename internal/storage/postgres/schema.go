// Package postgres provides PostgreSQL implementations of storage interfaces.
package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. The moments table is the source of truth for memory; the
// behavioral tables are written by the surrounding service layer and
// only read here.
const Schema = `
-- Moments table: emotion-weighted memory rows
CREATE TABLE IF NOT EXISTS moments (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    content TEXT NOT NULL,
    emotion TEXT NOT NULL DEFAULT '',

    -- Voice measurements for the capture, when present (JSON)
    prosody JSONB,

    -- Unified embedding: semantic vector with the prosody sub-vector
    -- appended, packed as little-endian float32
    embedding BYTEA,

    -- Derived emotional metadata
    emotion_intensity REAL NOT NULL DEFAULT 0.5,
    context_weight REAL NOT NULL DEFAULT 1.0,
    ttl_days REAL NOT NULL DEFAULT 7,

    -- Lifecycle bookkeeping
    decayed BOOLEAN NOT NULL DEFAULT FALSE,
    indexed_at TIMESTAMP,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Relational contexts: one running aggregate per actor
CREATE TABLE IF NOT EXISTS relational_contexts (
    actor_id TEXT PRIMARY KEY,

    -- Deduplicated topic union (JSON array)
    topics JSONB,

    -- Running prosody mean, packed as little-endian float32
    emotion_mean BYTEA,

    trust REAL NOT NULL DEFAULT 0.5,
    resonance REAL NOT NULL DEFAULT 0.5,
    continuity REAL NOT NULL DEFAULT 0.5,

    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Signal scores: append-only scoring history
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

    -- Evidence counts and audit detail (JSON)
    metadata JSONB,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Behavioral evidence tables: owned by the companion service layer,
-- read by the scoring engine

CREATE TABLE IF NOT EXISTS daily_actions (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    description TEXT,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS referrals (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
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
    kind TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for performance

-- Per-actor timelines
CREATE INDEX IF NOT EXISTS idx_moments_actor_created ON moments(actor_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_moments_created_at ON moments(created_at);

-- Reconciler scans
CREATE INDEX IF NOT EXISTS idx_moments_unindexed ON moments(created_at) WHERE indexed_at IS NULL;

-- Lifecycle sweeps
CREATE INDEX IF NOT EXISTS idx_moments_decayed ON moments(decayed);

-- Score history reads
CREATE INDEX IF NOT EXISTS idx_scores_actor_created ON signal_scores(actor_id, created_at DESC);

-- Behavioral evidence reads
CREATE INDEX IF NOT EXISTS idx_actions_actor_created ON daily_actions(actor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_referrals_actor ON referrals(actor_id);
CREATE INDEX IF NOT EXISTS idx_goals_actor ON goals(actor_id);
CREATE INDEX IF NOT EXISTS idx_feed_events_actor_created ON feed_events(actor_id, created_at);
`

// MigrationFTS contains SQL to add full-text search support to the
// moments table. Uses PostgreSQL's built-in tsvector/GIN index approach.
// Safe to run multiple times (uses IF NOT EXISTS / conditional checks).
const MigrationFTS = `
-- Add tsvector column for full-text search if it doesn't already exist.
-- We use a regular tsvector column (not GENERATED ALWAYS AS) for maximum
-- compatibility across PostgreSQL versions.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'moments' AND column_name = 'content_tsv'
    ) THEN
        ALTER TABLE moments ADD COLUMN content_tsv tsvector;
    END IF;
END
$$;

-- Populate the tsvector column for any existing rows.
UPDATE moments SET content_tsv = to_tsvector('english', content) WHERE content_tsv IS NULL;

-- Create a GIN index for fast FTS queries.
CREATE INDEX IF NOT EXISTS idx_moments_content_tsv ON moments USING GIN(content_tsv);

-- Create trigger to auto-populate content_tsv on INSERT/UPDATE.
CREATE OR REPLACE FUNCTION moments_tsv_update()
RETURNS TRIGGER AS $$
BEGIN
    NEW.content_tsv := to_tsvector('english', COALESCE(NEW.content, ''));
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS moments_tsv_trigger ON moments;
CREATE TRIGGER moments_tsv_trigger
    BEFORE INSERT OR UPDATE OF content
    ON moments
    FOR EACH ROW
    EXECUTE FUNCTION moments_tsv_update();
`

// MigrationPgvector contains SQL to add the similarity index column to
// the moments table. This migration is only applied when the vector
// extension is available.
// Safe to run multiple times (uses IF NOT EXISTS / conditional checks).
const MigrationPgvector = `
-- Add embedding_vec column if it doesn't already exist.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'moments' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE moments ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

-- Create ivfflat index for approximate nearest-neighbor vector search.
-- Lists = 100 is a good default for up to ~1M vectors; tune upward for larger datasets.
-- IMPORTANT: ivfflat requires at least one row to exist; we guard with a DO block.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_moments_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM moments WHERE embedding_vec IS NOT NULL LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_moments_vec_cosine ON moments USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
