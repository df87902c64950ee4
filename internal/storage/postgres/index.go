package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/haven-health/keepsake/internal/index"
	"github.com/haven-health/keepsake/internal/storage"
)

var (
	_ storage.Store = (*Store)(nil)
	_ index.Index   = (*Store)(nil)
)

// Upsert writes the moment's vector into the pgvector column. The row
// must already exist in the moments table; a row deleted between
// capture and sync is not an error.
func (s *Store) Upsert(ctx context.Context, entry index.Entry) error {
	if !s.pgvectorAvailable {
		return index.ErrUnavailable
	}
	if entry.ID == "" || len(entry.Vector) == 0 {
		return fmt.Errorf("%w: index entry requires an ID and a vector", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx,
		"UPDATE moments SET embedding_vec = $1::vector WHERE id = $2",
		pgvector.NewVector(entry.Vector), entry.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to index vector: %w", err)
	}
	return nil
}

// Query returns the nearest moments by cosine distance, most similar
// first.
func (s *Store) Query(ctx context.Context, vec []float32, limit int, filter index.Filter) ([]index.Candidate, error) {
	if !s.pgvectorAvailable {
		return nil, index.ErrUnavailable
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 10
	}

	conditions := []string{"embedding_vec IS NOT NULL"}
	args := []interface{}{pgvector.NewVector(vec)}

	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, 1 - (embedding_vec <=> $1::vector) AS similarity
		FROM moments
		WHERE %s
		ORDER BY embedding_vec <=> $1::vector
		LIMIT $%d`,
		strings.Join(conditions, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector query failed: %w", err)
	}
	defer rows.Close()

	var out []index.Candidate
	for rows.Next() {
		var c index.Candidate
		if err := rows.Scan(&c.ID, &c.Similarity); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating candidates: %w", err)
	}
	return out, nil
}

// Delete clears the moment's vector. Unknown IDs are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !s.pgvectorAvailable {
		return nil
	}
	if id == "" {
		return fmt.Errorf("%w: moment ID is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, "UPDATE moments SET embedding_vec = NULL WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete vector: %w", err)
	}
	return nil
}
