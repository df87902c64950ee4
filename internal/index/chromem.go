package index

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "moments"

// ChromemIndex is an embedded, pure-Go vector index. With an empty
// path it lives in memory and is rebuilt from the primary store by
// reconciliation on startup; with a path it persists to disk.
//
// All moments share one collection and queries filter on the actor_id
// metadata key, which keeps delete-by-ID possible.
type ChromemIndex struct {
	db  *chromem.DB
	col *chromem.Collection
}

// NewChromemIndex opens (or creates) the index.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector index at %s: %w", path, err)
		}
	}

	// Embeddings are always supplied by the caller, so no embedding
	// function is registered.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	return &ChromemIndex{db: db, col: col}, nil
}

// Upsert inserts or replaces the entry. chromem keys documents by ID,
// so re-adding overwrites.
func (x *ChromemIndex) Upsert(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("entry ID is required")
	}
	doc := chromem.Document{
		ID:        entry.ID,
		Content:   entry.ID,
		Embedding: entry.Vector,
		Metadata:  map[string]string{"actor_id": entry.ActorID},
	}
	if err := x.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to index moment %s: %w", entry.ID, err)
	}
	return nil
}

// Query returns the nearest candidates for vec, scoped to the filter's
// actor when set.
func (x *ChromemIndex) Query(ctx context.Context, vec []float32, limit int, filter Filter) ([]Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	// chromem rejects nResults above the collection size.
	if count := x.col.Count(); count < limit {
		if count == 0 {
			return nil, nil
		}
		limit = count
	}

	var where map[string]string
	if filter.ActorID != "" {
		where = map[string]string{"actor_id": filter.ActorID}
	}

	results, err := x.col.QueryEmbedding(ctx, vec, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, Candidate{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return candidates, nil
}

// Delete removes the entry. Unknown IDs are a no-op.
func (x *ChromemIndex) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := x.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to remove moment %s from index: %w", id, err)
	}
	return nil
}

// Count reports the number of indexed entries.
func (x *ChromemIndex) Count() int {
	return x.col.Count()
}

var _ Index = (*ChromemIndex)(nil)
