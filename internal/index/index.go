// Package index defines the vector index abstraction used for
// similarity retrieval. The index holds only IDs and vectors; moments
// themselves live in the primary store and are hydrated after a
// query, so a lost or stale index degrades retrieval quality without
// losing data.
package index

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the index backend cannot serve vector
// operations right now. Retrieval falls back to keyword matching.
var ErrUnavailable = errors.New("vector index unavailable")

// Entry is one indexed moment vector.
type Entry struct {
	ID      string
	ActorID string
	Vector  []float32
}

// Filter narrows a query to one actor's moments.
type Filter struct {
	ActorID string
}

// Candidate is a query hit, ordered most similar first.
type Candidate struct {
	ID         string
	Similarity float64
}

// Index stores and queries moment vectors.
type Index interface {
	// Upsert inserts or replaces an entry by ID.
	Upsert(ctx context.Context, entry Entry) error

	// Query returns up to limit candidates nearest to vec, most
	// similar first.
	Query(ctx context.Context, vec []float32, limit int, filter Filter) ([]Candidate, error)

	// Delete removes an entry. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error
}
