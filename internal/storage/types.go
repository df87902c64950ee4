package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested row was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// PaginatedResult is a paginated result set.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination and filtering for moment listings.
type ListOptions struct {
	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 50, max: 500).
	Limit int

	// SortBy is the sort field; whitelisted in Normalize.
	SortBy string

	// SortOrder is "asc" or "desc" (default: "desc").
	SortOrder string

	// ActorID restricts results to one actor. Empty means all actors.
	ActorID string

	// CreatedAfter filters to moments created strictly after this time.
	// Zero value means no lower bound.
	CreatedAfter time.Time

	// CreatedBefore filters to moments created strictly before this
	// time. Zero value means no upper bound.
	CreatedBefore time.Time
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	// Whitelist validation for SortBy to prevent SQL injection.
	allowedSortFields := map[string]bool{
		"created_at":        true,
		"emotion_intensity": true,
		"ttl_days":          true,
		"context_weight":    true,
	}

	if !allowedSortFields[o.SortBy] {
		o.SortBy = "created_at"
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}

	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = 50
	}

	if o.Limit > 500 {
		o.Limit = 500
	}
}

// Offset calculates the SQL offset for the current page.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// LifecycleCounts summarizes the retention state of the moment set.
type LifecycleCounts struct {
	// Total is the number of stored moments.
	Total int

	// DecayEligible counts moments older than their TTL.
	DecayEligible int

	// CleanupEligible counts moments older than TTL times the grace
	// multiplier passed to the query.
	CleanupEligible int

	// MeanIntensity is the average emotion intensity, 0 when empty.
	MeanIntensity float64

	// MeanTTLDays is the average retention window, 0 when empty.
	MeanTTLDays float64

	// OldestCreatedAt is the creation time of the oldest moment, nil
	// when the store is empty.
	OldestCreatedAt *time.Time
}
