package outbound

import (
	"context"
	"time"

	"filesearch/internal/domain/entity"
)

// SearchQuery describes one hybrid search request.
type SearchQuery struct {
	// Text is matched against extracted document text.
	Text string

	// Vector, when non-nil, adds a nearest-neighbor leg to the query.
	Vector []float32

	// Category, when non-empty, restricts results to one path category.
	Category string

	Limit int
}

// SearchResult is a single ranked hit.
type SearchResult struct {
	DocumentID string
	Locator    entity.Locator
	FileName   string
	Path       entity.PathMetadata
	Snippet    string
	Score      float64
}

// StaleDocument identifies a document whose processing started but never
// completed, with enough of the locator to rebuild a work item.
type StaleDocument struct {
	DocumentID string
	Locator    entity.Locator
}

// SearchIndex stores processed documents and serves hybrid queries over them.
type SearchIndex interface {
	// MarkProcessingStarted records that work on a document began, so the
	// stale-document sweep can find work that died mid-flight.
	MarkProcessingStarted(ctx context.Context, documentID string, loc entity.Locator) error

	// Upsert stores or replaces a document by its DocumentID. The call is
	// idempotent; replaying the same result converges to the same row.
	Upsert(ctx context.Context, result *entity.ProcessingResult) error

	// AttachVector adds or replaces the vector on an already indexed
	// document, used when embedding succeeds on a later attempt.
	AttachVector(ctx context.Context, documentID string, vector []float32) error

	// Query runs a hybrid keyword plus nearest-neighbor search.
	Query(ctx context.Context, q SearchQuery) ([]SearchResult, error)

	// StaleDocuments returns documents whose processing started before
	// cutoff but never completed.
	StaleDocuments(ctx context.Context, cutoff time.Time, limit int) ([]StaleDocument, error)

	// Dimensions returns the vector width the index is built for.
	Dimensions() int

	// Ping verifies the index is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}
