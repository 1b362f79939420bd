package outbound

import (
	"context"
	"io"

	"filesearch/internal/domain/entity"
)

// ExtractionResult is the text yield of a single file.
type ExtractionResult struct {
	Text          string
	PageCount     int
	CharCount     int
	OCRConfidence float64
	Extractor     string
}

// TextExtractor converts one class of file content into indexable text.
type TextExtractor interface {
	// Name identifies the extractor in logs and stored results.
	Name() string

	// Supports reports whether this extractor handles the given file,
	// judged by extension and content type.
	Supports(loc entity.Locator, contentType string) bool

	// Extract reads the file content and produces text. Implementations
	// wrap entity.ErrCorruptContent when the content cannot be parsed.
	Extract(ctx context.Context, loc entity.Locator, r io.Reader, size int64) (*ExtractionResult, error)
}
