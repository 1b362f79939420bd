package outbound

import (
	"context"
	"fmt"
)

// EmbeddingError carries the structured failure detail returned by the
// embedding service, used by the failure classifier.
type EmbeddingError struct {
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *EmbeddingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("embedding %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("embedding %s: %s", e.Code, e.Message)
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

// EmbeddingService produces fixed-dimension vectors for image content.
type EmbeddingService interface {
	// EmbedImage returns a vector for the given image bytes. Errors are
	// *EmbeddingError where the service responded, raw transport errors
	// otherwise.
	EmbedImage(ctx context.Context, image []byte, contentType string) ([]float32, error)

	// Dimensions returns the vector width this service produces.
	Dimensions() int

	// Ping verifies the service is reachable.
	Ping(ctx context.Context) error
}
