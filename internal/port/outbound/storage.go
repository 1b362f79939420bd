package outbound

import (
	"context"
	"io"
	"time"

	"filesearch/internal/domain/entity"
)

// ObjectInfo describes a stored object without its content.
type ObjectInfo struct {
	Locator      entity.Locator
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// ObjectStore reads source files and writes archival artifacts.
type ObjectStore interface {
	// Open returns a reader for the object's content. The caller must close
	// the reader. Returns entity.ErrObjectNotFound when the object is gone.
	Open(ctx context.Context, loc entity.Locator) (io.ReadCloser, error)

	// Stat returns object metadata without fetching the content.
	Stat(ctx context.Context, loc entity.Locator) (*ObjectInfo, error)

	// Put writes an object.
	Put(ctx context.Context, loc entity.Locator, r io.Reader, size int64, contentType string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
