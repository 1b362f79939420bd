package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Locator identifies an object in the file store.
type Locator struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// String returns the canonical s3-style URL for the locator.
func (l Locator) String() string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key)
}

// Validate checks that the locator is usable.
func (l Locator) Validate() error {
	if l.Bucket == "" {
		return errors.New("locator bucket cannot be empty")
	}
	if l.Key == "" {
		return errors.New("locator key cannot be empty")
	}
	return nil
}

// Extension returns the lower-cased file extension of the key, including the dot.
func (l Locator) Extension() string {
	return strings.ToLower(path.Ext(l.Key))
}

// WorkItem is a queued reference to one file awaiting processing. Messages are
// immutable; state transitions are modeled as delete-and-requeue, so mutations
// here only ever happen on copies bound for republication.
type WorkItem struct {
	Locator     Locator   `json:"locator"`
	ETag        string    `json:"etag,omitempty"`
	Size        int64     `json:"size,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at,omitempty"`

	// RequeueCount tracks how many times the item has been replayed from the
	// failure queue. It rides the item so the count survives the round trip.
	RequeueCount int `json:"requeue_count,omitempty"`
}

// Validate checks required work item fields.
func (w WorkItem) Validate() error {
	return w.Locator.Validate()
}

// DocumentID derives the stable index document id for the item. The id is the
// hex sha256 of the canonical locator, so reprocessing the same file always
// writes the same document.
func (w WorkItem) DocumentID() string {
	sum := sha256.Sum256([]byte(w.Locator.String()))
	return hex.EncodeToString(sum[:])
}
