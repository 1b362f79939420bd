package entity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// FailureClass categorizes why a WorkItem could not be processed.
type FailureClass string

const (
	// FailureTransient marks errors expected to clear on their own
	// (timeouts, throttling, temporary service unavailability).
	FailureTransient FailureClass = "transient"
	// FailurePermanent marks errors that will never succeed on retry
	// (corrupt files, unsupported formats, schema mismatches).
	FailurePermanent FailureClass = "permanent"
	// FailureUnknown marks errors the classification table cannot place.
	FailureUnknown FailureClass = "unknown"
)

// RequeueCap returns the maximum number of reprocessor requeues allowed for
// the class. Unknown errors get one extra chance rather than silently losing
// data, but a much smaller budget than classified-transient errors.
func (c FailureClass) RequeueCap() int {
	switch c {
	case FailureTransient:
		return 3
	case FailureUnknown:
		return 1
	default:
		return 0
	}
}

// FailureRecord is a WorkItem plus the reason it left the main flow. Records
// live on the failure queue until the reprocessor either requeues the item or
// archives the record.
type FailureRecord struct {
	ID                string       `json:"id"`
	Item              WorkItem     `json:"item"`
	Classification    FailureClass `json:"classification"`
	RequeueCount      int          `json:"requeue_count"`
	LastError         string       `json:"last_error"`
	OriginalMessageID string       `json:"original_message_id,omitempty"`
	FailedAt          time.Time    `json:"failed_at"`
	ReprocessedAt     time.Time    `json:"reprocessed_at,omitempty"`
}

// NewFailureRecord builds a failure record for an item that exhausted its
// local retry budget.
func NewFailureRecord(item WorkItem, class FailureClass, lastError string) FailureRecord {
	return FailureRecord{
		ID:             uuid.NewString(),
		Item:           item,
		Classification: class,
		RequeueCount:   item.RequeueCount,
		LastError:      lastError,
		FailedAt:       time.Now().UTC(),
	}
}

// Validate checks required failure record fields.
func (f FailureRecord) Validate() error {
	if f.ID == "" {
		return errors.New("failure record id cannot be empty")
	}
	if f.LastError == "" {
		return errors.New("failure record last error cannot be empty")
	}
	return f.Item.Validate()
}

// ExceededRequeueCap reports whether the record has used up the requeue
// budget for its classification.
func (f FailureRecord) ExceededRequeueCap() bool {
	return f.RequeueCount >= f.Classification.RequeueCap()
}
