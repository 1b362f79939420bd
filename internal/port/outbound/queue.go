package outbound

import (
	"context"
	"time"

	"filesearch/internal/domain/entity"
)

// Delivery is a single in-flight work item leased from the queue. The item
// stays invisible to other consumers until the lease expires, the delivery is
// acknowledged, or it is released.
type Delivery interface {
	// Item returns the decoded work item payload.
	Item() *entity.WorkItem

	// MessageID returns the broker-assigned identifier for this delivery.
	MessageID() string

	// Attempt returns how many times this item has been delivered, starting
	// at 1 for the first delivery.
	Attempt() int

	// Ack permanently removes the item from the queue.
	Ack(ctx context.Context) error

	// Nak releases the item back to the queue for redelivery after delay.
	Nak(ctx context.Context, delay time.Duration) error

	// ExtendLease pushes out the redelivery deadline while work continues.
	ExtendLease(ctx context.Context) error

	// Terminate removes the item without counting it as processed; used when
	// the item has been handed off to the failure queue.
	Terminate(ctx context.Context) error
}

// Queue is the durable work queue feeding the pipeline.
type Queue interface {
	// Receive leases up to max items, blocking up to wait for at least one.
	// An empty slice with a nil error means the queue was empty.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)

	// Publish enqueues a work item.
	Publish(ctx context.Context, item *entity.WorkItem) error

	// Depth returns the number of items waiting for delivery.
	Depth(ctx context.Context) (uint64, error)

	// Ping verifies broker connectivity.
	Ping(ctx context.Context) error

	// Close releases broker resources.
	Close() error
}

// FailureDelivery is a failure record leased from the failure queue.
type FailureDelivery interface {
	Record() *entity.FailureRecord
	MessageID() string
	Ack(ctx context.Context) error
	Nak(ctx context.Context, delay time.Duration) error
}

// FailureQueue holds items that exhausted their delivery budget or failed
// permanently, together with enough context to triage them later.
type FailureQueue interface {
	// Publish records a failure.
	Publish(ctx context.Context, record *entity.FailureRecord) error

	// Receive leases up to max failure records, blocking up to wait.
	Receive(ctx context.Context, max int, wait time.Duration) ([]FailureDelivery, error)

	// Depth returns the number of failure records waiting.
	Depth(ctx context.Context) (uint64, error)
}
