package inbound

import (
	"context"
	"errors"

	"filesearch/internal/port/outbound"
)

// ErrQuarantined wraps a processing failure that was fully handled: a
// failure record exists and the item has left the work stream. It marks a
// local disposition, not a systemic fault.
var ErrQuarantined = errors.New("item quarantined to failure queue")

// ItemProcessor handles one leased work item end to end: fetch, extract,
// embed, index, acknowledge. Failures the processor disposed of itself come
// back wrapped in ErrQuarantined.
type ItemProcessor interface {
	Process(ctx context.Context, delivery outbound.Delivery) error
}

// WorkerService runs the receive loop until the context is canceled.
type WorkerService interface {
	// Run blocks, leasing batches and dispatching them to the processor.
	// It returns nil on clean shutdown and the fatal error otherwise.
	Run(ctx context.Context) error

	// Drain stops leasing new work and waits for in-flight items to finish,
	// up to the context deadline.
	Drain(ctx context.Context) error

	// Stats reports current loop counters.
	Stats() WorkerStats
}

// WorkerStats is a point-in-time snapshot of the worker loop.
type WorkerStats struct {
	Processed           uint64
	Failed              uint64
	ConsecutiveFailures uint64
	InFlight            int
}

// Reprocessor triages failure records: requeue what might succeed, archive
// what will not.
type Reprocessor interface {
	// RunOnce drains one batch from the failure queue and returns a summary.
	RunOnce(ctx context.Context) (*ReprocessSummary, error)
}

// ReprocessSummary reports the outcome of one reprocessing pass.
type ReprocessSummary struct {
	Examined      int
	Requeued      int
	Archived      int
	Deferred      int
	StaleRequeued int
	Failures      []string
	DryRun        bool
	Remaining     uint64
}

// Searcher serves hybrid queries; implemented by the search service.
type Searcher interface {
	Search(ctx context.Context, q outbound.SearchQuery) ([]outbound.SearchResult, error)
}
