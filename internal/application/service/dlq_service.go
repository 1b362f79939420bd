package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/inbound"
	"filesearch/internal/port/outbound"
)

// deferDelay is how long a too-recent record waits before the next look.
const deferDelay = time.Minute

// DLQService triages failure records. Transient failures that have not
// exhausted their requeue budget go back on the work queue; everything else
// is archived to the object store as a JSON document for offline analysis.
// When given an index it also sweeps documents that started processing but
// never committed, putting them back on the work queue.
type DLQService struct {
	cfg           config.ReprocessorConfig
	failures      outbound.FailureQueue
	queue         outbound.Queue
	store         outbound.ObjectStore
	index         outbound.SearchIndex
	archiveBucket string
	dryRun        bool
}

func NewDLQService(
	cfg config.ReprocessorConfig,
	failures outbound.FailureQueue,
	queue outbound.Queue,
	store outbound.ObjectStore,
	index outbound.SearchIndex,
	archiveBucket string,
	dryRun bool,
) *DLQService {
	return &DLQService{
		cfg:           cfg,
		failures:      failures,
		queue:         queue,
		store:         store,
		index:         index,
		archiveBucket: archiveBucket,
		dryRun:        dryRun,
	}
}

// RunOnce drains one batch and returns the summary.
func (s *DLQService) RunOnce(ctx context.Context) (*inbound.ReprocessSummary, error) {
	summary := &inbound.ReprocessSummary{DryRun: s.dryRun}

	deliveries, err := s.failures.Receive(ctx, s.cfg.BatchSize, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to receive failure records: %w", err)
	}

	for _, d := range deliveries {
		summary.Examined++
		if err := s.triage(ctx, d, summary); err != nil {
			summary.Failures = append(summary.Failures, err.Error())
		}
	}

	s.sweepStale(ctx, summary)

	if depth, err := s.failures.Depth(ctx); err == nil {
		summary.Remaining = depth
	}

	slogger.Info(ctx, "Reprocessing pass complete", slogger.Fields{
		"examined":       summary.Examined,
		"requeued":       summary.Requeued,
		"archived":       summary.Archived,
		"deferred":       summary.Deferred,
		"stale_requeued": summary.StaleRequeued,
		"errors":         len(summary.Failures),
		"remaining":      summary.Remaining,
		"dry_run":        summary.DryRun,
	})
	return summary, nil
}

// sweepStale requeues documents that began processing before the stale cutoff
// and never committed: work that died with its worker after the queue already
// gave up on the delivery. MarkProcessingStarted refreshes the start stamp on
// redelivery, so a requeued document does not come back stale next pass.
func (s *DLQService) sweepStale(ctx context.Context, summary *inbound.ReprocessSummary) {
	if s.index == nil || s.cfg.StaleAfter <= 0 {
		return
	}

	cutoff := time.Now().Add(-s.cfg.StaleAfter)
	stale, err := s.index.StaleDocuments(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		summary.Failures = append(summary.Failures, fmt.Sprintf("stale sweep failed: %v", err))
		return
	}

	for _, doc := range stale {
		if s.dryRun {
			summary.StaleRequeued++
			slogger.Info(ctx, "Would requeue stale document", slogger.Fields2(
				"document_id", doc.DocumentID,
				"locator", doc.Locator.String(),
			))
			continue
		}

		item := entity.WorkItem{Locator: doc.Locator, EnqueuedAt: time.Now().UTC()}
		if err := s.queue.Publish(ctx, &item); err != nil {
			summary.Failures = append(summary.Failures,
				fmt.Sprintf("stale requeue of %s failed: %v", doc.DocumentID, err))
			continue
		}
		summary.StaleRequeued++
	}
}

func (s *DLQService) triage(ctx context.Context, d outbound.FailureDelivery, summary *inbound.ReprocessSummary) error {
	record := d.Record()
	fields := slogger.Fields3(
		"record_id", record.ID,
		"locator", record.Item.Locator.String(),
		"classification", string(record.Classification),
	)

	// A failure this fresh is probably still failing; give the outage time
	// to clear before burning a requeue.
	if age := time.Since(record.FailedAt); age < s.cfg.MinFailureAge {
		summary.Deferred++
		slogger.Debug(ctx, "Failure too recent, deferring", fields)
		return d.Nak(ctx, s.cfg.MinFailureAge-age)
	}

	if record.Classification == entity.FailurePermanent || record.ExceededRequeueCap() {
		return s.archive(ctx, d, record, summary, fields)
	}
	return s.requeue(ctx, d, record, summary, fields)
}

func (s *DLQService) requeue(ctx context.Context, d outbound.FailureDelivery, record *entity.FailureRecord, summary *inbound.ReprocessSummary, fields slogger.Fields) error {
	if s.dryRun {
		summary.Requeued++
		slogger.Info(ctx, "Would requeue failure record", fields)
		return d.Nak(ctx, deferDelay)
	}

	// The consumed requeue rides the item itself, so a later failure
	// produces a record that remembers how many chances it already had.
	item := record.Item
	item.RequeueCount = record.RequeueCount + 1
	item.EnqueuedAt = time.Now().UTC()

	if err := s.queue.Publish(ctx, &item); err != nil {
		// Leave the record in place for the next pass.
		if nakErr := d.Nak(ctx, deferDelay); nakErr != nil {
			slogger.ErrorWithError(ctx, nakErr, "Failed to release failure record", fields)
		}
		return fmt.Errorf("requeue of %s failed: %w", record.ID, err)
	}

	summary.Requeued++
	slogger.Info(ctx, "Requeued failure record", fields)
	return d.Ack(ctx)
}

func (s *DLQService) archive(ctx context.Context, d outbound.FailureDelivery, record *entity.FailureRecord, summary *inbound.ReprocessSummary, fields slogger.Fields) error {
	loc := entity.Locator{
		Bucket: s.archiveBucket,
		Key:    s.archiveKey(record),
	}

	if s.dryRun {
		summary.Archived++
		fields["archive"] = loc.String()
		slogger.Info(ctx, "Would archive failure record", fields)
		return d.Nak(ctx, deferDelay)
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record %s for archive: %w", record.ID, err)
	}

	if err := s.store.Put(ctx, loc, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		if nakErr := d.Nak(ctx, deferDelay); nakErr != nil {
			slogger.ErrorWithError(ctx, nakErr, "Failed to release failure record", fields)
		}
		return fmt.Errorf("archive of %s failed: %w", record.ID, err)
	}

	summary.Archived++
	fields["archive"] = loc.String()
	slogger.Info(ctx, "Archived failure record", fields)
	return d.Ack(ctx)
}

// archiveKey shards the archive by failure date so listing stays cheap.
func (s *DLQService) archiveKey(record *entity.FailureRecord) string {
	t := record.FailedAt.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s.json",
		s.cfg.ArchivePrefix, t.Year(), t.Month(), t.Day(), record.ID)
}
