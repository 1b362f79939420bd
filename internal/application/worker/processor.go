// Package worker contains the processing loop and the per-item pipeline:
// fetch the object, extract text, embed images, commit to the search index,
// and only then acknowledge the delivery.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"filesearch/internal/adapter/outbound/extractor"
	"filesearch/internal/application/classify"
	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/inbound"
	"filesearch/internal/port/outbound"
)

// OutcomeRecorder receives per-item telemetry.
type OutcomeRecorder interface {
	RecordItem(ctx context.Context, elapsed time.Duration, extractor string, err error)
}

// Processor handles one work item end to end.
type Processor struct {
	store      outbound.ObjectStore
	registry   *extractor.Registry
	embedder   outbound.EmbeddingService
	index      outbound.SearchIndex
	failures   outbound.FailureQueue
	classifier *classify.Classifier

	extraction config.ExtractionConfig
	worker     config.WorkerConfig
	maxDeliver int
	recorder   OutcomeRecorder
}

// WithRecorder attaches telemetry; a nil recorder disables it.
func (p *Processor) WithRecorder(r OutcomeRecorder) *Processor {
	p.recorder = r
	return p
}

// NewProcessor wires the pipeline stages together.
func NewProcessor(
	store outbound.ObjectStore,
	registry *extractor.Registry,
	embedder outbound.EmbeddingService,
	index outbound.SearchIndex,
	failures outbound.FailureQueue,
	classifier *classify.Classifier,
	extraction config.ExtractionConfig,
	workerCfg config.WorkerConfig,
	maxDeliver int,
) *Processor {
	return &Processor{
		store:      store,
		registry:   registry,
		embedder:   embedder,
		index:      index,
		failures:   failures,
		classifier: classifier,
		extraction: extraction,
		worker:     workerCfg,
		maxDeliver: maxDeliver,
	}
}

// Process runs the pipeline for one delivery. The delivery is always
// disposed of before returning: acknowledged on success or permanent
// failure, released for redelivery on transient failure with budget left.
func (p *Processor) Process(ctx context.Context, delivery outbound.Delivery) error {
	ctx, cancel := context.WithTimeout(ctx, p.worker.ItemTimeout)
	defer cancel()

	item := delivery.Item()
	docID := item.DocumentID()
	started := time.Now()

	fields := slogger.Fields3(
		"locator", item.Locator.String(),
		"document_id", docID,
		"attempt", delivery.Attempt(),
	)
	slogger.Info(ctx, "Processing work item", fields)

	// Keep the lease alive while the pipeline runs.
	stopHeartbeat := p.startHeartbeat(ctx, delivery)
	defer stopHeartbeat()

	result, content, err := p.buildResult(ctx, item, docID)
	if err != nil {
		p.record(ctx, started, "", err)
		return p.dispose(ctx, delivery, err)
	}

	if err := p.index.Upsert(ctx, result); err != nil {
		err = fmt.Errorf("index commit failed: %w", err)
		p.record(ctx, started, result.ProcessorName, err)
		return p.dispose(ctx, delivery, err)
	}

	// The text is durable at this point; the vector rides in as a partial
	// update so an embedding outage cannot cost the keyword index anything.
	if content != nil && extractor.IsImage(item.Locator, result.ContentType) {
		p.embed(ctx, result, content)
	}
	p.record(ctx, started, result.ProcessorName, nil)

	// The document is durable; only now may the item leave the queue.
	if err := delivery.Ack(ctx); err != nil {
		// The next delivery replays into the same row, so this is noisy
		// but harmless.
		slogger.ErrorWithError(ctx, err, "Ack failed after successful commit", fields)
		return err
	}

	slogger.Info(ctx, "Work item processed", slogger.Fields{
		"locator":     item.Locator.String(),
		"document_id": docID,
		"extractor":   result.ProcessorName,
		"chars":       result.CharCount,
		"has_vector":  result.HasVector,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return nil
}

// buildResult runs extraction and assembles the document. It returns the file
// content alongside so the caller can embed image bytes after the text commit;
// content is nil when the file was too large to read.
func (p *Processor) buildResult(ctx context.Context, item *entity.WorkItem, docID string) (*entity.ProcessingResult, []byte, error) {
	if err := p.index.MarkProcessingStarted(ctx, docID, item.Locator); err != nil {
		return nil, nil, fmt.Errorf("failed to mark processing start: %w", err)
	}

	info, err := p.store.Stat(ctx, item.Locator)
	if err != nil {
		return nil, nil, err
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = item.ContentType
	}

	result := &entity.ProcessingResult{
		DocumentID:  docID,
		Locator:     item.Locator,
		FileName:    path.Base(item.Locator.Key),
		ContentType: contentType,
		FileSize:    info.Size,
		Path:        entity.ExtractPathMetadata(item.Locator.Key),
		ProcessedAt: time.Now().UTC(),
	}

	oversize := info.Size > p.extraction.MaxFileSize
	if oversize {
		// Too big to read; index by name and path only.
		slogger.Warn(ctx, "File exceeds size cap, indexing metadata only", slogger.Fields2(
			"locator", item.Locator.String(),
			"size", info.Size,
		))
		meta, err := extractor.NewMetadataExtractor().Extract(ctx, item.Locator, nil, info.Size)
		if err != nil {
			return nil, nil, err
		}
		applyExtraction(result, meta)
		return result, nil, nil
	}

	content, err := p.readContent(ctx, item.Locator)
	if err != nil {
		return nil, nil, err
	}

	ex := p.registry.Route(item.Locator, contentType)
	extracted, err := ex.Extract(ctx, item.Locator, bytes.NewReader(content), info.Size)
	if err != nil {
		return nil, nil, err
	}
	applyExtraction(result, extracted)
	return result, content, nil
}

// embed attaches a vector when the service cooperates. Embedding failures
// never fail the item: the text is already committed and the vector column
// stays empty for a later pass.
func (p *Processor) embed(ctx context.Context, result *entity.ProcessingResult, content []byte) {
	vector, err := p.embedder.EmbedImage(ctx, content, result.ContentType)
	if err != nil {
		slogger.Warn(ctx, "Embedding failed, document indexed without vector", slogger.Fields2(
			"locator", result.Locator.String(),
			"error", err.Error(),
		))
		return
	}
	if err := p.index.AttachVector(ctx, result.DocumentID, vector); err != nil {
		slogger.Warn(ctx, "Vector attach failed, document indexed without vector", slogger.Fields2(
			"locator", result.Locator.String(),
			"error", err.Error(),
		))
		return
	}
	result.Vector = vector
	result.HasVector = true
}

func (p *Processor) readContent(ctx context.Context, loc entity.Locator) ([]byte, error) {
	r, err := p.store.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content, err := io.ReadAll(io.LimitReader(r, p.extraction.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", loc, err)
	}
	if int64(len(content)) > p.extraction.MaxFileSize {
		return nil, fmt.Errorf("%w: %s grew past the size cap mid-read", entity.ErrFileTooLarge, loc)
	}
	return content, nil
}

// dispose routes a failed item: transient failures with budget left go back
// on the queue, everything else becomes a failure record and leaves the work
// stream. Nothing is lost silently.
func (p *Processor) dispose(ctx context.Context, delivery outbound.Delivery, procErr error) error {
	item := delivery.Item()
	class := p.classifier.Classify(procErr)
	exhausted := delivery.Attempt() >= p.maxDeliver

	fields := slogger.Fields{
		"locator":        item.Locator.String(),
		"attempt":        delivery.Attempt(),
		"classification": string(class),
		"error":          procErr.Error(),
	}

	if class == entity.FailureTransient && !exhausted {
		slogger.Warn(ctx, "Transient failure, releasing for redelivery", fields)
		if err := delivery.Nak(ctx, p.worker.IdleBackoff); err != nil {
			slogger.ErrorWithError(ctx, err, "Failed to release item", fields)
		}
		return procErr
	}

	record := entity.NewFailureRecord(*item, class, procErr.Error())
	record.OriginalMessageID = delivery.MessageID()
	if err := p.failures.Publish(ctx, &record); err != nil {
		// Keep the item on the work stream rather than lose it.
		slogger.ErrorWithError(ctx, err, "Failed to record failure, releasing item", fields)
		if nakErr := delivery.Nak(ctx, p.worker.IdleBackoff); nakErr != nil {
			slogger.ErrorWithError(ctx, nakErr, "Failed to release item", fields)
		}
		return procErr
	}

	slogger.Error(ctx, "Item moved to failure queue", fields)
	if err := delivery.Terminate(ctx); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to remove item after failure handoff", fields)
	}
	return fmt.Errorf("%w: %w", inbound.ErrQuarantined, procErr)
}

func (p *Processor) record(ctx context.Context, started time.Time, extractorName string, err error) {
	if p.recorder == nil {
		return
	}
	p.recorder.RecordItem(ctx, time.Since(started), extractorName, err)
}

func (p *Processor) startHeartbeat(ctx context.Context, delivery outbound.Delivery) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.worker.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := delivery.ExtendLease(hbCtx); err != nil {
					slogger.Warn(hbCtx, "Lease extension failed", slogger.Fields{
						"message_id": delivery.MessageID(),
						"error":      err.Error(),
					})
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func applyExtraction(result *entity.ProcessingResult, ex *outbound.ExtractionResult) {
	result.ExtractedText = ex.Text
	result.PageCount = ex.PageCount
	result.CharCount = ex.CharCount
	result.OCRConfidence = ex.OCRConfidence
	result.ProcessorName = ex.Extractor
}
