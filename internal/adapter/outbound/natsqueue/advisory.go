package natsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/domain/entity"
)

const maxDeliverAdvisoryPrefix = "$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES"

// maxDeliverAdvisory is the JetStream advisory emitted when a message runs
// out of deliveries.
type maxDeliverAdvisory struct {
	Stream     string `json:"stream"`
	Consumer   string `json:"consumer"`
	StreamSeq  uint64 `json:"stream_seq"`
	Deliveries int    `json:"deliveries"`
}

// ExhaustionMonitor turns max-deliveries advisories into failure records.
// JetStream has no native dead-letter routing: an item whose worker died
// mid-attempt on every delivery never reaches the explicit failure handoff
// and would otherwise sit in the stream undeliverable. The advisory is the
// only signal that happened, so the monitor listens for it, records the
// failure, and removes the stranded message.
type ExhaustionMonitor struct {
	queue    *Queue
	failures *FailureQueue
	sub      *nats.Subscription
}

// NewExhaustionMonitor subscribes to the work consumer's max-deliveries
// advisories on the queue's connection.
func NewExhaustionMonitor(q *Queue, failures *FailureQueue) (*ExhaustionMonitor, error) {
	m := &ExhaustionMonitor{queue: q, failures: failures}

	subject := advisorySubject(q.cfg.Stream, q.cfg.Consumer)
	sub, err := q.conn.Subscribe(subject, m.handle)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	m.sub = sub
	return m, nil
}

func advisorySubject(stream, consumer string) string {
	return fmt.Sprintf("%s.%s.%s", maxDeliverAdvisoryPrefix, stream, consumer)
}

func (m *ExhaustionMonitor) handle(msg *nats.Msg) {
	ctx := context.Background()

	var adv maxDeliverAdvisory
	if err := json.Unmarshal(msg.Data, &adv); err != nil {
		slogger.ErrorWithError(ctx, err, "Undecodable max-deliveries advisory", slogger.Fields{
			"subject": msg.Subject,
		})
		return
	}

	raw, err := m.queue.js.GetMsg(adv.Stream, adv.StreamSeq)
	if errors.Is(err, nats.ErrMsgNotFound) {
		// Already acked, termed, or swept; nothing stranded.
		return
	}
	if err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to look up exhausted message", slogger.Fields2(
			"stream", adv.Stream,
			"stream_seq", adv.StreamSeq,
		))
		return
	}

	record, err := exhaustionRecord(adv, raw.Data)
	if err != nil {
		// Undecodable payloads carry nothing worth archiving.
		slogger.ErrorWithError(ctx, err, "Deleting undecodable exhausted message", slogger.Fields2(
			"stream", adv.Stream,
			"stream_seq", adv.StreamSeq,
		))
		_ = m.queue.js.DeleteMsg(adv.Stream, adv.StreamSeq)
		return
	}

	if err := m.failures.Publish(ctx, record); err != nil {
		// Leave the message in place; the stale sweep still covers it.
		slogger.ErrorWithError(ctx, err, "Failed to record exhausted item", slogger.Fields{
			"locator": record.Item.Locator.String(),
		})
		return
	}
	if err := m.queue.js.DeleteMsg(adv.Stream, adv.StreamSeq); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to remove exhausted message", slogger.Fields2(
			"stream", adv.Stream,
			"stream_seq", adv.StreamSeq,
		))
		return
	}

	slogger.Warn(ctx, "Exhausted item moved to failure queue", slogger.Fields3(
		"locator", record.Item.Locator.String(),
		"deliveries", adv.Deliveries,
		"stream_seq", adv.StreamSeq,
	))
}

// exhaustionRecord builds the failure record for a stranded work item. The
// cause is unknown by definition: every attempt died before reporting one.
func exhaustionRecord(adv maxDeliverAdvisory, payload []byte) (*entity.FailureRecord, error) {
	var item entity.WorkItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, fmt.Errorf("failed to decode exhausted work item: %w", err)
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("exhausted work item failed validation: %w", err)
	}

	record := entity.NewFailureRecord(item, entity.FailureUnknown,
		fmt.Sprintf("delivery budget exhausted after %d attempts without a completed disposition", adv.Deliveries))
	record.OriginalMessageID = fmt.Sprintf("%s:%d", adv.Stream, adv.StreamSeq)
	return &record, nil
}

// Close unsubscribes from the advisory subject.
func (m *ExhaustionMonitor) Close() error {
	return m.sub.Unsubscribe()
}
