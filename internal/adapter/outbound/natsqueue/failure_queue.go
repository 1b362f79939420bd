package natsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

const failureConsumerSuffix = "-dlq"

// FailureQueue is the JetStream stream holding failure records. Records stay
// on the stream until the reprocessor acknowledges them, after requeueing or
// archiving.
type FailureQueue struct {
	cfg config.QueueConfig
	js  nats.JetStreamContext
	sub *nats.Subscription
}

// NewFailureQueue provisions the failure stream and consumer on an existing
// queue connection.
func NewFailureQueue(_ context.Context, q *Queue) (*FailureQueue, error) {
	fq := &FailureQueue{cfg: q.cfg, js: q.js}

	_, err := fq.js.StreamInfo(fq.cfg.DLQStream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = fq.js.AddStream(&nats.StreamConfig{
			Name:      fq.cfg.DLQStream,
			Subjects:  []string{fq.cfg.DLQSubject},
			Storage:   nats.FileStorage,
			Retention: nats.WorkQueuePolicy,
		})
		if err == nil {
			slogger.InfoNoCtx("Created failure queue stream", slogger.Fields{
				"stream": fq.cfg.DLQStream,
			})
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to provision failure stream %s: %w", fq.cfg.DLQStream, err)
	}

	sub, err := fq.js.PullSubscribe(fq.cfg.DLQSubject, fq.cfg.Consumer+failureConsumerSuffix,
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(fq.cfg.AckWait),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failure consumer: %w", err)
	}
	fq.sub = sub

	return fq, nil
}

// Publish records a failure on the failure stream.
func (fq *FailureQueue) Publish(ctx context.Context, record *entity.FailureRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("refusing to publish invalid failure record: %w", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode failure record: %w", err)
	}
	if _, err := fq.js.Publish(fq.cfg.DLQSubject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish failure record %s: %w", record.ID, err)
	}
	return nil
}

// Receive leases up to max failure records.
func (fq *FailureQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]outbound.FailureDelivery, error) {
	msgs, err := fq.sub.Fetch(max, nats.MaxWait(wait), nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch from failure queue: %w", err)
	}

	deliveries := make([]outbound.FailureDelivery, 0, len(msgs))
	for _, msg := range msgs {
		var record entity.FailureRecord
		if err := json.Unmarshal(msg.Data, &record); err != nil {
			slogger.ErrorWithError(ctx, err, "Dropping undecodable failure record", nil)
			_ = msg.Term()
			continue
		}
		meta, err := msg.Metadata()
		if err != nil {
			_ = msg.Term()
			continue
		}
		deliveries = append(deliveries, &failureDelivery{
			msg:      msg,
			record:   &record,
			streamID: fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream),
		})
	}
	return deliveries, nil
}

// Depth returns the number of failure records waiting.
func (fq *FailureQueue) Depth(_ context.Context) (uint64, error) {
	info, err := fq.js.StreamInfo(fq.cfg.DLQStream)
	if err != nil {
		return 0, fmt.Errorf("failed to read failure stream info: %w", err)
	}
	return info.State.Msgs, nil
}

type failureDelivery struct {
	msg      *nats.Msg
	record   *entity.FailureRecord
	streamID string
}

func (d *failureDelivery) Record() *entity.FailureRecord { return d.record }

func (d *failureDelivery) MessageID() string { return d.streamID }

func (d *failureDelivery) Ack(_ context.Context) error {
	if err := d.msg.Ack(); err != nil {
		return fmt.Errorf("failed to ack failure record %s: %w", d.streamID, err)
	}
	return nil
}

func (d *failureDelivery) Nak(_ context.Context, delay time.Duration) error {
	var err error
	if delay > 0 {
		err = d.msg.NakWithDelay(delay)
	} else {
		err = d.msg.Nak()
	}
	if err != nil {
		return fmt.Errorf("failed to nak failure record %s: %w", d.streamID, err)
	}
	return nil
}
