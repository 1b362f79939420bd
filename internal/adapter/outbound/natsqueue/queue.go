// Package natsqueue implements the durable work queue and failure queue on
// NATS JetStream. Work items ride a work-queue stream with per-delivery
// leases; acknowledgement removes the item, and the ack wait doubles as the
// visibility timeout.
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

// Queue is the JetStream-backed work queue.
type Queue struct {
	cfg  config.QueueConfig
	conn *nats.Conn
	js   nats.JetStreamContext
	sub  *nats.Subscription
}

// Connect dials the broker, provisions the stream and durable consumer, and
// returns a ready queue.
func Connect(ctx context.Context, cfg config.QueueConfig) (*Queue, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slogger.WarnNoCtx("Queue connection lost", slogger.Fields{"error": errString(err)})
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slogger.InfoNoCtx("Queue connection restored", nil)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to queue at %s: %w", cfg.URL, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	q := &Queue{cfg: cfg, conn: conn, js: js}
	if err := q.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	sub, err := js.PullSubscribe(cfg.Subject, cfg.Consumer,
		nats.AckWait(cfg.AckWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create pull consumer %s: %w", cfg.Consumer, err)
	}
	q.sub = sub

	return q, nil
}

func (q *Queue) ensureStream(_ context.Context) error {
	_, err := q.js.StreamInfo(q.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", q.cfg.Stream, err)
	}

	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:      q.cfg.Stream,
		Subjects:  []string{q.cfg.Subject},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", q.cfg.Stream, err)
	}

	slogger.InfoNoCtx("Created work queue stream", slogger.Fields2(
		"stream", q.cfg.Stream,
		"subject", q.cfg.Subject,
	))
	return nil
}

// Receive leases up to max work items from the queue.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]outbound.Delivery, error) {
	msgs, err := q.sub.Fetch(max, nats.MaxWait(wait), nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch from queue: %w", err)
	}

	deliveries := make([]outbound.Delivery, 0, len(msgs))
	for _, msg := range msgs {
		d, err := newDelivery(msg)
		if err != nil {
			// Undecodable payloads can never succeed; drop them so they
			// stop consuming delivery budget.
			slogger.ErrorWithError(ctx, err, "Dropping undecodable work item", slogger.Fields{
				"subject": msg.Subject,
			})
			_ = msg.Term()
			continue
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

// Publish enqueues a work item.
func (q *Queue) Publish(ctx context.Context, item *entity.WorkItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("refusing to publish invalid work item: %w", err)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode work item: %w", err)
	}
	if _, err := q.js.Publish(q.cfg.Subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish work item %s: %w", item.Locator, err)
	}
	return nil
}

// Depth returns the number of undelivered items in the stream.
func (q *Queue) Depth(_ context.Context) (uint64, error) {
	info, err := q.js.StreamInfo(q.cfg.Stream)
	if err != nil {
		return 0, fmt.Errorf("failed to read stream info for %s: %w", q.cfg.Stream, err)
	}
	return info.State.Msgs, nil
}

// Ping verifies broker connectivity.
func (q *Queue) Ping(_ context.Context) error {
	if !q.conn.IsConnected() {
		return errors.New("queue connection is down")
	}
	if _, err := q.js.AccountInfo(); err != nil {
		return fmt.Errorf("queue account lookup failed: %w", err)
	}
	return nil
}

// Close drains the subscription and closes the connection.
func (q *Queue) Close() error {
	if q.sub != nil {
		_ = q.sub.Unsubscribe()
	}
	q.conn.Close()
	return nil
}

// delivery adapts one JetStream message to the Delivery port.
type delivery struct {
	msg      *nats.Msg
	item     *entity.WorkItem
	meta     *nats.MsgMetadata
	streamID string
}

func newDelivery(msg *nats.Msg) (*delivery, error) {
	var item entity.WorkItem
	if err := json.Unmarshal(msg.Data, &item); err != nil {
		return nil, fmt.Errorf("failed to decode work item: %w", err)
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("work item failed validation: %w", err)
	}

	meta, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to read message metadata: %w", err)
	}

	return &delivery{
		msg:      msg,
		item:     &item,
		meta:     meta,
		streamID: fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream),
	}, nil
}

func (d *delivery) Item() *entity.WorkItem { return d.item }

func (d *delivery) MessageID() string { return d.streamID }

func (d *delivery) Attempt() int { return int(d.meta.NumDelivered) }

func (d *delivery) Ack(_ context.Context) error {
	if err := d.msg.Ack(); err != nil {
		return fmt.Errorf("failed to ack %s: %w", d.streamID, err)
	}
	return nil
}

func (d *delivery) Nak(_ context.Context, delay time.Duration) error {
	var err error
	if delay > 0 {
		err = d.msg.NakWithDelay(delay)
	} else {
		err = d.msg.Nak()
	}
	if err != nil {
		return fmt.Errorf("failed to nak %s: %w", d.streamID, err)
	}
	return nil
}

func (d *delivery) ExtendLease(_ context.Context) error {
	if err := d.msg.InProgress(); err != nil {
		return fmt.Errorf("failed to extend lease on %s: %w", d.streamID, err)
	}
	return nil
}

func (d *delivery) Terminate(_ context.Context) error {
	if err := d.msg.Term(); err != nil {
		return fmt.Errorf("failed to terminate %s: %w", d.streamID, err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
