package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/inbound"
	"filesearch/internal/port/outbound"
)

type breakerDelivery struct {
	naked int
}

func (d *breakerDelivery) Item() *entity.WorkItem {
	return &entity.WorkItem{Locator: entity.Locator{Bucket: "files", Key: "a.txt"}}
}

func (d *breakerDelivery) MessageID() string { return "stream:1" }
func (d *breakerDelivery) Attempt() int      { return 1 }

func (d *breakerDelivery) Ack(context.Context) error { return nil }

func (d *breakerDelivery) Nak(context.Context, time.Duration) error {
	d.naked++
	return nil
}

func (d *breakerDelivery) ExtendLease(context.Context) error { return nil }
func (d *breakerDelivery) Terminate(context.Context) error   { return nil }

type scriptedProcessor struct {
	err   error
	calls int
}

func (p *scriptedProcessor) Process(context.Context, outbound.Delivery) error {
	p.calls++
	return p.err
}

// refusingQueue fails every receive, like a broker that is simply gone.
type refusingQueue struct {
	receives int
}

func (q *refusingQueue) Receive(context.Context, int, time.Duration) ([]outbound.Delivery, error) {
	q.receives++
	return nil, errors.New("connection refused")
}

func (q *refusingQueue) Publish(context.Context, *entity.WorkItem) error { return nil }
func (q *refusingQueue) Depth(context.Context) (uint64, error)           { return 0, nil }
func (q *refusingQueue) Ping(context.Context) error                      { return nil }
func (q *refusingQueue) Close() error                                    { return nil }

func breakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold: 3,
		OpenTimeout:      30 * time.Millisecond,
		HalfOpenMax:      1,
	}
}

func TestBreakerProcessor_PassesThroughWhileClosed(t *testing.T) {
	inner := &scriptedProcessor{}
	b := NewBreakerProcessor(inner, NewBreaker(breakerConfig()))

	require.NoError(t, b.Process(context.Background(), &breakerDelivery{}))
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, gobreaker.StateClosed, b.breaker.State())
	assert.False(t, b.breaker.Tripped())
}

func TestBreakerProcessor_TripsOnConsecutiveFailures(t *testing.T) {
	inner := &scriptedProcessor{err: errors.New("index unavailable")}
	b := NewBreakerProcessor(inner, NewBreaker(breakerConfig()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Process(ctx, &breakerDelivery{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBreakerOpen, "failures below the threshold surface as-is")
	}

	assert.True(t, b.breaker.Tripped())
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerProcessor_QuarantinedItemsDoNotTrip(t *testing.T) {
	inner := &scriptedProcessor{
		err: fmt.Errorf("%w: corrupt file header", inbound.ErrQuarantined),
	}
	b := NewBreakerProcessor(inner, NewBreaker(breakerConfig()))
	ctx := context.Background()

	// Well past the threshold: a run of poison files is a valid input
	// pattern, and each one was already recorded and removed.
	for i := 0; i < 6; i++ {
		err := b.Process(ctx, &breakerDelivery{})
		require.ErrorIs(t, err, inbound.ErrQuarantined)
		require.NotErrorIs(t, err, ErrBreakerOpen)
	}

	assert.False(t, b.breaker.Tripped())
	assert.Equal(t, gobreaker.StateClosed, b.breaker.State())
	assert.Equal(t, 6, inner.calls, "every item reaches the processor")
}

func TestBreakerProcessor_ReleasesItemsWhileOpen(t *testing.T) {
	inner := &scriptedProcessor{err: errors.New("index unavailable")}
	b := NewBreakerProcessor(inner, NewBreaker(breakerConfig()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Process(ctx, &breakerDelivery{})
	}
	require.True(t, b.breaker.Tripped())

	d := &breakerDelivery{}
	err := b.Process(ctx, d)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 1, d.naked, "open breaker hands the item back to the queue")
	assert.Equal(t, 3, inner.calls, "inner processor is not touched while open")
}

func TestBreakerProcessor_RecoversThroughHalfOpen(t *testing.T) {
	inner := &scriptedProcessor{err: errors.New("index unavailable")}
	b := NewBreakerProcessor(inner, NewBreaker(breakerConfig()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Process(ctx, &breakerDelivery{})
	}
	require.True(t, b.breaker.Tripped())

	// Wait out the open timeout, then succeed through the half-open trial.
	time.Sleep(50 * time.Millisecond)
	inner.err = nil

	require.NoError(t, b.Process(ctx, &breakerDelivery{}))
	assert.Equal(t, gobreaker.StateClosed, b.breaker.State())
}

func TestBreakerQueue_TripsOnReceiveFailures(t *testing.T) {
	inner := &refusingQueue{}
	breaker := NewBreaker(breakerConfig())
	q := NewBreakerQueue(inner, breaker)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Receive(ctx, 10, time.Millisecond)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBreakerOpen)
	}
	require.True(t, breaker.Tripped())

	_, err := q.Receive(ctx, 10, time.Millisecond)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 3, inner.receives, "open breaker stops hammering the broker")
}

func TestBreakerQueue_SharesTripWithProcessor(t *testing.T) {
	breaker := NewBreaker(breakerConfig())
	q := NewBreakerQueue(&refusingQueue{}, breaker)
	proc := &scriptedProcessor{}
	b := NewBreakerProcessor(proc, breaker)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Receive(ctx, 10, time.Millisecond)
		require.Error(t, err)
	}

	err := b.Process(ctx, &breakerDelivery{})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Zero(t, proc.calls, "receive failures count against item processing too")
}
