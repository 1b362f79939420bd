package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesearch/internal/config"
	"filesearch/internal/domain/entity"
	"filesearch/internal/port/outbound"
)

type scriptedQueue struct {
	mu      sync.Mutex
	batches [][]outbound.Delivery
}

func (q *scriptedQueue) Receive(ctx context.Context, _ int, wait time.Duration) ([]outbound.Delivery, error) {
	q.mu.Lock()
	if len(q.batches) > 0 {
		batch := q.batches[0]
		q.batches = q.batches[1:]
		q.mu.Unlock()
		return batch, nil
	}
	q.mu.Unlock()

	// Empty queue: block like a real pull subscription would.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, nil
	}
}

func (q *scriptedQueue) Publish(context.Context, *entity.WorkItem) error { return nil }
func (q *scriptedQueue) Depth(context.Context) (uint64, error)           { return 0, nil }
func (q *scriptedQueue) Ping(context.Context) error                      { return nil }
func (q *scriptedQueue) Close() error                                    { return nil }

type loopProcessor struct {
	mu    sync.Mutex
	errs  map[string]error
	seen  []string
	block chan struct{}
}

func (p *loopProcessor) Process(ctx context.Context, d outbound.Delivery) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, d.MessageID())
	return p.errs[d.MessageID()]
}

func (p *loopProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func delivery(id string) outbound.Delivery {
	return &loopDelivery{id: id}
}

type loopDelivery struct{ id string }

func (d *loopDelivery) Item() *entity.WorkItem {
	return &entity.WorkItem{Locator: entity.Locator{Bucket: "files", Key: d.id}}
}

func (d *loopDelivery) MessageID() string { return d.id }
func (d *loopDelivery) Attempt() int      { return 1 }

func (d *loopDelivery) Ack(context.Context) error                { return nil }
func (d *loopDelivery) Nak(context.Context, time.Duration) error { return nil }
func (d *loopDelivery) ExtendLease(context.Context) error        { return nil }
func (d *loopDelivery) Terminate(context.Context) error          { return nil }

func loopConfigs() (config.QueueConfig, config.WorkerConfig) {
	qc := config.QueueConfig{FetchBatch: 10, FetchWait: 5 * time.Millisecond}
	wc := config.WorkerConfig{Concurrency: 2, IdleBackoff: time.Millisecond}
	return qc, wc
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestService_ProcessesBatchesAndCounts(t *testing.T) {
	queue := &scriptedQueue{batches: [][]outbound.Delivery{
		{delivery("a"), delivery("b")},
		{delivery("c")},
	}}
	proc := &loopProcessor{errs: map[string]error{"b": errors.New("transient")}}
	qc, wc := loopConfigs()
	svc := NewService(queue, proc, qc, wc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, func() bool { return proc.count() == 3 }, "loop never drained the scripted batches")
	cancel()
	require.NoError(t, <-done)

	stats := svc.Stats()
	assert.Equal(t, uint64(2), stats.Processed)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, 0, stats.InFlight)
}

func TestService_SuccessResetsConsecutiveFailures(t *testing.T) {
	queue := &scriptedQueue{batches: [][]outbound.Delivery{
		{delivery("a")}, {delivery("b")}, {delivery("c")},
	}}
	proc := &loopProcessor{errs: map[string]error{
		"a": errors.New("boom"),
		"b": errors.New("boom"),
	}}
	qc, wc := loopConfigs()
	wc.Concurrency = 1 // keep ordering deterministic
	svc := NewService(queue, proc, qc, wc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, func() bool { return proc.count() == 3 }, "loop never drained the scripted batches")
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, uint64(0), svc.Stats().ConsecutiveFailures)
	assert.Equal(t, uint64(2), svc.Stats().Failed)
}

func TestService_FatalErrorStopsLoop(t *testing.T) {
	fatal := errors.New("breaker tripped")
	queue := &scriptedQueue{batches: [][]outbound.Delivery{{delivery("a")}}}
	proc := &loopProcessor{errs: map[string]error{"a": fatal}}
	qc, wc := loopConfigs()
	svc := NewService(queue, proc, qc, wc).WithFatal(func(err error) bool {
		return errors.Is(err, fatal)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := svc.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
	assert.NoError(t, ctx.Err(), "loop must stop on its own, not by timeout")
}

func TestService_DrainWaitsForInFlight(t *testing.T) {
	block := make(chan struct{})
	queue := &scriptedQueue{batches: [][]outbound.Delivery{{delivery("a")}}}
	proc := &loopProcessor{block: block}
	qc, wc := loopConfigs()
	svc := NewService(queue, proc, qc, wc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, func() bool { return svc.Stats().InFlight == 1 }, "item never went in flight")

	drained := make(chan error, 1)
	go func() { drained <- svc.Drain(context.Background()) }()

	// The drain must not complete while the item is still being processed.
	select {
	case err := <-drained:
		t.Fatalf("drain returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(block)
	require.NoError(t, <-drained)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), svc.Stats().Processed)
}

func TestService_DrainGivesUpAtDeadline(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	queue := &scriptedQueue{batches: [][]outbound.Delivery{{delivery("a")}}}
	proc := &loopProcessor{block: block}
	qc, wc := loopConfigs()
	svc := NewService(queue, proc, qc, wc)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Run(ctx) }()

	waitFor(t, func() bool { return svc.Stats().InFlight == 1 }, "item never went in flight")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer drainCancel()

	err := svc.Drain(drainCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 items in flight")
	cancel()
}

// brokenQueue fails every receive, like a broker that cannot be reached.
type brokenQueue struct {
	mu       sync.Mutex
	err      error
	receives int
}

func (q *brokenQueue) Receive(context.Context, int, time.Duration) ([]outbound.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.receives++
	return nil, q.err
}

func (q *brokenQueue) Publish(context.Context, *entity.WorkItem) error { return nil }
func (q *brokenQueue) Depth(context.Context) (uint64, error)           { return 0, nil }
func (q *brokenQueue) Ping(context.Context) error                      { return nil }
func (q *brokenQueue) Close() error                                    { return nil }

func TestService_FatalReceiveErrorStopsLoop(t *testing.T) {
	fatal := errors.New("circuit breaker open")
	queue := &brokenQueue{err: fatal}
	qc, wc := loopConfigs()
	svc := NewService(queue, &loopProcessor{}, qc, wc).WithFatal(func(err error) bool {
		return errors.Is(err, fatal)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := svc.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
	assert.NoError(t, ctx.Err(), "an unreachable queue must stop the loop, not spin it")
	assert.Equal(t, 1, queue.receives)
}
