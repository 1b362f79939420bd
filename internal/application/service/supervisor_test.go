package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"filesearch/internal/config"
	"filesearch/internal/port/inbound"
)

type stubReporter struct {
	mu       sync.Mutex
	stats    inbound.WorkerStats
	progress time.Time
}

func (r *stubReporter) Stats() inbound.WorkerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *stubReporter) LastProgress() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func (r *stubReporter) set(inFlight int, progress time.Time) {
	r.mu.Lock()
	r.stats.InFlight = inFlight
	r.progress = progress
	r.mu.Unlock()
}

type stubTerminator struct {
	calls atomic.Int64
}

func (t *stubTerminator) Terminate(context.Context, string) error {
	t.calls.Add(1)
	return nil
}

func supervisorConfig() config.SupervisorConfig {
	return config.SupervisorConfig{
		CheckInterval:   5 * time.Millisecond,
		StuckThreshold:  20 * time.Millisecond,
		MaxRestarts:     3,
		RestartWindow:   time.Minute,
		RestartCooldown: time.Millisecond,
	}
}

func TestSupervisor_IdleWorkerIsNotStuck(t *testing.T) {
	reporter := &stubReporter{}
	reporter.set(0, time.Now().Add(-time.Hour))

	var restarts atomic.Int64
	terminator := &stubTerminator{}
	sup := NewSupervisor(supervisorConfig(), reporter, func(context.Context, string) error {
		restarts.Add(1)
		return nil
	}, terminator)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, sup.Run(ctx))

	assert.Zero(t, restarts.Load(), "nothing in flight means nothing to unstick")
	assert.Zero(t, terminator.calls.Load())
}

func TestSupervisor_RestartsStuckWorker(t *testing.T) {
	reporter := &stubReporter{}
	reporter.set(2, time.Now().Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restarted := make(chan struct{})
	terminator := &stubTerminator{}
	sup := NewSupervisor(supervisorConfig(), reporter, func(context.Context, string) error {
		// A restart clears the backlog; report fresh progress so the
		// supervisor settles back down.
		reporter.set(0, time.Now())
		close(restarted)
		return nil
	}, terminator)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case <-restarted:
	case <-time.After(time.Second):
		t.Fatal("supervisor never restarted the stuck worker")
	}

	cancel()
	assert.NoError(t, <-done)
	assert.Zero(t, terminator.calls.Load())
}

func TestSupervisor_EscalatesPastRestartBudget(t *testing.T) {
	reporter := &stubReporter{}
	// Permanently stuck: restarts never bring progress back.
	reporter.set(2, time.Now().Add(-time.Hour))

	var restarts atomic.Int64
	terminator := &stubTerminator{}
	sup := NewSupervisor(supervisorConfig(), reporter, func(context.Context, string) error {
		restarts.Add(1)
		return nil
	}, terminator)

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor never escalated")
	}

	assert.Equal(t, int64(3), restarts.Load())
	assert.Equal(t, int64(1), terminator.calls.Load())
}
