// Package service holds the operational components around the pipeline:
// circuit breaking, pre-flight checks, the stuck-worker supervisor, host
// preemption handling, failure-record triage, and metrics.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
	"filesearch/internal/port/inbound"
	"filesearch/internal/port/outbound"
)

// ErrBreakerOpen is returned once the breaker has tripped; the worker
// process should exit and let the supervisor decide what happens next.
var ErrBreakerOpen = errors.New("circuit breaker open: downstream dependencies are failing")

// Breaker is the worker loop's shared circuit breaker. Queue receive
// failures and systemic item failures both count toward it; items the
// processor quarantined were handled locally and do not, and neither does
// shutdown cancellation. Any success resets the streak.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds the shared breaker core from cfg.
func NewBreaker(cfg config.BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        "worker-loop",
		MaxRequests: cfg.HalfOpenMax,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, inbound.ErrQuarantined) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slogger.WarnNoCtx("Circuit breaker state change", slogger.Fields3(
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			))
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// guard runs op through the breaker, mapping refusals to ErrBreakerOpen.
func (b *Breaker) guard(op func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	return err
}

// State exposes the breaker state for health reporting.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Tripped reports whether the breaker is currently refusing work.
func (b *Breaker) Tripped() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// BreakerProcessor runs an item processor through the shared breaker.
type BreakerProcessor struct {
	inner   inbound.ItemProcessor
	breaker *Breaker
}

// NewBreakerProcessor wraps inner with the breaker.
func NewBreakerProcessor(inner inbound.ItemProcessor, breaker *Breaker) *BreakerProcessor {
	return &BreakerProcessor{inner: inner, breaker: breaker}
}

// Process runs the inner processor through the breaker. While the breaker is
// open the delivery is released untouched so another worker, or this one
// after recovery, can pick it up.
func (b *BreakerProcessor) Process(ctx context.Context, delivery outbound.Delivery) error {
	err := b.breaker.guard(func() error {
		return b.inner.Process(ctx, delivery)
	})
	if errors.Is(err, ErrBreakerOpen) {
		if nakErr := delivery.Nak(ctx, 0); nakErr != nil {
			slogger.ErrorWithError(ctx, nakErr, "Failed to release item while breaker open", nil)
		}
	}
	return err
}

// BreakerQueue feeds queue receive outcomes into the shared breaker, so a
// broker that cannot be reached at all trips it the same way failing items
// do. Once open, receives are refused with ErrBreakerOpen; after the open
// timeout the next receive doubles as the half-open trial.
type BreakerQueue struct {
	outbound.Queue
	breaker *Breaker
}

// NewBreakerQueue wraps queue with the breaker.
func NewBreakerQueue(queue outbound.Queue, breaker *Breaker) *BreakerQueue {
	return &BreakerQueue{Queue: queue, breaker: breaker}
}

// Receive leases a batch through the breaker.
func (q *BreakerQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]outbound.Delivery, error) {
	var out []outbound.Delivery
	err := q.breaker.guard(func() error {
		var rerr error
		out, rerr = q.Queue.Receive(ctx, max, wait)
		return rerr
	})
	return out, err
}
