package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
	"filesearch/internal/port/inbound"
	"filesearch/internal/port/outbound"
)

// Service is the receive loop: it leases batches from the queue and runs the
// processor over them with bounded parallelism.
type Service struct {
	queue     outbound.Queue
	processor inbound.ItemProcessor
	queueCfg  config.QueueConfig
	workerCfg config.WorkerConfig

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	processed    atomic.Uint64
	failed       atomic.Uint64
	consecutive  atomic.Uint64
	inFlight     atomic.Int64
	lastProgress atomic.Int64

	draining atomic.Bool
	fatal    func(error) bool
	fatalErr atomic.Value
}

// NewService builds the loop around a processor, which may be decorated with
// a circuit breaker.
func NewService(queue outbound.Queue, processor inbound.ItemProcessor, queueCfg config.QueueConfig, workerCfg config.WorkerConfig) *Service {
	s := &Service{
		queue:     queue,
		processor: processor,
		queueCfg:  queueCfg,
		workerCfg: workerCfg,
		sem:       semaphore.NewWeighted(int64(workerCfg.Concurrency)),
	}
	s.lastProgress.Store(time.Now().UnixNano())
	return s
}

// WithFatal marks which receive or processing errors should stop the whole
// loop, such as a tripped circuit breaker.
func (s *Service) WithFatal(isFatal func(error) bool) *Service {
	s.fatal = isFatal
	return s
}

// Run blocks until ctx ends or the processor reports a fatal condition.
func (s *Service) Run(ctx context.Context) error {
	slogger.Info(ctx, "Worker loop starting", slogger.Fields2(
		"concurrency", s.workerCfg.Concurrency,
		"fetch_batch", s.queueCfg.FetchBatch,
	))

	for {
		if err := ctx.Err(); err != nil {
			s.wg.Wait()
			return nil
		}
		if s.draining.Load() {
			s.wg.Wait()
			return nil
		}
		if err, ok := s.fatalErr.Load().(error); ok {
			s.wg.Wait()
			return err
		}

		deliveries, err := s.queue.Receive(ctx, s.queueCfg.FetchBatch, s.queueCfg.FetchWait)
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if s.fatal != nil && s.fatal(err) {
				s.wg.Wait()
				return err
			}
			slogger.ErrorWithError(ctx, err, "Queue receive failed", nil)
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			case <-time.After(s.workerCfg.IdleBackoff):
			}
			continue
		}
		if len(deliveries) == 0 {
			continue
		}

		s.touch()
		for _, d := range deliveries {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.wg.Wait()
				return nil
			}
			s.wg.Add(1)
			s.inFlight.Add(1)
			go func(d outbound.Delivery) {
				defer func() {
					s.inFlight.Add(-1)
					s.sem.Release(1)
					s.wg.Done()
				}()
				s.runOne(ctx, d)
			}(d)
		}
	}
}

func (s *Service) runOne(ctx context.Context, d outbound.Delivery) {
	err := s.processor.Process(ctx, d)
	s.touch()
	if err != nil {
		s.failed.Add(1)
		s.consecutive.Add(1)
		if s.fatal != nil && s.fatal(err) {
			s.fatalErr.Store(err)
		}
		return
	}
	s.processed.Add(1)
	s.consecutive.Store(0)
}

// Drain stops leasing new work and waits for in-flight items, up to the
// context deadline.
func (s *Service) Drain(ctx context.Context) error {
	s.draining.Store(true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slogger.Info(ctx, "Worker drained cleanly", slogger.Fields{
			"processed": s.processed.Load(),
		})
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted with %d items in flight: %w", s.inFlight.Load(), ctx.Err())
	}
}

// Stats reports current loop counters.
func (s *Service) Stats() inbound.WorkerStats {
	return inbound.WorkerStats{
		Processed:           s.processed.Load(),
		Failed:              s.failed.Load(),
		ConsecutiveFailures: s.consecutive.Load(),
		InFlight:            int(s.inFlight.Load()),
	}
}

// LastProgress returns the last time the loop made observable progress,
// feeding the stuck-worker watchdog.
func (s *Service) LastProgress() time.Time {
	return time.Unix(0, s.lastProgress.Load())
}

func (s *Service) touch() {
	s.lastProgress.Store(time.Now().UnixNano())
}
