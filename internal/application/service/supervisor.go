package service

import (
	"context"
	"time"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
	"filesearch/internal/port/inbound"
	"filesearch/internal/port/outbound"
)

// ProgressReporter exposes what the supervisor needs from the worker loop.
type ProgressReporter interface {
	LastProgress() time.Time
	Stats() inbound.WorkerStats
}

// RestartFunc recycles the worker loop in place.
type RestartFunc func(ctx context.Context, reason string) error

// Supervisor watches for a wedged worker: in-flight items with no observable
// progress past the stuck threshold. It restarts the loop, and when restarts
// keep happening inside the window it escalates to the terminator, on the
// theory that the host itself is unhealthy.
type Supervisor struct {
	cfg        config.SupervisorConfig
	reporter   ProgressReporter
	restart    RestartFunc
	terminator outbound.Terminator

	restarts []time.Time
}

func NewSupervisor(cfg config.SupervisorConfig, reporter ProgressReporter, restart RestartFunc, terminator outbound.Terminator) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		reporter:   reporter,
		restart:    restart,
		terminator: terminator,
	}
}

// Run blocks until ctx ends, checking worker liveness on every tick.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if !s.stuck() {
			continue
		}

		stats := s.reporter.Stats()
		idle := time.Since(s.reporter.LastProgress())
		slogger.Warn(ctx, "Worker appears stuck", slogger.Fields3(
			"idle", idle.String(),
			"in_flight", stats.InFlight,
			"consecutive_failures", stats.ConsecutiveFailures,
		))

		if s.shouldEscalate() {
			slogger.Error(ctx, "Restart budget exhausted, recycling host", slogger.Fields2(
				"restarts", len(s.restarts),
				"window", s.cfg.RestartWindow.String(),
			))
			if err := s.terminator.Terminate(ctx, "worker stuck past restart budget"); err != nil {
				slogger.ErrorWithError(ctx, err, "Host recycle failed", nil)
			}
			return nil
		}

		s.restarts = append(s.restarts, time.Now())
		if err := s.restart(ctx, "no progress past stuck threshold"); err != nil {
			slogger.ErrorWithError(ctx, err, "Worker restart failed", nil)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.RestartCooldown):
		}
	}
}

// stuck reports whether the worker has items in flight yet has shown no
// progress for the full threshold. An idle worker with an empty queue is
// not stuck.
func (s *Supervisor) stuck() bool {
	stats := s.reporter.Stats()
	if stats.InFlight == 0 {
		return false
	}
	return time.Since(s.reporter.LastProgress()) >= s.cfg.StuckThreshold
}

// shouldEscalate prunes restarts outside the window and reports whether the
// budget is spent.
func (s *Supervisor) shouldEscalate() bool {
	cutoff := time.Now().Add(-s.cfg.RestartWindow)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = kept
	return len(s.restarts) >= s.cfg.MaxRestarts
}
