package service

import (
	"context"
	"time"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
	"filesearch/internal/port/inbound"
	"filesearch/internal/port/outbound"
)

// PreemptionHandler reacts to host interruption notices: stop leasing new
// work, drain what is in flight within the grace window, and let unfinished
// items return to the queue by lease expiry. Nothing is lost either way;
// draining just avoids redundant redelivery work.
type PreemptionHandler struct {
	cfg      config.PreemptionConfig
	notifier outbound.TerminationNotifier
	worker   inbound.WorkerService
}

func NewPreemptionHandler(cfg config.PreemptionConfig, notifier outbound.TerminationNotifier, worker inbound.WorkerService) *PreemptionHandler {
	return &PreemptionHandler{cfg: cfg, notifier: notifier, worker: worker}
}

// Run blocks until a notice arrives or ctx ends. It returns true when a
// notice was handled, so the caller can exit instead of restarting the loop.
func (h *PreemptionHandler) Run(ctx context.Context) (bool, error) {
	if !h.cfg.Enabled {
		<-ctx.Done()
		return false, nil
	}

	notices, err := h.notifier.Watch(ctx)
	if err != nil {
		return false, err
	}

	select {
	case <-ctx.Done():
		return false, nil
	case notice, ok := <-notices:
		if !ok {
			return false, nil
		}
		h.handle(ctx, notice)
		return true, nil
	}
}

func (h *PreemptionHandler) handle(ctx context.Context, notice outbound.TerminationNotice) {
	lead := time.Until(notice.Deadline)
	grace := h.cfg.GracePeriod
	if lead > 0 && lead < grace {
		grace = lead
	}

	slogger.Warn(ctx, "Host interruption notice received, draining", slogger.Fields3(
		"action", notice.Action,
		"deadline", notice.Deadline.Format(time.RFC3339),
		"grace", grace.String(),
	))

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	if err := h.worker.Drain(drainCtx); err != nil {
		// Undrained items come back via lease expiry on another host.
		slogger.Warn(ctx, "Drain incomplete at interruption deadline", slogger.Fields{
			"error": err.Error(),
		})
		return
	}
	slogger.Info(ctx, "Drain complete ahead of interruption", nil)
}
