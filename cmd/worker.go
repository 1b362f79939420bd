package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"filesearch/internal/adapter/outbound/embedding"
	"filesearch/internal/adapter/outbound/extractor"
	"filesearch/internal/adapter/outbound/host"
	"filesearch/internal/adapter/outbound/imds"
	"filesearch/internal/adapter/outbound/index"
	"filesearch/internal/adapter/outbound/natsqueue"
	"filesearch/internal/adapter/outbound/storage"
	"filesearch/internal/application/classify"
	"filesearch/internal/application/common/slogger"
	"filesearch/internal/application/service"
	"filesearch/internal/application/worker"
	"filesearch/internal/port/outbound"
)

// Exit codes the process supervisor keys restart policy off of.
const (
	exitPreflightFailed = 2
	exitBreakerTripped  = 3
	exitWorkerStuck     = 4
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the file processing worker",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		provider, err := service.SetupMeterProvider(ctx, "filesearch-worker", Version)
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())
	}

	queue, err := natsqueue.Connect(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer queue.Close()

	failures, err := natsqueue.NewFailureQueue(ctx, queue)
	if err != nil {
		return err
	}

	// Items that burn their whole delivery budget without a completed
	// attempt never reach dispose; the advisory monitor is what moves them
	// to the failure queue.
	monitor, err := natsqueue.NewExhaustionMonitor(queue, failures)
	if err != nil {
		return err
	}
	defer monitor.Close()

	store, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		return err
	}

	idx, err := index.NewPostgresIndex(ctx, cfg.Index, cfg.Embedding.Dimensions)
	if err != nil {
		return err
	}
	defer idx.Close()

	embedder := embedding.NewClient(cfg.Embedding)

	preflight := service.NewPreflight(cfg.Preflight, cfg.Extraction, queue, store, idx, embedder)
	runPreflight := func() {
		status := preflight.Run(ctx)
		if !status.Healthy() {
			slogger.Error(ctx, "Pre-flight checks failed", slogger.Fields{
				"failures": status.FailureSummary(),
			})
			os.Exit(exitPreflightFailed)
		}
	}
	runPreflight()

	registry := extractor.NewRegistry(
		extractor.NewTextExtractor(cfg.Extraction.MaxTextChars),
		extractor.NewPDFExtractor(cfg.Extraction),
		extractor.NewOCRExtractor(cfg.Extraction),
		extractor.NewMetadataExtractor(),
	)
	slogger.Info(ctx, "Extractors registered", slogger.Fields{"chain": registry.Names()})

	classifier := classify.NewClassifier(classify.DefaultRules())

	var metrics *service.Metrics
	if cfg.Metrics.Enabled {
		if metrics, err = service.NewMetrics(); err != nil {
			return err
		}
	}

	processor := worker.NewProcessor(
		store, registry, embedder, idx, failures, classifier,
		cfg.Extraction, cfg.Worker, cfg.Queue.MaxDeliver,
	)
	if metrics != nil {
		processor.WithRecorder(metrics)
	}
	breaker := service.NewBreaker(cfg.Breaker)
	breakerProc := service.NewBreakerProcessor(processor, breaker)
	workQueue := service.NewBreakerQueue(queue, breaker)

	var terminator outbound.Terminator
	if cfg.Supervisor.EscalateToReboot {
		terminator = host.RebootTerminator{}
	} else {
		terminator = host.ExitTerminator{Code: exitWorkerStuck}
	}

	for {
		tripped, err := runWorkerOnce(ctx, workQueue, failures, breaker, breakerProc, metrics, terminator)
		if tripped {
			slogger.Error(ctx, "Circuit breaker tripped, exiting", nil)
			os.Exit(exitBreakerTripped)
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			slogger.Info(ctx, "Worker shut down", nil)
			return nil
		}
		// The supervisor asked for a loop recycle. Re-check dependencies
		// first so a broken state is not respawned into.
		slogger.Warn(ctx, "Restarting worker loop", nil)
		runPreflight()
	}
}

// runWorkerOnce runs one incarnation of the loop plus its sidecars. It
// returns tripped=true when the breaker opened, and a nil error when the
// loop should be recycled or the context ended.
func runWorkerOnce(
	ctx context.Context,
	queue outbound.Queue,
	failures *natsqueue.FailureQueue,
	breaker *service.Breaker,
	breakerProc *service.BreakerProcessor,
	metrics *service.Metrics,
	terminator outbound.Terminator,
) (bool, error) {
	// Detached from the signal context: a shutdown signal drains in-flight
	// items within the drain timeout instead of killing them mid-commit.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	svc := worker.NewService(queue, breakerProc, cfg.Queue, cfg.Worker).
		WithFatal(func(err error) bool {
			return errors.Is(err, service.ErrBreakerOpen)
		})

	if metrics != nil {
		unobserve, err := metrics.ObserveWorker(svc, queue, failures, breaker)
		if err != nil {
			return false, err
		}
		defer unobserve()
	}

	supervisor := service.NewSupervisor(cfg.Supervisor, svc,
		func(_ context.Context, reason string) error {
			slogger.WarnNoCtx("Supervisor requested loop restart", slogger.Fields{"reason": reason})
			cancelRun()
			return nil
		},
		terminator,
	)

	preemption := service.NewPreemptionHandler(cfg.Preemption, imds.NewNotifier(cfg.Preemption), svc)

	g, gctx := errgroup.WithContext(runCtx)
	var tripped bool

	g.Go(func() error {
		err := svc.Run(gctx)
		if errors.Is(err, service.ErrBreakerOpen) {
			tripped = true
			err = nil
		}
		cancelRun()
		return err
	})
	g.Go(func() error {
		return supervisor.Run(gctx)
	})
	g.Go(func() error {
		handled, err := preemption.Run(gctx)
		if handled {
			cancelRun()
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Worker.DrainTimeout)
			defer cancel()
			if err := svc.Drain(drainCtx); err != nil {
				slogger.WarnNoCtx("Shutdown drain gave up", slogger.Fields{"error": err.Error()})
			}
			cancelRun()
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()
	return tripped, err
}
