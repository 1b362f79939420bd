package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"

	"filesearch/internal/adapter/outbound/index"
	"filesearch/internal/adapter/outbound/natsqueue"
	"filesearch/internal/adapter/outbound/storage"
	"filesearch/internal/application/common/slogger"
	"filesearch/internal/application/service"
	"filesearch/internal/port/outbound"
)

var (
	reprocessOnce   bool
	reprocessDryRun bool
)

var reprocessorCmd = &cobra.Command{
	Use:   "reprocessor",
	Short: "Triage failed items: requeue recoverable failures, archive the rest",
	RunE:  runReprocessor,
}

func init() {
	reprocessorCmd.Flags().BoolVar(&reprocessOnce, "once", false, "run a single pass and exit")
	reprocessorCmd.Flags().BoolVar(&reprocessDryRun, "dry-run", false, "report decisions without acting on them")
	rootCmd.AddCommand(reprocessorCmd)
}

func runReprocessor(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *service.ReprocessMetrics
	if cfg.Metrics.Enabled {
		provider, err := service.SetupMeterProvider(ctx, "filesearch-reprocessor", Version)
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())
		if metrics, err = service.NewReprocessMetrics(); err != nil {
			return err
		}
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

	store, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		return err
	}

	// The stale-document sweep needs the index, but triage does not. Run
	// without it rather than failing the whole pass when Postgres is down.
	idx, err := index.NewPostgresIndex(ctx, cfg.Index, cfg.Embedding.Dimensions)
	var staleIndex outbound.SearchIndex
	if err != nil {
		slogger.ErrorWithError(ctx, err, "Index unavailable, skipping stale sweep", nil)
	} else {
		defer idx.Close()
		staleIndex = idx
	}

	svc := service.NewDLQService(cfg.Reprocessor, failures, queue, store, staleIndex,
		cfg.Storage.ArchiveBucket, reprocessDryRun)

	runPass := func() error {
		summary, err := svc.RunOnce(ctx)
		if err != nil {
			return err
		}
		if metrics != nil {
			metrics.RecordPass(ctx, summary)
		}
		return nil
	}

	if reprocessOnce {
		return runPass()
	}

	scheduler := gocron.NewScheduler(time.UTC)
	_, err = scheduler.Cron(cfg.Reprocessor.Schedule).Do(func() {
		if err := runPass(); err != nil {
			slogger.ErrorWithError(ctx, err, "Reprocessing pass failed", nil)
		}
	})
	if err != nil {
		return err
	}

	slogger.Info(ctx, "Reprocessor scheduled", slogger.Fields{
		"schedule": cfg.Reprocessor.Schedule,
	})
	scheduler.StartAsync()
	<-ctx.Done()
	scheduler.Stop()
	return nil
}
