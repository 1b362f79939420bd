package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"filesearch/internal/port/inbound"
	"filesearch/internal/port/outbound"
)

const meterName = "filesearch"

// SetupMeterProvider installs a global SDK meter provider with a manual
// reader; collection happens only when something reads it.
func SetupMeterProvider(ctx context.Context, serviceName, serviceVersion string) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewManualReader()),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}

// Metrics publishes pipeline telemetry through OpenTelemetry.
type Metrics struct {
	processed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetrics creates the instrument set on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	processed, err := meter.Int64Counter("filesearch.items.processed",
		metric.WithDescription("Work items successfully indexed"))
	if err != nil {
		return nil, fmt.Errorf("failed to create processed counter: %w", err)
	}

	failed, err := meter.Int64Counter("filesearch.items.failed",
		metric.WithDescription("Work items whose processing attempt failed"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failed counter: %w", err)
	}

	duration, err := meter.Float64Histogram("filesearch.item.duration",
		metric.WithDescription("Per-item processing time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Metrics{processed: processed, failed: failed, duration: duration}, nil
}

// RecordItem records the outcome of one processing attempt.
func (m *Metrics) RecordItem(ctx context.Context, elapsed time.Duration, extractor string, err error) {
	attrs := metric.WithAttributes(attribute.String("extractor", extractor))
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.failed.Add(ctx, 1, attrs)
		return
	}
	m.processed.Add(ctx, 1, attrs)
}

// ReprocessMetrics counts failure-record triage outcomes.
type ReprocessMetrics struct {
	requeued metric.Int64Counter
	archived metric.Int64Counter
}

func NewReprocessMetrics() (*ReprocessMetrics, error) {
	meter := otel.Meter(meterName)

	requeued, err := meter.Int64Counter("filesearch.dlq.requeued",
		metric.WithDescription("Failure records requeued for another attempt"))
	if err != nil {
		return nil, fmt.Errorf("failed to create requeued counter: %w", err)
	}

	archived, err := meter.Int64Counter("filesearch.dlq.archived",
		metric.WithDescription("Failure records archived to the object store"))
	if err != nil {
		return nil, fmt.Errorf("failed to create archived counter: %w", err)
	}

	return &ReprocessMetrics{requeued: requeued, archived: archived}, nil
}

// RecordPass records one reprocessing pass. Dry runs change nothing, so they
// count nothing.
func (m *ReprocessMetrics) RecordPass(ctx context.Context, summary *inbound.ReprocessSummary) {
	if summary == nil || summary.DryRun {
		return
	}
	m.requeued.Add(ctx, int64(summary.Requeued+summary.StaleRequeued))
	m.archived.Add(ctx, int64(summary.Archived))
}

// ObserveWorker registers gauges over the worker loop and queues and
// returns a cleanup that unregisters them, so a recycled loop does not leave
// stale observers behind. Collection is pull-based; nothing is sampled
// unless an exporter asks.
func (m *Metrics) ObserveWorker(reporter ProgressReporter, queue outbound.Queue, failures outbound.FailureQueue, breaker *Breaker) (func(), error) {
	meter := otel.Meter(meterName)

	inFlight, err := meter.Int64ObservableGauge("filesearch.worker.in_flight",
		metric.WithDescription("Items currently being processed"))
	if err != nil {
		return nil, err
	}
	consecutive, err := meter.Int64ObservableGauge("filesearch.worker.consecutive_failures",
		metric.WithDescription("Failures since the last success"))
	if err != nil {
		return nil, err
	}
	queueDepth, err := meter.Int64ObservableGauge("filesearch.queue.depth",
		metric.WithDescription("Items waiting on the work queue"))
	if err != nil {
		return nil, err
	}
	dlqDepth, err := meter.Int64ObservableGauge("filesearch.dlq.depth",
		metric.WithDescription("Records waiting on the failure queue"))
	if err != nil {
		return nil, err
	}
	breakerOpen, err := meter.Int64ObservableGauge("filesearch.breaker.open",
		metric.WithDescription("1 while the circuit breaker refuses work"))
	if err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		stats := reporter.Stats()
		o.ObserveInt64(inFlight, int64(stats.InFlight))
		o.ObserveInt64(consecutive, int64(stats.ConsecutiveFailures))

		if depth, err := queue.Depth(ctx); err == nil {
			o.ObserveInt64(queueDepth, int64(depth))
		}
		if depth, err := failures.Depth(ctx); err == nil {
			o.ObserveInt64(dlqDepth, int64(depth))
		}

		var open int64
		if breaker != nil && breaker.Tripped() {
			open = 1
		}
		o.ObserveInt64(breakerOpen, open)
		return nil
	}, inFlight, consecutive, queueDepth, dlqDepth, breakerOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to register worker gauges: %w", err)
	}

	return func() { _ = reg.Unregister() }, nil
}
