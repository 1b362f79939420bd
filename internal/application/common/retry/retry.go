// Package retry provides bounded exponential backoff with jitter for
// transient failures. Every wait is context-aware; there is no unbounded
// blocking anywhere in the executor.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"filesearch/internal/application/common/slogger"
)

// Config defines retry behavior.
type Config struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	Jitter        bool          `json:"jitter"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:    3,
		InitialDelay:  2 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Operation represents an operation that can be retried.
type Operation func(ctx context.Context) error

// RetryableChecker decides whether an error is worth another attempt.
type RetryableChecker interface {
	IsRetryable(err error) bool
}

// retryAlways treats every error as retryable; used when no checker is given.
type retryAlways struct{}

func (retryAlways) IsRetryable(err error) bool { return err != nil }

// Executor runs operations with exponential backoff.
type Executor struct {
	config  *Config
	checker RetryableChecker
}

// NewExecutor creates a retry executor. A nil config uses DefaultConfig; a
// nil checker retries every error.
func NewExecutor(config *Config, checker RetryableChecker) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	if checker == nil {
		checker = retryAlways{}
	}
	return &Executor{config: config, checker: checker}
}

// Execute runs the operation, retrying retryable failures with backoff until
// the budget is exhausted or the context is canceled.
func (e *Executor) Execute(ctx context.Context, operation Operation) error {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.Delay(attempt)
			slogger.Debug(ctx, "Retrying operation after delay", slogger.Fields3(
				"attempt", attempt,
				"max_retries", e.config.MaxRetries,
				"delay_ms", delay.Milliseconds(),
			))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				slogger.Info(ctx, "Operation succeeded after retries", slogger.Fields{
					"attempts": attempt + 1,
				})
			}
			return nil
		}

		lastErr = err

		if !e.checker.IsRetryable(err) {
			slogger.Debug(ctx, "Error is not retryable", slogger.Fields2(
				"error", err.Error(),
				"attempt", attempt+1,
			))
			return err
		}

		slogger.Warn(ctx, "Operation failed, will retry", slogger.Fields3(
			"error", err.Error(),
			"attempt", attempt+1,
			"max_retries", e.config.MaxRetries,
		))
	}

	return fmt.Errorf("operation failed after %d retries: %w", e.config.MaxRetries, lastErr)
}

// Delay computes the backoff delay for the given attempt (1-based).
func (e *Executor) Delay(attempt int) time.Duration {
	delay := float64(e.config.InitialDelay) * math.Pow(e.config.BackoffFactor, float64(attempt-1))
	if delay > float64(e.config.MaxDelay) {
		delay = float64(e.config.MaxDelay)
	}

	if e.config.Jitter {
		// Up to ±25% of the computed delay.
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Do executes an operation with the default configuration and no checker.
func Do(ctx context.Context, operation Operation) error {
	return NewExecutor(nil, nil).Execute(ctx, operation)
}

// DoWithConfig executes an operation with a custom configuration.
func DoWithConfig(ctx context.Context, config *Config, operation Operation) error {
	return NewExecutor(config, nil).Execute(ctx, operation)
}

// DoWithChecker executes an operation with custom configuration and checker.
func DoWithChecker(ctx context.Context, config *Config, checker RetryableChecker, operation Operation) error {
	return NewExecutor(config, checker).Execute(ctx, operation)
}
