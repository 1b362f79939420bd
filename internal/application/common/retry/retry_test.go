package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        false,
	}
}

func TestExecutor_Execute_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := NewExecutor(fastConfig(3), nil).Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutor_Execute_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := NewExecutor(fastConfig(3), nil).Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient wobble")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecutor_Execute_ExhaustsBudget(t *testing.T) {
	calls := 0
	wobble := errors.New("still broken")
	err := NewExecutor(fastConfig(2), nil).Execute(context.Background(), func(context.Context) error {
		calls++
		return wobble
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, wobble)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

type permanentOnly struct{}

func (permanentOnly) IsRetryable(err error) bool { return false }

func TestExecutor_Execute_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	fatal := errors.New("corrupt file")
	err := NewExecutor(fastConfig(5), permanentOnly{}).Execute(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls, "non-retryable errors must not burn the budget")
}

func TestExecutor_Execute_HonorsContextCancellation(t *testing.T) {
	cfg := &Config{
		MaxRetries:    5,
		InitialDelay:  time.Hour,
		MaxDelay:      time.Hour,
		BackoffFactor: 2.0,
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- NewExecutor(cfg, nil).Execute(ctx, func(context.Context) error {
			return errors.New("nope")
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("executor kept waiting after cancellation")
	}
}

func TestExecutor_Delay_BacksOffAndCaps(t *testing.T) {
	e := NewExecutor(&Config{
		MaxRetries:    10,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      40 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        false,
	}, nil)

	assert.Equal(t, 10*time.Millisecond, e.Delay(1))
	assert.Equal(t, 20*time.Millisecond, e.Delay(2))
	assert.Equal(t, 40*time.Millisecond, e.Delay(3))
	assert.Equal(t, 40*time.Millisecond, e.Delay(8), "delay must cap at MaxDelay")
}

func TestExecutor_Delay_JitterStaysBounded(t *testing.T) {
	e := NewExecutor(&Config{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}, nil)

	for range 50 {
		d := e.Delay(1)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
