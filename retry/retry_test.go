package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		IsRetryable: func(error) bool { return true },
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := fastPolicy().Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	p := fastPolicy()
	p.IsRetryable = func(error) bool { return false }

	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextDuringBackoff(t *testing.T) {
	t.Parallel()

	p := fastPolicy()
	p.BaseDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	attempts, err := p.Do(ctx, func(context.Context) error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDelayDoublesAndCaps(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
	assert.Equal(t, 300*time.Millisecond, p.Delay(10))
}

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := Default()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.BaseDelay)
}
