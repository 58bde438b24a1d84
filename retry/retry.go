// Package retry provides a bounded retry policy with exponential backoff,
// decoupled from any particular outbound call.
package retry

import (
	"context"
	"time"
)

// Policy controls how an operation is retried. The zero value is usable and
// behaves like Default().
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the backoff before the second attempt; each further
	// attempt doubles it, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// IsRetryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	IsRetryable func(error) bool
}

// Default matches the exchange-call discipline: three attempts with
// exponential backoff starting at 250ms.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 250 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

// Delay returns the backoff applied after the given attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, a non-retryable error occurs, the attempt
// budget is exhausted, or ctx is done. It returns the number of attempts
// made and the last error. The caller's invocation does not return until
// all attempts are spent or one succeeds.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	p = p.normalized()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return attempt, err
		}
		if attempt == p.MaxAttempts {
			return attempt, err
		}

		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
	return p.MaxAttempts, err
}
