package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"
)

// ErrRateLimitExceeded is returned when a call cannot obtain a rate-limit
// slot within the configured wait. Retrying after a delay is the caller's
// responsibility; the gateway does not retry rate-limit rejections.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TransientError surfaces once the retry budget is exhausted on a
// transient failure. It carries the attempt count and the last cause.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError fails immediately with no retry: invalid parameters,
// insufficient balance, unknown symbol and the like.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent failure: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

type classifiedError struct {
	err       error
	transient bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// MarkTransient tags an error as retryable: timeouts, 5xx responses,
// exchange-reported rate limits.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, transient: true}
}

// MarkPermanent tags an error as not worth retrying.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, transient: false}
}

// IsTransient reports whether a retry is expected to help. Unclassified
// errors are treated as permanent so that bad requests fail fast.
func IsTransient(err error) bool {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	// An open breaker means the exchange is unhealthy, not that the
	// request is wrong.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	return false
}
