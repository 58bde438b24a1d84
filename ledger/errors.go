package ledger

import (
	"errors"
	"fmt"
)

// Validation errors: returned immediately, never retried.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrUnknownPosition  = errors.New("unknown position")
	ErrNegativeQuantity = errors.New("negative quantity")
	ErrInvalidState     = errors.New("invalid state")
)

// ErrUnknownPnL marks a closed position whose realized P/L could not be
// computed, typically an untracked close found by reconciliation. The
// position record carries the manual-review flag.
var ErrUnknownPnL = errors.New("realized pnl unknown")

// ErrStateCorruption is the one unrecoverable condition: the replay
// invariant was violated. The ledger refuses all further mutations until
// an operator intervenes. Deliberately fail-safe, never fail-silent.
var ErrStateCorruption = errors.New("state corruption")

// CorruptionError carries enough context to reconstruct the causal
// sequence behind a halt.
type CorruptionError struct {
	EventID    int64
	PositionID string
	Reason     string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("state corruption at event %d (position %s): %s",
		e.EventID, e.PositionID, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrStateCorruption }
