// Package ledger is the authoritative, crash-recoverable record of trading
// positions. Positions are never mutated in place: every change is an
// appended event, and the materialized view is a pure fold of the log.
package ledger

import (
	"time"

	"github.com/rustyeddy/tradecore/market"
)

// Status is the lifecycle state of a position. CLOSING and RECONCILING are
// transient, in-memory markers while an operation is in flight; the event
// fold only ever produces OPEN or CLOSED.
type Status string

const (
	StatusOpen        Status = "OPEN"
	StatusClosing     Status = "CLOSING"
	StatusClosed      Status = "CLOSED"
	StatusReconciling Status = "RECONCILING"
)

// Position is the materialized state of one trade. Owned exclusively by
// the Ledger; callers receive copies.
type Position struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Side       market.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	EntryPrice float64     `json:"entry_price"`
	Status     Status      `json:"status"`
	OpenedAt   time.Time   `json:"opened_at"`

	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	ExitPrice   float64    `json:"exit_price,omitempty"`
	RealizedPnL *float64   `json:"realized_pnl,omitempty"` // nil when unknown (untracked close)
	CloseReason string     `json:"close_reason,omitempty"`

	// External marks positions discovered on the exchange with no local
	// counterpart, opened by reconciliation.
	External bool `json:"external,omitempty"`
	// ManualReview flags positions whose realized P/L could not be
	// computed and needs an operator's eye.
	ManualReview bool `json:"manual_review,omitempty"`
}

// PnLAt returns the realized P/L of closing the full position at exit:
// (exit - entry) * quantity * direction sign.
func (p Position) PnLAt(exit float64) float64 {
	return (exit - p.EntryPrice) * p.Quantity * p.Side.Sign()
}

// Closed reports whether the position reached its terminal state.
func (p Position) Closed() bool {
	return p.Status == StatusClosed
}
