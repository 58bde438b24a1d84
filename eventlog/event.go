package eventlog

import (
	"time"

	"github.com/rustyeddy/tradecore/market"
)

// EventType classifies a position lifecycle event. RECONCILE_* events are
// appended by reconciliation only; every correction leaves an audit trail.
type EventType string

const (
	EventOpen            EventType = "OPEN"
	EventAdjust          EventType = "ADJUST"
	EventClose           EventType = "CLOSE"
	EventReconcileAdjust EventType = "RECONCILE_ADJUST"
	EventReconcileClose  EventType = "RECONCILE_CLOSE"
	EventReconcileOpen   EventType = "RECONCILE_OPEN"
)

// Event is one immutable entry in the position event log. IDs are assigned
// by the log on append and are strictly increasing across all positions.
type Event struct {
	ID         int64     `db:"event_id" json:"event_id"`
	PositionID string    `db:"position_id" json:"position_id"`
	Type       EventType `db:"type" json:"type"`
	Payload    Payload   `json:"payload"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Payload carries the event-type-specific fields. Unused fields stay zero
// and are omitted from the stored JSON.
type Payload struct {
	Symbol        string      `json:"symbol,omitempty"`
	Side          market.Side `json:"side,omitempty"`
	Quantity      float64     `json:"quantity,omitempty"`       // absolute quantity (OPEN, RECONCILE_ADJUST, RECONCILE_OPEN)
	QuantityDelta float64     `json:"quantity_delta,omitempty"` // signed delta (ADJUST)
	Price         float64     `json:"price,omitempty"`
	ExitPrice     float64     `json:"exit_price,omitempty"`
	RealizedPnL   *float64    `json:"realized_pnl,omitempty"` // nil when unknown (untracked close)
	Reason        string      `json:"reason,omitempty"`
	External      bool        `json:"external,omitempty"`
	ManualReview  bool        `json:"manual_review,omitempty"`
}
