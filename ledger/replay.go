package ledger

import (
	"fmt"

	"github.com/rustyeddy/tradecore/eventlog"
)

// applyEvent folds one event into a position and returns the next state.
// p is nil for events that create a position. The input is never mutated;
// the fold is pure so that replay from empty always reproduces the view.
func applyEvent(p *Position, ev eventlog.Event) (*Position, error) {
	switch ev.Type {
	case eventlog.EventOpen, eventlog.EventReconcileOpen:
		if p != nil {
			return nil, fmt.Errorf("position already exists")
		}
		if ev.Payload.Quantity <= 0 {
			return nil, fmt.Errorf("open with non-positive quantity %v", ev.Payload.Quantity)
		}
		if !ev.Payload.Side.Valid() {
			return nil, fmt.Errorf("open with invalid side %q", ev.Payload.Side)
		}
		return &Position{
			ID:           ev.PositionID,
			Symbol:       ev.Payload.Symbol,
			Side:         ev.Payload.Side,
			Quantity:     ev.Payload.Quantity,
			EntryPrice:   ev.Payload.Price,
			Status:       StatusOpen,
			OpenedAt:     ev.CreatedAt,
			External:     ev.Payload.External,
			ManualReview: ev.Payload.ManualReview,
		}, nil

	case eventlog.EventAdjust:
		if p == nil {
			return nil, fmt.Errorf("adjust on unknown position")
		}
		if p.Closed() {
			return nil, fmt.Errorf("adjust on closed position")
		}
		next := *p
		next.Quantity += ev.Payload.QuantityDelta
		if next.Quantity < 0 {
			return nil, fmt.Errorf("adjust drives quantity negative (%v)", next.Quantity)
		}
		next.Status = StatusOpen
		return &next, nil

	case eventlog.EventReconcileAdjust:
		if p == nil {
			return nil, fmt.Errorf("reconcile adjust on unknown position")
		}
		if p.Closed() {
			return nil, fmt.Errorf("reconcile adjust on closed position")
		}
		if ev.Payload.Quantity <= 0 {
			return nil, fmt.Errorf("reconcile adjust to non-positive quantity %v", ev.Payload.Quantity)
		}
		next := *p
		next.Quantity = ev.Payload.Quantity
		next.Status = StatusOpen
		return &next, nil

	case eventlog.EventClose, eventlog.EventReconcileClose:
		if p == nil {
			return nil, fmt.Errorf("close on unknown position")
		}
		if p.Closed() {
			return nil, fmt.Errorf("close on closed position")
		}
		next := *p
		next.Status = StatusClosed
		closedAt := ev.CreatedAt
		next.ClosedAt = &closedAt
		next.ExitPrice = ev.Payload.ExitPrice
		next.RealizedPnL = ev.Payload.RealizedPnL
		next.CloseReason = ev.Payload.Reason
		if ev.Payload.ManualReview {
			next.ManualReview = true
		}
		return &next, nil
	}

	return nil, fmt.Errorf("unknown event type %q", ev.Type)
}

// Replay folds an ordered event sequence from empty state. It returns the
// materialized view, the highest event ID seen, and a CorruptionError if
// the sequence violates monotonic IDs or any fold step fails.
func Replay(events []eventlog.Event) (map[string]*Position, int64, error) {
	view := make(map[string]*Position)
	var last int64
	if err := replayInto(view, &last, events); err != nil {
		return nil, 0, err
	}
	return view, last, nil
}

func replayInto(view map[string]*Position, lastID *int64, events []eventlog.Event) error {
	for _, ev := range events {
		if ev.ID <= *lastID {
			return &CorruptionError{
				EventID:    ev.ID,
				PositionID: ev.PositionID,
				Reason:     fmt.Sprintf("event id not increasing (last %d)", *lastID),
			}
		}
		*lastID = ev.ID

		var cur *Position
		if existing, ok := view[ev.PositionID]; ok {
			c := *existing
			cur = &c
		}
		next, err := applyEvent(cur, ev)
		if err != nil {
			return &CorruptionError{EventID: ev.ID, PositionID: ev.PositionID, Reason: err.Error()}
		}
		view[ev.PositionID] = next
	}
	return nil
}
