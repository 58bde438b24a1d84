package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/tradecore/eventlog"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/pkg/id"
)

// quantities within this tolerance are considered equal
const qtyEpsilon = 1e-9

type DiscrepancyKind string

const (
	DiscrepancyQuantityMismatch DiscrepancyKind = "quantity-mismatch"
	DiscrepancyUntrackedClose   DiscrepancyKind = "untracked-close"
	DiscrepancyExternalOpen     DiscrepancyKind = "external-open"
)

// Discrepancy is one detected divergence between local state and the
// exchange snapshot, together with the corrective event that resolved it.
// Non-fatal: auto-resolved, always logged, never silent.
type Discrepancy struct {
	Kind             DiscrepancyKind `json:"kind"`
	PositionID       string          `json:"position_id"`
	Symbol           string          `json:"symbol"`
	Side             market.Side     `json:"side"`
	LocalQuantity    float64         `json:"local_quantity"`
	ExchangeQuantity float64         `json:"exchange_quantity"`
	EventID          int64           `json:"event_id"`
	ObservedAt       time.Time       `json:"observed_at"`
}

// ReconcileWithExchange compares every open local position against the
// exchange's snapshot and appends corrective events until local state
// matches. The exchange is the source of truth for quantity. Mutations
// arriving during reconciliation wait; corrections never interleave.
func (l *Ledger) ReconcileWithExchange(ctx context.Context, snapshot []market.PositionSnapshot) ([]Discrepancy, error) {
	if err := l.checkHalted(); err != nil {
		return nil, err
	}

	l.opGate.Lock()
	defer l.opGate.Unlock()

	idx := market.IndexSnapshot(snapshot)
	open := l.ListOpenPositions()

	// Group local positions by (symbol, side), oldest first, so each
	// snapshot entry is allocated across its local counterparts.
	groups := make(map[market.SnapshotKey][]Position)
	for _, p := range open {
		key := market.SnapshotKey{Symbol: p.Symbol, Side: p.Side}
		groups[key] = append(groups[key], p)
	}

	keys := make([]market.SnapshotKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol == keys[j].Symbol {
			return keys[i].Side < keys[j].Side
		}
		return keys[i].Symbol < keys[j].Symbol
	})

	var out []Discrepancy

	for _, key := range keys {
		group := groups[key]
		remaining := idx[key].Quantity
		lastAllocated := -1

		for i, p := range group {
			l.setStatus(p.ID, StatusReconciling)
			allocated := p.Quantity
			if remaining < allocated {
				allocated = remaining
			}
			remaining -= allocated

			switch {
			case allocated <= qtyEpsilon:
				d, err := l.reconcileClose(ctx, p)
				if err != nil {
					l.setStatus(p.ID, StatusOpen)
					return out, err
				}
				out = append(out, d)

			case diff(allocated, p.Quantity) > qtyEpsilon:
				d, err := l.reconcileAdjust(ctx, p, allocated)
				if err != nil {
					l.setStatus(p.ID, StatusOpen)
					return out, err
				}
				out = append(out, d)
				lastAllocated = i

			default:
				l.setStatus(p.ID, StatusOpen)
				lastAllocated = i
			}
		}

		// Exchange reports more than all local positions together: grow
		// the most recent surviving position to match.
		if remaining > qtyEpsilon && lastAllocated >= 0 {
			p, _ := l.GetPosition(group[lastAllocated].ID)
			d, err := l.reconcileAdjust(ctx, p, p.Quantity+remaining)
			if err != nil {
				return out, err
			}
			d.LocalQuantity = group[lastAllocated].Quantity
			out = append(out, d)
			remaining = 0
		}

		// No local position could absorb the remainder.
		if remaining > qtyEpsilon {
			d, err := l.reconcileOpen(ctx, key, remaining, idx[key].Price)
			if err != nil {
				return out, err
			}
			out = append(out, d)
		}
	}

	// Snapshot entries with no local counterpart at all.
	snapKeys := make([]market.SnapshotKey, 0, len(idx))
	for key := range idx {
		if _, seen := groups[key]; !seen {
			snapKeys = append(snapKeys, key)
		}
	}
	sort.Slice(snapKeys, func(i, j int) bool {
		if snapKeys[i].Symbol == snapKeys[j].Symbol {
			return snapKeys[i].Side < snapKeys[j].Side
		}
		return snapKeys[i].Symbol < snapKeys[j].Symbol
	})
	for _, key := range snapKeys {
		entry := idx[key]
		if entry.Quantity <= qtyEpsilon {
			continue
		}
		d, err := l.reconcileOpen(ctx, key, entry.Quantity, entry.Price)
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}

	if len(out) > 0 {
		l.logger.Warn().Int("discrepancies", len(out)).Msg("reconciliation corrected drift")
	}
	return out, nil
}

// reconcileClose closes a position the exchange no longer reports.
// Realized P/L is unknown; the position is flagged for manual review.
func (l *Ledger) reconcileClose(ctx context.Context, p Position) (Discrepancy, error) {
	ev, err := l.log.Append(ctx, eventlog.Event{
		PositionID: p.ID,
		Type:       eventlog.EventReconcileClose,
		Payload: eventlog.Payload{
			Reason:       "untracked-close",
			ManualReview: true,
		},
		CreatedAt: l.now(),
	})
	if err != nil {
		return Discrepancy{}, fmt.Errorf("append reconcile close: %w", err)
	}
	if _, err := l.commit(ev); err != nil {
		return Discrepancy{}, err
	}

	l.logger.Warn().Str("position_id", p.ID).Int64("event_id", ev.ID).
		Str("symbol", p.Symbol).Str("side", string(p.Side)).
		Float64("local_quantity", p.Quantity).
		Msg("position closed on exchange but open locally, flagged for review")

	return Discrepancy{
		Kind:          DiscrepancyUntrackedClose,
		PositionID:    p.ID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		LocalQuantity: p.Quantity,
		EventID:       ev.ID,
		ObservedAt:    ev.CreatedAt,
	}, nil
}

// reconcileAdjust sets a position's quantity to the exchange's value.
func (l *Ledger) reconcileAdjust(ctx context.Context, p Position, quantity float64) (Discrepancy, error) {
	ev, err := l.log.Append(ctx, eventlog.Event{
		PositionID: p.ID,
		Type:       eventlog.EventReconcileAdjust,
		Payload: eventlog.Payload{
			Quantity: quantity,
			Reason:   "exchange-quantity",
		},
		CreatedAt: l.now(),
	})
	if err != nil {
		return Discrepancy{}, fmt.Errorf("append reconcile adjust: %w", err)
	}
	if _, err := l.commit(ev); err != nil {
		return Discrepancy{}, err
	}

	l.logger.Warn().Str("position_id", p.ID).Int64("event_id", ev.ID).
		Str("symbol", p.Symbol).Str("side", string(p.Side)).
		Float64("local_quantity", p.Quantity).Float64("exchange_quantity", quantity).
		Msg("position quantity corrected to exchange value")

	return Discrepancy{
		Kind:             DiscrepancyQuantityMismatch,
		PositionID:       p.ID,
		Symbol:           p.Symbol,
		Side:             p.Side,
		LocalQuantity:    p.Quantity,
		ExchangeQuantity: quantity,
		EventID:          ev.ID,
		ObservedAt:       ev.CreatedAt,
	}, nil
}

// reconcileOpen tracks a position the exchange reports but the ledger
// does not, tagged external.
func (l *Ledger) reconcileOpen(ctx context.Context, key market.SnapshotKey, quantity, price float64) (Discrepancy, error) {
	positionID := id.New()
	ev, err := l.log.Append(ctx, eventlog.Event{
		PositionID: positionID,
		Type:       eventlog.EventReconcileOpen,
		Payload: eventlog.Payload{
			Symbol:       key.Symbol,
			Side:         key.Side,
			Quantity:     quantity,
			Price:        price,
			Reason:       "external-open",
			External:     true,
			ManualReview: true,
		},
		CreatedAt: l.now(),
	})
	if err != nil {
		return Discrepancy{}, fmt.Errorf("append reconcile open: %w", err)
	}
	if _, err := l.commit(ev); err != nil {
		return Discrepancy{}, err
	}

	l.logger.Warn().Str("position_id", positionID).Int64("event_id", ev.ID).
		Str("symbol", key.Symbol).Str("side", string(key.Side)).
		Float64("exchange_quantity", quantity).
		Msg("untracked exchange position now recorded, tagged external")

	return Discrepancy{
		Kind:             DiscrepancyExternalOpen,
		PositionID:       positionID,
		Symbol:           key.Symbol,
		Side:             key.Side,
		ExchangeQuantity: quantity,
		EventID:          ev.ID,
		ObservedAt:       ev.CreatedAt,
	}, nil
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
