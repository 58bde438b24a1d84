package market

// PositionSnapshot is one entry of the exchange's authoritative view of
// open positions, as returned by the position-snapshot query.
type PositionSnapshot struct {
	Symbol   string
	Side     Side
	Quantity float64
	Price    float64
}

// SnapshotKey identifies a snapshot entry. The exchange reports at most
// one net position per (symbol, side).
type SnapshotKey struct {
	Symbol string
	Side   Side
}

// IndexSnapshot keys snapshot entries by (symbol, side) for reconciliation.
// The exchange reports at most one net position per key; should a snapshot
// repeat a key anyway, quantities are summed.
func IndexSnapshot(entries []PositionSnapshot) map[SnapshotKey]PositionSnapshot {
	idx := make(map[SnapshotKey]PositionSnapshot, len(entries))
	for _, e := range entries {
		key := SnapshotKey{Symbol: e.Symbol, Side: e.Side}
		if prev, ok := idx[key]; ok {
			e.Quantity += prev.Quantity
			e.Price = prev.Price
		}
		idx[key] = e
	}
	return idx
}
