package market

import "time"

// Ticker is a point-in-time quote for a symbol.
type Ticker struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	Time   time.Time
}

// Mid returns the bid/ask midpoint.
func (t Ticker) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Tick is a price update from the market-data collaborator. The ledger
// uses ticks only to track price freshness for staleness diagnosis.
type Tick struct {
	Symbol string
	Price  float64
	Time   time.Time
}
