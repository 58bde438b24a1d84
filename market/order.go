package market

import "time"

// OrderRequest asks the exchange to fill quantity at market.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Quantity float64
}

// OrderResult is the exchange's fill confirmation.
type OrderResult struct {
	OrderID  string
	Symbol   string
	Side     Side
	Quantity float64
	Price    float64
	Time     time.Time
}
