package market

import "fmt"

// Side is the direction of a position or order.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Sign returns +1 for long exposure and -1 for short exposure.
// Realized P/L is (exit - entry) * quantity * Sign().
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

func (s Side) Valid() bool {
	return s == Long || s == Short
}

// ParseSide normalizes a side string ("long", "LONG", "buy" → Long).
func ParseSide(v string) (Side, error) {
	switch v {
	case "LONG", "long", "buy", "BUY":
		return Long, nil
	case "SHORT", "short", "sell", "SELL":
		return Short, nil
	}
	return "", fmt.Errorf("unknown side %q", v)
}
