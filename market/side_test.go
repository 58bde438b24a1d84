package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSide(t *testing.T) {
	t.Parallel()

	assert.True(t, Long.Valid())
	assert.True(t, Short.Valid())
	assert.False(t, Side("DIAGONAL").Valid())

	assert.Equal(t, 1.0, Long.Sign())
	assert.Equal(t, -1.0, Short.Sign())
}

func TestParseSide(t *testing.T) {
	t.Parallel()

	s, err := ParseSide("long")
	assert.NoError(t, err)
	assert.Equal(t, Long, s)

	s, err = ParseSide("SHORT")
	assert.NoError(t, err)
	assert.Equal(t, Short, s)

	_, err = ParseSide("up")
	assert.Error(t, err)
}

func TestTickerMid(t *testing.T) {
	t.Parallel()

	tk := Ticker{Bid: 100, Ask: 102}
	assert.InDelta(t, 101, tk.Mid(), 1e-9)
}

func TestIndexSnapshot(t *testing.T) {
	t.Parallel()

	idx := IndexSnapshot([]PositionSnapshot{
		{Symbol: "BTC/USDT", Side: Long, Quantity: 1, Price: 50000},
		{Symbol: "BTC/USDT", Side: Long, Quantity: 0.5, Price: 50000},
		{Symbol: "ETH/USDT", Side: Short, Quantity: 2, Price: 3000},
	})

	assert.Len(t, idx, 2)
	assert.InDelta(t, 1.5, idx[SnapshotKey{Symbol: "BTC/USDT", Side: Long}].Quantity, 1e-9)
	assert.InDelta(t, 2, idx[SnapshotKey{Symbol: "ETH/USDT", Side: Short}].Quantity, 1e-9)
}
