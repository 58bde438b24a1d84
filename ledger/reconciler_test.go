package ledger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/tradecore/market"
)

type staticSnapshot []market.PositionSnapshot

func (s staticSnapshot) OpenPositions(context.Context) ([]market.PositionSnapshot, error) {
	return s, nil
}

func TestReconcilerRunOnce(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 2, 50000)
	assert.NoError(t, err)

	src := staticSnapshot{
		{Symbol: "BTC/USDT", Side: market.Long, Quantity: 1, Price: 50000},
	}
	r := NewReconciler(l, src, 0, zerolog.Nop())

	disc, err := r.RunOnce(ctx)
	assert.NoError(t, err)
	assert.Len(t, disc, 1)

	lastRun, lastDisc, lastErr := r.LastReport()
	assert.False(t, lastRun.IsZero())
	assert.Len(t, lastDisc, 1)
	assert.NoError(t, lastErr)
}
