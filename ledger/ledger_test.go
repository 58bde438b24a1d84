package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/tradecore/eventlog"
	"github.com/rustyeddy/tradecore/market"
)

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *eventlog.Memory) {
	t.Helper()

	log := eventlog.NewMemory()
	l, err := New(context.Background(), log, opts...)
	assert.NoError(t, err)
	return l, log
}

// recordingExecutor captures orders and optionally fails them.
type recordingExecutor struct {
	mu     sync.Mutex
	orders []market.OrderRequest
	err    error
}

func (e *recordingExecutor) PlaceOrder(_ context.Context, req market.OrderRequest) (market.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return market.OrderResult{}, e.err
	}
	e.orders = append(e.orders, req)
	return market.OrderResult{OrderID: fmt.Sprintf("o-%d", len(e.orders))}, nil
}

func TestOpenAdjustCloseLifecycle(t *testing.T) {
	t.Parallel()

	l, log := newTestLedger(t)
	ctx := context.Background()

	pid, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 0.1, 50000)
	assert.NoError(t, err)
	assert.NotEmpty(t, pid)

	p, ok := l.GetPosition(pid)
	assert.True(t, ok)
	assert.Equal(t, StatusOpen, p.Status)
	assert.InDelta(t, 0.1, p.Quantity, 1e-9)
	assert.InDelta(t, 50000, p.EntryPrice, 1e-9)

	pnl, err := l.ClosePosition(ctx, pid, 51000)
	assert.NoError(t, err)
	assert.InDelta(t, 100.0, pnl, 1e-9)

	p, ok = l.GetPosition(pid)
	assert.True(t, ok)
	assert.Equal(t, StatusClosed, p.Status)
	assert.NotNil(t, p.ClosedAt)
	if assert.NotNil(t, p.RealizedPnL) {
		assert.InDelta(t, 100.0, *p.RealizedPnL, 1e-9)
	}

	events, err := log.Events(ctx)
	assert.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, eventlog.EventOpen, events[0].Type)
	assert.Equal(t, eventlog.EventClose, events[1].Type)
}

func TestShortPositionPnL(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()

	pid, err := l.OpenPosition(ctx, "ETH/USDT", market.Short, 2, 3000)
	assert.NoError(t, err)

	// Shorts profit when price falls.
	pnl, err := l.ClosePosition(ctx, pid, 2900)
	assert.NoError(t, err)
	assert.InDelta(t, 200.0, pnl, 1e-9)
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	l, log := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		symbol   string
		side     market.Side
		quantity float64
		price    float64
	}{
		{"empty symbol", "", market.Long, 1, 100},
		{"bad side", "BTC/USDT", "DIAGONAL", 1, 100},
		{"zero quantity", "BTC/USDT", market.Long, 0, 100},
		{"negative quantity", "BTC/USDT", market.Long, -1, 100},
		{"zero price", "BTC/USDT", market.Long, 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.OpenPosition(ctx, tc.symbol, tc.side, tc.quantity, tc.price)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}

	// Rejected opens leave no events behind.
	events, err := log.Events(ctx)
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestAdjustPosition(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()

	pid, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
	assert.NoError(t, err)

	p, err := l.AdjustPosition(ctx, pid, 0.5, 50500)
	assert.NoError(t, err)
	assert.InDelta(t, 1.5, p.Quantity, 1e-9)
	// Adjustments never touch the entry price.
	assert.InDelta(t, 50000, p.EntryPrice, 1e-9)

	p, err = l.AdjustPosition(ctx, pid, -1.5, 0)
	assert.NoError(t, err)
	assert.InDelta(t, 0, p.Quantity, 1e-9)
	assert.Equal(t, StatusOpen, p.Status)
}

func TestAdjustErrors(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.AdjustPosition(ctx, "no-such-id", 1, 0)
	assert.ErrorIs(t, err, ErrUnknownPosition)

	pid, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
	assert.NoError(t, err)

	_, err = l.AdjustPosition(ctx, pid, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = l.AdjustPosition(ctx, pid, -2, 0)
	assert.ErrorIs(t, err, ErrNegativeQuantity)

	_, err = l.ClosePosition(ctx, pid, 50000)
	assert.NoError(t, err)

	_, err = l.AdjustPosition(ctx, pid, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	l, log := newTestLedger(t)
	ctx := context.Background()

	pid, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 0.1, 50000)
	assert.NoError(t, err)

	pnl1, err := l.ClosePosition(ctx, pid, 51000)
	assert.NoError(t, err)

	// Second close returns the stored result and appends nothing.
	pnl2, err := l.ClosePosition(ctx, pid, 99999)
	assert.NoError(t, err)
	assert.InDelta(t, pnl1, pnl2, 1e-9)

	events, err := log.Events(ctx)
	assert.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCloseErrors(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.ClosePosition(ctx, "no-such-id", 100)
	assert.ErrorIs(t, err, ErrUnknownPosition)

	pid, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
	assert.NoError(t, err)

	_, err = l.ClosePosition(ctx, pid, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = l.ClosePosition(ctx, pid, -5)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestExecutorReceivesOrders(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{}
	l, _ := newTestLedger(t, WithExecutor(exec))
	ctx := context.Background()

	pid, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
	assert.NoError(t, err)
	_, err = l.AdjustPosition(ctx, pid, -0.5, 0)
	assert.NoError(t, err)
	_, err = l.ClosePosition(ctx, pid, 51000)
	assert.NoError(t, err)

	assert.Len(t, exec.orders, 3)
	assert.Equal(t, market.Long, exec.orders[0].Side)
	// Shrinking and closing a long both sell.
	assert.Equal(t, market.Short, exec.orders[1].Side)
	assert.InDelta(t, 0.5, exec.orders[1].Quantity, 1e-9)
	assert.Equal(t, market.Short, exec.orders[2].Side)
	assert.InDelta(t, 0.5, exec.orders[2].Quantity, 1e-9)
}

func TestOpenCompensatesFailedExecution(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{err: errors.New("exchange rejected")}
	l, log := newTestLedger(t, WithExecutor(exec))
	ctx := context.Background()

	_, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
	assert.Error(t, err)

	// The log tells the whole story: OPEN followed by a compensating CLOSE.
	events, lerr := log.Events(ctx)
	assert.NoError(t, lerr)
	assert.Len(t, events, 2)
	assert.Equal(t, eventlog.EventOpen, events[0].Type)
	assert.Equal(t, eventlog.EventClose, events[1].Type)
	assert.Equal(t, "execution-failed", events[1].Payload.Reason)

	p, ok := l.GetPosition(events[0].PositionID)
	assert.True(t, ok)
	assert.Equal(t, StatusClosed, p.Status)
	assert.Empty(t, l.ListOpenPositions())
}

func TestAdjustFailedExecutionLeavesNoTrace(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{}
	l, log := newTestLedger(t, WithExecutor(exec))
	ctx := context.Background()

	pid, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
	assert.NoError(t, err)

	exec.err = errors.New("exchange rejected")
	_, err = l.AdjustPosition(ctx, pid, 1, 0)
	assert.Error(t, err)

	p, ok := l.GetPosition(pid)
	assert.True(t, ok)
	assert.InDelta(t, 1, p.Quantity, 1e-9)

	events, lerr := log.Events(ctx)
	assert.NoError(t, lerr)
	assert.Len(t, events, 1)
}

func TestCloseFailedExecutionRevertsToOpen(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{}
	l, log := newTestLedger(t, WithExecutor(exec))
	ctx := context.Background()

	pid, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
	assert.NoError(t, err)

	exec.err = errors.New("exchange rejected")
	_, err = l.ClosePosition(ctx, pid, 51000)
	assert.Error(t, err)

	p, ok := l.GetPosition(pid)
	assert.True(t, ok)
	assert.Equal(t, StatusOpen, p.Status)

	events, lerr := log.Events(ctx)
	assert.NoError(t, lerr)
	assert.Len(t, events, 1)
}

func TestReplayReproducesView(t *testing.T) {
	t.Parallel()

	l, log := newTestLedger(t)
	ctx := context.Background()

	pid1, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
	assert.NoError(t, err)
	pid2, err := l.OpenPosition(ctx, "ETH/USDT", market.Short, 3, 3000)
	assert.NoError(t, err)
	_, err = l.AdjustPosition(ctx, pid1, 0.5, 50200)
	assert.NoError(t, err)
	_, err = l.ClosePosition(ctx, pid2, 2950)
	assert.NoError(t, err)

	// A fresh ledger over the same log must land on the identical view.
	restored, err := New(ctx, log)
	assert.NoError(t, err)

	for _, pid := range []string{pid1, pid2} {
		want, ok := l.GetPosition(pid)
		assert.True(t, ok)
		got, ok := restored.GetPosition(pid)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestCheckpointRecoveryMatchesFullReplay(t *testing.T) {
	t.Parallel()

	log := eventlog.NewMemory()
	ctx := context.Background()

	l, err := New(ctx, log, WithCheckpoints(log))
	assert.NoError(t, err)

	pid1, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
	assert.NoError(t, err)
	assert.NoError(t, l.Checkpoint(ctx))

	// Events past the checkpoint form the tail.
	pid2, err := l.OpenPosition(ctx, "ETH/USDT", market.Long, 2, 3000)
	assert.NoError(t, err)
	_, err = l.AdjustPosition(ctx, pid1, 1, 0)
	assert.NoError(t, err)

	restored, err := New(ctx, log, WithCheckpoints(log))
	assert.NoError(t, err)

	for _, pid := range []string{pid1, pid2} {
		want, ok := l.GetPosition(pid)
		assert.True(t, ok)
		got, ok := restored.GetPosition(pid)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestRecoveryRefusesCorruptLog(t *testing.T) {
	t.Parallel()

	log := eventlog.NewMemory()
	ctx := context.Background()

	// An adjust for a position that was never opened cannot fold.
	_, err := log.Append(ctx, eventlog.Event{
		PositionID: "ghost",
		Type:       eventlog.EventAdjust,
		Payload:    eventlog.Payload{QuantityDelta: 1},
	})
	assert.NoError(t, err)

	_, err = New(ctx, log)
	assert.ErrorIs(t, err, ErrStateCorruption)

	var ce *CorruptionError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "ghost", ce.PositionID)
}

func TestListOpenPositionsOrdered(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	l, _ := newTestLedger(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	ctx := context.Background()

	var pids []string
	for i := 0; i < 3; i++ {
		pid, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
		assert.NoError(t, err)
		pids = append(pids, pid)
	}

	open := l.ListOpenPositions()
	assert.Len(t, open, 3)
	for i, p := range open {
		assert.Equal(t, pids[i], p.ID)
	}

	_, err := l.ClosePosition(ctx, pids[1], 51000)
	assert.NoError(t, err)
	assert.Len(t, l.ListOpenPositions(), 2)
}

func TestConcurrentOperationsStaySerialized(t *testing.T) {
	t.Parallel()

	l, log := newTestLedger(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	pids := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pid, err := l.OpenPosition(ctx, "BTC/USDT", market.Long, 1, 50000)
			assert.NoError(t, err)
			_, err = l.AdjustPosition(ctx, pid, 1, 0)
			assert.NoError(t, err)
			pids[i] = pid
		}(i)
	}
	wg.Wait()

	// Every event got a unique, strictly increasing id and the log still
	// folds cleanly from empty.
	events, err := log.Events(ctx)
	assert.NoError(t, err)
	assert.Len(t, events, workers*2)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].ID, events[i-1].ID)
	}

	view, _, err := Replay(events)
	assert.NoError(t, err)
	assert.Len(t, view, workers)
	for _, pid := range pids {
		p, ok := l.GetPosition(pid)
		assert.True(t, ok)
		assert.InDelta(t, 2, p.Quantity, 1e-9)
		assert.Equal(t, *view[pid], p)
	}
}

func TestPnLAt(t *testing.T) {
	t.Parallel()

	long := Position{Side: market.Long, Quantity: 2, EntryPrice: 100}
	assert.InDelta(t, 20, long.PnLAt(110), 1e-9)
	assert.InDelta(t, -20, long.PnLAt(90), 1e-9)

	short := Position{Side: market.Short, Quantity: 2, EntryPrice: 100}
	assert.InDelta(t, -20, short.PnLAt(110), 1e-9)
	assert.InDelta(t, 20, short.PnLAt(90), 1e-9)
}
