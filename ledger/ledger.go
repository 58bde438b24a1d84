package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradecore/eventlog"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/pkg/id"
)

// Executor places orders on the exchange as part of ledger operations.
// Satisfied by *gateway.Gateway.
type Executor interface {
	PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error)
}

// Ledger materializes positions from the event log and is the only
// component allowed to mutate them. Mutations are serialized per position
// id; reconciliation and checkpoints quiesce all mutations.
type Ledger struct {
	log    eventlog.Log
	cps    eventlog.CheckpointStore // optional
	exec   Executor                 // optional; nil means record-only
	logger zerolog.Logger
	now    func() time.Time

	staleAfter time.Duration

	// opGate: mutations hold the read side, reconcile/checkpoint the
	// write side, so corrections never interleave with mutations.
	opGate sync.RWMutex

	mu          sync.RWMutex
	positions   map[string]*Position
	lastEventID int64
	marks       map[string]time.Time // last price refresh per symbol
	haltErr     error

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

type Option func(*Ledger)

// WithExecutor wires the exchange gateway so that open/adjust/close also
// execute on the exchange.
func WithExecutor(exec Executor) Option {
	return func(l *Ledger) { l.exec = exec }
}

// WithCheckpoints enables materialized-view checkpoints; recovery then
// replays only the log tail.
func WithCheckpoints(store eventlog.CheckpointStore) Option {
	return func(l *Ledger) { l.cps = store }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithStaleAfter sets the threshold used by SelfDiagnose to flag open
// positions with no price refresh.
func WithStaleAfter(d time.Duration) Option {
	return func(l *Ledger) { l.staleAfter = d }
}

// WithClock fixes the ledger's notion of time for reproducible tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New builds a ledger by recovering state from the event log: the latest
// checkpoint (if a store is configured) plus a replay of the tail. A fold
// failure is state corruption and New refuses to start.
func New(ctx context.Context, log eventlog.Log, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		log:        log,
		logger:     zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
		staleAfter: time.Hour,
		positions:  make(map[string]*Position),
		marks:      make(map[string]time.Time),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.recover(ctx); err != nil {
		return nil, err
	}

	l.logger.Info().Int("positions", len(l.positions)).
		Int64("last_event_id", l.lastEventID).
		Msg("ledger recovered")
	return l, nil
}

type checkpointState struct {
	Positions map[string]*Position `json:"positions"`
}

func (l *Ledger) recover(ctx context.Context) error {
	if l.cps != nil {
		cp, ok, err := l.cps.LatestCheckpoint(ctx)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if ok {
			var state checkpointState
			if err := json.Unmarshal(cp.State, &state); err != nil {
				return &CorruptionError{EventID: cp.LastEventID, Reason: "checkpoint state undecodable: " + err.Error()}
			}
			l.positions = state.Positions
			if l.positions == nil {
				l.positions = make(map[string]*Position)
			}
			l.lastEventID = cp.LastEventID
		}
	}

	tail, err := l.log.EventsAfter(ctx, l.lastEventID)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	return replayInto(l.positions, &l.lastEventID, tail)
}

// Halted returns the corruption error that froze the ledger, or nil.
func (l *Ledger) Halted() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.haltErr
}

func (l *Ledger) checkHalted() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.haltErr != nil {
		return l.haltErr
	}
	return nil
}

func (l *Ledger) lockFor(positionID string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	lk, ok := l.locks[positionID]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[positionID] = lk
	}
	return lk
}

// commit applies a durable event to the view. The event is already in the
// log; a fold failure here means the view and the log disagree, which is
// the unrecoverable condition.
func (l *Ledger) commit(ev eventlog.Event) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cur *Position
	if existing, ok := l.positions[ev.PositionID]; ok {
		c := *existing
		cur = &c
	}
	next, err := applyEvent(cur, ev)
	if err != nil {
		cerr := &CorruptionError{EventID: ev.ID, PositionID: ev.PositionID, Reason: err.Error()}
		l.haltErr = cerr
		l.logger.Error().Int64("event_id", ev.ID).Str("position_id", ev.PositionID).
			Str("reason", err.Error()).
			Msg("ledger halted: appended event does not fold, refusing further mutations")
		return nil, cerr
	}
	l.positions[ev.PositionID] = next
	if ev.ID > l.lastEventID {
		l.lastEventID = ev.ID
	}
	return next, nil
}

// OpenPosition appends an OPEN event, then executes on the exchange. An
// execution failure appends a compensating CLOSE so the log always tells
// the whole story.
func (l *Ledger) OpenPosition(ctx context.Context, symbol string, side market.Side, quantity, price float64) (string, error) {
	if err := l.checkHalted(); err != nil {
		return "", err
	}
	if symbol == "" {
		return "", fmt.Errorf("%w: symbol is required", ErrInvalidParameter)
	}
	if !side.Valid() {
		return "", fmt.Errorf("%w: side must be LONG or SHORT", ErrInvalidParameter)
	}
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive, got %v", ErrInvalidParameter, quantity)
	}
	if price <= 0 {
		return "", fmt.Errorf("%w: price must be positive, got %v", ErrInvalidParameter, price)
	}

	l.opGate.RLock()
	defer l.opGate.RUnlock()

	positionID := id.New()
	now := l.now()

	ev, err := l.log.Append(ctx, eventlog.Event{
		PositionID: positionID,
		Type:       eventlog.EventOpen,
		Payload: eventlog.Payload{
			Symbol:   symbol,
			Side:     side,
			Quantity: quantity,
			Price:    price,
		},
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("append open event: %w", err)
	}
	if _, err := l.commit(ev); err != nil {
		return "", err
	}

	l.logger.Info().Str("position_id", positionID).Int64("event_id", ev.ID).
		Str("symbol", symbol).Str("side", string(side)).
		Float64("quantity", quantity).Float64("price", price).
		Msg("position opened")

	if l.exec != nil {
		if _, execErr := l.exec.PlaceOrder(ctx, market.OrderRequest{
			Symbol:   symbol,
			Side:     side,
			Quantity: quantity,
		}); execErr != nil {
			if compErr := l.compensateOpen(ctx, positionID, price, execErr); compErr != nil {
				return "", compErr
			}
			return "", fmt.Errorf("execute open: %w", execErr)
		}
	}

	return positionID, nil
}

// compensateOpen closes a freshly opened position whose exchange order
// failed, so local state never claims exposure the exchange rejected.
func (l *Ledger) compensateOpen(ctx context.Context, positionID string, price float64, cause error) error {
	pnl := 0.0
	ev, err := l.log.Append(ctx, eventlog.Event{
		PositionID: positionID,
		Type:       eventlog.EventClose,
		Payload: eventlog.Payload{
			ExitPrice:   price,
			RealizedPnL: &pnl,
			Reason:      "execution-failed",
		},
		CreatedAt: l.now(),
	})
	if err != nil {
		return fmt.Errorf("append compensating close: %w", err)
	}
	if _, err := l.commit(ev); err != nil {
		return err
	}
	l.logger.Warn().Str("position_id", positionID).Int64("event_id", ev.ID).
		Err(cause).Msg("order execution failed, position closed by compensation")
	return nil
}

// AdjustPosition changes an open position's quantity by delta. A non-zero
// price refreshes the symbol's price mark. The exchange order (when an
// executor is wired) runs before the event is appended, so a failed order
// leaves no trace in local state.
func (l *Ledger) AdjustPosition(ctx context.Context, positionID string, quantityDelta, price float64) (Position, error) {
	if err := l.checkHalted(); err != nil {
		return Position{}, err
	}
	if quantityDelta == 0 {
		return Position{}, fmt.Errorf("%w: quantity delta must be non-zero", ErrInvalidParameter)
	}
	if price < 0 {
		return Position{}, fmt.Errorf("%w: price must not be negative, got %v", ErrInvalidParameter, price)
	}

	l.opGate.RLock()
	defer l.opGate.RUnlock()

	lk := l.lockFor(positionID)
	lk.Lock()
	defer lk.Unlock()

	cur, ok := l.GetPosition(positionID)
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}
	if cur.Closed() {
		return Position{}, fmt.Errorf("%w: position %s is closed", ErrInvalidState, positionID)
	}
	if cur.Quantity+quantityDelta < 0 {
		return Position{}, fmt.Errorf("%w: %v%+v would be %v",
			ErrNegativeQuantity, cur.Quantity, quantityDelta, cur.Quantity+quantityDelta)
	}

	if l.exec != nil {
		side := cur.Side
		if quantityDelta < 0 {
			side = opposite(cur.Side)
		}
		if _, err := l.exec.PlaceOrder(ctx, market.OrderRequest{
			Symbol:   cur.Symbol,
			Side:     side,
			Quantity: absFloat(quantityDelta),
		}); err != nil {
			return Position{}, fmt.Errorf("execute adjust: %w", err)
		}
	}

	ev, err := l.log.Append(ctx, eventlog.Event{
		PositionID: positionID,
		Type:       eventlog.EventAdjust,
		Payload: eventlog.Payload{
			QuantityDelta: quantityDelta,
			Price:         price,
		},
		CreatedAt: l.now(),
	})
	if err != nil {
		return Position{}, fmt.Errorf("append adjust event: %w", err)
	}
	next, err := l.commit(ev)
	if err != nil {
		return Position{}, err
	}
	if price > 0 {
		l.RefreshPrice(market.Tick{Symbol: cur.Symbol, Price: price, Time: ev.CreatedAt})
	}

	l.logger.Info().Str("position_id", positionID).Int64("event_id", ev.ID).
		Float64("delta", quantityDelta).Float64("quantity", next.Quantity).
		Msg("position adjusted")
	return *next, nil
}

// ClosePosition realizes P/L at exitPrice and appends a CLOSE event.
// Closing an already-CLOSED position is idempotent: the stored P/L is
// returned and nothing is appended. A position closed without a computable
// P/L returns ErrUnknownPnL instead of a misleading zero.
func (l *Ledger) ClosePosition(ctx context.Context, positionID string, exitPrice float64) (float64, error) {
	if err := l.checkHalted(); err != nil {
		return 0, err
	}
	if exitPrice <= 0 {
		return 0, fmt.Errorf("%w: exit price must be positive, got %v", ErrInvalidParameter, exitPrice)
	}

	l.opGate.RLock()
	defer l.opGate.RUnlock()

	lk := l.lockFor(positionID)
	lk.Lock()
	defer lk.Unlock()

	cur, ok := l.GetPosition(positionID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}
	if cur.Closed() {
		if cur.RealizedPnL != nil {
			return *cur.RealizedPnL, nil
		}
		// Closed without a computable P/L (untracked close). A plain zero
		// would read as break-even.
		return 0, fmt.Errorf("%w: position %s", ErrUnknownPnL, positionID)
	}

	pnl := cur.PnLAt(exitPrice)

	if l.exec != nil {
		// Visible as CLOSING while the closing order is in flight.
		l.setStatus(positionID, StatusClosing)
		if _, err := l.exec.PlaceOrder(ctx, market.OrderRequest{
			Symbol:   cur.Symbol,
			Side:     opposite(cur.Side),
			Quantity: cur.Quantity,
		}); err != nil {
			l.setStatus(positionID, StatusOpen)
			return 0, fmt.Errorf("execute close: %w", err)
		}
	}

	ev, err := l.log.Append(ctx, eventlog.Event{
		PositionID: positionID,
		Type:       eventlog.EventClose,
		Payload: eventlog.Payload{
			ExitPrice:   exitPrice,
			RealizedPnL: &pnl,
			Reason:      "manual-close",
		},
		CreatedAt: l.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("append close event: %w", err)
	}
	if _, err := l.commit(ev); err != nil {
		return 0, err
	}

	l.logger.Info().Str("position_id", positionID).Int64("event_id", ev.ID).
		Float64("exit_price", exitPrice).Float64("realized_pnl", pnl).
		Msg("position closed")
	return pnl, nil
}

func (l *Ledger) setStatus(positionID string, s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[positionID]; ok {
		p.Status = s
	}
}

// GetPosition returns a copy of the position's current state.
func (l *Ledger) GetPosition(positionID string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[positionID]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// ListOpenPositions returns all non-CLOSED positions ordered by open time.
func (l *Ledger) ListOpenPositions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		if !p.Closed() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// RefreshPrice records a price tick from the market-data collaborator.
// Ticks feed staleness diagnosis only; they never mutate position state.
func (l *Ledger) RefreshPrice(tick market.Tick) {
	if tick.Time.IsZero() {
		tick.Time = l.now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if tick.Time.After(l.marks[tick.Symbol]) {
		l.marks[tick.Symbol] = tick.Time
	}
}

// Checkpoint quiesces mutations and persists the materialized view so a
// restart replays only the tail.
func (l *Ledger) Checkpoint(ctx context.Context) error {
	if l.cps == nil {
		return nil
	}

	l.opGate.Lock()
	defer l.opGate.Unlock()

	l.mu.RLock()
	state, err := json.Marshal(checkpointState{Positions: l.positions})
	lastID := l.lastEventID
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if err := l.cps.SaveCheckpoint(ctx, eventlog.Checkpoint{
		LastEventID: lastID,
		State:       state,
		CreatedAt:   l.now(),
	}); err != nil {
		return err
	}
	l.logger.Info().Int64("last_event_id", lastID).Msg("checkpoint written")
	return nil
}

// Close flushes a final checkpoint and closes the event log. In-flight
// operations complete first.
func (l *Ledger) Close(ctx context.Context) error {
	if err := l.Checkpoint(ctx); err != nil {
		l.logger.Error().Err(err).Msg("final checkpoint failed")
	}
	return l.log.Close()
}

func opposite(s market.Side) market.Side {
	if s == market.Long {
		return market.Short
	}
	return market.Long
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
