package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/tradecore/market"
)

// Sim is a deterministic in-process exchange. Orders fill instantly at the
// posted bid/ask, balances are tracked per currency, and order IDs are
// sequential, so tests and credential-free runs can assert exact outcomes.
type Sim struct {
	mu        sync.Mutex
	tickers   map[string]market.Ticker
	balances  map[string]float64
	netQty    map[string]float64 // net base quantity per symbol, signed
	avgPrice  map[string]float64
	orders    map[string]bool // placed (and instantly filled) order ids
	nextOrder int
	clock     func() time.Time
}

type SimOption func(*Sim)

// WithSimClock fixes the sim's notion of time for reproducible tests.
func WithSimClock(clock func() time.Time) SimOption {
	return func(s *Sim) { s.clock = clock }
}

func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		tickers: map[string]market.Ticker{
			"BTC/USDT": {Symbol: "BTC/USDT", Bid: 50000, Ask: 50010, Last: 50005},
			"ETH/USDT": {Symbol: "ETH/USDT", Bid: 3000, Ask: 3001, Last: 3000.5},
		},
		balances: map[string]float64{"USDT": 1_000_000},
		netQty:   make(map[string]float64),
		avgPrice: make(map[string]float64),
		orders:   make(map[string]bool),
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTicker installs or replaces a quote.
func (s *Sim) SetTicker(t market.Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[t.Symbol] = t
}

// SetBalance installs a currency balance.
func (s *Sim) SetBalance(currency string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[currency] = amount
}

// SetPosition seeds an open position, used to stage reconciliation drift.
func (s *Sim) SetPosition(symbol string, side market.Side, quantity, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.netQty[symbol] = quantity * side.Sign()
	s.avgPrice[symbol] = price
}

func (s *Sim) PlaceOrder(_ context.Context, req market.OrderRequest) (market.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Quantity <= 0 {
		return market.OrderResult{}, MarkPermanent(fmt.Errorf("quantity must be positive, got %v", req.Quantity))
	}
	if !req.Side.Valid() {
		return market.OrderResult{}, MarkPermanent(fmt.Errorf("unknown side %q", req.Side))
	}
	t, ok := s.tickers[req.Symbol]
	if !ok {
		return market.OrderResult{}, MarkPermanent(fmt.Errorf("unknown symbol %q", req.Symbol))
	}
	quote, err := quoteCurrency(req.Symbol)
	if err != nil {
		return market.OrderResult{}, MarkPermanent(err)
	}

	// Longs fill on ask, shorts on bid, like a live book.
	fillPrice := t.Ask
	if req.Side == market.Short {
		fillPrice = t.Bid
	}
	cost := req.Quantity * fillPrice

	if req.Side == market.Long {
		if s.balances[quote] < cost {
			return market.OrderResult{}, MarkPermanent(
				fmt.Errorf("insufficient %s balance: have %v, need %v", quote, s.balances[quote], cost))
		}
		s.balances[quote] -= cost
	} else {
		s.balances[quote] += cost
	}

	prev := s.netQty[req.Symbol]
	next := prev + req.Quantity*req.Side.Sign()
	if sameSign(prev, next) && absf(next) > absf(prev) {
		// Growing exposure: blend the average entry price.
		s.avgPrice[req.Symbol] = (absf(prev)*s.avgPrice[req.Symbol] + req.Quantity*fillPrice) / absf(next)
	} else if prev == 0 || !sameSign(prev, next) {
		s.avgPrice[req.Symbol] = fillPrice
	}
	s.netQty[req.Symbol] = next

	s.nextOrder++
	orderID := fmt.Sprintf("sim-%06d", s.nextOrder)
	s.orders[orderID] = true

	return market.OrderResult{
		OrderID:  orderID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    fillPrice,
		Time:     s.clock(),
	}, nil
}

func (s *Sim) CancelOrder(_ context.Context, orderID, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.orders[orderID] {
		return false, MarkPermanent(fmt.Errorf("unknown order %q", orderID))
	}
	// Market orders fill immediately; there is never anything to cancel.
	return false, nil
}

func (s *Sim) OpenPositions(_ context.Context) ([]market.PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make([]string, 0, len(s.netQty))
	for sym, qty := range s.netQty {
		if qty != 0 {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	out := make([]market.PositionSnapshot, 0, len(symbols))
	for _, sym := range symbols {
		qty := s.netQty[sym]
		side := market.Long
		if qty < 0 {
			side = market.Short
		}
		out = append(out, market.PositionSnapshot{
			Symbol:   sym,
			Side:     side,
			Quantity: absf(qty),
			Price:    s.avgPrice[sym],
		})
	}
	return out, nil
}

func (s *Sim) Balance(_ context.Context, currency string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	amount, ok := s.balances[currency]
	if !ok {
		return 0, MarkPermanent(fmt.Errorf("unknown currency %q", currency))
	}
	return amount, nil
}

func (s *Sim) Ticker(_ context.Context, symbol string) (market.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickers[symbol]
	if !ok {
		return market.Ticker{}, MarkPermanent(fmt.Errorf("unknown symbol %q", symbol))
	}
	if t.Time.IsZero() {
		t.Time = s.clock()
	}
	return t, nil
}

func quoteCurrency(symbol string) (string, error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("malformed symbol %q, want BASE/QUOTE", symbol)
	}
	return parts[1], nil
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
