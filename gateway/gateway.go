// Package gateway is the sole path for outbound exchange calls. Every call
// passes through a shared rate limiter, a circuit breaker, a bounded retry
// loop, and the health recorder, independent of the caller's intent.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/tradecore/health"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/pkg/id"
	"github.com/rustyeddy/tradecore/retry"
)

// Exchange is the raw transport to one exchange. Implementations classify
// their errors with MarkTransient/MarkPermanent; unclassified errors are
// treated as permanent.
type Exchange interface {
	PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error)
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)
	OpenPositions(ctx context.Context) ([]market.PositionSnapshot, error)
	Balance(ctx context.Context, currency string) (float64, error)
	Ticker(ctx context.Context, symbol string) (market.Ticker, error)
}

// Config controls call discipline. Zero values fall back to defaults.
type Config struct {
	// CallsPerMinute is the shared budget across all callers; the exchange
	// enforces its quota per credential regardless of caller identity.
	CallsPerMinute int
	// Burst bounds how many calls may proceed back-to-back.
	Burst int
	// FailFast rejects with ErrRateLimitExceeded instead of waiting.
	FailFast bool
	// MaxWait bounds how long a call blocks for a rate-limit slot.
	MaxWait time.Duration

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// CallTimeout bounds each attempt; an expired attempt counts as one
	// transient failure. In-flight calls are not cancellable mid-request.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallsPerMinute <= 0 {
		c.CallsPerMinute = 60
	}
	if c.Burst <= 0 {
		c.Burst = c.CallsPerMinute / 6
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// Gateway wraps an Exchange with rate limiting, retries, a circuit breaker,
// health recording and metrics.
type Gateway struct {
	ex        Exchange
	cfg       Config
	limiter   *rate.Limiter
	policy    retry.Policy
	breaker   *gobreaker.CircuitBreaker
	rec       health.Recorder
	metrics   *Metrics
	log       zerolog.Logger
	simulated bool
}

type Option func(*Gateway)

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func New(ex Exchange, rec health.Recorder, cfg Config, opts ...Option) *Gateway {
	cfg = cfg.withDefaults()

	g := &Gateway{
		ex:      ex,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.CallsPerMinute)/60.0), cfg.Burst),
		policy: retry.Policy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.BaseDelay,
			MaxDelay:    cfg.MaxDelay,
			IsRetryable: IsTransient,
		},
		rec: rec,
		log: zerolog.Nop(),
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "exchange",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewSimulated builds a gateway over the deterministic simulated exchange.
// This is an explicit, declared mode for running without live credentials,
// never a silent fallback.
func NewSimulated(rec health.Recorder, cfg Config, opts ...Option) *Gateway {
	g := New(NewSim(), rec, cfg, opts...)
	g.simulated = true
	g.log.Info().Msg("gateway running in simulated mode, no live exchange risk")
	return g
}

// Simulated reports whether calls are served by the synthetic exchange.
func (g *Gateway) Simulated() bool { return g.simulated }

func (g *Gateway) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error) {
	var res market.OrderResult
	err := g.call(ctx, "place_order", func(ctx context.Context) error {
		var err error
		res, err = g.ex.PlaceOrder(ctx, req)
		return err
	})
	return res, err
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	var ok bool
	err := g.call(ctx, "cancel_order", func(ctx context.Context) error {
		var err error
		ok, err = g.ex.CancelOrder(ctx, orderID, symbol)
		return err
	})
	return ok, err
}

func (g *Gateway) OpenPositions(ctx context.Context) ([]market.PositionSnapshot, error) {
	var out []market.PositionSnapshot
	err := g.call(ctx, "get_open_positions", func(ctx context.Context) error {
		var err error
		out, err = g.ex.OpenPositions(ctx)
		return err
	})
	return out, err
}

func (g *Gateway) Balance(ctx context.Context, currency string) (float64, error) {
	var amount float64
	err := g.call(ctx, "get_balance", func(ctx context.Context) error {
		var err error
		amount, err = g.ex.Balance(ctx, currency)
		return err
	})
	return amount, err
}

func (g *Gateway) Ticker(ctx context.Context, symbol string) (market.Ticker, error) {
	var t market.Ticker
	err := g.call(ctx, "get_ticker", func(ctx context.Context) error {
		var err error
		t, err = g.ex.Ticker(ctx, symbol)
		return err
	})
	return t, err
}

// call runs one logical gateway call: bounded retries with every attempt
// taking its own rate-limit slot, recording every attempt. Retries hit the
// exchange on the wire just like first attempts, so they count against the
// same per-credential quota. It returns only after all attempts are spent
// or one succeeds; there is no fire-and-forget mode.
func (g *Gateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callID := id.New()

	var attempt int
	attempts, err := g.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			g.metrics.observeRetry()
		}

		if err := g.acquireSlot(ctx, callID, op); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()

		start := time.Now()
		_, attemptErr := g.breaker.Execute(func() (any, error) {
			return nil, fn(attemptCtx)
		})
		latency := time.Since(start)

		g.recordAttempt(callID, op, attempt, latency, attemptErr)
		return attemptErr
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// A rate-limit rejection is caller-visible as-is; retry-after-delay is
	// the caller's responsibility, on any attempt.
	if errors.Is(err, ErrRateLimitExceeded) {
		g.log.Warn().Str("call_id", callID).Str("operation", op).
			Int("attempts", attempts).
			Msg("exchange call rejected by rate limiter")
		return err
	}
	if IsTransient(err) {
		g.log.Warn().Str("call_id", callID).Str("operation", op).
			Int("attempts", attempts).Err(err).
			Msg("exchange call failed after retries")
		return &TransientError{Op: op, Attempts: attempts, Err: err}
	}
	g.log.Warn().Str("call_id", callID).Str("operation", op).Err(err).
		Msg("exchange call failed permanently")
	return &PermanentError{Op: op, Err: err}
}

func (g *Gateway) acquireSlot(ctx context.Context, callID, op string) error {
	if g.cfg.FailFast {
		if g.limiter.Allow() {
			return nil
		}
		g.metrics.observeRateLimited()
		g.record(health.CallRecord{
			CallID:    callID,
			Operation: op,
			Status:    health.StatusTransient,
			Attempt:   0,
			Error:     ErrRateLimitExceeded.Error(),
			CreatedAt: time.Now().UTC(),
		})
		return fmt.Errorf("%s: %w", op, ErrRateLimitExceeded)
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.cfg.MaxWait)
	defer cancel()

	start := time.Now()
	err := g.limiter.Wait(waitCtx)
	g.metrics.observeRateWait(time.Since(start))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	g.metrics.observeRateLimited()
	g.record(health.CallRecord{
		CallID:    callID,
		Operation: op,
		Status:    health.StatusTransient,
		Attempt:   0,
		Error:     ErrRateLimitExceeded.Error(),
		CreatedAt: time.Now().UTC(),
	})
	return fmt.Errorf("%s: %w", op, ErrRateLimitExceeded)
}

func (g *Gateway) recordAttempt(callID, op string, attempt int, latency time.Duration, err error) {
	status := health.StatusSuccess
	errStr := ""
	if err != nil {
		errStr = err.Error()
		if IsTransient(err) {
			status = health.StatusTransient
		} else {
			status = health.StatusPermanent
		}
	}

	g.metrics.observeCall(op, string(status), latency)
	g.record(health.CallRecord{
		CallID:    callID,
		Operation: op,
		Status:    status,
		Attempt:   attempt,
		LatencyMS: latency.Milliseconds(),
		Error:     errStr,
		CreatedAt: time.Now().UTC(),
	})
}

func (g *Gateway) record(rec health.CallRecord) {
	if err := g.rec.Record(rec); err != nil {
		// The call itself must not fail because diagnostics lagged.
		g.log.Error().Err(err).Str("call_id", rec.CallID).
			Msg("health record failed")
	}
}
