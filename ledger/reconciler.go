package ledger

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradecore/market"
)

// SnapshotSource supplies the exchange's authoritative open-position
// snapshot. Satisfied by *gateway.Gateway.
type SnapshotSource interface {
	OpenPositions(ctx context.Context) ([]market.PositionSnapshot, error)
}

// Reconciler periodically pulls an exchange snapshot and corrects drift.
type Reconciler struct {
	ledger   *Ledger
	src      SnapshotSource
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	lastRun  time.Time
	lastDisc []Discrepancy
	lastErr  error
}

func NewReconciler(l *Ledger, src SnapshotSource, interval time.Duration, logger zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		ledger:   l,
		src:      src,
		interval: interval,
		logger:   logger,
	}
}

// Run reconciles on the configured interval until ctx is done. The first
// pass is delayed by a random fraction of the interval so multiple
// instances sharing one credential do not hit the exchange in lockstep.
func (r *Reconciler) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(time.Duration(rand.Int63n(int64(r.interval)))):
	}
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("reconciliation pass failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

// RunOnce performs a single reconciliation pass.
func (r *Reconciler) RunOnce(ctx context.Context) ([]Discrepancy, error) {
	snapshot, err := r.src.OpenPositions(ctx)
	if err == nil {
		var disc []Discrepancy
		disc, err = r.ledger.ReconcileWithExchange(ctx, snapshot)
		if err == nil {
			r.store(disc, nil)
			return disc, nil
		}
	}
	r.store(nil, err)
	return nil, err
}

func (r *Reconciler) store(disc []Discrepancy, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun = time.Now().UTC()
	r.lastDisc = disc
	r.lastErr = err
}

// LastReport returns the outcome of the most recent pass for monitoring.
func (r *Reconciler) LastReport() (time.Time, []Discrepancy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.lastDisc, r.lastErr
}
