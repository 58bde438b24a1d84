package cmd

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradecore/config"
	"github.com/rustyeddy/tradecore/eventlog"
	"github.com/rustyeddy/tradecore/gateway"
	"github.com/rustyeddy/tradecore/health"
	"github.com/rustyeddy/tradecore/ledger"
	"github.com/rustyeddy/tradecore/monitor"
)

var errLiveUnsupported = errors.New("live exchange credentials configured but no live connector is available; remove account.api_key to run simulated")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ledger daemon",
	Long: `Recovers the position ledger from the event log, starts the exchange
gateway, the periodic reconciler, the checkpoint loop, and the monitoring
HTTP server, then runs until interrupted.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event log and health sink share the one database file.
	elog, err := eventlog.NewSQLite(cfg.Ledger.DBPath)
	if err != nil {
		return err
	}

	healthDB, err := health.NewSQLite(cfg.Ledger.DBPath)
	if err != nil {
		elog.Close()
		return err
	}
	healthRing := health.NewMemory(0)
	recorder := health.Multi{healthRing, healthDB}
	defer recorder.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	gwCfg := gateway.Config{
		CallsPerMinute: cfg.Gateway.CallsPerMinute,
		Burst:          cfg.Gateway.Burst,
		FailFast:       cfg.Gateway.FailFast,
		MaxWait:        config.Duration(cfg.Gateway.MaxWait, 10*time.Second),
		MaxRetries:     cfg.Gateway.MaxRetries,
		BaseDelay:      config.Duration(cfg.Gateway.BaseDelay, 250*time.Millisecond),
		MaxDelay:       config.Duration(cfg.Gateway.MaxDelay, 5*time.Second),
		CallTimeout:    config.Duration(cfg.Gateway.CallTimeout, 10*time.Second),
	}
	gw, err := buildGateway(cfg, gwCfg, recorder, registry, logger)
	if err != nil {
		elog.Close()
		return err
	}

	led, err := ledger.New(ctx, elog,
		ledger.WithCheckpoints(elog),
		ledger.WithExecutor(gw),
		ledger.WithStaleAfter(config.Duration(cfg.Ledger.StaleAfter, time.Hour)),
		ledger.WithLogger(logger.With().Str("component", "ledger").Logger()),
	)
	if err != nil {
		elog.Close()
		return err
	}

	var wg sync.WaitGroup

	var rec *ledger.Reconciler
	if cfg.Reconcile.Enabled {
		rec = ledger.NewReconciler(led, gw,
			config.Duration(cfg.Reconcile.Interval, time.Minute),
			logger.With().Str("component", "reconciler").Logger())
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		checkpointLoop(ctx, led, config.Duration(cfg.Ledger.CheckpointEvery, 5*time.Minute), logger)
	}()

	var mon *monitor.Server
	if cfg.Monitor.Enabled {
		deps := monitor.Deps{
			Positions: led,
			Health:    healthRing,
			Registry:  registry,
		}
		if rec != nil {
			deps.Reconcile = rec
		}
		mon = monitor.New(cfg.Monitor.Addr, deps, logger.With().Str("component", "monitor").Logger())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mon.ListenAndServe(); err != nil {
				logger.Error().Err(err).Msg("monitor server failed")
				stop()
			}
		}()
	}

	logger.Info().Bool("simulated", gw.Simulated()).
		Str("db", cfg.Ledger.DBPath).
		Msg("tradecore running")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if mon != nil {
		if err := mon.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("monitor shutdown failed")
		}
	}
	wg.Wait()

	// Final checkpoint plus log close.
	return led.Close(shutdownCtx)
}

// buildGateway selects live or simulated mode from the configured
// credentials. Simulated mode is explicit; there is no silent fallback
// from a failed live connection.
func buildGateway(cfg *config.Config, gwCfg gateway.Config, rec health.Recorder, reg *prometheus.Registry, logger zerolog.Logger) (*gateway.Gateway, error) {
	opts := []gateway.Option{
		gateway.WithLogger(logger.With().Str("component", "gateway").Logger()),
		gateway.WithMetrics(gateway.NewMetrics(reg)),
	}
	if cfg.Account.Live() {
		return nil, errLiveUnsupported
	}
	return gateway.NewSimulated(rec, gwCfg, opts...), nil
}

func checkpointLoop(ctx context.Context, led *ledger.Ledger, every time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := led.Checkpoint(ctx); err != nil {
				logger.Error().Err(err).Msg("periodic checkpoint failed")
			}
		}
	}
}
