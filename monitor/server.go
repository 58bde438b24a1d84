// Package monitor exposes a read-only summary over HTTP: open positions,
// recent anomalies, gateway health, and prometheus metrics. No endpoint
// mutates ledger state; all mutation funnels through the ledger API.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradecore/health"
	"github.com/rustyeddy/tradecore/ledger"
)

// PositionSource serves the materialized view read-only.
type PositionSource interface {
	ListOpenPositions() []ledger.Position
	SelfDiagnose(ctx context.Context) (ledger.AnomalyReport, error)
}

// HealthSource serves gateway call aggregates read-only.
type HealthSource interface {
	Stats() health.Stats
	Recent(n int) []health.CallRecord
}

// ReconcileSource reports the most recent reconciliation pass.
type ReconcileSource interface {
	LastReport() (time.Time, []ledger.Discrepancy, error)
}

type Deps struct {
	Positions PositionSource
	Health    HealthSource
	Reconcile ReconcileSource // optional
	Registry  *prometheus.Registry
}

type Server struct {
	deps   Deps
	log    zerolog.Logger
	router *mux.Router
	srv    *http.Server
}

func New(addr string, deps Deps, log zerolog.Logger) *Server {
	s := &Server{deps: deps, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	r.HandleFunc("/anomalies", s.handleAnomalies).Methods(http.MethodGet)
	r.HandleFunc("/gateway/health", s.handleGatewayHealth).Methods(http.MethodGet)
	r.HandleFunc("/reconcile", s.handleReconcile).Methods(http.MethodGet)
	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}
	s.router = r
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("monitor listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"open_positions": s.deps.Positions.ListOpenPositions(),
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Positions.SelfDiagnose(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("self-diagnosis failed")
		http.Error(w, "diagnosis failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, report)
}

func (s *Server) handleGatewayHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"stats": s.deps.Health.Stats(),
	}
	if r.URL.Query().Get("recent") != "" {
		resp["recent"] = s.deps.Health.Recent(50)
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleReconcile(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Reconcile == nil {
		http.Error(w, "reconciliation not running", http.StatusNotFound)
		return
	}
	lastRun, disc, err := s.deps.Reconcile.LastReport()
	resp := map[string]any{
		"last_run":      lastRun,
		"discrepancies": disc,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	s.writeJSON(w, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}
