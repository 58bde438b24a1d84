package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes gateway call discipline to prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	rateLimited prometheus.Counter
	rateWait    prometheus.Histogram
	retries     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Exchange call attempts by operation and outcome.",
		}, []string{"operation", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_call_latency_seconds",
			Help:    "Per-attempt exchange call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Calls rejected because no rate-limit slot freed in time.",
		}),
		rateWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_rate_wait_seconds",
			Help:    "Time spent waiting for a rate-limit slot.",
			Buckets: prometheus.DefBuckets,
		}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Retry attempts beyond the first.",
		}),
	}
}

func (m *Metrics) observeCall(op, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(op, status).Inc()
	m.latency.WithLabelValues(op).Observe(latency.Seconds())
}

func (m *Metrics) observeRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) observeRateWait(d time.Duration) {
	if m == nil {
		return
	}
	m.rateWait.Observe(d.Seconds())
}

func (m *Metrics) observeRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}
