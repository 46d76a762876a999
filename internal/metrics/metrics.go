// Package metrics wires the platform's prometheus instruments: hub
// hit/stale counters, ingestor throughput and reconnects, decision-cycle
// latency and outcomes, and trade-lifecycle pnl/open-count gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns every prometheus instrument this platform exposes. It is
// constructed once and injected into components — never a package-level
// global.
type Registry struct {
	reg *prometheus.Registry

	HubGetTotal          *prometheus.CounterVec
	HubStaleTotal        *prometheus.CounterVec
	IngestorTicksTotal   *prometheus.CounterVec
	IngestorReconnects   *prometheus.CounterVec
	DecisionCycleSeconds *prometheus.HistogramVec
	DecisionOutcomeTotal *prometheus.CounterVec
	LifecycleOpenTrades  prometheus.Gauge
	LifecycleRealizedPnL prometheus.Counter
	RateLimiterThrottled *prometheus.CounterVec
}

// New constructs and registers every instrument.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		HubGetTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_get_total",
			Help: "Reads served by the market data hub, by entity type.",
		}, []string{"entity"}),
		HubStaleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hub_stale_total",
			Help: "Stale reads detected by the market data hub, by entity type.",
		}, []string{"entity"}),
		IngestorTicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_ticks_total",
			Help: "Ticks processed per instrument.",
		}, []string{"instrument"}),
		IngestorReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestor_reconnects_total",
			Help: "Reconnect attempts per ingestion component.",
		}, []string{"component"}),
		DecisionCycleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "decision_cycle_duration_seconds",
			Help:    "Wall-clock duration of one decision engine cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"instrument"}),
		DecisionOutcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decision_cycle_outcome_total",
			Help: "Decision cycle outcomes, by tier and reason.",
		}, []string{"tier", "reason"}),
		LifecycleOpenTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifecycle_open_trades",
			Help: "Currently open trades across all instruments.",
		}),
		LifecycleRealizedPnL: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifecycle_realized_pnl_pips_total",
			Help: "Cumulative realized P&L in pips.",
		}),
		RateLimiterThrottled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limiter_throttled_total",
			Help: "Requests throttled by a token bucket, by bucket name.",
		}, []string{"bucket"}),
	}

	reg.MustRegister(
		r.HubGetTotal, r.HubStaleTotal, r.IngestorTicksTotal, r.IngestorReconnects,
		r.DecisionCycleSeconds, r.DecisionOutcomeTotal, r.LifecycleOpenTrades,
		r.LifecycleRealizedPnL, r.RateLimiterThrottled,
	)

	return r
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
