// Package metrics holds the bot's Prometheus collectors. All recording
// methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry and every collector registered in it.
type Metrics struct {
	registry *prometheus.Registry

	Cycles          *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	Candidates      *prometheus.CounterVec
	PositionsOpened prometheus.Counter
	PositionsClosed *prometheus.CounterVec
	PriceFetches    *prometheus.CounterVec
	BreakerTrips    *prometheus.CounterVec
	Capital         *prometheus.GaugeVec
	OpenPositions   prometheus.Gauge
	RefreshRestarts prometheus.Counter
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weatherbot_cycles_total",
				Help: "Decision cycles run, by result",
			},
			[]string{"result"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "weatherbot_cycle_duration_seconds",
				Help:    "Wall time of one decision cycle",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
		),
		Candidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weatherbot_candidates_total",
				Help: "Discovered candidates by verification outcome",
			},
			[]string{"outcome"},
		),
		PositionsOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "weatherbot_positions_opened_total",
				Help: "Positions opened",
			},
		),
		PositionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weatherbot_positions_closed_total",
				Help: "Positions closed, by final status",
			},
			[]string{"status"},
		),
		PriceFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weatherbot_price_fetch_total",
				Help: "Price lookups by source and result",
			},
			[]string{"source", "result"},
		),
		BreakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weatherbot_breaker_trips_total",
				Help: "Fast price source breaker trips, by pass",
			},
			[]string{"pass"},
		),
		Capital: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weatherbot_capital",
				Help: "Portfolio capital by kind (total, available)",
			},
			[]string{"kind"},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "weatherbot_open_positions",
				Help: "Currently open positions",
			},
		),
		RefreshRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "weatherbot_refresh_restarts_total",
				Help: "Times the watchdog restarted the price refresh loop",
			},
		),
	}

	m.registry.MustRegister(
		m.Cycles,
		m.CycleDuration,
		m.Candidates,
		m.PositionsOpened,
		m.PositionsClosed,
		m.PriceFetches,
		m.BreakerTrips,
		m.Capital,
		m.OpenPositions,
		m.RefreshRestarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Candidate(outcome string) {
	if m == nil {
		return
	}
	m.Candidates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PositionOpened() {
	if m == nil {
		return
	}
	m.PositionsOpened.Inc()
}

func (m *Metrics) PositionClosed(status string) {
	if m == nil {
		return
	}
	m.PositionsClosed.WithLabelValues(status).Inc()
}

func (m *Metrics) PriceFetch(source, result string) {
	if m == nil {
		return
	}
	m.PriceFetches.WithLabelValues(source, result).Inc()
}

func (m *Metrics) BreakerTripped(pass string) {
	if m == nil {
		return
	}
	m.BreakerTrips.WithLabelValues(pass).Inc()
}

// SetPortfolio publishes the capital gauges.
func (m *Metrics) SetPortfolio(total, available float64, open int) {
	if m == nil {
		return
	}
	m.Capital.WithLabelValues("total").Set(total)
	m.Capital.WithLabelValues("available").Set(available)
	m.OpenPositions.Set(float64(open))
}

func (m *Metrics) RefreshRestarted() {
	if m == nil {
		return
	}
	m.RefreshRestarts.Inc()
}
