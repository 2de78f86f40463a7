package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

// Metrics owns a registry so tests and multiple servers do not collide on the
// global one.
type Metrics struct {
	registry *prometheus.Registry

	evaluations        *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	settlements        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "incentive_evaluations_total",
			Help: "Total objective evaluations by outcome",
		}, []string{"outcome"}),
		evaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "incentive_evaluation_duration_seconds",
			Help:    "Duration of one objective evaluation including lookups",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "incentive_settlements_total",
			Help: "Objectives handled by settlement runs, by status",
		}, []string{"status"}),
	}

	// Expose every series from the start.
	for _, o := range incentive.Outcomes {
		m.evaluations.WithLabelValues(string(o))
	}
	for _, s := range []string{"settled", "skipped", "failed"} {
		m.settlements.WithLabelValues(s)
	}
	return m
}

// ObserveEvaluation is an incentive.Observer.
func (m *Metrics) ObserveEvaluation(outcome incentive.Outcome, took time.Duration) {
	m.evaluations.WithLabelValues(string(outcome)).Inc()
	m.evaluationDuration.Observe(took.Seconds())
}

// ObserveSettlement records the result of one settlement run.
func (m *Metrics) ObserveSettlement(report incentive.SettleReport) {
	m.settlements.WithLabelValues("settled").Add(float64(len(report.Settled)))
	m.settlements.WithLabelValues("skipped").Add(float64(report.Skipped))
	m.settlements.WithLabelValues("failed").Add(float64(len(report.Failed)))
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
