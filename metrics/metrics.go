// Package metrics exposes Prometheus metrics for discovery cycles.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle and account outcome labels.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusDiscarded = "discarded"
	StatusRejected  = "rejected"
	StatusSkipped   = "skipped"
)

// Collector owns a private registry with the discovery metrics.
type Collector struct {
	registry *prometheus.Registry

	Cycles           *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	Accounts         *prometheus.CounterVec
	StacksSkipped    *prometheus.CounterVec
	Entities         *prometheus.GaugeVec
	AccountsInFlight prometheus.Gauge
}

// NewCollector creates a Collector whose metric names are prefixed with namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Refresh cycles by outcome",
		}, []string{"status"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of refresh cycles in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		Accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_total",
			Help:      "Accounts processed by outcome",
		}, []string{"status"}),
		StacksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stacks_skipped_total",
			Help:      "Stacks left out of a cycle because they could not be read",
		}, []string{"reason"}),
		Entities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities",
			Help:      "Entities in the last emitted snapshot",
		}, []string{"kind"}),
		AccountsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts_in_flight",
			Help:      "Accounts currently being scanned",
		}),
	}
	reg.MustRegister(c.Cycles, c.CycleDuration, c.Accounts, c.StacksSkipped, c.Entities, c.AccountsInFlight)
	return c
}

// RecordCycle records the outcome and duration of a cycle.
func (c *Collector) RecordCycle(status string, d time.Duration) {
	c.Cycles.WithLabelValues(status).Inc()
	c.CycleDuration.Observe(d.Seconds())
}

// RecordAccount records the outcome of one account.
func (c *Collector) RecordAccount(status string) {
	c.Accounts.WithLabelValues(status).Inc()
}

// RecordSkippedStack records a stack left out of the cycle.
func (c *Collector) RecordSkippedStack(reason string) {
	c.StacksSkipped.WithLabelValues(reason).Inc()
}

// SetEntities replaces the per-kind entity gauges.
func (c *Collector) SetEntities(counts map[string]int) {
	c.Entities.Reset()
	for kind, n := range counts {
		c.Entities.WithLabelValues(kind).Set(float64(n))
	}
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns an HTTP handler serving the metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
