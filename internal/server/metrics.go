package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acheong08/spr-isolate/internal/isolate"
)

// Metrics are the planner's prometheus collectors
type Metrics struct {
	plansTotal   *prometheus.CounterVec
	planDuration prometheus.Histogram
	storeEntries prometheus.Histogram
	links        prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		plansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spr_plans_total",
				Help: "Number of isolated install plans by result.",
			},
			[]string{"result"},
		),
		planDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spr_plan_duration_seconds",
				Help:    "Time taken to plan an isolated install.",
				Buckets: prometheus.DefBuckets,
			},
		),
		storeEntries: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spr_plan_store_entries",
				Help:    "Number of store entries in a successful plan.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		links: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spr_plan_links",
				Help:    "Number of link entries in a successful plan.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}

	reg.MustRegister(m.plansTotal, m.planDuration, m.storeEntries, m.links)
	return m
}

func (m *Metrics) observe(root *isolate.TreeNode, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.planDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.plansTotal.WithLabelValues("failure").Inc()
		return
	}

	m.plansTotal.WithLabelValues("success").Inc()
	summary := isolate.Summarize(root)
	m.storeEntries.Observe(float64(summary.StoreEntries))
	m.links.Observe(float64(summary.Links))
}
