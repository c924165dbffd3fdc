// Package metrics exposes the Prometheus collectors for the event
// processing pipeline and the rule catalog. Collectors are registered once
// on first use; every observe method is nil-safe so wiring stays optional
// in tests.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PipelineMetrics struct {
	eventsProcessed *prometheus.CounterVec
	pointsTotal     *prometheus.CounterVec
	ruleMatches     *prometheus.CounterVec
	softErrors      *prometheus.CounterVec
	processSeconds  *prometheus.HistogramVec
	catalogRules    prometheus.Gauge
	catalogReloads  *prometheus.CounterVec
	lockEntries     prometheus.Gauge
}

var (
	pipelineOnce     sync.Once
	pipelineRegistry *PipelineMetrics
)

func Pipeline() *PipelineMetrics {
	pipelineOnce.Do(func() {
		pipelineRegistry = &PipelineMetrics{
			eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loyalty_events_processed_total",
				Help: "Count of processed events by type, market, and outcome status.",
			}, []string{"event_type", "market", "status"}),
			pointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loyalty_points_total",
				Help: "Points moved through the ledger by market and direction.",
			}, []string{"market", "direction"}),
			ruleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loyalty_rule_matches_total",
				Help: "Count of rule matches by rule name.",
			}, []string{"rule"}),
			softErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loyalty_rule_soft_errors_total",
				Help: "Count of per-rule soft failures by error code.",
			}, []string{"code"}),
			processSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "loyalty_event_process_seconds",
				Help:    "End-to-end event processing duration.",
				Buckets: prometheus.DefBuckets,
			}, []string{"event_type"}),
			catalogRules: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "loyalty_catalog_rules",
				Help: "Number of rules in the active catalog.",
			}),
			catalogReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loyalty_catalog_reloads_total",
				Help: "Count of catalog reload attempts by success.",
			}, []string{"success"}),
			lockEntries: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "loyalty_consumer_lock_entries",
				Help: "Live entries in the per-consumer lock map.",
			}),
		}
		prometheus.MustRegister(
			pipelineRegistry.eventsProcessed,
			pipelineRegistry.pointsTotal,
			pipelineRegistry.ruleMatches,
			pipelineRegistry.softErrors,
			pipelineRegistry.processSeconds,
			pipelineRegistry.catalogRules,
			pipelineRegistry.catalogReloads,
			pipelineRegistry.lockEntries,
		)
	})
	return pipelineRegistry
}

func (m *PipelineMetrics) ObserveEvent(eventType, market, status string) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(eventType, market, status).Inc()
}

// AddPoints records the signed award of one event: positive totals count
// as accrued, negative as redeemed.
func (m *PipelineMetrics) AddPoints(market string, points int64) {
	if m == nil || points == 0 {
		return
	}
	direction := "accrued"
	if points < 0 {
		direction = "redeemed"
		points = -points
	}
	m.pointsTotal.WithLabelValues(market, direction).Add(float64(points))
}

func (m *PipelineMetrics) ObserveRuleMatch(rule string) {
	if m == nil {
		return
	}
	if rule == "" {
		rule = "unknown"
	}
	m.ruleMatches.WithLabelValues(rule).Inc()
}

func (m *PipelineMetrics) ObserveSoftError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.softErrors.WithLabelValues(code).Inc()
}

func (m *PipelineMetrics) ObserveDuration(eventType string, d time.Duration) {
	if m == nil {
		return
	}
	m.processSeconds.WithLabelValues(eventType).Observe(d.Seconds())
}

func (m *PipelineMetrics) SetCatalogRules(n int) {
	if m == nil {
		return
	}
	m.catalogRules.Set(float64(n))
}

func (m *PipelineMetrics) ObserveReload(ok bool) {
	if m == nil {
		return
	}
	m.catalogReloads.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (m *PipelineMetrics) SetLockEntries(n int) {
	if m == nil {
		return
	}
	m.lockEntries.Set(float64(n))
}
