// Package metrics wires the engine's observability sink into Prometheus,
// grounded on the teacher's promauto + expfmt exposition pattern.
package metrics

import (
	"bytes"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wot_http_requests_total",
			Help: "Total number of ops-surface HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wot_http_request_duration_seconds",
			Help:    "Ops-surface HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Recomputation metrics (spec §4.3 incremental/full recompute, §4.4
	// batch finish, §4.6 verify pass) — fed by engine.Metrics.
	recomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wot_score_recomputes_total",
			Help: "Total number of score recomputation passes, by kind",
		},
		[]string{"kind"},
	)

	scoresChangedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wot_scores_changed_total",
			Help: "Total number of Score rows inserted, updated, or deleted by a recomputation pass",
		},
		[]string{"kind"},
	)

	refetchTriggeredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wot_refetch_triggered_total",
			Help: "Total number of capacity-transition refetches triggered (spec 4.3 step 4)",
		},
	)

	// Graph-shape gauges, set per owner through RecordTrustTreeStats. No
	// caller in this module updates them on a schedule.
	trustTreeSizeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wot_trust_tree_size",
			Help: "Number of identities reachable in one OwnIdentity's trust tree",
		},
		[]string{"owner_id"},
	)

	trustTreeAvgRankGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wot_trust_tree_avg_rank",
			Help: "Average rank of non-distrusted identities in one OwnIdentity's trust tree",
		},
		[]string{"owner_id"},
	)

	// Import metrics (C4).
	trustListImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wot_trust_list_imports_total",
			Help: "Total number of trust-list imports, by outcome",
		},
		[]string{"status"},
	)

	stubIdentitiesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wot_stub_identities_created_total",
			Help: "Total number of stub Identity rows created for unknown trustees during import",
		},
	)

	// Integrity metrics (C6).
	integrityViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wot_integrity_violations_total",
			Help: "Total number of integrity violations found by verify_database_integrity, by kind",
		},
		[]string{"kind"},
	)

	storeLockHeldGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wot_store_lock_held",
			Help: "1 if this instance currently holds the store lock, else 0",
		},
	)
)

// Engine wires engine.Metrics into the Prometheus collectors above.
type Engine struct{}

// RecomputeFinished implements engine.Metrics.
func (Engine) RecomputeFinished(kind string, scoresChanged int) {
	recomputeTotal.WithLabelValues(kind).Inc()
	scoresChangedTotal.WithLabelValues(kind).Add(float64(scoresChanged))
}

// RefetchTriggered implements engine.Metrics.
func (Engine) RefetchTriggered() {
	refetchTriggeredTotal.Inc()
}

// RecordTrustTreeStats updates the graph-shape gauges for one owner.
func RecordTrustTreeStats(ownerID string, size int, avgRank float64) {
	trustTreeSizeGauge.WithLabelValues(ownerID).Set(float64(size))
	trustTreeAvgRankGauge.WithLabelValues(ownerID).Set(avgRank)
}

// RecordTrustListImport records one import's outcome.
func RecordTrustListImport(status string) {
	trustListImportsTotal.WithLabelValues(status).Inc()
}

// RecordStubIdentityCreated records one anti-Sybil-gated stub Identity
// creation.
func RecordStubIdentityCreated() {
	stubIdentitiesCreatedTotal.Inc()
}

// RecordIntegrityViolations records one verify_database_integrity pass's
// findings for one violated kind (duplicate trust, dangling reference,
// etc), adding count to that kind's counter.
func RecordIntegrityViolations(kind string, count int) {
	if count > 0 {
		integrityViolationsTotal.WithLabelValues(kind).Add(float64(count))
	}
}

// SetStoreLockHeld reports this instance's current hold on the store lock.
func SetStoreLockHeld(held bool) {
	if held {
		storeLockHeldGauge.Set(1)
		return
	}
	storeLockHeldGauge.Set(0)
}

// PrometheusMiddleware collects HTTP metrics for the ops-only surface.
func PrometheusMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		httpRequestsTotal.WithLabelValues(c.Method(), c.Path(), status).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), c.Path(), status).Observe(duration)
		return err
	}
}

// PrometheusHandler exposes the default registry in text exposition format.
func PrometheusHandler() fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		metricFamilies, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("error gathering metrics: " + err.Error())
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, mf := range metricFamilies {
			if err := encoder.Encode(mf); err != nil {
				return c.Status(fiber.StatusInternalServerError).SendString("error encoding metrics: " + err.Error())
			}
		}
		return c.SendString(buf.String())
	}
}
