package utils

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// EconomyMetrics holds Prometheus metrics for the economy service
type EconomyMetrics struct {
	TransactionsTotal   *prometheus.CounterVec
	TransactionAmount   *prometheus.CounterVec
	TransactionRetries  prometheus.Counter
	CooldownRejections  *prometheus.CounterVec
	DistributionsTotal  *prometheus.CounterVec
	XPAwardedTotal      prometheus.Counter
	LevelUpsTotal       prometheus.Counter
	MissionsCompleted   *prometheus.CounterVec
	EventQueueDepth     prometheus.Gauge
	EventProcessingTime prometheus.Histogram
}

// NewEconomyMetrics creates the metric set on the default registry.
func NewEconomyMetrics() *EconomyMetrics {
	return NewEconomyMetricsWith(prometheus.DefaultRegisterer)
}

// NewEconomyMetricsWith registers on a caller-supplied registry. Tests pass a
// fresh one so repeated construction never collides.
func NewEconomyMetricsWith(reg prometheus.Registerer) *EconomyMetrics {
	factory := promauto.With(reg)
	return &EconomyMetrics{
		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dgt",
				Subsystem: "ledger",
				Name:      "transactions_total",
				Help:      "Total ledger transactions by type and final status",
			},
			[]string{"type", "status"},
		),
		TransactionAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dgt",
				Subsystem: "ledger",
				Name:      "transaction_amount_total",
				Help:      "Sum of confirmed transaction amounts in minor units",
			},
			[]string{"type"},
		),
		TransactionRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dgt",
				Subsystem: "ledger",
				Name:      "transaction_retries_total",
				Help:      "Internal retries after transient write conflicts",
			},
		),
		CooldownRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dgt",
				Subsystem: "cooldown",
				Name:      "rejections_total",
				Help:      "Actions rejected by the cooldown gate",
			},
			[]string{"action"},
		),
		DistributionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dgt",
				Subsystem: "distribution",
				Name:      "distributions_total",
				Help:      "Completed tip/rain distributions",
			},
			[]string{"kind"},
		),
		XPAwardedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dgt",
				Subsystem: "progression",
				Name:      "xp_awarded_total",
				Help:      "Total XP granted",
			},
		),
		LevelUpsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "dgt",
				Subsystem: "progression",
				Name:      "level_ups_total",
				Help:      "Level increases across all users",
			},
		),
		MissionsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dgt",
				Subsystem: "missions",
				Name:      "completed_total",
				Help:      "Missions completed by period",
			},
			[]string{"period"},
		),
		EventQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "dgt",
				Subsystem: "missions",
				Name:      "event_queue_depth",
				Help:      "Pending achievement events awaiting processing",
			},
		),
		EventProcessingTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "dgt",
				Subsystem: "missions",
				Name:      "event_processing_seconds",
				Help:      "Time spent evaluating one achievement event",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// ObserveEvent records one event evaluation duration
func (m *EconomyMetrics) ObserveEvent(start time.Time) {
	m.EventProcessingTime.Observe(time.Since(start).Seconds())
}

// ServeMetrics exposes /metrics on its own port so the scrape path never
// passes through gateway auth.
func ServeMetrics(addr string, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithField("addr", addr).WithError(err).Error("metrics listener stopped")
		}
	}()
}
