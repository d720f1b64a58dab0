// Package metrics exports wallet activity to Prometheus. One Metrics value
// satisfies the collector interfaces of the ledger, funding and withdrawal
// services.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kudi"

type Metrics struct {
	registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationResults  *prometheus.CounterVec
	cacheRequests     *prometheus.CounterVec
	errors            *prometheus.CounterVec
	ledgerAmount      *prometheus.CounterVec
	fundingTotal      *prometheus.CounterVec
	webhooksTotal     *prometheus.CounterVec
	withdrawalsTotal  *prometheus.CounterVec
	refundedAmount    prometheus.Counter
	sweepLastRunUnix  prometheus.Gauge
}

// New registers every collector on a fresh registry, so tests can build
// as many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Duration of ledger operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations partitioned by result.",
			},
			[]string{"operation", "result"},
		),
		cacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "balance_cache_requests_total",
				Help:      "Balance cache lookups partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "errors_total",
				Help:      "Ledger errors by operation and type.",
			},
			[]string{"operation", "type"},
		),
		ledgerAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "amount_total",
				Help:      "Sum of committed ledger amounts by kind and direction.",
			},
			[]string{"kind", "direction"},
		),
		fundingTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "funding",
				Name:      "events_total",
				Help:      "Funding intent outcomes.",
			},
			[]string{"outcome"},
		),
		webhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "funding",
				Name:      "webhooks_total",
				Help:      "Provider webhooks by event kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		withdrawalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "withdrawal",
				Name:      "transitions_total",
				Help:      "Withdrawal status transitions.",
			},
			[]string{"status"},
		),
		refundedAmount: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "withdrawal",
				Name:      "refunded_amount_total",
				Help:      "Total amount returned to wallets by compensation.",
			},
		),
		sweepLastRunUnix: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "sweep_last_run_unix",
				Help:      "Unix time of the most recent reconciliation sweep.",
			},
		),
	}
}

func (m *Metrics) RecordOperationDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordOperationResult(operation, result string) {
	m.operationResults.WithLabelValues(operation, result).Inc()
}

// Cache keys are per user and stay out of the label set.
func (m *Metrics) RecordCacheHit(string) {
	m.cacheRequests.WithLabelValues("hit").Inc()
}

func (m *Metrics) RecordCacheMiss(string) {
	m.cacheRequests.WithLabelValues("miss").Inc()
}

func (m *Metrics) RecordError(operation, errType string) {
	m.errors.WithLabelValues(operation, errType).Inc()
}

func (m *Metrics) RecordTransaction(kind, direction string, amount float64) {
	m.ledgerAmount.WithLabelValues(kind, direction).Add(amount)
}

func (m *Metrics) RecordFunding(outcome string) {
	m.fundingTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordWebhook(kind, outcome string) {
	m.webhooksTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordWithdrawal(status string) {
	m.withdrawalsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordCompensation(amount float64) {
	m.refundedAmount.Add(amount)
}

func (m *Metrics) RecordSweep(at time.Time) {
	m.sweepLastRunUnix.Set(float64(at.UTC().Unix()))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
