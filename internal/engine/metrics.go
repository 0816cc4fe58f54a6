package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: время обработки HTTP-запроса консоли
	RequestDuration *prometheus.HistogramVec

	// Traffic: предложения по действиям, решения ревьюеров, исполнения
	ProposalsTotal  *prometheus.CounterVec
	ReviewsTotal    *prometheus.CounterVec
	ExecutionsTotal *prometheus.CounterVec

	// Errors: деградации, которые не доходят до вызывающего
	ErrorTotal *prometheus.CounterVec

	// Audit: вторичный индекс (best-effort)
	AuditWriteFailures prometheus.Counter
	AuditDropped       prometheus.Counter
	AuditBufferFill    prometheus.Gauge

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Размер кэша политик в матчере
	PolicyCacheSize prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inboxpilot_request_duration_seconds",
			Help:    "Histogram of console request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),

		ProposalsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "inboxpilot_proposals_total",
			Help: "Total number of proposed actions by action.",
		}, []string{"action"}),

		ReviewsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "inboxpilot_reviews_total",
			Help: "Total number of applied review decisions.",
		}, []string{"status"}),

		ExecutionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "inboxpilot_executions_total",
			Help: "Total number of executed actions by outcome.",
		}, []string{"action", "result"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "inboxpilot_errors_total",
			Help: "Total number of degraded operations by type.",
		}, []string{"type"}), // типы: learning, synth, policy_skipped, notify, audit-replay, stats-recompute

		AuditWriteFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "inboxpilot_audit_write_failures_total",
			Help: "Audit entries that failed to reach the index.",
		}),

		AuditDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "inboxpilot_audit_dropped_total",
			Help: "Audit entries dropped on buffer overflow or shutdown.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "inboxpilot_audit_buffer_utilization",
			Help: "Current number of entries in audit buffer.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "inboxpilot_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),

		PolicyCacheSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "inboxpilot_policy_cache_size",
			Help: "Number of compiled policies in the matcher cache.",
		}),
	}
}
