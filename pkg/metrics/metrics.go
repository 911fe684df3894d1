// Package metrics holds the Prometheus collectors shared by the core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coins"

type Metrics struct {
	purchases       *prometheus.CounterVec
	ledgerMutations *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	gateDecisions   *prometheus.CounterVec
	auditEvents     *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	httpRequests    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Purchase attempts by payment path and outcome.",
		}, []string{"path", "outcome"}),
		ledgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_mutations_total",
			Help:      "Ledger units of work by kind and outcome.",
		}, []string{"kind", "outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Payment processor calls by processor, operation and outcome.",
		}, []string{"processor", "op", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_seconds",
			Help:      "Payment processor call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"processor", "op"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Entitlement gate decisions by check and outcome.",
		}, []string{"check", "outcome"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events emitted by type and severity.",
		}, []string{"type", "severity"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Payment intents reconciled by resolution.",
		}, []string{"resolution"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.purchases, m.ledgerMutations, m.providerCalls, m.providerLatency,
			m.gateDecisions, m.auditEvents, m.reconciliations, m.httpRequests)
	}
	return m
}

func (m *Metrics) Purchase(path, outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) LedgerMutation(kind string, err error) {
	if m == nil {
		return
	}
	m.ledgerMutations.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) ProviderCall(processor, op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(processor, op, outcome(err)).Inc()
	m.providerLatency.WithLabelValues(processor, op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) GateDecision(check string, allowed bool) {
	if m == nil {
		return
	}
	o := "allowed"
	if !allowed {
		o = "denied"
	}
	m.gateDecisions.WithLabelValues(check, o).Inc()
}

func (m *Metrics) AuditEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(eventType, severity).Inc()
}

func (m *Metrics) Reconciliation(resolution string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(resolution).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, started time.Time) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(time.Since(started).Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
