// Package telemetry exposes Prometheus metrics for the governance pipeline.
// Metrics are fed from bus events so the pipeline stages never depend on
// this package.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wardenhq/warden/internal/bus"
)

// Metrics holds all Prometheus metrics for warden.
type Metrics struct {
	RequestTotal       *prometheus.CounterVec
	SecurityAlertTotal *prometheus.CounterVec
	TokensTotal        *prometheus.CounterVec
	SpendUSDTotal      *prometheus.CounterVec
	BudgetUtilization  *prometheus.GaugeVec
	BudgetEventTotal   *prometheus.CounterVec
	ApprovalTotal      *prometheus.CounterVec
	ApprovalPending    prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_request_total",
			Help: "Total number of requests processed by the pipeline.",
		}, []string{"agent", "category", "outcome"}),

		SecurityAlertTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_security_alert_total",
			Help: "Total sanitizer alerts by action taken.",
		}, []string{"agent", "action"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"model", "direction"}),

		SpendUSDTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_spend_usd_total",
			Help: "Realized model spend in USD.",
		}, []string{"provider", "model"}),

		BudgetUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_budget_utilization",
			Help: "Spend over cap for each budget window of the active profile.",
		}, []string{"window"}),

		BudgetEventTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_budget_event_total",
			Help: "Budget threshold crossings by level.",
		}, []string{"level", "window"}),

		ApprovalTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_approval_total",
			Help: "Approval queue resolutions by final status.",
		}, []string{"status"}),

		ApprovalPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "warden_approval_pending",
			Help: "Items currently awaiting a human decision.",
		}),
	}
}

// Observe subscribes the metrics to the event bus.
func (m *Metrics) Observe(b *bus.Bus) {
	b.Subscribe(bus.TopicRequestCompleted, func(ev bus.Event) {
		e := ev.(bus.RequestLifecycle)
		m.RequestTotal.WithLabelValues(e.Agent, e.Category, e.Outcome).Inc()
	})
	b.Subscribe(bus.TopicSecurityAlert, func(ev bus.Event) {
		e := ev.(bus.SecurityAlert)
		m.SecurityAlertTotal.WithLabelValues(e.Agent, e.Action).Inc()
	})
	for _, topic := range []string{bus.TopicBudgetWarning, bus.TopicBudgetCritical, bus.TopicBudgetPause} {
		b.Subscribe(topic, func(ev bus.Event) {
			e := ev.(bus.BudgetThreshold)
			m.BudgetEventTotal.WithLabelValues(e.Level, e.Window).Inc()
			m.BudgetUtilization.WithLabelValues(e.Window).Set(e.Utilization)
		})
	}
	b.Subscribe(bus.TopicApprovalCreated, func(bus.Event) {
		m.ApprovalPending.Inc()
	})
	b.Subscribe(bus.TopicApprovalResolved, func(ev bus.Event) {
		e := ev.(bus.ApprovalLifecycle)
		m.ApprovalPending.Dec()
		m.ApprovalTotal.WithLabelValues(e.Status).Inc()
	})
}

// RecordSpend records token and cost counters for one completed dispatch.
func (m *Metrics) RecordSpend(provider, model string, tokensIn, tokensOut int, costUSD float64) {
	if tokensIn > 0 {
		m.TokensTotal.WithLabelValues(model, "prompt").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		m.TokensTotal.WithLabelValues(model, "completion").Add(float64(tokensOut))
	}
	if costUSD > 0 {
		m.SpendUSDTotal.WithLabelValues(provider, model).Add(costUSD)
	}
}
