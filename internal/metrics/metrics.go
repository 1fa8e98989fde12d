// Package metrics holds the prometheus collectors of the negotiation pipeline.
package metrics

import (
	"github.com/senyabanana/tender-negotiation/internal/runner"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tender"

// Metrics groups every collector exposed on /metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RunItems         *prometheus.CounterVec
	PolledMessages   prometheus.Counter
	Correlation      *prometheus.CounterVec
	DeliveryAttempts *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	Tasks            *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_items_total",
			Help:      "Items processed by the bounded runner, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		PolledMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailbox_polled_messages_total",
			Help:      "Messages fetched from the inbound mailbox.",
		}),
		Correlation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_messages_total",
			Help:      "Inbound messages by correlation result.",
		}, []string{"result"}),
		DeliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Outbound delivery attempts by error class; ok for successful sends.",
		}, []string{"class"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offer_decisions_total",
			Help:      "Offer state transitions committed by award and reject.",
		}, []string{"status"}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_tasks_total",
			Help:      "Notification tasks handled by the worker, by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(m.RunItems, m.PolledMessages, m.Correlation, m.DeliveryAttempts, m.Decisions, m.Tasks)
	return m
}

// ObserveRun is a runner.Observer that counts completed and failed items per stage.
func (m *Metrics) ObserveRun(stage string, res runner.Result) {
	if m == nil {
		return
	}
	m.RunItems.WithLabelValues(stage, "completed").Add(float64(res.Completed))
	m.RunItems.WithLabelValues(stage, "failed").Add(float64(res.Failed))
}

// Polled counts fetched mailbox messages.
func (m *Metrics) Polled(n int) {
	if m == nil {
		return
	}
	m.PolledMessages.Add(float64(n))
}

// Correlated counts n messages under result (resolved or a skip reason).
func (m *Metrics) Correlated(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Correlation.WithLabelValues(result).Add(float64(n))
}

// DeliveryAttempt counts one transport attempt.
func (m *Metrics) DeliveryAttempt(class string) {
	if m == nil {
		return
	}
	m.DeliveryAttempts.WithLabelValues(class).Inc()
}

// Decision counts n offers moved to status.
func (m *Metrics) Decision(status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Decisions.WithLabelValues(status).Add(float64(n))
}

// Task counts one handled notification task.
func (m *Metrics) Task(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Tasks.WithLabelValues(kind, outcome).Inc()
}
