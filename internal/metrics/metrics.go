// Package metrics holds the Prometheus counters exported by boardflow.
//
// All methods are safe on a nil *Metrics so components can run without a
// registry in tests and one-shot CLI commands.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsDispatched *prometheus.CounterVec
	RuleFirings      *prometheus.CounterVec
	ActionOutcomes   *prometheus.CounterVec
	GuardTrips       *prometheus.CounterVec
	RulesDisabled    prometheus.Counter
	RecurringFires   *prometheus.CounterVec
	DueEvents        prometheus.Counter
	QueueDepth       prometheus.Gauge
}

// New registers the boardflow collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boardflow_events_dispatched_total",
			Help: "Board events processed by the dispatcher, by event type",
		}, []string{"type"}),
		RuleFirings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boardflow_rule_firings_total",
			Help: "Rule executions, by result (succeeded, failed)",
		}, []string{"result"}),
		ActionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boardflow_action_outcomes_total",
			Help: "Action outcomes by action kind and status",
		}, []string{"kind", "status"}),
		GuardTrips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boardflow_guard_trips_total",
			Help: "Rule admissions rejected by the loop guard, by reason (depth, rate)",
		}, []string{"reason"}),
		RulesDisabled: f.NewCounter(prometheus.CounterOpts{
			Name: "boardflow_rules_auto_disabled_total",
			Help: "Rules disabled after reaching the consecutive failure threshold",
		}),
		RecurringFires: f.NewCounterVec(prometheus.CounterOpts{
			Name: "boardflow_recurring_fires_total",
			Help: "Recurring config fire attempts, by result (fired, lost, clone_failed)",
		}, []string{"result"}),
		DueEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "boardflow_due_date_events_total",
			Help: "DueDateReached events emitted by the due-date watcher",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "boardflow_pending_events",
			Help: "Board events submitted and not yet processed",
		}),
	}
}

func (m *Metrics) IncEventDispatched(eventType string) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncRuleFiring(failed bool) {
	if m == nil {
		return
	}
	result := "succeeded"
	if failed {
		result = "failed"
	}
	m.RuleFirings.WithLabelValues(result).Inc()
}

func (m *Metrics) IncActionOutcome(kind, status string) {
	if m == nil {
		return
	}
	m.ActionOutcomes.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) IncGuardTrip(reason string) {
	if m == nil {
		return
	}
	m.GuardTrips.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRuleDisabled() {
	if m == nil {
		return
	}
	m.RulesDisabled.Inc()
}

func (m *Metrics) IncRecurringFire(result string) {
	if m == nil {
		return
	}
	m.RecurringFires.WithLabelValues(result).Inc()
}

func (m *Metrics) IncDueEvent() {
	if m == nil {
		return
	}
	m.DueEvents.Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
