package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncEventDispatched("card_moved")
		m.IncRuleFiring(true)
		m.IncActionOutcome("add_label", "failed")
		m.IncGuardTrip("depth")
		m.IncRuleDisabled()
		m.IncRecurringFire("fired")
		m.IncDueEvent()
		m.SetPending(3)
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncRuleFiring(false)
	m.IncRuleFiring(true)
	m.IncRuleFiring(true)
	m.IncGuardTrip("rate")
	m.SetPending(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleFirings.WithLabelValues("succeeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RuleFirings.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardTrips.WithLabelValues("rate")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))
}

func TestNewPerRegistry(t *testing.T) {
	// Separate registries must not collide.
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
