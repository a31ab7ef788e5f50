package harness

import (
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join(scenarioDir, name+".yaml"))
	require.NoError(t, err)
	return s
}

// TestScenarios runs every scenario under testdata/scenarios and checks
// that its assertions hold and its trace is reproducible.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(scenarioDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			first, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, first.Pass, "assertion errors: %v", first.Errors)

			// A second run must reproduce the first trace byte for byte.
			fixtures := t.TempDir()
			data, err := MarshalSnapshot(scenario.Name, first.Trace)
			require.NoError(t, err)
			g := newGoldie(t, goldie.WithFixtureDir(fixtures))
			require.NoError(t, g.Update(t, scenario.Name, data))

			second, err := RunWithGolden(t, scenario, goldie.WithFixtureDir(fixtures))
			require.NoError(t, err)
			assert.True(t, second.Pass)
		})
	}
}

func TestRunWithGolden_EscalateOnReview(t *testing.T) {
	scenario := loadTestScenario(t, "escalate_on_review")

	result, err := RunWithGolden(t, scenario)

	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion errors: %v", result.Errors)
}

func TestRun_TraceLinksDerivedEvents(t *testing.T) {
	result, err := Run(loadTestScenario(t, "escalate_on_review"))
	require.NoError(t, err)

	var derived []TraceEvent
	for _, te := range result.Trace {
		if te.Kind == KindEvent && te.Depth > 0 {
			derived = append(derived, te)
		}
	}
	require.Len(t, derived, 1)
	assert.Equal(t, "derived-1", derived[0].EventID)
	assert.Equal(t, "evt-1", derived[0].CausationID)
}

func TestRun_PingPongStopsAtDepthCap(t *testing.T) {
	result, err := Run(loadTestScenario(t, "ping_pong_loop"))
	require.NoError(t, err)
	require.True(t, result.Pass, "assertion errors: %v", result.Errors)

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, KindSkipped, last.Kind)
	assert.Equal(t, 10, last.Depth)
	assert.Equal(t, "ping", last.RuleID)
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	scenario := loadTestScenario(t, "rate_limited_intake")
	scenario.Assertions = []Assertion{
		{Type: AssertRuleCount, Rule: "acknowledge", Count: 5},
		{Type: AssertRuleCount, Rule: "acknowledge", Count: 4},
	}

	result, err := Run(scenario)

	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "5 firings of acknowledge")
}

func TestRun_GuardOverride(t *testing.T) {
	scenario := loadTestScenario(t, "ping_pong_loop")
	scenario.Guard = &GuardSetup{MaxDepth: 4}
	scenario.Assertions = []Assertion{
		{Type: AssertRuleCount, Rule: "ping", Count: 2},
		{Type: AssertRuleCount, Rule: "pong", Count: 2},
		{Type: AssertRuleSkipped, Rule: "ping", Reason: "depth", Count: 1},
		{Type: AssertCardState, Card: "c1", Expect: map[string]any{"column": "done"}},
	}

	result, err := Run(scenario)

	require.NoError(t, err)
	assert.True(t, result.Pass, "assertion errors: %v", result.Errors)
}

func TestRun_DuplicateRuleKeys(t *testing.T) {
	scenario := loadTestScenario(t, "rate_limited_intake")
	scenario.Rules = append(scenario.Rules, scenario.Rules[0])

	_, err := Run(scenario)

	require.Error(t, err)
	assert.Contains(t, err.Error(), `rule "acknowledge" declared in both`)
}
