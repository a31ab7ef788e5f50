package harness

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/boardflow/internal/testutil"
)

// AssertionContext is the final state assertions inspect.
type AssertionContext struct {
	Board    *testutil.MemoryBoard
	Rules    *testutil.MemoryRules
	Webhooks *testutil.RecordingWebhooks
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, te := range e.Trace {
			switch te.Kind {
			case KindEvent:
				fmt.Fprintf(&buf, "  [%d] %s %s card=%s depth=%d\n", te.Seq, te.EventID, te.EventType, te.CardID, te.Depth)
			case KindFired:
				fmt.Fprintf(&buf, "  [%d]   fired %s\n", te.Seq, te.RuleID)
			case KindSkipped:
				fmt.Fprintf(&buf, "  [%d]   skipped %s (%s)\n", te.Seq, te.RuleID, te.Reason)
			}
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. State assertions with a nil context are reported as failures.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertRuleFired:
		return assertRuleFired(trace, a)
	case AssertRuleOrder:
		return assertRuleOrder(trace, a)
	case AssertRuleCount:
		return assertRuleCount(trace, a)
	case AssertRuleSkipped:
		return assertRuleSkipped(trace, a)
	}

	if actx == nil {
		return fmt.Errorf("%s assertion needs final state", a.Type)
	}
	switch a.Type {
	case AssertRuleEnabled:
		return assertRuleEnabled(actx, a)
	case AssertCardState:
		return assertCardState(actx, a)
	case AssertNotification:
		return assertNotification(actx, a)
	case AssertComment:
		return assertComment(actx, a)
	case AssertWebhookCount:
		return assertWebhookCount(actx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertRuleFired checks that the rule fired at least once, optionally for
// a given event type and chain depth.
func assertRuleFired(trace []TraceEvent, a Assertion) error {
	for _, te := range trace {
		if te.Kind != KindFired || te.RuleID != a.Rule {
			continue
		}
		if a.Event != "" && te.EventType != a.Event {
			continue
		}
		if a.Depth != nil && te.Depth != *a.Depth {
			continue
		}
		return nil
	}

	expected := "rule " + a.Rule + " fired"
	if a.Event != "" {
		expected += " on " + string(a.Event)
	}
	if a.Depth != nil {
		expected += fmt.Sprintf(" at depth %d", *a.Depth)
	}
	return &AssertionError{Type: AssertRuleFired, Expected: expected, Actual: "not found in trace", Trace: trace}
}

// assertRuleOrder checks that the first firings of the rules appear in the
// given order. Other firings may come between them.
func assertRuleOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, te := range trace {
		if te.Kind != KindFired {
			continue
		}
		if _, seen := positions[te.RuleID]; !seen {
			positions[te.RuleID] = i + 1
		}
	}

	for _, rule := range a.Rules {
		if positions[rule] == 0 {
			return &AssertionError{
				Type:     AssertRuleOrder,
				Expected: fmt.Sprintf("all rules fired: %v", a.Rules),
				Actual:   "missing rule: " + rule,
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Rules); i++ {
		prev, curr := a.Rules[i-1], a.Rules[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertRuleOrder,
				Expected: fmt.Sprintf("rules in order: %v", a.Rules),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertRuleCount checks that the rule fired exactly Count times.
func assertRuleCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, te := range trace {
		if te.Kind == KindFired && te.RuleID == a.Rule {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertRuleCount,
			Expected: fmt.Sprintf("%d firings of %s", a.Count, a.Rule),
			Actual:   fmt.Sprintf("%d firings", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRuleSkipped checks skips of the rule for Reason: exactly Count, or
// at least one when Count is zero.
func assertRuleSkipped(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, te := range trace {
		if te.Kind == KindSkipped && te.RuleID == a.Rule && te.Reason == a.Reason {
			count++
		}
	}
	if (a.Count == 0 && count > 0) || (a.Count > 0 && count == a.Count) {
		return nil
	}
	expected := fmt.Sprintf("%s skipped for %s", a.Rule, a.Reason)
	if a.Count > 0 {
		expected = fmt.Sprintf("%s skipped %d times for %s", a.Rule, a.Count, a.Reason)
	}
	return &AssertionError{
		Type:     AssertRuleSkipped,
		Expected: expected,
		Actual:   fmt.Sprintf("%d skips", count),
		Trace:    trace,
	}
}

func assertRuleEnabled(actx *AssertionContext, a Assertion) error {
	rule, ok := actx.Rules.Get(a.Rule)
	if !ok {
		return fmt.Errorf("unknown rule %q", a.Rule)
	}
	if rule.IsEnabled != *a.Enabled {
		return &AssertionError{
			Type:     AssertRuleEnabled,
			Expected: fmt.Sprintf("rule %s enabled=%t", a.Rule, *a.Enabled),
			Actual:   fmt.Sprintf("enabled=%t after %d consecutive failures", rule.IsEnabled, rule.ConsecutiveFailures),
		}
	}
	return nil
}

// assertCardState compares the listed card fields. Label and assignee
// lists compare as sets; an empty due_date means no due date.
func assertCardState(actx *AssertionContext, a Assertion) error {
	card, ok := actx.Board.Card(a.Card)
	if !ok {
		return &AssertionError{Type: AssertCardState, Expected: "card " + a.Card, Actual: "card not found"}
	}

	mismatch := func(field string, want, got any) error {
		return &AssertionError{
			Type:     AssertCardState,
			Expected: fmt.Sprintf("card %s %s = %v", a.Card, field, want),
			Actual:   fmt.Sprintf("%s = %v", field, got),
		}
	}

	for _, field := range sortedKeys(a.Expect) {
		want := a.Expect[field]
		switch field {
		case "column":
			if fmt.Sprint(want) != card.ColumnID {
				return mismatch(field, want, card.ColumnID)
			}
		case "title":
			if fmt.Sprint(want) != card.Title {
				return mismatch(field, want, card.Title)
			}
		case "priority":
			if fmt.Sprint(want) != card.Priority {
				return mismatch(field, want, card.Priority)
			}
		case "labels":
			if !sameSet(toStrings(want), card.LabelIDs) {
				return mismatch(field, want, card.LabelIDs)
			}
		case "assignees":
			if !sameSet(toStrings(want), card.AssigneeIDs) {
				return mismatch(field, want, card.AssigneeIDs)
			}
		case "due_date":
			got := ""
			if card.DueDate != nil {
				got = card.DueDate.UTC().Format(time.RFC3339)
			}
			wantStr := ""
			if want != nil {
				wantStr = fmt.Sprint(want)
				if t, err := time.Parse(time.RFC3339, wantStr); err == nil {
					wantStr = t.UTC().Format(time.RFC3339)
				}
			}
			if wantStr != got {
				return mismatch(field, wantStr, got)
			}
		default:
			return fmt.Errorf("unknown card field %q", field)
		}
	}
	return nil
}

// assertNotification counts notifications matching User and Contains:
// exactly Count, or at least one when Count is zero.
func assertNotification(actx *AssertionContext, a Assertion) error {
	count := 0
	for _, n := range actx.Board.Notifications() {
		if a.User != "" && n.UserID != a.User {
			continue
		}
		if a.Contains != "" && !strings.Contains(n.Message, a.Contains) {
			continue
		}
		count++
	}
	return checkCount(AssertNotification, a, count, "notifications")
}

// assertComment counts comments on Card containing Contains.
func assertComment(actx *AssertionContext, a Assertion) error {
	count := 0
	for _, c := range actx.Board.Comments(a.Card) {
		if a.Contains == "" || strings.Contains(c.Body, a.Contains) {
			count++
		}
	}
	return checkCount(AssertComment, a, count, "comments on "+a.Card)
}

func assertWebhookCount(actx *AssertionContext, a Assertion) error {
	count := len(actx.Webhooks.Deliveries())
	if count != a.Count {
		return &AssertionError{
			Type:     AssertWebhookCount,
			Expected: fmt.Sprintf("%d webhook deliveries", a.Count),
			Actual:   fmt.Sprintf("%d deliveries", count),
		}
	}
	return nil
}

func checkCount(typ string, a Assertion, count int, what string) error {
	if (a.Count == 0 && count > 0) || (a.Count > 0 && count == a.Count) {
		return nil
	}
	expected := "at least one of " + what
	if a.Count > 0 {
		expected = fmt.Sprintf("%d %s", a.Count, what)
	}
	if a.Contains != "" {
		expected += fmt.Sprintf(" containing %q", a.Contains)
	}
	return &AssertionError{Type: typ, Expected: expected, Actual: fmt.Sprintf("%d matching", count)}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func toStrings(v any) []string {
	switch vs := v.(type) {
	case nil:
		return nil
	case []string:
		return vs
	case []any:
		out := make([]string, len(vs))
		for i, e := range vs {
			out[i] = fmt.Sprint(e)
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
