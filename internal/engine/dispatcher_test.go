package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/metrics"
	"github.com/roach88/boardflow/internal/testutil"
)

func TestDispatcher_Submit(t *testing.T) {
	f := newFixture(t)

	_, err := f.disp.Submit(ir.BoardEvent{Type: ir.TriggerCardCreated})
	assert.Error(t, err, "board id is required")

	_, err = f.disp.Submit(ir.BoardEvent{BoardID: "b1", Type: "card_archived"})
	assert.Error(t, err, "unknown event type")

	ev := f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCardCreated})
	assert.Equal(t, "evt-1", ev.EventID)
	assert.True(t, ev.OccurredAt.Equal(testNow))
	assert.Equal(t, 1, f.disp.Pending())

	f.drain(t)
	assert.Equal(t, 0, f.disp.Pending())
}

func TestDispatcher_ConditionsGateFiring(t *testing.T) {
	f := newFixture(t)
	f.board.AddCard(ir.Card{ID: "hot", BoardID: "b1", ColumnID: "review", Priority: "high"})
	f.board.AddCard(ir.Card{ID: "cold", BoardID: "b1", ColumnID: "review", Priority: "low"})
	f.rules.Add(newRule("escalate",
		ir.Trigger{Type: ir.TriggerCardMoved, ToColumn: "review"},
		[]ir.Condition{cond(ir.FieldPriority, ir.OpEquals, ir.IRString("high"))},
		ir.AddLabel{Label: "urgent"},
	))

	hot := f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "hot", Type: ir.TriggerCardMoved,
		Payload: ir.EventPayload{FromColumn: "todo", ToColumn: "review"}})
	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "cold", Type: ir.TriggerCardMoved,
		Payload: ir.EventPayload{FromColumn: "todo", ToColumn: "review"}})
	// Wrong destination column: trigger filter rejects it before conditions.
	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "hot", Type: ir.TriggerCardMoved,
		Payload: ir.EventPayload{FromColumn: "review", ToColumn: "done"}})
	f.drain(t)

	assert.Equal(t, []string{hot.EventID}, f.ledger.FiringsOf("escalate"))
	outcomes := f.ledger.Outcomes(hot.EventID, "escalate")
	require.Len(t, outcomes, 1)
	assert.Equal(t, ir.ActionAddLabel, outcomes[0].Kind)
	assert.Equal(t, ir.OutcomeSucceeded, outcomes[0].Status)

	card, _ := f.board.Card("hot")
	assert.Equal(t, []string{"urgent"}, card.LabelIDs)
	cold, _ := f.board.Card("cold")
	assert.Empty(t, cold.LabelIDs)

	assert.Len(t, f.trace.skips(SkipConditions), 1)
	assert.Len(t, f.ledger.Activity(ir.ActivityRuleFired), 1)
}

func TestDispatcher_PingPongHaltsAtMaxDepth(t *testing.T) {
	f := newFixture(t)
	f.board.AddCard(ir.Card{ID: "c1", BoardID: "b1", ColumnID: "todo", LabelIDs: []string{"ping"}})
	f.rules.Add(newRule("ping",
		ir.Trigger{Type: ir.TriggerLabelAdded, Label: "ping"}, nil,
		ir.RemoveLabel{Label: "ping"}, ir.AddLabel{Label: "pong"},
	))
	f.rules.Add(newRule("pong",
		ir.Trigger{Type: ir.TriggerLabelAdded, Label: "pong"}, nil,
		ir.RemoveLabel{Label: "pong"}, ir.AddLabel{Label: "ping"},
	))

	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerLabelAdded,
		Payload: ir.EventPayload{Label: "ping"}})
	f.drain(t)

	// Depths 0 through 9 fire; the depth-10 event is refused.
	assert.Equal(t, DefaultMaxChainDepth, f.ledger.FiringCount())
	assert.Len(t, f.ledger.FiringsOf("ping"), 5)
	assert.Len(t, f.ledger.FiringsOf("pong"), 5)

	skips := f.trace.skips(SkipDepth)
	require.Len(t, skips, 1)
	assert.Equal(t, "ping", skips[0].RuleID)
	assert.Equal(t, DefaultMaxChainDepth, skips[0].Event.Depth)
	assert.NotEmpty(t, skips[0].Event.CausationID)

	assert.Empty(t, f.ledger.Activity(ir.ActivityRateLimited))
}

func TestDispatcher_RateLimit(t *testing.T) {
	f := newFixture(t, WithGuard(NewLoopGuard(10, 2, time.Minute)))
	f.board.AddCard(ir.Card{ID: "c1", BoardID: "b1", ColumnID: "todo"})
	f.rules.Add(newRule("greet", ir.Trigger{Type: ir.TriggerCommentAdded}, nil,
		ir.AssignUser{UserID: "u1"}))

	for i := 0; i < 3; i++ {
		f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCommentAdded})
	}
	f.drain(t)

	assert.Len(t, f.ledger.FiringsOf("greet"), 2)
	limited := f.ledger.Activity(ir.ActivityRateLimited)
	require.Len(t, limited, 1)
	assert.Equal(t, "greet", limited[0].RuleID)
	assert.Equal(t, "evt-3", limited[0].EventID)
	assert.Len(t, f.trace.skips(SkipRateLimit), 1)

	// The window slides; the board recovers.
	f.clock.Advance(time.Minute + time.Second)
	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCommentAdded})
	f.drain(t)
	assert.Len(t, f.ledger.FiringsOf("greet"), 3)
}

func TestDispatcher_DerivedEventsQueueBehindExisting(t *testing.T) {
	f := newFixture(t, WithWorkers(1))
	f.board.AddCard(ir.Card{ID: "c1", BoardID: "b1", ColumnID: "todo"})
	f.board.AddCard(ir.Card{ID: "c2", BoardID: "b1", ColumnID: "todo"})
	f.rules.Add(newRule("tag", ir.Trigger{Type: ir.TriggerCardCreated}, nil, ir.AddLabel{Label: "new"}))

	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCardCreated})
	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c2", Type: ir.TriggerCardCreated})
	f.drain(t)

	var got []string
	for _, ev := range f.trace.eventsOf("b1") {
		got = append(got, fmt.Sprintf("%s/%s", ev.Type, ev.CardID))
	}
	assert.Equal(t, []string{
		"card_created/c1",
		"card_created/c2",
		"label_added/c1",
		"label_added/c2",
	}, got)
}

func TestDispatcher_PerBoardFIFO(t *testing.T) {
	f := newFixture(t, WithWorkers(4))
	const n = 25
	var want1, want2 []string
	for i := 0; i < n; i++ {
		e1 := f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: fmt.Sprintf("c%d", i), Type: ir.TriggerCardCreated})
		e2 := f.submit(t, ir.BoardEvent{BoardID: "b2", CardID: fmt.Sprintf("d%d", i), Type: ir.TriggerCardCreated})
		want1 = append(want1, e1.EventID)
		want2 = append(want2, e2.EventID)
	}
	f.drain(t)

	ids := func(evs []ir.BoardEvent) []string {
		out := make([]string, len(evs))
		for i, ev := range evs {
			out[i] = ev.EventID
		}
		return out
	}
	assert.Equal(t, want1, ids(f.trace.eventsOf("b1")))
	assert.Equal(t, want2, ids(f.trace.eventsOf("b2")))
}

func TestDispatcher_RedeliveryFiresOnce(t *testing.T) {
	f := newFixture(t)
	f.board.AddCard(ir.Card{ID: "c1", BoardID: "b1", ColumnID: "todo"})
	f.rules.Add(newRule("comment", ir.Trigger{Type: ir.TriggerCardCreated}, nil,
		ir.PostComment{Template: "welcome"}))

	ev := ir.BoardEvent{EventID: "ext-1", BoardID: "b1", CardID: "c1", Type: ir.TriggerCardCreated}
	f.submit(t, ev)
	_, err := f.disp.Submit(ev)
	require.ErrorIs(t, err, ErrEventPending)
	assert.Equal(t, 1, f.disp.Pending())
	f.drain(t)

	// Once processed, the id is accepted again and the ledger deduplicates.
	f.submit(t, ev)
	f.drain(t)

	assert.Equal(t, []string{"ext-1"}, f.ledger.FiringsOf("comment"))
	assert.Len(t, f.board.Comments("c1"), 1)
	assert.Len(t, f.trace.skips(SkipDuplicate), 1)
}

func TestDispatcher_FailOpenWithinRule(t *testing.T) {
	f := newFixture(t)
	f.board.AddCard(ir.Card{ID: "c1", BoardID: "b1", ColumnID: "todo"})
	f.board.Fail("AddLabel", errors.New("boom"))
	f.rules.Add(newRule("triage", ir.Trigger{Type: ir.TriggerCardCreated}, nil,
		ir.AddLabel{Label: "x"}, ir.AssignUser{UserID: "u1"}))

	ev := f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCardCreated})
	f.drain(t)

	outcomes := f.ledger.Outcomes(ev.EventID, "triage")
	require.Len(t, outcomes, 2)
	assert.Equal(t, ir.OutcomeFailed, outcomes[0].Status)
	assert.Equal(t, ir.OutcomeSucceeded, outcomes[1].Status)

	// The successful assign still produced its event, which was dispatched.
	var types []ir.TriggerType
	for _, e := range f.trace.eventsOf("b1") {
		types = append(types, e.Type)
	}
	assert.Equal(t, []ir.TriggerType{ir.TriggerCardCreated, ir.TriggerCardAssigned}, types)

	rule, _ := f.rules.Get("triage")
	assert.Equal(t, 1, rule.ConsecutiveFailures)
	assert.True(t, rule.IsEnabled)
}

func TestDispatcher_AutoDisable(t *testing.T) {
	f := newFixture(t, WithFailureThreshold(3))
	f.board.AddCard(ir.Card{ID: "c1", BoardID: "b1", ColumnID: "todo"})
	f.board.Fail("AddLabel", errors.New("boom"))
	f.rules.Add(newRule("flaky", ir.Trigger{Type: ir.TriggerCommentAdded}, nil, ir.AddLabel{Label: "x"}))

	for i := 0; i < 4; i++ {
		f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCommentAdded})
	}
	f.drain(t)

	assert.Len(t, f.ledger.FiringsOf("flaky"), 3, "disabled rule stops firing")
	rule, _ := f.rules.Get("flaky")
	assert.False(t, rule.IsEnabled)

	disabled := f.ledger.Activity(ir.ActivityRuleDisabled)
	require.Len(t, disabled, 1)
	assert.Equal(t, "flaky", disabled[0].RuleID)

	notes := f.board.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "owner-1", notes[0].UserID)
	assert.Equal(t, `Automation "flaky" was disabled after 3 consecutive failed runs.`, notes[0].Message)
}

func TestDispatcher_SuccessResetsFailureCount(t *testing.T) {
	f := newFixture(t, WithFailureThreshold(2))
	f.board.AddCard(ir.Card{ID: "c1", BoardID: "b1", ColumnID: "todo"})
	f.rules.Add(newRule("flaky", ir.Trigger{Type: ir.TriggerCommentAdded}, nil, ir.AddLabel{Label: "x"}))

	run := func(fail bool) {
		if fail {
			f.board.Fail("AddLabel", errors.New("boom"))
		} else {
			f.board.Fail("AddLabel", nil)
		}
		// Reset the label so AddLabel has work to do.
		_, _ = f.board.RemoveLabel(context.Background(), "c1", "x")
		f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCommentAdded})
		f.drain(t)
	}

	run(true)
	run(false)
	run(true)

	rule, _ := f.rules.Get("flaky")
	assert.True(t, rule.IsEnabled)
	assert.Equal(t, 1, rule.ConsecutiveFailures)
	assert.Empty(t, f.board.Notifications())
}

// togglingNotifier disables a rule as a side effect of delivering.
type togglingNotifier struct {
	rules  *testutil.MemoryRules
	ruleID string
	board  *testutil.MemoryBoard
}

func (n *togglingNotifier) Notify(ctx context.Context, note ir.Notification) error {
	n.rules.SetEnabled(n.ruleID, false)
	return n.board.Notify(ctx, note)
}

func TestDispatcher_ToggleMidFlight(t *testing.T) {
	f := newFixture(t, WithWorkers(1))
	f.board.AddCard(ir.Card{ID: "c1", BoardID: "b1", ColumnID: "todo", AssigneeIDs: []string{"u1"}})

	toggler := &togglingNotifier{rules: f.rules, ruleID: "once", board: f.board}
	f.exec = NewExecutor(f.board, toggler, f.webhooks,
		WithExecutorClock(f.clock), WithEventIDs(NewSequenceGenerator("derived")))
	f.disp = NewDispatcher(f.rules, f.board, f.exec, f.ledger,
		WithWorkers(1), WithClock(f.clock), WithIDs(NewSequenceGenerator("evt")), WithObserver(f.trace))

	f.rules.Add(newRule("once", ir.Trigger{Type: ir.TriggerCommentAdded}, nil,
		ir.SendNotification{Template: "disabling"},
		ir.MoveCard{ColumnID: "done"},
	))

	first := f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCommentAdded})
	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCommentAdded})
	f.drain(t)

	// The admitted execution ran to completion.
	outcomes := f.ledger.Outcomes(first.EventID, "once")
	require.Len(t, outcomes, 2)
	assert.Equal(t, ir.OutcomeSucceeded, outcomes[1].Status)
	card, _ := f.board.Card("c1")
	assert.Equal(t, "done", card.ColumnID)

	// The queued event no longer sees the rule.
	assert.Equal(t, []string{first.EventID}, f.ledger.FiringsOf("once"))
}

func TestDispatcher_CardUnavailable(t *testing.T) {
	f := newFixture(t)
	f.rules.Add(newRule("r", ir.Trigger{Type: ir.TriggerCardCreated}, nil, ir.AddLabel{Label: "x"}))

	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "ghost", Type: ir.TriggerCardCreated})
	f.drain(t)

	assert.Zero(t, f.ledger.FiringCount())
	assert.Len(t, f.trace.skips(SkipCardError), 1)
}

func TestDispatcher_CardOnAnotherBoard(t *testing.T) {
	f := newFixture(t)
	f.board.AddCard(ir.Card{ID: "foreign", BoardID: "b2", ColumnID: "b2-todo"})
	f.rules.Add(newRule("r", ir.Trigger{Type: ir.TriggerCardCreated}, nil, ir.AddLabel{Label: "from-b1"}))

	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "foreign", Type: ir.TriggerCardCreated})
	f.drain(t)

	card, _ := f.board.Card("foreign")
	assert.Empty(t, card.LabelIDs)
	assert.Zero(t, f.ledger.FiringCount())
	assert.Len(t, f.trace.skips(SkipCardError), 1)
	assert.Empty(t, f.trace.eventsOf("b2"))
}

func TestDispatcher_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	f := newFixture(t, WithMetrics(m), WithGuard(NewLoopGuard(10, 1, time.Minute)))
	f.board.AddCard(ir.Card{ID: "c1", BoardID: "b1", ColumnID: "todo"})
	f.rules.Add(newRule("r", ir.Trigger{Type: ir.TriggerCommentAdded}, nil, ir.AssignUser{UserID: "u1"}))

	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCommentAdded})
	f.submit(t, ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCommentAdded})
	f.drain(t)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.EventsDispatched.WithLabelValues("comment_added")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.EventsDispatched.WithLabelValues("card_assigned")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.RuleFirings.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ActionOutcomes.WithLabelValues("assign_user", "succeeded")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.GuardTrips.WithLabelValues("rate")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.QueueDepth))
}

func TestDispatcher_StopRejectsSubmit(t *testing.T) {
	f := newFixture(t)
	f.disp.Stop()

	_, err := f.disp.Submit(ir.BoardEvent{BoardID: "b1", CardID: "c1", Type: ir.TriggerCardCreated})
	require.Error(t, err)
	assert.Equal(t, 0, f.disp.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, f.disp.WaitIdle(ctx))
}
