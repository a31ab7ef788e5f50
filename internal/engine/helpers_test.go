package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/testutil"
)

var testNow = time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)

// fixture wires a dispatcher to in-memory collaborators.
type fixture struct {
	board    *testutil.MemoryBoard
	rules    *testutil.MemoryRules
	ledger   *testutil.MemoryLedger
	webhooks *testutil.RecordingWebhooks
	clock    *testutil.ManualClock
	trace    *recordingObserver
	exec     *Executor
	disp     *Dispatcher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		board:    testutil.NewMemoryBoard(),
		rules:    testutil.NewMemoryRules(),
		ledger:   testutil.NewMemoryLedger(),
		webhooks: &testutil.RecordingWebhooks{},
		clock:    testutil.NewManualClock(testNow),
		trace:    &recordingObserver{},
	}
	f.board.AddBoard(ir.Board{ID: "b1", Name: "Board", OwnerID: "owner-1"})
	f.board.AddBoard(ir.Board{ID: "b2", Name: "Other", OwnerID: "owner-2"})
	for _, col := range []ir.Column{
		{ID: "todo", BoardID: "b1", Name: "To Do"},
		{ID: "review", BoardID: "b1", Name: "Review"},
		{ID: "done", BoardID: "b1", Name: "Done"},
		{ID: "b2-todo", BoardID: "b2", Name: "Backlog"},
	} {
		f.board.AddColumn(col)
	}

	f.exec = NewExecutor(f.board, f.board, f.webhooks,
		WithExecutorClock(f.clock),
		WithEventIDs(NewSequenceGenerator("derived")),
	)
	base := []Option{
		WithClock(f.clock),
		WithIDs(NewSequenceGenerator("evt")),
		WithObserver(f.trace),
		WithFailureTracker(f.rules),
		WithNotifier(f.board),
	}
	f.disp = NewDispatcher(f.rules, f.board, f.exec, f.ledger, append(base, opts...)...)
	return f
}

// submit enqueues an event and fails the test on error.
func (f *fixture) submit(t *testing.T, ev ir.BoardEvent) ir.BoardEvent {
	t.Helper()
	out, err := f.disp.Submit(ev)
	require.NoError(t, err)
	return out
}

// drain processes until idle, bounded by a timeout.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.disp.Drain(ctx))
}

func newRule(id string, trigger ir.Trigger, conditions []ir.Condition, actions ...ir.Action) ir.AutomationRule {
	return ir.AutomationRule{
		ID:         id,
		BoardID:    "b1",
		Name:       id,
		Trigger:    trigger,
		Conditions: conditions,
		Actions:    actions,
		IsEnabled:  true,
		Version:    1,
	}
}

type traceEntry struct {
	Seq    int64
	Kind   string // "event", "fired", "skipped"
	Event  ir.BoardEvent
	RuleID string
	Reason string
}

type recordingObserver struct {
	mu      sync.Mutex
	entries []traceEntry
}

func (o *recordingObserver) EventProcessed(seq int64, ev ir.BoardEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, traceEntry{Seq: seq, Kind: "event", Event: ev})
}

func (o *recordingObserver) RuleFired(seq int64, ev ir.BoardEvent, rule ir.AutomationRule, _ []ir.ActionOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, traceEntry{Seq: seq, Kind: "fired", Event: ev, RuleID: rule.ID})
}

func (o *recordingObserver) RuleSkipped(seq int64, ev ir.BoardEvent, rule ir.AutomationRule, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, traceEntry{Seq: seq, Kind: "skipped", Event: ev, RuleID: rule.ID, Reason: reason})
}

// eventsOf returns the processed events of a board in processing order.
func (o *recordingObserver) eventsOf(boardID string) []ir.BoardEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []ir.BoardEvent
	for _, e := range o.entries {
		if e.Kind == "event" && e.Event.BoardID == boardID {
			out = append(out, e.Event)
		}
	}
	return out
}

func (o *recordingObserver) skips(reason string) []traceEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []traceEntry
	for _, e := range o.entries {
		if e.Kind == "skipped" && e.Reason == reason {
			out = append(out, e)
		}
	}
	return out
}
