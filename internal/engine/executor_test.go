package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/testutil"
)

type executorFixture struct {
	board    *testutil.MemoryBoard
	webhooks *testutil.RecordingWebhooks
	exec     *Executor
	event    ir.BoardEvent
}

func newExecutorFixture(t *testing.T, opts ...ExecutorOption) *executorFixture {
	t.Helper()
	f := &executorFixture{
		board:    testutil.NewMemoryBoard(),
		webhooks: &testutil.RecordingWebhooks{},
	}
	f.board.AddBoard(ir.Board{ID: "b1", Name: "Board", OwnerID: "owner-1"})
	f.board.AddColumn(ir.Column{ID: "todo", BoardID: "b1", Name: "To Do"})
	f.board.AddColumn(ir.Column{ID: "done", BoardID: "b1", Name: "Done"})
	f.board.AddCard(ir.Card{ID: "c1", BoardID: "b1", ColumnID: "todo", Title: "Write tests", Priority: "high"})

	base := []ExecutorOption{
		WithExecutorClock(testutil.NewManualClock(testNow)),
		WithEventIDs(NewSequenceGenerator("derived")),
	}
	f.exec = NewExecutor(f.board, f.board, f.webhooks, append(base, opts...)...)
	f.event = ir.BoardEvent{EventID: "e1", BoardID: "b1", CardID: "c1", Type: ir.TriggerCardCreated, Depth: 2}
	return f
}

func execRule(actions ...ir.Action) ir.AutomationRule {
	return newRule("r1", ir.Trigger{Type: ir.TriggerCardCreated}, nil, actions...)
}

func TestExecute_CommentSeesEarlierMove(t *testing.T) {
	f := newExecutorFixture(t)

	outcomes := f.exec.Execute(context.Background(),
		execRule(ir.MoveCard{ColumnID: "done"}, ir.PostComment{Template: "moved to {{column}}"}), f.event)

	require.Len(t, outcomes, 2)
	assert.Equal(t, ir.OutcomeSucceeded, outcomes[0].Status)
	assert.Equal(t, ir.OutcomeSucceeded, outcomes[1].Status)

	comments := f.board.Comments("c1")
	require.Len(t, comments, 1)
	assert.Equal(t, "moved to Done", comments[0].Body)
	assert.Equal(t, AutomationAuthor, comments[0].AuthorID)
	assert.Nil(t, outcomes[1].ProducedEvent, "comments emit no event")
}

func TestExecute_FailOpen(t *testing.T) {
	f := newExecutorFixture(t)
	f.board.Fail("AddLabel", errors.New("label service down"))

	outcomes := f.exec.Execute(context.Background(),
		execRule(ir.AddLabel{Label: "urgent"}, ir.AssignUser{UserID: "u1"}), f.event)

	require.Len(t, outcomes, 2)
	assert.Equal(t, ir.OutcomeFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Error, "ACTION_FAILED")
	assert.Contains(t, outcomes[0].Error, "label service down")
	assert.Equal(t, ir.OutcomeSucceeded, outcomes[1].Status)

	card, ok := f.board.Card("c1")
	require.True(t, ok)
	assert.Empty(t, card.LabelIDs)
	assert.Equal(t, []string{"u1"}, card.AssigneeIDs)
}

func TestExecute_DerivedEvents(t *testing.T) {
	f := newExecutorFixture(t)

	outcomes := f.exec.Execute(context.Background(), execRule(
		ir.MoveCard{ColumnID: "done"},
		ir.AddLabel{Label: "shipped"},
		ir.RemoveLabel{Label: "shipped"},
		ir.AssignUser{UserID: "u1"},
		ir.SetDueDate{Offset: 72 * time.Hour},
	), f.event)
	require.Len(t, outcomes, 5)

	wantTypes := []ir.TriggerType{
		ir.TriggerCardMoved,
		ir.TriggerLabelAdded,
		ir.TriggerLabelRemoved,
		ir.TriggerCardAssigned,
		ir.TriggerDueDateChanged,
	}
	for i, o := range outcomes {
		require.Equal(t, ir.OutcomeSucceeded, o.Status, o.Error)
		require.NotNil(t, o.ProducedEvent, "action %d", i)
		ev := o.ProducedEvent
		assert.Equal(t, wantTypes[i], ev.Type)
		assert.Equal(t, "e1", ev.CausationID)
		assert.Equal(t, 3, ev.Depth)
		assert.Equal(t, "b1", ev.BoardID)
		assert.Equal(t, "c1", ev.CardID)
		assert.NotEmpty(t, ev.EventID)
	}

	moved := outcomes[0].ProducedEvent.Payload
	assert.Equal(t, "todo", moved.FromColumn)
	assert.Equal(t, "done", moved.ToColumn)

	due := outcomes[4].ProducedEvent.Payload.DueDate
	require.NotNil(t, due)
	assert.True(t, due.Equal(testNow.Add(72*time.Hour)))
}

func TestExecute_NoOpMutationsEmitNothing(t *testing.T) {
	f := newExecutorFixture(t)

	outcomes := f.exec.Execute(context.Background(), execRule(
		ir.MoveCard{ColumnID: "todo"},
		ir.RemoveLabel{Label: "missing"},
	), f.event)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, ir.OutcomeSucceeded, o.Status)
		assert.Nil(t, o.ProducedEvent)
	}
}

func TestExecute_AbsoluteDueDate(t *testing.T) {
	f := newExecutorFixture(t)
	date := time.Date(2026, 12, 1, 17, 0, 0, 0, time.UTC)

	outcomes := f.exec.Execute(context.Background(), execRule(ir.SetDueDate{Date: &date}), f.event)
	require.Len(t, outcomes, 1)
	require.Equal(t, ir.OutcomeSucceeded, outcomes[0].Status)

	card, _ := f.board.Card("c1")
	require.NotNil(t, card.DueDate)
	assert.True(t, card.DueDate.Equal(date))
}

func TestExecute_Timeout(t *testing.T) {
	f := newExecutorFixture(t, WithActionTimeout(20*time.Millisecond))
	f.board.Block("MoveCard")

	start := time.Now()
	outcomes := f.exec.Execute(context.Background(),
		execRule(ir.MoveCard{ColumnID: "done"}, ir.AddLabel{Label: "after"}), f.event)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, outcomes, 2)
	assert.Equal(t, ir.OutcomeFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Error, "ACTION_TIMEOUT")
	assert.Equal(t, ir.OutcomeSucceeded, outcomes[1].Status)
}

func TestExecute_InvalidColumnFails(t *testing.T) {
	f := newExecutorFixture(t)

	outcomes := f.exec.Execute(context.Background(), execRule(ir.MoveCard{ColumnID: "elsewhere"}), f.event)
	require.Len(t, outcomes, 1)
	assert.Equal(t, ir.OutcomeFailed, outcomes[0].Status)

	card, _ := f.board.Card("c1")
	assert.Equal(t, "todo", card.ColumnID)
}

func TestExecute_NotificationRecipients(t *testing.T) {
	t.Run("assignees", func(t *testing.T) {
		f := newExecutorFixture(t)
		outcomes := f.exec.Execute(context.Background(), execRule(
			ir.AssignUser{UserID: "u1"},
			ir.AssignUser{UserID: "u2"},
			ir.SendNotification{Template: "{{card.title}} needs review"},
		), f.event)
		require.Equal(t, ir.OutcomeSucceeded, outcomes[2].Status, outcomes[2].Error)

		notes := f.board.Notifications()
		require.Len(t, notes, 2)
		assert.Equal(t, "u1", notes[0].UserID)
		assert.Equal(t, "u2", notes[1].UserID)
		assert.Equal(t, "Write tests needs review", notes[0].Message)
		assert.Equal(t, "r1", notes[0].RuleID)
	})

	t.Run("board owner when unassigned", func(t *testing.T) {
		f := newExecutorFixture(t)
		outcomes := f.exec.Execute(context.Background(), execRule(ir.SendNotification{Template: "hi"}), f.event)
		require.Equal(t, ir.OutcomeSucceeded, outcomes[0].Status, outcomes[0].Error)

		notes := f.board.Notifications()
		require.Len(t, notes, 1)
		assert.Equal(t, "owner-1", notes[0].UserID)
	})
}

func TestExecute_WebhookDefaultPayload(t *testing.T) {
	f := newExecutorFixture(t)

	outcomes := f.exec.Execute(context.Background(), execRule(
		ir.MoveCard{ColumnID: "done"},
		ir.TriggerWebhook{URL: "https://hooks.example.com/card"},
	), f.event)
	require.Equal(t, ir.OutcomeSucceeded, outcomes[1].Status, outcomes[1].Error)

	deliveries := f.webhooks.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "https://hooks.example.com/card", deliveries[0].URL)

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(deliveries[0].Body, &payload))
	assert.Equal(t, "card_created", payload.Event)
	assert.Equal(t, "r1", payload.RuleID)
	assert.Equal(t, "done", payload.Card.ColumnID, "payload reflects earlier actions")
	assert.Nil(t, payload.Data)
	assert.NotContains(t, string(deliveries[0].Body), `"data"`)
}

func TestExecute_WebhookTemplate(t *testing.T) {
	f := newExecutorFixture(t)

	outcomes := f.exec.Execute(context.Background(), execRule(
		ir.TriggerWebhook{URL: "https://hooks.example.com/x", PayloadTemplate: `{"text":"{{card.title}} is {{card.priority}}"}`},
		ir.TriggerWebhook{URL: "https://hooks.example.com/y", PayloadTemplate: `{"text": {{card.title}}}`},
	), f.event)

	require.Len(t, outcomes, 2)
	assert.Equal(t, ir.OutcomeSucceeded, outcomes[0].Status)
	assert.Equal(t, ir.OutcomeFailed, outcomes[1].Status, "unquoted placeholder renders invalid JSON")

	deliveries := f.webhooks.Deliveries()
	require.Len(t, deliveries, 1)

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(deliveries[0].Body, &payload))
	assert.Equal(t, "card_created", payload.Event)
	assert.Equal(t, "b1", payload.BoardID)
	assert.Equal(t, "c1", payload.CardID)
	assert.Equal(t, "r1", payload.RuleID)
	assert.Equal(t, "c1", payload.Card.ID)
	assert.JSONEq(t, `{"text":"Write tests is high"}`, string(payload.Data))
}

func TestExecute_WebhookFailure(t *testing.T) {
	f := newExecutorFixture(t)
	f.webhooks.Err = errors.New("connection refused")

	outcomes := f.exec.Execute(context.Background(), execRule(
		ir.TriggerWebhook{URL: "https://hooks.example.com/x"},
		ir.AddLabel{Label: "notified"},
	), f.event)

	assert.Equal(t, ir.OutcomeFailed, outcomes[0].Status)
	assert.Equal(t, ir.OutcomeSucceeded, outcomes[1].Status)
}
