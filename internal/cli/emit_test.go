package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/store"
)

func TestEmitRunsCascade(t *testing.T) {
	opts := appliedDB(t, "json")

	out, err := execute(NewEmitCommand(opts), "b1", "c1", "card_moved",
		"--from-column", "todo", "--to-column", "review", "--event-id", "evt-1")
	require.NoError(t, err)

	result := decodeData[EmitResult](t, out)
	assert.Equal(t, "evt-1", result.Event.EventID)
	assert.Equal(t, 2, result.Events)
	require.Len(t, result.Steps, 2)

	escalate := result.Steps[0]
	assert.Equal(t, "Escalate high priority reviews", escalate.RuleName)
	assert.True(t, escalate.Fired)
	assert.Equal(t, 0, escalate.Depth)
	require.Len(t, escalate.Outcomes, 2)
	assert.Equal(t, ir.ActionAddLabel, escalate.Outcomes[0].Kind)
	assert.Equal(t, ir.OutcomeSucceeded, escalate.Outcomes[0].Status)

	notify := result.Steps[1]
	assert.Equal(t, "Notify on urgent", notify.RuleName)
	assert.Equal(t, ir.TriggerLabelAdded, notify.EventType)
	assert.Equal(t, 1, notify.Depth)

	st, err := store.Open(opts.Database)
	require.NoError(t, err)
	defer st.Close()

	card, err := st.GetCard(context.Background(), "c1")
	require.NoError(t, err)
	assert.Contains(t, card.LabelIDs, "urgent")

	notes, err := st.ListNotifications(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Fix login is urgent", notes[0].Message)
}

func TestEmitSkipsOnConditions(t *testing.T) {
	opts := appliedDB(t, "text")

	out, err := execute(NewEmitCommand(opts), "b1", "c2", "card_moved", "--to-column", "review")

	require.NoError(t, err)
	assert.Contains(t, out, "(1 event(s) processed)")
	assert.Contains(t, out, "- Escalate high priority reviews skipped on card_moved: conditions")
}

func TestEmitSameEventIDFiresOnce(t *testing.T) {
	opts := appliedDB(t, "json")
	args := []string{"b1", "c1", "card_moved", "--to-column", "review", "--event-id", "evt-dup"}

	_, err := execute(NewEmitCommand(opts), args...)
	require.NoError(t, err)

	out, err := execute(NewEmitCommand(opts), args...)
	require.NoError(t, err)
	result := decodeData[EmitResult](t, out)
	require.Len(t, result.Steps, 1)
	assert.False(t, result.Steps[0].Fired)
	assert.Equal(t, "duplicate", result.Steps[0].Reason)
}

func TestEmitNoMatchingRules(t *testing.T) {
	opts := appliedDB(t, "json")

	out, err := execute(NewEmitCommand(opts), "b1", "c1", "comment_added", "--user", "bob")

	require.NoError(t, err)
	result := decodeData[EmitResult](t, out)
	assert.Equal(t, 1, result.Events)
	assert.Empty(t, result.Steps)
}

func TestEmitRejectsBadInput(t *testing.T) {
	opts := appliedDB(t, "text")

	tests := []struct {
		name string
		args []string
	}{
		{"unknown type", []string{"b1", "c1", "card_archived"}},
		{"bad due date", []string{"b1", "c1", "due_date_changed", "--due-date", "friday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(NewEmitCommand(opts), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E008]")
		})
	}
}

func TestActivityAfterEmit(t *testing.T) {
	opts := appliedDB(t, "json")
	_, err := execute(NewEmitCommand(opts), "b1", "c1", "card_moved", "--to-column", "review", "--event-id", "evt-1")
	require.NoError(t, err)

	out, err := execute(NewActivityCommand(opts), "b1")
	require.NoError(t, err)
	result := decodeData[ActivityResult](t, out)
	require.Len(t, result.Entries, 2)
	for _, e := range result.Entries {
		assert.Equal(t, ir.ActivityRuleFired, e.Kind)
	}

	out, err = execute(NewActivityCommand(opts), "b1", "--limit", "1")
	require.NoError(t, err)
	assert.Len(t, decodeData[ActivityResult](t, out).Entries, 1)
}

func TestActivityEmptyBoard(t *testing.T) {
	opts := seededDB(t, "text")

	out, err := execute(NewActivityCommand(opts), "b1")

	require.NoError(t, err)
	assert.Equal(t, "No activity on board b1.\n", out)
}

func TestActivityRejectsBadLimit(t *testing.T) {
	opts := seededDB(t, "text")

	_, err := execute(NewActivityCommand(opts), "b1", "--limit", "0")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
