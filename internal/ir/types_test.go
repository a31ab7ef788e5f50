package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_Matches(t *testing.T) {
	moved := BoardEvent{Type: TriggerCardMoved, Payload: EventPayload{FromColumn: "todo", ToColumn: "done"}}

	assert.True(t, Trigger{Type: TriggerCardMoved}.Matches(moved))
	assert.True(t, Trigger{Type: TriggerCardMoved, ToColumn: "done"}.Matches(moved))
	assert.True(t, Trigger{Type: TriggerCardMoved, FromColumn: "todo", ToColumn: "done"}.Matches(moved))
	assert.False(t, Trigger{Type: TriggerCardMoved, ToColumn: "doing"}.Matches(moved))
	assert.False(t, Trigger{Type: TriggerCardMoved, FromColumn: "doing"}.Matches(moved))
	assert.False(t, Trigger{Type: TriggerCardCreated}.Matches(moved))

	labeled := BoardEvent{Type: TriggerLabelAdded, Payload: EventPayload{Label: "bug"}}
	assert.True(t, Trigger{Type: TriggerLabelAdded}.Matches(labeled))
	assert.True(t, Trigger{Type: TriggerLabelAdded, Label: "bug"}.Matches(labeled))
	assert.False(t, Trigger{Type: TriggerLabelAdded, Label: "feature"}.Matches(labeled))
}

func TestCondition_JSONRejectsFloats(t *testing.T) {
	var c Condition
	err := json.Unmarshal([]byte(`{"field":"priority","operator":"equals","value":1.5}`), &c)
	assert.Error(t, err)
}

func TestCondition_JSONKeepsListValues(t *testing.T) {
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(`{"field":"label_ids","operator":"in","value":["a","b"]}`), &c))

	assert.Equal(t, FieldLabelIDs, c.Field)
	assert.Equal(t, OpIn, c.Operator)
	assert.Equal(t, Strings("a", "b"), c.Value)

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"field":"label_ids","operator":"in","value":["a","b"]}`, string(data))
}

func TestCondition_JSONWithoutValue(t *testing.T) {
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(`{"field":"due_date","operator":"is_empty"}`), &c))
	assert.Nil(t, c.Value)
}

func TestRulePatch_Apply(t *testing.T) {
	rule := AutomationRule{
		BoardID: "b1",
		Name:    "old",
		Trigger: Trigger{Type: TriggerCardCreated},
		Actions: Actions{AddLabel{Label: "new"}},
	}
	name := "renamed"

	def := RulePatch{Name: &name}.Apply(rule)

	assert.Equal(t, "renamed", def.Name)
	assert.Equal(t, "b1", def.BoardID)
	assert.Equal(t, rule.Trigger, def.Trigger)
	assert.Equal(t, rule.Actions, def.Actions)
}

func TestBoardEvent_Derive(t *testing.T) {
	parent := BoardEvent{EventID: "e1", BoardID: "b1", CardID: "c1", Type: TriggerCardMoved, Depth: 2}

	child := parent.Derive(TriggerLabelAdded, "c1", EventPayload{Label: "x"}, parent.OccurredAt)

	assert.Equal(t, "e1", child.CausationID)
	assert.Equal(t, 3, child.Depth)
	assert.Equal(t, "b1", child.BoardID)
	assert.Empty(t, child.EventID)
}

func TestCard_CloneIsDeep(t *testing.T) {
	c := Card{ID: "c1", LabelIDs: []string{"a"}, CustomFields: map[string]string{"k": "v"}}
	cp := c.Clone()
	cp.LabelIDs[0] = "z"
	cp.CustomFields["k"] = "w"

	assert.Equal(t, "a", c.LabelIDs[0])
	assert.Equal(t, "v", c.CustomFields["k"])
}
