package ir

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerType names the board event kind a rule reacts to.
// Event types and trigger types share one namespace.
type TriggerType string

const (
	TriggerCardCreated    TriggerType = "card_created"
	TriggerCardMoved      TriggerType = "card_moved"
	TriggerLabelAdded     TriggerType = "label_added"
	TriggerLabelRemoved   TriggerType = "label_removed"
	TriggerDueDateReached TriggerType = "due_date_reached"
	TriggerDueDateChanged TriggerType = "due_date_changed"
	TriggerCommentAdded   TriggerType = "comment_added"
	TriggerCardAssigned   TriggerType = "card_assigned"
)

// ValidTriggerTypes defines the closed set of trigger kinds.
var ValidTriggerTypes = map[TriggerType]bool{
	TriggerCardCreated:    true,
	TriggerCardMoved:      true,
	TriggerLabelAdded:     true,
	TriggerLabelRemoved:   true,
	TriggerDueDateReached: true,
	TriggerDueDateChanged: true,
	TriggerCommentAdded:   true,
	TriggerCardAssigned:   true,
}

// Trigger selects the events a rule is eligible for.
//
// Only CardMoved carries FromColumn/ToColumn and only LabelAdded carries
// Label. Empty filters match any value. Filters set on other kinds are
// definition errors (see compiler.ValidateRule).
type Trigger struct {
	Type       TriggerType `json:"type"`
	FromColumn string      `json:"from_column,omitempty"`
	ToColumn   string      `json:"to_column,omitempty"`
	Label      string      `json:"label,omitempty"`
}

// Matches reports whether the event satisfies this trigger's kind and filters.
func (t Trigger) Matches(ev BoardEvent) bool {
	if t.Type != ev.Type {
		return false
	}
	switch t.Type {
	case TriggerCardMoved:
		if t.FromColumn != "" && t.FromColumn != ev.Payload.FromColumn {
			return false
		}
		if t.ToColumn != "" && t.ToColumn != ev.Payload.ToColumn {
			return false
		}
	case TriggerLabelAdded:
		if t.Label != "" && t.Label != ev.Payload.Label {
			return false
		}
	}
	return true
}

// Field names a card attribute that conditions can inspect.
type Field string

const (
	FieldPriority    Field = "priority"
	FieldAssigneeIDs Field = "assignee_ids"
	FieldLabelIDs    Field = "label_ids"
	FieldDueDate     Field = "due_date"
	FieldColumnID    Field = "column_id"
	FieldSwimlaneID  Field = "swimlane_id"
)

// ValidFields defines the card attributes conditions may reference.
var ValidFields = map[Field]bool{
	FieldPriority:    true,
	FieldAssigneeIDs: true,
	FieldLabelIDs:    true,
	FieldDueDate:     true,
	FieldColumnID:    true,
	FieldSwimlaneID:  true,
}

// IsSetField reports whether the field holds a set of ids rather than a scalar.
func (f Field) IsSetField() bool {
	return f == FieldAssigneeIDs || f == FieldLabelIDs
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
)

// ValidOperators defines the closed set of operators.
var ValidOperators = map[Operator]bool{
	OpEquals:      true,
	OpNotEquals:   true,
	OpIn:          true,
	OpNotIn:       true,
	OpContains:    true,
	OpGreaterThan: true,
	OpLessThan:    true,
	OpIsEmpty:     true,
	OpIsNotEmpty:  true,
}

// Condition is a single predicate over card state.
// Value is ignored by is_empty and is_not_empty.
type Condition struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    IRValue  `json:"value,omitempty"`
}

type conditionJSON struct {
	Field    Field           `json:"field"`
	Operator Operator        `json:"operator"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the condition with its constrained value.
func (c Condition) MarshalJSON() ([]byte, error) {
	out := conditionJSON{Field: c.Field, Operator: c.Operator}
	if c.Value != nil {
		raw, err := MarshalIRValue(c.Value)
		if err != nil {
			return nil, fmt.Errorf("condition %s value: %w", c.Field, err)
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a condition, rejecting floats and objects in the value.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var in conditionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	c.Field = in.Field
	c.Operator = in.Operator
	c.Value = nil
	if len(in.Value) > 0 {
		v, err := UnmarshalIRValue(in.Value)
		if err != nil {
			return fmt.Errorf("condition %s value: %w", in.Field, err)
		}
		c.Value = v
	}
	return nil
}

// AutomationRule is a stored rule definition.
//
// Version starts at 1 and is bumped on every mutation; it doubles as the
// optimistic concurrency token for updates. ConsecutiveFailures is the only
// field the engine itself writes.
type AutomationRule struct {
	ID                  string      `json:"id"`
	BoardID             string      `json:"board_id"`
	Name                string      `json:"name"`
	Trigger             Trigger     `json:"trigger"`
	Conditions          []Condition `json:"conditions"`
	Actions             Actions     `json:"actions"`
	IsEnabled           bool        `json:"is_enabled"`
	Version             int64       `json:"version"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// RuleDefinition is the create payload for a rule.
type RuleDefinition struct {
	BoardID    string      `json:"board_id"`
	Name       string      `json:"name"`
	Trigger    Trigger     `json:"trigger"`
	Conditions []Condition `json:"conditions"`
	Actions    Actions     `json:"actions"`
}

// RulePatch is a partial update. Nil fields are left unchanged.
type RulePatch struct {
	Name       *string      `json:"name,omitempty"`
	Trigger    *Trigger     `json:"trigger,omitempty"`
	Conditions *[]Condition `json:"conditions,omitempty"`
	Actions    *Actions     `json:"actions,omitempty"`
}

// Apply returns the definition that results from applying p to r.
func (p RulePatch) Apply(r AutomationRule) RuleDefinition {
	def := RuleDefinition{
		BoardID:    r.BoardID,
		Name:       r.Name,
		Trigger:    r.Trigger,
		Conditions: r.Conditions,
		Actions:    r.Actions,
	}
	if p.Name != nil {
		def.Name = *p.Name
	}
	if p.Trigger != nil {
		def.Trigger = *p.Trigger
	}
	if p.Conditions != nil {
		def.Conditions = *p.Conditions
	}
	if p.Actions != nil {
		def.Actions = *p.Actions
	}
	return def
}
