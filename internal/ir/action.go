package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ActionKind names an action variant.
type ActionKind string

const (
	ActionMoveCard         ActionKind = "move_card"
	ActionAddLabel         ActionKind = "add_label"
	ActionRemoveLabel      ActionKind = "remove_label"
	ActionAssignUser       ActionKind = "assign_user"
	ActionSetDueDate       ActionKind = "set_due_date"
	ActionPostComment      ActionKind = "post_comment"
	ActionSendNotification ActionKind = "send_notification"
	ActionTriggerWebhook   ActionKind = "trigger_webhook"
)

// Action is a sealed interface over the closed set of action variants.
// Each variant carries exactly the fields its kind needs.
type Action interface {
	Kind() ActionKind
	action() // Sealed
}

// MoveCard sets the card's column. Idempotent: "set column to X", never "move one step".
type MoveCard struct {
	ColumnID string `json:"column_id"`
}

// AddLabel adds a label id to the card's label set.
type AddLabel struct {
	Label string `json:"label"`
}

// RemoveLabel removes a label id from the card's label set.
type RemoveLabel struct {
	Label string `json:"label"`
}

// AssignUser adds a user id to the card's assignee set.
type AssignUser struct {
	UserID string `json:"user_id"`
}

// SetDueDate sets an absolute due date, or one relative to the firing instant.
// Exactly one of Date and Offset is set.
type SetDueDate struct {
	Date   *time.Time    `json:"date,omitempty"`
	Offset time.Duration `json:"-"`
}

// PostComment posts a rendered comment on the card.
type PostComment struct {
	Template string `json:"template"`
}

// SendNotification notifies the card's assignees with a rendered message.
type SendNotification struct {
	Template string `json:"template"`
}

// TriggerWebhook POSTs the card payload to an external URL. A rendered
// PayloadTemplate must be JSON and is sent as the payload's data field.
type TriggerWebhook struct {
	URL             string `json:"url"`
	PayloadTemplate string `json:"payload_template,omitempty"`
}

func (MoveCard) Kind() ActionKind         { return ActionMoveCard }
func (AddLabel) Kind() ActionKind         { return ActionAddLabel }
func (RemoveLabel) Kind() ActionKind      { return ActionRemoveLabel }
func (AssignUser) Kind() ActionKind       { return ActionAssignUser }
func (SetDueDate) Kind() ActionKind       { return ActionSetDueDate }
func (PostComment) Kind() ActionKind      { return ActionPostComment }
func (SendNotification) Kind() ActionKind { return ActionSendNotification }
func (TriggerWebhook) Kind() ActionKind   { return ActionTriggerWebhook }

func (MoveCard) action()         {}
func (AddLabel) action()         {}
func (RemoveLabel) action()      {}
func (AssignUser) action()       {}
func (SetDueDate) action()       {}
func (PostComment) action()      {}
func (SendNotification) action() {}
func (TriggerWebhook) action()   {}

// IsMutating reports whether the action changes card state and therefore
// produces a derived board event when it takes effect.
func IsMutating(a Action) bool {
	switch a.(type) {
	case MoveCard, AddLabel, RemoveLabel, AssignUser, SetDueDate:
		return true
	default:
		return false
	}
}

// Actions is an ordered action list with a tagged JSON encoding:
//
//	[{"type":"move_card","column_id":"done"},{"type":"add_label","label":"x"}]
type Actions []Action

// actionEnvelope is the wire shape of every variant.
type actionEnvelope struct {
	Type            ActionKind `json:"type"`
	ColumnID        string     `json:"column_id,omitempty"`
	Label           string     `json:"label,omitempty"`
	UserID          string     `json:"user_id,omitempty"`
	Date            *time.Time `json:"date,omitempty"`
	Offset          string     `json:"offset,omitempty"`
	Template        string     `json:"template,omitempty"`
	URL             string     `json:"url,omitempty"`
	PayloadTemplate string     `json:"payload_template,omitempty"`
}

// MarshalJSON implements json.Marshaler for Actions.
func (as Actions) MarshalJSON() ([]byte, error) {
	out := make([]actionEnvelope, len(as))
	for i, a := range as {
		env, err := envelopeFor(a)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		out[i] = env
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler for Actions.
// Unknown action kinds are rejected.
func (as *Actions) UnmarshalJSON(data []byte) error {
	var raw []actionEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Actions, len(raw))
	for i, env := range raw {
		a, err := env.decode()
		if err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
		out[i] = a
	}
	*as = out
	return nil
}

func envelopeFor(a Action) (actionEnvelope, error) {
	switch v := a.(type) {
	case MoveCard:
		return actionEnvelope{Type: ActionMoveCard, ColumnID: v.ColumnID}, nil
	case AddLabel:
		return actionEnvelope{Type: ActionAddLabel, Label: v.Label}, nil
	case RemoveLabel:
		return actionEnvelope{Type: ActionRemoveLabel, Label: v.Label}, nil
	case AssignUser:
		return actionEnvelope{Type: ActionAssignUser, UserID: v.UserID}, nil
	case SetDueDate:
		env := actionEnvelope{Type: ActionSetDueDate, Date: v.Date}
		if v.Date == nil {
			env.Offset = v.Offset.String()
		}
		return env, nil
	case PostComment:
		return actionEnvelope{Type: ActionPostComment, Template: v.Template}, nil
	case SendNotification:
		return actionEnvelope{Type: ActionSendNotification, Template: v.Template}, nil
	case TriggerWebhook:
		return actionEnvelope{Type: ActionTriggerWebhook, URL: v.URL, PayloadTemplate: v.PayloadTemplate}, nil
	default:
		return actionEnvelope{}, fmt.Errorf("unknown action variant %T", a)
	}
}

func (env actionEnvelope) decode() (Action, error) {
	switch env.Type {
	case ActionMoveCard:
		return MoveCard{ColumnID: env.ColumnID}, nil
	case ActionAddLabel:
		return AddLabel{Label: env.Label}, nil
	case ActionRemoveLabel:
		return RemoveLabel{Label: env.Label}, nil
	case ActionAssignUser:
		return AssignUser{UserID: env.UserID}, nil
	case ActionSetDueDate:
		if env.Date != nil {
			return SetDueDate{Date: env.Date}, nil
		}
		offset, err := ParseOffset(env.Offset)
		if err != nil {
			return nil, err
		}
		return SetDueDate{Offset: offset}, nil
	case ActionPostComment:
		return PostComment{Template: env.Template}, nil
	case ActionSendNotification:
		return SendNotification{Template: env.Template}, nil
	case ActionTriggerWebhook:
		return TriggerWebhook{URL: env.URL, PayloadTemplate: env.PayloadTemplate}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", env.Type)
	}
}

// ParseOffset parses a due-date offset. It accepts Go durations ("36h",
// "90m") and whole days ("3d").
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("set_due_date requires a date or an offset")
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day offset %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return d, nil
}
