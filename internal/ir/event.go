package ir

import "time"

// EventPayload carries the kind-specific facts of a board event.
// Only the fields relevant to the event's type are set.
type EventPayload struct {
	FromColumn string     `json:"from_column,omitempty"`
	ToColumn   string     `json:"to_column,omitempty"`
	Label      string     `json:"label,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	CommentID  string     `json:"comment_id,omitempty"`
}

// BoardEvent is an immutable fact about a board.
//
// CausationID links an event produced by an action back to the event whose
// rule fired the action. Depth is 0 for externally originated events and
// parent.Depth+1 for derived ones.
type BoardEvent struct {
	EventID     string       `json:"event_id"`
	BoardID     string       `json:"board_id"`
	CardID      string       `json:"card_id"`
	Type        TriggerType  `json:"type"`
	Payload     EventPayload `json:"payload"`
	CausationID string       `json:"causation_id,omitempty"`
	Depth       int          `json:"depth"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// Derive builds a child event caused by ev. The caller assigns EventID.
func (ev BoardEvent) Derive(typ TriggerType, cardID string, payload EventPayload, at time.Time) BoardEvent {
	return BoardEvent{
		BoardID:     ev.BoardID,
		CardID:      cardID,
		Type:        typ,
		Payload:     payload,
		CausationID: ev.EventID,
		Depth:       ev.Depth + 1,
		OccurredAt:  at,
	}
}

// Card is the engine's view of a card, as served by the data-access port.
type Card struct {
	ID           string            `json:"id"`
	BoardID      string            `json:"board_id"`
	ColumnID     string            `json:"column_id"`
	SwimlaneID   string            `json:"swimlane_id,omitempty"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	AssigneeIDs  []string          `json:"assignee_ids,omitempty"`
	LabelIDs     []string          `json:"label_ids,omitempty"`
	DueDate      *time.Time        `json:"due_date,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	IsTemplate   bool              `json:"is_template,omitempty"`
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	out.AssigneeIDs = append([]string(nil), c.AssigneeIDs...)
	out.LabelIDs = append([]string(nil), c.LabelIDs...)
	if c.DueDate != nil {
		d := *c.DueDate
		out.DueDate = &d
	}
	if c.CustomFields != nil {
		out.CustomFields = make(map[string]string, len(c.CustomFields))
		for k, v := range c.CustomFields {
			out.CustomFields[k] = v
		}
	}
	return out
}

// OutcomeStatus is the result of a single action.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// ActionOutcome records what happened to one action of a fired rule.
// ProducedEvent is set only when a mutating action changed card state.
type ActionOutcome struct {
	Action        Action        `json:"-"`
	Kind          ActionKind    `json:"kind"`
	Status        OutcomeStatus `json:"status"`
	Error         string        `json:"error,omitempty"`
	ProducedEvent *BoardEvent   `json:"produced_event,omitempty"`
}

// Failed reports whether any outcome failed.
func Failed(outcomes []ActionOutcome) bool {
	for _, o := range outcomes {
		if o.Status == OutcomeFailed {
			return true
		}
	}
	return false
}

// Notification is a message delivered to a user's inbox.
type Notification struct {
	UserID    string    `json:"user_id"`
	BoardID   string    `json:"board_id"`
	CardID    string    `json:"card_id,omitempty"`
	RuleID    string    `json:"rule_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a comment posted on a card.
type Comment struct {
	ID        string    `json:"id"`
	CardID    string    `json:"card_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Board is the owner-scoped container of columns and cards.
type Board struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	OwnerID string `json:"owner_id" yaml:"owner_id"`
}

// Column is a named lane on a board.
type Column struct {
	ID       string `json:"id" yaml:"id"`
	BoardID  string `json:"board_id" yaml:"board_id"`
	Name     string `json:"name" yaml:"name"`
	Position int    `json:"position" yaml:"position"`
}
