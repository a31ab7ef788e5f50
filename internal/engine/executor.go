package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

// DefaultActionTimeout bounds internal card mutations.
const DefaultActionTimeout = 30 * time.Second

// AutomationAuthor is the author id of comments posted by rules.
const AutomationAuthor = "automation"

// Executor runs a rule's actions strictly in declared order.
//
// A failing action does not stop the remaining ones. Mutating actions that
// change card state produce a derived event (causation = triggering event,
// depth + 1) in their outcome; the dispatcher enqueues it.
type Executor struct {
	board          Board
	notifier       Notifier
	webhooks       WebhookSender
	clock          Clock
	ids            IDGenerator
	actionTimeout  time.Duration
	webhookTimeout time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithActionTimeout sets the deadline of internal mutations.
func WithActionTimeout(d time.Duration) ExecutorOption {
	return func(x *Executor) { x.actionTimeout = d }
}

// WithWebhookTimeout sets the deadline of webhook deliveries.
func WithWebhookTimeout(d time.Duration) ExecutorOption {
	return func(x *Executor) { x.webhookTimeout = d }
}

// WithExecutorClock overrides the wall clock.
func WithExecutorClock(c Clock) ExecutorOption {
	return func(x *Executor) { x.clock = c }
}

// WithEventIDs overrides the derived event id generator.
func WithEventIDs(g IDGenerator) ExecutorOption {
	return func(x *Executor) { x.ids = g }
}

// NewExecutor creates an Executor. notifier and webhooks may be nil, in
// which case the corresponding actions fail.
func NewExecutor(board Board, notifier Notifier, webhooks WebhookSender, opts ...ExecutorOption) *Executor {
	x := &Executor{
		board:          board,
		notifier:       notifier,
		webhooks:       webhooks,
		clock:          SystemClock{},
		ids:            UUIDv7Generator{},
		actionTimeout:  DefaultActionTimeout,
		webhookTimeout: DefaultWebhookTimeout,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs rule.Actions against the card of ev and returns one outcome
// per action, in order.
func (x *Executor) Execute(ctx context.Context, rule ir.AutomationRule, ev ir.BoardEvent) []ir.ActionOutcome {
	outcomes := make([]ir.ActionOutcome, 0, len(rule.Actions))
	for _, action := range rule.Actions {
		outcome := ir.ActionOutcome{Action: action, Kind: action.Kind(), Status: ir.OutcomeSucceeded}

		timeout := x.actionTimeout
		if action.Kind() == ir.ActionTriggerWebhook {
			timeout = x.webhookTimeout
		}
		actx, cancel := context.WithTimeout(ctx, timeout)
		produced, err := x.run(actx, rule, ev, action)
		cancel()

		if err != nil {
			err = x.classify(actx, rule, action, err)
			outcome.Status = ir.OutcomeFailed
			outcome.Error = err.Error()
			slog.Warn("action failed",
				"rule_id", rule.ID,
				"board_id", rule.BoardID,
				"event_id", ev.EventID,
				"card_id", ev.CardID,
				"action", action.Kind(),
				"error", err,
			)
		}
		outcome.ProducedEvent = produced
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (x *Executor) classify(actx context.Context, rule ir.AutomationRule, action ir.Action, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) {
		return NewTimeoutError(rule.BoardID, rule.ID, string(action.Kind()), err)
	}
	return NewActionError(rule.BoardID, rule.ID, string(action.Kind()), err)
}

// run executes one action. It returns the derived event when a mutating
// action changed card state.
func (x *Executor) run(ctx context.Context, rule ir.AutomationRule, ev ir.BoardEvent, action ir.Action) (*ir.BoardEvent, error) {
	now := x.clock.Now()

	switch a := action.(type) {
	case ir.MoveCard:
		from, changed, err := x.board.MoveCard(ctx, ev.CardID, a.ColumnID)
		if err != nil || !changed {
			return nil, err
		}
		return x.derive(ev, ir.TriggerCardMoved, ir.EventPayload{FromColumn: from, ToColumn: a.ColumnID}, now), nil

	case ir.AddLabel:
		changed, err := x.board.AddLabel(ctx, ev.CardID, a.Label)
		if err != nil || !changed {
			return nil, err
		}
		return x.derive(ev, ir.TriggerLabelAdded, ir.EventPayload{Label: a.Label}, now), nil

	case ir.RemoveLabel:
		changed, err := x.board.RemoveLabel(ctx, ev.CardID, a.Label)
		if err != nil || !changed {
			return nil, err
		}
		return x.derive(ev, ir.TriggerLabelRemoved, ir.EventPayload{Label: a.Label}, now), nil

	case ir.AssignUser:
		changed, err := x.board.AssignUser(ctx, ev.CardID, a.UserID)
		if err != nil || !changed {
			return nil, err
		}
		return x.derive(ev, ir.TriggerCardAssigned, ir.EventPayload{UserID: a.UserID}, now), nil

	case ir.SetDueDate:
		due := now.Add(a.Offset)
		if a.Date != nil {
			due = *a.Date
		}
		due = due.UTC()
		changed, err := x.board.SetDueDate(ctx, ev.CardID, due)
		if err != nil || !changed {
			return nil, err
		}
		return x.derive(ev, ir.TriggerDueDateChanged, ir.EventPayload{DueDate: &due}, now), nil

	case ir.PostComment:
		data, err := x.templateData(ctx, rule, ev, now)
		if err != nil {
			return nil, err
		}
		_, err = x.board.PostComment(ctx, ev.CardID, AutomationAuthor, Render(a.Template, data), now)
		return nil, err

	case ir.SendNotification:
		return nil, x.notify(ctx, rule, ev, a, now)

	case ir.TriggerWebhook:
		return nil, x.webhook(ctx, rule, ev, a, now)

	default:
		return nil, fmt.Errorf("unsupported action %T", action)
	}
}

func (x *Executor) derive(ev ir.BoardEvent, typ ir.TriggerType, payload ir.EventPayload, now time.Time) *ir.BoardEvent {
	child := ev.Derive(typ, ev.CardID, payload, now)
	child.EventID = x.ids.Generate()
	return &child
}

// templateData loads the card as it is now, after earlier actions.
func (x *Executor) templateData(ctx context.Context, rule ir.AutomationRule, ev ir.BoardEvent, now time.Time) (TemplateData, error) {
	card, err := x.board.GetCard(ctx, ev.CardID)
	if err != nil {
		return TemplateData{}, fmt.Errorf("load card: %w", err)
	}
	name, err := x.board.ColumnName(ctx, card.ColumnID)
	if err != nil {
		// A template can still render without the column name.
		name = card.ColumnID
	}
	return TemplateData{Card: card, ColumnName: name, Rule: rule, Event: ev, Now: now}, nil
}

// notify sends the rendered message to the card's assignees, or to the
// board owner when the card has none.
func (x *Executor) notify(ctx context.Context, rule ir.AutomationRule, ev ir.BoardEvent, a ir.SendNotification, now time.Time) error {
	if x.notifier == nil {
		return errors.New("no notifier configured")
	}
	data, err := x.templateData(ctx, rule, ev, now)
	if err != nil {
		return err
	}
	recipients := data.Card.AssigneeIDs
	if len(recipients) == 0 {
		owner, err := x.board.BoardOwner(ctx, ev.BoardID)
		if err != nil {
			return fmt.Errorf("resolve board owner: %w", err)
		}
		recipients = []string{owner}
	}

	message := Render(a.Template, data)
	var errs []error
	for _, user := range recipients {
		err := x.notifier.Notify(ctx, ir.Notification{
			UserID:    user,
			BoardID:   ev.BoardID,
			CardID:    ev.CardID,
			RuleID:    rule.ID,
			Message:   message,
			CreatedAt: now,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", user, err))
		}
	}
	return errors.Join(errs...)
}

func (x *Executor) webhook(ctx context.Context, rule ir.AutomationRule, ev ir.BoardEvent, a ir.TriggerWebhook, now time.Time) error {
	if x.webhooks == nil {
		return errors.New("no webhook sender configured")
	}
	data, err := x.templateData(ctx, rule, ev, now)
	if err != nil {
		return err
	}

	payload := newWebhookPayload(rule, ev, data.Card, now)
	if a.PayloadTemplate != "" {
		rendered := []byte(RenderJSON(a.PayloadTemplate, data))
		if !json.Valid(rendered) {
			return errors.New("payload template did not render valid JSON")
		}
		payload.Data = rendered
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	return x.webhooks.Send(ctx, a.URL, body)
}
