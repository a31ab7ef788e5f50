package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/boardflow/internal/engine"
	"github.com/roach88/boardflow/internal/ir"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	EventID    string
	FromColumn string
	ToColumn   string
	Label      string
	User       string
	DueDate    string
	Timeout    time.Duration
}

// EmitStep is one dispatch decision reported by emit.
type EmitStep struct {
	EventID   string             `json:"event_id"`
	EventType ir.TriggerType     `json:"event_type"`
	Depth     int                `json:"depth"`
	RuleID    string             `json:"rule_id,omitempty"`
	RuleName  string             `json:"rule_name,omitempty"`
	Fired     bool               `json:"fired"`
	Reason    string             `json:"reason,omitempty"`
	Outcomes  []ir.ActionOutcome `json:"outcomes,omitempty"`
}

// EmitResult is the output of emit.
type EmitResult struct {
	Event  ir.BoardEvent `json:"event"`
	Events int           `json:"events_processed"`
	Steps  []EmitStep    `json:"steps"`
}

// Text renders the cascade in processing order.
func (r EmitResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Emitted %s %s on card %s (%d event(s) processed)\n",
		r.Event.Type, r.Event.EventID, r.Event.CardID, r.Events)
	for _, s := range r.Steps {
		indent := strings.Repeat("  ", s.Depth+1)
		if !s.Fired {
			fmt.Fprintf(&b, "%s- %s skipped on %s: %s\n", indent, s.RuleName, s.EventType, s.Reason)
			continue
		}
		fmt.Fprintf(&b, "%s+ %s fired on %s\n", indent, s.RuleName, s.EventType)
		for _, o := range s.Outcomes {
			if o.Error != "" {
				fmt.Fprintf(&b, "%s    %s %s: %s\n", indent, o.Kind, o.Status, o.Error)
				continue
			}
			fmt.Fprintf(&b, "%s    %s %s\n", indent, o.Kind, o.Status)
		}
	}
	return b.String()
}

// emitObserver collects dispatch decisions for one emit.
type emitObserver struct {
	mu     sync.Mutex
	events int
	steps  []EmitStep
}

func (o *emitObserver) EventProcessed(_ int64, _ ir.BoardEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events++
}

func (o *emitObserver) RuleFired(_ int64, ev ir.BoardEvent, rule ir.AutomationRule, outcomes []ir.ActionOutcome) {
	o.add(EmitStep{
		EventID: ev.EventID, EventType: ev.Type, Depth: ev.Depth,
		RuleID: rule.ID, RuleName: rule.Name, Fired: true, Outcomes: outcomes,
	})
}

func (o *emitObserver) RuleSkipped(_ int64, ev ir.BoardEvent, rule ir.AutomationRule, reason string) {
	o.add(EmitStep{
		EventID: ev.EventID, EventType: ev.Type, Depth: ev.Depth,
		RuleID: rule.ID, RuleName: rule.Name, Reason: reason,
	})
}

func (o *emitObserver) add(s EmitStep) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, s)
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit <board-id> <card-id> <event-type>",
		Short: "Dispatch one board event and report the rules it fired",
		Long: `Submit a single board event to a one-shot dispatcher over the database,
wait for its whole cascade to finish, and report every rule that fired
or was skipped.

Event types: card_created, card_moved, label_added, label_removed,
due_date_reached, due_date_changed, comment_added, card_assigned.

Examples:
  boardflow emit b1 c1 card_moved --from-column todo --to-column review
  boardflow emit b1 c1 label_added --label urgent --format json`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(opts, args[0], args[1], ir.TriggerType(args[2]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EventID, "event-id", "", "event id (defaults to a new UUIDv7)")
	cmd.Flags().StringVar(&opts.FromColumn, "from-column", "", "source column (card_moved)")
	cmd.Flags().StringVar(&opts.ToColumn, "to-column", "", "destination column (card_moved)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "label id (label_added, label_removed)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user id (card_assigned, comment_added)")
	cmd.Flags().StringVar(&opts.DueDate, "due-date", "", "due date, RFC 3339 (due_date_changed, due_date_reached)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "maximum time to wait for the cascade")

	return cmd
}

func runEmit(opts *EmitOptions, boardID, cardID string, typ ir.TriggerType, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if !ir.ValidTriggerTypes[typ] {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("unknown event type %q", typ), nil)
	}
	payload := ir.EventPayload{
		FromColumn: opts.FromColumn,
		ToColumn:   opts.ToColumn,
		Label:      opts.Label,
		UserID:     opts.User,
	}
	if opts.DueDate != "" {
		due, err := time.Parse(time.RFC3339, opts.DueDate)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("invalid --due-date: %v", err), nil)
		}
		due = due.UTC()
		payload.DueDate = &due
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	obs := &emitObserver{}
	d := a.newDispatcher(nil, engine.WithObserver(obs))

	ev, err := d.Submit(ir.BoardEvent{
		EventID: opts.EventID,
		BoardID: boardID,
		CardID:  cardID,
		Type:    typ,
		Payload: payload,
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
	}
	formatter.VerboseLog("Submitted %s %s", ev.Type, ev.EventID)

	ctx, cancel := context.WithTimeout(commandContext(cmd), opts.Timeout)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeTimeout, fmt.Sprintf("cascade did not finish: %v", err), nil)
	}

	obs.mu.Lock()
	result := EmitResult{Event: ev, Events: obs.events, Steps: obs.steps}
	obs.mu.Unlock()
	if result.Steps == nil {
		result.Steps = []EmitStep{}
	}
	return formatter.Success(result)
}
