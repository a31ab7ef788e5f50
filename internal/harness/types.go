package harness

import (
	"sync"

	"github.com/roach88/boardflow/internal/ir"
)

// Trace entry kinds.
const (
	KindEvent   = "event"
	KindFired   = "fired"
	KindSkipped = "skipped"
)

// TraceEvent is one dispatch decision. Entries of kind "event" describe the
// event itself; "fired" and "skipped" add the rule and its outcome.
type TraceEvent struct {
	Seq         int64          `json:"seq"`
	Kind        string         `json:"kind"`
	EventID     string         `json:"event_id"`
	EventType   ir.TriggerType `json:"event_type"`
	CardID      string         `json:"card_id"`
	Depth       int            `json:"depth"`
	CausationID string         `json:"causation_id,omitempty"`
	RuleID      string         `json:"rule_id,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Outcomes    []OutcomeTrace `json:"outcomes,omitempty"`
}

// OutcomeTrace is the trace form of an action outcome.
type OutcomeTrace struct {
	Kind   ir.ActionKind    `json:"kind"`
	Status ir.OutcomeStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every dispatch decision in processing order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// recorder is the dispatcher observer that builds the trace.
type recorder struct {
	mu    sync.Mutex
	trace []TraceEvent
}

func (r *recorder) EventProcessed(seq int64, ev ir.BoardEvent) {
	r.add(newTraceEvent(seq, KindEvent, ev))
}

func (r *recorder) RuleFired(seq int64, ev ir.BoardEvent, rule ir.AutomationRule, outcomes []ir.ActionOutcome) {
	te := newTraceEvent(seq, KindFired, ev)
	te.RuleID = rule.ID
	for _, o := range outcomes {
		te.Outcomes = append(te.Outcomes, OutcomeTrace{Kind: o.Kind, Status: o.Status, Error: o.Error})
	}
	r.add(te)
}

func (r *recorder) RuleSkipped(seq int64, ev ir.BoardEvent, rule ir.AutomationRule, reason string) {
	te := newTraceEvent(seq, KindSkipped, ev)
	te.RuleID = rule.ID
	te.Reason = reason
	r.add(te)
}

func (r *recorder) add(te TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, te)
}

func (r *recorder) snapshot() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent(nil), r.trace...)
}

func newTraceEvent(seq int64, kind string, ev ir.BoardEvent) TraceEvent {
	return TraceEvent{
		Seq:         seq,
		Kind:        kind,
		EventID:     ev.EventID,
		EventType:   ev.Type,
		CardID:      ev.CardID,
		Depth:       ev.Depth,
		CausationID: ev.CausationID,
	}
}
