package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/boardflow/internal/compiler"
	"github.com/roach88/boardflow/internal/engine"
	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/testutil"
)

// drainTimeout bounds how long one event step may take to settle.
const drainTimeout = 30 * time.Second

// Harness holds the state of one scenario execution.
//
// The dispatcher runs with a single worker and sequence-based ids so that
// identical scenarios produce identical traces.
type Harness struct {
	board      *testutil.MemoryBoard
	rules      *testutil.MemoryRules
	ledger     *testutil.MemoryLedger
	webhooks   *testutil.RecordingWebhooks
	clock      *testutil.ManualClock
	recorder   *recorder
	dispatcher *engine.Dispatcher
	logger     *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Compile the scenario's CUE rule files
//  2. Build an in-memory board with the declared columns and cards
//  3. Submit each event step and drain the dispatcher
//  4. Evaluate assertions against the trace and final board state
//
// A returned error means the scenario could not execute; assertion failures
// are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := h.executeEvents(ctx, scenario.Events); err != nil {
		return nil, fmt.Errorf("failed to execute events: %w", err)
	}

	result := NewResult()
	result.Trace = h.recorder.snapshot()

	actx := &AssertionContext{
		Board:    h.board,
		Rules:    h.rules,
		Webhooks: h.webhooks,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	startAt := DefaultStart
	if scenario.Start != "" {
		startAt = scenario.Start
	}
	start, err := time.Parse(time.RFC3339, startAt)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	rules, err := loadRules(scenario.Rules, start)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		board:    testutil.NewMemoryBoard(),
		rules:    testutil.NewMemoryRules(rules...),
		ledger:   testutil.NewMemoryLedger(),
		webhooks: &testutil.RecordingWebhooks{},
		clock:    testutil.NewManualClock(start),
		recorder: &recorder{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := h.setupBoard(scenario); err != nil {
		return nil, err
	}

	guard := engine.NewLoopGuard(0, 0, 0)
	if g := scenario.Guard; g != nil {
		var window time.Duration
		if g.Window != "" {
			if window, err = time.ParseDuration(g.Window); err != nil {
				return nil, fmt.Errorf("guard.window: %w", err)
			}
		}
		guard = engine.NewLoopGuard(g.MaxDepth, g.RateLimit, window)
	}

	threshold := engine.DefaultFailureThreshold
	if scenario.FailureThreshold != nil {
		threshold = *scenario.FailureThreshold
	}

	exec := engine.NewExecutor(h.board, h.board, h.webhooks,
		engine.WithExecutorClock(h.clock),
		engine.WithEventIDs(engine.NewSequenceGenerator("derived")),
	)
	h.dispatcher = engine.NewDispatcher(h.rules, h.board, exec, h.ledger,
		engine.WithWorkers(1),
		engine.WithGuard(guard),
		engine.WithFailureThreshold(threshold),
		engine.WithFailureTracker(h.rules),
		engine.WithNotifier(h.board),
		engine.WithClock(h.clock),
		engine.WithIDs(engine.NewSequenceGenerator("evt")),
		engine.WithObserver(h.recorder),
	)
	return h, nil
}

// loadRules compiles every rule file. Rule keys become rule ids and must be
// unique across files.
func loadRules(paths []string, now time.Time) ([]ir.AutomationRule, error) {
	var rules []ir.AutomationRule
	seen := make(map[string]string)
	for _, path := range paths {
		bundle, errs := compiler.Load(path, compiler.LoadModeCollectAll)
		if len(errs) > 0 {
			return nil, fmt.Errorf("load rules %s: %w", path, errors.Join(errs...))
		}
		for _, cr := range bundle.Rules {
			if prev, dup := seen[cr.Key]; dup {
				return nil, fmt.Errorf("rule %q declared in both %s and %s", cr.Key, prev, path)
			}
			seen[cr.Key] = path
			def := cr.Definition
			rules = append(rules, ir.AutomationRule{
				ID:         cr.Key,
				BoardID:    def.BoardID,
				Name:       def.Name,
				Trigger:    def.Trigger,
				Conditions: def.Conditions,
				Actions:    def.Actions,
				IsEnabled:  true,
				Version:    1,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
	}
	return rules, nil
}

func (h *Harness) setupBoard(s *Scenario) error {
	board, cols := s.Board.Records()
	h.board.AddBoard(board)
	for _, c := range cols {
		h.board.AddColumn(c)
	}

	for _, c := range s.Cards {
		card, err := c.Card(s.Board.ID)
		if err != nil {
			return err
		}
		h.board.AddCard(card)
	}

	for _, f := range s.Failures {
		if f.Method == MethodWebhook {
			h.webhooks.Err = errors.New(f.Error)
			continue
		}
		h.board.Fail(f.Method, errors.New(f.Error))
	}
	return nil
}

// executeEvents submits each step and waits for the dispatcher to settle
// before the next one, so every cascade completes in step order.
func (h *Harness) executeEvents(ctx context.Context, steps []EventStep) error {
	for i, step := range steps {
		if step.Advance != "" {
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("event %d: advance: %w", i, err)
			}
			h.clock.Advance(d)
		}

		ev, err := h.eventFor(step)
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}

		repeat := max(step.Repeat, 1)
		for range repeat {
			if _, err := h.dispatcher.Submit(ev); err != nil {
				return fmt.Errorf("event %d: submit: %w", i, err)
			}
		}

		drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
		err = h.dispatcher.Drain(drainCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("event %d: drain: %w", i, err)
		}

		h.logger.Info("event step completed", "step", i, "type", step.Type, "card_id", step.Card, "repeat", repeat)
	}
	return nil
}

func (h *Harness) eventFor(step EventStep) (ir.BoardEvent, error) {
	card, ok := h.board.Card(step.Card)
	if !ok {
		return ir.BoardEvent{}, fmt.Errorf("unknown card %q", step.Card)
	}
	payload := ir.EventPayload{
		FromColumn: step.FromColumn,
		ToColumn:   step.ToColumn,
		Label:      step.Label,
		UserID:     step.User,
	}
	if step.DueDate != "" {
		due, err := time.Parse(time.RFC3339, step.DueDate)
		if err != nil {
			return ir.BoardEvent{}, fmt.Errorf("due_date: %w", err)
		}
		payload.DueDate = &due
	}
	return ir.BoardEvent{
		BoardID: card.BoardID,
		CardID:  card.ID,
		Type:    step.Type,
		Payload: payload,
	}, nil
}
