package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/metrics"
)

// DefaultWorkers is the default size of the dispatcher worker pool.
const DefaultWorkers = 4

// DefaultFailureThreshold is the number of consecutive failed executions
// after which a rule is disabled.
const DefaultFailureThreshold = 5

// ErrEventPending is returned by Submit for an event id that is still
// queued or being processed.
var ErrEventPending = errors.New("submit: event already pending")

// Skip reasons reported to observers.
const (
	SkipDepth      = "depth"
	SkipRateLimit  = "rate_limited"
	SkipConditions = "conditions"
	SkipDuplicate  = "duplicate"
	SkipCardError  = "card_unavailable"
)

// Observer receives a synchronous report of dispatch decisions. Calls for
// one board are never concurrent; calls for different boards may be.
type Observer interface {
	EventProcessed(seq int64, ev ir.BoardEvent)
	RuleFired(seq int64, ev ir.BoardEvent, rule ir.AutomationRule, outcomes []ir.ActionOutcome)
	RuleSkipped(seq int64, ev ir.BoardEvent, rule ir.AutomationRule, reason string)
}

// boardQueue is the FIFO of one board. scheduled is true while the board
// sits in the run queue or is held by a worker, so at most one worker
// processes a board at a time.
type boardQueue struct {
	id        string
	events    []ir.BoardEvent
	scheduled bool
}

// Dispatcher routes board events to rules.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Run(): call once; it owns the worker pool until ctx is cancelled
//   - WaitIdle(): safe from any goroutine
//
// INVARIANTS:
//   - Events of one board are processed one at a time in arrival order
//   - Derived events join their board's queue after everything already queued
//   - Rules are fetched per event, so a rule toggled off is invisible to the
//     next event but never interrupts an execution already admitted
type Dispatcher struct {
	rules    RuleSource
	failures FailureTracker
	board    Board
	notifier Notifier
	exec     *Executor
	guard    *LoopGuard
	ledger   Ledger
	clock    Clock
	ids      IDGenerator
	metrics  *metrics.Metrics
	observer Observer
	seq      Sequence

	workers          int
	failureThreshold int

	mu      sync.Mutex
	boards  map[string]*boardQueue
	ready   *fifo[*boardQueue]
	pending int
	queued  map[string]struct{}
	idle    chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithGuard replaces the default loop guard.
func WithGuard(g *LoopGuard) Option {
	return func(d *Dispatcher) { d.guard = g }
}

// WithFailureThreshold sets K, the consecutive failures before auto-disable.
// Zero disables auto-disable.
func WithFailureThreshold(k int) Option {
	return func(d *Dispatcher) { d.failureThreshold = k }
}

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithIDs overrides the id generator used for submitted events without an id.
func WithIDs(g IDGenerator) Option {
	return func(d *Dispatcher) { d.ids = g }
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithObserver attaches a dispatch observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithFailureTracker attaches the consecutive-failure counter.
func WithFailureTracker(f FailureTracker) Option {
	return func(d *Dispatcher) { d.failures = f }
}

// WithNotifier sets where auto-disable notices go.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// NewDispatcher creates a dispatcher over rules, board and ledger, running
// actions through exec.
func NewDispatcher(rules RuleSource, board Board, exec *Executor, ledger Ledger, opts ...Option) *Dispatcher {
	idle := make(chan struct{})
	close(idle)

	d := &Dispatcher{
		rules:            rules,
		board:            board,
		exec:             exec,
		ledger:           ledger,
		guard:            NewLoopGuard(0, 0, 0),
		clock:            SystemClock{},
		ids:              UUIDv7Generator{},
		workers:          DefaultWorkers,
		failureThreshold: DefaultFailureThreshold,
		boards:           make(map[string]*boardQueue),
		ready:            newFIFO[*boardQueue](),
		queued:           make(map[string]struct{}),
		idle:             idle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Guard returns the dispatcher's loop guard.
func (d *Dispatcher) Guard() *LoopGuard { return d.guard }

// Submit appends an externally originated or derived event to its board's
// queue. Missing EventID and OccurredAt are filled in. Returns the event as
// enqueued, or an error if the event is malformed, its id is still pending
// (ErrEventPending) or the dispatcher stopped.
func (d *Dispatcher) Submit(ev ir.BoardEvent) (ir.BoardEvent, error) {
	if ev.BoardID == "" {
		return ev, errors.New("submit: event has no board id")
	}
	if !ir.ValidTriggerTypes[ev.Type] {
		return ev, fmt.Errorf("submit: unknown event type %q", ev.Type)
	}
	if ev.EventID == "" {
		ev.EventID = d.ids.Generate()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = d.clock.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enqueueLocked(ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// enqueueLocked appends ev to its board queue. An event id is accepted
// again only after its previous event finished. Caller holds d.mu.
func (d *Dispatcher) enqueueLocked(ev ir.BoardEvent) error {
	if _, ok := d.queued[ev.EventID]; ok {
		return fmt.Errorf("%w: %s", ErrEventPending, ev.EventID)
	}
	bq := d.boards[ev.BoardID]
	if bq == nil {
		bq = &boardQueue{id: ev.BoardID}
		d.boards[ev.BoardID] = bq
	}
	bq.events = append(bq.events, ev)
	d.queued[ev.EventID] = struct{}{}

	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
	d.metrics.SetPending(d.pending)

	if !bq.scheduled {
		bq.scheduled = true
		if !d.ready.Enqueue(bq) {
			bq.events = bq.events[:len(bq.events)-1]
			bq.scheduled = false
			delete(d.queued, ev.EventID)
			d.finishLocked(1)
			return errors.New("submit: dispatcher stopped")
		}
	}
	return nil
}

// finishLocked marks n events done. Caller holds d.mu.
func (d *Dispatcher) finishLocked(n int) {
	d.pending -= n
	d.metrics.SetPending(d.pending)
	if d.pending == 0 {
		close(d.idle)
	}
}

// Pending returns the number of events submitted and not yet processed.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// WaitIdle blocks until every board queue is empty and no event is being
// processed, or ctx is done.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the worker pool and blocks until ctx is cancelled.
//
// ERROR HANDLING: processing failures are logged with full event context
// and the worker moves on. Nothing a single event does can stop the pool.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher starting", "workers", d.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.worker(gctx)
			return nil
		})
	}
	err := g.Wait()

	slog.Info("dispatcher stopped", "pending", d.Pending())
	return err
}

// Drain runs the worker pool until the dispatcher is idle, then stops it.
// Used by one-shot commands and tests.
func (d *Dispatcher) Drain(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Run(runCtx) }()

	err := d.WaitIdle(ctx)
	cancel()
	if runErr := <-done; err == nil {
		err = runErr
	}
	return err
}

// Stop closes the run queue; later Submit calls fail.
func (d *Dispatcher) Stop() {
	d.ready.Close()
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		if bq, ok := d.ready.TryDequeue(); ok {
			d.step(ctx, bq)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case _, open := <-d.ready.Wait():
			if !open {
				return
			}
		}
	}
}

// step processes the head event of bq, enqueues what it produced and puts
// the board back in the run queue if more events are waiting.
func (d *Dispatcher) step(ctx context.Context, bq *boardQueue) {
	d.mu.Lock()
	if len(bq.events) == 0 {
		bq.scheduled = false
		d.mu.Unlock()
		return
	}
	ev := bq.events[0]
	bq.events[0] = ir.BoardEvent{}
	bq.events = bq.events[1:]
	d.mu.Unlock()

	derived := d.processEvent(ctx, ev)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, child := range derived {
		if err := d.enqueueLocked(child); err != nil {
			slog.Warn("derived event dropped", "event_id", child.EventID, "board_id", child.BoardID, "error", err)
		}
	}
	if len(bq.events) > 0 {
		if !d.ready.Enqueue(bq) {
			// Stopped: the remaining events will never run.
			for _, dropped := range bq.events {
				delete(d.queued, dropped.EventID)
			}
			d.finishLocked(len(bq.events))
			bq.events = nil
			bq.scheduled = false
		}
	} else {
		bq.scheduled = false
	}
	delete(d.queued, ev.EventID)
	d.finishLocked(1)
}

// processEvent runs every matching rule for ev and returns the events
// produced by their actions, in rule then action order.
func (d *Dispatcher) processEvent(ctx context.Context, ev ir.BoardEvent) []ir.BoardEvent {
	seq := d.seq.Next()
	d.metrics.IncEventDispatched(string(ev.Type))
	if d.observer != nil {
		d.observer.EventProcessed(seq, ev)
	}

	rules, err := d.rules.RulesFor(ctx, ev.BoardID, ev.Type)
	if err != nil {
		logEventError(ev, fmt.Errorf("rule lookup: %w", err))
		return nil
	}

	var derived []ir.BoardEvent
	for _, rule := range rules {
		if !rule.Trigger.Matches(ev) {
			continue
		}
		derived = append(derived, d.fire(ctx, seq, ev, rule)...)
	}
	return derived
}

// fire runs one rule for ev: guard, conditions, firing claim, actions,
// failure tracking.
func (d *Dispatcher) fire(ctx context.Context, seq int64, ev ir.BoardEvent, rule ir.AutomationRule) []ir.BoardEvent {
	now := d.clock.Now()

	if err := d.guard.Admit(ev, rule.ID, now); err != nil {
		d.onGuardTrip(ctx, seq, ev, rule, err, now)
		return nil
	}

	card, err := d.board.GetCard(ctx, ev.CardID)
	if err != nil {
		slog.Warn("card unavailable, rule skipped",
			"rule_id", rule.ID, "board_id", ev.BoardID, "event_id", ev.EventID, "card_id", ev.CardID, "error", err)
		d.skip(seq, ev, rule, SkipCardError)
		return nil
	}
	if card.BoardID != ev.BoardID {
		// Another board's queue serializes this card.
		slog.Warn("card belongs to another board, rule skipped",
			"rule_id", rule.ID, "board_id", ev.BoardID, "event_id", ev.EventID,
			"card_id", ev.CardID, "card_board_id", card.BoardID)
		d.skip(seq, ev, rule, SkipCardError)
		return nil
	}

	if !Evaluate(rule.Conditions, EvalContext{Card: card, Now: now}) {
		d.skip(seq, ev, rule, SkipConditions)
		return nil
	}

	claimed, err := d.ledger.ClaimFiring(ctx, ev, rule.ID, now)
	if err != nil {
		logEventError(ev, fmt.Errorf("claim firing of rule %s: %w", rule.ID, err))
		return nil
	}
	if !claimed {
		slog.Debug("rule already fired for event", "rule_id", rule.ID, "event_id", ev.EventID)
		d.skip(seq, ev, rule, SkipDuplicate)
		return nil
	}
	d.guard.Record(ev.BoardID, now)

	outcomes := d.exec.Execute(ctx, rule, ev)
	failed := ir.Failed(outcomes)

	slog.Info("rule fired",
		"rule_id", rule.ID,
		"rule", rule.Name,
		"board_id", ev.BoardID,
		"event_id", ev.EventID,
		"depth", ev.Depth,
		"actions", len(outcomes),
		"failed", failed,
	)
	d.metrics.IncRuleFiring(failed)
	for _, o := range outcomes {
		d.metrics.IncActionOutcome(string(o.Kind), string(o.Status))
	}

	if err := d.ledger.CompleteFiring(ctx, ev.EventID, rule.ID, outcomes); err != nil {
		logEventError(ev, fmt.Errorf("record outcomes of rule %s: %w", rule.ID, err))
	}
	d.recordActivity(ctx, ir.ActivityEntry{
		BoardID:   ev.BoardID,
		Kind:      ir.ActivityRuleFired,
		RuleID:    rule.ID,
		EventID:   ev.EventID,
		Detail:    firingDetail(rule, outcomes),
		CreatedAt: now,
	})
	d.trackFailures(ctx, rule, failed, now)

	if d.observer != nil {
		d.observer.RuleFired(seq, ev, rule, outcomes)
	}

	var derived []ir.BoardEvent
	for _, o := range outcomes {
		if o.ProducedEvent != nil {
			derived = append(derived, *o.ProducedEvent)
		}
	}
	return derived
}

func (d *Dispatcher) onGuardTrip(ctx context.Context, seq int64, ev ir.BoardEvent, rule ir.AutomationRule, err error, now time.Time) {
	switch {
	case IsDepthError(err):
		slog.Warn("loop guard: chain depth reached, rule skipped",
			"rule_id", rule.ID, "board_id", ev.BoardID, "event_id", ev.EventID,
			"causation_id", ev.CausationID, "depth", ev.Depth)
		d.metrics.IncGuardTrip("depth")
		d.skip(seq, ev, rule, SkipDepth)
	case IsRateLimitError(err):
		slog.Warn("loop guard: board rate limit engaged, rule skipped",
			"rule_id", rule.ID, "board_id", ev.BoardID, "event_id", ev.EventID, "error", err)
		d.metrics.IncGuardTrip("rate")
		d.recordActivity(ctx, ir.ActivityEntry{
			BoardID:   ev.BoardID,
			Kind:      ir.ActivityRateLimited,
			RuleID:    rule.ID,
			EventID:   ev.EventID,
			Detail:    fmt.Sprintf("rule %q skipped: %v", rule.Name, err),
			CreatedAt: now,
		})
		d.skip(seq, ev, rule, SkipRateLimit)
	default:
		logEventError(ev, err)
	}
}

// trackFailures updates the rule's failure counter and, when the rule gets
// disabled, tells the board owner.
func (d *Dispatcher) trackFailures(ctx context.Context, rule ir.AutomationRule, failed bool, now time.Time) {
	if d.failures == nil || d.failureThreshold <= 0 {
		return
	}
	disabled, err := d.failures.RecordResult(ctx, rule, failed, d.failureThreshold, now)
	if err != nil {
		slog.Error("record rule result failed", "rule_id", rule.ID, "board_id", rule.BoardID, "error", err)
		return
	}
	if !disabled {
		return
	}

	slog.Warn("rule auto-disabled after consecutive failures",
		"rule_id", rule.ID, "board_id", rule.BoardID, "threshold", d.failureThreshold)
	d.metrics.IncRuleDisabled()
	message := fmt.Sprintf("Automation %q was disabled after %d consecutive failed runs.", rule.Name, d.failureThreshold)
	d.recordActivity(ctx, ir.ActivityEntry{
		BoardID:   rule.BoardID,
		Kind:      ir.ActivityRuleDisabled,
		RuleID:    rule.ID,
		Detail:    message,
		CreatedAt: now,
	})

	if d.notifier == nil {
		return
	}
	owner, err := d.board.BoardOwner(ctx, rule.BoardID)
	if err != nil {
		slog.Error("resolve board owner failed", "board_id", rule.BoardID, "error", err)
		return
	}
	err = d.notifier.Notify(ctx, ir.Notification{
		UserID:    owner,
		BoardID:   rule.BoardID,
		RuleID:    rule.ID,
		Message:   message,
		CreatedAt: now,
	})
	if err != nil {
		slog.Error("notify board owner failed", "board_id", rule.BoardID, "user_id", owner, "error", err)
	}
}

func (d *Dispatcher) recordActivity(ctx context.Context, e ir.ActivityEntry) {
	if _, err := d.ledger.RecordActivity(ctx, e); err != nil {
		slog.Error("record activity failed", "board_id", e.BoardID, "kind", e.Kind, "error", err)
	}
}

func (d *Dispatcher) skip(seq int64, ev ir.BoardEvent, rule ir.AutomationRule, reason string) {
	if d.observer != nil {
		d.observer.RuleSkipped(seq, ev, rule, reason)
	}
}

func firingDetail(rule ir.AutomationRule, outcomes []ir.ActionOutcome) string {
	failed := 0
	for _, o := range outcomes {
		if o.Status == ir.OutcomeFailed {
			failed++
		}
	}
	return fmt.Sprintf("rule %q ran %d actions, %d failed", rule.Name, len(outcomes), failed)
}

// logEventError logs a processing failure with enough event context for
// manual investigation.
func logEventError(ev ir.BoardEvent, err error) {
	slog.Error("event processing failed",
		"event_id", ev.EventID,
		"board_id", ev.BoardID,
		"card_id", ev.CardID,
		"type", ev.Type,
		"causation_id", ev.CausationID,
		"depth", ev.Depth,
		"error", err,
	)
}
