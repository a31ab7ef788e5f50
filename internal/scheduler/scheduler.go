package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/boardflow/internal/cron"
	"github.com/roach88/boardflow/internal/engine"
	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/metrics"
)

// DefaultInterval is the default tick period.
const DefaultInterval = 60 * time.Second

// Scheduler materializes recurring cards.
//
// Each tick: load due configs, claim each one, clone its template, submit
// CardCreated. A claim advances next_run_at in the same statement, so a
// clone failure still consumes the slot and the config fires again at its
// next cron time rather than on every tick.
type Scheduler struct {
	recs     Recurrences
	cloner   Cloner
	events   Submitter
	clock    engine.Clock
	ids      engine.IDGenerator
	metrics  *metrics.Metrics
	interval time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(c engine.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithIDs overrides the generator for cloned card ids.
func WithIDs(g engine.IDGenerator) Option {
	return func(s *Scheduler) { s.ids = g }
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a Scheduler.
func New(recs Recurrences, cloner Cloner, events Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		recs:     recs,
		cloner:   cloner,
		events:   events,
		clock:    engine.SystemClock{},
		ids:      engine.UUIDv7Generator{},
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("recurrence scheduler starting", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			slog.Error("recurrence tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("recurrence scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick processes every config due at the current instant and returns how
// many cards it created. Only the due-config query can fail a tick; each
// config is handled on its own.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.recs.DueRecurring(ctx, now)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, cfg := range due {
		if ctx.Err() != nil {
			break
		}
		if s.fire(ctx, cfg, now) {
			fired++
		}
	}
	return fired, nil
}

func (s *Scheduler) fire(ctx context.Context, cfg ir.RecurringConfig, now time.Time) bool {
	next, err := cron.NextFireAfter(cfg.CronExpression, now)
	if err != nil {
		slog.Error("recurring config has no next fire", "config_id", cfg.ID, "board_id", cfg.BoardID, "cron", cfg.CronExpression, "error", err)
		return false
	}

	won, err := s.recs.ClaimRecurring(ctx, cfg, next, now)
	if err != nil {
		slog.Error("recurring claim failed", "config_id", cfg.ID, "board_id", cfg.BoardID, "error", err)
		return false
	}
	if !won {
		slog.Debug("recurring slot taken", "config_id", cfg.ID,
			"error", engine.NewClaimLostError(cfg.BoardID, cfg.ID))
		s.metrics.IncRecurringFire("lost")
		return false
	}

	card, err := s.cloner.CloneCard(ctx, cfg.TemplateCardID, s.ids.Generate(), now)
	if err != nil {
		slog.Error("recurring clone failed",
			"config_id", cfg.ID,
			"board_id", cfg.BoardID,
			"template_card_id", cfg.TemplateCardID,
			"next_run_at", next,
			"error", err,
		)
		s.metrics.IncRecurringFire("clone_failed")
		return false
	}

	_, err = s.events.Submit(ir.BoardEvent{
		BoardID:    card.BoardID,
		CardID:     card.ID,
		Type:       ir.TriggerCardCreated,
		OccurredAt: now,
	})
	if err != nil {
		slog.Error("submit recurring card event failed", "config_id", cfg.ID, "card_id", card.ID, "error", err)
	}

	slog.Info("recurring card created",
		"config_id", cfg.ID, "board_id", card.BoardID, "card_id", card.ID, "next_run_at", next)
	s.metrics.IncRecurringFire("fired")
	return true
}
