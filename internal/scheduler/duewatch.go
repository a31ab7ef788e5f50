package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/boardflow/internal/engine"
	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/metrics"
)

// DueWatcher emits DueDateReached once per (card, due date) pair whose due
// date has passed. Moving a due date re-arms the card.
type DueWatcher struct {
	cards    DueCards
	events   Submitter
	clock    engine.Clock
	metrics  *metrics.Metrics
	interval time.Duration
}

// NewDueWatcher creates a watcher sweeping every interval.
func NewDueWatcher(cards DueCards, events Submitter, clock engine.Clock, m *metrics.Metrics, interval time.Duration) *DueWatcher {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &DueWatcher{cards: cards, events: events, clock: clock, metrics: m, interval: interval}
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (w *DueWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Sweep(ctx); err != nil {
			slog.Error("due-date sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep emits events for every card due at or before now and returns how
// many were emitted.
func (w *DueWatcher) Sweep(ctx context.Context) (int, error) {
	now := w.clock.Now()
	cards, err := w.cards.DueCards(ctx, now)
	if err != nil {
		return 0, err
	}

	emitted := 0
	for _, card := range cards {
		due := *card.DueDate
		marked, err := w.cards.MarkDueNotified(ctx, card.ID, due)
		if err != nil {
			slog.Error("mark due notified failed", "card_id", card.ID, "board_id", card.BoardID, "error", err)
			continue
		}
		if !marked {
			continue
		}

		_, err = w.events.Submit(ir.BoardEvent{
			BoardID:    card.BoardID,
			CardID:     card.ID,
			Type:       ir.TriggerDueDateReached,
			Payload:    ir.EventPayload{DueDate: &due},
			OccurredAt: now,
		})
		if err != nil {
			slog.Error("submit due-date event failed", "card_id", card.ID, "board_id", card.BoardID, "error", err)
			continue
		}
		w.metrics.IncDueEvent()
		emitted++
	}
	return emitted, nil
}
