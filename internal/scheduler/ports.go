package scheduler

import (
	"context"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

// Recurrences is the recurring-config storage the scheduler needs.
type Recurrences interface {
	DueRecurring(ctx context.Context, now time.Time) ([]ir.RecurringConfig, error)
	// ClaimRecurring returns true for exactly one caller per fire slot.
	ClaimRecurring(ctx context.Context, snapshot ir.RecurringConfig, nextRunAt, firedAt time.Time) (bool, error)
}

// Cloner materializes a template card under a new id.
type Cloner interface {
	CloneCard(ctx context.Context, templateID, newID string, now time.Time) (ir.Card, error)
}

// DueCards finds and marks cards whose due date has passed.
type DueCards interface {
	DueCards(ctx context.Context, until time.Time) ([]ir.Card, error)
	MarkDueNotified(ctx context.Context, cardID string, due time.Time) (bool, error)
}

// Submitter accepts board events; *engine.Dispatcher implements it.
type Submitter interface {
	Submit(ev ir.BoardEvent) (ir.BoardEvent, error)
}
