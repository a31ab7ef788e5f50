package rulestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/boardflow/internal/compiler"
	"github.com/roach88/boardflow/internal/cron"
	"github.com/roach88/boardflow/internal/ir"
)

// CreateRecurring stores a recurring config for the template card of def.
// A zero def.NextRunAt is replaced by the first fire after now; an explicit
// one must be a fire time of the cron expression.
func (s *Service) CreateRecurring(ctx context.Context, def ir.RecurringDefinition) (ir.RecurringConfig, error) {
	if errs := compiler.ValidateRecurring(def); len(errs) > 0 {
		return ir.RecurringConfig{}, fmt.Errorf("create recurring config: %w", errs)
	}
	tmpl, err := s.store.GetCard(ctx, def.TemplateCardID)
	if err != nil {
		return ir.RecurringConfig{}, fmt.Errorf("template card: %w", err)
	}

	now := s.clock.Now()
	next := def.NextRunAt.UTC()
	if def.NextRunAt.IsZero() {
		next, err = cron.NextFireAfter(def.CronExpression, now)
		if err != nil {
			return ir.RecurringConfig{}, fmt.Errorf("first fire: %w", err)
		}
	} else if err := checkNextRun(def.CronExpression, next, nil, time.Time{}); err != nil {
		return ir.RecurringConfig{}, fmt.Errorf("create recurring config: %w", err)
	}
	enabled := true
	if def.Enabled != nil {
		enabled = *def.Enabled
	}

	cfg := ir.RecurringConfig{
		ID:             s.ids.Generate(),
		BoardID:        tmpl.BoardID,
		TemplateCardID: tmpl.ID,
		CronExpression: def.CronExpression,
		NextRunAt:      next,
		Enabled:        enabled,
		CreatedAt:      now,
	}
	if err := s.store.CreateRecurring(ctx, cfg); err != nil {
		return ir.RecurringConfig{}, err
	}

	slog.Info("recurring config created",
		"config_id", cfg.ID, "board_id", cfg.BoardID, "cron", cfg.CronExpression, "next_run_at", cfg.NextRunAt)
	return cfg, nil
}

// UpdateRecurring applies patch. Changing the cron expression without an
// explicit next run recomputes the next fire from now.
//
// An explicit next run must be a fire time of the (new) cron expression
// after the last run. Under an unchanged expression it may not move
// earlier than the current next run.
func (s *Service) UpdateRecurring(ctx context.Context, id string, patch ir.RecurringPatch) (ir.RecurringConfig, error) {
	cfg, err := s.store.GetRecurring(ctx, id)
	if err != nil {
		return ir.RecurringConfig{}, err
	}

	current := cfg.NextRunAt
	cronChanged := false
	if patch.CronExpression != nil && *patch.CronExpression != cfg.CronExpression {
		cronChanged = true
		if err := cron.Validate(*patch.CronExpression); err != nil {
			return ir.RecurringConfig{}, fmt.Errorf("update recurring config %s: %w", id, compiler.ValidationErrors{{
				Field:   "cron_expression",
				Message: err.Error(),
				Code:    compiler.ErrInvalidCron,
			}})
		}
		cfg.CronExpression = *patch.CronExpression
		if patch.NextRunAt == nil {
			next, err := cron.NextFireAfter(cfg.CronExpression, s.clock.Now())
			if err != nil {
				return ir.RecurringConfig{}, fmt.Errorf("next fire: %w", err)
			}
			cfg.NextRunAt = next
		}
	}
	if patch.NextRunAt != nil {
		next := patch.NextRunAt.UTC()
		floor := current
		if cronChanged {
			floor = time.Time{}
		}
		if err := checkNextRun(cfg.CronExpression, next, cfg.LastRunAt, floor); err != nil {
			return ir.RecurringConfig{}, fmt.Errorf("update recurring config %s: %w", id, err)
		}
		cfg.NextRunAt = next
	}
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}

	updated, err := s.store.UpdateRecurring(ctx, cfg)
	if err != nil {
		return ir.RecurringConfig{}, err
	}
	slog.Info("recurring config updated", "config_id", id, "next_run_at", updated.NextRunAt, "enabled", updated.Enabled)
	return updated, nil
}

// ToggleRecurring flips a config's enabled flag. Re-enabling a config
// whose next run has passed moves it to the next fire after now, so a long
// pause does not fire immediately.
func (s *Service) ToggleRecurring(ctx context.Context, id string) (ir.RecurringConfig, error) {
	cfg, err := s.store.GetRecurring(ctx, id)
	if err != nil {
		return ir.RecurringConfig{}, err
	}
	enabled := !cfg.Enabled
	patch := ir.RecurringPatch{Enabled: &enabled}

	now := s.clock.Now()
	if enabled && !cfg.NextRunAt.After(now) {
		next, err := cron.NextFireAfter(cfg.CronExpression, now)
		if err != nil {
			return ir.RecurringConfig{}, fmt.Errorf("next fire: %w", err)
		}
		patch.NextRunAt = &next
	}
	return s.UpdateRecurring(ctx, id, patch)
}

// checkNextRun rejects a next run that expr never produces, that is not
// after lastRun, or that is earlier than floor.
func checkNextRun(expr string, next time.Time, lastRun *time.Time, floor time.Time) error {
	reject := func(msg string) error {
		return compiler.ValidationErrors{{Field: "next_run_at", Message: msg, Code: compiler.ErrInvalidNextRun}}
	}
	onSchedule, err := cron.NextFireAfter(expr, next.Add(-time.Second))
	if err != nil || !onSchedule.Equal(next) {
		return reject(fmt.Sprintf("%s is not a fire time of %q", next.Format(time.RFC3339), expr))
	}
	if lastRun != nil && !next.After(*lastRun) {
		return reject(fmt.Sprintf("%s is not after the last run %s", next.Format(time.RFC3339), lastRun.Format(time.RFC3339)))
	}
	if !floor.IsZero() && next.Before(floor) {
		return reject(fmt.Sprintf("%s is earlier than the scheduled %s", next.Format(time.RFC3339), floor.Format(time.RFC3339)))
	}
	return nil
}

// DeleteRecurring removes a recurring config.
func (s *Service) DeleteRecurring(ctx context.Context, id string) error {
	if err := s.store.DeleteRecurring(ctx, id); err != nil {
		return err
	}
	slog.Info("recurring config deleted", "config_id", id)
	return nil
}

// GetRecurring returns one recurring config.
func (s *Service) GetRecurring(ctx context.Context, id string) (ir.RecurringConfig, error) {
	return s.store.GetRecurring(ctx, id)
}

// ListRecurring returns the configs of boardID, or of every board when
// boardID is empty.
func (s *Service) ListRecurring(ctx context.Context, boardID string) ([]ir.RecurringConfig, error) {
	return s.store.ListRecurring(ctx, boardID)
}

// DueRecurring returns the enabled configs whose next run is at or before now.
func (s *Service) DueRecurring(ctx context.Context, now time.Time) ([]ir.RecurringConfig, error) {
	return s.store.DueRecurring(ctx, now)
}

// ClaimRecurring takes the fire slot of snapshot. See store.ClaimRecurring.
func (s *Service) ClaimRecurring(ctx context.Context, snapshot ir.RecurringConfig, nextRunAt, firedAt time.Time) (bool, error) {
	return s.store.ClaimRecurring(ctx, snapshot, nextRunAt, firedAt)
}
