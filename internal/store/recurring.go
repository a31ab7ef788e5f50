package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

const recurringColumns = `id, board_id, template_card_id, cron_expression,
	next_run_at, last_run_at, enabled, claim_version, created_at`

func scanRecurring(sc scanner) (ir.RecurringConfig, error) {
	var (
		c                  ir.RecurringConfig
		nextRun, createdAt int64
		lastRun            sql.NullInt64
		enabled            int
	)
	if err := sc.Scan(&c.ID, &c.BoardID, &c.TemplateCardID, &c.CronExpression,
		&nextRun, &lastRun, &enabled, &c.ClaimVersion, &createdAt); err != nil {
		return c, err
	}
	c.NextRunAt = fromNanos(nextRun)
	c.LastRunAt = timePtr(lastRun)
	c.Enabled = enabled == 1
	c.CreatedAt = fromNanos(createdAt)
	return c, nil
}

// CreateRecurring inserts a recurring config. The caller computes NextRunAt.
func (s *Store) CreateRecurring(ctx context.Context, c ir.RecurringConfig) error {
	_, err := s.exec(ctx, `
		INSERT INTO recurring_configs (`+recurringColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.BoardID, c.TemplateCardID, c.CronExpression,
		toNanos(c.NextRunAt), nullNanos(c.LastRunAt), boolToInt(c.Enabled),
		c.ClaimVersion, toNanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert recurring config: %w", err)
	}
	return nil
}

// GetRecurring returns a recurring config by id, or ErrNotFound.
func (s *Store) GetRecurring(ctx context.Context, id string) (ir.RecurringConfig, error) {
	c, err := scanRecurring(s.db.QueryRowContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_configs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("recurring config %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("query recurring config: %w", err)
	}
	return c, nil
}

// ListRecurring returns the recurring configs of a board, oldest first.
// An empty boardID lists every board.
func (s *Store) ListRecurring(ctx context.Context, boardID string) ([]ir.RecurringConfig, error) {
	return s.queryRecurring(ctx, `
		SELECT `+recurringColumns+` FROM recurring_configs
		WHERE ? = '' OR board_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, boardID, boardID)
}

// DueRecurring returns enabled configs whose next_run_at <= now, earliest first.
func (s *Store) DueRecurring(ctx context.Context, now time.Time) ([]ir.RecurringConfig, error) {
	return s.queryRecurring(ctx, `
		SELECT `+recurringColumns+` FROM recurring_configs
		WHERE enabled = 1 AND next_run_at <= ?
		ORDER BY next_run_at ASC, rowid ASC
	`, toNanos(now))
}

func (s *Store) queryRecurring(ctx context.Context, query string, args ...any) ([]ir.RecurringConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recurring configs: %w", err)
	}
	defer rows.Close()

	configs := []ir.RecurringConfig{}
	for rows.Next() {
		c, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recurring configs: %w", err)
	}
	return configs, nil
}

// UpdateRecurring writes the user-editable fields of c (cron expression,
// next run, enabled). The claim version is bumped so a scheduler holding
// the old snapshot loses its claim.
func (s *Store) UpdateRecurring(ctx context.Context, c ir.RecurringConfig) (ir.RecurringConfig, error) {
	res, err := s.exec(ctx, `
		UPDATE recurring_configs
		SET cron_expression = ?, next_run_at = ?, enabled = ?, claim_version = claim_version + 1
		WHERE id = ?
	`, c.CronExpression, toNanos(c.NextRunAt), boolToInt(c.Enabled), c.ID)
	if err != nil {
		return ir.RecurringConfig{}, fmt.Errorf("update recurring config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ir.RecurringConfig{}, fmt.Errorf("recurring config %s: %w", c.ID, ErrNotFound)
	}
	return s.GetRecurring(ctx, c.ID)
}

// DeleteRecurring removes a recurring config.
func (s *Store) DeleteRecurring(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM recurring_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recurring config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("recurring config %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimRecurring atomically takes the fire slot observed in snapshot and
// advances the schedule to nextRunAt with last_run_at = firedAt.
//
// The UPDATE only matches while the row still holds the snapshot's
// next_run_at and claim_version and is enabled, so among any number of
// concurrent callers holding the same snapshot exactly one gets true.
// Losers get (false, nil).
func (s *Store) ClaimRecurring(ctx context.Context, snapshot ir.RecurringConfig, nextRunAt, firedAt time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE recurring_configs
		SET next_run_at = ?, last_run_at = ?, claim_version = claim_version + 1
		WHERE id = ? AND next_run_at = ? AND claim_version = ? AND enabled = 1
	`, toNanos(nextRunAt), toNanos(firedAt),
		snapshot.ID, toNanos(snapshot.NextRunAt), snapshot.ClaimVersion)
	if err != nil {
		return false, fmt.Errorf("claim recurring config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
