package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

const ruleColumns = `id, board_id, name, trigger_spec, conditions, actions,
	is_enabled, version, consecutive_failures, created_at, updated_at`

type ruleRow struct {
	trigger, conditions, actions string
}

func encodeRule(r ir.AutomationRule) (ruleRow, error) {
	var row ruleRow
	var err error
	if row.trigger, err = marshalJSON("trigger", r.Trigger); err != nil {
		return row, err
	}
	conds := r.Conditions
	if conds == nil {
		conds = []ir.Condition{}
	}
	if row.conditions, err = marshalJSON("conditions", conds); err != nil {
		return row, err
	}
	if row.actions, err = marshalJSON("actions", r.Actions); err != nil {
		return row, err
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (ir.AutomationRule, error) {
	var (
		r                    ir.AutomationRule
		row                  ruleRow
		enabled              int
		createdAt, updatedAt int64
	)
	if err := sc.Scan(&r.ID, &r.BoardID, &r.Name, &row.trigger, &row.conditions, &row.actions,
		&enabled, &r.Version, &r.ConsecutiveFailures, &createdAt, &updatedAt); err != nil {
		return r, err
	}
	if err := unmarshalJSON("trigger", row.trigger, &r.Trigger); err != nil {
		return r, err
	}
	if err := unmarshalJSON("conditions", row.conditions, &r.Conditions); err != nil {
		return r, err
	}
	if r.Conditions == nil {
		r.Conditions = []ir.Condition{}
	}
	if err := unmarshalJSON("actions", row.actions, &r.Actions); err != nil {
		return r, err
	}
	r.IsEnabled = enabled == 1
	r.CreatedAt = fromNanos(createdAt)
	r.UpdatedAt = fromNanos(updatedAt)
	return r, nil
}

// CreateRule inserts a new rule. The caller assigns ID, timestamps and
// Version (normally 1).
func (s *Store) CreateRule(ctx context.Context, r ir.AutomationRule) error {
	row, err := encodeRule(r)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO rules (`+ruleColumns+`, trigger_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.BoardID, r.Name, row.trigger, row.conditions, row.actions,
		boolToInt(r.IsEnabled), r.Version, r.ConsecutiveFailures,
		toNanos(r.CreatedAt), toNanos(r.UpdatedAt), string(r.Trigger.Type))
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// GetRule returns a rule by id, or ErrNotFound.
func (s *Store) GetRule(ctx context.Context, id string) (ir.AutomationRule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("query rule: %w", err)
	}
	return r, nil
}

// ListRules returns every rule on a board in evaluation order
// (created_at, then insertion order).
func (s *Store) ListRules(ctx context.Context, boardID string) ([]ir.AutomationRule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE board_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, boardID)
}

// EnabledRules returns the enabled rules on a board for one trigger kind,
// in evaluation order.
func (s *Store) EnabledRules(ctx context.Context, boardID string, trigger ir.TriggerType) ([]ir.AutomationRule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE board_id = ? AND trigger_type = ? AND is_enabled = 1
		ORDER BY created_at ASC, rowid ASC
	`, boardID, string(trigger))
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]ir.AutomationRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	rules := []ir.AutomationRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

// UpdateRule replaces a rule's definition if its stored version equals
// expectedVersion. The version is bumped and the failure counter reset.
// Returns the stored rule after the update.
func (s *Store) UpdateRule(ctx context.Context, id string, expectedVersion int64, def ir.RuleDefinition, now time.Time) (ir.AutomationRule, error) {
	row, err := encodeRule(ir.AutomationRule{Trigger: def.Trigger, Conditions: def.Conditions, Actions: def.Actions})
	if err != nil {
		return ir.AutomationRule{}, err
	}
	res, err := s.exec(ctx, `
		UPDATE rules
		SET name = ?, trigger_type = ?, trigger_spec = ?, conditions = ?, actions = ?,
		    version = version + 1, consecutive_failures = 0, updated_at = ?
		WHERE id = ? AND version = ?
	`, def.Name, string(def.Trigger.Type), row.trigger, row.conditions, row.actions,
		toNanos(now), id, expectedVersion)
	if err != nil {
		return ir.AutomationRule{}, fmt.Errorf("update rule: %w", err)
	}
	if err := s.checkVersioned(ctx, res, id); err != nil {
		return ir.AutomationRule{}, err
	}
	return s.GetRule(ctx, id)
}

// SetRuleEnabled enables or disables a rule and bumps its version.
// Re-enabling resets the failure counter.
func (s *Store) SetRuleEnabled(ctx context.Context, id string, enabled bool, now time.Time) (ir.AutomationRule, error) {
	res, err := s.exec(ctx, `
		UPDATE rules
		SET is_enabled = ?, version = version + 1, updated_at = ?,
		    consecutive_failures = CASE WHEN ? = 1 THEN 0 ELSE consecutive_failures END
		WHERE id = ?
	`, boolToInt(enabled), toNanos(now), boolToInt(enabled), id)
	if err != nil {
		return ir.AutomationRule{}, fmt.Errorf("toggle rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ir.AutomationRule{}, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return s.GetRule(ctx, id)
}

// DeleteRule removes a rule. Firing history is kept.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordRuleResult updates a rule's consecutive failure counter after an
// execution. A success resets it; a failure increments it and, when the
// counter reaches threshold (threshold > 0), disables the rule in the same
// statement. Returns the new counter and whether this call disabled the rule.
// A rule deleted mid-flight is reported as (0, false, nil).
func (s *Store) RecordRuleResult(ctx context.Context, id string, failed bool, threshold int, now time.Time) (int, bool, error) {
	var (
		failures int
		disabled bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			current int
			enabled int
		)
		err := tx.QueryRowContext(ctx,
			`SELECT consecutive_failures, is_enabled FROM rules WHERE id = ?`, id,
		).Scan(&current, &enabled)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("query rule failures: %w", err)
		}

		if !failed {
			failures, disabled = 0, false
			if current == 0 {
				return nil
			}
			_, err := tx.ExecContext(ctx, `UPDATE rules SET consecutive_failures = 0 WHERE id = ?`, id)
			return err
		}

		failures = current + 1
		disabled = threshold > 0 && failures >= threshold && enabled == 1
		if disabled {
			_, err = tx.ExecContext(ctx, `
				UPDATE rules
				SET consecutive_failures = ?, is_enabled = 0, version = version + 1, updated_at = ?
				WHERE id = ?
			`, failures, toNanos(now), id)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE rules SET consecutive_failures = ? WHERE id = ?`, failures, id)
		}
		if err != nil {
			return fmt.Errorf("update rule failures: %w", err)
		}
		return nil
	})
	return failures, disabled, err
}

// checkVersioned distinguishes a missing row from a stale version after a
// conditional UPDATE that matched nothing.
func (s *Store) checkVersioned(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM rules WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query rule: %w", err)
	}
	return fmt.Errorf("rule %s: %w", id, ErrVersionConflict)
}
