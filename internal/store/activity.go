package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

// Firing is one recorded (event, rule) execution.
type Firing struct {
	EventID   string
	RuleID    string
	BoardID   string
	Depth     int
	Outcomes  []ir.ActionOutcome
	CreatedAt time.Time
}

// ClaimFiring records that ruleID is about to fire for eventID.
// Returns false if the pair was already recorded (event redelivered);
// the caller must then skip the rule.
//
// Uses ON CONFLICT DO NOTHING so concurrent claims for the same pair
// resolve to exactly one winner.
func (s *Store) ClaimFiring(ctx context.Context, ev ir.BoardEvent, ruleID string, now time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		INSERT INTO rule_firings (event_id, rule_id, board_id, depth, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_id, rule_id) DO NOTHING
	`, ev.EventID, ruleID, ev.BoardID, ev.Depth, toNanos(now))
	if err != nil {
		return false, fmt.Errorf("claim firing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// CompleteFiring stores the action outcomes of a claimed firing.
func (s *Store) CompleteFiring(ctx context.Context, eventID, ruleID string, outcomes []ir.ActionOutcome) error {
	if outcomes == nil {
		outcomes = []ir.ActionOutcome{}
	}
	encoded, err := marshalJSON("outcomes", outcomes)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE rule_firings SET outcomes = ? WHERE event_id = ? AND rule_id = ?`,
		encoded, eventID, ruleID)
	if err != nil {
		return fmt.Errorf("complete firing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("firing %s/%s: %w", eventID, ruleID, ErrNotFound)
	}
	return nil
}

// GetFiring returns the firing record for an (event, rule) pair.
func (s *Store) GetFiring(ctx context.Context, eventID, ruleID string) (Firing, error) {
	var (
		f        Firing
		outcomes sql.NullString
		ts       int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, rule_id, board_id, depth, outcomes, created_at
		FROM rule_firings WHERE event_id = ? AND rule_id = ?
	`, eventID, ruleID).Scan(&f.EventID, &f.RuleID, &f.BoardID, &f.Depth, &outcomes, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return f, fmt.Errorf("firing %s/%s: %w", eventID, ruleID, ErrNotFound)
	}
	if err != nil {
		return f, fmt.Errorf("query firing: %w", err)
	}
	if outcomes.Valid {
		if err := unmarshalJSON("outcomes", outcomes.String, &f.Outcomes); err != nil {
			return f, err
		}
	}
	f.CreatedAt = fromNanos(ts)
	return f, nil
}

// RecordActivity appends an entry to the board's activity log and returns its id.
func (s *Store) RecordActivity(ctx context.Context, e ir.ActivityEntry) (int64, error) {
	res, err := s.exec(ctx, `
		INSERT INTO activity (board_id, kind, rule_id, event_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.BoardID, e.Kind, e.RuleID, e.EventID, e.Detail, toNanos(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("activity id: %w", err)
	}
	return id, nil
}

// ListActivity returns the most recent activity entries of a board, newest
// first. limit <= 0 returns everything.
func (s *Store) ListActivity(ctx context.Context, boardID string, limit int) ([]ir.ActivityEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, kind, rule_id, event_id, detail, created_at
		FROM activity WHERE board_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	entries := []ir.ActivityEntry{}
	for rows.Next() {
		var (
			e  ir.ActivityEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.BoardID, &e.Kind, &e.RuleID, &e.EventID, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.CreatedAt = fromNanos(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}
