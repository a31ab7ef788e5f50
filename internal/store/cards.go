package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

// CreateBoard inserts a board.
func (s *Store) CreateBoard(ctx context.Context, b ir.Board) error {
	_, err := s.exec(ctx, `INSERT INTO boards (id, name, owner_id) VALUES (?, ?, ?)`, b.ID, b.Name, b.OwnerID)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

// BoardOwner returns the owner user id of a board.
func (s *Store) BoardOwner(ctx context.Context, boardID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM boards WHERE id = ?`, boardID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("board %s: %w", boardID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query board owner: %w", err)
	}
	return owner, nil
}

// CreateColumn inserts a column.
func (s *Store) CreateColumn(ctx context.Context, c ir.Column) error {
	_, err := s.exec(ctx, `INSERT INTO columns (id, board_id, name, position) VALUES (?, ?, ?, ?)`,
		c.ID, c.BoardID, c.Name, c.Position)
	if err != nil {
		return fmt.Errorf("insert column: %w", err)
	}
	return nil
}

// ColumnName returns the display name of a column.
func (s *Store) ColumnName(ctx context.Context, columnID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM columns WHERE id = ?`, columnID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("column %s: %w", columnID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query column: %w", err)
	}
	return name, nil
}

const cardColumns = `id, board_id, column_id, swimlane_id, title, description, priority,
	assignee_ids, label_ids, due_date, custom_fields, is_template`

func scanCard(sc scanner) (ir.Card, error) {
	var (
		c                               ir.Card
		assignees, labels, customFields string
		due                             sql.NullInt64
		isTemplate                      int
	)
	if err := sc.Scan(&c.ID, &c.BoardID, &c.ColumnID, &c.SwimlaneID, &c.Title, &c.Description,
		&c.Priority, &assignees, &labels, &due, &customFields, &isTemplate); err != nil {
		return c, err
	}
	if err := unmarshalJSON("assignee_ids", assignees, &c.AssigneeIDs); err != nil {
		return c, err
	}
	if err := unmarshalJSON("label_ids", labels, &c.LabelIDs); err != nil {
		return c, err
	}
	if err := unmarshalJSON("custom_fields", customFields, &c.CustomFields); err != nil {
		return c, err
	}
	if len(c.CustomFields) == 0 {
		c.CustomFields = nil
	}
	c.DueDate = timePtr(due)
	c.IsTemplate = isTemplate == 1
	return c, nil
}

func insertCard(ctx context.Context, tx *sql.Tx, c ir.Card, now time.Time) error {
	assignees, err := marshalJSON("assignee_ids", nonNil(c.AssigneeIDs))
	if err != nil {
		return err
	}
	labels, err := marshalJSON("label_ids", nonNil(c.LabelIDs))
	if err != nil {
		return err
	}
	fields := c.CustomFields
	if fields == nil {
		fields = map[string]string{}
	}
	customFields, err := marshalJSON("custom_fields", fields)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.BoardID, c.ColumnID, c.SwimlaneID, c.Title, c.Description, c.Priority,
		assignees, labels, nullNanos(c.DueDate), customFields, boolToInt(c.IsTemplate), toNanos(now))
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

// CreateCard inserts a card.
func (s *Store) CreateCard(ctx context.Context, c ir.Card, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertCard(ctx, tx, c, now)
	})
}

// GetCard returns a card by id, or ErrNotFound.
func (s *Store) GetCard(ctx context.Context, cardID string) (ir.Card, error) {
	return getCard(ctx, s.db, cardID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getCard(ctx context.Context, q queryRower, cardID string) (ir.Card, error) {
	c, err := scanCard(q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("query card: %w", err)
	}
	return c, nil
}

// ListCards returns the non-template cards of a board, oldest first.
func (s *Store) ListCards(ctx context.Context, boardID string) ([]ir.Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE board_id = ? AND is_template = 0
		ORDER BY created_at ASC, rowid ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	cards := []ir.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}

// MoveCard sets a card's column. The target column must belong to the
// card's board. Returns the previous column and whether anything changed;
// moving a card to the column it is already in is a no-op.
func (s *Store) MoveCard(ctx context.Context, cardID, columnID string) (string, bool, error) {
	var (
		from    string
		changed bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		card, err := getCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		from, changed = card.ColumnID, false

		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM columns WHERE id = ? AND board_id = ?`, columnID, card.BoardID,
		).Scan(&n); err != nil {
			return fmt.Errorf("query column: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("column %s on board %s: %w", columnID, card.BoardID, ErrNotFound)
		}
		if card.ColumnID == columnID {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE cards SET column_id = ? WHERE id = ?`, columnID, cardID); err != nil {
			return fmt.Errorf("update card column: %w", err)
		}
		changed = true
		return nil
	})
	return from, changed, err
}

// AddLabel adds label to the card's label set.
func (s *Store) AddLabel(ctx context.Context, cardID, label string) (bool, error) {
	return s.updateSet(ctx, cardID, "label_ids", func(set []string) ([]string, bool) {
		if slices.Contains(set, label) {
			return set, false
		}
		return append(set, label), true
	})
}

// RemoveLabel removes label from the card's label set.
func (s *Store) RemoveLabel(ctx context.Context, cardID, label string) (bool, error) {
	return s.updateSet(ctx, cardID, "label_ids", func(set []string) ([]string, bool) {
		i := slices.Index(set, label)
		if i < 0 {
			return set, false
		}
		return slices.Delete(set, i, i+1), true
	})
}

// AssignUser adds userID to the card's assignee set.
func (s *Store) AssignUser(ctx context.Context, cardID, userID string) (bool, error) {
	return s.updateSet(ctx, cardID, "assignee_ids", func(set []string) ([]string, bool) {
		if slices.Contains(set, userID) {
			return set, false
		}
		return append(set, userID), true
	})
}

// updateSet applies fn to a JSON string-set column inside one transaction.
// column is always a package constant.
func (s *Store) updateSet(ctx context.Context, cardID, column string, fn func([]string) ([]string, bool)) (bool, error) {
	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT `+column+` FROM cards WHERE id = ?`, cardID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("query card %s: %w", column, err)
		}
		var set []string
		if err := unmarshalJSON(column, raw, &set); err != nil {
			return err
		}
		next, ok := fn(set)
		changed = ok
		if !ok {
			return nil
		}
		encoded, err := marshalJSON(column, nonNil(next))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE cards SET `+column+` = ? WHERE id = ?`, encoded, cardID); err != nil {
			return fmt.Errorf("update card %s: %w", column, err)
		}
		return nil
	})
	return changed, err
}

// SetDueDate sets the card's due date. Returns whether it changed.
func (s *Store) SetDueDate(ctx context.Context, cardID string, due time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE cards SET due_date = ?
		WHERE id = ? AND (due_date IS NULL OR due_date <> ?)
	`, toNanos(due), cardID, toNanos(due))
	if err != nil {
		return false, fmt.Errorf("update card due date: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetCard(ctx, cardID); err != nil {
		return false, err
	}
	return false, nil
}

// PostComment appends a comment to a card.
func (s *Store) PostComment(ctx context.Context, cardID, authorID, body string, now time.Time) (ir.Comment, error) {
	res, err := s.exec(ctx, `
		INSERT INTO comments (card_id, author_id, body, created_at) VALUES (?, ?, ?, ?)
	`, cardID, authorID, body, toNanos(now))
	if err != nil {
		return ir.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ir.Comment{}, fmt.Errorf("comment id: %w", err)
	}
	return ir.Comment{
		ID:        strconv.FormatInt(id, 10),
		CardID:    cardID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: now.UTC(),
	}, nil
}

// ListComments returns a card's comments, oldest first.
func (s *Store) ListComments(ctx context.Context, cardID string) ([]ir.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_id, author_id, body, created_at FROM comments
		WHERE card_id = ? ORDER BY id ASC
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	comments := []ir.Comment{}
	for rows.Next() {
		var (
			c      ir.Comment
			id, ts int64
		)
		if err := rows.Scan(&id, &c.CardID, &c.AuthorID, &c.Body, &ts); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.ID = strconv.FormatInt(id, 10)
		c.CreatedAt = fromNanos(ts)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

// CloneCard materializes a new card with id newID from a template card.
// Title, description, priority, swimlane, labels and custom fields are
// copied; the clone starts in the template's column with no assignees and
// no due date, and is never itself a template.
func (s *Store) CloneCard(ctx context.Context, templateID, newID string, now time.Time) (ir.Card, error) {
	var clone ir.Card
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		tmpl, err := getCard(ctx, tx, templateID)
		if err != nil {
			return fmt.Errorf("load template: %w", err)
		}
		clone = tmpl.Clone()
		clone.ID = newID
		clone.AssigneeIDs = nil
		clone.DueDate = nil
		clone.IsTemplate = false
		return insertCard(ctx, tx, clone, now)
	})
	if err != nil {
		return ir.Card{}, err
	}
	return clone, nil
}

// DueCards returns non-template cards whose due date is at or before until
// and that have not been reported for their current due date.
func (s *Store) DueCards(ctx context.Context, until time.Time) ([]ir.Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE is_template = 0 AND due_date IS NOT NULL AND due_date <= ?
		  AND (due_notified_for IS NULL OR due_notified_for <> due_date)
		ORDER BY due_date ASC, rowid ASC
	`, toNanos(until))
	if err != nil {
		return nil, fmt.Errorf("query due cards: %w", err)
	}
	defer rows.Close()

	cards := []ir.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due cards: %w", err)
	}
	return cards, nil
}

// MarkDueNotified records that DueDateReached was emitted for the card's
// due date due. Returns false when another sweeper got there first or the
// due date has since changed.
func (s *Store) MarkDueNotified(ctx context.Context, cardID string, due time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE cards SET due_notified_for = due_date
		WHERE id = ? AND due_date = ? AND (due_notified_for IS NULL OR due_notified_for <> due_date)
	`, cardID, toNanos(due))
	if err != nil {
		return false, fmt.Errorf("mark due notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Notify appends a notification to the user's inbox.
func (s *Store) Notify(ctx context.Context, n ir.Notification) error {
	payload, err := marshalJSON("notification", n)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO notifications (user_id, payload, created_at) VALUES (?, ?, ?)`,
		n.UserID, payload, toNanos(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, oldest first.
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]ir.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM notifications WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := []ir.Notification{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		var n ir.Notification
		if err := unmarshalJSON("notification", payload, &n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
