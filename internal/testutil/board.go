package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

// ErrNotFound is returned for unknown cards, columns and boards.
var ErrNotFound = errors.New("not found")

// MemoryBoard is an in-memory board data store. It satisfies the engine's
// Board and Notifier ports and the scheduler's card cloner.
//
// Fail injects an error into the named method ("AddLabel", "MoveCard", ...).
// Block makes the named method wait for ctx to be done, for timeout tests.
type MemoryBoard struct {
	mu            sync.Mutex
	boards        map[string]ir.Board
	columns       map[string]ir.Column
	cards         map[string]ir.Card
	order         []string
	comments      []ir.Comment
	notifications []ir.Notification
	dueNotified   map[string]time.Time
	fail          map[string]error
	block         map[string]bool
	calls         map[string]int
}

// NewMemoryBoard creates an empty board store.
func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{
		boards:      make(map[string]ir.Board),
		columns:     make(map[string]ir.Column),
		cards:       make(map[string]ir.Card),
		dueNotified: make(map[string]time.Time),
		fail:        make(map[string]error),
		block:       make(map[string]bool),
		calls:       make(map[string]int),
	}
}

// AddBoard registers a board.
func (m *MemoryBoard) AddBoard(b ir.Board) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[b.ID] = b
}

// AddColumn registers a column.
func (m *MemoryBoard) AddColumn(c ir.Column) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.columns[c.ID] = c
}

// AddCard stores a copy of c.
func (m *MemoryBoard) AddCard(c ir.Card) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[c.ID]; !ok {
		m.order = append(m.order, c.ID)
	}
	m.cards[c.ID] = c.Clone()
}

// Fail makes every call of method return err. A nil err clears it.
func (m *MemoryBoard) Fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, method)
		return
	}
	m.fail[method] = err
}

// Block makes method wait until its context is done.
func (m *MemoryBoard) Block(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block[method] = true
}

// Calls returns how many times method was invoked.
func (m *MemoryBoard) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// enter records a call and applies injected failures. It must be called
// without m.mu held; it returns with m.mu held on success.
func (m *MemoryBoard) enter(ctx context.Context, method string) error {
	m.mu.Lock()
	m.calls[method]++
	blocked := m.block[method]
	err := m.fail[method]
	m.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	return nil
}

func (m *MemoryBoard) GetCard(ctx context.Context, cardID string) (ir.Card, error) {
	if err := m.enter(ctx, "GetCard"); err != nil {
		return ir.Card{}, err
	}
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return ir.Card{}, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	return c.Clone(), nil
}

// Card returns a copy of a card, for assertions.
func (m *MemoryBoard) Card(cardID string) (ir.Card, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	return c.Clone(), ok
}

// Cards returns every non-template card of boardID in insertion order.
func (m *MemoryBoard) Cards(boardID string) []ir.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ir.Card{}
	for _, id := range m.order {
		c := m.cards[id]
		if c.BoardID == boardID && !c.IsTemplate {
			out = append(out, c.Clone())
		}
	}
	return out
}

func (m *MemoryBoard) ColumnName(ctx context.Context, columnID string) (string, error) {
	if err := m.enter(ctx, "ColumnName"); err != nil {
		return "", err
	}
	defer m.mu.Unlock()
	col, ok := m.columns[columnID]
	if !ok {
		return "", fmt.Errorf("column %s: %w", columnID, ErrNotFound)
	}
	return col.Name, nil
}

func (m *MemoryBoard) BoardOwner(ctx context.Context, boardID string) (string, error) {
	if err := m.enter(ctx, "BoardOwner"); err != nil {
		return "", err
	}
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok {
		return "", fmt.Errorf("board %s: %w", boardID, ErrNotFound)
	}
	return b.OwnerID, nil
}

func (m *MemoryBoard) MoveCard(ctx context.Context, cardID, columnID string) (string, bool, error) {
	if err := m.enter(ctx, "MoveCard"); err != nil {
		return "", false, err
	}
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return "", false, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	col, ok := m.columns[columnID]
	if !ok || col.BoardID != c.BoardID {
		return c.ColumnID, false, fmt.Errorf("column %s on board %s: %w", columnID, c.BoardID, ErrNotFound)
	}
	from := c.ColumnID
	if from == columnID {
		return from, false, nil
	}
	c.ColumnID = columnID
	m.cards[cardID] = c
	return from, true, nil
}

func (m *MemoryBoard) AddLabel(ctx context.Context, cardID, label string) (bool, error) {
	if err := m.enter(ctx, "AddLabel"); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	return m.updateSet(cardID, func(c *ir.Card) bool {
		if slices.Contains(c.LabelIDs, label) {
			return false
		}
		c.LabelIDs = append(c.LabelIDs, label)
		return true
	})
}

func (m *MemoryBoard) RemoveLabel(ctx context.Context, cardID, label string) (bool, error) {
	if err := m.enter(ctx, "RemoveLabel"); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	return m.updateSet(cardID, func(c *ir.Card) bool {
		i := slices.Index(c.LabelIDs, label)
		if i < 0 {
			return false
		}
		c.LabelIDs = slices.Delete(c.LabelIDs, i, i+1)
		return true
	})
}

func (m *MemoryBoard) AssignUser(ctx context.Context, cardID, userID string) (bool, error) {
	if err := m.enter(ctx, "AssignUser"); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	return m.updateSet(cardID, func(c *ir.Card) bool {
		if slices.Contains(c.AssigneeIDs, userID) {
			return false
		}
		c.AssigneeIDs = append(c.AssigneeIDs, userID)
		return true
	})
}

// updateSet applies fn to a stored card. Caller holds m.mu.
func (m *MemoryBoard) updateSet(cardID string, fn func(*ir.Card) bool) (bool, error) {
	c, ok := m.cards[cardID]
	if !ok {
		return false, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	c = c.Clone()
	if !fn(&c) {
		return false, nil
	}
	m.cards[cardID] = c
	return true, nil
}

func (m *MemoryBoard) SetDueDate(ctx context.Context, cardID string, due time.Time) (bool, error) {
	if err := m.enter(ctx, "SetDueDate"); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	return m.updateSet(cardID, func(c *ir.Card) bool {
		if c.DueDate != nil && c.DueDate.Equal(due) {
			return false
		}
		d := due.UTC()
		c.DueDate = &d
		return true
	})
}

func (m *MemoryBoard) PostComment(ctx context.Context, cardID, authorID, body string, now time.Time) (ir.Comment, error) {
	if err := m.enter(ctx, "PostComment"); err != nil {
		return ir.Comment{}, err
	}
	defer m.mu.Unlock()
	if _, ok := m.cards[cardID]; !ok {
		return ir.Comment{}, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	c := ir.Comment{
		ID:        strconv.Itoa(len(m.comments) + 1),
		CardID:    cardID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: now,
	}
	m.comments = append(m.comments, c)
	return c, nil
}

// Comments returns the comments of a card in posting order.
func (m *MemoryBoard) Comments(cardID string) []ir.Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ir.Comment{}
	for _, c := range m.comments {
		if c.CardID == cardID {
			out = append(out, c)
		}
	}
	return out
}

func (m *MemoryBoard) Notify(ctx context.Context, n ir.Notification) error {
	if err := m.enter(ctx, "Notify"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

// Notifications returns every notification delivered so far.
func (m *MemoryBoard) Notifications() []ir.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ir.Notification{}, m.notifications...)
}

// CloneCard copies a template the way the SQLite store does.
func (m *MemoryBoard) CloneCard(ctx context.Context, templateID, newID string, now time.Time) (ir.Card, error) {
	if err := m.enter(ctx, "CloneCard"); err != nil {
		return ir.Card{}, err
	}
	defer m.mu.Unlock()
	tmpl, ok := m.cards[templateID]
	if !ok {
		return ir.Card{}, fmt.Errorf("load template: card %s: %w", templateID, ErrNotFound)
	}
	clone := tmpl.Clone()
	clone.ID = newID
	clone.AssigneeIDs = nil
	clone.DueDate = nil
	clone.IsTemplate = false
	m.cards[newID] = clone
	m.order = append(m.order, newID)
	return clone.Clone(), nil
}

// DueCards mirrors the store query: due at or before until, not yet reported.
func (m *MemoryBoard) DueCards(ctx context.Context, until time.Time) ([]ir.Card, error) {
	if err := m.enter(ctx, "DueCards"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	out := []ir.Card{}
	for _, id := range m.order {
		c := m.cards[id]
		if c.IsTemplate || c.DueDate == nil || c.DueDate.After(until) {
			continue
		}
		if notified, ok := m.dueNotified[id]; ok && notified.Equal(*c.DueDate) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
	return out, nil
}

// MarkDueNotified mirrors the store's compare-and-set.
func (m *MemoryBoard) MarkDueNotified(ctx context.Context, cardID string, due time.Time) (bool, error) {
	if err := m.enter(ctx, "MarkDueNotified"); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok || c.DueDate == nil || !c.DueDate.Equal(due) {
		return false, nil
	}
	if notified, ok := m.dueNotified[cardID]; ok && notified.Equal(due) {
		return false, nil
	}
	m.dueNotified[cardID] = due
	return true, nil
}
