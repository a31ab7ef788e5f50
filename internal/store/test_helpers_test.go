package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

var testNow = time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedBoard creates board b1 owned by owner-1 with columns todo and done.
func seedBoard(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateBoard(ctx, ir.Board{ID: "b1", Name: "Board", OwnerID: "owner-1"}); err != nil {
		t.Fatalf("CreateBoard() failed: %v", err)
	}
	for i, col := range []ir.Column{
		{ID: "todo", BoardID: "b1", Name: "To Do"},
		{ID: "done", BoardID: "b1", Name: "Done"},
	} {
		col.Position = i
		if err := s.CreateColumn(ctx, col); err != nil {
			t.Fatalf("CreateColumn() failed: %v", err)
		}
	}
}

// createTestCard inserts a card on b1 in column todo.
func createTestCard(t *testing.T, s *Store, id string) ir.Card {
	t.Helper()
	c := ir.Card{ID: id, BoardID: "b1", ColumnID: "todo", Title: "card " + id}
	if err := s.CreateCard(context.Background(), c, testNow); err != nil {
		t.Fatalf("CreateCard() failed: %v", err)
	}
	return c
}

// createTestRule builds an enabled rule with minimal required fields.
func createTestRule(id, boardID string, createdAt time.Time) ir.AutomationRule {
	return ir.AutomationRule{
		ID:        id,
		BoardID:   boardID,
		Name:      "rule " + id,
		Trigger:   ir.Trigger{Type: ir.TriggerCardMoved, ToColumn: "done"},
		Actions:   ir.Actions{ir.AddLabel{Label: "shipped"}},
		IsEnabled: true,
		Version:   1,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}
