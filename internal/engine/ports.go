package engine

import (
	"context"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

// RuleSource serves the enabled rules of a board for one trigger kind, in
// creation order. An unknown board yields an empty slice, not an error.
type RuleSource interface {
	RulesFor(ctx context.Context, boardID string, trigger ir.TriggerType) ([]ir.AutomationRule, error)
}

// FailureTracker maintains a rule's consecutive failure counter. When the
// counter reaches threshold the rule is disabled and disabled is true for
// exactly that call.
type FailureTracker interface {
	RecordResult(ctx context.Context, rule ir.AutomationRule, failed bool, threshold int, now time.Time) (disabled bool, err error)
}

// Board is the data-access capability actions mutate cards through.
//
// Every mutation is a "set" operation and reports whether state changed,
// so a retried call can never double-apply.
type Board interface {
	GetCard(ctx context.Context, cardID string) (ir.Card, error)
	ColumnName(ctx context.Context, columnID string) (string, error)
	BoardOwner(ctx context.Context, boardID string) (string, error)

	MoveCard(ctx context.Context, cardID, columnID string) (from string, changed bool, err error)
	AddLabel(ctx context.Context, cardID, label string) (bool, error)
	RemoveLabel(ctx context.Context, cardID, label string) (bool, error)
	AssignUser(ctx context.Context, cardID, userID string) (bool, error)
	SetDueDate(ctx context.Context, cardID string, due time.Time) (bool, error)
	PostComment(ctx context.Context, cardID, authorID, body string, now time.Time) (ir.Comment, error)
}

// Notifier delivers notifications to users.
type Notifier interface {
	Notify(ctx context.Context, n ir.Notification) error
}

// WebhookSender posts a JSON body to an external URL. Implementations must
// honour ctx cancellation and must not retry.
type WebhookSender interface {
	Send(ctx context.Context, url string, body []byte) error
}

// Ledger records rule firings and board activity.
//
// ClaimFiring returns false if the (event, rule) pair was already recorded;
// the dispatcher then skips the rule.
type Ledger interface {
	ClaimFiring(ctx context.Context, ev ir.BoardEvent, ruleID string, now time.Time) (bool, error)
	CompleteFiring(ctx context.Context, eventID, ruleID string, outcomes []ir.ActionOutcome) error
	RecordActivity(ctx context.Context, e ir.ActivityEntry) (int64, error)
}
