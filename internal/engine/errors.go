package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while dispatching an event.
//
// Runtime errors include:
//   - Depth exceeded: event is too deep in a causal chain
//   - Rate limited: board exhausted its firing window
//   - Action timeout: an action did not finish before its deadline
//   - Action failed: an action returned an error
//   - Claim lost: another scheduler took a recurring fire slot
//
// Guard errors are not failures; the dispatcher logs them and skips the rule.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	BoardID string
	RuleID  string
	EventID string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	ErrCodeDepthExceeded RuntimeErrorCode = "DEPTH_EXCEEDED"
	ErrCodeRateLimited   RuntimeErrorCode = "RATE_LIMITED"
	ErrCodeActionTimeout RuntimeErrorCode = "ACTION_TIMEOUT"
	ErrCodeActionFailed  RuntimeErrorCode = "ACTION_FAILED"
	ErrCodeClaimLost     RuntimeErrorCode = "CLAIM_LOST"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.BoardID != "" {
		msg += fmt.Sprintf(" (board=%s", e.BoardID)
		if e.RuleID != "" {
			msg += ", rule=" + e.RuleID
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsDepthError returns true if the error is a chain depth rejection.
func IsDepthError(err error) bool { return hasCode(err, ErrCodeDepthExceeded) }

// IsRateLimitError returns true if the error is a sliding-window rejection.
func IsRateLimitError(err error) bool { return hasCode(err, ErrCodeRateLimited) }

// IsTimeoutError returns true if an action ran past its deadline.
func IsTimeoutError(err error) bool { return hasCode(err, ErrCodeActionTimeout) }

// IsClaimLostError returns true if a recurring claim went to another caller.
func IsClaimLostError(err error) bool { return hasCode(err, ErrCodeClaimLost) }

// NewDepthError creates a RuntimeError for an event at or past the depth cap.
func NewDepthError(boardID, ruleID, eventID string, depth, maxDepth int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDepthExceeded,
		Message: fmt.Sprintf("event depth %d >= max chain depth %d", depth, maxDepth),
		BoardID: boardID,
		RuleID:  ruleID,
		EventID: eventID,
		Details: map[string]string{
			"depth":     fmt.Sprintf("%d", depth),
			"max_depth": fmt.Sprintf("%d", maxDepth),
		},
	}
}

// NewRateLimitError creates a RuntimeError for a full firing window.
func NewRateLimitError(boardID, ruleID, eventID string, count, limit int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeRateLimited,
		Message: fmt.Sprintf("board fired %d rules in window (limit %d)", count, limit),
		BoardID: boardID,
		RuleID:  ruleID,
		EventID: eventID,
		Details: map[string]string{
			"count": fmt.Sprintf("%d", count),
			"limit": fmt.Sprintf("%d", limit),
		},
	}
}

// NewTimeoutError creates a RuntimeError for an action that hit its deadline.
func NewTimeoutError(boardID, ruleID string, kind string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeActionTimeout,
		Message: kind + " timed out",
		BoardID: boardID,
		RuleID:  ruleID,
		Err:     cause,
	}
}

// NewActionError creates a RuntimeError for a failed action.
func NewActionError(boardID, ruleID string, kind string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeActionFailed,
		Message: kind + " failed",
		BoardID: boardID,
		RuleID:  ruleID,
		Err:     cause,
	}
}

// NewClaimLostError creates a RuntimeError for a recurring slot taken elsewhere.
func NewClaimLostError(boardID, configID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeClaimLost,
		Message: "recurring fire slot claimed by another scheduler",
		BoardID: boardID,
		Details: map[string]string{"config_id": configID},
	}
}
