package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

// DefaultWebhookTimeout bounds a single webhook delivery.
const DefaultWebhookTimeout = 5 * time.Second

// HTTPWebhookSender delivers webhooks with a single POST. Non-2xx responses
// are errors. Deliveries are never retried: a retry could duplicate an
// external side effect.
type HTTPWebhookSender struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPWebhookSender creates a sender whose client enforces timeout.
func NewHTTPWebhookSender(timeout time.Duration) *HTTPWebhookSender {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &HTTPWebhookSender{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: "boardflow/" + ir.EngineVersion,
	}
}

// Send posts body to url as application/json.
func (s *HTTPWebhookSender) Send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
	}
	return nil
}

// WebhookPayload is the body of a trigger_webhook action. Data carries the
// rendered payload template, when the action has one.
type WebhookPayload struct {
	Event     string          `json:"event"`
	BoardID   string          `json:"boardId"`
	CardID    string          `json:"cardId"`
	RuleID    string          `json:"ruleId"`
	Timestamp time.Time       `json:"timestamp"`
	Card      WebhookCard     `json:"card"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// WebhookCard is the card snapshot embedded in a webhook payload.
type WebhookCard struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	ColumnID    string     `json:"columnId"`
	SwimlaneID  string     `json:"swimlaneId,omitempty"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	LabelIDs    []string   `json:"labelIds"`
	AssigneeIDs []string   `json:"assigneeIds"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

func newWebhookPayload(rule ir.AutomationRule, ev ir.BoardEvent, card ir.Card, now time.Time) WebhookPayload {
	labels := card.LabelIDs
	if labels == nil {
		labels = []string{}
	}
	assignees := card.AssigneeIDs
	if assignees == nil {
		assignees = []string{}
	}
	return WebhookPayload{
		Event:     string(ev.Type),
		BoardID:   ev.BoardID,
		CardID:    card.ID,
		RuleID:    rule.ID,
		Timestamp: now.UTC(),
		Card: WebhookCard{
			ID:          card.ID,
			Title:       card.Title,
			ColumnID:    card.ColumnID,
			SwimlaneID:  card.SwimlaneID,
			Description: card.Description,
			Priority:    card.Priority,
			LabelIDs:    labels,
			AssigneeIDs: assignees,
			DueDate:     card.DueDate,
		},
	}
}
