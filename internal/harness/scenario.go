package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/boardflow/internal/ir"
)

// Scenario defines an automation scenario: a board, the rules installed on
// it, a sequence of external events, and assertions on the resulting trace
// and final board state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules lists CUE files declaring the rules to install.
	// Paths are relative to the scenario file location.
	Rules []string `yaml:"rules"`

	// Start is the RFC 3339 wall-clock time the scenario begins at.
	// Defaults to DefaultStart.
	Start string `yaml:"start,omitempty"`

	Board BoardSetup  `yaml:"board"`
	Cards []CardSetup `yaml:"cards"`

	// Guard overrides loop guard limits. Zero fields keep the defaults.
	Guard *GuardSetup `yaml:"guard,omitempty"`

	// FailureThreshold overrides the consecutive failures before a rule is
	// auto-disabled.
	FailureThreshold *int `yaml:"failure_threshold,omitempty"`

	// Failures injects errors into board operations.
	Failures []FailureSetup `yaml:"failures,omitempty"`

	// Events are submitted in order. The dispatcher drains after each step.
	Events []EventStep `yaml:"events"`

	Assertions []Assertion `yaml:"assertions"`
}

// DefaultStart is the scenario clock's default start: Monday 2026-01-05 09:00 UTC.
const DefaultStart = "2026-01-05T09:00:00Z"

// BoardSetup declares the scenario's single board.
type BoardSetup struct {
	ID      string        `yaml:"id"`
	Name    string        `yaml:"name,omitempty"`
	Owner   string        `yaml:"owner"`
	Columns []ColumnSetup `yaml:"columns"`
}

// ColumnSetup declares a column.
type ColumnSetup struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// CardSetup declares a card's initial state.
type CardSetup struct {
	ID        string            `yaml:"id"`
	Column    string            `yaml:"column"`
	Title     string            `yaml:"title"`
	Priority  string            `yaml:"priority,omitempty"`
	Labels    []string          `yaml:"labels,omitempty"`
	Assignees []string          `yaml:"assignees,omitempty"`
	DueDate   string            `yaml:"due_date,omitempty"`
	Fields    map[string]string `yaml:"fields,omitempty"`
	Template  bool              `yaml:"template,omitempty"`
}

// Records returns the board and its columns in position order.
func (b BoardSetup) Records() (ir.Board, []ir.Column) {
	cols := make([]ir.Column, len(b.Columns))
	for i, c := range b.Columns {
		cols[i] = ir.Column{ID: c.ID, BoardID: b.ID, Name: c.Name, Position: i}
	}
	return ir.Board{ID: b.ID, Name: b.Name, OwnerID: b.Owner}, cols
}

// Card builds the card declared by c on boardID.
func (c CardSetup) Card(boardID string) (ir.Card, error) {
	card := ir.Card{
		ID:           c.ID,
		BoardID:      boardID,
		ColumnID:     c.Column,
		Title:        c.Title,
		Priority:     c.Priority,
		LabelIDs:     c.Labels,
		AssigneeIDs:  c.Assignees,
		CustomFields: c.Fields,
		IsTemplate:   c.Template,
	}
	if c.DueDate != "" {
		due, err := time.Parse(time.RFC3339, c.DueDate)
		if err != nil {
			return ir.Card{}, fmt.Errorf("card %s due_date: %w", c.ID, err)
		}
		card.DueDate = &due
	}
	return card, nil
}

// GuardSetup overrides loop guard limits.
type GuardSetup struct {
	MaxDepth  int    `yaml:"max_depth,omitempty"`
	RateLimit int    `yaml:"rate_limit,omitempty"`
	Window    string `yaml:"window,omitempty"`
}

// FailureSetup makes a board method fail with Error. The method "Webhook"
// fails webhook deliveries.
type FailureSetup struct {
	Method string `yaml:"method"`
	Error  string `yaml:"error"`
}

// MethodWebhook is the FailureSetup method that targets webhook delivery.
const MethodWebhook = "Webhook"

// EventStep is one externally originated event.
type EventStep struct {
	Type       ir.TriggerType `yaml:"type"`
	Card       string         `yaml:"card"`
	FromColumn string         `yaml:"from_column,omitempty"`
	ToColumn   string         `yaml:"to_column,omitempty"`
	Label      string         `yaml:"label,omitempty"`
	User       string         `yaml:"user,omitempty"`
	DueDate    string         `yaml:"due_date,omitempty"`

	// Advance moves the clock forward before the event is submitted.
	Advance string `yaml:"advance,omitempty"`

	// Repeat submits the event this many times. Defaults to 1.
	Repeat int `yaml:"repeat,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Rule is the rule key (rule_fired, rule_count, rule_skipped, rule_enabled).
	Rule string `yaml:"rule,omitempty"`

	// Rules is the expected firing order (rule_order).
	Rules []string `yaml:"rules,omitempty"`

	// Event restricts rule_fired to events of this type.
	Event ir.TriggerType `yaml:"event,omitempty"`

	// Depth restricts rule_fired to events at this chain depth.
	Depth *int `yaml:"depth,omitempty"`

	// Reason is the skip reason (rule_skipped).
	Reason string `yaml:"reason,omitempty"`

	// Count is the expected number of matches.
	Count int `yaml:"count,omitempty"`

	// Card is the card id (card_state, comment).
	Card string `yaml:"card,omitempty"`

	// Expect holds expected card fields (card_state). Subset match.
	// Keys: column, title, priority, labels, assignees, due_date.
	Expect map[string]any `yaml:"expect,omitempty"`

	// User restricts notification to one recipient.
	User string `yaml:"user,omitempty"`

	// Contains restricts notification and comment to bodies containing it.
	Contains string `yaml:"contains,omitempty"`

	// Enabled is the expected rule state (rule_enabled).
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Assertion type constants.
const (
	AssertRuleFired    = "rule_fired"
	AssertRuleOrder    = "rule_order"
	AssertRuleCount    = "rule_count"
	AssertRuleSkipped  = "rule_skipped"
	AssertRuleEnabled  = "rule_enabled"
	AssertCardState    = "card_state"
	AssertNotification = "notification"
	AssertComment      = "comment"
	AssertWebhookCount = "webhook_count"
)

// LoadScenario reads and parses a scenario YAML file. Rule paths are
// resolved relative to the scenario file. Returns an error if the file
// doesn't exist, is malformed, contains unknown fields (typos), or is
// missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, rulePath := range scenario.Rules {
		if !filepath.IsAbs(rulePath) {
			scenario.Rules[i] = filepath.Join(base, rulePath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Rules) == 0 {
		return fmt.Errorf("rules list is required and must be non-empty")
	}
	if s.Board.ID == "" {
		return fmt.Errorf("board.id is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}

	for _, rulePath := range s.Rules {
		if _, err := os.Stat(rulePath); os.IsNotExist(err) {
			return fmt.Errorf("rule file not found: %s", rulePath)
		}
	}

	columns := make(map[string]bool, len(s.Board.Columns))
	for i, c := range s.Board.Columns {
		if c.ID == "" {
			return fmt.Errorf("board.columns[%d]: id is required", i)
		}
		columns[c.ID] = true
	}

	cards := make(map[string]bool, len(s.Cards))
	for i, c := range s.Cards {
		if c.ID == "" {
			return fmt.Errorf("cards[%d]: id is required", i)
		}
		if !columns[c.Column] {
			return fmt.Errorf("cards[%d]: unknown column %q", i, c.Column)
		}
		if c.DueDate != "" {
			if _, err := time.Parse(time.RFC3339, c.DueDate); err != nil {
				return fmt.Errorf("cards[%d].due_date: %w", i, err)
			}
		}
		cards[c.ID] = true
	}

	if g := s.Guard; g != nil && g.Window != "" {
		if _, err := time.ParseDuration(g.Window); err != nil {
			return fmt.Errorf("guard.window: %w", err)
		}
	}

	for i, f := range s.Failures {
		if f.Method == "" || f.Error == "" {
			return fmt.Errorf("failures[%d]: method and error are required", i)
		}
	}

	for i, ev := range s.Events {
		if !ir.ValidTriggerTypes[ev.Type] {
			return fmt.Errorf("events[%d]: unknown event type %q", i, ev.Type)
		}
		if !cards[ev.Card] {
			return fmt.Errorf("events[%d]: unknown card %q", i, ev.Card)
		}
		if ev.Advance != "" {
			if _, err := time.ParseDuration(ev.Advance); err != nil {
				return fmt.Errorf("events[%d].advance: %w", i, err)
			}
		}
		if ev.DueDate != "" {
			if _, err := time.Parse(time.RFC3339, ev.DueDate); err != nil {
				return fmt.Errorf("events[%d].due_date: %w", i, err)
			}
		}
		if ev.Repeat < 0 {
			return fmt.Errorf("events[%d]: repeat must be non-negative", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertRuleFired, AssertRuleCount:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for %s", index, a.Type)
		}
	case AssertRuleOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules list is required for rule_order", index)
		}
	case AssertRuleSkipped:
		if a.Rule == "" || a.Reason == "" {
			return fmt.Errorf("assertions[%d]: rule and reason are required for rule_skipped", index)
		}
	case AssertRuleEnabled:
		if a.Rule == "" || a.Enabled == nil {
			return fmt.Errorf("assertions[%d]: rule and enabled are required for rule_enabled", index)
		}
	case AssertCardState:
		if a.Card == "" {
			return fmt.Errorf("assertions[%d]: card is required for card_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for card_state", index)
		}
	case AssertComment:
		if a.Card == "" {
			return fmt.Errorf("assertions[%d]: card is required for comment", index)
		}
	case AssertNotification, AssertWebhookCount:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
