package ir

import "time"

// RecurringConfig materializes copies of a template card on a cron schedule.
//
// NextRunAt is always the earliest fire time of CronExpression after
// LastRunAt (or after creation) and never moves backward. ClaimVersion is
// bumped by every successful claim and is the compare-and-set token that
// keeps concurrent schedulers from firing the same slot twice.
type RecurringConfig struct {
	ID             string     `json:"id"`
	BoardID        string     `json:"board_id"`
	TemplateCardID string     `json:"template_card_id"`
	CronExpression string     `json:"cron_expression"`
	NextRunAt      time.Time  `json:"next_run_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	Enabled        bool       `json:"enabled"`
	ClaimVersion   int64      `json:"claim_version"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RecurringDefinition is the create payload for a recurring config.
// A zero NextRunAt means "compute the first fire from CronExpression".
type RecurringDefinition struct {
	TemplateCardID string    `json:"card_id"`
	CronExpression string    `json:"cron_expression"`
	NextRunAt      time.Time `json:"next_run_at,omitempty"`
	Enabled        *bool     `json:"enabled,omitempty"`
}

// RecurringPatch is a partial update of a recurring config.
type RecurringPatch struct {
	CronExpression *string    `json:"cron_expression,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	Enabled        *bool      `json:"enabled,omitempty"`
}

// ActivityEntry is an audit record on a board: a rule firing or a guard trip.
type ActivityEntry struct {
	ID        int64     `json:"id"`
	BoardID   string    `json:"board_id"`
	Kind      string    `json:"kind"`
	RuleID    string    `json:"rule_id,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Activity kinds.
const (
	ActivityRuleFired    = "rule_fired"
	ActivityRateLimited  = "rate_limited"
	ActivityRuleDisabled = "rule_disabled"
)
