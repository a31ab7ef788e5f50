package compiler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/roach88/boardflow/internal/cron"
	"github.com/roach88/boardflow/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrUnsupportedType = "E200" // unsupported definition type

	// Rule errors (E201-E219)
	ErrBoardRequired      = "E201" // board id is required
	ErrNameRequired       = "E202" // rule name is required
	ErrInvalidTrigger     = "E203" // unknown trigger type
	ErrTriggerFilter      = "E204" // filter not allowed for trigger kind
	ErrUnknownField       = "E205" // unknown condition field
	ErrUnknownOperator    = "E206" // unknown condition operator
	ErrInvalidValue       = "E207" // value missing or wrong shape for operator
	ErrNoActions          = "E208" // empty action list
	ErrInvalidAction      = "E209" // action missing a required parameter
	ErrInvalidWebhookURL  = "E210" // webhook url not absolute http(s)
	ErrInvalidDueDateSpec = "E211" // set_due_date needs exactly one of date/offset

	// Recurring errors (E220-E229)
	ErrTemplateRequired = "E220" // template card id is required
	ErrInvalidCron      = "E221" // cron expression does not parse
	ErrInvalidNextRun   = "E222" // next run off schedule or moving backward
)

// ValidationError represents a definition error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors aggregates every problem found in one definition.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// AsError returns nil for an empty list so callers can write
// `if err := compiler.ValidateRule(def).AsError(); err != nil`.
func (es ValidationErrors) AsError() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// Validate validates a definition. Returns all errors found (does not fail-fast).
func Validate(v any) ValidationErrors {
	switch def := v.(type) {
	case *ir.RuleDefinition:
		return ValidateRule(*def)
	case ir.RuleDefinition:
		return ValidateRule(def)
	case *ir.RecurringDefinition:
		return ValidateRecurring(*def)
	case ir.RecurringDefinition:
		return ValidateRecurring(def)
	default:
		return ValidationErrors{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported definition type: %T", v),
			Code:    ErrUnsupportedType,
		}}
	}
}

// ValidateRule checks a rule definition. An empty condition list is valid
// ("always match"); an empty action list is not.
func ValidateRule(def ir.RuleDefinition) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(def.BoardID) == "" {
		errs = append(errs, ValidationError{Field: "board_id", Message: "board id is required", Code: ErrBoardRequired})
	}
	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required", Code: ErrNameRequired})
	}

	errs = append(errs, validateTrigger(def.Trigger)...)

	for i, c := range def.Conditions {
		errs = append(errs, validateCondition(i, c)...)
	}

	if len(def.Actions) == 0 {
		errs = append(errs, ValidationError{Field: "actions", Message: "at least one action is required", Code: ErrNoActions})
	}
	for i, a := range def.Actions {
		errs = append(errs, validateAction(i, a)...)
	}

	return errs
}

func validateTrigger(t ir.Trigger) ValidationErrors {
	var errs ValidationErrors
	if !ir.ValidTriggerTypes[t.Type] {
		return append(errs, ValidationError{
			Field:   "trigger.type",
			Message: fmt.Sprintf("unknown trigger type %q", t.Type),
			Code:    ErrInvalidTrigger,
		})
	}
	if t.Type != ir.TriggerCardMoved && (t.FromColumn != "" || t.ToColumn != "") {
		errs = append(errs, ValidationError{
			Field:   "trigger",
			Message: fmt.Sprintf("from_column/to_column are only allowed on %s", ir.TriggerCardMoved),
			Code:    ErrTriggerFilter,
		})
	}
	if t.Type != ir.TriggerLabelAdded && t.Label != "" {
		errs = append(errs, ValidationError{
			Field:   "trigger.label",
			Message: fmt.Sprintf("label is only allowed on %s", ir.TriggerLabelAdded),
			Code:    ErrTriggerFilter,
		})
	}
	return errs
}

func validateCondition(i int, c ir.Condition) ValidationErrors {
	var errs ValidationErrors
	field := fmt.Sprintf("conditions[%d]", i)

	if !ir.ValidFields[c.Field] {
		errs = append(errs, ValidationError{
			Field:   field + ".field",
			Message: fmt.Sprintf("unknown field %q", c.Field),
			Code:    ErrUnknownField,
		})
	}
	if !ir.ValidOperators[c.Operator] {
		return append(errs, ValidationError{
			Field:   field + ".operator",
			Message: fmt.Sprintf("unknown operator %q", c.Operator),
			Code:    ErrUnknownOperator,
		})
	}

	switch c.Operator {
	case ir.OpIsEmpty, ir.OpIsNotEmpty:
		// value ignored
	case ir.OpIn, ir.OpNotIn:
		if _, ok := c.Value.(ir.IRArray); !ok {
			errs = append(errs, ValidationError{
				Field:   field + ".value",
				Message: fmt.Sprintf("%s requires a list value", c.Operator),
				Code:    ErrInvalidValue,
			})
		}
	default:
		if c.Value == nil {
			errs = append(errs, ValidationError{
				Field:   field + ".value",
				Message: fmt.Sprintf("%s requires a value", c.Operator),
				Code:    ErrInvalidValue,
			})
		}
	}
	return errs
}

func validateAction(i int, a ir.Action) ValidationErrors {
	field := fmt.Sprintf("actions[%d]", i)
	missing := func(param string) ValidationErrors {
		return ValidationErrors{{
			Field:   field + "." + param,
			Message: fmt.Sprintf("%s requires %s", a.Kind(), param),
			Code:    ErrInvalidAction,
		}}
	}

	switch v := a.(type) {
	case ir.MoveCard:
		if v.ColumnID == "" {
			return missing("column_id")
		}
	case ir.AddLabel:
		if v.Label == "" {
			return missing("label")
		}
	case ir.RemoveLabel:
		if v.Label == "" {
			return missing("label")
		}
	case ir.AssignUser:
		if v.UserID == "" {
			return missing("user_id")
		}
	case ir.SetDueDate:
		if (v.Date == nil) == (v.Offset == 0) {
			return ValidationErrors{{
				Field:   field,
				Message: "set_due_date requires exactly one of date or a non-zero offset",
				Code:    ErrInvalidDueDateSpec,
			}}
		}
	case ir.PostComment:
		if strings.TrimSpace(v.Template) == "" {
			return missing("template")
		}
	case ir.SendNotification:
		if strings.TrimSpace(v.Template) == "" {
			return missing("template")
		}
	case ir.TriggerWebhook:
		u, err := url.Parse(v.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ValidationErrors{{
				Field:   field + ".url",
				Message: fmt.Sprintf("webhook url %q must be an absolute http(s) url", v.URL),
				Code:    ErrInvalidWebhookURL,
			}}
		}
	case nil:
		return ValidationErrors{{Field: field, Message: "action is nil", Code: ErrInvalidAction}}
	}
	return nil
}

// ValidateRecurring checks a recurring definition.
func ValidateRecurring(def ir.RecurringDefinition) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(def.TemplateCardID) == "" {
		errs = append(errs, ValidationError{Field: "card_id", Message: "template card id is required", Code: ErrTemplateRequired})
	}
	if err := cron.Validate(def.CronExpression); err != nil {
		errs = append(errs, ValidationError{Field: "cron_expression", Message: err.Error(), Code: ErrInvalidCron})
	}
	return errs
}
