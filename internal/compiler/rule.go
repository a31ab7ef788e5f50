package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/boardflow/internal/ir"
)

// CompiledRule is a rule definition plus the label it was declared under.
type CompiledRule struct {
	Key        string
	Definition ir.RuleDefinition
}

// CompileRule parses a CUE value into a RuleDefinition.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: "my-rule": { ... }`)
//	rule, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."my-rule"`)))
//
// The rule's label is used as its name when no name field is given.
func CompileRule(v cue.Value) (*CompiledRule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	out := &CompiledRule{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		out.Key = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	def := &out.Definition

	board, err := requiredString(v, "board")
	if err != nil {
		return nil, err
	}
	def.BoardID = board

	def.Name = out.Key
	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Name = name
	}

	triggerVal := v.LookupPath(cue.ParsePath("trigger"))
	if !triggerVal.Exists() {
		return nil, &CompileError{Field: "trigger", Message: "trigger is required", Pos: v.Pos()}
	}
	if err := decodeInto(triggerVal, "trigger", &def.Trigger); err != nil {
		return nil, err
	}

	// Conditions are optional: an absent list means "always match".
	if condVal := v.LookupPath(cue.ParsePath("conditions")); condVal.Exists() {
		if err := decodeInto(condVal, "conditions", &def.Conditions); err != nil {
			return nil, err
		}
	}

	actionsVal := v.LookupPath(cue.ParsePath("actions"))
	if !actionsVal.Exists() {
		return nil, &CompileError{Field: "actions", Message: "actions are required", Pos: v.Pos()}
	}
	if err := decodeInto(actionsVal, "actions", &def.Actions); err != nil {
		return nil, err
	}

	return out, nil
}

// CompiledRecurring is a recurring definition plus its board and declared label.
type CompiledRecurring struct {
	Key        string
	BoardID    string
	Definition ir.RecurringDefinition
}

// CompileRecurring parses a CUE value into a RecurringDefinition.
func CompileRecurring(v cue.Value) (*CompiledRecurring, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	out := &CompiledRecurring{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		out.Key = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	card, err := requiredString(v, "card")
	if err != nil {
		return nil, err
	}
	out.Definition.TemplateCardID = card

	expr, err := requiredString(v, "cron")
	if err != nil {
		return nil, err
	}
	out.Definition.CronExpression = expr

	if boardVal := v.LookupPath(cue.ParsePath("board")); boardVal.Exists() {
		board, err := boardVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out.BoardID = board
	}

	if enabledVal := v.LookupPath(cue.ParsePath("enabled")); enabledVal.Exists() {
		enabled, err := enabledVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out.Definition.Enabled = &enabled
	}

	return out, nil
}

// requiredString looks up a required string field.
func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: field + " must be a string", Pos: fv.Pos()}
	}
	return s, nil
}

// decodeInto routes a CUE value through its JSON form so the IR codecs
// (closed action set, float-free condition values) apply uniformly.
func decodeInto(v cue.Value, field string, dst any) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return formatCUEError(err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return nil
}

// CompileError reports a definition that could not be parsed.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
