package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/boardflow/internal/ir"
)

// EvalContext is the state a rule's conditions are evaluated against.
type EvalContext struct {
	Card ir.Card
	// Now resolves the literal "now" in due_date comparisons.
	Now time.Time
}

// priorityRank orders priorities for greater_than / less_than.
var priorityRank = map[string]int{
	"low":    1,
	"medium": 2,
	"high":   3,
	"urgent": 4,
}

var errTypeMismatch = errors.New("type mismatch")

// Evaluate reports whether every condition holds (logical AND). An empty
// list always matches. A condition that cannot be evaluated is false and
// is logged at debug level; Evaluate never returns an error.
func Evaluate(conditions []ir.Condition, ec EvalContext) bool {
	for i, c := range conditions {
		ok, err := evaluateCondition(c, ec)
		if err != nil {
			slog.Debug("condition evaluation failed closed",
				"index", i,
				"field", c.Field,
				"operator", c.Operator,
				"card_id", ec.Card.ID,
				"error", err,
			)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// fieldValue is a card attribute in one of its three shapes.
type fieldValue struct {
	set    []string   // assignee_ids, label_ids
	scalar string     // priority, column_id, swimlane_id
	time   *time.Time // due_date
	kind   fieldKind
}

type fieldKind int

const (
	kindScalar fieldKind = iota
	kindSet
	kindTime
)

func (v fieldValue) empty() bool {
	switch v.kind {
	case kindSet:
		return len(v.set) == 0
	case kindTime:
		return v.time == nil
	default:
		return v.scalar == ""
	}
}

func lookupField(card ir.Card, f ir.Field) (fieldValue, error) {
	switch f {
	case ir.FieldPriority:
		return fieldValue{kind: kindScalar, scalar: card.Priority}, nil
	case ir.FieldColumnID:
		return fieldValue{kind: kindScalar, scalar: card.ColumnID}, nil
	case ir.FieldSwimlaneID:
		return fieldValue{kind: kindScalar, scalar: card.SwimlaneID}, nil
	case ir.FieldAssigneeIDs:
		return fieldValue{kind: kindSet, set: card.AssigneeIDs}, nil
	case ir.FieldLabelIDs:
		return fieldValue{kind: kindSet, set: card.LabelIDs}, nil
	case ir.FieldDueDate:
		return fieldValue{kind: kindTime, time: card.DueDate}, nil
	default:
		return fieldValue{}, fmt.Errorf("unknown field %q", f)
	}
}

func evaluateCondition(c ir.Condition, ec EvalContext) (bool, error) {
	fv, err := lookupField(ec.Card, c.Field)
	if err != nil {
		return false, err
	}

	switch c.Operator {
	case ir.OpIsEmpty:
		return fv.empty(), nil
	case ir.OpIsNotEmpty:
		return !fv.empty(), nil
	case ir.OpEquals:
		return equals(fv, c.Value, ec.Now)
	case ir.OpNotEquals:
		eq, err := equals(fv, c.Value, ec.Now)
		if err != nil {
			return false, err
		}
		return !eq, nil
	case ir.OpIn:
		return in(fv, c.Value)
	case ir.OpNotIn:
		ok, err := in(fv, c.Value)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case ir.OpContains:
		return contains(fv, c.Value)
	case ir.OpGreaterThan:
		cmp, err := compare(c.Field, fv, c.Value, ec.Now)
		if err != nil {
			return false, err
		}
		return cmp > 0, nil
	case ir.OpLessThan:
		cmp, err := compare(c.Field, fv, c.Value, ec.Now)
		if err != nil {
			return false, err
		}
		return cmp < 0, nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

func equals(fv fieldValue, value ir.IRValue, now time.Time) (bool, error) {
	switch fv.kind {
	case kindSet:
		want, err := stringSet(value)
		if err != nil {
			return false, err
		}
		return sameSet(fv.set, want), nil
	case kindTime:
		want, err := instant(value, now)
		if err != nil {
			return false, err
		}
		return fv.time != nil && fv.time.Equal(want), nil
	default:
		s, ok := value.(ir.IRString)
		if !ok {
			return false, fmt.Errorf("%w: equals on scalar field needs a string, got %T", errTypeMismatch, value)
		}
		return normalize(fv.scalar) == normalize(string(s)), nil
	}
}

// in: scalar field is a member of the value list; set field intersects it.
func in(fv fieldValue, value ir.IRValue) (bool, error) {
	arr, ok := value.(ir.IRArray)
	if !ok {
		return false, fmt.Errorf("%w: in needs a list, got %T", errTypeMismatch, value)
	}
	list, err := stringSet(arr)
	if err != nil {
		return false, err
	}
	switch fv.kind {
	case kindSet:
		for _, v := range fv.set {
			if memberOf(v, list) {
				return true, nil
			}
		}
		return false, nil
	case kindScalar:
		if fv.scalar == "" {
			return false, nil
		}
		return memberOf(fv.scalar, list), nil
	default:
		return false, fmt.Errorf("%w: in is not defined on due_date", errTypeMismatch)
	}
}

// contains: set field holds the value (string) or every value (list).
// Scalar fields fail closed.
func contains(fv fieldValue, value ir.IRValue) (bool, error) {
	if fv.kind != kindSet {
		return false, fmt.Errorf("%w: contains needs a set field", errTypeMismatch)
	}
	want, err := stringSet(value)
	if err != nil {
		return false, err
	}
	for _, w := range want {
		if !memberOf(w, fv.set) {
			return false, nil
		}
	}
	return true, nil
}

// compare orders the field against value: priority by rank, due_date by
// instant. Every other field is a type mismatch.
func compare(f ir.Field, fv fieldValue, value ir.IRValue, now time.Time) (int, error) {
	switch f {
	case ir.FieldPriority:
		s, ok := value.(ir.IRString)
		if !ok {
			return 0, fmt.Errorf("%w: priority compares against a string", errTypeMismatch)
		}
		have, ok := priorityRank[normalize(fv.scalar)]
		if !ok {
			return 0, fmt.Errorf("%w: card priority %q has no rank", errTypeMismatch, fv.scalar)
		}
		want, ok := priorityRank[normalize(string(s))]
		if !ok {
			return 0, fmt.Errorf("%w: priority %q has no rank", errTypeMismatch, s)
		}
		return have - want, nil
	case ir.FieldDueDate:
		if fv.time == nil {
			return 0, fmt.Errorf("%w: card has no due date", errTypeMismatch)
		}
		want, err := instant(value, now)
		if err != nil {
			return 0, err
		}
		return fv.time.Compare(want), nil
	default:
		return 0, fmt.Errorf("%w: %s is not ordered", errTypeMismatch, f)
	}
}

// instant parses an RFC 3339 timestamp or the literal "now".
func instant(value ir.IRValue, now time.Time) (time.Time, error) {
	s, ok := value.(ir.IRString)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: due_date compares against a timestamp string", errTypeMismatch)
	}
	if s == "now" {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, string(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errTypeMismatch, err)
	}
	return t, nil
}

// stringSet accepts a string (a set of one) or a list of strings.
func stringSet(value ir.IRValue) ([]string, error) {
	switch v := value.(type) {
	case ir.IRString:
		return []string{normalize(string(v))}, nil
	case ir.IRArray:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(ir.IRString)
			if !ok {
				return nil, fmt.Errorf("%w: list element %T is not a string", errTypeMismatch, elem)
			}
			out = append(out, normalize(string(s)))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected string or list, got %T", errTypeMismatch, value)
	}
}

func memberOf(v string, set []string) bool {
	v = normalize(v)
	return slices.ContainsFunc(set, func(s string) bool { return normalize(s) == v })
}

func sameSet(a, b []string) bool {
	for _, v := range a {
		if !memberOf(v, b) {
			return false
		}
	}
	for _, v := range b {
		if !memberOf(v, a) {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return norm.NFC.String(s)
}
