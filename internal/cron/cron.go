// Package cron computes fire times for standard 5-field cron expressions.
//
// Everything here is a pure function of (expression, reference instant):
// no wall clock, no goroutines. The recurrence scheduler owns the polling
// loop; this package only answers "when is the next fire after t?".
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"
)

// ErrNoFireTime is returned when an expression never fires (e.g. "0 0 30 2 *").
var ErrNoFireTime = errors.New("cron expression has no future fire time")

// parser accepts exactly minute, hour, day-of-month, month, day-of-week.
// Descriptors like @daily are accepted as shorthands.
var parser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// Parse validates a 5-field cron expression.
func Parse(expr string) (robfig.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron expression is empty")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("cron expression %q: time zone prefixes are not supported", expr)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Validate reports whether expr is a usable 5-field expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// NextFireAfter returns the earliest fire time strictly after t.
//
// The result is in t's location. A fire exactly at t is NOT returned: a
// config that just fired at 09:00 must schedule the next 09:00, not the same one.
func NextFireAfter(expr string, t time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(t)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoFireTime, expr)
	}
	return next, nil
}

// NextN returns the next n fire times after t, in order.
func NextN(expr string, t time.Time, n int) ([]time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	cur := t
	for range n {
		next := sched.Next(cur)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		cur = next
	}
	if len(out) == 0 && n > 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoFireTime, expr)
	}
	return out, nil
}
