package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/boardflow/internal/cron"
)

// CronResult is the output of cron next.
type CronResult struct {
	Expression string      `json:"expression"`
	After      time.Time   `json:"after"`
	Next       []time.Time `json:"next"`
}

// Text renders one fire time per line.
func (r CronResult) Text() string {
	var b strings.Builder
	for _, t := range r.Next {
		fmt.Fprintln(&b, t.Format(time.RFC3339))
	}
	return b.String()
}

// NewCronCommand creates the cron command group.
func NewCronCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cron",
		Short:         "Inspect cron expressions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		count int
		after string
	)
	next := &cobra.Command{
		Use:   "next <expression>",
		Short: "Print the next fire times of a cron expression",
		Long: `Print the next fire times of a cron expression in UTC.

Examples:
  boardflow cron next "0 9 * * 1-5"
  boardflow cron next @hourly --count 3 --after 2026-01-05T09:30:00Z`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCronNext(rootOpts, args[0], after, count, cmd)
		},
	}
	next.Flags().IntVarP(&count, "count", "n", 5, "number of fire times")
	next.Flags().StringVar(&after, "after", "", "start instant, RFC 3339 (defaults to now)")

	cmd.AddCommand(next)
	return cmd
}

func runCronNext(opts *RootOptions, expr, after string, count int, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	if count <= 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "--count must be positive", nil)
	}

	from := time.Now().UTC()
	if after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("invalid --after: %v", err), nil)
		}
		from = t.UTC()
	}

	times, err := cron.NextN(expr, from, count)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeValidation, err.Error(), nil)
	}
	return formatter.Success(CronResult{Expression: expr, After: from, Next: times})
}
