package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/boardflow/internal/ir"
)

// ActivityResult is the output of the activity command.
type ActivityResult struct {
	BoardID string             `json:"board_id"`
	Entries []ir.ActivityEntry `json:"entries"`
}

// Text renders entries newest first.
func (r ActivityResult) Text() string {
	if len(r.Entries) == 0 {
		return fmt.Sprintf("No activity on board %s.\n", r.BoardID)
	}
	var b strings.Builder
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%s  %-13s  %s", e.CreatedAt.Format(time.RFC3339), e.Kind, e.Detail)
		if e.RuleID != "" {
			fmt.Fprintf(&b, "  rule=%s", e.RuleID)
		}
		if e.EventID != "" {
			fmt.Fprintf(&b, "  event=%s", e.EventID)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// NewActivityCommand creates the activity command.
func NewActivityCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "activity <board-id>",
		Short: "Show a board's automation activity log",
		Long: `Show rule firings, rate-limit trips and auto-disables recorded for a
board, newest first.

Example:
  boardflow activity b1 --limit 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivity(rootOpts, args[0], limit, cmd)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	return cmd
}

func runActivity(opts *RootOptions, boardID string, limit int, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	if limit <= 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "--limit must be positive", nil)
	}

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.store.ListActivity(commandContext(cmd), boardID, limit)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, err.Error(), nil)
	}
	if entries == nil {
		entries = []ir.ActivityEntry{}
	}
	return formatter.Success(ActivityResult{BoardID: boardID, Entries: entries})
}
