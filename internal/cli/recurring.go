package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/boardflow/internal/ir"
)

// RecurringList is the output of recurring list.
type RecurringList struct {
	Configs []ir.RecurringConfig `json:"configs"`
}

// Text renders one line per config.
func (l RecurringList) Text() string {
	if len(l.Configs) == 0 {
		return "No recurring configs.\n"
	}
	var b strings.Builder
	for _, c := range l.Configs {
		b.WriteString(recurringLine(c))
	}
	return b.String()
}

// RecurringDetail is the output of the recurring subcommands that change
// one config.
type RecurringDetail struct {
	Config ir.RecurringConfig `json:"config"`
}

// Text renders the config on one line.
func (d RecurringDetail) Text() string {
	return recurringLine(d.Config)
}

func recurringLine(c ir.RecurringConfig) string {
	last := "never"
	if c.LastRunAt != nil {
		last = c.LastRunAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s  %-8s  %-16q  card %s  next %s  last %s\n",
		c.ID, enabledLabel(c.Enabled), c.CronExpression, c.TemplateCardID, c.NextRunAt.Format(time.RFC3339), last)
}

// NewRecurringCommand creates the recurring command group.
func NewRecurringCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recurring",
		Short: "Manage recurring card configs",
		Long: `Create, inspect, enable, disable and delete recurring configs.

A recurring config clones its template card every time its cron
expression fires. Cron expressions use five fields (minute hour
day-of-month month day-of-week) or a descriptor such as @daily.

Examples:
  boardflow recurring add tmpl-standup "0 9 * * 1-5"
  boardflow recurring list --board b1
  boardflow recurring toggle 01936f4e-...`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		next     string
		disabled bool
	)
	add := &cobra.Command{
		Use:           "add <template-card-id> <cron-expression>",
		Short:         "Create a recurring config for a template card",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecurringAdd(rootOpts, args[0], args[1], next, disabled, cmd)
		},
	}
	add.Flags().StringVar(&next, "next", "", "first fire time (RFC 3339); defaults to the next cron fire")
	add.Flags().BoolVar(&disabled, "disabled", false, "create the config disabled")

	var board string
	list := &cobra.Command{
		Use:           "list",
		Short:         "List the recurring configs of a board",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecurringList(rootOpts, board, cmd)
		},
	}
	list.Flags().StringVar(&board, "board", "", "board id (required)")
	_ = list.MarkFlagRequired("board")

	cmd.AddCommand(
		add,
		list,
		recurringIDCommand(rootOpts, "enable", "Enable a recurring config", func(a *app, cmd *cobra.Command, id string) (ir.RecurringConfig, error) {
			return setRecurringEnabled(a, cmd, id, true)
		}),
		recurringIDCommand(rootOpts, "disable", "Disable a recurring config", func(a *app, cmd *cobra.Command, id string) (ir.RecurringConfig, error) {
			return setRecurringEnabled(a, cmd, id, false)
		}),
		recurringIDCommand(rootOpts, "toggle", "Flip a recurring config between enabled and disabled", func(a *app, cmd *cobra.Command, id string) (ir.RecurringConfig, error) {
			return a.rules.ToggleRecurring(commandContext(cmd), id)
		}),
		&cobra.Command{
			Use:           "delete <config-id>",
			Short:         "Delete a recurring config",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				formatter := newFormatter(rootOpts, cmd)
				a, err := openApp(rootOpts)
				if err != nil {
					return err
				}
				defer a.Close()

				if err := a.rules.DeleteRecurring(commandContext(cmd), args[0]); err != nil {
					return reportStoreError(formatter, "recurring config", args[0], err)
				}
				return formatter.Success(deleted{Kind: "recurring config", ID: args[0]})
			},
		},
	)
	return cmd
}

// setRecurringEnabled enables or disables a config. Enabling goes through
// ToggleRecurring so a config paused past its next run skips the missed fires.
func setRecurringEnabled(a *app, cmd *cobra.Command, id string, enabled bool) (ir.RecurringConfig, error) {
	ctx := commandContext(cmd)
	cfg, err := a.rules.GetRecurring(ctx, id)
	if err != nil {
		return ir.RecurringConfig{}, err
	}
	if cfg.Enabled == enabled {
		return cfg, nil
	}
	return a.rules.ToggleRecurring(ctx, id)
}

func recurringIDCommand(rootOpts *RootOptions, name, short string, fn func(*app, *cobra.Command, string) (ir.RecurringConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:           name + " <config-id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg, err := fn(a, cmd, args[0])
			if err != nil {
				return reportStoreError(formatter, "recurring config", args[0], err)
			}
			return formatter.Success(RecurringDetail{Config: cfg})
		},
	}
}

func runRecurringAdd(opts *RootOptions, cardID, expr, next string, disabled bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	def := ir.RecurringDefinition{TemplateCardID: cardID, CronExpression: expr}
	if next != "" {
		t, err := time.Parse(time.RFC3339, next)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("invalid --next: %v", err), nil)
		}
		def.NextRunAt = t
	}
	if disabled {
		enabled := false
		def.Enabled = &enabled
	}

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, err := a.rules.CreateRecurring(commandContext(cmd), def)
	if err != nil {
		return reportStoreError(formatter, "template card", cardID, err)
	}
	return formatter.Success(RecurringDetail{Config: cfg})
}

func runRecurringList(opts *RootOptions, boardID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	configs, err := a.rules.ListRecurring(commandContext(cmd), boardID)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, err.Error(), nil)
	}
	if configs == nil {
		configs = []ir.RecurringConfig{}
	}
	return formatter.Success(RecurringList{Configs: configs})
}
