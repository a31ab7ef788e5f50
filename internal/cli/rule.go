package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/boardflow/internal/compiler"
	"github.com/roach88/boardflow/internal/ir"
	"github.com/roach88/boardflow/internal/store"
)

// RuleList is the output of rule list.
type RuleList struct {
	Rules []ir.AutomationRule `json:"rules"`
}

// Text renders one line per rule.
func (l RuleList) Text() string {
	if len(l.Rules) == 0 {
		return "No rules.\n"
	}
	var b strings.Builder
	for _, r := range l.Rules {
		fmt.Fprintf(&b, "%s  %-8s  %-18s  %s (v%d, failures %d)\n",
			r.ID, enabledLabel(r.IsEnabled), r.Trigger.Type, r.Name, r.Version, r.ConsecutiveFailures)
	}
	return b.String()
}

// RuleDetail is the output of rule show, enable, disable and toggle.
type RuleDetail struct {
	Rule ir.AutomationRule `json:"rule"`
}

// Text renders the rule with its conditions and actions.
func (d RuleDetail) Text() string {
	r := d.Rule
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", r.ID, r.Name)
	fmt.Fprintf(&b, "  board:    %s\n", r.BoardID)
	fmt.Fprintf(&b, "  state:    %s (version %d, %d consecutive failures)\n", enabledLabel(r.IsEnabled), r.Version, r.ConsecutiveFailures)
	fmt.Fprintf(&b, "  trigger:  %s%s\n", r.Trigger.Type, triggerFilters(r.Trigger))
	for _, c := range r.Conditions {
		fmt.Fprintf(&b, "  when:     %s %s", c.Field, c.Operator)
		if c.Value != nil {
			if raw, err := ir.MarshalIRValue(c.Value); err == nil {
				fmt.Fprintf(&b, " %s", raw)
			}
		}
		b.WriteString("\n")
	}
	for _, a := range r.Actions {
		fmt.Fprintf(&b, "  then:     %s\n", a.Kind())
	}
	return b.String()
}

func triggerFilters(t ir.Trigger) string {
	var parts []string
	if t.FromColumn != "" {
		parts = append(parts, "from="+t.FromColumn)
	}
	if t.ToColumn != "" {
		parts = append(parts, "to="+t.ToColumn)
	}
	if t.Label != "" {
		parts = append(parts, "label="+t.Label)
	}
	if len(parts) == 0 {
		return ""
	}
	return " [" + strings.Join(parts, " ") + "]"
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// NewRuleCommand creates the rule command group.
func NewRuleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage automation rules",
		Long: `Apply, inspect, enable, disable and delete automation rules.

Examples:
  boardflow rule apply ./rules
  boardflow rule list --board b1
  boardflow rule disable 01936f4e-...`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var board string
	list := &cobra.Command{
		Use:           "list",
		Short:         "List the rules of a board",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuleList(rootOpts, board, cmd)
		},
	}
	list.Flags().StringVar(&board, "board", "", "board id (required)")
	_ = list.MarkFlagRequired("board")

	cmd.AddCommand(
		&cobra.Command{
			Use:           "apply <path>",
			Short:         "Apply the rules and recurring configs of a CUE bundle",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runApply(rootOpts, args[0], cmd)
			},
		},
		list,
		ruleIDCommand(rootOpts, "show", "Show one rule", func(a *app, cmd *cobra.Command, id string) (ir.AutomationRule, error) {
			return a.rules.GetRule(commandContext(cmd), id)
		}),
		ruleIDCommand(rootOpts, "enable", "Enable a rule", func(a *app, cmd *cobra.Command, id string) (ir.AutomationRule, error) {
			return a.rules.SetRuleEnabled(commandContext(cmd), id, true)
		}),
		ruleIDCommand(rootOpts, "disable", "Disable a rule", func(a *app, cmd *cobra.Command, id string) (ir.AutomationRule, error) {
			return a.rules.SetRuleEnabled(commandContext(cmd), id, false)
		}),
		ruleIDCommand(rootOpts, "toggle", "Flip a rule between enabled and disabled", func(a *app, cmd *cobra.Command, id string) (ir.AutomationRule, error) {
			return a.rules.ToggleRule(commandContext(cmd), id)
		}),
		&cobra.Command{
			Use:           "delete <rule-id>",
			Short:         "Delete a rule",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRuleDelete(rootOpts, args[0], cmd)
			},
		},
	)
	return cmd
}

// ruleIDCommand builds a subcommand that acts on one rule and prints it.
func ruleIDCommand(rootOpts *RootOptions, name, short string, fn func(*app, *cobra.Command, string) (ir.AutomationRule, error)) *cobra.Command {
	return &cobra.Command{
		Use:           name + " <rule-id>",
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

			rule, err := fn(a, cmd, args[0])
			if err != nil {
				return reportStoreError(formatter, "rule", args[0], err)
			}
			return formatter.Success(RuleDetail{Rule: rule})
		},
	}
}

func runRuleList(opts *RootOptions, boardID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	rules, err := a.rules.ListRules(commandContext(cmd), boardID)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, err.Error(), nil)
	}
	if rules == nil {
		rules = []ir.AutomationRule{}
	}
	return formatter.Success(RuleList{Rules: rules})
}

func runRuleDelete(opts *RootOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.rules.DeleteRule(commandContext(cmd), id); err != nil {
		return reportStoreError(formatter, "rule", id, err)
	}
	return formatter.Success(deleted{Kind: "rule", ID: id})
}

// deleted is the output of the delete subcommands.
type deleted struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (d deleted) Text() string {
	return fmt.Sprintf("✓ Deleted %s %s\n", d.Kind, d.ID)
}

// reportStoreError reports a store failure. Not-found is a command error;
// invalid definitions and version conflicts are failures.
func reportStoreError(formatter *OutputFormatter, kind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("%s %s not found", kind, id), nil)
	}
	var verrs compiler.ValidationErrors
	if errors.As(err, &verrs) {
		return formatter.Fail(ExitFailure, ErrCodeValidation, err.Error(), verrs)
	}
	return formatter.Fail(ExitFailure, ErrCodeStore, err.Error(), nil)
}
