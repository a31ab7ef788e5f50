package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/boardflow/internal/compiler"
	"github.com/roach88/boardflow/internal/ir"
)

// ApplySummary counts what an apply changed.
type ApplySummary struct {
	RulesCreated     int      `json:"rules_created"`
	RulesUpdated     int      `json:"rules_updated"`
	RecurringCreated int      `json:"recurring_created"`
	RecurringUpdated int      `json:"recurring_updated"`
	Applied          []string `json:"applied"`
}

// Text renders the summary for text output.
func (s ApplySummary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Applied %d rule(s) (%d created, %d updated) and %d recurring config(s) (%d created, %d updated)\n",
		s.RulesCreated+s.RulesUpdated, s.RulesCreated, s.RulesUpdated,
		s.RecurringCreated+s.RecurringUpdated, s.RecurringCreated, s.RecurringUpdated)
	for _, name := range s.Applied {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return b.String()
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <path>",
		Short: "Apply a CUE bundle of rules and recurring configs",
		Long: `Compile a CUE file or directory and store its definitions.

Rules are matched to existing rules by board and name and updated in
place; new names are created. Recurring configs are matched by template
card. Nothing is stored unless every definition in the bundle is valid.

Example:
  boardflow apply ./rules --db ./boardflow.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runApply(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := applyBundle(commandContext(cmd), a, path)
	if err != nil {
		return reportApplyError(formatter, err)
	}
	return formatter.Success(summary)
}

// applyBundle loads every definition under path and upserts it. Loading
// collects all errors so one apply reports every broken definition.
func applyBundle(ctx context.Context, a *app, path string) (ApplySummary, error) {
	bundle, errs := compiler.Load(path, compiler.LoadModeCollectAll)
	if len(errs) > 0 {
		return ApplySummary{}, &bundleError{errs: errs}
	}

	var summary ApplySummary
	if err := applyRules(ctx, a, bundle.Rules, &summary); err != nil {
		return summary, err
	}
	if err := applyRecurring(ctx, a, bundle.Recurring, &summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func applyRules(ctx context.Context, a *app, rules []compiler.CompiledRule, summary *ApplySummary) error {
	existing := make(map[string]map[string]ir.AutomationRule)
	for _, cr := range rules {
		def := cr.Definition
		byName, ok := existing[def.BoardID]
		if !ok {
			list, err := a.rules.ListRules(ctx, def.BoardID)
			if err != nil {
				return fmt.Errorf("list rules of board %s: %w", def.BoardID, err)
			}
			byName = make(map[string]ir.AutomationRule, len(list))
			for _, r := range list {
				byName[r.Name] = r
			}
			existing[def.BoardID] = byName
		}

		if current, ok := byName[def.Name]; ok {
			patch := ir.RulePatch{
				Trigger:    &def.Trigger,
				Conditions: &def.Conditions,
				Actions:    &def.Actions,
			}
			if _, err := a.rules.UpdateRule(ctx, current.ID, current.Version, patch); err != nil {
				return fmt.Errorf("update rule %s: %w", cr.Key, err)
			}
			summary.RulesUpdated++
		} else {
			created, err := a.rules.CreateRule(ctx, def)
			if err != nil {
				return fmt.Errorf("create rule %s: %w", cr.Key, err)
			}
			byName[def.Name] = created
			summary.RulesCreated++
		}
		summary.Applied = append(summary.Applied, "rule "+cr.Key)
	}
	return nil
}

func applyRecurring(ctx context.Context, a *app, recs []compiler.CompiledRecurring, summary *ApplySummary) error {
	for _, cr := range recs {
		boardID := cr.BoardID
		if boardID == "" {
			tmpl, err := a.store.GetCard(ctx, cr.Definition.TemplateCardID)
			if err != nil {
				return fmt.Errorf("recurring %s template card: %w", cr.Key, err)
			}
			boardID = tmpl.BoardID
		}
		list, err := a.rules.ListRecurring(ctx, boardID)
		if err != nil {
			return fmt.Errorf("list recurring configs of board %s: %w", boardID, err)
		}

		var current *ir.RecurringConfig
		for i := range list {
			if list[i].TemplateCardID == cr.Definition.TemplateCardID {
				current = &list[i]
				break
			}
		}

		if current != nil {
			patch := ir.RecurringPatch{
				CronExpression: &cr.Definition.CronExpression,
				Enabled:        cr.Definition.Enabled,
			}
			if _, err := a.rules.UpdateRecurring(ctx, current.ID, patch); err != nil {
				return fmt.Errorf("update recurring %s: %w", cr.Key, err)
			}
			summary.RecurringUpdated++
		} else {
			if _, err := a.rules.CreateRecurring(ctx, cr.Definition); err != nil {
				return fmt.Errorf("create recurring %s: %w", cr.Key, err)
			}
			summary.RecurringCreated++
		}
		summary.Applied = append(summary.Applied, "recurring "+cr.Key)
	}
	return nil
}

// bundleError carries every load error of a rejected bundle.
type bundleError struct {
	errs []error
}

func (e *bundleError) Error() string {
	msgs := make([]string, len(e.errs))
	for i, err := range e.errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// reportApplyError maps bundle and store failures onto exit codes: a missing
// path is a command error, invalid definitions and store rejections are
// failures.
func reportApplyError(formatter *OutputFormatter, err error) error {
	var be *bundleError
	if errors.As(err, &be) {
		var le *compiler.LoadError
		if len(be.errs) == 1 && errors.As(be.errs[0], &le) && isCommandLoadError(le.Code) {
			return formatter.Fail(ExitCommandError, le.Code, le.Message, nil)
		}
		details := make([]string, len(be.errs))
		for i, e := range be.errs {
			details[i] = e.Error()
		}
		return formatter.Fail(ExitFailure, ErrCodeValidation,
			fmt.Sprintf("bundle rejected with %d error(s)", len(be.errs)), details)
	}
	return formatter.Fail(ExitFailure, ErrCodeStore, err.Error(), nil)
}

// isCommandLoadError reports whether a load error code means the command
// was pointed at the wrong place rather than at broken definitions.
func isCommandLoadError(code string) bool {
	switch code {
	case compiler.ErrCodeNotFound, compiler.ErrCodeNoFiles, compiler.ErrCodeScanError:
		return true
	}
	return false
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
