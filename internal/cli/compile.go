package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/boardflow/internal/compiler"
	"github.com/roach88/boardflow/internal/ir"
)

// ErrCodeWriteFailed reports a failure writing the compiled output file.
const ErrCodeWriteFailed = "E012"

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledRule is a rule definition with the label it was declared under.
type CompiledRule struct {
	Key string `json:"key"`
	ir.RuleDefinition
}

// CompiledRecurring is a recurring definition with its board and label.
type CompiledRecurring struct {
	Key     string `json:"key"`
	BoardID string `json:"board_id"`
	ir.RecurringDefinition
}

// CompilationResult holds the compiled definitions of a bundle.
type CompilationResult struct {
	Rules     []CompiledRule      `json:"rules"`
	Recurring []CompiledRecurring `json:"recurring"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <path>",
		Short: "Compile CUE rule definitions to canonical JSON",
		Long: `Compile CUE rule and recurring definitions to canonical JSON.

The compiler parses CUE files, validates every definition, and outputs
the JSON form stored by apply.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	bundle, loadErrors := compiler.Load(path, compiler.LoadModeCollectAll)
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, bundle == nil, loadErrors)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", bundle.FileCount, path)

	result := &CompilationResult{
		Rules:     make([]CompiledRule, 0, len(bundle.Rules)),
		Recurring: make([]CompiledRecurring, 0, len(bundle.Recurring)),
	}
	for _, r := range bundle.Rules {
		formatter.VerboseLog("Compiled rule: %s", r.Key)
		result.Rules = append(result.Rules, CompiledRule{Key: r.Key, RuleDefinition: r.Definition})
	}
	for _, r := range bundle.Recurring {
		formatter.VerboseLog("Compiled recurring config: %s", r.Key)
		result.Recurring = append(result.Recurring, CompiledRecurring{Key: r.Key, BoardID: r.BoardID, RecurringDefinition: r.Definition})
	}

	if opts.Output != "" {
		if err := writeCompiled(result, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
			return WrapExitError(ExitCommandError, "writing output file", err)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

func writeCompiled(result *CompilationResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d rule(s), %d recurring config(s)\n\n",
		len(result.Rules), len(result.Recurring))

	if len(result.Rules) > 0 {
		fmt.Fprintln(formatter.Writer, "Rules:")
		for _, r := range result.Rules {
			fmt.Fprintf(formatter.Writer, "  %s: %s on %s → %d action(s)\n",
				r.Key, r.Trigger.Type, r.BoardID, len(r.Actions))
		}
		fmt.Fprintln(formatter.Writer)
	}

	if len(result.Recurring) > 0 {
		fmt.Fprintln(formatter.Writer, "Recurring:")
		for _, r := range result.Recurring {
			fmt.Fprintf(formatter.Writer, "  %s: card %s at %q\n", r.Key, r.TemplateCardID, r.CronExpression)
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote compiled definitions to %s\n", outputFile)
	}

	return nil
}

// outputCompileErrors outputs every compilation error. A bundle that was
// never built is a command error; invalid definitions are failures.
func outputCompileErrors(formatter *OutputFormatter, notBuilt bool, errs []error) error {
	exit := ExitFailure
	var le *compiler.LoadError
	if notBuilt && errors.As(errs[0], &le) && isCommandLoadError(le.Code) {
		exit = ExitCommandError
	}

	issues := make([]ValidationIssue, len(errs))
	for i, err := range errs {
		issues[i] = toIssue(err)
	}

	if formatter.Format == "json" {
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: issues[0].Code, Message: issues[0].Message},
			Data:   issues,
		}); err != nil {
			return err
		}
		return NewExitError(exit, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintf(formatter.Writer, "✗ Compilation failed with %d error(s)\n\n", len(errs))
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return NewExitError(exit, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}
