package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/boardflow/internal/compiler"
)

// ValidationIssue is one failing definition.
type ValidationIssue struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Files     int               `json:"files"`
	Rules     int               `json:"rules"`
	Recurring int               `json:"recurring"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// Text renders the result.
func (r ValidationResult) Text() string {
	var b strings.Builder
	if r.Valid {
		fmt.Fprintf(&b, "✓ All definitions valid (%d rule(s), %d recurring config(s) in %d file(s))\n",
			r.Rules, r.Recurring, r.Files)
		return b.String()
	}
	b.WriteString("✗ Validation failed\n\n")
	for _, issue := range r.Errors {
		if issue.Line > 0 {
			fmt.Fprintf(&b, "line %d\n", issue.Line)
		}
		if issue.Path != "" {
			fmt.Fprintf(&b, "  %s %s: %s\n\n", issue.Code, issue.Path, issue.Message)
			continue
		}
		fmt.Fprintf(&b, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate rule and recurring definitions without storing them",
		Long: `Validate the CUE rule and recurring definitions in a file or directory.

Performs syntax checking and every definition check that apply performs,
reporting all failing definitions at once. Nothing is written.

Exit codes:
  0 - All definitions valid
  1 - One or more definitions invalid
  2 - Command error (path not found, no CUE files)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	bundle, loadErrors := compiler.Load(path, compiler.LoadModeCollectAll)

	// Nothing was built: the path is wrong or the CUE does not parse.
	if bundle == nil && len(loadErrors) > 0 {
		var loadErr *compiler.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			exit := ExitFailure
			if isCommandLoadError(loadErr.Code) {
				exit = ExitCommandError
			}
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(exit, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
		}
		return formatter.Fail(ExitFailure, compiler.ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", bundle.FileCount, path)

	result := ValidationResult{
		Valid:     len(loadErrors) == 0,
		Files:     bundle.FileCount,
		Rules:     len(bundle.Rules),
		Recurring: len(bundle.Recurring),
	}
	for _, err := range loadErrors {
		result.Errors = append(result.Errors, toIssue(err))
	}

	if result.Valid {
		return formatter.Success(result)
	}

	if formatter.Format == "json" {
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: result.Errors[0].Code, Message: result.Errors[0].Message},
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprint(formatter.Writer, result.Text())
	}
	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}

func toIssue(err error) ValidationIssue {
	var le *compiler.LoadError
	if errors.As(err, &le) {
		issue := ValidationIssue{Code: le.Code, Path: le.Path, Message: le.Message}
		if le.Pos.IsValid() {
			issue.Line = le.Pos.Line()
		}
		return issue
	}
	return ValidationIssue{Code: compiler.ErrCodeGeneric, Message: err.Error()}
}
