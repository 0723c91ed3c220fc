package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/usertrack/internal/rules"
)

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Valid bool          `json:"valid"`
	Path  string        `json:"path"`
	Rules []RuleSummary `json:"rules,omitempty"`
	Error *RuleError    `json:"error,omitempty"`
}

// RuleSummary describes one compiled rule.
type RuleSummary struct {
	Name    string   `json:"name"`
	Field   string   `json:"field"`
	Filters []string `json:"filters,omitempty"`
	Sources []string `json:"sources"`
}

// RuleError locates the first problem in a rule file.
type RuleError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [rules-file]",
		Short: "Check a pattern rule file",
		Long: `Load and compile a pattern rule file (.cue, .yaml, .json or .jsonc)
without contacting any service. Without an argument the file named by the
configuration's "rules" key is checked.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := opts.loadConfig(f)
		if err != nil {
			return err
		}
		path = cfg.Rules
	}
	opts.logger(cmd).Debug("validating rules", "path", path)

	set, err := rules.LoadFile(path)
	if err != nil {
		var ce *rules.CompileError
		if !errors.As(err, &ce) {
			return f.Fail(ExitCommandError, ErrCodeRules, "cannot load "+path, err)
		}
		return outputValidationFailure(f, path, ce)
	}

	result := ValidationResult{Valid: true, Path: path}
	for _, r := range set.Rules {
		s := RuleSummary{Name: r.Name, Field: r.Field}
		for _, flt := range r.Filter {
			s.Filters = append(s.Filters, flt.Field)
		}
		for _, src := range r.Sources {
			s.Sources = append(s.Sources, fmt.Sprintf("%s (%d patterns)", src.Field, len(src.Patterns)))
		}
		result.Rules = append(result.Rules, s)
	}

	return f.Render(result, func(w io.Writer) error {
		fmt.Fprintf(w, "✓ %s: %d rule(s) valid\n", path, len(result.Rules))
		for _, r := range result.Rules {
			fmt.Fprintf(w, "  %s -> %s", r.Name, r.Field)
			if len(r.Filters) > 0 {
				fmt.Fprintf(w, " when %v", r.Filters)
			}
			fmt.Fprintf(w, " from %v\n", r.Sources)
		}
		return nil
	})
}

func outputValidationFailure(f *OutputFormatter, path string, ce *rules.CompileError) error {
	re := &RuleError{Field: ce.Field, Message: ce.Message}
	if ce.Pos.IsValid() {
		re.Line = ce.Pos.Line()
		re.Column = ce.Pos.Column()
	}

	if f.JSON() {
		_ = f.Error(ErrCodeRules, ce.Error(), ValidationResult{Valid: false, Path: path, Error: re})
	} else {
		fmt.Fprintln(f.Writer, "✗ Validation failed")
		fmt.Fprintln(f.Writer)
		if re.Line > 0 {
			fmt.Fprintf(f.Writer, "%s:%d:%d\n", path, re.Line, re.Column)
		}
		fmt.Fprintf(f.Writer, "  %s: %s\n", re.Field, re.Message)
	}

	// Invalid rules are a validation failure, not a usage error.
	return Exit(ExitFailure, "rule validation failed", ce)
}
