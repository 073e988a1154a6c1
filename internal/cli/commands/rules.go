package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcheck/pkg/rules"
)

// NewRulesCommand creates the rules command group.
func NewRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and lint rule files",
	}
	cmd.AddCommand(newRulesLintCommand())
	return cmd
}

// LintOptions holds options for the rules lint command.
type LintOptions struct {
	Mode          string
	FailOnWarning bool
	Columns       []string
}

func newRulesLintCommand() *cobra.Command {
	opts := &LintOptions{}
	cmd := &cobra.Command{
		Use:   "lint <rules-file>",
		Short: "Validate a rules file against the rule schema",
		Long: `Parse a rules file (JSON with comments and trailing commas) and check
every rule against its contract without touching any data. Exits
non-zero when the file has ERROR-severity issues.`,
		Example: `  # Lint a rules file
  leapcheck rules lint rules.json

  # Warn about columns missing from a known dataset layout
  leapcheck rules lint rules.json --columns portfolio,inventory,value

  # Treat warnings as errors
  leapcheck rules lint rules.json --fail-on-warning`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesLint(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "Normalization mode: collect, fail_fast or raise")
	cmd.Flags().BoolVar(&opts.FailOnWarning, "fail-on-warning", false, "Promote warnings to errors")
	cmd.Flags().StringSliceVar(&opts.Columns, "columns", nil, "Dataset column hint for advisory checks")

	return cmd
}

func runRulesLint(cmd *cobra.Command, path string, opts *LintOptions) error {
	cc, err := NewConfigOnlyContext(cmd)
	if err != nil {
		return err
	}

	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}
	raw, err := rules.Load(string(text))
	if err != nil {
		return err
	}

	modeStr := opts.Mode
	if modeStr == "" {
		modeStr = cc.Cfg.Normalize.Mode
	}
	mode, ok := rules.ParseMode(modeStr)
	if !ok {
		return fmt.Errorf("invalid mode %q", modeStr)
	}

	valid, ruleset, issues, err := rules.NewNormalizer().Validate(raw, rules.Options{
		Mode:           mode,
		FailOnWarning:  opts.FailOnWarning || cc.Cfg.Normalize.FailOnWarning,
		DatasetColumns: opts.Columns,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(issues) == 0 {
		_, _ = fmt.Fprintf(out, "OK: %d rule(s), no issues\n", len(ruleset))
		return nil
	}

	renderIssues(out, cc.Cfg.Output, issues)
	if !valid {
		return fmt.Errorf("rules file %s failed schema validation", path)
	}
	return nil
}

func renderIssues(w io.Writer, format string, issues []rules.Issue) {
	cols := []string{"severity", "rule", "type", "path", "message"}
	rows := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		rows = append(rows, map[string]any{
			"severity": issue.Severity.String(),
			"rule":     issue.RuleName,
			"type":     issue.RuleKind,
			"path":     issue.Path,
			"message":  issue.Message,
		})
	}
	_ = renderRows(w, format, cols, rows)
}
