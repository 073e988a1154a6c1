package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcheck/internal/flatten"
	"github.com/leapstack-labs/leapcheck/internal/relation"
	"github.com/leapstack-labs/leapcheck/internal/state"
	"github.com/leapstack-labs/leapcheck/internal/validate"
	"github.com/leapstack-labs/leapcheck/pkg/rules"
)

// ValidateOptions holds options for the validate command.
type ValidateOptions struct {
	RulesFile      string
	Strict         bool
	Limit          int
	ValidOut       string
	DiagnosticsOut string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	opts := &ValidateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <dataset>",
		Short: "Validate a dataset against a rules file",
		Long: `Load a CSV, JSON or Parquet dataset, flatten nested columns if present,
and evaluate the rules file against it. Prints a summary and the
diagnostics, and splits the dataset into valid rows and violations.`,
		Example: `  # Validate a CSV against rules
  leapcheck validate positions.csv --rules rules.json --id-cols portfolio,inventory

  # Stop at the first violation
  leapcheck validate positions.csv --rules rules.json --fail-fast

  # Write the split relations out
  leapcheck validate orders.json --rules rules.json --valid-out valid.parquet --diagnostics-out diags.csv

  # Exit non-zero when anything fails
  leapcheck validate positions.csv --rules rules.json --strict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.RulesFile, "rules", "", "Rules file (JSON with comments)")
	cmd.Flags().StringSlice("id-cols", nil, "Identity columns for row exclusion")
	cmd.Flags().Bool("fail-fast", false, "Stop at the first failing rule")
	cmd.Flags().String("fail-mode", "", "Fail-fast behavior: return or raise")
	cmd.Flags().Int("row-cap", 0, "Max diagnostic rows per rule")
	cmd.Flags().String("separator", "", "Flattened column path separator")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "Exit non-zero when the dataset is invalid")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Max diagnostic rows to print")
	cmd.Flags().StringVar(&opts.ValidOut, "valid-out", "", "Write valid rows to a CSV or Parquet file")
	cmd.Flags().StringVar(&opts.DiagnosticsOut, "diagnostics-out", "", "Write diagnostics to a CSV or Parquet file")

	return cmd
}

func runValidate(cmd *cobra.Command, datasetPath string, opts *ValidateOptions) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rel, err := loadDataset(ctx, cc.Session, datasetPath)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	ruleset, err := loadRuleSet(cmd, cc, opts.RulesFile)
	if err != nil {
		return err
	}

	var run *state.Run
	if cc.Store != nil {
		run, err = cc.Store.CreateRun(datasetName(datasetPath), len(ruleset))
		if err != nil {
			return err
		}
	}

	failMode := validate.ModeReturn
	if cc.Cfg.Validation.FailMode == "raise" {
		failMode = validate.ModeRaise
	}
	vopts := []validate.Option{
		validate.WithIDColumns(cc.Cfg.Validation.IDColumns...),
		validate.WithRowCap(cc.Cfg.Validation.RowCap),
		validate.WithLogger(cc.Logger),
		validate.WithFlattenOptions(flatten.Options{
			Separator: cc.Cfg.Validation.Separator,
			MaxDepth:  cc.Cfg.Validation.MaxDepth,
		}),
	}
	if cc.Cfg.Validation.FailFast {
		vopts = append(vopts, validate.WithFailFast(failMode))
	}

	res, err := validate.New(vopts...).Apply(ctx, rel, ruleset)
	if err != nil {
		completeRun(cc, run, state.Outcome{Status: state.RunStatusFailed, Error: err.Error()})
		var ffe *validate.FailFastError
		if errors.As(err, &ffe) {
			renderFailFast(out, ffe)
		}
		return err
	}

	rowCount, err := res.Valid.Count(ctx)
	if err != nil {
		return err
	}
	violationCount, err := res.Diagnostics.Count(ctx)
	if err != nil {
		return err
	}

	status := state.RunStatusSuccess
	if !res.IsValid {
		status = state.RunStatusFailed
	}
	completeRun(cc, run, state.Outcome{
		Status:         status,
		RowCount:       rowCount,
		ViolationCount: violationCount,
		IsValid:        res.IsValid,
	})

	if err := renderResult(cmd, cc, res, rowCount, violationCount, opts.Limit); err != nil {
		return err
	}

	if opts.ValidOut != "" {
		if err := copyOut(cmd, cc.Session, res.Valid, opts.ValidOut); err != nil {
			return err
		}
	}
	if opts.DiagnosticsOut != "" {
		if err := copyOut(cmd, cc.Session, res.Diagnostics, opts.DiagnosticsOut); err != nil {
			return err
		}
	}

	if opts.Strict && !res.IsValid {
		return fmt.Errorf("dataset failed validation: %d violation(s)", violationCount)
	}
	return nil
}

// loadRuleSet reads, parses and normalizes the rules file. Normalization
// issues of ERROR severity abort the run before any data is scanned.
func loadRuleSet(cmd *cobra.Command, cc *CommandContext, flagPath string) (rules.RuleSet, error) {
	path := flagPath
	if path == "" {
		path = cc.Cfg.RulesFile
	}
	if path == "" {
		return nil, fmt.Errorf("no rules file given (use --rules or set rules_file in leapcheck.yaml)")
	}

	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	raw, err := rules.Load(string(text))
	if err != nil {
		return nil, err
	}

	mode, _ := rules.ParseMode(cc.Cfg.Normalize.Mode)
	valid, ruleset, issues, err := rules.NewNormalizer().Validate(raw, rules.Options{
		Mode:          mode,
		FailOnWarning: cc.Cfg.Normalize.FailOnWarning,
	})
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		cc.Logger.Warn("rule schema issue",
			"severity", issue.Severity.String(), "rule", issue.RuleName,
			"path", issue.Path, "message", issue.Message)
	}
	if !valid {
		renderIssues(cmd.OutOrStdout(), cc.Cfg.Output, issues)
		return nil, fmt.Errorf("rules file %s failed schema validation", path)
	}
	return ruleset, nil
}

func renderResult(cmd *cobra.Command, cc *CommandContext, res validate.Result, rowCount, violationCount int64, limit int) error {
	out := cmd.OutOrStdout()

	verdict := "VALID"
	if !res.IsValid {
		verdict = "INVALID"
	}
	_, _ = fmt.Fprintf(out, "%s: %d valid row(s), %d violation(s)\n", verdict, rowCount, violationCount)

	if violationCount == 0 {
		return nil
	}

	rows, err := res.Diagnostics.Rows(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return renderRows(out, cc.Cfg.Output, res.Diagnostics.Schema().Names(), rows)
}

func renderFailFast(w io.Writer, ffe *validate.FailFastError) {
	_, _ = fmt.Fprintf(w, "validation aborted by rule %s (%s); sample violations:\n", ffe.RuleName, ffe.RuleKind)
	if len(ffe.Sample) > 0 {
		cols := make([]string, 0, len(ffe.Sample[0]))
		for c := range ffe.Sample[0] {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		_ = renderTable(w, cols, ffe.Sample)
	}
}

func completeRun(cc *CommandContext, run *state.Run, out state.Outcome) {
	if cc.Store == nil || run == nil {
		return
	}
	if err := cc.Store.CompleteRun(run.ID, out); err != nil {
		cc.Logger.Warn("failed to record run", "id", run.ID, "error", err)
	}
}

// copyOut writes a relation to disk, with the format inferred from the
// file extension.
func copyOut(cmd *cobra.Command, sess *relation.Session, rel *relation.Relation, path string) error {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		format = "csv"
	case ".parquet":
		format = "parquet"
	default:
		return fmt.Errorf("unsupported output format %q (expected .csv or .parquet)", filepath.Ext(path))
	}

	if err := sess.DB().CopyTo(cmd.Context(), rel.Name(), path, format); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
