// Package cli provides the command-line interface for leapcheck.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcheck/internal/cli/commands"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leapcheck",
		Short: "leapcheck - Tabular Data Validation Engine",
		Long: `leapcheck validates tabular datasets against declarative JSON rules.

It flattens nested structures into dotted columns, explodes arrays into
rows, and evaluates rules (headers, non_empty, range, enum, length, regex,
unique, decimal) over DuckDB, splitting the input into valid rows and a
diagnostics relation.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Built with Go and DuckDB
`)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./leapcheck.yaml)")
	rootCmd.PersistentFlags().String("engine", "", "Database adapter type (default: duckdb)")
	rootCmd.PersistentFlags().String("database", "", "Path to the backing database (empty for in-memory)")
	rootCmd.PersistentFlags().String("state", "", "Path to run-history database")
	rootCmd.PersistentFlags().Bool("no-state", false, "Disable run-history recording")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (table|json|csv)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json", "csv"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewRulesCommand())
	rootCmd.AddCommand(commands.NewFlattenCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())

	return rootCmd
}
