package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcheck/internal/config"
	"github.com/leapstack-labs/leapcheck/internal/state"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent validation runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRuns(cmd, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Max runs to list")
	return cmd
}

func runRuns(cmd *cobra.Command, limit int) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.NoState {
		return fmt.Errorf("run history is disabled (no_state is set)")
	}

	store := state.NewStore(nil)
	if err := store.Open(cfg.StatePath); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.InitSchema(); err != nil {
		return err
	}

	runs, err := store.ListRuns(limit)
	if err != nil {
		return err
	}

	cols := []string{"id", "dataset", "status", "rules", "rows", "violations", "started", "duration"}
	rows := make([]map[string]any, 0, len(runs))
	for _, r := range runs {
		duration := ""
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		rows = append(rows, map[string]any{
			"id":         r.ID,
			"dataset":    r.Dataset,
			"status":     string(r.Status),
			"rules":      r.RuleCount,
			"rows":       r.RowCount,
			"violations": r.ViolationCount,
			"started":    r.StartedAt.Format(time.RFC3339),
			"duration":   duration,
		})
	}
	return renderRows(cmd.OutOrStdout(), cfg.Output, cols, rows)
}
