package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcheck/internal/flatten"
)

// FlattenOptions holds options for the flatten command.
type FlattenOptions struct {
	Paths     []string
	NoExplode bool
	Limit     int
	Out       string
}

// NewFlattenCommand creates the flatten command.
func NewFlattenCommand() *cobra.Command {
	opts := &FlattenOptions{}
	cmd := &cobra.Command{
		Use:   "flatten <dataset>",
		Short: "Flatten a nested dataset into dotted columns and exploded rows",
		Long: `Load a nested CSV, JSON or Parquet dataset and flatten struct columns
into dotted-path columns. Array columns are exploded into repeated rows
(empty and null arrays keep one row with nulls) unless --no-explode is set.`,
		Example: `  # Flatten and print
  leapcheck flatten orders.json

  # Only materialize specific paths
  leapcheck flatten orders.json --path items.sku --path items.qty

  # Flatten to a file
  leapcheck flatten orders.json --out flat.parquet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlatten(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Paths, "path", nil, "Restrict output to these dotted paths (repeatable)")
	cmd.Flags().BoolVar(&opts.NoExplode, "no-explode", false, "Flatten structs only; keep array columns")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Max rows to print")
	cmd.Flags().StringVar(&opts.Out, "out", "", "Write the result to a CSV or Parquet file")
	cmd.Flags().String("separator", "", "Flattened column path separator")

	return cmd
}

func runFlatten(cmd *cobra.Command, datasetPath string, opts *FlattenOptions) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	rel, err := loadDataset(ctx, cc.Session, datasetPath)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	fopts := flatten.Options{
		Separator: cc.Cfg.Validation.Separator,
		MaxDepth:  cc.Cfg.Validation.MaxDepth,
	}

	switch {
	case len(opts.Paths) > 0:
		flat, warnings, err := flatten.FlattenPaths(ctx, rel, opts.Paths, fopts)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			cc.Logger.Warn(w)
		}
		rel = flat
	case opts.NoExplode:
		if rel, err = flatten.Flatten(ctx, rel, fopts); err != nil {
			return err
		}
	default:
		flat, exploded, err := flatten.Explode(ctx, rel, fopts)
		if err != nil {
			return err
		}
		if len(exploded) > 0 {
			cc.Logger.Debug("exploded array columns", "columns", exploded)
		}
		rel = flat
	}

	if opts.Out != "" {
		return copyOut(cmd, cc.Session, rel, opts.Out)
	}

	rows, err := rel.Rows(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return renderRows(cmd.OutOrStdout(), cc.Cfg.Output, rel.Schema().Names(), rows)
}
