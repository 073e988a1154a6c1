package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcheck/internal/adapter"
	"github.com/leapstack-labs/leapcheck/internal/config"
	"github.com/leapstack-labs/leapcheck/internal/relation"
	"github.com/leapstack-labs/leapcheck/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg     *config.Config
	Logger  *slog.Logger
	Session *relation.Session
	Store   *state.Store
}

// NewCommandContext loads configuration, opens the relation session and the
// run-history store. The returned cleanup function must be called, typically
// via defer.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(cmd, cfg.Verbose)

	db, err := adapter.New(adapter.Config{Type: cfg.Engine, Path: cfg.Database})
	if err != nil {
		return nil, nil, err
	}
	if err := db.Connect(cmd.Context(), adapter.Config{Type: cfg.Engine, Path: cfg.Database}); err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	cc := &CommandContext{
		Cfg:     cfg,
		Logger:  logger,
		Session: relation.NewSession(db, logger),
	}

	cleanup := func() {
		if cc.Store != nil {
			_ = cc.Store.Close()
		}
		_ = db.Close()
	}

	if !cfg.NoState {
		store, err := openStore(cfg.StatePath, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cc.Store = store
	}

	return cc, cleanup, nil
}

// NewConfigOnlyContext loads configuration without opening any database.
func NewConfigOnlyContext(cmd *cobra.Command) (*CommandContext, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	return &CommandContext{Cfg: cfg, Logger: newLogger(cmd, cfg.Verbose)}, nil
}

func newLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func openStore(path string, logger *slog.Logger) (*state.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store := state.NewStore(logger)
	if err := store.Open(path); err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// loadDataset loads a CSV, JSON or Parquet file into a relation named after
// the file's base name.
func loadDataset(ctx context.Context, sess *relation.Session, path string) (*relation.Relation, error) {
	name := datasetName(path)

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		err = sess.DB().LoadCSV(ctx, name, path)
	case ".json", ".jsonl", ".ndjson":
		err = sess.DB().LoadJSON(ctx, name, path)
	case ".parquet":
		err = sess.DB().LoadParquet(ctx, name, path)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q (expected .csv, .json or .parquet)", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	return sess.FromTable(ctx, name)
}

func datasetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
