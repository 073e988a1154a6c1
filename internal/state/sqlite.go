package state

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store records validation runs in SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewStore creates an unopened store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{logger: logger}
}

// Open opens the SQLite database at path. Use ":memory:" for an in-memory
// database.
func (s *Store) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping state database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InitSchema creates the runs table if it does not exist.
func (s *Store) InitSchema() error {
	if s.db == nil {
		return fmt.Errorf("state database not opened")
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize state schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new run in running status and returns it.
func (s *Store) CreateRun(dataset string, ruleCount int) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state database not opened")
	}

	run := &Run{
		ID:        uuid.New().String(),
		Dataset:   dataset,
		Status:    RunStatusRunning,
		RuleCount: ruleCount,
		StartedAt: time.Now().UTC(),
	}
	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("dataset", dataset))

	_, err := s.db.Exec(
		`INSERT INTO runs (id, dataset, status, rule_count, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Dataset, string(run.Status), run.RuleCount, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun finalizes a run with its outcome.
func (s *Store) CompleteRun(id string, out Outcome) error {
	if s.db == nil {
		return fmt.Errorf("state database not opened")
	}

	now := time.Now().UTC()
	var errText *string
	if out.Error != "" {
		errText = &out.Error
	}

	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, row_count = ?, violation_count = ?, is_valid = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(out.Status), out.RowCount, out.ViolationCount, boolInt(out.IsValid), now, errText, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state database not opened")
	}

	row := s.db.QueryRow(selectRuns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetLatestRun retrieves the most recent run for a dataset, or nil when the
// dataset has never been validated.
func (s *Store) GetLatestRun(dataset string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state database not opened")
	}

	row := s.db.QueryRow(selectRuns+` WHERE dataset = ? ORDER BY started_at DESC LIMIT 1`, dataset)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs up to the given limit.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("state database not opened")
	}

	rows, err := s.db.Query(selectRuns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const selectRuns = `SELECT id, dataset, status, rule_count, row_count, violation_count, is_valid, started_at, completed_at, error FROM runs`

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var (
		run       Run
		status    string
		isValid   int
		completed sql.NullTime
		errText   sql.NullString
	)
	err := row.Scan(&run.ID, &run.Dataset, &status, &run.RuleCount, &run.RowCount,
		&run.ViolationCount, &isValid, &run.StartedAt, &completed, &errText)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.IsValid = isValid != 0
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	run.Error = errText.String
	return &run, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
