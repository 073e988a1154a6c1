package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

func init() {
	Register("duckdb", func() Adapter { return NewDuckDBAdapter() })
}

// DuckDBAdapter implements the Adapter interface for DuckDB.
type DuckDBAdapter struct {
	db     *sql.DB
	config Config
}

// NewDuckDBAdapter creates a new DuckDB adapter instance.
func NewDuckDBAdapter() *DuckDBAdapter {
	return &DuckDBAdapter{}
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" as the path for an in-memory database.
func (a *DuckDBAdapter) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	// Derived views reference session-local temp objects, so everything must
	// run on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.db = db
	a.config = cfg

	return nil
}

// Close closes the DuckDB connection.
func (a *DuckDBAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (a *DuckDBAdapter) Exec(ctx context.Context, sqlStr string) error {
	if a.db == nil {
		return fmt.Errorf("database connection not established")
	}

	if _, err := a.db.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}

	return nil
}

// Query executes a SQL statement that returns rows.
func (a *DuckDBAdapter) Query(ctx context.Context, sqlStr string) (*Rows, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := a.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	return &Rows{Rows: rows}, nil
}

// QueryRow executes a SQL statement expected to return a single row.
func (a *DuckDBAdapter) QueryRow(ctx context.Context, sqlStr string) *sql.Row {
	return a.db.QueryRowContext(ctx, sqlStr)
}

// TableMetadata retrieves metadata for a specified table or view.
// Nested column types are reported with their full DuckDB descriptor,
// e.g. "STRUCT(x INTEGER)[]" for a list of structs.
func (a *DuckDBAdapter) TableMetadata(ctx context.Context, table string) (*Metadata, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	// A dotted name is tried verbatim first: datasets named like "data.v2"
	// produce tables whose name contains the dot. Only when that finds
	// nothing is the name treated as schema-qualified.
	schema := "main"
	tableName := table
	columns, err := a.columnMetadata(ctx, schema, tableName)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		if qs, qt, ok := strings.Cut(table, "."); ok {
			columns, err = a.columnMetadata(ctx, qs, qt)
			if err != nil {
				return nil, err
			}
			if len(columns) > 0 {
				schema, tableName = qs, qt
			}
		}
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	// Unqualified for the default schema so temporary views (catalog "temp",
	// schema "main") resolve the same way as regular tables.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteIdent(tableName))
	if schema != "main" {
		countQuery = fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", QuoteIdent(schema), QuoteIdent(tableName))
	}
	var rowCount int64
	if err := a.db.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
		// Non-fatal, just set to 0
		rowCount = 0
	}

	return &Metadata{
		Schema:   schema,
		Name:     tableName,
		Columns:  columns,
		RowCount: rowCount,
	}, nil
}

func (a *DuckDBAdapter) columnMetadata(ctx context.Context, schema, tableName string) ([]Column, error) {
	query := `
		SELECT
			column_name,
			data_type,
			is_nullable,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
	`

	rows, err := a.db.QueryContext(ctx, query, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	return columns, nil
}

// LoadCSV loads data from a CSV file into a table.
// DuckDB infers the schema from the file.
func (a *DuckDBAdapter) LoadCSV(ctx context.Context, tableName string, filePath string) error {
	return a.loadFile(ctx, tableName, filePath, "read_csv_auto('%s', header=true)")
}

// LoadJSON loads data from a JSON or NDJSON file into a table.
// Nested objects become STRUCT columns and arrays become LIST columns.
func (a *DuckDBAdapter) LoadJSON(ctx context.Context, tableName string, filePath string) error {
	return a.loadFile(ctx, tableName, filePath, "read_json_auto('%s')")
}

// LoadParquet loads data from a Parquet file into a table.
func (a *DuckDBAdapter) LoadParquet(ctx context.Context, tableName string, filePath string) error {
	return a.loadFile(ctx, tableName, filePath, "read_parquet('%s')")
}

func (a *DuckDBAdapter) loadFile(ctx context.Context, tableName, filePath, readerFmt string) error {
	if a.db == nil {
		return fmt.Errorf("database connection not established")
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	reader := fmt.Sprintf(readerFmt, escapeString(absPath))
	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s", QuoteIdent(tableName), reader)

	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to load %s: %w", filePath, err)
	}

	return nil
}

// CopyTo writes a table or view out to a CSV or Parquet file.
func (a *DuckDBAdapter) CopyTo(ctx context.Context, tableName string, filePath string, format string) error {
	if a.db == nil {
		return fmt.Errorf("database connection not established")
	}

	var options string
	switch strings.ToLower(format) {
	case "csv":
		options = "(HEADER, DELIMITER ',')"
	case "parquet":
		options = "(FORMAT PARQUET)"
	default:
		return fmt.Errorf("unsupported output format %q (want csv or parquet)", format)
	}

	query := fmt.Sprintf("COPY %s TO '%s' %s", QuoteIdent(tableName), escapeString(filePath), options)
	if err := a.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", tableName, filePath, err)
	}

	return nil
}

// DialectName returns the SQL dialect name for this adapter.
func (a *DuckDBAdapter) DialectName() string {
	return "duckdb"
}

// QuoteIdent quotes an identifier for safe interpolation into SQL.
// Flattened column names may embed the path separator (e.g. "items.x"),
// so identifiers are always double-quoted and never re-split.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Ensure DuckDBAdapter implements Adapter interface
var _ Adapter = (*DuckDBAdapter)(nil)
