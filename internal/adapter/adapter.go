// Package adapter provides database adapter interfaces and implementations
// for leapcheck's relation engine.
package adapter

import (
	"context"
	"database/sql"
)

// Config holds the configuration for connecting to a database.
type Config struct {
	// Type specifies the database type (e.g., "duckdb")
	Type string

	// Path is the file path for file-based databases.
	// Use ":memory:" for in-memory databases
	Path string

	// Schema is the default schema to use
	Schema string

	// Options contains additional driver-specific options
	Options map[string]string
}

// Column represents a column in a database table or view.
type Column struct {
	// Name is the column name
	Name string

	// Type is the data type of the column as reported by the engine.
	// Nested types keep their full descriptor, e.g. "STRUCT(x INTEGER)[]".
	Type string

	// Nullable indicates whether the column allows NULL values
	Nullable bool

	// Position is the ordinal position of the column
	Position int
}

// Metadata holds metadata about a database table or view.
type Metadata struct {
	// Schema is the schema containing the table
	Schema string

	// Name is the table name
	Name string

	// Columns contains metadata for each column
	Columns []Column

	// RowCount is the approximate number of rows (may not be exact)
	RowCount int64
}

// Rows wraps sql.Rows to provide a consistent interface across adapters.
type Rows struct {
	*sql.Rows
}

// Adapter defines the interface that all database adapters must implement.
// It provides methods for connecting, executing SQL, loading datasets, and
// retrieving metadata.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// QueryRow executes a SQL statement expected to return a single row.
	QueryRow(ctx context.Context, sql string) *sql.Row

	// TableMetadata retrieves metadata for a specified table or view.
	TableMetadata(ctx context.Context, table string) (*Metadata, error)

	// LoadCSV loads data from a CSV file into a table with inferred schema.
	LoadCSV(ctx context.Context, tableName string, filePath string) error

	// LoadJSON loads data from a JSON or NDJSON file into a table.
	// Nested objects and arrays are preserved as STRUCT/LIST columns.
	LoadJSON(ctx context.Context, tableName string, filePath string) error

	// LoadParquet loads data from a Parquet file into a table.
	LoadParquet(ctx context.Context, tableName string, filePath string) error

	// CopyTo writes a table or view out to a CSV or Parquet file.
	CopyTo(ctx context.Context, tableName string, filePath string, format string) error

	// DialectName returns the SQL dialect name for this adapter (e.g., "duckdb").
	DialectName() string
}
