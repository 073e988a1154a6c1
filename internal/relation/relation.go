// Package relation provides an immutable relation handle over a database
// adapter. Every operation derives a new temporary view, so relations compose
// lazily the way the underlying engine's query planner expects; only Cache,
// Count and Rows force execution.
package relation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/leapstack-labs/leapcheck/internal/adapter"
)

// Session owns the adapter connection and generates unique names for
// derived views. All relations derived from one session share its
// connection and temp namespace.
type Session struct {
	db     adapter.Adapter
	logger *slog.Logger
	seq    atomic.Int64
}

// NewSession creates a session over an open adapter connection.
func NewSession(db adapter.Adapter, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{db: db, logger: logger}
}

// DB returns the underlying adapter.
func (s *Session) DB() adapter.Adapter { return s.db }

// Relation is an immutable handle on a named table or view plus its schema.
type Relation struct {
	session *Session
	name    string
	schema  Schema
}

// Schema is an ordered list of named, typed columns.
type Schema []SchemaColumn

// SchemaColumn is one column of a relation schema.
type SchemaColumn struct {
	Name string
	Type Type
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (s Schema) Column(name string) (SchemaColumn, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return SchemaColumn{}, false
}

// Has reports whether a column with the given name exists.
func (s Schema) Has(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// FromTable wraps an existing table or view in a relation handle.
func (s *Session) FromTable(ctx context.Context, name string) (*Relation, error) {
	schema, err := s.introspect(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Relation{session: s, name: name, schema: schema}, nil
}

// FromQuery derives a relation from an arbitrary SELECT statement.
func (s *Session) FromQuery(ctx context.Context, query string) (*Relation, error) {
	return s.derive(ctx, query)
}

// derive creates a temporary view over the query and introspects its schema.
func (s *Session) derive(ctx context.Context, query string) (*Relation, error) {
	name := fmt.Sprintf("lc_rel_%d", s.seq.Add(1))

	stmt := fmt.Sprintf("CREATE OR REPLACE TEMPORARY VIEW %s AS %s", adapter.QuoteIdent(name), query)
	if err := s.db.Exec(ctx, stmt); err != nil {
		return nil, fmt.Errorf("failed to derive relation: %w", err)
	}
	s.logger.Debug("derived relation", "view", name)

	schema, err := s.introspect(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Relation{session: s, name: name, schema: schema}, nil
}

func (s *Session) introspect(ctx context.Context, name string) (Schema, error) {
	meta, err := s.db.TableMetadata(ctx, name)
	if err != nil {
		return nil, err
	}

	schema := make(Schema, 0, len(meta.Columns))
	for _, col := range meta.Columns {
		t, err := ParseType(col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		schema = append(schema, SchemaColumn{Name: col.Name, Type: t})
	}
	return schema, nil
}

// Name returns the relation's table or view name.
func (r *Relation) Name() string { return r.name }

// Schema returns the relation's schema.
func (r *Relation) Schema() Schema { return r.schema }

// Session returns the owning session.
func (r *Relation) Session() *Session { return r.session }

// Ident returns the relation name quoted for SQL interpolation.
func (r *Relation) Ident() string { return adapter.QuoteIdent(r.name) }

// Filter derives a relation restricted to rows satisfying the predicate.
func (r *Relation) Filter(ctx context.Context, predicate string) (*Relation, error) {
	return r.session.derive(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s", r.Ident(), predicate))
}

// Project derives a relation with the given select-list expressions.
// Each expression is emitted verbatim; use Columns for plain column picks.
func (r *Relation) Project(ctx context.Context, exprs []string) (*Relation, error) {
	if len(exprs) == 0 {
		return nil, fmt.Errorf("projection requires at least one expression")
	}
	return r.session.derive(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), r.Ident()))
}

// Columns derives a relation containing only the named columns.
func (r *Relation) Columns(ctx context.Context, names []string) (*Relation, error) {
	exprs := make([]string, len(names))
	for i, n := range names {
		exprs[i] = adapter.QuoteIdent(n)
	}
	return r.Project(ctx, exprs)
}

// Distinct derives the distinct rows over the named columns
// (all columns when names is empty).
func (r *Relation) Distinct(ctx context.Context, names ...string) (*Relation, error) {
	sel := "*"
	if len(names) > 0 {
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = adapter.QuoteIdent(n)
		}
		sel = strings.Join(quoted, ", ")
	}
	return r.session.derive(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s", sel, r.Ident()))
}

// GroupBy derives an aggregation keyed by the given columns. Aggregate
// expressions are emitted verbatim after the keys.
func (r *Relation) GroupBy(ctx context.Context, keys []string, aggs []string) (*Relation, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("group by requires at least one key column")
	}
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = adapter.QuoteIdent(k)
	}
	sel := append(append([]string{}, quoted...), aggs...)
	return r.session.derive(ctx, fmt.Sprintf(
		"SELECT %s FROM %s GROUP BY %s",
		strings.Join(sel, ", "), r.Ident(), strings.Join(quoted, ", "),
	))
}

// SemiJoin derives the rows of r whose key tuple appears in other.
func (r *Relation) SemiJoin(ctx context.Context, other *Relation, on []string) (*Relation, error) {
	return r.join(ctx, other, on, "SEMI")
}

// AntiJoin derives the rows of r whose key tuple does not appear in other.
func (r *Relation) AntiJoin(ctx context.Context, other *Relation, on []string) (*Relation, error) {
	return r.join(ctx, other, on, "ANTI")
}

func (r *Relation) join(ctx context.Context, other *Relation, on []string, kind string) (*Relation, error) {
	if len(on) == 0 {
		return nil, fmt.Errorf("join requires at least one key column")
	}
	conds := make([]string, len(on))
	for i, c := range on {
		// IS NOT DISTINCT FROM treats NULL keys as equal, matching the
		// grouping semantics used to find duplicates.
		conds[i] = fmt.Sprintf("l.%s IS NOT DISTINCT FROM r.%s", adapter.QuoteIdent(c), adapter.QuoteIdent(c))
	}
	return r.session.derive(ctx, fmt.Sprintf(
		"SELECT l.* FROM %s l %s JOIN %s r ON %s",
		r.Ident(), kind, other.Ident(), strings.Join(conds, " AND "),
	))
}

// UnionByName derives the schema-aligning union of two relations: the output
// carries the union of both column sets, with absent columns null.
// All columns are cast to VARCHAR, as union-by-name is only used to combine
// diagnostic partials.
func (r *Relation) UnionByName(ctx context.Context, other *Relation) (*Relation, error) {
	combined := append([]string{}, r.schema.Names()...)
	for _, n := range other.schema.Names() {
		if !r.schema.Has(n) {
			combined = append(combined, n)
		}
	}

	side := func(rel *Relation) string {
		exprs := make([]string, len(combined))
		for i, n := range combined {
			if rel.schema.Has(n) {
				exprs[i] = fmt.Sprintf("%s::VARCHAR AS %s", adapter.QuoteIdent(n), adapter.QuoteIdent(n))
			} else {
				exprs[i] = fmt.Sprintf("NULL::VARCHAR AS %s", adapter.QuoteIdent(n))
			}
		}
		return fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), rel.Ident())
	}

	return r.session.derive(ctx, side(r)+" UNION ALL "+side(other))
}

// Limit derives a relation capped at n rows.
func (r *Relation) Limit(ctx context.Context, n int) (*Relation, error) {
	return r.session.derive(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", r.Ident(), n))
}

// Cache materializes the relation into a temporary table. Purely a
// throughput hint; correctness never depends on it.
func (r *Relation) Cache(ctx context.Context) (*Relation, error) {
	name := fmt.Sprintf("lc_cache_%d", r.session.seq.Add(1))
	stmt := fmt.Sprintf("CREATE TEMPORARY TABLE %s AS SELECT * FROM %s", adapter.QuoteIdent(name), r.Ident())
	if err := r.session.db.Exec(ctx, stmt); err != nil {
		return nil, fmt.Errorf("failed to cache relation: %w", err)
	}
	r.session.logger.Debug("cached relation", "table", name)
	return &Relation{session: r.session, name: name, schema: r.schema}, nil
}

// Count returns the number of rows.
func (r *Relation) Count(ctx context.Context) (int64, error) {
	var n int64
	row := r.session.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", r.Ident()))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// IsEmpty reports whether the relation has no rows, without a full count.
func (r *Relation) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	row := r.session.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (SELECT 1 FROM %s LIMIT 1)", r.Ident()))
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("failed to probe rows: %w", err)
	}
	return n == 0, nil
}

// Rows fetches up to limit rows as generic maps (limit <= 0 fetches all).
// Intended for rendering and tests, not bulk movement.
func (r *Relation) Rows(ctx context.Context, limit int) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s", r.Ident())
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.session.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			m[c] = v
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
