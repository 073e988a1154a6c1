// Package flatten normalizes nested relations into flat ones: struct columns
// become dotted-path columns and list columns become repeated rows (outer
// unnest semantics). Both transforms iterate to a fixed point under a hard
// iteration bound.
package flatten

import (
	"context"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapcheck/internal/adapter"
	"github.com/leapstack-labs/leapcheck/internal/relation"
)

// DefaultSeparator joins struct path segments in flattened column names.
const DefaultSeparator = "."

// DefaultMaxDepth bounds the flatten/explode fixed-point loops. Exceeding it
// means the schema is pathological (or generated), not merely deep.
const DefaultMaxDepth = 100

// Options control flattening behavior.
type Options struct {
	// Separator joins path segments (default ".").
	Separator string

	// MaxDepth bounds the fixed-point iteration (default 100).
	MaxDepth int
}

func (o Options) withDefaults() Options {
	if o.Separator == "" {
		o.Separator = DefaultSeparator
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	return o
}

// StructuralLimitError is returned when the flatten or explode loop exceeds
// its iteration bound.
type StructuralLimitError struct {
	Op       string
	MaxDepth int
}

func (e *StructuralLimitError) Error() string {
	return fmt.Sprintf("%s exceeded structural limit of %d iterations; schema is pathologically nested", e.Op, e.MaxDepth)
}

// Flatten replaces every struct column with one column per field, named
// "<col><sep><field>", repeating until no struct columns remain. Flattening
// an already-flat relation returns the same handle unchanged.
func Flatten(ctx context.Context, rel *relation.Relation, opts Options) (*relation.Relation, error) {
	opts = opts.withDefaults()

	for i := 0; i < opts.MaxDepth; i++ {
		exprs, expanded := flattenExprs(rel.Schema(), opts.Separator)
		if !expanded {
			return rel, nil
		}

		next, err := rel.Project(ctx, exprs)
		if err != nil {
			return nil, fmt.Errorf("flatten pass failed: %w", err)
		}
		rel = next
	}

	return nil, &StructuralLimitError{Op: "flatten", MaxDepth: opts.MaxDepth}
}

// flattenExprs builds one level of struct expansion. The second return is
// false when the schema holds no struct columns.
func flattenExprs(schema relation.Schema, sep string) ([]string, bool) {
	exprs := make([]string, 0, len(schema))
	expanded := false

	for _, col := range schema {
		if !col.Type.IsStruct() {
			exprs = append(exprs, adapter.QuoteIdent(col.Name))
			continue
		}
		expanded = true
		for _, f := range col.Type.Fields {
			exprs = append(exprs, fmt.Sprintf(
				"struct_extract(%s, %s) AS %s",
				adapter.QuoteIdent(col.Name),
				quoteString(f.Name),
				adapter.QuoteIdent(col.Name+sep+f.Name),
			))
		}
	}
	return exprs, expanded
}

// Explode turns each list column into repeated rows, one per element, with
// outer semantics: a null or empty list keeps its row and yields a null
// element. After each explosion the relation is re-flattened, since list
// elements are often structs. Returns the exploded column names in
// processing order.
func Explode(ctx context.Context, rel *relation.Relation, opts Options) (*relation.Relation, []string, error) {
	opts = opts.withDefaults()

	rel, err := Flatten(ctx, rel, opts)
	if err != nil {
		return nil, nil, err
	}

	var exploded []string
	for i := 0; i < opts.MaxDepth; i++ {
		target, ok := firstListColumn(rel.Schema())
		if !ok {
			return rel, exploded, nil
		}

		rel, err = explodeColumn(ctx, rel, target, opts)
		if err != nil {
			return nil, nil, err
		}
		exploded = append(exploded, target.Name)
	}

	return nil, nil, &StructuralLimitError{Op: "explode", MaxDepth: opts.MaxDepth}
}

func firstListColumn(schema relation.Schema) (relation.SchemaColumn, bool) {
	for _, col := range schema {
		if col.Type.IsList() {
			return col, true
		}
	}
	return relation.SchemaColumn{}, false
}

// explodeColumn unnests one list column and re-flattens the result.
func explodeColumn(ctx context.Context, rel *relation.Relation, col relation.SchemaColumn, opts Options) (*relation.Relation, error) {
	exprs := make([]string, 0, len(rel.Schema()))
	for _, c := range rel.Schema() {
		if c.Name != col.Name {
			exprs = append(exprs, adapter.QuoteIdent(c.Name))
			continue
		}
		// Outer semantics: null/empty lists contribute one row with a null
		// element instead of being dropped.
		q := adapter.QuoteIdent(c.Name)
		exprs = append(exprs, fmt.Sprintf(
			"unnest(CASE WHEN %s IS NULL OR len(%s) = 0 THEN [NULL::%s] ELSE %s END) AS %s",
			q, q, col.Type.Elem.Raw, q, q,
		))
	}

	next, err := rel.Project(ctx, exprs)
	if err != nil {
		return nil, fmt.Errorf("failed to explode column %q: %w", col.Name, err)
	}

	return Flatten(ctx, next, opts)
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
