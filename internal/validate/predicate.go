package validate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapcheck/internal/adapter"
	"github.com/leapstack-labs/leapcheck/internal/relation"
	"github.com/leapstack-labs/leapcheck/pkg/rules"
)

// Diagnostic column names shared by every partial.
const (
	colRule    = "rule"
	colColumn  = "column"
	colValue   = "value"
	colMessage = "message"
)

// partials dispatches a data rule to its predicate and returns zero or more
// violation relations. A non_empty rule over k columns yields k independent
// partials, so one source row may appear several times in the diagnostics.
func (v *Validator) partials(ctx context.Context, rel *relation.Relation, rule rules.Rule) ([]*relation.Relation, error) {
	switch rule.Kind {
	case rules.KindNonEmpty:
		out := make([]*relation.Relation, 0, len(rule.Columns))
		for _, c := range rule.Columns {
			mask := fmt.Sprintf("%s IS NOT NULL AND trim(%s::VARCHAR) <> ''",
				adapter.QuoteIdent(c), adapter.QuoteIdent(c))
			p, err := v.collect(ctx, rel, mask, rule, c, "validation failed")
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil

	case rules.KindRange:
		num := fmt.Sprintf("TRY_CAST(%s AS DOUBLE)", adapter.QuoteIdent(rule.Column))
		mask := fmt.Sprintf("%s IS NOT NULL AND %s BETWEEN %s AND %s",
			num, num, formatFloat(*rule.Min), formatFloat(*rule.Max))
		p, err := v.collect(ctx, rel, mask, rule, rule.Column, "validation failed")
		if err != nil {
			return nil, err
		}
		return []*relation.Relation{p}, nil

	case rules.KindEnum:
		return v.enumPartial(ctx, rel, rule)

	case rules.KindLength:
		mask := fmt.Sprintf("length(%s::VARCHAR) BETWEEN %d AND %d",
			adapter.QuoteIdent(rule.Column), int(*rule.Min), int(*rule.Max))
		p, err := v.collect(ctx, rel, mask, rule, rule.Column, "validation failed")
		if err != nil {
			return nil, err
		}
		return []*relation.Relation{p}, nil

	case rules.KindRegex:
		mask := fmt.Sprintf("regexp_matches(%s::VARCHAR, %s)",
			adapter.QuoteIdent(rule.Column), sqlString(rule.Pattern))
		p, err := v.collect(ctx, rel, mask, rule, rule.Column, "validation failed")
		if err != nil {
			return nil, err
		}
		return []*relation.Relation{p}, nil

	case rules.KindUnique:
		return v.uniquePartial(ctx, rel, rule)

	case rules.KindDecimal:
		return v.decimalPartial(ctx, rel, rule)

	default:
		p, err := v.metaPartial(ctx, rel.Session(), rule,
			fmt.Sprintf("Unknown rule type: %s", rule.DeclaredKind))
		if err != nil {
			return nil, err
		}
		return []*relation.Relation{p}, nil
	}
}

// collect derives the violation partial for a per-row predicate: rows where
// the pass-mask is not TRUE. NULL masks count as violations, so predicates
// never need explicit null guards to make nulls fail.
func (v *Validator) collect(ctx context.Context, rel *relation.Relation, mask string, rule rules.Rule, colname, extra string) (*relation.Relation, error) {
	exprs := make([]string, 0, len(v.idCols)+4)
	for _, c := range v.idCols {
		exprs = append(exprs, adapter.QuoteIdent(c))
	}
	exprs = append(exprs,
		fmt.Sprintf("%s AS %s", sqlString(rule.Name), adapter.QuoteIdent(colRule)),
		fmt.Sprintf("%s AS %s", sqlString(colname), adapter.QuoteIdent(colColumn)),
		fmt.Sprintf("%s::VARCHAR AS %s", adapter.QuoteIdent(colname), adapter.QuoteIdent(colValue)),
		fmt.Sprintf("%s AS %s", sqlString(violationMessage(rule.Name, colname, extra)), adapter.QuoteIdent(colMessage)),
	)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE (%s) IS NOT TRUE",
		strings.Join(exprs, ", "), rel.Ident(), mask)
	return rel.Session().FromQuery(ctx, query)
}

// enumPartial tests membership on the stringified column, never on the raw
// one: comparing a VARCHAR column against numeric literals would make DuckDB
// coerce the column and abort on the first uncastable cell, turning bad data
// into an engine error. Numeric members also match numerically through
// TRY_CAST, so '1.50' satisfies an allowed value of 1.5.
func (v *Validator) enumPartial(ctx context.Context, rel *relation.Relation, rule rules.Rule) ([]*relation.Relation, error) {
	col := adapter.QuoteIdent(rule.Column)

	var strs, nums []string
	nullAllowed := false
	for _, a := range rule.Allowed {
		switch x := a.(type) {
		case nil:
			nullAllowed = true
		case string:
			strs = append(strs, sqlString(x))
		case float64:
			strs = append(strs, sqlString(formatFloat(x)))
			nums = append(nums, formatFloat(x))
		case int:
			strs = append(strs, sqlString(strconv.Itoa(x)))
			nums = append(nums, strconv.Itoa(x))
		case int64:
			strs = append(strs, sqlString(strconv.FormatInt(x, 10)))
			nums = append(nums, strconv.FormatInt(x, 10))
		case bool:
			if x {
				strs = append(strs, "'true'")
			} else {
				strs = append(strs, "'false'")
			}
		default:
			return nil, &ConfigError{Rule: rule.Name, Reason: fmt.Sprintf("unsupported allowed value %T", a)}
		}
	}

	var terms []string
	if nullAllowed {
		terms = append(terms, col+" IS NULL")
	}
	if len(strs) > 0 {
		terms = append(terms, fmt.Sprintf("%s::VARCHAR IN (%s)", col, strings.Join(strs, ", ")))
	}
	if len(nums) > 0 {
		terms = append(terms, fmt.Sprintf("TRY_CAST(%s AS DOUBLE) IN (%s)", col, strings.Join(nums, ", ")))
	}
	if len(terms) == 0 {
		terms = append(terms, col+" IS NULL")
	}

	p, err := v.collect(ctx, rel, strings.Join(terms, " OR "), rule, rule.Column, "validation failed")
	if err != nil {
		return nil, err
	}
	return []*relation.Relation{p}, nil
}

// uniquePartial flags every member of a key group of size > 1. This is the
// one relation-wide aggregate among the data rules.
func (v *Validator) uniquePartial(ctx context.Context, rel *relation.Relation, rule rules.Rule) ([]*relation.Relation, error) {
	dups, err := rel.GroupBy(ctx, rule.Columns, []string{"COUNT(*) AS lc_cnt"})
	if err != nil {
		return nil, err
	}
	dups, err = dups.Filter(ctx, "lc_cnt > 1")
	if err != nil {
		return nil, err
	}
	offending, err := rel.SemiJoin(ctx, dups, rule.Columns)
	if err != nil {
		return nil, err
	}

	valueArgs := make([]string, 0, len(rule.Columns)+1)
	valueArgs = append(valueArgs, "'||'")
	for _, c := range rule.Columns {
		valueArgs = append(valueArgs, adapter.QuoteIdent(c)+"::VARCHAR")
	}
	joined := strings.Join(rule.Columns, ",")

	exprs := make([]string, 0, len(v.idCols)+4)
	for _, c := range v.idCols {
		exprs = append(exprs, adapter.QuoteIdent(c))
	}
	exprs = append(exprs,
		fmt.Sprintf("%s AS %s", sqlString(rule.Name), adapter.QuoteIdent(colRule)),
		fmt.Sprintf("%s AS %s", sqlString(joined), adapter.QuoteIdent(colColumn)),
		fmt.Sprintf("concat_ws(%s) AS %s", strings.Join(valueArgs, ", "), adapter.QuoteIdent(colValue)),
		fmt.Sprintf("%s AS %s", sqlString(violationMessage(rule.Name, joined, "duplicate key")), adapter.QuoteIdent(colMessage)),
	)

	p, err := offending.Project(ctx, exprs)
	if err != nil {
		return nil, err
	}
	return []*relation.Relation{p}, nil
}

func (v *Validator) decimalPartial(ctx context.Context, rel *relation.Relation, rule rules.Rule) ([]*relation.Relation, error) {
	dec := fmt.Sprintf("TRY_CAST(%s AS DECIMAL(%d,%d))",
		adapter.QuoteIdent(rule.Column), rule.Precision, rule.Scale)

	conds := []string{dec + " IS NOT NULL"}
	if rule.ExactScale {
		// Fractional digit count of the original text, not of the cast value.
		conds = append(conds, fmt.Sprintf(
			`length(regexp_extract(%s::VARCHAR, '\.(\d+)', 1)) <= %d`,
			adapter.QuoteIdent(rule.Column), rule.Scale))
	}
	if rule.Min != nil {
		conds = append(conds, fmt.Sprintf("%s >= TRY_CAST(%s AS DECIMAL(%d,%d))",
			dec, formatFloat(*rule.Min), rule.Precision, rule.Scale))
	}
	if rule.Max != nil {
		conds = append(conds, fmt.Sprintf("%s <= TRY_CAST(%s AS DECIMAL(%d,%d))",
			dec, formatFloat(*rule.Max), rule.Precision, rule.Scale))
	}

	p, err := v.collect(ctx, rel, strings.Join(conds, " AND "), rule, rule.Column, "validation failed")
	if err != nil {
		return nil, err
	}
	return []*relation.Relation{p}, nil
}

// headersPartial builds one diagnostic row per missing column, with null id
// columns. The rows are synthesized from literals rather than scanned.
func (v *Validator) headersPartial(ctx context.Context, sess *relation.Session, rule rules.Rule, missing []string) (*relation.Relation, error) {
	values := make([]string, len(missing))
	for i, m := range missing {
		values[i] = "(" + sqlString(m) + ")"
	}

	exprs := make([]string, 0, len(v.idCols)+4)
	for _, c := range v.idCols {
		exprs = append(exprs, fmt.Sprintf("NULL::VARCHAR AS %s", adapter.QuoteIdent(c)))
	}
	exprs = append(exprs,
		fmt.Sprintf("%s AS %s", sqlString(rule.Name), adapter.QuoteIdent(colRule)),
		fmt.Sprintf("t.col AS %s", adapter.QuoteIdent(colColumn)),
		fmt.Sprintf("NULL::VARCHAR AS %s", adapter.QuoteIdent(colValue)),
		fmt.Sprintf("%s || t.col AS %s",
			sqlString(fmt.Sprintf("[%s] missing column ", rule.Name)), adapter.QuoteIdent(colMessage)),
	)

	query := fmt.Sprintf("SELECT %s FROM (VALUES %s) AS t(col)",
		strings.Join(exprs, ", "), strings.Join(values, ", "))
	return sess.FromQuery(ctx, query)
}

// metaPartial builds the single-row diagnostic for a rule the engine cannot
// dispatch. Defensive: normalization excludes these before execution.
func (v *Validator) metaPartial(ctx context.Context, sess *relation.Session, rule rules.Rule, text string) (*relation.Relation, error) {
	exprs := make([]string, 0, len(v.idCols)+4)
	for _, c := range v.idCols {
		exprs = append(exprs, fmt.Sprintf("NULL::VARCHAR AS %s", adapter.QuoteIdent(c)))
	}
	exprs = append(exprs,
		fmt.Sprintf("%s AS %s", sqlString(rule.Name), adapter.QuoteIdent(colRule)),
		fmt.Sprintf("NULL::VARCHAR AS %s", adapter.QuoteIdent(colColumn)),
		fmt.Sprintf("NULL::VARCHAR AS %s", adapter.QuoteIdent(colValue)),
		fmt.Sprintf("%s AS %s", sqlString(text), adapter.QuoteIdent(colMessage)),
	)
	return sess.FromQuery(ctx, "SELECT "+strings.Join(exprs, ", "))
}

// emptyDiagnostics derives the zero-row diagnostics relation with the full
// id_cols..., rule, column, value, message schema.
func (v *Validator) emptyDiagnostics(ctx context.Context, sess *relation.Session) (*relation.Relation, error) {
	exprs := make([]string, 0, len(v.idCols)+4)
	for _, c := range v.idCols {
		exprs = append(exprs, fmt.Sprintf("NULL::VARCHAR AS %s", adapter.QuoteIdent(c)))
	}
	for _, c := range []string{colRule, colColumn, colValue, colMessage} {
		exprs = append(exprs, fmt.Sprintf("NULL::VARCHAR AS %s", adapter.QuoteIdent(c)))
	}
	return sess.FromQuery(ctx, "SELECT "+strings.Join(exprs, ", ")+" WHERE FALSE")
}

func violationMessage(name, colname, extra string) string {
	if name == "" {
		name = "unnamed"
	}
	return fmt.Sprintf("[%s] %s: %s", name, colname, extra)
}

// sqlString renders a single-quoted SQL string literal.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
