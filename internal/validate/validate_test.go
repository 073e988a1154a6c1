package validate

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/leapstack-labs/leapcheck/internal/adapter"
	"github.com/leapstack-labs/leapcheck/internal/relation"
	"github.com/leapstack-labs/leapcheck/pkg/rules"
)

func newTestSession(t *testing.T) *relation.Session {
	t.Helper()
	ctx := context.Background()

	db := adapter.NewDuckDBAdapter()
	if err := db.Connect(ctx, adapter.Config{Path: ":memory:"}); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return relation.NewSession(db, nil)
}

func mustExec(t *testing.T, s *relation.Session, sql string) {
	t.Helper()
	if err := s.DB().Exec(context.Background(), sql); err != nil {
		t.Fatalf("exec failed: %v\n%s", err, sql)
	}
}

func mustFromTable(t *testing.T, s *relation.Session, name string) *relation.Relation {
	t.Helper()
	rel, err := s.FromTable(context.Background(), name)
	if err != nil {
		t.Fatalf("FromTable(%s) failed: %v", name, err)
	}
	return rel
}

func mustNormalize(t *testing.T, raw []map[string]any) rules.RuleSet {
	t.Helper()
	valid, rs, issues, err := rules.NewNormalizer().Validate(raw, rules.Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if !valid {
		t.Fatalf("rule set invalid: %v", issues)
	}
	return rs
}

func mustCount(t *testing.T, rel *relation.Relation) int64 {
	t.Helper()
	n, err := rel.Count(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func mustRows(t *testing.T, rel *relation.Relation) []map[string]any {
	t.Helper()
	rows, err := rel.Rows(context.Background(), 0)
	if err != nil {
		t.Fatalf("rows failed: %v", err)
	}
	return rows
}

// portfolioTable seeds a small positions table with one bad row per data
// rule kind.
func portfolioTable(t *testing.T, s *relation.Session) *relation.Relation {
	t.Helper()
	mustExec(t, s, `CREATE TABLE positions AS SELECT * FROM (VALUES
		('P1', 'INV-001', 'CAD', 'IR_DELTA', '10.25'),
		('P2', 'INV-002', 'USD', 'IR_VEGA', '99.50'),
		('P3', '', 'EUR', 'CR01', '150.00'),
		('P4', 'INV-004', 'USD', 'bad metric', 'abc'),
		('P5', 'INV-005', 'CAD', 'IR_DELTA', '-200.125')
	) AS t(portfolio, inventory, currency, "riskMetric", value)`)
	return mustFromTable(t, s, "positions")
}

func TestApply_AllPass(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE ok AS SELECT * FROM (VALUES
		('P1', 'CAD', 10.5), ('P2', 'USD', 20.0)
	) AS t(portfolio, currency, value)`)
	rel := mustFromTable(t, s, "ok")

	rs := mustNormalize(t, []map[string]any{
		{"type": "headers", "name": "cols", "columns": []any{"portfolio", "currency", "value"}},
		{"type": "non_empty", "name": "req", "columns": []any{"portfolio", "currency"}},
		{"type": "range", "name": "bounds", "column": "value", "min": 0, "max": 100},
		{"type": "unique", "name": "pk", "columns": []any{"portfolio"}},
	})

	v := New(WithIDColumns("portfolio"))
	res, err := v.Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if !res.IsValid {
		t.Errorf("IsValid = false, want true; diagnostics: %v", mustRows(t, res.Diagnostics))
	}
	if n := mustCount(t, res.Diagnostics); n != 0 {
		t.Errorf("diagnostics rows = %d, want 0", n)
	}
	if n := mustCount(t, res.Valid); n != 2 {
		t.Errorf("valid rows = %d, want 2", n)
	}
}

func TestApply_CollectMode(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	rel := portfolioTable(t, s)

	rs := mustNormalize(t, []map[string]any{
		{"type": "non_empty", "name": "req_inventory", "columns": []any{"inventory"}},
		{"type": "enum", "name": "ccy", "column": "currency", "allowed": []any{"CAD", "USD"}},
		{"type": "regex", "name": "metric", "column": "riskMetric", "pattern": "^(IR_DELTA|IR_VEGA|CR01)$"},
		{"type": "range", "name": "bounds", "column": "value", "min": -1000, "max": 1000},
	})

	v := New(WithIDColumns("portfolio", "inventory"))
	res, err := v.Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if res.IsValid {
		t.Fatal("IsValid = true, want false")
	}

	// P3 blank inventory, P3 EUR, P4 bad metric, P4 uncastable value.
	diags := mustRows(t, res.Diagnostics)
	if len(diags) != 4 {
		t.Fatalf("diagnostics rows = %d, want 4: %v", len(diags), diags)
	}

	byRule := map[string]int{}
	for _, d := range diags {
		byRule[d["rule"].(string)]++
	}
	for rule, want := range map[string]int{"req_inventory": 1, "ccy": 1, "metric": 1, "bounds": 1} {
		if byRule[rule] != want {
			t.Errorf("rule %q: %d diagnostics, want %d", rule, byRule[rule], want)
		}
	}

	// P3 and P4 are excluded by identity tuple; P1, P2, P5 remain.
	if n := mustCount(t, res.Valid); n != 3 {
		t.Errorf("valid rows = %d, want 3", n)
	}
}

func TestApply_HeadersPrecedence(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE t AS SELECT 'P1' AS portfolio, 5.0 AS value`)
	rel := mustFromTable(t, s, "t")

	rs := mustNormalize(t, []map[string]any{
		{"type": "range", "name": "bounds", "column": "value", "min": 100, "max": 200},
		{"type": "headers", "name": "cols", "columns": []any{"portfolio", "ghost"}},
	})

	v := New(WithFailFast(ModeReturn))
	res, err := v.Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Even though the range rule would also fail, only the headers
	// diagnostic is produced.
	diags := mustRows(t, res.Diagnostics)
	if len(diags) != 1 {
		t.Fatalf("diagnostics rows = %d, want 1: %v", len(diags), diags)
	}
	if diags[0]["rule"] != "cols" {
		t.Errorf("rule = %v, want cols", diags[0]["rule"])
	}
	if diags[0]["column"] != "ghost" {
		t.Errorf("column = %v, want ghost", diags[0]["column"])
	}
	if diags[0]["message"] != "[cols] missing column ghost" {
		t.Errorf("message = %v", diags[0]["message"])
	}
	if res.IsValid {
		t.Error("IsValid = true, want false")
	}
}

func TestApply_HeadersInCollectMode(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE t AS SELECT 'P1' AS portfolio`)
	rel := mustFromTable(t, s, "t")

	rs := mustNormalize(t, []map[string]any{
		{"type": "headers", "name": "cols", "columns": []any{"portfolio", "a", "b"}},
	})

	res, err := New().Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	var missing []string
	for _, d := range mustRows(t, res.Diagnostics) {
		missing = append(missing, d["column"].(string))
	}
	sort.Strings(missing)
	if len(missing) != 2 || missing[0] != "a" || missing[1] != "b" {
		t.Errorf("missing columns = %v, want [a b]", missing)
	}
}

func TestApply_FailFastRaise(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	rel := portfolioTable(t, s)

	rs := mustNormalize(t, []map[string]any{
		{"type": "non_empty", "name": "req", "columns": []any{"inventory"}},
	})

	v := New(WithIDColumns("portfolio"), WithFailFast(ModeRaise))
	_, err := v.Apply(ctx, rel, rs)

	var ffe *FailFastError
	if !errors.As(err, &ffe) {
		t.Fatalf("error = %v, want *FailFastError", err)
	}
	if ffe.RuleName != "req" || ffe.RuleKind != "non_empty" {
		t.Errorf("rule = %s:%s, want non_empty:req", ffe.RuleKind, ffe.RuleName)
	}
	if len(ffe.Sample) != 1 {
		t.Errorf("sample rows = %d, want 1", len(ffe.Sample))
	}
}

func TestApply_FailFastReturn(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	rel := portfolioTable(t, s)

	rs := mustNormalize(t, []map[string]any{
		{"type": "enum", "name": "ccy", "column": "currency", "allowed": []any{"CAD", "USD"}},
		{"type": "regex", "name": "metric", "column": "riskMetric", "pattern": "^(IR_DELTA|IR_VEGA|CR01)$"},
	})

	v := New(WithIDColumns("portfolio"), WithFailFast(ModeReturn))
	res, err := v.Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if res.IsValid {
		t.Error("IsValid = true, want false")
	}
	diags := mustRows(t, res.Diagnostics)
	if len(diags) != 1 {
		t.Fatalf("diagnostics rows = %d, want 1: %v", len(diags), diags)
	}
	// First failing rule only; the regex rule never ran.
	if diags[0]["rule"] != "ccy" {
		t.Errorf("rule = %v, want ccy", diags[0]["rule"])
	}
	if n := mustCount(t, res.Valid); n != 5 {
		t.Errorf("valid rows = %d, want full input 5", n)
	}
}

func TestApply_UniqueSymmetry(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE t AS SELECT * FROM (VALUES
		('A', 'B', 1), ('A', 'B', 2), ('A', 'B', 3), ('X', 'Y', 4)
	) AS t(k1, k2, seq)`)
	rel := mustFromTable(t, s, "t")

	rs := mustNormalize(t, []map[string]any{
		{"type": "unique", "name": "pk", "columns": []any{"k1", "k2"}},
	})

	res, err := New().Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Every member of the duplicated (A,B) group is a violation row.
	diags := mustRows(t, res.Diagnostics)
	if len(diags) != 3 {
		t.Fatalf("diagnostics rows = %d, want 3: %v", len(diags), diags)
	}
	for _, d := range diags {
		if d["column"] != "k1,k2" {
			t.Errorf("column = %v, want k1,k2", d["column"])
		}
		if d["value"] != "A||B" {
			t.Errorf("value = %v, want A||B", d["value"])
		}
		if d["message"] != "[pk] k1,k2: duplicate key" {
			t.Errorf("message = %v", d["message"])
		}
	}
}

func TestApply_DecimalRule(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE t AS SELECT * FROM (VALUES
		('r1', '10.25'),
		('r2', '10.253'),
		('r3', 'abc'),
		('r4', '99999999.00')
	) AS t(id, amount)`)
	rel := mustFromTable(t, s, "t")

	rs := mustNormalize(t, []map[string]any{
		{"type": "decimal", "name": "money", "column": "amount",
			"precision": 6, "scale": 2, "exact_scale": true, "min": 0, "max": 5000},
	})

	v := New(WithIDColumns("id"))
	res, err := v.Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	var bad []string
	for _, d := range mustRows(t, res.Diagnostics) {
		bad = append(bad, d["id"].(string))
	}
	sort.Strings(bad)
	// r2 has 3 fractional digits, r3 is uncastable, r4 overflows DECIMAL(6,2).
	want := []string{"r2", "r3", "r4"}
	if len(bad) != len(want) {
		t.Fatalf("violations = %v, want %v", bad, want)
	}
	for i := range want {
		if bad[i] != want[i] {
			t.Errorf("violations = %v, want %v", bad, want)
		}
	}
}

func TestApply_LengthAndNulls(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE t AS SELECT * FROM (VALUES
		('r1', 'INV-001'), ('r2', 'abc'), ('r3', NULL)
	) AS t(id, inventory)`)
	rel := mustFromTable(t, s, "t")

	rs := mustNormalize(t, []map[string]any{
		{"type": "length", "name": "len", "column": "inventory", "min": 5, "max": 30},
	})

	res, err := New(WithIDColumns("id")).Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Both too-short and NULL values fail.
	if n := mustCount(t, res.Diagnostics); n != 2 {
		t.Errorf("diagnostics rows = %d, want 2", n)
	}
}

func TestApply_EnumNullHandling(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE t AS SELECT * FROM (VALUES
		('r1', 'CAD'), ('r2', NULL), ('r3', 'EUR')
	) AS t(id, ccy)`)
	rel := mustFromTable(t, s, "t")

	t.Run("null fails by default", func(t *testing.T) {
		rs := mustNormalize(t, []map[string]any{
			{"type": "enum", "name": "ccy", "column": "ccy", "allowed": []any{"CAD", "USD"}},
		})
		res, err := New(WithIDColumns("id")).Apply(ctx, rel, rs)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if n := mustCount(t, res.Diagnostics); n != 2 {
			t.Errorf("diagnostics rows = %d, want 2", n)
		}
	})

	t.Run("null passes when listed", func(t *testing.T) {
		rs := mustNormalize(t, []map[string]any{
			{"type": "enum", "name": "ccy", "column": "ccy", "allowed": []any{"CAD", "USD", nil}},
		})
		res, err := New(WithIDColumns("id")).Apply(ctx, rel, rs)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if n := mustCount(t, res.Diagnostics); n != 1 {
			t.Errorf("diagnostics rows = %d, want 1", n)
		}
	})
}

func TestApply_EnumMixedTypes(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	t.Run("numeric allowed over varchar column", func(t *testing.T) {
		mustExec(t, s, `CREATE TABLE codes AS SELECT * FROM (VALUES
			('r1', '1'), ('r2', '2.50'), ('r3', 'abc'), ('r4', '3')
		) AS t(id, code)`)
		rel := mustFromTable(t, s, "codes")

		rs := mustNormalize(t, []map[string]any{
			{"type": "enum", "name": "code", "column": "code", "allowed": []any{float64(1), 2.5}},
		})
		// An uncastable cell like 'abc' must come back as a diagnostic row,
		// not as a conversion error from comparing a VARCHAR column against
		// numeric literals.
		res, err := New(WithIDColumns("id")).Apply(ctx, rel, rs)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if n := mustCount(t, res.Diagnostics); n != 2 {
			t.Errorf("diagnostics rows = %d, want 2", n)
		}
		for _, row := range mustRows(t, res.Diagnostics) {
			id := row["id"]
			if id != "r3" && id != "r4" {
				t.Errorf("unexpected violation id %v", id)
			}
		}
	})

	t.Run("string allowed over integer column", func(t *testing.T) {
		mustExec(t, s, `CREATE TABLE levels AS SELECT * FROM (VALUES
			('r1', 1), ('r2', 2), ('r3', 5)
		) AS t(id, level)`)
		rel := mustFromTable(t, s, "levels")

		rs := mustNormalize(t, []map[string]any{
			{"type": "enum", "name": "lvl", "column": "level", "allowed": []any{"1", float64(5)}},
		})
		res, err := New(WithIDColumns("id")).Apply(ctx, rel, rs)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if n := mustCount(t, res.Diagnostics); n != 1 {
			t.Errorf("diagnostics rows = %d, want 1", n)
		}
	})
}

func TestApply_PartitionCompleteness(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	rel := portfolioTable(t, s)

	rs := mustNormalize(t, []map[string]any{
		{"type": "non_empty", "name": "req", "columns": []any{"inventory"}},
		{"type": "enum", "name": "ccy", "column": "currency", "allowed": []any{"CAD", "USD"}},
	})

	res, err := New(WithIDColumns("portfolio")).Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	badIDs, err := res.Diagnostics.Distinct(ctx, "portfolio")
	if err != nil {
		t.Fatalf("distinct failed: %v", err)
	}
	total := mustCount(t, res.Valid) + mustCount(t, badIDs)
	if total != 5 {
		t.Errorf("valid + distinct bad ids = %d, want 5", total)
	}
}

func TestApply_EmptyIDColumns(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	rel := portfolioTable(t, s)

	rs := mustNormalize(t, []map[string]any{
		{"type": "enum", "name": "ccy", "column": "currency", "allowed": []any{"CAD", "USD"}},
	})

	res, err := New().Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if res.IsValid {
		t.Error("IsValid = true, want false")
	}
	// Without id columns, the valid relation defaults to the full input.
	if n := mustCount(t, res.Valid); n != 5 {
		t.Errorf("valid rows = %d, want 5", n)
	}
}

func TestApply_RowCap(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE t AS SELECT 'r' || i AS id, '' AS inventory FROM range(20) AS r(i)`)
	rel := mustFromTable(t, s, "t")

	rs := mustNormalize(t, []map[string]any{
		{"type": "non_empty", "name": "req", "columns": []any{"inventory"}},
	})

	res, err := New(WithIDColumns("id"), WithRowCap(5)).Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if n := mustCount(t, res.Diagnostics); n != 5 {
		t.Errorf("diagnostics rows = %d, want capped 5", n)
	}
	// The cap controls reporting volume only; exclusion still applies
	// to the capped tuples.
	if res.IsValid {
		t.Error("IsValid = true, want false")
	}
}

func TestApply_NestedInput(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE orders AS SELECT * FROM (VALUES
		(1, [{'sku': 'A', 'qty': 2}, {'sku': '', 'qty': 3}]),
		(2, [{'sku': 'C', 'qty': 1}])
	) AS t(id, items)`)
	rel := mustFromTable(t, s, "orders")

	rs := mustNormalize(t, []map[string]any{
		{"type": "headers", "name": "cols", "columns": []any{"id", "items.sku", "items.qty"}},
		{"type": "non_empty", "name": "req_sku", "columns": []any{"items.sku"}},
	})

	res, err := New(WithIDColumns("id")).Apply(ctx, rel, rs)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Row (1, '') violates; identity exclusion removes both exploded rows of
	// order 1, leaving order 2's single row.
	diags := mustRows(t, res.Diagnostics)
	if len(diags) != 1 {
		t.Fatalf("diagnostics rows = %d, want 1: %v", len(diags), diags)
	}
	if diags[0]["column"] != "items.sku" {
		t.Errorf("column = %v, want items.sku", diags[0]["column"])
	}
	if n := mustCount(t, res.Valid); n != 1 {
		t.Errorf("valid rows = %d, want 1", n)
	}
}

func TestApply_IDColumnMissing(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE t AS SELECT 1 AS id`)
	rel := mustFromTable(t, s, "t")

	rs := mustNormalize(t, []map[string]any{
		{"type": "unique", "name": "pk", "columns": []any{"id"}},
	})

	_, err := New(WithIDColumns("ghost")).Apply(ctx, rel, rs)

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
}

func TestApply_BrokenRuleRejected(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE t AS SELECT 1 AS id`)
	rel := mustFromTable(t, s, "t")

	broken := rules.RuleSet{{Name: "r", Kind: rules.KindRange, Column: "id"}}
	_, err := New().Apply(ctx, rel, broken)

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if cfgErr.Rule != "r" {
		t.Errorf("rule = %q, want r", cfgErr.Rule)
	}
}

func TestApply_UnsupportedKindMetaDiagnostic(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	mustExec(t, s, `CREATE TABLE t AS SELECT 1 AS id`)
	rel := mustFromTable(t, s, "t")

	// A rule that bypassed normalization entirely.
	rogue := rules.RuleSet{{Name: "weird", Kind: rules.KindInvalid, DeclaredKind: "checksum"}}
	res, err := New(WithIDColumns("id")).Apply(ctx, rel, rogue)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	diags := mustRows(t, res.Diagnostics)
	if len(diags) != 1 {
		t.Fatalf("diagnostics rows = %d, want 1: %v", len(diags), diags)
	}
	if diags[0]["message"] != "Unknown rule type: checksum" {
		t.Errorf("message = %v", diags[0]["message"])
	}
	if diags[0]["column"] != nil || diags[0]["value"] != nil {
		t.Errorf("column/value = %v/%v, want nulls", diags[0]["column"], diags[0]["value"])
	}
}
