// Package validate evaluates a normalized rule set against a relation,
// splitting it into valid rows and a diagnostics relation. Rules never throw
// on bad data: an uncastable or missing value is a violation row, and only
// structural misconfiguration or engine failure surfaces as a Go error.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapcheck/internal/flatten"
	"github.com/leapstack-labs/leapcheck/internal/relation"
	"github.com/leapstack-labs/leapcheck/pkg/rules"
)

// Mode selects what a fail-fast validator does on the first violation.
type Mode int

const (
	// ModeReturn ends the run early with the first failing rule's partial.
	ModeReturn Mode = iota
	// ModeRaise aborts with a *FailFastError carrying a small sample.
	ModeRaise
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "return", "":
		return ModeReturn, true
	case "raise":
		return ModeRaise, true
	default:
		return ModeReturn, false
	}
}

// DefaultRowCap limits each violation partial's contribution to the
// diagnostics relation. Reporting volume only; total diagnostics can
// still exceed it across rules.
const DefaultRowCap = 1000

// defaultWorkers bounds concurrent partial evaluation in collect mode.
const defaultWorkers = 4

// Validator evaluates rule sets. Configure it with options at construction;
// it is safe for reuse across runs on the same session.
type Validator struct {
	idCols   []string
	failFast bool
	failMode Mode
	rowCap   int
	workers  int
	logger   *slog.Logger

	flattenOpts flatten.Options
}

// Option configures a Validator.
type Option func(*Validator)

// WithIDColumns sets the identity columns used to exclude failing rows from
// the valid relation. Exclusion is per identity tuple, not per exact row, so
// the columns should approximate a key. Empty means no exclusion.
func WithIDColumns(cols ...string) Option {
	return func(v *Validator) { v.idCols = cols }
}

// WithFailFast makes the validator stop at the first non-empty partial.
func WithFailFast(mode Mode) Option {
	return func(v *Validator) {
		v.failFast = true
		v.failMode = mode
	}
}

// WithRowCap overrides the per-partial diagnostics cap.
func WithRowCap(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.rowCap = n
		}
	}
}

// WithWorkers bounds concurrent rule evaluation in collect mode.
func WithWorkers(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.workers = n
		}
	}
}

// WithFlattenOptions overrides the separator and iteration bound used when
// a nested input is flattened.
func WithFlattenOptions(opts flatten.Options) Option {
	return func(v *Validator) { v.flattenOpts = opts }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		rowCap:  DefaultRowCap,
		workers: defaultWorkers,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Result is the outcome of a validation run.
type Result struct {
	// IsValid is true iff the diagnostics relation is empty.
	IsValid bool

	// Valid holds the input rows whose identity tuple has no diagnostic.
	// With no identity columns configured it is the full input.
	Valid *relation.Relation

	// Diagnostics holds one row per violation, with schema
	// id_cols..., rule, column, value, message.
	Diagnostics *relation.Relation
}

// Apply runs the rule set against the relation. Nested inputs are flattened
// and exploded first. Header rules run before all data rules, in document
// order; data rules then run in document order (concurrently in collect
// mode, where ordering is unobservable).
func (v *Validator) Apply(ctx context.Context, rel *relation.Relation, ruleset rules.RuleSet) (Result, error) {
	rel, err := v.prepare(ctx, rel)
	if err != nil {
		return Result{}, err
	}
	if err := v.checkRules(ruleset); err != nil {
		return Result{}, err
	}

	var violations []*relation.Relation

	// Headers first: structural absence makes row-level results for the
	// missing columns meaningless.
	for _, rule := range ruleset {
		if rule.Kind != rules.KindHeaders {
			continue
		}
		missing := missingColumns(rel.Schema(), rule.Columns)
		if len(missing) == 0 {
			continue
		}
		v.logger.Warn("missing required columns", "rule", rule.Name, "columns", missing)

		partial, err := v.headersPartial(ctx, rel.Session(), rule, missing)
		if err != nil {
			return Result{}, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		if v.failFast {
			return v.shortCircuit(ctx, rel, rule, partial)
		}
		violations = append(violations, partial)
	}

	dataRules := make([]rules.Rule, 0, len(ruleset))
	for _, rule := range ruleset {
		if rule.Kind != rules.KindHeaders {
			dataRules = append(dataRules, rule)
		}
	}

	if v.failFast {
		for _, rule := range dataRules {
			parts, err := v.partials(ctx, rel, rule)
			if err != nil {
				return Result{}, fmt.Errorf("rule %q: %w", rule.Name, err)
			}
			for _, p := range parts {
				empty, err := p.IsEmpty(ctx)
				if err != nil {
					return Result{}, fmt.Errorf("rule %q: %w", rule.Name, err)
				}
				if !empty {
					return v.shortCircuit(ctx, rel, rule, p)
				}
			}
			violations = append(violations, parts...)
		}
		return v.finalize(ctx, rel, violations)
	}

	// Collect mode: partials are independent, so evaluate them in parallel.
	// Document order is preserved in the union for stable reporting.
	perRule := make([][]*relation.Relation, len(dataRules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, rule := range dataRules {
		g.Go(func() error {
			parts, err := v.partials(gctx, rel, rule)
			if err != nil {
				return fmt.Errorf("rule %q: %w", rule.Name, err)
			}
			perRule[i] = parts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	for _, parts := range perRule {
		violations = append(violations, parts...)
	}

	return v.finalize(ctx, rel, violations)
}

// prepare flattens nested inputs and verifies the identity columns exist.
func (v *Validator) prepare(ctx context.Context, rel *relation.Relation) (*relation.Relation, error) {
	if hasNested(rel.Schema()) {
		flat, exploded, err := flatten.Explode(ctx, rel, v.flattenOpts)
		if err != nil {
			return nil, err
		}
		if len(exploded) > 0 {
			v.logger.Debug("exploded nested input", "columns", exploded)
		}
		rel = flat
	}

	for _, c := range v.idCols {
		if !rel.Schema().Has(c) {
			return nil, &ConfigError{Rule: "<engine>", Reason: fmt.Sprintf("id column %q not in relation", c)}
		}
	}

	// Materialize once; every rule scans this relation.
	cached, err := rel.Cache(ctx)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// checkRules rejects structurally broken rules before any SQL runs. A rule
// set straight from the Normalizer never trips these.
func (v *Validator) checkRules(ruleset rules.RuleSet) error {
	for _, r := range ruleset {
		switch r.Kind {
		case rules.KindHeaders, rules.KindNonEmpty, rules.KindUnique:
			if len(r.Columns) == 0 {
				return &ConfigError{Rule: r.Name, Reason: "empty column list"}
			}
		case rules.KindRange:
			if r.Min == nil || r.Max == nil {
				return &ConfigError{Rule: r.Name, Reason: "range requires numeric min and max"}
			}
		case rules.KindEnum:
			if len(r.Allowed) == 0 {
				return &ConfigError{Rule: r.Name, Reason: "empty allowed list"}
			}
		case rules.KindLength:
			if r.Min == nil || r.Max == nil {
				return &ConfigError{Rule: r.Name, Reason: "length requires integer min and max"}
			}
		case rules.KindRegex:
			if r.Regexp == nil {
				return &ConfigError{Rule: r.Name, Reason: "pattern did not compile"}
			}
		case rules.KindDecimal:
			if r.Precision <= 0 || r.Scale < 0 || r.Scale > r.Precision {
				return &ConfigError{Rule: r.Name, Reason: "require precision>0 and 0<=scale<=precision"}
			}
		}
	}
	return nil
}

// shortCircuit ends a fail-fast run on the first non-empty partial.
func (v *Validator) shortCircuit(ctx context.Context, rel *relation.Relation, rule rules.Rule, partial *relation.Relation) (Result, error) {
	if v.failMode == ModeRaise {
		sample, err := partial.Rows(ctx, 10)
		if err != nil {
			return Result{}, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		return Result{}, &FailFastError{RuleName: rule.Name, RuleKind: rule.Kind.String(), Sample: sample}
	}

	capped, err := partial.Limit(ctx, v.rowCap)
	if err != nil {
		return Result{}, fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	return Result{IsValid: false, Valid: rel, Diagnostics: capped}, nil
}

// finalize caps and unions the partials, then splits the input.
func (v *Validator) finalize(ctx context.Context, rel *relation.Relation, violations []*relation.Relation) (Result, error) {
	diags, err := v.unionPartials(ctx, rel.Session(), violations)
	if err != nil {
		return Result{}, err
	}

	empty, err := diags.IsEmpty(ctx)
	if err != nil {
		return Result{}, err
	}

	valid := rel
	if !empty && len(v.idCols) > 0 {
		badIDs, err := diags.Distinct(ctx, v.idCols...)
		if err != nil {
			return Result{}, err
		}
		valid, err = rel.AntiJoin(ctx, badIDs, v.idCols)
		if err != nil {
			return Result{}, err
		}
	}

	return Result{IsValid: empty, Valid: valid, Diagnostics: diags}, nil
}

func (v *Validator) unionPartials(ctx context.Context, sess *relation.Session, parts []*relation.Relation) (*relation.Relation, error) {
	if len(parts) == 0 {
		return v.emptyDiagnostics(ctx, sess)
	}

	out, err := parts[0].Limit(ctx, v.rowCap)
	if err != nil {
		return nil, err
	}
	for _, p := range parts[1:] {
		capped, err := p.Limit(ctx, v.rowCap)
		if err != nil {
			return nil, err
		}
		out, err = out.UnionByName(ctx, capped)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func missingColumns(schema relation.Schema, required []string) []string {
	var missing []string
	for _, c := range required {
		if !schema.Has(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

func hasNested(schema relation.Schema) bool {
	for _, c := range schema {
		if c.Type.IsStruct() || c.Type.IsList() {
			return true
		}
	}
	return false
}
