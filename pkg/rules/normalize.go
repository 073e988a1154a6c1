package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Mode controls how the Normalizer reacts to ERROR issues.
type Mode int

const (
	// ModeCollect evaluates every rule and returns all issues.
	ModeCollect Mode = iota
	// ModeFailFast stops at the first ERROR and returns the issues so far.
	ModeFailFast
	// ModeRaise stops at the first ERROR and returns a *SchemaError.
	ModeRaise
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "collect", "":
		return ModeCollect, true
	case "fail_fast":
		return ModeFailFast, true
	case "raise":
		return ModeRaise, true
	default:
		return ModeCollect, false
	}
}

// SchemaError is returned in ModeRaise when normalization hits an ERROR.
// Schema failures are configuration errors: fatal, never retried, and never
// allowed to reach row-level execution.
type SchemaError struct {
	Issue Issue
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("[%s:%s] %s at %s", e.Issue.RuleKind, e.Issue.RuleName, e.Issue.Message, e.Issue.Path)
}

// Default decimal parameters applied when a decimal rule omits them.
const (
	DefaultDecimalPrecision = 18
	DefaultDecimalScale     = 2
)

// Bounds applied when a length rule omits them.
const (
	DefaultLengthMin = 0
	DefaultLengthMax = 1_000_000
)

// Normalizer validates and normalizes raw rule documents.
type Normalizer struct {
	// DefaultPrecision and DefaultScale fill absent decimal parameters.
	DefaultPrecision int
	DefaultScale     int
}

// NewNormalizer creates a Normalizer with standard defaults.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		DefaultPrecision: DefaultDecimalPrecision,
		DefaultScale:     DefaultDecimalScale,
	}
}

// Options configure a Validate call.
type Options struct {
	// DatasetColumns is an optional hint of the dataset's column names.
	// When present, rules referencing unknown columns get a WARN; a nil
	// hint disables these advisories entirely.
	DatasetColumns []string

	// FailOnWarning promotes every WARN to ERROR before the verdict.
	FailOnWarning bool

	// Mode selects collect, fail_fast or raise behavior.
	Mode Mode
}

// Validate checks each raw rule against its contract, fills defaults, and
// returns (is_valid, normalized rules, issues). is_valid is true iff no
// ERROR-severity issue exists. The returned error is non-nil only in
// ModeRaise, and is always a *SchemaError.
//
// Invalid rules are reported, never silently discarded: an unsupported type
// is excluded from the executable rule set but still yields an ERROR issue.
func (n *Normalizer) Validate(raw []map[string]any, opts Options) (bool, RuleSet, []Issue, error) {
	run := &normalizeRun{normalizer: n, opts: opts}

	namesSeen := make(map[string]struct{})
	headersCount := 0
	supported := make([]map[string]any, 0, len(raw))

	for idx, doc := range raw {
		path := fmt.Sprintf("[%d]", idx)
		declaredKind := strings.TrimSpace(asString(doc["type"]))

		name := strings.TrimSpace(asString(doc["name"]))
		if name == "" {
			name = fmt.Sprintf("rule_%d", idx)
		}
		doc["name"] = name

		kind, ok := ParseKind(declaredKind)
		if !ok {
			stop := run.report(Issue{
				RuleName: name,
				RuleKind: declaredKind,
				Path:     path,
				Severity: SeverityError,
				Message:  fmt.Sprintf("Unsupported type %q. Supported: %v", declaredKind, Kinds()),
			})
			if stop {
				return false, run.buildRules(supported), run.issues, run.err
			}
			continue
		}

		if _, dup := namesSeen[name]; dup {
			if stop := run.report(Issue{
				RuleName: name,
				RuleKind: declaredKind,
				Path:     path,
				Severity: SeverityError,
				Message:  "Duplicate rule name",
			}); stop {
				return false, run.buildRules(supported), run.issues, run.err
			}
		}
		namesSeen[name] = struct{}{}

		if kind == KindHeaders {
			headersCount++
		}

		checkers[kind](run, doc, name, declaredKind, path)
		supported = append(supported, doc)

		if run.opts.Mode == ModeFailFast && HasErrors(run.issues) {
			return false, run.buildRules(supported), run.issues, nil
		}
		if run.err != nil {
			return false, run.buildRules(supported), run.issues, run.err
		}
	}

	// Cross-rule advisories.
	if headersCount == 0 && opts.DatasetColumns != nil {
		if stop := run.report(Issue{
			RuleName: "<schema>",
			RuleKind: "headers",
			Path:     "$",
			Severity: SeverityWarning,
			Message:  "No 'headers' rule present; column presence not enforced.",
		}); stop {
			return false, run.buildRules(supported), run.issues, run.err
		}
	}
	if headersCount > 1 {
		if stop := run.report(Issue{
			RuleName: "<schema>",
			RuleKind: "headers",
			Path:     "$",
			Severity: SeverityWarning,
			Message:  "Multiple 'headers' rules present; consider consolidating.",
		}); stop {
			return false, run.buildRules(supported), run.issues, run.err
		}
	}

	if opts.FailOnWarning {
		for i := range run.issues {
			if run.issues[i].Severity == SeverityWarning {
				run.issues[i].Severity = SeverityError
			}
		}
	}

	isValid := !HasErrors(run.issues)
	return isValid, run.buildRules(supported), run.issues, nil
}

// normalizeRun carries the per-call state shared by the checkers.
type normalizeRun struct {
	normalizer *Normalizer
	opts       Options
	issues     []Issue
	err        error
}

// report appends an issue and returns true when processing must stop.
func (r *normalizeRun) report(issue Issue) bool {
	r.issues = append(r.issues, issue)

	if issue.Severity != SeverityError {
		return false
	}
	switch r.opts.Mode {
	case ModeRaise:
		r.err = &SchemaError{Issue: issue}
		return true
	case ModeFailFast:
		return true
	default:
		return false
	}
}

// checkFunc validates one rule document in place, filling defaults.
type checkFunc func(r *normalizeRun, doc map[string]any, name, kind, path string)

// checkers is the immutable kind-to-checker table, built once at startup.
// Adding a rule kind means adding exactly one entry here and one case to the
// engine's predicate dispatch.
var checkers = map[Kind]checkFunc{
	KindHeaders:  checkHeaders,
	KindNonEmpty: checkColumnsList,
	KindRange:    checkRange,
	KindEnum:     checkEnum,
	KindLength:   checkLength,
	KindRegex:    checkRegex,
	KindUnique:   checkColumnsList,
	KindDecimal:  checkDecimal,
}

func checkHeaders(r *normalizeRun, doc map[string]any, name, kind, path string) {
	r.requireStringList(doc, "columns", name, kind, path)
	if len(r.opts.DatasetColumns) > 0 {
		if cols, ok := stringList(doc["columns"]); ok {
			var missing []string
			for _, c := range cols {
				if !containsString(r.opts.DatasetColumns, c) {
					missing = append(missing, c)
				}
			}
			if len(missing) > 0 {
				r.report(Issue{
					RuleName: name, RuleKind: kind, Path: path + ".columns",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("Columns not in dataset hint: %v", missing),
				})
			}
		}
	}
}

func checkColumnsList(r *normalizeRun, doc map[string]any, name, kind, path string) {
	r.requireStringList(doc, "columns", name, kind, path)
	r.warnUnknownColumns(doc, "columns", name, kind, path)
}

func checkRange(r *normalizeRun, doc map[string]any, name, kind, path string) {
	r.requireKeys(doc, []string{"column", "min", "max"}, name, kind, path)
	r.warnUnknownColumn(doc, name, kind, path)

	_, hasMin := doc["min"]
	_, hasMax := doc["max"]
	if !hasMin || !hasMax {
		return
	}
	mn, okMin := toFloat(doc["min"])
	mx, okMax := toFloat(doc["max"])
	if !okMin || !okMax {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + ".min/max",
			Severity: SeverityError, Message: "min/max must be numeric",
		})
		return
	}
	if mn > mx {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + ".min/max",
			Severity: SeverityError, Message: "min must be <= max",
		})
	}
}

func checkEnum(r *normalizeRun, doc map[string]any, name, kind, path string) {
	r.requireKeys(doc, []string{"column"}, name, kind, path)
	r.warnUnknownColumn(doc, name, kind, path)

	// "allowedValues" is an accepted alias for "allowed".
	if _, ok := doc["allowed"]; !ok {
		if alias, ok := doc["allowedValues"]; ok {
			doc["allowed"] = alias
		}
	}
	allowed, ok := doc["allowed"].([]any)
	if !ok || len(allowed) == 0 {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + ".allowed",
			Severity: SeverityError, Message: "Provide non-empty 'allowed' list",
		})
	}
}

func checkLength(r *normalizeRun, doc map[string]any, name, kind, path string) {
	r.requireKeys(doc, []string{"column"}, name, kind, path)
	r.warnUnknownColumn(doc, name, kind, path)

	mn, okMin := toIntDefault(doc["min"], DefaultLengthMin)
	mx, okMax := toIntDefault(doc["max"], DefaultLengthMax)
	if !okMin || !okMax {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + ".min/max",
			Severity: SeverityError, Message: "min/max must be integers",
		})
		return
	}
	doc["min"], doc["max"] = mn, mx
	if mn < 0 || mx < 0 || mn > mx {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + ".min/max",
			Severity: SeverityError, Message: "0 <= min <= max required",
		})
	}
}

func checkRegex(r *normalizeRun, doc map[string]any, name, kind, path string) {
	r.requireKeys(doc, []string{"column", "pattern"}, name, kind, path)
	r.warnUnknownColumn(doc, name, kind, path)

	pattern := asString(doc["pattern"])
	if _, err := regexp.Compile(pattern); err != nil {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + ".pattern",
			Severity: SeverityError, Message: fmt.Sprintf("Invalid regex: %v", err),
		})
	}
}

func checkDecimal(r *normalizeRun, doc map[string]any, name, kind, path string) {
	r.requireKeys(doc, []string{"column"}, name, kind, path)
	r.warnUnknownColumn(doc, name, kind, path)

	prec, okPrec := toIntDefault(doc["precision"], r.normalizer.DefaultPrecision)
	scale, okScale := toIntDefault(doc["scale"], r.normalizer.DefaultScale)
	if !okPrec || !okScale {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + ".precision/scale",
			Severity: SeverityError, Message: "precision/scale must be integers",
		})
		return
	}
	doc["precision"], doc["scale"] = prec, scale

	exact, _ := doc["exact_scale"].(bool)
	doc["exact_scale"] = exact

	if prec <= 0 || scale < 0 || scale > prec {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + ".precision/scale",
			Severity: SeverityError, Message: "Require precision>0 and 0<=scale<=precision",
		})
	}

	for _, key := range []string{"min", "max"} {
		v, ok := doc[key]
		if !ok {
			continue
		}
		f, numeric := toFloat(v)
		if !numeric {
			r.report(Issue{
				RuleName: name, RuleKind: kind, Path: path + "." + key,
				Severity: SeverityError, Message: key + " must be numeric",
			})
			continue
		}
		// A bound the declared type cannot hold would fail to cast at
		// execution time and flag every row.
		if prec > 0 && scale >= 0 && scale <= prec && math.Abs(f) >= math.Pow(10, float64(prec-scale)) {
			r.report(Issue{
				RuleName: name, RuleKind: kind, Path: path + "." + key,
				Severity: SeverityError,
				Message:  fmt.Sprintf("%s %v not representable as DECIMAL(%d,%d)", key, v, prec, scale),
			})
		}
	}
}

// requireKeys reports an ERROR for each missing key.
func (r *normalizeRun) requireKeys(doc map[string]any, keys []string, name, kind, path string) {
	for _, k := range keys {
		if _, ok := doc[k]; !ok {
			r.report(Issue{
				RuleName: name, RuleKind: kind, Path: path + "." + k,
				Severity: SeverityError, Message: fmt.Sprintf("Missing required key %q", k),
			})
		}
	}
}

// requireStringList reports an ERROR unless doc[key] is a non-empty list of
// non-blank strings.
func (r *normalizeRun) requireStringList(doc map[string]any, key, name, kind, path string) {
	if _, ok := stringList(doc[key]); !ok {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + "." + key,
			Severity: SeverityError,
			Message:  fmt.Sprintf("Provide non-empty list of strings in %q", key),
		})
	}
}

func (r *normalizeRun) warnUnknownColumn(doc map[string]any, name, kind, path string) {
	if len(r.opts.DatasetColumns) == 0 {
		return
	}
	c := asString(doc["column"])
	if c != "" && !containsString(r.opts.DatasetColumns, c) {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + ".column",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Column %q not in dataset hint", c),
		})
	}
}

func (r *normalizeRun) warnUnknownColumns(doc map[string]any, key, name, kind, path string) {
	if len(r.opts.DatasetColumns) == 0 {
		return
	}
	cols, ok := stringList(doc[key])
	if !ok {
		return
	}
	var unknown []string
	for _, c := range cols {
		if !containsString(r.opts.DatasetColumns, c) {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) > 0 {
		r.report(Issue{
			RuleName: name, RuleKind: kind, Path: path + "." + key,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Columns not in dataset hint: %v", unknown),
		})
	}
}

// buildRules decodes the checked, default-filled documents into typed rules.
func (r *normalizeRun) buildRules(docs []map[string]any) RuleSet {
	rules := make(RuleSet, 0, len(docs))
	for _, doc := range docs {
		rules = append(rules, decodeRule(doc))
	}
	return rules
}

// ruleDoc is the mapstructure target for the typed portion of a rule object.
type ruleDoc struct {
	Name       string   `mapstructure:"name"`
	Type       string   `mapstructure:"type"`
	Column     string   `mapstructure:"column"`
	Columns    []string `mapstructure:"columns"`
	Pattern    string   `mapstructure:"pattern"`
	Allowed    []any    `mapstructure:"allowed"`
	Precision  int      `mapstructure:"precision"`
	Scale      int      `mapstructure:"scale"`
	ExactScale bool     `mapstructure:"exact_scale"`
}

func decodeRule(doc map[string]any) Rule {
	kind, _ := ParseKind(asString(doc["type"]))
	rule := Rule{
		Name:         asString(doc["name"]),
		Kind:         kind,
		DeclaredKind: asString(doc["type"]),
		Raw:          doc,
	}

	var rd ruleDoc
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rd,
		WeaklyTypedInput: true,
	})
	if err == nil {
		// Decode failures leave the affected fields zero; the normalizer has
		// already reported the contract violation.
		_ = dec.Decode(doc)
	}

	rule.Column = rd.Column
	rule.Columns = rd.Columns
	rule.Pattern = rd.Pattern
	rule.Allowed = rd.Allowed
	rule.Precision = rd.Precision
	rule.Scale = rd.Scale
	rule.ExactScale = rd.ExactScale

	if v, ok := doc["min"]; ok {
		if f, numeric := toFloat(v); numeric {
			rule.Min = &f
		}
	}
	if v, ok := doc["max"]; ok {
		if f, numeric := toFloat(v); numeric {
			rule.Max = &f
		}
	}

	if kind == KindRegex && rule.Pattern != "" {
		if re, err := regexp.Compile(rule.Pattern); err == nil {
			rule.Regexp = re
		}
	}

	return rule
}

// Conversion helpers.

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func stringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		if len(list) == 0 {
			return nil, false
		}
		for _, s := range list {
			if strings.TrimSpace(s) == "" {
				return nil, false
			}
		}
		return list, true
	case []any:
		if len(list) == 0 {
			return nil, false
		}
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toIntDefault coerces v to int, returning def when v is absent.
func toIntDefault(v any, def int) (int, bool) {
	if v == nil {
		return def, true
	}
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
