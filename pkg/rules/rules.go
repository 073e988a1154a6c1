// Package rules defines the declarative validation rule model: the closed set
// of rule kinds, the normalized Rule type, and the schema normalizer that
// checks a raw rule document before it ever reaches row-level execution.
package rules

import (
	"regexp"
	"strings"
)

// Kind discriminates the supported rule types. The set is closed: every
// operation over rules switches exhaustively on it, and unsupported types
// never survive normalization.
type Kind int

const (
	// KindInvalid marks an unsupported rule type.
	KindInvalid Kind = iota
	// KindHeaders requires the listed columns to exist in the schema.
	KindHeaders
	// KindNonEmpty requires values to be non-null and non-blank.
	KindNonEmpty
	// KindRange requires numeric values within [min, max].
	KindRange
	// KindEnum requires values to be members of an allowed list.
	KindEnum
	// KindLength requires character length within [min, max].
	KindLength
	// KindRegex requires values to match a pattern.
	KindRegex
	// KindUnique requires the column tuple to be unique across the relation.
	KindUnique
	// KindDecimal requires values to fit a fixed-point decimal type.
	KindDecimal
)

// String returns the document-level name of the kind.
func (k Kind) String() string {
	switch k {
	case KindHeaders:
		return "headers"
	case KindNonEmpty:
		return "non_empty"
	case KindRange:
		return "range"
	case KindEnum:
		return "enum"
	case KindLength:
		return "length"
	case KindRegex:
		return "regex"
	case KindUnique:
		return "unique"
	case KindDecimal:
		return "decimal"
	default:
		return "invalid"
	}
}

// ParseKind converts a document type string to a Kind.
// Returns KindInvalid and false for unsupported types.
func ParseKind(s string) (Kind, bool) {
	switch strings.TrimSpace(s) {
	case "headers":
		return KindHeaders, true
	case "non_empty":
		return KindNonEmpty, true
	case "range":
		return KindRange, true
	case "enum":
		return KindEnum, true
	case "length":
		return KindLength, true
	case "regex":
		return KindRegex, true
	case "unique":
		return KindUnique, true
	case "decimal":
		return KindDecimal, true
	default:
		return KindInvalid, false
	}
}

// Kinds returns the supported kind names in canonical order.
func Kinds() []string {
	return []string{"headers", "non_empty", "range", "enum", "length", "regex", "unique", "decimal"}
}

// Rule is a single normalized validation rule. Immutable once produced by
// the Normalizer.
type Rule struct {
	// Name uniquely identifies the rule within its set. Auto-generated as
	// "rule_<index>" when the document omits it.
	Name string

	// Kind is the rule type.
	Kind Kind

	// DeclaredKind is the type string from the document, preserved so that
	// unsupported kinds can still be reported downstream.
	DeclaredKind string

	// Column is the target column for single-column kinds.
	Column string

	// Columns is the target list for headers, non_empty and unique.
	Columns []string

	// Min and Max bound range, length and decimal rules. Nil when absent.
	Min *float64
	Max *float64

	// Allowed holds the enum membership list.
	Allowed []any

	// Pattern and Regexp hold the regex rule's pattern, compiled during
	// normalization so the engine never compiles user input.
	Pattern string
	Regexp  *regexp.Regexp

	// Precision, Scale and ExactScale parameterize decimal rules.
	Precision  int
	Scale      int
	ExactScale bool

	// Raw preserves the original document object, unknown keys included.
	Raw map[string]any
}

// Executable reports whether the rule survived normalization well enough to
// be evaluated against data.
func (r Rule) Executable() bool {
	return r.Kind != KindInvalid
}

// RuleSet is an ordered list of rules. Header rules always evaluate first
// regardless of their position in the set.
type RuleSet []Rule

// HeaderColumns returns all column paths referenced by headers rules, in
// document order. These are the paths the restricted flattener materializes.
func (rs RuleSet) HeaderColumns() []string {
	var paths []string
	for _, r := range rs {
		if r.Kind == KindHeaders {
			paths = append(paths, r.Columns...)
		}
	}
	return paths
}
