package rules

import "strings"

// Severity indicates the importance of a schema validation issue.
type Severity int

// Severity levels for issues.
const (
	// SeverityError indicates a rule that cannot be executed as written.
	SeverityError Severity = iota
	// SeverityWarning indicates a suspicious but executable rule.
	SeverityWarning
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARN"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a string to a Severity value.
// Returns the severity and true if valid, or SeverityWarning and false if invalid.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(s) {
	case "ERROR":
		return SeverityError, true
	case "WARN", "WARNING":
		return SeverityWarning, true
	default:
		return SeverityWarning, false
	}
}

// Issue represents a finding from rule-set normalization.
// Issues are created by the Normalizer and never mutated afterwards.
type Issue struct {
	// RuleName is the (possibly auto-generated) name of the rule.
	RuleName string

	// RuleKind is the declared rule type, verbatim from the document.
	RuleKind string

	// Path locates the problem inside the document, e.g. "[2].min/max".
	Path string

	// Severity is ERROR or WARN.
	Severity Severity

	// Message is a human-readable description.
	Message string
}

// HasErrors reports whether any issue in the list is an ERROR.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
