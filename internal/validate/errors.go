package validate

import "fmt"

// ConfigError reports a structurally broken rule reaching the engine.
// These indicate the rule set bypassed normalization; they are fatal and
// never recorded as row violations.
type ConfigError struct {
	Rule   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid rule %q: %s", e.Rule, e.Reason)
}

// FailFastError is returned in raise mode when the first non-empty violation
// partial is found. Sample holds at most ten diagnostic rows.
type FailFastError struct {
	RuleName string
	RuleKind string
	Sample   []map[string]any
}

func (e *FailFastError) Error() string {
	return fmt.Sprintf("[%s:%s] validation failed: %d sample violation(s)", e.RuleKind, e.RuleName, len(e.Sample))
}
