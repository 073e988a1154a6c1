// Package config provides leapcheck's layered configuration: defaults,
// leapcheck.yaml, LEAPCHECK_ environment variables, then CLI flags.
package config

import (
	"fmt"

	"github.com/leapstack-labs/leapcheck/pkg/rules"
)

// Config holds the full runtime configuration.
type Config struct {
	// Engine selects the registered database adapter.
	Engine string `koanf:"engine"`

	// Database is the database path backing the relation engine, or ":memory:".
	Database string `koanf:"database"`

	// RulesFile is the default rule document path.
	RulesFile string `koanf:"rules_file"`

	// StatePath is the run-history SQLite file.
	StatePath string `koanf:"state_path"`

	// NoState disables run-history recording.
	NoState bool `koanf:"no_state"`

	// Output selects the render format: table, json or csv.
	Output string `koanf:"output"`

	// Verbose enables debug logging.
	Verbose bool `koanf:"verbose"`

	Validation ValidationConfig `koanf:"validation"`
	Normalize  NormalizeConfig  `koanf:"normalize"`
}

// ValidationConfig holds engine defaults.
type ValidationConfig struct {
	// IDColumns identify rows for exclusion from the valid relation.
	IDColumns []string `koanf:"id_cols"`

	// FailFast stops at the first non-empty violation partial.
	FailFast bool `koanf:"fail_fast"`

	// FailMode is "return" or "raise".
	FailMode string `koanf:"fail_mode"`

	// RowCap limits each violation partial's reported rows.
	RowCap int `koanf:"row_cap"`

	// Separator joins flattened column path segments.
	Separator string `koanf:"separator"`

	// MaxDepth bounds the flatten/explode fixed-point loops.
	MaxDepth int `koanf:"max_depth"`
}

// NormalizeConfig holds rule-schema normalizer defaults.
type NormalizeConfig struct {
	// Mode is "collect", "fail_fast" or "raise".
	Mode string `koanf:"mode"`

	// FailOnWarning promotes WARN issues to ERROR.
	FailOnWarning bool `koanf:"fail_on_warning"`
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	switch c.Output {
	case "table", "json", "csv":
	default:
		return fmt.Errorf("invalid output format %q (expected table, json or csv)", c.Output)
	}

	if _, ok := parseFailMode(c.Validation.FailMode); !ok {
		return fmt.Errorf("invalid fail_mode %q (expected return or raise)", c.Validation.FailMode)
	}
	if _, ok := rules.ParseMode(c.Normalize.Mode); !ok {
		return fmt.Errorf("invalid normalize mode %q (expected collect, fail_fast or raise)", c.Normalize.Mode)
	}
	if c.Validation.RowCap < 0 {
		return fmt.Errorf("row_cap must be non-negative")
	}
	return nil
}

func parseFailMode(s string) (string, bool) {
	switch s {
	case "", "return":
		return "return", true
	case "raise":
		return "raise", true
	default:
		return "", false
	}
}
