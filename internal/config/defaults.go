package config

// Default configuration values.
const (
	DefaultEngine    = "duckdb"
	DefaultDatabase  = ":memory:"
	DefaultStateFile = ".leapcheck/state.db"
	DefaultOutput    = "table"
	DefaultFailMode  = "return"
	DefaultMode      = "collect"
	DefaultRowCap    = 1000
	DefaultSeparator = "."
	DefaultMaxDepth  = 100
)

// defaults is the bottom configuration layer.
func defaults() map[string]any {
	return map[string]any{
		"engine":                    DefaultEngine,
		"database":                  DefaultDatabase,
		"state_path":                DefaultStateFile,
		"no_state":                  false,
		"output":                    DefaultOutput,
		"verbose":                   false,
		"validation.fail_fast":      false,
		"validation.fail_mode":      DefaultFailMode,
		"validation.row_cap":        DefaultRowCap,
		"validation.separator":      DefaultSeparator,
		"validation.max_depth":      DefaultMaxDepth,
		"normalize.mode":            DefaultMode,
		"normalize.fail_on_warning": false,
	}
}
