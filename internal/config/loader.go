package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config file names, in lookup order.
const (
	ConfigFileName    = "leapcheck.yaml"
	ConfigFileNameAlt = "leapcheck.yml"
)

// maxUpwardSearchLevels limits how far up the directory tree to search for
// a config file.
const maxUpwardSearchLevels = 10

// Load builds the configuration. Precedence, highest to lowest:
// flags > LEAPCHECK_ env vars > config file > defaults.
// cfgFile may be empty, in which case leapcheck.yaml is searched upward
// from the working directory.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == "" {
		cfgFile = findConfigFile()
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// LEAPCHECK_OUTPUT -> output; LEAPCHECK_VALIDATION__ROW_CAP ->
	// validation.row_cap (double underscore nests).
	if err := k.Load(env.Provider("LEAPCHECK_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "LEAPCHECK_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKey maps a flag name to its config key.
func flagKey(name string) string {
	switch name {
	case "id-cols":
		return "validation.id_cols"
	case "fail-fast":
		return "validation.fail_fast"
	case "fail-mode":
		return "validation.fail_mode"
	case "row-cap":
		return "validation.row_cap"
	case "separator":
		return "validation.separator"
	case "mode":
		return "normalize.mode"
	case "fail-on-warning":
		return "normalize.fail_on_warning"
	case "rules":
		return "rules_file"
	case "state":
		return "state_path"
	case "no-state":
		return "no_state"
	default:
		return strings.ReplaceAll(name, "-", "_")
	}
}

// findConfigFile searches upward from the working directory.
func findConfigFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for i := 0; i < maxUpwardSearchLevels; i++ {
		for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
