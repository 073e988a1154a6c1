package rules

import (
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"
)

// Load parses a relaxed-JSON rule document: standard JSON extended with
// line and block comments and trailing commas. The top level must be an
// array of rule objects.
func Load(text string) ([]map[string]any, error) {
	standardized, err := hujson.Standardize([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("invalid rules document: %w", err)
	}
	return LoadJSON(string(standardized))
}

// LoadJSON parses a strict JSON rule document.
func LoadJSON(text string) ([]map[string]any, error) {
	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("invalid rules document: %w", err)
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("rules document must be a JSON array of rule objects")
	}

	rules := make([]map[string]any, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule [%d] must be an object, got %T", i, item)
		}
		rules = append(rules, obj)
	}
	return rules, nil
}
