package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// sourceFormat is the config file syntax, chosen by extension.
type sourceFormat string

const (
	formatJSON sourceFormat = "json"
	formatYAML sourceFormat = "yaml"
)

func formatOf(path string) sourceFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// toJSON returns data as JSON so YAML configs go through the same strict
// decoder (unknown fields rejected) as JSON ones.
func toJSON(path string, data []byte) ([]byte, sourceFormat, error) {
	f := formatOf(path)
	if f == formatJSON {
		return data, f, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, f, fmt.Errorf("yaml: %w", err)
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, f, fmt.Errorf("yaml to json: %w", err)
	}
	return out, f, nil
}

// stringKeys rewrites map[any]any nodes (non-string YAML keys such as
// `1: x`) into map[string]any, which encoding/json requires.
func stringKeys(v any) any {
	switch n := v.(type) {
	case map[string]any:
		for k, child := range n {
			n[k] = stringKeys(child)
		}
		return n
	case map[any]any:
		m := make(map[string]any, len(n))
		for k, child := range n {
			m[fmt.Sprint(k)] = stringKeys(child)
		}
		return m
	case []any:
		for i := range n {
			n[i] = stringKeys(n[i])
		}
		return n
	default:
		return v
	}
}
