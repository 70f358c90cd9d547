// v0
// internal/config/yaml.go
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// applyYAML reads a YAML document whose nested keys flatten onto the
// property names: kafka: {readings_topic: x} sets kafka_readings_topic.
// Sequences are joined with commas.
func applyYAML(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	flat := make(map[string]string)
	flatten("", doc, flat)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := setProperty(cfg, key, flat[key]); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	return nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := normalizeKey(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		case nil:
			out[key] = ""
		default:
			out[key] = strings.TrimSpace(fmt.Sprint(val))
		}
	}
}
