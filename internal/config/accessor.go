package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dot-path accessors back `relaybot config get/set/list`. They work on the
// JSON form of the config so paths match the file the user edits by hand.

// asMap round-trips the config through JSON into a generic map.
func asMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "general.dataDir").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := asMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("no such key %q", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("%q is not a valid index", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("%q sits under a %T, not a section", key, current)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path, coercing "true"/"60"
// style strings to their JSON types, and writes the result back into cfg.
func SetByPath(cfg *Config, path string, value any) error {
	m, err := asMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	if len(parts) == 0 {
		return fmt.Errorf("empty path")
	}

	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok {
			next := make(map[string]any)
			parent[key] = next
			parent = next
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%q sits under a %T, not a section", key, child)
		}
		parent = childMap
	}
	parent[parts[len(parts)-1]] = coerceValue(value)

	newData, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(newData, cfg)
}

// coerceValue converts string input to bool/int/float when it parses as one.
func coerceValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with the mail and telegram tokens
// masked, safe for printing and logs.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var clean Config
	if err := json.Unmarshal(data, &clean); err != nil {
		return cfg
	}

	if clean.Mail.Token != "" {
		clean.Mail.Token = maskString(clean.Mail.Token)
	}
	if clean.Telegram.Token != "" {
		clean.Telegram.Token = maskString(clean.Telegram.Token)
	}
	return &clean
}

// maskString keeps the first and last 4 characters visible.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the config into dot paths and their current values.
func ListPaths(cfg *Config) map[string]any {
	m, err := asMap(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	flatten("", m, result)
	return result
}

func flatten(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(path, child, result)
			continue
		}
		result[path] = v
	}
}
