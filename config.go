// Copyright (c) the goaib authors. All rights reserved. Use of this
// source code is governed by the MIT license that can be found in the
// LICENSE file.

package goaib

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigTree is a read-mostly view over nested configuration maps with
// case-insensitive dotted lookup: Get("irc.servers") descends into the
// "irc" map and returns its "servers" value. Components receive scoped
// subtrees so they never see each other's settings.
type ConfigTree struct {
	data map[string]interface{}
}

// NewConfigTree wraps data, lowercasing every key recursively. The
// input map is not retained.
func NewConfigTree(data map[string]interface{}) *ConfigTree {
	return &ConfigTree{data: normalizeMap(data)}
}

func normalizeMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		out[strings.ToLower(key)] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return normalizeMap(v)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[strings.ToLower(fmt.Sprint(key))] = normalizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return value
	}
}

// LoadConfigFile parses a YAML file into a ConfigTree. A top-level
// config.load map of section names to file paths pulls each named file
// into that section; relative paths resolve against the main file's
// directory.
func LoadConfigFile(path string) (*ConfigTree, error) {
	data, err := loadYAML(path)
	if err != nil {
		return nil, err
	}

	tree := NewConfigTree(data)

	includes, ok := tree.Get("config.load")
	if ok {
		sections, ok := includes.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("config: config.load must map sections to files")
		}

		dir := filepath.Dir(path)
		for section, file := range sections {
			name, ok := file.(string)
			if !ok {
				return nil, fmt.Errorf("config: config.load.%s is not a file path", section)
			}
			if !filepath.IsAbs(name) {
				name = filepath.Join(dir, name)
			}

			sub, err := loadYAML(name)
			if err != nil {
				return nil, err
			}
			tree.Set(section, normalizeMap(sub))
		}
	}

	return tree, nil
}

func loadYAML(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	data := make(map[string]interface{})
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return data, nil
}

// Get returns the value at the dotted key, descending through nested
// maps. ok is false when any segment is missing.
func (t *ConfigTree) Get(key string) (interface{}, bool) {
	if t == nil || t.data == nil {
		return nil, false
	}

	segments := strings.Split(strings.ToLower(key), ".")
	var current interface{} = t.data

	for _, segment := range segments {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set stores value at the dotted key, creating intermediate maps.
func (t *ConfigTree) Set(key string, value interface{}) {
	if t.data == nil {
		t.data = make(map[string]interface{})
	}

	segments := strings.Split(strings.ToLower(key), ".")
	node := t.data
	for _, segment := range segments[:len(segments)-1] {
		next, ok := node[segment].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			node[segment] = next
		}
		node = next
	}
	node[segments[len(segments)-1]] = normalizeValue(value)
}

// Sub returns the subtree rooted at key. A missing or scalar key yields
// an empty tree, never nil, so scoped lookups degrade to zero values.
func (t *ConfigTree) Sub(key string) *ConfigTree {
	value, ok := t.Get(key)
	if !ok {
		return &ConfigTree{}
	}
	node, ok := value.(map[string]interface{})
	if !ok {
		return &ConfigTree{}
	}
	return &ConfigTree{data: node}
}

// GetString returns the value at key rendered as a string, "" when
// missing.
func (t *ConfigTree) GetString(key string) string {
	value, ok := t.Get(key)
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// GetInt returns the value at key as an int, 0 when missing or not
// numeric.
func (t *ConfigTree) GetInt(key string) int {
	value, ok := t.Get(key)
	if !ok {
		return 0
	}

	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// GetBool returns the value at key as a bool. Strings follow
// strconv.ParseBool; anything else is false.
func (t *ConfigTree) GetBool(key string) bool {
	value, ok := t.Get(key)
	if !ok {
		return false
	}

	switch v := value.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false
		}
		return b
	case int:
		return v != 0
	default:
		return false
	}
}

// GetStringSlice returns the value at key as a list of strings. A YAML
// list converts element-wise; a plain string splits on commas and
// whitespace, so "a b,c" and ["a", "b", "c"] configure the same thing.
func (t *ConfigTree) GetStringSlice(key string) []string {
	value, ok := t.Get(key)
	if !ok || value == nil {
		return nil
	}

	switch v := value.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
	default:
		return []string{fmt.Sprint(v)}
	}
}
