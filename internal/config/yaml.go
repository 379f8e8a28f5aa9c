package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type fileFormat string

const (
	formatJSON fileFormat = "json"
	formatYAML fileFormat = "yaml"
)

// detectFormat goes by extension, then by content: a leading '{' is JSON,
// anything else YAML.
func detectFormat(path string, data []byte) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".json":
		return formatJSON
	}
	if b := bytes.TrimSpace(data); len(b) > 0 && b[0] == '{' {
		return formatJSON
	}
	return formatYAML
}

// toJSON returns data as JSON so both formats share the strict decoder.
func toJSON(path string, data []byte) ([]byte, error) {
	if detectFormat(path, data) == formatJSON {
		return data, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("yaml %s: %w", filepath.Base(path), err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, fmt.Errorf("yaml %s: %w", filepath.Base(path), err)
		}
		return nil, fmt.Errorf("yaml %s: multiple documents", filepath.Base(path))
	}
	if v == nil {
		v = map[string]any{}
	}
	return json.Marshal(stringKeys(v))
}

// stringKeys rewrites map keys to strings; JSON has no other key type.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
