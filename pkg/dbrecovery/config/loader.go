package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
	"gopkg.in/yaml.v3"
)

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json, .ini
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	case ".ini":
		return FromINI(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// FromINI parses INI data into a Config. Keys before the first section
// header are top-level; every [section] becomes a nested Config reachable
// through Section. All values are strings.
func FromINI(data []byte) (Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse ini: %w", err)
	}

	root := make(map[string]any)
	for _, section := range f.Sections() {
		target := root
		if section.Name() != ini.DefaultSection {
			target = make(map[string]any)
			root[section.Name()] = target
		}
		for _, key := range section.Keys() {
			target[key.Name()] = key.String()
		}
	}
	return New(root), nil
}
