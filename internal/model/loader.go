package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadMonitorFile reads a monitor definition from a YAML or JSON file,
// assigns missing trigger/action ids, and validates it.
func LoadMonitorFile(path string) (*Monitor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read monitor file: %w", err)
	}

	var monitor *Monitor
	switch filepath.Ext(path) {
	case ".json":
		monitor, err = ParseMonitorJSON(data)
	default:
		monitor, err = ParseMonitorYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return monitor, nil
}

// ParseMonitorYAML decodes, completes, and validates a YAML monitor document.
func ParseMonitorYAML(data []byte) (*Monitor, error) {
	var m Monitor
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m.EnsureIDs()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseMonitorJSON decodes, completes, and validates a JSON monitor document.
func ParseMonitorJSON(data []byte) (*Monitor, error) {
	var m Monitor
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m.EnsureIDs()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
