package market

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTables returns the built-in tables extended with the overrides in the
// YAML file at path. An empty path yields the defaults.
func LoadTables(path string) (*SymbolTables, error) {
	tables := DefaultTables()
	if path == "" {
		return tables, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbol map: %w", err)
	}
	overrides, err := ParseTables(raw)
	if err != nil {
		return nil, err
	}
	tables.Extend(overrides)
	return tables, nil
}

// ParseTables decodes a YAML symbol map document
func ParseTables(raw []byte) (*SymbolTables, error) {
	var t SymbolTables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse symbol map: %w", err)
	}
	return &t, nil
}
