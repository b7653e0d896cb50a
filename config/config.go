//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoXform.
//
// GoXform is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoXform is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoXform. If not, see https://www.gnu.org/licenses/.

// Package config loads pipeline definitions from YAML or JSON documents and from a
// PostgreSQL table.
//
// Documents may reference environment variables with ${VAR_NAME} or
// ${VAR_NAME:-default}; references are substituted before parsing.
//
//	name: customers
//	error_strategy: skip
//	batch_size: 500
//	validation_rules:
//	  - field: email
//	    type: required
//	field_mappings:
//	  - source_field: name
//	    target_field: full_name
//	    transform: {type: trim}
//	operations:
//	  - type: redact
//	    order: 1
//	    config:
//	      fields: [ssn]
//	      replacement: ${REDACTION_TEXT:-hidden}
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gojson "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/aaronlmathis/goxform/core"
	"github.com/aaronlmathis/goxform/logging"
	"github.com/aaronlmathis/goxform/mapping"
	"github.com/aaronlmathis/goxform/operations"
	"github.com/aaronlmathis/goxform/validators"
)

// Format is a definition document format.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Definition is a complete, serialisable pipeline configuration.
type Definition struct {
	Name            string                      `mapstructure:"name" json:"name" yaml:"name"`
	Operations      []operations.Operation      `mapstructure:"operations" json:"operations,omitempty" yaml:"operations,omitempty"`
	FieldMappings   []mapping.FieldMapping      `mapstructure:"field_mappings" json:"field_mappings,omitempty" yaml:"field_mappings,omitempty"`
	ValidationRules []validators.ValidationRule `mapstructure:"validation_rules" json:"validation_rules,omitempty" yaml:"validation_rules,omitempty"`
	ErrorStrategy   string                      `mapstructure:"error_strategy" json:"error_strategy,omitempty" yaml:"error_strategy,omitempty"`
	BatchSize       int                         `mapstructure:"batch_size" json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Logging         logging.Config              `mapstructure:"logging" json:"logging,omitempty" yaml:"logging,omitempty"`
}

// Strategy parses the definition's error strategy.
func (d *Definition) Strategy() (core.ErrorStrategy, error) {
	return core.ParseErrorStrategy(d.ErrorStrategy)
}

// Validate checks the fields that are not checked when the pipeline is compiled.
func (d *Definition) Validate() error {
	if d.BatchSize < 0 {
		return core.NewError(core.KindConfig, fmt.Sprintf("batch_size must not be negative, got %d", d.BatchSize))
	}
	if _, err := d.Strategy(); err != nil {
		return err
	}
	return nil
}

// Load reads a definition file. The format follows the extension: .json is JSON,
// .yaml and .yml are YAML.
func Load(path string) (*Definition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: definition path is supplied by the caller
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return Parse(data, format)
}

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", core.NewError(core.KindConfig, fmt.Sprintf("unsupported definition file extension %q", filepath.Ext(path)))
	}
}

// Parse substitutes environment variables in data and decodes it as a definition.
func Parse(data []byte, format Format) (*Definition, error) {
	content := []byte(SubstituteEnv(string(data)))

	var raw map[string]interface{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case FormatJSON:
		if err := gojson.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, core.NewError(core.KindConfig, fmt.Sprintf("unsupported definition format %q", format))
	}

	return decode(raw)
}

func decode(raw map[string]interface{}) (*Definition, error) {
	def := &Definition{}
	if err := core.DecodeConfig(raw, def); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Marshal encodes a definition in the given format.
func Marshal(def *Definition, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(def)
	case FormatJSON:
		return gojson.MarshalIndent(def, "", "  ")
	default:
		return nil, core.NewError(core.KindConfig, fmt.Sprintf("unsupported definition format %q", format))
	}
}

// SubstituteEnv replaces ${VAR_NAME} with the variable's value and
// ${VAR_NAME:-default} with the value, or default when the variable is unset or
// empty. An unterminated reference is left as is.
func SubstituteEnv(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			b.WriteString(content)
			return b.String()
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			b.WriteString(content)
			return b.String()
		}
		end += start

		b.WriteString(content[:start])
		name := content[start+2 : end]
		fallback := ""
		if i := strings.Index(name, ":-"); i >= 0 {
			name, fallback = name[:i], name[i+2:]
		}
		value := os.Getenv(name)
		if value == "" {
			value = fallback
		}
		b.WriteString(value)
		content = content[end+1:]
	}
}
