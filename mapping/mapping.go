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

// Package mapping copies values between record paths according to declarative field
// mappings, optionally transforming each value on the way.
package mapping

import (
	"fmt"
	"strings"

	"github.com/aaronlmathis/goxform/core"
	"github.com/aaronlmathis/goxform/transform"
)

// FieldMapping copies the value at SourceField to TargetField.
//
// DefaultValue is used when the source is missing or nil. Transform is an optional
// map function spec ({type: trim}, {type: concat, fields: [...]}, ...) applied to the
// resolved value before assignment. An empty SourceField selects the whole record.
type FieldMapping struct {
	SourceField  string                 `mapstructure:"source_field" json:"source_field" yaml:"source_field"`
	TargetField  string                 `mapstructure:"target_field" json:"target_field" yaml:"target_field"`
	DefaultValue interface{}            `mapstructure:"default_value" json:"default_value,omitempty" yaml:"default_value,omitempty"`
	Transform    map[string]interface{} `mapstructure:"transform" json:"transform,omitempty" yaml:"transform,omitempty"`
}

// Mapper applies compiled field mappings in declaration order; later mappings
// overwrite earlier ones that share a target.
type Mapper struct {
	mappings []compiled
}

type compiled struct {
	mapping FieldMapping
	source  []core.PathStep
	target  []core.PathStep
	fn      transform.Function
}

// Result is the output of applying a Mapper.
type Result struct {
	Data     interface{}
	Warnings []string
}

// New compiles mappings. Empty or malformed target paths, malformed source paths and
// unknown transform types are configuration errors.
func New(mappings []FieldMapping) (*Mapper, error) {
	m := &Mapper{mappings: make([]compiled, 0, len(mappings))}
	for i, fm := range mappings {
		c, err := compile(fm)
		if err != nil {
			return nil, core.WrapError(err, core.KindConfig, fmt.Sprintf("field mapping %d (%s -> %s)", i+1, fm.SourceField, fm.TargetField))
		}
		m.mappings = append(m.mappings, c)
	}
	return m, nil
}

// Decode decodes a loosely typed mapping list.
func Decode(input interface{}) ([]FieldMapping, error) {
	var mappings []FieldMapping
	if err := core.DecodeConfig(input, &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}

func compile(fm FieldMapping) (compiled, error) {
	if strings.TrimSpace(fm.TargetField) == "" {
		return compiled{}, fmt.Errorf("%w: target_field is required", core.ErrInvalidPath)
	}
	target, err := core.ParseTargetPath(fm.TargetField)
	if err != nil {
		return compiled{}, err
	}
	source, err := core.ParsePath(fm.SourceField)
	if err != nil {
		return compiled{}, err
	}

	c := compiled{mapping: fm, source: source, target: target}
	if len(fm.Transform) > 0 {
		fn, err := transform.CompileConfig(fm.Transform)
		if err != nil {
			return compiled{}, err
		}
		c.fn = fn
	}
	return c, nil
}

// Len returns the number of mappings.
func (m *Mapper) Len() int {
	if m == nil {
		return 0
	}
	return len(m.mappings)
}

// Apply maps a record or each record of a sequence into fresh records. Sources that
// are missing without a default leave their target unset and are reported once per
// mapping as a warning.
func (m *Mapper) Apply(data interface{}) (*Result, error) {
	misses := make([]int, len(m.mappings))

	var out interface{}
	if items, ok := data.([]interface{}); ok {
		mapped := make([]interface{}, len(items))
		for i, item := range items {
			record, _ := core.AsRecord(item)
			rec, err := m.mapRecord(record, misses)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i+1, err)
			}
			mapped[i] = rec
		}
		out = mapped
	} else {
		record, _ := core.AsRecord(data)
		rec, err := m.mapRecord(record, misses)
		if err != nil {
			return nil, err
		}
		out = rec
	}

	result := &Result{Data: out}
	for i, n := range misses {
		if n == 0 {
			continue
		}
		fm := m.mappings[i].mapping
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"source field %s not found in %d record(s); %s left unset", fm.SourceField, n, fm.TargetField))
	}
	return result, nil
}

// MapRecord maps a single record.
func (m *Mapper) MapRecord(record core.Record) (core.Record, error) {
	return m.mapRecord(record, make([]int, len(m.mappings)))
}

func (m *Mapper) mapRecord(record core.Record, misses []int) (core.Record, error) {
	out := make(core.Record)
	for i, c := range m.mappings {
		var (
			value interface{}
			found bool
		)
		if record != nil {
			value, found = core.GetSteps(record, c.source)
		}
		if !found || value == nil {
			switch {
			case c.mapping.DefaultValue != nil:
				value = c.mapping.DefaultValue
			case !found:
				misses[i]++
				continue
			}
		}

		value = core.DeepCopy(value)
		if c.fn != nil {
			value = c.fn.Apply(value, record)
		}
		if err := core.SetSteps(out, c.target, value); err != nil {
			return nil, err
		}
	}
	return out, nil
}
