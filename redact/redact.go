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

// Package redact masks sensitive values in nested records, by path and by content
// pattern.
package redact

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aaronlmathis/goxform/core"
)

// DefaultReplacement replaces values at redacted paths.
const DefaultReplacement = "***REDACTED***"

// Config is the redact operation payload.
//
// Fields are paths relative to each record; "[*]" (or "*") matches any index or key.
// Patterns are names of built-in detectors ("ssn", "email", "credit_card", "phone") or
// objects {type: regex, regex, replacement, flags}.
type Config struct {
	Fields      []string      `mapstructure:"fields" json:"fields,omitempty" yaml:"fields,omitempty"`
	Patterns    []interface{} `mapstructure:"patterns" json:"patterns,omitempty" yaml:"patterns,omitempty"`
	Replacement string        `mapstructure:"replacement" json:"replacement,omitempty" yaml:"replacement,omitempty"`
}

// Pattern is a content detector with its replacement template.
type Pattern struct {
	Type        string `mapstructure:"type"`
	Regex       string `mapstructure:"regex"`
	Replacement string `mapstructure:"replacement"`
	Flags       string `mapstructure:"flags"`
}

type detector struct {
	re          *regexp.Regexp
	replacement string
}

var builtins = map[string]Pattern{
	"ssn": {
		Regex:       `\b\d{3}-\d{2}-(\d{4})\b`,
		Replacement: "***-**-${1}",
	},
	"email": {
		Regex:       `\b([A-Za-z0-9._%+-]{1,2})[A-Za-z0-9._%+-]*(@[A-Za-z0-9.-]+\.[A-Za-z]{2,})\b`,
		Replacement: "${1}***${2}",
	},
	"credit_card": {
		Regex:       `\b(?:\d{4}[-\s]?){3}(\d{4})\b`,
		Replacement: "****-****-****-${1}",
	},
	"phone": {
		Regex:       `(?:\+?1[-.\s]?)?(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?(\d{4})\b`,
		Replacement: "***-***-${1}",
	},
}

// Redactor applies compiled field and pattern redaction. It is immutable.
type Redactor struct {
	fields      [][]core.PathStep
	detectors   []detector
	replacement string
}

// Compile decodes and compiles a redact config payload.
func Compile(config map[string]interface{}) (*Redactor, error) {
	var cfg Config
	if err := core.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return New(cfg)
}

// New compiles a Config. Invalid paths, unknown detector names and bad regular
// expressions are configuration errors.
func New(cfg Config) (*Redactor, error) {
	r := &Redactor{replacement: cfg.Replacement}
	if r.replacement == "" {
		r.replacement = DefaultReplacement
	}

	for _, field := range cfg.Fields {
		steps, err := core.ParsePath(field)
		if err != nil || len(steps) == 0 {
			return nil, core.NewError(core.KindConfig, fmt.Sprintf("invalid redact field %q", field))
		}
		r.fields = append(r.fields, steps)
	}

	for i, raw := range cfg.Patterns {
		det, err := compilePattern(raw)
		if err != nil {
			return nil, core.WrapError(err, core.KindConfig, fmt.Sprintf("redact pattern %d", i+1))
		}
		r.detectors = append(r.detectors, det)
	}
	return r, nil
}

func compilePattern(raw interface{}) (detector, error) {
	var p Pattern
	switch v := raw.(type) {
	case string:
		p.Type = v
	case map[string]interface{}:
		if err := core.DecodeConfig(v, &p); err != nil {
			return detector{}, err
		}
	default:
		return detector{}, fmt.Errorf("expected name or object, got %T", raw)
	}

	kind := strings.ToLower(p.Type)
	if kind == "" && p.Regex != "" {
		kind = "regex"
	}
	if builtin, ok := builtins[kind]; ok {
		if p.Replacement != "" {
			builtin.Replacement = p.Replacement
		}
		p = builtin
	} else if kind != "regex" {
		return detector{}, fmt.Errorf("unknown pattern type %q", p.Type)
	} else if p.Regex == "" {
		return detector{}, fmt.Errorf("regex pattern requires regex")
	}

	re, err := core.CompilePattern(p.Regex, p.Flags)
	if err != nil {
		return detector{}, err
	}
	replacement := p.Replacement
	if replacement == "" {
		replacement = "***"
	}
	return detector{re: re, replacement: replacement}, nil
}

// Redact returns a redacted copy of data. A sequence has each element redacted
// independently, with field paths relative to the element.
func (r *Redactor) Redact(data interface{}) interface{} {
	if items, ok := data.([]interface{}); ok {
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = r.walk(item, nil)
		}
		return out
	}
	return r.walk(data, nil)
}

// RedactString applies the pattern detectors to a single string.
func (r *Redactor) RedactString(s string) string {
	for _, d := range r.detectors {
		s = d.re.ReplaceAllString(s, d.replacement)
	}
	return s
}

func (r *Redactor) walk(value interface{}, path []core.PathStep) interface{} {
	if len(path) > 0 && r.matchesField(path) {
		return r.replacement
	}

	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = r.walk(item, append(path[:len(path):len(path)], core.PathStep{Key: k}))
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = r.walk(item, append(path[:len(path):len(path)], core.PathStep{Index: i, IsIndex: true}))
		}
		return out
	case string:
		return r.RedactString(v)
	default:
		return core.DeepCopy(v)
	}
}

func (r *Redactor) matchesField(path []core.PathStep) bool {
	for _, field := range r.fields {
		if len(field) != len(path) {
			continue
		}
		matched := true
		for i, step := range field {
			if !stepMatches(step, path[i]) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func stepMatches(pattern, actual core.PathStep) bool {
	if !pattern.IsIndex && pattern.Key == "*" {
		return true
	}
	if pattern.IsIndex != actual.IsIndex {
		return false
	}
	if pattern.IsIndex {
		return pattern.Index == actual.Index
	}
	return pattern.Key == actual.Key
}
