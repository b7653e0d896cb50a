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

// Package validators checks records against declarative validation rules.
package validators

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aaronlmathis/goxform/core"
)

// RuleType names the kind of check a ValidationRule performs.
type RuleType string

const (
	// RuleRequired fails when the value is missing, nil or an empty string.
	RuleRequired RuleType = "required"
	// RuleFormat fails when a present value does not match a pattern or named format.
	RuleFormat RuleType = "format"
	// RuleRange fails when a numeric value is outside [min, max].
	RuleRange RuleType = "range"
	// RuleCustom delegates to a function registered with WithCustomValidator.
	RuleCustom RuleType = "custom"
)

// ValidationRule declares a check against the value at Field.
type ValidationRule struct {
	Field        string                 `mapstructure:"field" json:"field" yaml:"field"`
	Type         RuleType               `mapstructure:"type" json:"type" yaml:"type"`
	Config       map[string]interface{} `mapstructure:"config" json:"config,omitempty" yaml:"config,omitempty"`
	ErrorMessage string                 `mapstructure:"error_message" json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// CustomFunc validates a single value. found reports whether the path resolved.
// Returning false fails the rule with a default message; returning an error fails it
// with the error text.
type CustomFunc func(value interface{}, found bool, record core.Record) (bool, error)

type formatConfig struct {
	Pattern string `mapstructure:"pattern"`
	Flags   string `mapstructure:"flags"`
	Format  string `mapstructure:"format"`
}

type rangeConfig struct {
	Min *float64 `mapstructure:"min"`
	Max *float64 `mapstructure:"max"`
}

type customConfig struct {
	Validator string `mapstructure:"validator"`
}

// Validator holds compiled rules. It is immutable and safe for concurrent use.
type Validator struct {
	rules []compiledRule
}

type compiledRule struct {
	rule  ValidationRule
	steps []core.PathStep

	pattern  *regexp.Regexp
	matcher  func(string) bool
	min, max *float64
	custom   CustomFunc
}

type options struct {
	custom map[string]CustomFunc
}

// Option configures a Validator.
type Option func(*options)

// WithCustomValidator registers fn under name for rules of type custom
// (config: {validator: name}).
func WithCustomValidator(name string, fn CustomFunc) Option {
	return func(o *options) {
		if o.custom == nil {
			o.custom = make(map[string]CustomFunc)
		}
		o.custom[name] = fn
	}
}

// WithCustomValidators registers several custom validators at once.
func WithCustomValidators(fns map[string]CustomFunc) Option {
	return func(o *options) {
		for name, fn := range fns {
			WithCustomValidator(name, fn)(o)
		}
	}
}

// NewValidator compiles rules. Unknown rule types, missing fields, invalid patterns
// and unregistered custom validators are configuration errors.
func NewValidator(rules []ValidationRule, opts ...Option) (*Validator, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	v := &Validator{rules: make([]compiledRule, 0, len(rules))}
	for i, rule := range rules {
		compiled, err := compileRule(rule, o)
		if err != nil {
			return nil, core.WrapError(err, core.KindConfig, fmt.Sprintf("validation rule %d (%s)", i+1, rule.Field))
		}
		v.rules = append(v.rules, compiled)
	}
	return v, nil
}

// DecodeRules decodes a loosely typed rule list (as found in operation configs).
func DecodeRules(input interface{}) ([]ValidationRule, error) {
	var rules []ValidationRule
	if err := core.DecodeConfig(input, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func compileRule(rule ValidationRule, o *options) (compiledRule, error) {
	if strings.TrimSpace(rule.Field) == "" {
		return compiledRule{}, fmt.Errorf("field is required")
	}
	steps, err := core.ParsePath(rule.Field)
	if err != nil {
		return compiledRule{}, err
	}
	compiled := compiledRule{rule: rule, steps: steps}

	switch rule.Type {
	case RuleRequired:
	case RuleFormat:
		var cfg formatConfig
		if err := core.DecodeConfig(rule.Config, &cfg); err != nil {
			return compiledRule{}, err
		}
		switch {
		case cfg.Pattern != "":
			re, err := core.CompilePattern(cfg.Pattern, cfg.Flags)
			if err != nil {
				return compiledRule{}, fmt.Errorf("invalid pattern: %w", err)
			}
			compiled.pattern = re
		case cfg.Format != "":
			matcher, ok := namedFormats[strings.ToLower(cfg.Format)]
			if !ok {
				return compiledRule{}, fmt.Errorf("unknown format %q", cfg.Format)
			}
			compiled.matcher = matcher
		default:
			return compiledRule{}, fmt.Errorf("format rule requires pattern or format")
		}
	case RuleRange:
		var cfg rangeConfig
		if err := core.DecodeConfig(rule.Config, &cfg); err != nil {
			return compiledRule{}, err
		}
		compiled.min, compiled.max = cfg.Min, cfg.Max
	case RuleCustom:
		var cfg customConfig
		if err := core.DecodeConfig(rule.Config, &cfg); err != nil {
			return compiledRule{}, err
		}
		fn, ok := o.custom[cfg.Validator]
		if cfg.Validator == "" || !ok || fn == nil {
			return compiledRule{}, fmt.Errorf("custom validator %q is not registered", cfg.Validator)
		}
		compiled.custom = fn
	default:
		return compiledRule{}, fmt.Errorf("unknown rule type %q", rule.Type)
	}
	return compiled, nil
}

// Len returns the number of compiled rules.
func (v *Validator) Len() int {
	if v == nil {
		return 0
	}
	return len(v.rules)
}

// ValidateRecord checks one record and returns its error messages in rule order.
func (v *Validator) ValidateRecord(record core.Record) []string {
	if v == nil {
		return nil
	}
	var errs []string
	for _, r := range v.rules {
		if msg, failed := r.check(record); failed {
			if r.rule.ErrorMessage != "" {
				msg = r.rule.ErrorMessage
			}
			errs = append(errs, msg)
		}
	}
	return errs
}

// ValidateData checks a record or a sequence of records. Errors for sequence elements
// are prefixed with "Record N: " using 1-based positions.
func (v *Validator) ValidateData(data interface{}) []string {
	items, isSeq := data.([]interface{})
	if !isSeq {
		record, _ := core.AsRecord(data)
		return v.ValidateRecord(record)
	}

	var errs []string
	for i, item := range items {
		record, _ := core.AsRecord(item)
		for _, msg := range v.ValidateRecord(record) {
			errs = append(errs, fmt.Sprintf("Record %d: %s", i+1, msg))
		}
	}
	return errs
}

func (r compiledRule) check(record core.Record) (string, bool) {
	field := r.rule.Field
	value, found := core.GetSteps(record, r.steps)

	switch r.rule.Type {
	case RuleRequired:
		if core.IsEmpty(value, found) {
			return field + " is required", true
		}

	case RuleFormat:
		if core.IsEmpty(value, found) {
			return "", false
		}
		text := core.Stringify(value)
		var matched bool
		if r.pattern != nil {
			matched = r.pattern.MatchString(text)
		} else {
			matched = r.matcher(text)
		}
		if !matched {
			return field + " has invalid format", true
		}

	case RuleRange:
		if !found || value == nil {
			return "", false
		}
		if _, isBool := value.(bool); isBool {
			return "", false
		}
		n, ok := core.ParseNumber(value)
		if !ok {
			return "", false
		}
		if r.min != nil && n < *r.min {
			return fmt.Sprintf("%s must be at least %s", field, core.Stringify(*r.min)), true
		}
		if r.max != nil && n > *r.max {
			return fmt.Sprintf("%s must be at most %s", field, core.Stringify(*r.max)), true
		}

	case RuleCustom:
		ok, err := r.custom(value, found, record)
		if err != nil {
			return err.Error(), true
		}
		if !ok {
			return field + " failed custom validation", true
		}
	}
	return "", false
}
