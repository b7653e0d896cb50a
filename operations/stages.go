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

package operations

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aaronlmathis/goxform/aggregate"
	"github.com/aaronlmathis/goxform/core"
	"github.com/aaronlmathis/goxform/expr"
	"github.com/aaronlmathis/goxform/filter"
	"github.com/aaronlmathis/goxform/redact"
	"github.com/aaronlmathis/goxform/transform"
	"github.com/aaronlmathis/goxform/validators"
)

// eachRecord applies fn to a single record or to every element of a sequence.
// Elements that are not records are copied unchanged.
func eachRecord(data interface{}, fn func(core.Record) (interface{}, error)) (interface{}, error) {
	if items, ok := data.([]interface{}); ok {
		out := make([]interface{}, len(items))
		for i, item := range items {
			record, isRecord := core.AsRecord(item)
			if !isRecord {
				out[i] = core.DeepCopy(item)
				continue
			}
			value, err := fn(record)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i+1, err)
			}
			out[i] = value
		}
		return out, nil
	}
	if record, ok := core.AsRecord(data); ok {
		return fn(record)
	}
	return core.DeepCopy(data), nil
}

func copyRecord(record core.Record) core.Record {
	copied, _ := core.DeepCopy(record).(map[string]interface{})
	return copied
}

// filter

type filterStage struct {
	predicate *filter.Predicate
}

func newFilterStage(config map[string]interface{}) (Stage, error) {
	predicate, err := filter.Compile(config)
	if err != nil {
		return nil, err
	}
	return &filterStage{predicate: predicate}, nil
}

func (s *filterStage) Type() Type { return Filter }

// Apply keeps the matching elements of a sequence; a single record is kept or
// replaced by nil.
func (s *filterStage) Apply(_ context.Context, data interface{}) (interface{}, error) {
	if items, ok := data.([]interface{}); ok {
		out := make([]interface{}, 0, len(items))
		for _, item := range items {
			record, _ := core.AsRecord(item)
			if s.predicate.Match(record) {
				out = append(out, core.DeepCopy(item))
			}
		}
		return out, nil
	}
	if data == nil {
		return nil, nil
	}
	record, _ := core.AsRecord(data)
	if s.predicate.Match(record) {
		return core.DeepCopy(data), nil
	}
	return nil, nil
}

// map

type mapConfig struct {
	ApplyTo []string `mapstructure:"apply_to"`
	Target  string   `mapstructure:"target"`
}

type mapStage struct {
	fn      transform.Function
	applyTo [][]core.PathStep
	target  []core.PathStep
}

func newMapStage(config map[string]interface{}) (Stage, error) {
	fn, err := transform.CompileConfig(config)
	if err != nil {
		return nil, err
	}
	var cfg mapConfig
	if err := core.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	s := &mapStage{fn: fn}
	for _, path := range cfg.ApplyTo {
		steps, err := core.ParsePath(path)
		if err != nil || len(steps) == 0 {
			return nil, fmt.Errorf("invalid apply_to path %q", path)
		}
		s.applyTo = append(s.applyTo, steps)
	}
	if cfg.Target != "" {
		steps, err := core.ParseTargetPath(cfg.Target)
		if err != nil {
			return nil, err
		}
		s.target = steps
	}
	return s, nil
}

func (s *mapStage) Type() Type { return Map }

// Apply runs the map function on every element. Record-building functions (concat,
// template) write their result to target, or replace the element without one. Other
// functions transform the apply_to paths, or every top-level value by default.
func (s *mapStage) Apply(_ context.Context, data interface{}) (interface{}, error) {
	if data == nil {
		return nil, nil
	}
	if items, ok := data.([]interface{}); ok {
		out := make([]interface{}, len(items))
		for i, item := range items {
			value, err := s.element(item)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i+1, err)
			}
			out[i] = value
		}
		return out, nil
	}
	return s.element(data)
}

func (s *mapStage) element(item interface{}) (interface{}, error) {
	record, ok := core.AsRecord(item)
	if !ok {
		return s.fn.Apply(core.DeepCopy(item), nil), nil
	}

	if transform.UsesRecord(s.fn) {
		value := s.fn.Apply(record, record)
		if s.target == nil {
			return value, nil
		}
		out := copyRecord(record)
		if err := core.SetSteps(out, s.target, value); err != nil {
			return nil, err
		}
		return out, nil
	}

	out := copyRecord(record)
	if len(s.applyTo) == 0 {
		for key, value := range out {
			out[key] = s.fn.Apply(value, record)
		}
		return out, nil
	}
	for _, steps := range s.applyTo {
		value, found := core.GetSteps(out, steps)
		if !found {
			continue
		}
		if err := core.SetSteps(out, steps, s.fn.Apply(value, record)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// merge

type mergeStage struct {
	with interface{}
}

func newMergeStage(config map[string]interface{}) (Stage, error) {
	with, ok := config["with"]
	if !ok {
		return nil, fmt.Errorf("merge requires with")
	}
	return &mergeStage{with: core.Normalize(with)}, nil
}

func (s *mergeStage) Type() Type { return Merge }

// Apply appends to sequences and shallow-merges into records, with the configured
// values winning key conflicts.
func (s *mergeStage) Apply(_ context.Context, data interface{}) (interface{}, error) {
	switch v := data.(type) {
	case []interface{}:
		out := core.DeepCopy(v).([]interface{})
		if extra, ok := s.with.([]interface{}); ok {
			return append(out, core.DeepCopy(extra).([]interface{})...), nil
		}
		return append(out, core.DeepCopy(s.with)), nil
	case map[string]interface{}:
		extra, ok := s.with.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("merge: cannot merge %T into a record", s.with)
		}
		out := copyRecord(v)
		for key, value := range extra {
			out[key] = core.DeepCopy(value)
		}
		return out, nil
	case nil:
		return core.DeepCopy(s.with), nil
	default:
		return nil, fmt.Errorf("merge: unsupported data type %T", data)
	}
}

// split

type splitConfig struct {
	Separator *string `mapstructure:"separator"`
	Limit     int     `mapstructure:"limit"`
	BatchSize *int    `mapstructure:"batch_size"`
	Field     string  `mapstructure:"field"`
}

type splitStage struct {
	separator string
	limit     int
	batchSize int
	field     []core.PathStep
}

func newSplitStage(config map[string]interface{}) (Stage, error) {
	var cfg splitConfig
	if err := core.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	s := &splitStage{separator: ",", limit: cfg.Limit, batchSize: 100}
	if cfg.Separator != nil {
		s.separator = *cfg.Separator
	}
	if cfg.BatchSize != nil {
		if *cfg.BatchSize <= 0 {
			return nil, fmt.Errorf("batch_size must be positive, got %d", *cfg.BatchSize)
		}
		s.batchSize = *cfg.BatchSize
	}
	if cfg.Limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", cfg.Limit)
	}
	if cfg.Field != "" {
		steps, err := core.ParseTargetPath(cfg.Field)
		if err != nil {
			return nil, err
		}
		s.field = steps
	}
	return s, nil
}

func (s *splitStage) Type() Type { return Split }

// Apply splits strings into parts and sequences into batches. A record with a
// configured field has that field split in place.
func (s *splitStage) Apply(_ context.Context, data interface{}) (interface{}, error) {
	switch v := data.(type) {
	case string:
		return s.splitString(v), nil
	case []interface{}:
		if s.field != nil {
			return eachRecord(v, s.splitField)
		}
		batches := make([]interface{}, 0, (len(v)+s.batchSize-1)/s.batchSize)
		for start := 0; start < len(v); start += s.batchSize {
			end := start + s.batchSize
			if end > len(v) {
				end = len(v)
			}
			batches = append(batches, core.DeepCopy(v[start:end]))
		}
		return batches, nil
	case map[string]interface{}:
		if s.field == nil {
			return copyRecord(v), nil
		}
		return s.splitField(v)
	default:
		return core.DeepCopy(data), nil
	}
}

func (s *splitStage) splitField(record core.Record) (interface{}, error) {
	out := copyRecord(record)
	value, found := core.GetSteps(out, s.field)
	text, isString := value.(string)
	if !found || !isString {
		return out, nil
	}
	if err := core.SetSteps(out, s.field, s.splitString(text)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *splitStage) splitString(text string) []interface{} {
	parts := strings.Split(text, s.separator)
	if s.limit > 0 && len(parts) > s.limit {
		parts = parts[:s.limit]
	}
	out := make([]interface{}, len(parts))
	for i, part := range parts {
		out[i] = part
	}
	return out
}

// validate

type validateConfig struct {
	Rules []validators.ValidationRule `mapstructure:"rules"`
}

type validateStage struct {
	validator *validators.Validator
}

func newValidateStage(config map[string]interface{}, opts []validators.Option) (Stage, error) {
	var cfg validateConfig
	if err := core.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("validate requires at least one rule")
	}
	validator, err := validators.NewValidator(cfg.Rules, opts...)
	if err != nil {
		return nil, err
	}
	return &validateStage{validator: validator}, nil
}

func (s *validateStage) Type() Type { return Validate }

// Apply fails when any rule fails and otherwise returns the data unchanged.
func (s *validateStage) Apply(_ context.Context, data interface{}) (interface{}, error) {
	if errs := s.validator.ValidateData(data); len(errs) > 0 {
		return nil, core.NewError(core.KindValidation, "validation failed: "+strings.Join(errs, "; "))
	}
	return core.DeepCopy(data), nil
}

// enrich

type computedField struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
}

type enrichConfig struct {
	AddTimestamp   bool                   `mapstructure:"add_timestamp"`
	TimestampField string                 `mapstructure:"timestamp_field"`
	AddFields      map[string]interface{} `mapstructure:"add_fields"`
	ComputedFields []computedField        `mapstructure:"computed_fields"`
}

type fieldValue struct {
	steps []core.PathStep
	value interface{}
}

type computed struct {
	steps      []core.PathStep
	expression expr.Expression
}

type enrichStage struct {
	clock     func() time.Time
	timestamp []core.PathStep
	fields    []fieldValue
	computed  []computed
}

// DefaultTimestampField is where enrich writes its timestamp unless configured.
const DefaultTimestampField = "enriched_at"

func newEnrichStage(config map[string]interface{}, clock func() time.Time) (Stage, error) {
	var cfg enrichConfig
	if err := core.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	s := &enrichStage{clock: clock}
	if cfg.AddTimestamp {
		field := cfg.TimestampField
		if field == "" {
			field = DefaultTimestampField
		}
		steps, err := core.ParseTargetPath(field)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp_field %q", field)
		}
		s.timestamp = steps
	}

	keys := make([]string, 0, len(cfg.AddFields))
	for key := range cfg.AddFields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		steps, err := core.ParseTargetPath(key)
		if err != nil {
			return nil, fmt.Errorf("invalid add_fields key %q", key)
		}
		s.fields = append(s.fields, fieldValue{steps: steps, value: core.Normalize(cfg.AddFields[key])})
	}

	for _, cf := range cfg.ComputedFields {
		steps, err := core.ParseTargetPath(cf.Name)
		if err != nil {
			return nil, fmt.Errorf("invalid computed field name %q", cf.Name)
		}
		compiled, err := expr.Compile(cf.Expression)
		if err != nil {
			return nil, fmt.Errorf("computed field %s: %w", cf.Name, err)
		}
		s.computed = append(s.computed, computed{steps: steps, expression: compiled})
	}
	return s, nil
}

func (s *enrichStage) Type() Type { return Enrich }

// Apply stamps the timestamp, adds static fields and evaluates computed fields on
// every record.
func (s *enrichStage) Apply(_ context.Context, data interface{}) (interface{}, error) {
	var stamp string
	if s.timestamp != nil {
		stamp = s.clock().UTC().Format(core.ISOTimestampLayout)
	}

	return eachRecord(data, func(record core.Record) (interface{}, error) {
		out := copyRecord(record)
		if s.timestamp != nil {
			if err := core.SetSteps(out, s.timestamp, stamp); err != nil {
				return nil, err
			}
		}
		for _, f := range s.fields {
			if err := core.SetSteps(out, f.steps, core.DeepCopy(f.value)); err != nil {
				return nil, err
			}
		}
		for _, c := range s.computed {
			value, err := c.expression.Evaluate(out)
			if err != nil {
				return nil, err
			}
			if err := core.SetSteps(out, c.steps, value); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

// redact

type redactStage struct {
	redactor *redact.Redactor
}

func newRedactStage(config map[string]interface{}) (Stage, error) {
	redactor, err := redact.Compile(config)
	if err != nil {
		return nil, err
	}
	return &redactStage{redactor: redactor}, nil
}

func (s *redactStage) Type() Type { return Redact }

func (s *redactStage) Apply(_ context.Context, data interface{}) (interface{}, error) {
	return s.redactor.Redact(data), nil
}

// aggregate

type aggregateStage struct {
	groupBy *aggregate.GroupBy
}

func newAggregateStage(config map[string]interface{}) (Stage, error) {
	var cfg aggregate.Config
	if err := core.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	groupBy, err := aggregate.NewGroupBy(cfg)
	if err != nil {
		return nil, err
	}
	return &aggregateStage{groupBy: groupBy}, nil
}

func (s *aggregateStage) Type() Type { return Aggregate }

// Apply reduces a sequence (or a single record) to one record per group. Elements
// that are not records are ignored; nil yields nil.
func (s *aggregateStage) Apply(ctx context.Context, data interface{}) (interface{}, error) {
	if data == nil {
		return nil, nil
	}
	var records []core.Record
	if items, ok := data.([]interface{}); ok {
		for _, item := range items {
			if record, isRecord := core.AsRecord(item); isRecord {
				records = append(records, record)
			}
		}
	} else if record, ok := core.AsRecord(data); ok {
		records = append(records, record)
	}

	groups, err := s.groupBy.Process(ctx, records)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(groups))
	for i, g := range groups {
		out[i] = map[string]interface{}(g)
	}
	return out, nil
}
