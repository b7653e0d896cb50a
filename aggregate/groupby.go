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

package aggregate

import (
	"context"
	"fmt"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/aaronlmathis/goxform/core"
)

// Spec declares one aggregate output. Field may be empty for count, which then
// counts records.
type Spec struct {
	Func   Func   `mapstructure:"func" json:"func" yaml:"func"`
	Field  string `mapstructure:"field" json:"field,omitempty" yaml:"field,omitempty"`
	Target string `mapstructure:"target" json:"target" yaml:"target"`
}

// Config is the decoded form of an aggregate operation config.
type Config struct {
	GroupBy    []string `mapstructure:"group_by" json:"group_by,omitempty" yaml:"group_by,omitempty"`
	Aggregates []Spec   `mapstructure:"aggregates" json:"aggregates" yaml:"aggregates"`
}

type compiledSpec struct {
	spec   Spec
	field  []core.PathStep
	target []core.PathStep
}

// GroupBy partitions records by the values of its group fields and reduces each
// group. Groups are emitted in the order their first record was seen.
type GroupBy struct {
	fields     [][]core.PathStep
	fieldNames []string
	specs      []compiledSpec
}

// NewGroupBy compiles cfg. Without group fields all records form a single group.
func NewGroupBy(cfg Config) (*GroupBy, error) {
	if len(cfg.Aggregates) == 0 {
		return nil, fmt.Errorf("aggregate requires at least one aggregate")
	}

	g := &GroupBy{}
	for _, name := range cfg.GroupBy {
		steps, err := core.ParseTargetPath(name)
		if err != nil {
			return nil, fmt.Errorf("invalid group field %q", name)
		}
		g.fields = append(g.fields, steps)
		g.fieldNames = append(g.fieldNames, name)
	}

	for i, spec := range cfg.Aggregates {
		spec.Func = Func(strings.ToLower(string(spec.Func)))
		if _, err := New(spec.Func); err != nil {
			return nil, fmt.Errorf("aggregate %d: %w", i+1, err)
		}
		if spec.Field == "" && spec.Func != Count {
			return nil, fmt.Errorf("aggregate %d: %s requires a field", i+1, spec.Func)
		}
		target, err := core.ParseTargetPath(spec.Target)
		if err != nil {
			return nil, fmt.Errorf("aggregate %d: invalid target %q", i+1, spec.Target)
		}
		c := compiledSpec{spec: spec, target: target}
		if spec.Field != "" {
			if c.field, err = core.ParsePath(spec.Field); err != nil {
				return nil, fmt.Errorf("aggregate %d: %w", i+1, err)
			}
		}
		g.specs = append(g.specs, c)
	}
	return g, nil
}

type group struct {
	keys        []interface{}
	aggregators []Aggregator
}

// Process aggregates records and returns one record per group.
func (g *GroupBy) Process(ctx context.Context, records []core.Record) ([]core.Record, error) {
	index := make(map[string]*group)
	var order []*group

	for i, record := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		keys := make([]interface{}, len(g.fields))
		for j, steps := range g.fields {
			keys[j], _ = core.GetSteps(record, steps)
		}
		key, err := gojson.Marshal(keys)
		if err != nil {
			return nil, fmt.Errorf("record %d: group key: %w", i+1, err)
		}

		grp, ok := index[string(key)]
		if !ok {
			grp = &group{keys: keys}
			for _, spec := range g.specs {
				agg, _ := New(spec.spec.Func)
				grp.aggregators = append(grp.aggregators, agg)
			}
			index[string(key)] = grp
			order = append(order, grp)
		}

		for j, spec := range g.specs {
			if spec.field == nil {
				grp.aggregators[j].Add(true, true)
				continue
			}
			value, found := core.GetSteps(record, spec.field)
			grp.aggregators[j].Add(value, found)
		}
	}

	results := make([]core.Record, 0, len(order))
	for _, grp := range order {
		out := make(core.Record)
		for j, steps := range g.fields {
			if err := core.SetSteps(out, steps, core.DeepCopy(grp.keys[j])); err != nil {
				return nil, fmt.Errorf("group field %s: %w", g.fieldNames[j], err)
			}
		}
		for j, spec := range g.specs {
			if err := core.SetSteps(out, spec.target, grp.aggregators[j].Result()); err != nil {
				return nil, fmt.Errorf("aggregate target %s: %w", spec.spec.Target, err)
			}
		}
		results = append(results, out)
	}
	return results, nil
}
