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

// Package operations implements the transform operations a pipeline applies after
// field mapping: filter, map, merge, split, validate, enrich, redact and aggregate.
//
// Operations are compiled once into Stages. Each Stage takes the current data (a
// record, a sequence of records or, after split, any value) and returns the new data.
package operations

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aaronlmathis/goxform/core"
	"github.com/aaronlmathis/goxform/validators"
)

// Type names an operation kind.
type Type string

// Supported operation types.
const (
	Filter   Type = "filter"
	Map      Type = "map"
	Merge    Type = "merge"
	Split    Type = "split"
	Validate Type = "validate"
	Enrich   Type = "enrich"
	Redact   Type = "redact"

	Aggregate Type = "aggregate"
)

// Types lists every supported operation type.
var Types = []Type{Filter, Map, Merge, Split, Validate, Enrich, Redact, Aggregate}

// Operation declares one configured stage. Operations run in ascending Order; ties
// keep declaration order.
type Operation struct {
	Type   Type                   `mapstructure:"type" json:"type" yaml:"type"`
	Config map[string]interface{} `mapstructure:"config" json:"config,omitempty" yaml:"config,omitempty"`
	Order  int                    `mapstructure:"order" json:"order" yaml:"order"`
}

// Stage is a compiled operation.
type Stage interface {
	// Type returns the operation type the stage was compiled from.
	Type() Type
	// Apply transforms data. Implementations never mutate their input.
	Apply(ctx context.Context, data interface{}) (interface{}, error)
}

type options struct {
	clock         func() time.Time
	validatorOpts []validators.Option
}

// Option configures stage compilation.
type Option func(*options)

// WithClock sets the clock enrich stages read timestamps from.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithValidatorOptions passes options (custom validators) to validate stages.
func WithValidatorOptions(opts ...validators.Option) Option {
	return func(o *options) {
		o.validatorOpts = append(o.validatorOpts, opts...)
	}
}

func newOptions(opts []Option) *options {
	o := &options{clock: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sort returns the operations ordered by Order, stable for equal orders.
func Sort(ops []Operation) []Operation {
	sorted := make([]Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}

// Compile validates one operation and builds its Stage. Unknown types and invalid
// configs are configuration errors.
func Compile(op Operation, opts ...Option) (Stage, error) {
	return compile(op, newOptions(opts))
}

// CompileAll sorts operations by order and compiles each of them.
func CompileAll(ops []Operation, opts ...Option) ([]Stage, error) {
	o := newOptions(opts)
	stages := make([]Stage, 0, len(ops))
	for _, op := range Sort(ops) {
		stage, err := compile(op, o)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// Decode decodes a loosely typed operation list.
func Decode(input interface{}) ([]Operation, error) {
	var ops []Operation
	if err := core.DecodeConfig(input, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func compile(op Operation, o *options) (Stage, error) {
	var (
		stage Stage
		err   error
	)
	switch op.Type {
	case Filter:
		stage, err = newFilterStage(op.Config)
	case Map:
		stage, err = newMapStage(op.Config)
	case Merge:
		stage, err = newMergeStage(op.Config)
	case Split:
		stage, err = newSplitStage(op.Config)
	case Validate:
		stage, err = newValidateStage(op.Config, o.validatorOpts)
	case Enrich:
		stage, err = newEnrichStage(op.Config, o.clock)
	case Redact:
		stage, err = newRedactStage(op.Config)
	case Aggregate:
		stage, err = newAggregateStage(op.Config)
	default:
		return nil, core.NewError(core.KindConfig, fmt.Sprintf("unknown operation type %q (order %d)", op.Type, op.Order))
	}
	if err != nil {
		return nil, core.WrapError(err, core.KindConfig, fmt.Sprintf("operation %s (order %d)", op.Type, op.Order))
	}
	return stage, nil
}
