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

package goxform

import (
	"context"

	"github.com/aaronlmathis/goxform/mapping"
	"github.com/aaronlmathis/goxform/operations"
	"github.com/aaronlmathis/goxform/validators"
)

// Builder provides a fluent API for constructing pipelines.
// Use NewBuilder() to create a new builder, then chain Rule, Map, Operation and
// configuration methods, and finish with Build.
type Builder struct {
	ops      []operations.Operation
	mappings []mapping.FieldMapping
	rules    []validators.ValidationRule
	opts     []Option
	nextOrd  int
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Name sets the pipeline name.
func (b *Builder) Name(name string) *Builder {
	b.opts = append(b.opts, WithName(name))
	return b
}

// Operation adds operations with their declared order.
func (b *Builder) Operation(ops ...operations.Operation) *Builder {
	for _, op := range ops {
		if op.Order >= b.nextOrd {
			b.nextOrd = op.Order + 1
		}
		b.ops = append(b.ops, op)
	}
	return b
}

// Then adds an operation ordered after every operation added so far.
func (b *Builder) Then(opType operations.Type, config map[string]interface{}) *Builder {
	return b.Operation(operations.Operation{Type: opType, Config: config, Order: b.nextOrd})
}

// Map adds field mappings.
func (b *Builder) Map(mappings ...mapping.FieldMapping) *Builder {
	b.mappings = append(b.mappings, mappings...)
	return b
}

// Rule adds validation rules checked before any transformation.
func (b *Builder) Rule(rules ...validators.ValidationRule) *Builder {
	b.rules = append(b.rules, rules...)
	return b
}

// Transform adds a transformer Run applies to source records before filtering.
func (b *Builder) Transform(transformer Transformer) *Builder {
	b.opts = append(b.opts, WithTransformer(transformer))
	return b
}

// TransformFunc adds a transform function Run applies to source records before
// filtering.
func (b *Builder) TransformFunc(fn func(ctx context.Context, record Record) (Record, error)) *Builder {
	return b.Transform(TransformFunc(fn))
}

// Where adds a filter Run applies to source records before batching.
func (b *Builder) Where(filter Filter) *Builder {
	b.opts = append(b.opts, WithFilter(filter))
	return b
}

// WhereFunc adds a filter function Run applies to source records before batching.
func (b *Builder) WhereFunc(fn func(ctx context.Context, record Record) (bool, error)) *Builder {
	return b.Where(FilterFunc(fn))
}

// WithErrorStrategy sets the error handling strategy for Run.
func (b *Builder) WithErrorStrategy(strategy ErrorStrategy) *Builder {
	b.opts = append(b.opts, WithErrorStrategy(strategy))
	return b
}

// WithErrorHandler sets a custom error handler for Run.
func (b *Builder) WithErrorHandler(handler ErrorHandler) *Builder {
	b.opts = append(b.opts, WithErrorHandler(handler))
	return b
}

// BatchSize sets how many records Run groups into one execution.
func (b *Builder) BatchSize(size int) *Builder {
	b.opts = append(b.opts, WithBatchSize(size))
	return b
}

// With appends arbitrary pipeline options.
func (b *Builder) With(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build validates and compiles the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.ops, b.mappings, b.rules, b.opts...)
}
