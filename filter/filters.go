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

package filter

import (
	"context"

	"github.com/aaronlmathis/goxform/core"
)

// Package filter provides the condition evaluator used by filter operations and
// composable core.Filter implementations for streaming pipelines.
//
// Conditions are declarative (field, operator, value) comparisons, and/or groups of
// them, or CEL expressions. All constructors return core.Filter implementations.

// ShouldInclude implements core.Filter for a compiled Predicate.
func (p *Predicate) ShouldInclude(ctx context.Context, record core.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.Match(record), nil
}

// FromConfig compiles a condition config into a core.Filter.
func FromConfig(config map[string]interface{}) (core.Filter, error) {
	predicate, err := Compile(config)
	if err != nil {
		return nil, err
	}
	return predicate, nil
}

// Where creates a filter comparing the value at field with value using operator.
func Where(field string, operator Operator, value interface{}) (core.Filter, error) {
	return compileFilter(Condition{Field: field, Operator: string(operator), Value: value})
}

// Expression creates a filter from a CEL boolean expression over the record variable.
func Expression(source string) (core.Filter, error) {
	return compileFilter(Condition{Expression: source})
}

func compileFilter(cond Condition) (core.Filter, error) {
	predicate, err := CompileCondition(cond)
	if err != nil {
		return nil, err
	}
	return predicate, nil
}

// Exists creates a filter that includes records where the path is present.
func Exists(field string) core.Filter {
	return mustLeaf(field, OpExists, nil)
}

// NotNull creates a filter that excludes records where the path is missing, nil or empty
func NotNull(field string) core.Filter {
	steps, err := core.ParsePath(field)
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		if err != nil {
			return false, err
		}
		value, found := core.GetSteps(record, steps)
		return !core.IsEmpty(value, found), nil
	})
}

// Equals creates a filter that includes records where the value at path equals expectedValue
func Equals(field string, expectedValue interface{}) core.Filter {
	return mustLeaf(field, OpEq, expectedValue)
}

// In creates a filter that includes records where the value at path is in the provided set
func In(field string, values ...interface{}) core.Filter {
	return mustLeaf(field, OpIn, values)
}

// Between creates a filter that includes records where the value at path is between min and max (inclusive)
func Between(field string, min, max float64) core.Filter {
	return mustLeaf(field, OpBetween, []interface{}{min, max})
}

// mustLeaf builds a filter for an operator known to be valid; a malformed path makes
// the filter fail on every record.
func mustLeaf(field string, op Operator, value interface{}) core.Filter {
	predicate, err := CompileCondition(Condition{Field: field, Operator: string(op), Value: value})
	if err != nil {
		return core.FilterFunc(func(context.Context, core.Record) (bool, error) {
			return false, err
		})
	}
	return predicate
}

// And creates a filter that requires all provided filters to pass
func And(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if !include {
				return false, nil
			}
		}
		return true, nil
	})
}

// Or creates a filter that requires at least one of the provided filters to pass
func Or(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if include {
				return true, nil
			}
		}
		return false, nil
	})
}

// Not creates a filter that negates the provided filter
func Not(filter core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		return !include, nil
	})
}

// Custom creates a filter using a user-provided predicate function
func Custom(predicate func(core.Record) bool) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		return predicate(record), nil
	})
}

// CustomWithContext creates a filter using a user-provided predicate function that has access to context
func CustomWithContext(predicate func(context.Context, core.Record) (bool, error)) core.Filter {
	return core.FilterFunc(predicate)
}
