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

// Package goxform applies declarative transformations to JSON-like records.
//
// A Pipeline is configured once with validation rules, field mappings and an ordered
// list of operations (filter, map, merge, split, validate, enrich, redact, aggregate).
// Execute runs the configuration over a record or a sequence of records and returns a
// Result; Run streams records from a DataSource through the same configuration into
// a DataSink, optionally reshaping them with Transformers and dropping them with
// Filters first.
//
// Example usage:
//
//   pipeline, err := goxform.NewBuilder().
//       Name("customers").
//       Rule(validators.ValidationRule{Field: "email", Type: validators.RuleRequired}).
//       Map(mapping.FieldMapping{SourceField: "name", TargetField: "name", Transform: map[string]interface{}{"type": "trim"}}).
//       Operation(operations.Operation{Type: operations.Redact, Config: map[string]interface{}{"fields": []interface{}{"ssn"}}}).
//       Build()
//   if err != nil { log.Fatal(err) }
//   result := pipeline.Execute(ctx, records)
//   if !result.Success { log.Println(result.Errors) }
//
// Configuration errors (unknown operation, map function, rule or operator types,
// invalid paths and patterns) are reported by New and Build, never at execution time.
package goxform

import (
	"context"

	"github.com/aaronlmathis/goxform/core"
)

// Record represents a single data record in the pipeline.
type Record = core.Record

// DataSource defines the interface for record extraction.
type DataSource = core.DataSource

// DataSink defines the interface for record loading.
type DataSink = core.DataSink

// Transformer defines the interface for record transformation.
type Transformer = core.Transformer

// Filter defines the interface for record filtering.
type Filter = core.Filter

// ErrorStrategy defines how failed batches are handled by Run.
type ErrorStrategy = core.ErrorStrategy

// ErrorHandler receives failed batches in Run.
type ErrorHandler = core.ErrorHandler

// ErrorHandlerFunc is a function adapter for the ErrorHandler interface.
type ErrorHandlerFunc = core.ErrorHandlerFunc

// TransformFunc is a function adapter for the Transformer interface.
type TransformFunc = core.TransformFunc

// FilterFunc is a function adapter for the Filter interface.
type FilterFunc func(ctx context.Context, record Record) (bool, error)

// ShouldInclude implements the Filter interface for FilterFunc.
func (f FilterFunc) ShouldInclude(ctx context.Context, record Record) (bool, error) {
	return f(ctx, record)
}

// Error strategies.
const (
	FailFast      = core.FailFast
	SkipErrors    = core.SkipErrors
	CollectErrors = core.CollectErrors
)
