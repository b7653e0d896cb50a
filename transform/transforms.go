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

package transform

import (
	"context"
	"fmt"

	"github.com/aaronlmathis/goxform/core"
)

// Package transform provides the map functions applied by field mappings and map
// operations, plus reusable core.Transformer implementations for streaming pipelines.
//
// Record transformers address fields by path ("user.address.city", "items[0].sku")
// and never mutate the record they receive.

// Select creates a transformer that keeps only the listed paths.
// Paths not present in the record are omitted from the output record.
func Select(paths ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record)
		for _, path := range paths {
			if value, found := core.GetNestedValue(record, path); found {
				if err := core.SetNestedValue(result, path, core.DeepCopy(value)); err != nil {
					return nil, fmt.Errorf("select %s: %w", path, err)
				}
			}
		}
		return result, nil
	})
}

// Rename creates a transformer that moves values according to the provided mapping.
// Keys are original top-level field names, values are target paths.
func Rename(mapping map[string]string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for key, value := range record {
			if _, renamed := mapping[key]; !renamed {
				result[key] = core.DeepCopy(value)
			}
		}
		for from, to := range mapping {
			value, exists := record[from]
			if !exists {
				continue
			}
			if err := core.SetNestedValue(result, to, core.DeepCopy(value)); err != nil {
				return nil, fmt.Errorf("rename %s to %s: %w", from, to, err)
			}
		}
		return result, nil
	})
}

// AddField creates a transformer that sets a computed value at path on each record.
// The value is computed by the provided function, which receives the current record.
func AddField(path string, fn func(core.Record) interface{}) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := copyRecord(record)
		if err := core.SetNestedValue(result, path, fn(record)); err != nil {
			return nil, fmt.Errorf("add field %s: %w", path, err)
		}
		return result, nil
	})
}

// RemoveFields creates a transformer that removes the specified top-level fields.
// Fields that don't exist are ignored.
func RemoveFields(fields ...string) core.Transformer {
	fieldsToRemove := make(map[string]bool, len(fields))
	for _, field := range fields {
		fieldsToRemove[field] = true
	}

	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for k, v := range record {
			if !fieldsToRemove[k] {
				result[k] = core.DeepCopy(v)
			}
		}
		return result, nil
	})
}

// Apply creates a transformer that runs a map function on the values at the given
// paths. Missing paths are left absent.
func Apply(fn Function, paths ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := copyRecord(record)
		for _, path := range paths {
			value, found := core.GetNestedValue(result, path)
			if !found {
				continue
			}
			if err := core.SetNestedValue(result, path, fn.Apply(value, record)); err != nil {
				return nil, fmt.Errorf("apply %s to %s: %w", fn.Type(), path, err)
			}
		}
		return result, nil
	})
}

// ToUpper creates a transformer that converts the string values at paths to uppercase.
func ToUpper(paths ...string) core.Transformer {
	return Apply(stringFunc{kind: Uppercase, fn: upper}, paths...)
}

// ToLower creates a transformer that converts the string values at paths to lowercase.
func ToLower(paths ...string) core.Transformer {
	return Apply(stringFunc{kind: Lowercase, fn: lower}, paths...)
}

// TrimSpace creates a transformer that trims whitespace from the string values at paths.
func TrimSpace(paths ...string) core.Transformer {
	return Apply(stringFunc{kind: Trim, fn: trim}, paths...)
}

// ToNumber creates a transformer that converts the values at paths to numbers.
func ToNumber(paths ...string) core.Transformer {
	return Apply(numberFunc{}, paths...)
}

func copyRecord(record core.Record) core.Record {
	if record == nil {
		return core.Record{}
	}
	copied, _ := core.DeepCopy(record).(map[string]interface{})
	return copied
}
