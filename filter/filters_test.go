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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goxform/core"
)

func include(t *testing.T, f core.Filter, record core.Record) bool {
	t.Helper()
	ok, err := f.ShouldInclude(context.Background(), record)
	require.NoError(t, err)
	return ok
}

// TestFilterConstructors tests the convenience filters
func TestFilterConstructors(t *testing.T) {
	record := core.Record{
		"user":  map[string]interface{}{"name": "Bob", "age": 42},
		"state": "open",
		"empty": "",
	}

	assert.True(t, include(t, Exists("user.name"), record))
	assert.False(t, include(t, Exists("user.email"), record))
	assert.True(t, include(t, NotNull("state"), record))
	assert.False(t, include(t, NotNull("empty"), record))
	assert.False(t, include(t, NotNull("missing"), record))
	assert.True(t, include(t, Equals("user.age", 42.0), record))
	assert.True(t, include(t, In("state", "open", "pending"), record))
	assert.False(t, include(t, In("state", "closed"), record))
	assert.True(t, include(t, Between("user.age", 40, 50), record))
	assert.False(t, include(t, Between("user.age", 43, 50), record))
}

// TestWhere tests filters built from a single comparison
func TestWhere(t *testing.T) {
	f, err := Where("total", OpGt, 100)
	require.NoError(t, err)
	assert.True(t, include(t, f, core.Record{"total": 150.5}))
	assert.False(t, include(t, f, core.Record{"total": 99}))

	_, err = Where("total", Operator("bigger"), 100)
	assert.Error(t, err)
}

// TestFromConfig tests compiling condition configs into filters
func TestFromConfig(t *testing.T) {
	f, err := FromConfig(map[string]interface{}{
		"conditions": []interface{}{
			map[string]interface{}{"field": "kind", "operator": "eq", "value": "order"},
			map[string]interface{}{"expression": "record.amount > 10"},
		},
	})
	require.NoError(t, err)
	assert.True(t, include(t, f, core.Record{"kind": "order", "amount": 12}))
	assert.False(t, include(t, f, core.Record{"kind": "order", "amount": 5}))

	f, err = FromConfig(map[string]interface{}{"field": "x", "operator": "nope"})
	assert.Error(t, err)
	assert.Nil(t, f)
}

// TestExpression tests CEL-backed filters
func TestExpression(t *testing.T) {
	f, err := Expression(`record.tags.exists(t, t == "urgent")`)
	require.NoError(t, err)
	assert.True(t, include(t, f, core.Record{"tags": []interface{}{"low", "urgent"}}))
	assert.False(t, include(t, f, core.Record{"tags": []interface{}{}}))

	_, err = Expression("record.(")
	assert.Error(t, err)
}

// TestPredicate_ShouldInclude_Cancelled tests that a cancelled context is reported
func TestPredicate_ShouldInclude_Cancelled(t *testing.T) {
	predicate, err := Compile(map[string]interface{}{"field": "a", "operator": "exists"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = predicate.ShouldInclude(ctx, core.Record{"a": 1})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestCombinators tests And, Or, Not and Custom
func TestCombinators(t *testing.T) {
	isOpen := Equals("state", "open")
	isBig := Custom(func(r core.Record) bool {
		n, _ := core.ParseNumber(r["size"])
		return n > 10
	})
	failing := CustomWithContext(func(context.Context, core.Record) (bool, error) {
		return false, errors.New("boom")
	})

	record := core.Record{"state": "open", "size": 20}
	assert.True(t, include(t, And(isOpen, isBig), record))
	assert.False(t, include(t, And(isOpen, Not(isBig)), record))
	assert.True(t, include(t, Or(Not(isOpen), isBig), record))
	assert.False(t, include(t, Or(), record))
	assert.True(t, include(t, And(), record))

	_, err := And(isOpen, failing).ShouldInclude(context.Background(), record)
	assert.Error(t, err)
	_, err = Not(failing).ShouldInclude(context.Background(), record)
	assert.Error(t, err)
}
