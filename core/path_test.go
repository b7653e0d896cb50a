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

package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParsePath tests path parsing into key and index steps
func TestParsePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    []PathStep
		wantErr bool
	}{
		{name: "empty", path: "", want: nil},
		{name: "single key", path: "name", want: []PathStep{{Key: "name"}}},
		{name: "dotted", path: "user.name", want: []PathStep{{Key: "user"}, {Key: "name"}}},
		{
			name: "indexed",
			path: "items[2].price",
			want: []PathStep{{Key: "items"}, {Index: 2, IsIndex: true}, {Key: "price"}},
		},
		{
			name: "chained indices",
			path: "matrix[0][1]",
			want: []PathStep{{Key: "matrix"}, {Index: 0, IsIndex: true}, {Index: 1, IsIndex: true}},
		},
		{name: "leading index", path: "[1].id", want: []PathStep{{Index: 1, IsIndex: true}, {Key: "id"}}},
		{name: "quoted bracket key", path: `meta["first.name"]`, want: []PathStep{{Key: "meta"}, {Key: "first.name"}}},
		{name: "unclosed bracket", path: "items[0", wantErr: true},
		{name: "stray bracket", path: "items]", wantErr: true},
		{name: "empty bracket", path: "items[]", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPath))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestGetNestedValue tests resolving values at nested paths
func TestGetNestedValue(t *testing.T) {
	record := Record{
		"name": "Ada",
		"user": map[string]interface{}{
			"address": map[string]interface{}{"city": "London"},
			"nick":    nil,
		},
		"items": []interface{}{
			map[string]interface{}{"price": 10.5},
			map[string]interface{}{"price": 20.0},
		},
		"matrix": []interface{}{[]interface{}{1, 2}, []interface{}{3, 4}},
	}

	tests := []struct {
		name      string
		path      string
		want      interface{}
		wantFound bool
	}{
		{name: "top level", path: "name", want: "Ada", wantFound: true},
		{name: "nested", path: "user.address.city", want: "London", wantFound: true},
		{name: "explicit nil", path: "user.nick", want: nil, wantFound: true},
		{name: "indexed", path: "items[1].price", want: 20.0, wantFound: true},
		{name: "chained", path: "matrix[1][0]", want: 3, wantFound: true},
		{name: "missing key", path: "user.phone", wantFound: false},
		{name: "through nil", path: "user.nick.first", wantFound: false},
		{name: "index out of range", path: "items[5].price", wantFound: false},
		{name: "index on object", path: "user[0]", wantFound: false},
		{name: "key on scalar", path: "name.first", wantFound: false},
		{name: "malformed", path: "items[", wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := GetNestedValue(record, tt.path)
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// TestGetNestedValue_EmptyPath tests that an empty path returns the container
func TestGetNestedValue_EmptyPath(t *testing.T) {
	record := Record{"a": 1}
	got, found := GetNestedValue(record, "")
	require.True(t, found)
	assert.Equal(t, record, got)

	seq := []interface{}{"x", "y"}
	got, found = GetNestedValue(seq, "[1]")
	require.True(t, found)
	assert.Equal(t, "y", got)

	_, found = GetNestedValue(nil, "a")
	assert.False(t, found)
}

// TestSetNestedValue tests assignment with creation of intermediates
func TestSetNestedValue(t *testing.T) {
	t.Run("creates objects", func(t *testing.T) {
		record := Record{}
		require.NoError(t, SetNestedValue(record, "user.address.city", "Paris"))
		assert.Equal(t, Record{
			"user": map[string]interface{}{
				"address": map[string]interface{}{"city": "Paris"},
			},
		}, record)
	})

	t.Run("creates and pads sequences", func(t *testing.T) {
		record := Record{}
		require.NoError(t, SetNestedValue(record, "items[2].sku", "A-1"))
		items, ok := record["items"].([]interface{})
		require.True(t, ok)
		require.Len(t, items, 3)
		assert.Nil(t, items[0])
		assert.Nil(t, items[1])
		assert.Equal(t, map[string]interface{}{"sku": "A-1"}, items[2])
	})

	t.Run("updates existing element in place", func(t *testing.T) {
		record := Record{"items": []interface{}{map[string]interface{}{"sku": "old", "qty": 1}}}
		require.NoError(t, SetNestedValue(record, "items[0].sku", "new"))
		assert.Equal(t, []interface{}{map[string]interface{}{"sku": "new", "qty": 1}}, record["items"])
	})

	t.Run("replaces scalar intermediate", func(t *testing.T) {
		record := Record{"user": "flat"}
		require.NoError(t, SetNestedValue(record, "user.name", "Ada"))
		assert.Equal(t, map[string]interface{}{"name": "Ada"}, record["user"])
	})

	t.Run("overwrites leaf", func(t *testing.T) {
		record := Record{"a": 1}
		require.NoError(t, SetNestedValue(record, "a", 2))
		assert.Equal(t, 2, record["a"])
	})

	t.Run("rejects invalid paths", func(t *testing.T) {
		for _, path := range []string{"", "   ", "[0]", "a[", "a]", "a[1000000000]", "a[10001].b"} {
			err := SetNestedValue(Record{}, path, 1)
			assert.ErrorIs(t, err, ErrInvalidPath, path)
		}
	})
}

// TestParseTargetPath tests the bounds applied to write paths
func TestParseTargetPath(t *testing.T) {
	steps, err := ParseTargetPath("items[10000].sku")
	require.NoError(t, err)
	assert.Len(t, steps, 3)

	for _, path := range []string{"", "[1]", "items[10001]", "a.b[999999999999]"} {
		_, err := ParseTargetPath(path)
		assert.ErrorIs(t, err, ErrInvalidPath, path)
	}

	// reads are not bounded
	_, found := GetNestedValue(Record{"a": []interface{}{1}}, "a[1000000000]")
	assert.False(t, found)
}

// TestSetThenGet tests that a value written at a path can be read back
func TestSetThenGet(t *testing.T) {
	paths := []string{"a", "a.b", "a.b[1].c", "x[0][2]", "deep.er.than[3].this"}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			record := Record{}
			require.NoError(t, SetNestedValue(record, path, "v"))
			got, found := GetNestedValue(record, path)
			require.True(t, found)
			assert.Equal(t, "v", got)
		})
	}
}

// TestCompilePattern tests flag translation and caching
func TestCompilePattern(t *testing.T) {
	re, err := CompilePattern("^abc$", "i")
	require.NoError(t, err)
	assert.True(t, re.MatchString("ABC"))

	again, err := CompilePattern("^abc$", "i")
	require.NoError(t, err)
	assert.Same(t, re, again)

	plain, err := CompilePattern("^abc$", "")
	require.NoError(t, err)
	assert.False(t, plain.MatchString("ABC"))

	global, err := CompilePattern("b", "gu")
	require.NoError(t, err)
	assert.True(t, global.MatchString("abc"))

	multi, err := CompilePattern("^b$", "m")
	require.NoError(t, err)
	assert.True(t, multi.MatchString("a\nb\nc"))

	_, err = CompilePattern("(", "")
	assert.Error(t, err)
}
