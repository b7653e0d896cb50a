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

package writers

import (
	"context"
	"strings"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goxform/core"
)

func TestJSONWriter_Modes(t *testing.T) {
	tests := []struct {
		name    string
		opts    []WriterOptionJSON
		records []core.Record
		want    string
	}{
		{
			name:    "lines",
			records: []core.Record{{"id": 1}, {"id": 2}},
			want:    "{\"id\":1}\n{\"id\":2}\n",
		},
		{
			name:    "array",
			opts:    []WriterOptionJSON{WithJSONArray(true)},
			records: []core.Record{{"id": 1}, {"id": 2}},
			want:    "[\n{\"id\":1},\n{\"id\":2}\n]\n",
		},
		{
			name: "empty array",
			opts: []WriterOptionJSON{WithJSONArray(true)},
			want: "[]\n",
		},
		{
			name: "empty lines",
			want: "",
		},
		{
			name:    "indented",
			opts:    []WriterOptionJSON{WithJSONIndent("  ")},
			records: []core.Record{{"id": 1}},
			want:    "{\n  \"id\": 1\n}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &mockWriteCloser{}
			w := NewJSONWriter(out, tt.opts...)
			for _, r := range tt.records {
				require.NoError(t, w.Write(context.Background(), r))
			}
			require.NoError(t, w.Close())
			assert.Equal(t, tt.want, out.String())
			assert.True(t, out.closed)
			assert.Equal(t, int64(len(tt.records)), w.RecordsWritten())
		})
	}
}

func TestJSONWriter_NestedValues(t *testing.T) {
	out := &mockWriteCloser{}
	w := NewJSONWriter(out)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	record := core.Record{
		"user": map[string]interface{}{"name": "Alice", "tags": []interface{}{"a", nil}},
		"at":   ts,
	}
	require.NoError(t, w.Write(context.Background(), record))
	require.NoError(t, w.Close())

	var decoded map[string]interface{}
	require.NoError(t, gojson.Unmarshal([]byte(strings.TrimSpace(out.String())), &decoded))
	assert.Equal(t, map[string]interface{}{"name": "Alice", "tags": []interface{}{"a", nil}}, decoded["user"])
	assert.Equal(t, "2025-06-01T12:00:00Z", decoded["at"])
}

func TestJSONWriter_Errors(t *testing.T) {
	out := &mockWriteCloser{}
	w := NewJSONWriter(out)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	err := w.Write(context.Background(), core.Record{"id": 1})
	var jerr *JSONWriterError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, "write", jerr.Op)

	w = NewJSONWriter(&mockWriteCloser{})
	err = w.Write(context.Background(), core.Record{"ch": make(chan int)})
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, "marshal", jerr.Op)
	require.NoError(t, w.Close())

	failing := &mockWriteCloser{failWrite: true}
	w = NewJSONWriter(failing)
	require.NoError(t, w.Write(context.Background(), core.Record{"id": 1}))
	require.Error(t, w.Flush())
}
