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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goxform/core"
)

func TestCSVWriter_Output(t *testing.T) {
	records := []core.Record{
		{"id": 1, "name": "Alice", "address": map[string]interface{}{"city": "Austin"}},
		{"id": 2, "name": "Bob, Jr.", "address": map[string]interface{}{"city": nil}},
	}

	tests := []struct {
		name string
		opts []WriterOptionCSV
		want string
	}{
		{
			name: "inferred headers flatten nested records",
			want: "address.city,id,name\nAustin,1,Alice\n,2,\"Bob, Jr.\"\n",
		},
		{
			name: "fixed headers",
			opts: []WriterOptionCSV{WithHeaders([]string{"name", "id"})},
			want: "name,id\nAlice,1\n\"Bob, Jr.\",2\n",
		},
		{
			name: "no header row",
			opts: []WriterOptionCSV{WithHeaders([]string{"id"}), WithWriteHeader(false)},
			want: "1\n2\n",
		},
		{
			name: "semicolon delimiter",
			opts: []WriterOptionCSV{WithHeaders([]string{"id", "name"}), WithComma(';')},
			want: "id;name\n1;Alice\n2;Bob, Jr.\n",
		},
		{
			name: "crlf",
			opts: []WriterOptionCSV{WithHeaders([]string{"id"}), WithUseCRLF(true), WithCSVBatchSize(10)},
			want: "id\r\n1\r\n2\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &mockWriteCloser{}
			w, err := NewCSVWriter(out, tt.opts...)
			require.NoError(t, err)
			for _, r := range records {
				require.NoError(t, w.Write(context.Background(), r))
			}
			require.NoError(t, w.Close())
			assert.Equal(t, tt.want, out.String())
			assert.True(t, out.closed)
		})
	}
}

func TestCSVWriter_SequencesAsJSON(t *testing.T) {
	out := &mockWriteCloser{}
	w, err := NewCSVWriter(out)
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), core.Record{"tags": []interface{}{"a", "b"}}))
	require.NoError(t, w.Close())
	assert.Equal(t, "tags\n\"[\"\"a\"\",\"\"b\"\"]\"\n", out.String())
}

func TestCSVWriter_Batching(t *testing.T) {
	out := &mockWriteCloser{}
	w, err := NewCSVWriter(out, WithHeaders([]string{"id"}), WithCSVBatchSize(3))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, w.Write(context.Background(), core.Record{"id": i}))
	}
	assert.Equal(t, int64(0), w.Stats().FlushCount)

	require.NoError(t, w.Write(context.Background(), core.Record{"id": 2}))
	stats := w.Stats()
	assert.Equal(t, int64(1), stats.FlushCount)
	assert.Equal(t, int64(3), stats.RecordsWritten)
	require.NoError(t, w.Close())
}

func TestCSVWriter_NullCounts(t *testing.T) {
	out := &mockWriteCloser{}
	w, err := NewCSVWriter(out)
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), core.Record{"a": nil, "b": map[string]interface{}{"c": nil}}))
	require.NoError(t, w.Write(context.Background(), core.Record{"a": nil, "b": map[string]interface{}{"c": 1}}))
	require.NoError(t, w.Close())

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.NullValueCounts["a"])
	assert.Equal(t, int64(1), stats.NullValueCounts["b.c"])
}

func TestCSVWriter_Errors(t *testing.T) {
	_, err := NewCSVWriter(&mockWriteCloser{}, WithCSVBatchSize(-1))
	var cerr *CSVWriterError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "validate", cerr.Op)

	out := &mockWriteCloser{failWrite: true}
	w, err := NewCSVWriter(out)
	require.NoError(t, err)
	err = w.Write(context.Background(), core.Record{"id": 1})
	require.Error(t, err)
	assert.True(t, errors.As(err, &cerr))

	err = w.Write(context.Background(), core.Record{"id": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error state")
}

func TestCSVWriter_ConcurrentWrites(t *testing.T) {
	out := &mockWriteCloser{}
	w, err := NewCSVWriter(out, WithHeaders([]string{"id"}), WithCSVBatchSize(7))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, w.Write(context.Background(), core.Record{"id": g*100 + i}))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	assert.Equal(t, int64(200), w.Stats().RecordsWritten)
}
