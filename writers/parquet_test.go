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

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goxform/core"
)

// readParquetColumns decodes a Parquet file into its schema and column values.
func readParquetColumns(t *testing.T, data string) (*arrow.Schema, map[string][]interface{}) {
	t.Helper()
	tbl, err := pqarrow.ReadTable(context.Background(), strings.NewReader(data),
		parquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	require.NoError(t, err)
	defer tbl.Release()

	cols := make(map[string][]interface{})
	for i := 0; i < int(tbl.NumCols()); i++ {
		col := tbl.Column(i)
		for _, chunk := range col.Data().Chunks() {
			for row := 0; row < chunk.Len(); row++ {
				cols[col.Name()] = append(cols[col.Name()], chunk.GetOneForMarshal(row))
			}
		}
	}
	return tbl.Schema(), cols
}

func TestParquetWriter_BasicFunctionality(t *testing.T) {
	out := &mockWriteCloser{}
	w, err := NewParquetWriter(out,
		WithParquetBatchSize(2),
		WithParquetCompression(compress.Codecs.Snappy),
	)
	require.NoError(t, err)

	records := []core.Record{
		{"id": int64(1), "name": "Alice", "active": true, "score": 95.5},
		{"id": int64(2), "name": "Bob", "active": false, "score": 87.2},
		{"id": int64(3), "name": "Charlie", "active": true, "score": 92.8},
	}
	for _, r := range records {
		require.NoError(t, w.Write(context.Background(), r))
	}

	stats := w.Stats()
	assert.Equal(t, int64(3), stats.RecordsWritten)
	assert.Equal(t, int64(1), stats.BatchesWritten)

	require.NoError(t, w.Close())
	assert.True(t, out.closed)
	assert.Equal(t, int64(2), w.Stats().BatchesWritten)

	schema, cols := readParquetColumns(t, out.String())
	names := make([]string, 0, len(schema.Fields()))
	for _, f := range schema.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"active", "id", "name", "score"}, names)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, cols["id"])
	assert.Equal(t, []interface{}{"Alice", "Bob", "Charlie"}, cols["name"])
	assert.Equal(t, []interface{}{true, false, true}, cols["active"])
	assert.Equal(t, []interface{}{95.5, 87.2, 92.8}, cols["score"])
}

func TestParquetWriter_TypeInference(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  arrow.DataType
	}{
		{"bool", true, arrow.FixedWidthTypes.Boolean},
		{"int", 42, arrow.PrimitiveTypes.Int64},
		{"int32", int32(42), arrow.PrimitiveTypes.Int64},
		{"int64", int64(42), arrow.PrimitiveTypes.Int64},
		{"float32", float32(3.5), arrow.PrimitiveTypes.Float64},
		{"float64", 3.14159, arrow.PrimitiveTypes.Float64},
		{"string", "hello", arrow.BinaryTypes.String},
		{"time", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), arrow.FixedWidthTypes.Timestamp_us},
		{"sequence", []interface{}{1, 2}, arrow.BinaryTypes.String},
		{"nil", nil, arrow.BinaryTypes.String},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &mockWriteCloser{}
			w, err := NewParquetWriter(out, WithParquetBatchSize(1))
			require.NoError(t, err)

			require.NoError(t, w.Write(context.Background(), core.Record{"test_field": tt.value}))
			schema := w.Schema()
			require.NotNil(t, schema)
			require.Len(t, schema.Fields(), 1)
			assert.True(t, arrow.TypeEqual(tt.want, schema.Field(0).Type), "got %s", schema.Field(0).Type)
			require.NoError(t, w.Close())
		})
	}
}

func TestParquetWriter_FlattensLikeCSV(t *testing.T) {
	out := &mockWriteCloser{}
	w, err := NewParquetWriter(out)
	require.NoError(t, err)

	record := core.Record{
		"id":      1,
		"address": map[string]interface{}{"city": "Austin", "geo": map[string]interface{}{"lat": 30.2}},
		"tags":    []interface{}{"a", "b"},
		"meta":    map[string]interface{}{},
	}
	require.NoError(t, w.Write(context.Background(), record))
	require.NoError(t, w.Close())

	_, cols := readParquetColumns(t, out.String())
	assert.Equal(t, []interface{}{"Austin"}, cols["address.city"])
	assert.Equal(t, []interface{}{30.2}, cols["address.geo.lat"])
	assert.Equal(t, []interface{}{`["a","b"]`}, cols["tags"])
	assert.Equal(t, []interface{}{`{}`}, cols["meta"])
	assert.Equal(t, []interface{}{int64(1)}, cols["id"])
}

func TestParquetWriter_NullValues(t *testing.T) {
	out := &mockWriteCloser{}
	w, err := NewParquetWriter(out, WithParquetBatchSize(2))
	require.NoError(t, err)

	records := []core.Record{
		{"id": int64(1), "name": "Alice", "email": "alice@example.com"},
		{"id": int64(2), "name": nil, "email": "bob@example.com"},
		{"id": "three", "email": "charlie@example.com"},
		{"id": true, "name": "Dana", "email": "dana@example.com"},
	}
	for _, r := range records {
		require.NoError(t, w.Write(context.Background(), r))
	}
	require.NoError(t, w.Flush())

	stats := w.Stats()
	assert.Equal(t, int64(4), stats.RecordsWritten)
	assert.Equal(t, int64(2), stats.NullValueCounts["id"], "values that do not fit the column are null")
	assert.Equal(t, int64(2), stats.NullValueCounts["name"])
	assert.Zero(t, stats.NullValueCounts["email"])

	require.NoError(t, w.Close())
	_, cols := readParquetColumns(t, out.String())
	assert.Equal(t, []interface{}{int64(1), int64(2), nil, nil}, cols["id"])
	assert.Equal(t, []interface{}{"Alice", nil, nil, "Dana"}, cols["name"])
}

func TestParquetWriter_NumericStrings(t *testing.T) {
	out := &mockWriteCloser{}
	w, err := NewParquetWriter(out, WithParquetFields([]string{"n", "f"}))
	require.NoError(t, err)

	require.NoError(t, w.Write(context.Background(), core.Record{"n": int64(7), "f": 1.5}))
	require.NoError(t, w.Write(context.Background(), core.Record{"n": "8", "f": "2.25"}))
	require.NoError(t, w.Write(context.Background(), core.Record{"n": 9.5, "f": "Inf"}))
	require.NoError(t, w.Close())

	_, cols := readParquetColumns(t, out.String())
	assert.Equal(t, []interface{}{int64(7), int64(8), nil}, cols["n"])
	assert.Equal(t, []interface{}{1.5, 2.25, nil}, cols["f"])
}

func TestParquetWriter_MissingFields(t *testing.T) {
	out := &mockWriteCloser{}
	w, err := NewParquetWriter(out,
		WithParquetFields([]string{"id", "name", "email", "age"}),
		WithParquetBatchSize(2),
	)
	require.NoError(t, err)

	records := []core.Record{
		{"id": int64(1), "name": "Alice", "email": "alice@example.com"},
		{"id": int64(2), "name": "Bob", "age": int64(30)},
		{"name": "Charlie", "email": "charlie@example.com", "age": int64(25), "extra": "dropped"},
	}
	for _, r := range records {
		require.NoError(t, w.Write(context.Background(), r))
	}
	require.NoError(t, w.Close())

	schema, cols := readParquetColumns(t, out.String())
	assert.Len(t, schema.Fields(), 4)
	assert.NotContains(t, cols, "extra")
	assert.Equal(t, []interface{}{"Alice", "Bob", "Charlie"}, cols["name"])
	// The first record fixes the column types, so age is text.
	assert.Equal(t, []interface{}{nil, "30", "25"}, cols["age"])
}

func TestParquetWriter_ErrorHandling(t *testing.T) {
	t.Run("write after close", func(t *testing.T) {
		w, err := NewParquetWriter(&mockWriteCloser{})
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.NoError(t, w.Close(), "close is idempotent")

		err = w.Write(context.Background(), core.Record{"test": "value"})
		var pe *ParquetWriterError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "write", pe.Op)
		assert.Contains(t, err.Error(), "closed")
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := NewParquetWriter(&mockWriteCloser{}, WithParquetBatchSize(0))
		var pe *ParquetWriterError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "validate", pe.Op)

		_, err = NewParquetWriter(&mockWriteCloser{}, WithParquetRowGroupSize(-1))
		require.ErrorAs(t, err, &pe)
	})

	t.Run("cancelled context", func(t *testing.T) {
		w, err := NewParquetWriter(&mockWriteCloser{})
		require.NoError(t, err)
		defer w.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = w.Write(ctx, core.Record{"test": "value"})
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("empty first record", func(t *testing.T) {
		w, err := NewParquetWriter(&mockWriteCloser{})
		require.NoError(t, err)
		require.Error(t, w.Write(context.Background(), core.Record{}))
		assert.Contains(t, w.Write(context.Background(), core.Record{"a": 1}).Error(), "error state")
		require.NoError(t, w.Close())
	})
}

func TestParquetWriter_FlushBehavior(t *testing.T) {
	w, err := NewParquetWriter(&mockWriteCloser{}, WithParquetBatchSize(10))
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Write(context.Background(), core.Record{"id": int64(i)}))
	}
	require.NoError(t, w.Flush())

	stats := w.Stats()
	assert.Equal(t, int64(5), stats.RecordsWritten)
	assert.Equal(t, int64(1), stats.BatchesWritten)

	require.NoError(t, w.Flush())
	assert.Equal(t, int64(1), w.Stats().BatchesWritten, "an empty flush writes no batch")
}

func BenchmarkParquetWriter_Write(b *testing.B) {
	w, err := NewParquetWriter(&mockWriteCloser{}, WithParquetBatchSize(1000))
	require.NoError(b, err)
	defer w.Close()

	ctx := context.Background()
	record := core.Record{
		"id":        int64(1),
		"name":      "benchmark_user",
		"score":     95.5,
		"active":    true,
		"timestamp": time.Now(),
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		record["id"] = int64(i)
		if err := w.Write(ctx, record); err != nil {
			b.Fatal(err)
		}
	}
}
