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
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/goxform/core"
)

// ParquetWriterError wraps Parquet-specific write errors with the failing operation.
type ParquetWriterError struct {
	Op  string
	Err error
}

func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriterStats holds statistics about the Parquet writer.
type ParquetWriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	BatchSize    int
	RowGroupSize int64
	Compression  compress.Compression
	// Fields fixes the columns and their order. Fields may be nested field paths.
	Fields []string
}

// WriterOptionParquet is a functional option.
type WriterOptionParquet func(*ParquetWriterOptions)

// WithParquetBatchSize sets how many records are buffered per Arrow record batch.
func WithParquetBatchSize(size int) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) { opts.BatchSize = size }
}

func WithParquetRowGroupSize(size int64) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) { opts.RowGroupSize = size }
}

func WithParquetCompression(codec compress.Compression) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) { opts.Compression = codec }
}

func WithParquetFields(fields []string) WriterOptionParquet {
	return func(opts *ParquetWriterOptions) {
		opts.Fields = append([]string(nil), fields...)
	}
}

// ParquetWriter implements DataSink for Parquet output.
//
// The schema is inferred from the first record: nested records are flattened into
// dotted column names like the CSV writer, integers become INT64, other numbers
// DOUBLE, booleans BOOLEAN, times TIMESTAMP(us), and strings, sequences and objects
// UTF8 (composites as JSON text). Values that do not fit their column are written
// as null and counted in NullValueCounts; keys absent from the schema are dropped.
type ParquetWriter struct {
	out       io.Writer
	closer    io.Closer
	opts      ParquetWriterOptions
	allocator memory.Allocator

	schema   *arrow.Schema
	columns  []string
	builders []array.Builder
	writer   *pqarrow.FileWriter

	buffer     []map[string]interface{}
	stats      ParquetWriterStats
	closed     bool
	errorState bool
	mu         sync.Mutex
}

// writerOnly hides Close from pqarrow so the writer controls when w is closed.
type writerOnly struct {
	io.Writer
}

// NewParquetWriter creates a Parquet writer over w. Nothing is written until the
// first batch is flushed.
func NewParquetWriter(w io.WriteCloser, options ...WriterOptionParquet) (*ParquetWriter, error) {
	opts := ParquetWriterOptions{
		BatchSize:    1000,
		RowGroupSize: 10000,
		Compression:  compress.Codecs.Snappy,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.BatchSize <= 0 {
		return nil, &ParquetWriterError{Op: "validate", Err: fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)}
	}
	if opts.RowGroupSize <= 0 {
		return nil, &ParquetWriterError{Op: "validate", Err: fmt.Errorf("row group size must be positive, got %d", opts.RowGroupSize)}
	}

	return &ParquetWriter{
		out:       writerOnly{w},
		closer:    w,
		opts:      opts,
		allocator: memory.NewGoAllocator(),
		buffer:    make([]map[string]interface{}, 0, opts.BatchSize),
		stats:     ParquetWriterStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Write implements the DataSink interface.
func (p *ParquetWriter) Write(ctx context.Context, record core.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}
	if p.errorState {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}
	select {
	case <-ctx.Done():
		return &ParquetWriterError{Op: "write", Err: ctx.Err()}
	default:
	}

	flat := make(map[string]interface{})
	flatten("", map[string]interface{}(record), flat)

	if p.schema == nil {
		if err := p.initSchema(flat); err != nil {
			p.errorState = true
			return err
		}
	}

	p.buffer = append(p.buffer, flat)
	p.stats.RecordsWritten++
	if len(p.buffer) >= p.opts.BatchSize {
		return p.flushUnsafe()
	}
	return nil
}

// Flush implements the DataSink interface. It writes buffered records as one
// record batch.
func (p *ParquetWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushUnsafe()
}

// Close flushes, writes the Parquet footer and closes the underlying writer. A
// writer that never received a record writes nothing.
func (p *ParquetWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	if !p.errorState {
		firstErr = p.flushUnsafe()
	}
	for _, b := range p.builders {
		b.Release()
	}
	p.builders = nil
	if p.writer != nil {
		if err := p.writer.Close(); err != nil && firstErr == nil {
			firstErr = &ParquetWriterError{Op: "close_writer", Err: err}
		}
	}
	if p.closer != nil {
		if err := p.closer.Close(); err != nil && firstErr == nil {
			firstErr = &ParquetWriterError{Op: "close", Err: err}
		}
	}
	return firstErr
}

// Schema returns the inferred schema, or nil before the first record.
func (p *ParquetWriter) Schema() *arrow.Schema {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.schema
}

// Stats returns a copy of the writer statistics.
func (p *ParquetWriter) Stats() ParquetWriterStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

func (p *ParquetWriter) initSchema(first map[string]interface{}) error {
	columns := p.opts.Fields
	if len(columns) == 0 {
		columns = make([]string, 0, len(first))
		for name := range first {
			columns = append(columns, name)
		}
		sort.Strings(columns)
	}
	if len(columns) == 0 {
		return &ParquetWriterError{Op: "schema", Err: fmt.Errorf("first record has no fields")}
	}

	fields := make([]arrow.Field, len(columns))
	for i, name := range columns {
		fields[i] = arrow.Field{Name: name, Type: arrowType(first[name]), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	props := parquet.NewWriterProperties(
		parquet.WithCompression(p.opts.Compression),
		parquet.WithMaxRowGroupLength(p.opts.RowGroupSize),
	)
	writer, err := pqarrow.NewFileWriter(schema, p.out, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return &ParquetWriterError{Op: "create_writer", Err: err}
	}

	p.schema = schema
	p.columns = columns
	p.writer = writer
	p.builders = make([]array.Builder, len(fields))
	for i, f := range fields {
		p.builders[i] = array.NewBuilder(p.allocator, f.Type)
	}
	return nil
}

// arrowType maps a JSON-algebra value to its column type. Missing and null values
// default to UTF8.
func arrowType(value interface{}) arrow.DataType {
	switch v := value.(type) {
	case bool:
		return arrow.FixedWidthTypes.Boolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return arrow.PrimitiveTypes.Int64
	case uint64:
		if v <= math.MaxInt64 {
			return arrow.PrimitiveTypes.Int64
		}
		return arrow.PrimitiveTypes.Float64
	case float32, float64:
		return arrow.PrimitiveTypes.Float64
	case time.Time:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

func (p *ParquetWriter) flushUnsafe() error {
	if len(p.buffer) == 0 || p.writer == nil {
		return nil
	}
	start := time.Now()

	for _, flat := range p.buffer {
		for i, name := range p.columns {
			value, ok := flat[name]
			if !ok || value == nil || !appendValue(p.builders[i], value) {
				p.builders[i].AppendNull()
				p.stats.NullValueCounts[name]++
			}
		}
	}

	cols := make([]arrow.Array, len(p.builders))
	for i, b := range p.builders {
		cols[i] = b.NewArray()
	}
	rec := array.NewRecord(p.schema, cols, int64(len(p.buffer)))
	for _, col := range cols {
		col.Release()
	}
	defer rec.Release()
	p.buffer = p.buffer[:0]

	if err := p.writer.Write(rec); err != nil {
		p.errorState = true
		return &ParquetWriterError{Op: "write_batch", Err: err}
	}

	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(start)
	p.stats.LastFlushTime = time.Now()
	return nil
}

// appendValue appends value to b and reports whether it fit the column type.
func appendValue(b array.Builder, value interface{}) bool {
	switch b := b.(type) {
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if ok {
			b.Append(v)
		}
		return ok
	case *array.Int64Builder:
		switch v := value.(type) {
		case bool:
			return false
		case int:
			b.Append(int64(v))
			return true
		case int64:
			b.Append(v)
			return true
		}
		f, ok := core.ParseNumber(value)
		if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return false
		}
		b.Append(int64(f))
		return true
	case *array.Float64Builder:
		if _, isBool := value.(bool); isBool {
			return false
		}
		f, ok := core.ParseNumber(value)
		if ok {
			b.Append(f)
		}
		return ok
	case *array.TimestampBuilder:
		switch v := value.(type) {
		case time.Time:
			b.Append(arrow.Timestamp(v.UnixMicro()))
			return true
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return false
			}
			b.Append(arrow.Timestamp(t.UnixMicro()))
			return true
		}
		return false
	case *array.StringBuilder:
		b.Append(core.Stringify(value))
		return true
	}
	return false
}
