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

package readers

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/goxform/core"
)

// ParquetReaderError provides structured error information for parquet reader operations.
type ParquetReaderError struct {
	Op  string // e.g. "open_file", "schema", "load_batch"
	Err error
}

func (e *ParquetReaderError) Error() string {
	return fmt.Sprintf("parquet reader %s: %v", e.Op, e.Err)
}

func (e *ParquetReaderError) Unwrap() error {
	return e.Err
}

// ParquetReaderStats holds statistics about the Parquet reader.
type ParquetReaderStats struct {
	RecordsRead     int64
	BatchesRead     int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// ParquetReaderOptions configures the Parquet reader.
type ParquetReaderOptions struct {
	BatchSize int64
	// Columns projects the listed top-level columns, in file order.
	Columns []string
	// NestedColumns treats column names as field paths, so "address.city" fills a
	// nested record. This reverses the flattening done by the Parquet writer.
	NestedColumns bool
}

// ReaderOptionParquet represents a configuration function.
type ReaderOptionParquet func(*ParquetReaderOptions)

func WithParquetBatchSize(size int64) ReaderOptionParquet {
	return func(o *ParquetReaderOptions) { o.BatchSize = size }
}

func WithParquetColumns(columns ...string) ReaderOptionParquet {
	return func(o *ParquetReaderOptions) {
		o.Columns = append([]string(nil), columns...)
	}
}

func WithParquetNestedColumns(nested bool) ReaderOptionParquet {
	return func(o *ParquetReaderOptions) { o.NestedColumns = nested }
}

// ParquetReader implements DataSource for Parquet files. Rows are decoded into the
// JSON value algebra: integers as int64, floats as float64, timestamps and dates as
// time.Time, binary as string, and lists, maps and structs as sequences and records.
type ParquetReader struct {
	closer       io.Closer
	recordReader pqarrow.RecordReader
	schema       *arrow.Schema
	paths        [][]core.PathStep

	batch    arrow.Record
	batchRow int
	done     bool
	stats    ParquetReaderStats
	mu       sync.Mutex
}

// NewParquetReader opens a Parquet file.
func NewParquetReader(filename string, options ...ReaderOptionParquet) (*ParquetReader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, &ParquetReaderError{Op: "open_file", Err: err}
	}
	r, err := NewParquetReaderFrom(f, options...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewParquetReaderFrom reads Parquet data from r. r is closed by Close when it
// implements io.Closer.
func NewParquetReaderFrom(r parquet.ReaderAtSeeker, options ...ReaderOptionParquet) (*ParquetReader, error) {
	opts := ParquetReaderOptions{BatchSize: 1000}
	for _, option := range options {
		option(&opts)
	}
	if opts.BatchSize <= 0 {
		return nil, &ParquetReaderError{Op: "validate", Err: fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)}
	}

	pf, err := file.NewParquetReader(r)
	if err != nil {
		return nil, &ParquetReaderError{Op: "create_reader", Err: err}
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: opts.BatchSize}, memory.NewGoAllocator())
	if err != nil {
		pf.Close()
		return nil, &ParquetReaderError{Op: "create_arrow_reader", Err: err}
	}
	schema, err := fr.Schema()
	if err != nil {
		pf.Close()
		return nil, &ParquetReaderError{Op: "schema", Err: err}
	}

	var indices []int
	for _, name := range opts.Columns {
		found := schema.FieldIndices(name)
		if len(found) == 0 {
			pf.Close()
			return nil, &ParquetReaderError{Op: "column_projection", Err: fmt.Errorf("column %q not found in schema", name)}
		}
		indices = append(indices, found[0])
	}

	rr, err := fr.GetRecordReader(context.Background(), indices, nil)
	if err != nil {
		pf.Close()
		return nil, &ParquetReaderError{Op: "create_record_reader", Err: err}
	}

	reader := &ParquetReader{
		recordReader: rr,
		schema:       rr.Schema(),
		stats:        ParquetReaderStats{NullValueCounts: make(map[string]int64)},
	}
	if c, ok := r.(io.Closer); ok {
		reader.closer = c
	}
	if opts.NestedColumns {
		for _, field := range reader.schema.Fields() {
			steps, err := core.ParseTargetPath(field.Name)
			if err != nil {
				// Names that are not field paths stay literal keys.
				steps = []core.PathStep{{Key: field.Name}}
			}
			reader.paths = append(reader.paths, steps)
		}
	}
	return reader, nil
}

// Read implements the DataSource interface.
func (p *ParquetReader) Read(ctx context.Context) (core.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	select {
	case <-ctx.Done():
		return nil, &ParquetReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	for p.batch == nil || p.batchRow >= int(p.batch.NumRows()) {
		if p.done {
			return nil, io.EOF
		}
		if err := p.loadBatch(); err != nil {
			p.done = true
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, &ParquetReaderError{Op: "load_batch", Err: err}
		}
	}

	res := make(core.Record, p.batch.NumCols())
	for i, field := range p.schema.Fields() {
		value, err := p.value(p.batch.Column(i), p.batchRow, field.Name)
		if err != nil {
			return nil, &ParquetReaderError{Op: "read_record", Err: err}
		}
		if p.paths != nil {
			if err := core.SetSteps(res, p.paths[i], value); err != nil {
				return nil, &ParquetReaderError{Op: "read_record", Err: err}
			}
			continue
		}
		res[field.Name] = value
	}
	p.batchRow++

	p.stats.RecordsRead++
	p.stats.LastReadTime = time.Now()
	p.stats.ReadDuration += time.Since(start)
	return res, nil
}

func (p *ParquetReader) loadBatch() error {
	p.releaseBatch()
	rec, err := p.recordReader.Read()
	if err != nil {
		return err
	}
	if rec == nil {
		return io.EOF
	}
	// The record reader reuses its record on the next call.
	rec.Retain()
	p.batch = rec
	p.batchRow = 0
	p.stats.BatchesRead++
	return nil
}

func (p *ParquetReader) releaseBatch() {
	if p.batch != nil {
		p.batch.Release()
		p.batch = nil
	}
}

func (p *ParquetReader) value(col arrow.Array, row int, name string) (interface{}, error) {
	if col.IsNull(row) {
		p.stats.NullValueCounts[name]++
		return nil, nil
	}
	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(row), nil
	case *array.Int8:
		return int64(arr.Value(row)), nil
	case *array.Int16:
		return int64(arr.Value(row)), nil
	case *array.Int32:
		return int64(arr.Value(row)), nil
	case *array.Int64:
		return arr.Value(row), nil
	case *array.Uint8:
		return int64(arr.Value(row)), nil
	case *array.Uint16:
		return int64(arr.Value(row)), nil
	case *array.Uint32:
		return int64(arr.Value(row)), nil
	case *array.Uint64:
		return arr.Value(row), nil
	case *array.Float32:
		return float64(arr.Value(row)), nil
	case *array.Float64:
		return arr.Value(row), nil
	case *array.String:
		return arr.Value(row), nil
	case *array.Binary:
		return string(arr.Value(row)), nil
	case *array.Timestamp:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		return arr.Value(row).ToTime(unit).UTC(), nil
	case *array.Date32:
		return arr.Value(row).ToTime().UTC(), nil
	case *array.Date64:
		return arr.Value(row).ToTime().UTC(), nil
	}

	// Nested and less common types go through their JSON form.
	data, err := gojson.Marshal(col.GetOneForMarshal(row))
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", name, err)
	}
	var out interface{}
	if err := gojson.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("column %s: %w", name, err)
	}
	return out, nil
}

// Schema returns the Arrow schema of the projected columns.
func (p *ParquetReader) Schema() *arrow.Schema {
	return p.schema
}

// Stats returns a copy of the reader statistics.
func (p *ParquetReader) Stats() ParquetReaderStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// Close releases Arrow buffers and closes the underlying file.
func (p *ParquetReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	p.releaseBatch()
	if p.recordReader != nil {
		p.recordReader.Release()
		p.recordReader = nil
	}
	if p.closer != nil {
		err := p.closer.Close()
		p.closer = nil
		return err
	}
	return nil
}
