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
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"

	"github.com/aaronlmathis/goxform/core"
)

// JSONWriterError wraps JSON-specific write errors with context.
type JSONWriterError struct {
	Op  string
	Err error
}

func (e *JSONWriterError) Error() string {
	return fmt.Sprintf("json writer %s: %v", e.Op, e.Err)
}

func (e *JSONWriterError) Unwrap() error {
	return e.Err
}

// JSONWriterOptions configures JSON output.
type JSONWriterOptions struct {
	// Array writes a single JSON array instead of one object per line.
	Array bool
	// Indent pretty-prints each record with the given indent.
	Indent string
}

// WriterOptionJSON is a functional option.
type WriterOptionJSON func(*JSONWriterOptions)

func WithJSONArray(array bool) WriterOptionJSON {
	return func(o *JSONWriterOptions) { o.Array = array }
}

func WithJSONIndent(indent string) WriterOptionJSON {
	return func(o *JSONWriterOptions) { o.Indent = indent }
}

// JSONWriter implements DataSink for JSON lines or JSON array output.
type JSONWriter struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	closer  io.Closer
	opts    JSONWriterOptions
	written int64
	closed  bool
}

// NewJSONWriter creates a JSON writer over w.
func NewJSONWriter(w io.WriteCloser, opts ...WriterOptionJSON) *JSONWriter {
	var o JSONWriterOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONWriter{buf: bufio.NewWriter(w), closer: w, opts: o}
}

// Write implements the DataSink interface
func (j *JSONWriter) Write(ctx context.Context, record core.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return &JSONWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}

	var (
		data []byte
		err  error
	)
	if j.opts.Indent != "" {
		data, err = gojson.MarshalIndent(record, "", j.opts.Indent)
	} else {
		data, err = gojson.Marshal(record)
	}
	if err != nil {
		return &JSONWriterError{Op: "marshal", Err: err}
	}

	prefix := "\n"
	if j.opts.Array {
		prefix = ",\n"
		if j.written == 0 {
			prefix = "[\n"
		}
	} else if j.written == 0 {
		prefix = ""
	}
	if _, err := j.buf.WriteString(prefix); err != nil {
		return &JSONWriterError{Op: "write", Err: err}
	}
	if _, err := j.buf.Write(data); err != nil {
		return &JSONWriterError{Op: "write", Err: err}
	}
	j.written++
	return nil
}

// Flush implements the DataSink interface
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return &JSONWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close terminates the document, flushes and closes the underlying writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	tail := "\n"
	switch {
	case j.opts.Array && j.written == 0:
		tail = "[]\n"
	case j.opts.Array:
		tail = "\n]\n"
	case j.written == 0:
		tail = ""
	}
	if _, err := j.buf.WriteString(tail); err != nil {
		return &JSONWriterError{Op: "close", Err: err}
	}
	if err := j.buf.Flush(); err != nil {
		return &JSONWriterError{Op: "close", Err: err}
	}
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

// RecordsWritten returns the number of records written.
func (j *JSONWriter) RecordsWritten() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written
}
