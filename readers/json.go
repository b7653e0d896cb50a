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
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"unicode"

	gojson "github.com/goccy/go-json"

	"github.com/aaronlmathis/goxform/core"
)

// JSONReaderError wraps structured error information for the JSON reader.
type JSONReaderError struct {
	Op  string
	Err error
}

func (e *JSONReaderError) Error() string {
	return fmt.Sprintf("json reader %s: %v", e.Op, e.Err)
}

func (e *JSONReaderError) Unwrap() error {
	return e.Err
}

// JSONReader implements DataSource for JSON documents. It accepts either a stream of
// objects (JSON lines) or a single top-level array of objects; the form is detected
// from the first non-space byte.
type JSONReader struct {
	mu      sync.Mutex
	buf     *bufio.Reader
	decoder *gojson.Decoder
	closer  io.Closer
	started bool
	array   bool
	done    bool
	read    int64
}

// NewJSONReader creates a JSON reader over r.
func NewJSONReader(r io.ReadCloser) *JSONReader {
	buf := bufio.NewReader(r)
	return &JSONReader{
		buf:     buf,
		decoder: gojson.NewDecoder(buf),
		closer:  r,
	}
}

// Read implements the DataSource interface.
func (j *JSONReader) Read(ctx context.Context) (core.Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, &JSONReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if j.done {
		return nil, io.EOF
	}
	if !j.started {
		if err := j.start(); err != nil {
			return nil, err
		}
	}

	if j.array && !j.decoder.More() {
		j.done = true
		return nil, io.EOF
	}

	var raw interface{}
	if err := j.decoder.Decode(&raw); err != nil {
		if err == io.EOF && !j.array {
			j.done = true
			return nil, io.EOF
		}
		// The decoder cannot resync after a syntax error.
		j.done = true
		return nil, &JSONReaderError{Op: "decode", Err: err}
	}

	record, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &JSONReaderError{Op: "decode", Err: fmt.Errorf("element %d is %T, want an object", j.read+1, raw)}
	}
	j.read++
	return record, nil
}

// start detects the document form and consumes the opening bracket of an array.
func (j *JSONReader) start() error {
	j.started = true
	for {
		r, _, err := j.buf.ReadRune()
		if err == io.EOF {
			j.done = true
			return io.EOF
		}
		if err != nil {
			j.done = true
			return &JSONReaderError{Op: "read", Err: err}
		}
		if unicode.IsSpace(r) {
			continue
		}
		if err := j.buf.UnreadRune(); err != nil {
			return &JSONReaderError{Op: "read", Err: err}
		}
		if r != '[' {
			return nil
		}
		j.array = true
		if _, err := j.decoder.Token(); err != nil {
			return &JSONReaderError{Op: "decode", Err: err}
		}
		return nil
	}
}

// RecordsRead returns the number of records decoded so far.
func (j *JSONReader) RecordsRead() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.read
}

// Close implements the DataSource interface.
func (j *JSONReader) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
