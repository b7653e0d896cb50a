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
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/aaronlmathis/goxform/core"
)

// PostgresReaderError provides structured error information for Postgres reader operations
type PostgresReaderError struct {
	Op  string // Operation that failed (e.g., "connect", "query", "scan", "read")
	Err error  // Underlying error
}

func (e *PostgresReaderError) Error() string {
	return fmt.Sprintf("postgres reader %s: %v", e.Op, e.Err)
}

func (e *PostgresReaderError) Unwrap() error {
	return e.Err
}

// PostgresReader implements core.DataSource for PostgreSQL query results. JSON and
// JSONB columns are decoded into nested values so pipelines can address them by path.
type PostgresReader struct {
	mu          sync.Mutex
	db          *sql.DB
	ownsDB      bool
	tx          *sql.Tx
	rows        *sql.Rows
	columnNames []string
	columnTypes []string
	values      []interface{}
	scanBuffer  []interface{}
	fetched     int
	stats       PostgresReaderStats
	opts        *PostgresReaderOptions
	finished    bool
}

// PostgresReaderStats holds statistics about the Postgres reader's performance
type PostgresReaderStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// PostgresReaderOptions configures the Postgres reader
type PostgresReaderOptions struct {
	DSN             string        // Database connection string
	DB              *sql.DB       // Existing handle; DSN is ignored when set
	Query           string        // SQL query to execute
	Params          []interface{} // Optional query parameters
	BatchSize       int           // Rows per FETCH when a cursor is used
	ConnMaxLifetime time.Duration
	MaxOpenConns    int
	QueryTimeout    time.Duration
	UseCursor       bool
	CursorName      string
}

// PostgresReaderOption represents a configuration function for PostgresReaderOptions
type PostgresReaderOption func(*PostgresReaderOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) { opts.DSN = dsn }
}

// WithPostgresDB reads through an existing database handle, which Close leaves open.
func WithPostgresDB(db *sql.DB) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) { opts.DB = db }
}

// WithPostgresQuery sets the SQL query and optional parameters.
func WithPostgresQuery(query string, params ...interface{}) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.Query = query
		opts.Params = append([]interface{}(nil), params...)
	}
}

// WithPostgresBatchSize sets the cursor fetch size.
func WithPostgresBatchSize(size int) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) { opts.BatchSize = size }
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen int, lifetime time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.MaxOpenConns = maxOpen
		opts.ConnMaxLifetime = lifetime
	}
}

// WithPostgresQueryTimeout bounds connecting and executing the query.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) { opts.QueryTimeout = timeout }
}

// WithPostgresCursor streams results through a server-side cursor.
func WithPostgresCursor(useCursor bool, cursorName string) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.UseCursor = useCursor
		opts.CursorName = cursorName
	}
}

// withDefaults applies default values to PostgresReaderOptions
func (opts *PostgresReaderOptions) withDefaults() *PostgresReaderOptions {
	result := &PostgresReaderOptions{}
	if opts != nil {
		*result = *opts
	}
	if result.BatchSize <= 0 {
		result.BatchSize = 1000
	}
	if result.QueryTimeout <= 0 {
		result.QueryTimeout = 30 * time.Second
	}
	if result.ConnMaxLifetime <= 0 {
		result.ConnMaxLifetime = 5 * time.Minute
	}
	if result.MaxOpenConns <= 0 {
		result.MaxOpenConns = 10
	}
	if result.CursorName == "" {
		result.CursorName = "goxform_cursor"
	}
	return result
}

// NewPostgresReader connects, runs the query and returns a reader positioned before
// the first row.
func NewPostgresReader(ctx context.Context, options ...PostgresReaderOption) (*PostgresReader, error) {
	opts := &PostgresReaderOptions{}
	for _, option := range options {
		option(opts)
	}
	opts = opts.withDefaults()

	if opts.Query == "" {
		return nil, &PostgresReaderError{Op: "validate", Err: fmt.Errorf("query is required")}
	}
	if opts.UseCursor && !isValidCursorName(opts.CursorName) {
		return nil, &PostgresReaderError{Op: "validate", Err: fmt.Errorf("invalid cursor name: %s", opts.CursorName)}
	}

	reader := &PostgresReader{
		db:    opts.DB,
		opts:  opts,
		stats: PostgresReaderStats{NullValueCounts: make(map[string]int64)},
	}

	ctx, cancel := context.WithTimeout(ctx, opts.QueryTimeout)
	defer cancel()

	if reader.db == nil {
		if opts.DSN == "" {
			return nil, &PostgresReaderError{Op: "validate", Err: fmt.Errorf("dsn or db is required")}
		}
		db, err := sql.Open("postgres", opts.DSN)
		if err != nil {
			return nil, &PostgresReaderError{Op: "connect", Err: err}
		}
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, &PostgresReaderError{Op: "ping", Err: err}
		}
		reader.db = db
		reader.ownsDB = true
	}

	if err := reader.executeQuery(ctx); err != nil {
		reader.Close()
		return nil, err
	}
	return reader, nil
}

// executeQuery runs the query directly or declares the cursor and fetches the
// first batch.
func (p *PostgresReader) executeQuery(ctx context.Context) error {
	start := time.Now()
	if p.opts.UseCursor {
		// Rows and the cursor must outlive the constructor's timeout.
		tx, err := p.db.BeginTx(context.Background(), &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return &PostgresReaderError{Op: "begin_transaction", Err: err}
		}
		p.tx = tx
		declare := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", p.opts.CursorName, p.opts.Query)
		if _, err := tx.ExecContext(ctx, declare, p.opts.Params...); err != nil {
			return &PostgresReaderError{Op: "declare_cursor", Err: err}
		}
		if err := p.fetch(context.Background()); err != nil {
			return err
		}
	} else {
		rows, err := p.db.QueryContext(context.Background(), p.opts.Query, p.opts.Params...)
		if err != nil {
			return &PostgresReaderError{Op: "query", Err: err}
		}
		p.rows = rows
	}
	p.stats.QueryDuration = time.Since(start)

	columnNames, err := p.rows.Columns()
	if err != nil {
		return &PostgresReaderError{Op: "columns", Err: err}
	}
	columnTypes, err := p.rows.ColumnTypes()
	if err != nil {
		return &PostgresReaderError{Op: "column_types", Err: err}
	}

	p.columnNames = columnNames
	p.columnTypes = make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		p.columnTypes[i] = ct.DatabaseTypeName()
	}
	p.values = make([]interface{}, len(columnNames))
	p.scanBuffer = make([]interface{}, len(columnNames))
	for i := range p.scanBuffer {
		p.scanBuffer[i] = &p.values[i]
	}
	return nil
}

func (p *PostgresReader) fetch(ctx context.Context) error {
	if p.rows != nil {
		p.rows.Close()
	}
	rows, err := p.tx.QueryContext(ctx, fmt.Sprintf("FETCH %d FROM %s", p.opts.BatchSize, p.opts.CursorName))
	if err != nil {
		return &PostgresReaderError{Op: "fetch_cursor", Err: err}
	}
	p.rows = rows
	p.fetched = 0
	return nil
}

// Read implements the core.DataSource interface. Thread-safe.
func (p *PostgresReader) Read(ctx context.Context) (core.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(start)
		p.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return nil, &PostgresReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if p.finished || p.rows == nil {
		return nil, io.EOF
	}

	for !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return nil, &PostgresReaderError{Op: "read", Err: err}
		}
		// A full cursor batch means more rows may follow.
		if p.tx == nil || p.fetched < p.opts.BatchSize {
			p.finished = true
			return nil, io.EOF
		}
		if err := p.fetch(ctx); err != nil {
			return nil, err
		}
	}
	p.fetched++

	if err := p.rows.Scan(p.scanBuffer...); err != nil {
		return nil, &PostgresReaderError{Op: "scan", Err: err}
	}

	record := make(core.Record, len(p.columnNames))
	for i, name := range p.columnNames {
		if p.values[i] == nil {
			p.stats.NullValueCounts[name]++
			record[name] = nil
			continue
		}
		value, err := convertSQLValue(p.values[i], p.columnTypes[i])
		if err != nil {
			return nil, &PostgresReaderError{Op: "convert", Err: fmt.Errorf("column %s: %w", name, err)}
		}
		record[name] = value
	}
	p.stats.RecordsRead++
	return record, nil
}

// convertSQLValue maps lib/pq driver values onto the record value algebra.
func convertSQLValue(value interface{}, dbType string) (interface{}, error) {
	b, ok := value.([]byte)
	if !ok {
		return core.Normalize(value), nil
	}
	switch dbType {
	case "JSON", "JSONB":
		var decoded interface{}
		if err := gojson.Unmarshal(b, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	case "NUMERIC":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f, nil
		}
		return string(b), nil
	case "_TEXT", "_VARCHAR":
		var arr pq.StringArray
		if err := arr.Scan(b); err != nil {
			return nil, err
		}
		return core.Normalize([]string(arr)), nil
	case "_INT4", "_INT8":
		var arr pq.Int64Array
		if err := arr.Scan(b); err != nil {
			return nil, err
		}
		return core.Normalize([]int64(arr)), nil
	case "BYTEA":
		return b, nil
	default:
		return string(b), nil
	}
}

// isValidCursorName allows only identifiers of letters, digits and underscores.
func isValidCursorName(name string) bool {
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return len(name) > 0 && len(name) <= 63
}

// Stats returns a copy of the reader statistics.
func (p *PostgresReader) Stats() PostgresReaderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// Schema returns a map of column name to database type name.
func (p *PostgresReader) Schema() map[string]string {
	schema := make(map[string]string, len(p.columnNames))
	for i, name := range p.columnNames {
		schema[name] = p.columnTypes[i]
	}
	return schema
}

// Close releases the rows, the cursor transaction and, when the reader opened it,
// the database handle.
func (p *PostgresReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.rows != nil {
		if err := p.rows.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing rows: %w", err))
		}
		p.rows = nil
	}
	if p.tx != nil {
		if err := p.tx.Rollback(); err != nil {
			errs = append(errs, fmt.Errorf("rolling back transaction: %w", err))
		}
		p.tx = nil
	}
	if p.db != nil && p.ownsDB {
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	p.db = nil

	if len(errs) > 0 {
		return &PostgresReaderError{Op: "close", Err: fmt.Errorf("multiple errors: %v", errs)}
	}
	return nil
}
