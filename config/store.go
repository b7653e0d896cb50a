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

package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/lib/pq"
)

// DefaultTable is the table PostgresStore reads definitions from.
const DefaultTable = "pipeline_definitions"

// ErrNotFound is returned when no definition exists under a name.
var ErrNotFound = errors.New("pipeline definition not found")

// StoreError represents a definition store error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("postgres store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// PostgresStore keeps pipeline definitions as JSON documents in a table with
// columns name (text, primary key) and definition (jsonb or text).
type PostgresStore struct {
	db      *sql.DB
	table   string
	timeout time.Duration
}

// StoreOption configures a PostgresStore.
type StoreOption func(*PostgresStore)

// WithTable overrides the definitions table name.
func WithTable(table string) StoreOption {
	return func(s *PostgresStore) {
		if table != "" {
			s.table = table
		}
	}
}

// WithQueryTimeout bounds every store query.
func WithQueryTimeout(timeout time.Duration) StoreOption {
	return func(s *PostgresStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, opts ...StoreOption) *PostgresStore {
	s := &PostgresStore{db: db, table: DefaultTable, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenPostgresStore connects to PostgreSQL with the lib/pq driver and verifies the
// connection.
func OpenPostgresStore(ctx context.Context, dsn string, opts ...StoreOption) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &StoreError{Op: "ping", Err: err}
	}
	return NewPostgresStore(db, opts...), nil
}

// Get loads and decodes the definition stored under name.
func (s *PostgresStore) Get(ctx context.Context, name string) (*Definition, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf("SELECT definition FROM %s WHERE name = $1", quoteIdent(s.table))
	var doc []byte
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &StoreError{Op: "get", Err: fmt.Errorf("%w: %s", ErrNotFound, name)}
		}
		return nil, &StoreError{Op: "get", Err: err}
	}

	def, err := Parse(doc, FormatJSON)
	if err != nil {
		return nil, &StoreError{Op: "decode", Err: err}
	}
	if def.Name == "" {
		def.Name = name
	}
	return def, nil
}

// Put inserts or replaces the definition stored under def.Name.
func (s *PostgresStore) Put(ctx context.Context, def *Definition) error {
	if def == nil || def.Name == "" {
		return &StoreError{Op: "put", Err: errors.New("definition requires a name")}
	}
	doc, err := gojson.Marshal(def)
	if err != nil {
		return &StoreError{Op: "encode", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(
		"INSERT INTO %s (name, definition) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET definition = EXCLUDED.definition",
		quoteIdent(s.table))
	if _, err := s.db.ExecContext(ctx, query, def.Name, string(doc)); err != nil {
		return &StoreError{Op: "put", Err: err}
	}
	return nil
}

// List returns the stored definition names in order.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT name FROM %s ORDER BY name", quoteIdent(s.table)))
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return names, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// quoteIdent quotes a possibly schema-qualified table name.
func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}
