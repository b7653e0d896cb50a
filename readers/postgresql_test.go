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
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresReaderOptions(t *testing.T) {
	opts := &PostgresReaderOptions{}
	WithPostgresQuery("SELECT * FROM users WHERE active = $1", true)(opts)
	WithPostgresCursor(true, "")(opts)
	opts = opts.withDefaults()

	assert.Equal(t, "SELECT * FROM users WHERE active = $1", opts.Query)
	assert.Equal(t, []interface{}{true}, opts.Params)
	assert.Equal(t, 1000, opts.BatchSize)
	assert.Equal(t, 30*time.Second, opts.QueryTimeout)
	assert.Equal(t, 10, opts.MaxOpenConns)
	assert.Equal(t, "goxform_cursor", opts.CursorName)
	assert.True(t, opts.UseCursor)
}

func TestPostgresReaderError(t *testing.T) {
	base := errors.New("connection refused")
	err := &PostgresReaderError{Op: "ping", Err: base}
	assert.Equal(t, "postgres reader ping: connection refused", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestPostgresReaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		options []PostgresReaderOption
		want    string
	}{
		{name: "missing query", options: []PostgresReaderOption{WithPostgresDSN("postgres://localhost/db")}, want: "query is required"},
		{name: "missing dsn", options: []PostgresReaderOption{WithPostgresQuery("SELECT 1")}, want: "dsn or db is required"},
		{
			name:    "invalid cursor name",
			options: []PostgresReaderOption{WithPostgresQuery("SELECT 1"), WithPostgresCursor(true, "bad; DROP TABLE x")},
			want:    "invalid cursor name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewPostgresReader(context.Background(), tt.options...)
			require.Error(t, err)
			assert.Nil(t, reader)
			var readerErr *PostgresReaderError
			require.ErrorAs(t, err, &readerErr)
			assert.Equal(t, "validate", readerErr.Op)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConvertSQLValue(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		dbType string
		want   interface{}
	}{
		{name: "jsonb object", value: []byte(`{"a":{"b":[1,2]}}`), dbType: "JSONB", want: map[string]interface{}{"a": map[string]interface{}{"b": []interface{}{float64(1), float64(2)}}}},
		{name: "numeric", value: []byte("12.50"), dbType: "NUMERIC", want: 12.5},
		{name: "text", value: []byte("hello"), dbType: "TEXT", want: "hello"},
		{name: "text array", value: []byte(`{a,b}`), dbType: "_TEXT", want: []interface{}{"a", "b"}},
		{name: "int array", value: []byte(`{1,2}`), dbType: "_INT8", want: []interface{}{int64(1), int64(2)}},
		{name: "bytea", value: []byte{0x01}, dbType: "BYTEA", want: []byte{0x01}},
		{name: "int64", value: int64(7), dbType: "INT8", want: int64(7)},
		{name: "bool", value: true, dbType: "BOOL", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertSQLValue(tt.value, tt.dbType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := convertSQLValue([]byte(`{broken`), "JSON")
	assert.Error(t, err)
}

func TestIsValidCursorName(t *testing.T) {
	assert.True(t, isValidCursorName("goxform_cursor_1"))
	assert.False(t, isValidCursorName(""))
	assert.False(t, isValidCursorName("name-with-dash"))
}

// Requires GOXFORM_TEST_POSTGRES_DSN pointing at a scratch database.
func TestPostgresReaderIntegration(t *testing.T) {
	dsn := os.Getenv("GOXFORM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOXFORM_TEST_POSTGRES_DSN not set")
	}

	for _, cursor := range []bool{false, true} {
		reader, err := NewPostgresReader(context.Background(),
			WithPostgresDSN(dsn),
			WithPostgresQuery(`SELECT g AS id, jsonb_build_object('n', g) AS doc FROM generate_series(1, $1::int) g`, 5),
			WithPostgresCursor(cursor, ""),
			WithPostgresBatchSize(2),
		)
		require.NoError(t, err)

		var ids []interface{}
		for {
			record, err := reader.Read(context.Background())
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			ids = append(ids, record["id"])
			assert.Equal(t, map[string]interface{}{"n": float64(len(ids))}, record["doc"])
		}
		assert.Len(t, ids, 5)
		assert.Equal(t, int64(5), reader.Stats().RecordsRead)
		require.NoError(t, reader.Close())
	}
}
