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
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"pipeline_definitions"`, quoteIdent("pipeline_definitions"))
	assert.Equal(t, `"etl"."definitions"`, quoteIdent("etl.definitions"))
	assert.Equal(t, `"bad""name"`, quoteIdent(`bad"name`))
}

func TestStoreError(t *testing.T) {
	err := &StoreError{Op: "get", Err: ErrNotFound}
	assert.Equal(t, "postgres store get: pipeline definition not found", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
}

// Requires GOXFORM_TEST_POSTGRES_DSN pointing at a scratch database.
func TestPostgresStoreIntegration(t *testing.T) {
	dsn := os.Getenv("GOXFORM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOXFORM_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	store, err := OpenPostgresStore(ctx, dsn, WithTable("goxform_test_definitions"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS goxform_test_definitions (name text PRIMARY KEY, definition jsonb NOT NULL)`)
	require.NoError(t, err)
	defer store.db.ExecContext(ctx, `DROP TABLE goxform_test_definitions`)

	def, err := Parse([]byte(yamlDefinition), FormatYAML)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, def))

	got, err := store.Get(ctx, "customers")
	require.NoError(t, err)
	assert.Equal(t, def.BatchSize, got.BatchSize)
	assert.Len(t, got.Operations, 2)

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers"}, names)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
