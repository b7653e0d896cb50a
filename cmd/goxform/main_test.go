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

package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definition = `
name: people
operations:
  - type: redact
    order: 1
    config:
      fields: [ssn]
      replacement: hidden
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	a := newApp()
	cmd := newRootCommand(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	require.NoError(t, a.shutdown())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "goxform v"+version)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "", "validate", "--definition", writeFile(t, dir, "ok.yaml", definition))
	require.NoError(t, err)
	assert.Equal(t, "pipeline \"people\" is valid\n", out)

	bad := writeFile(t, dir, "bad.yaml", "operations:\n  - type: nope\n    order: 1\n")
	_, err = execute(t, "", "validate", "--definition", bad)
	require.Error(t, err)

	_, err = execute(t, "", "validate")
	require.EqualError(t, err, "--definition or --store-dsn is required")
}

func TestRunBatch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "def.yaml", definition)

	out, err := execute(t, `[{"id":1,"ssn":"123"},{"id":2}]`, "run", "--definition", path)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, gojson.Unmarshal([]byte(out), &result))
	assert.Equal(t, true, result["success"])
	data := result["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, "hidden", data[0].(map[string]interface{})["ssn"])

	stats := result["stats"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["recordsProcessed"])
}

func TestRunBatch_InvalidInput(t *testing.T) {
	path := writeFile(t, t.TempDir(), "def.yaml", definition)
	_, err := execute(t, `{not json`, "run", "--definition", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode input")
}

func TestRunStream(t *testing.T) {
	dir := t.TempDir()
	def := writeFile(t, dir, "def.yaml", definition)
	src := writeFile(t, dir, "people.csv", "id,ssn\n1,111\n2,222\n")
	sink := filepath.Join(dir, "out.jsonl")

	_, err := execute(t, "", "run", "--definition", def, "--source", src, "--sink", sink)
	require.NoError(t, err)

	raw, err := os.ReadFile(sink)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var record map[string]interface{}
		require.NoError(t, gojson.Unmarshal([]byte(line), &record))
		assert.Equal(t, "hidden", record["ssn"])
	}
}

func TestRunStream_EnvBinding(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GOXFORM_DEFINITION", writeFile(t, dir, "def.yaml", definition))
	src := writeFile(t, dir, "in.jsonl", "{\"ssn\":\"1\"}\n")

	out, err := execute(t, "", "run", "--source", src)
	require.NoError(t, err)
	assert.Equal(t, "{\"ssn\":\"hidden\"}\n", out)
}

func TestRunStream_HTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"data":[{"ssn":"1"},{"ssn":"2"}]}`)
	}))
	defer srv.Close()

	def := writeFile(t, t.TempDir(), "def.yaml", definition)
	out, err := execute(t, "", "run", "--definition", def, "--source", srv.URL, "--data-path", "data")
	require.NoError(t, err)
	assert.Equal(t, "{\"ssn\":\"hidden\"}\n{\"ssn\":\"hidden\"}\n", out)
}
