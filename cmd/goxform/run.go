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
	"errors"
	"fmt"
	"io"
	"os"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aaronlmathis/goxform"
	"github.com/aaronlmathis/goxform/location"
)

// errFailed signals a run that completed without success. The result has already
// been printed.
var errFailed = errors.New("pipeline did not succeed")

func newRunCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline",
		Long: `Run a pipeline over a document or a record stream.

Batch mode reads one JSON document (object or array) from --input and prints the
result as JSON. Stream mode starts when --source is given: records are read from
the source, transformed in batches and written to --sink.

Sources: path.json, path.jsonl, path.csv, path.parquet, "-" (stdin JSON),
  postgres://... (with --query), mongodb://... (with --mongo-db, --mongo-collection),
  s3://bucket/prefix, http(s)://... (JSON API, with --data-path)
Sinks: path.json, path.jsonl, path.csv, path.parquet, "-" (stdout JSON lines),
  postgres://... (with --table), s3://bucket/key.{json,jsonl,csv,parquet}

Example:
  goxform run --definition pipeline.yaml --input people.json
  goxform run --definition pipeline.yaml --source people.csv --sink out.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.buildPipeline(cmd)
			if err != nil {
				return err
			}
			if a.v.GetString("source") != "" {
				return a.stream(cmd, p)
			}
			return a.batch(cmd, p)
		},
	}

	flags := cmd.Flags()
	flags.String("input", "-", "Batch mode input document")
	flags.Bool("pretty", true, "Indent the batch mode result")
	flags.String("source", "", "Stream mode record source")
	flags.String("sink", "-", "Stream mode record sink")
	flags.String("query", "", "SQL query for postgres sources")
	flags.String("table", "", "Target table for postgres sinks")
	flags.Bool("create-table", false, "Create the postgres sink table if missing")
	flags.String("mongo-db", "", "Database for mongodb sources")
	flags.String("mongo-collection", "", "Collection for mongodb sources")
	flags.String("data-path", "", "Records array inside http source responses (e.g. data.items)")
	flags.String("bearer-token", "", "Bearer token for http sources")
	flags.String("s3-region", "", "Region for s3 sources and sinks")
	flags.String("s3-endpoint", "", "Custom endpoint for s3 sources and sinks")
	return cmd
}

func (a *app) batch(cmd *cobra.Command, p *goxform.Pipeline) error {
	data, err := readDocument(a.v.GetString("input"), cmd.InOrStdin())
	if err != nil {
		return err
	}

	result := p.Execute(cmd.Context(), data)

	var out []byte
	if a.v.GetBool("pretty") {
		out, err = gojson.MarshalIndent(result, "", "  ")
	} else {
		out, err = gojson.Marshal(result)
	}
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if !result.Success {
		return errFailed
	}
	return nil
}

func readDocument(path string, stdin io.Reader) (interface{}, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	var data interface{}
	if err := gojson.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return data, nil
}

func (a *app) stream(cmd *cobra.Command, p *goxform.Pipeline) error {
	ctx := cmd.Context()

	opts := location.Options{
		Query:           a.v.GetString("query"),
		Table:           a.v.GetString("table"),
		CreateTable:     a.v.GetBool("create-table"),
		MongoDatabase:   a.v.GetString("mongo-db"),
		MongoCollection: a.v.GetString("mongo-collection"),
		DataPath:        a.v.GetString("data-path"),
		BearerToken:     a.v.GetString("bearer-token"),
		S3Region:        a.v.GetString("s3-region"),
		S3Endpoint:      a.v.GetString("s3-endpoint"),
		Stdin:           cmd.InOrStdin(),
		Stdout:          cmd.OutOrStdout(),
	}

	source, err := location.OpenSource(ctx, a.v.GetString("source"), opts)
	if err != nil {
		return err
	}
	sink, err := location.OpenSink(ctx, a.v.GetString("sink"), opts)
	if err != nil {
		source.Close()
		return err
	}

	summary, err := p.Run(ctx, source, sink)
	if summary != nil {
		a.logger.Info("stream finished",
			zap.String("pipeline", p.Name()),
			zap.Int("records_read", summary.RecordsRead),
			zap.Int("records_filtered", summary.RecordsFiltered),
			zap.Int("records_written", summary.RecordsWritten),
			zap.Int("batches_failed", summary.BatchesFailed),
			zap.Errors("errors", summary.Errors),
		)
		for _, w := range summary.Warnings {
			a.logger.Warn(w, zap.String("pipeline", p.Name()))
		}
	}
	return err
}
