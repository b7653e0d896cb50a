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

package goxform

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ValueField holds non-record pipeline output (for example split batches) when it
// is written to a sink.
const ValueField = "value"

// RunSummary reports what a streaming Run did.
type RunSummary struct {
	RecordsRead      int
	RecordsFiltered  int
	RecordsWritten   int
	BatchesProcessed int
	BatchesFailed    int
	Warnings         []string
	// Errors holds the batch errors collected under CollectErrors.
	Errors []error
}

// Run streams every record from source through the pipeline into sink.
//
// Records pass the pipeline's transformers and filters first and are then executed
// in batches of the configured batch size. Sequence output is written element by element; elements
// and outputs that are not records are wrapped as {"value": v}. Failed batches and
// read or write errors are handled by the error strategy: FailFast returns the
// error, SkipErrors and CollectErrors continue (CollectErrors keeps the error in the
// summary) unless the error handler returns an error. Run flushes and closes the sink
// and closes the source before returning; a flush or sink close error is returned.
func (p *Pipeline) Run(ctx context.Context, source DataSource, sink DataSink) (summary *RunSummary, err error) {
	if source == nil {
		return nil, errors.New("run requires a data source")
	}
	if sink == nil {
		return nil, errors.New("run requires a data sink")
	}

	summary = &RunSummary{}
	defer func() {
		if cerr := source.Close(); cerr != nil {
			p.logger.Warn("close source", zap.Error(cerr))
		}
		if ferr := sink.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close sink: %w", cerr)
		}
		p.logger.Info("run finished",
			zap.Int("records_read", summary.RecordsRead),
			zap.Int("records_written", summary.RecordsWritten),
			zap.Int("batches_failed", summary.BatchesFailed),
		)
	}()

	batch := make([]Record, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		defer func() { batch = batch[:0] }()
		return p.runBatch(ctx, batch, sink, summary)
	}

	for {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		record, rerr := source.Read(ctx)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if herr := p.handleError(ctx, nil, rerr, summary); herr != nil {
				return summary, herr
			}
			continue
		}
		summary.RecordsRead++

		if len(record) == 0 {
			continue
		}

		transformed, terr := p.applyTransformations(ctx, record)
		if terr != nil {
			if herr := p.handleError(ctx, []Record{record}, fmt.Errorf("transform: %w", terr), summary); herr != nil {
				return summary, herr
			}
			continue
		}
		if transformed == nil {
			summary.RecordsFiltered++
			continue
		}
		record = transformed

		include, ferr := p.applyFilters(ctx, record)
		if ferr != nil {
			if herr := p.handleError(ctx, []Record{record}, ferr, summary); herr != nil {
				return summary, herr
			}
			continue
		}
		if !include {
			summary.RecordsFiltered++
			continue
		}

		batch = append(batch, record)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}

	if err := flush(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (p *Pipeline) runBatch(ctx context.Context, batch []Record, sink DataSink, summary *RunSummary) error {
	data := make([]interface{}, len(batch))
	for i, record := range batch {
		data[i] = map[string]interface{}(record)
	}

	result := p.Execute(ctx, data)
	summary.BatchesProcessed++
	summary.Warnings = append(summary.Warnings, result.Warnings...)
	if !result.Success {
		summary.BatchesFailed++
		failed := make([]Record, len(batch))
		copy(failed, batch)
		return p.handleError(ctx, failed, resultError(result), summary)
	}

	var outputs []interface{}
	switch v := result.Data.(type) {
	case nil:
	case []interface{}:
		outputs = v
	default:
		outputs = []interface{}{v}
	}

	for _, out := range outputs {
		record, ok := out.(map[string]interface{})
		if !ok {
			record = map[string]interface{}{ValueField: out}
		}
		if err := sink.Write(ctx, record); err != nil {
			if herr := p.handleError(ctx, []Record{record}, fmt.Errorf("write: %w", err), summary); herr != nil {
				return herr
			}
			continue
		}
		summary.RecordsWritten++
	}
	return nil
}

// applyTransformations applies the configured transformers in sequence. A nil
// record stops the chain.
func (p *Pipeline) applyTransformations(ctx context.Context, record Record) (Record, error) {
	current := record
	for _, transformer := range p.transformers {
		transformed, err := transformer.Transform(ctx, current)
		if err != nil {
			return nil, err
		}
		if transformed == nil {
			return nil, nil
		}
		current = transformed
	}
	return current, nil
}

// applyFilters applies all configured filters to a record.
func (p *Pipeline) applyFilters(ctx context.Context, record Record) (bool, error) {
	for _, filter := range p.filters {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		if !include {
			return false, nil
		}
	}
	return true, nil
}

// handleError handles errors according to the pipeline's error strategy and handler.
// It returns an error if processing should stop, or nil to continue.
func (p *Pipeline) handleError(ctx context.Context, records []Record, err error, summary *RunSummary) error {
	p.logger.Warn("run error", zap.Error(err), zap.Int("records", len(records)), zap.Stringer("strategy", p.strategy))
	switch p.strategy {
	case FailFast:
		return err
	case SkipErrors:
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, records, err)
		}
		return nil
	case CollectErrors:
		summary.Errors = append(summary.Errors, err)
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, records, err)
		}
		return nil
	default:
		return err
	}
}
