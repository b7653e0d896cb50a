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
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aaronlmathis/goxform/config"
	"github.com/aaronlmathis/goxform/core"
	"github.com/aaronlmathis/goxform/mapping"
	"github.com/aaronlmathis/goxform/metrics"
	"github.com/aaronlmathis/goxform/operations"
	"github.com/aaronlmathis/goxform/validators"
)

var fixedTime = time.Date(2025, 6, 1, 12, 30, 45, 123000000, time.UTC)

func fixedClock() time.Time { return fixedTime }

func mustNew(t *testing.T, ops []operations.Operation, mappings []mapping.FieldMapping, rules []validators.ValidationRule, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(ops, mappings, rules, append([]Option{WithClock(fixedClock)}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestExecuteIsDeterministic(t *testing.T) {
	p := mustNew(t,
		[]operations.Operation{
			{Type: operations.Enrich, Order: 2, Config: map[string]interface{}{
				"add_fields": map[string]interface{}{"source": "import"},
			}},
			{Type: operations.Filter, Order: 1, Config: map[string]interface{}{
				"field": "active", "operator": "eq", "value": true,
			}},
		},
		[]mapping.FieldMapping{
			{SourceField: "id", TargetField: "id"},
			{SourceField: "active", TargetField: "active"},
			{SourceField: "name", TargetField: "name", Transform: map[string]interface{}{"type": "uppercase"}},
		},
		nil,
	)

	input := []interface{}{
		map[string]interface{}{"id": 1, "name": "ada", "active": true},
		map[string]interface{}{"id": 2, "name": "bob", "active": false},
		map[string]interface{}{"id": 3, "active": true},
	}

	first := p.Execute(context.Background(), input)
	second := p.Execute(context.Background(), input)
	require.True(t, first.Success, first.Errors)

	if diff := cmp.Diff(first.Data, second.Data); diff != "" {
		t.Errorf("data differs between runs (-first +second):\n%s", diff)
	}
	assert.Equal(t, first.Errors, second.Errors)
	assert.Equal(t, first.Warnings, second.Warnings)
	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)

	want := []interface{}{
		map[string]interface{}{"id": 1, "name": "ADA", "active": true, "source": "import"},
		map[string]interface{}{"id": 3, "active": true, "source": "import"},
	}
	if diff := cmp.Diff(want, first.Data); diff != "" {
		t.Errorf("unexpected data (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"source field name not found in 1 record(s); name left unset"}, first.Warnings)
	assert.Equal(t, 3, first.Stats.RecordsProcessed)
	assert.Equal(t, 2, first.Stats.RecordsTransformed)
	assert.Equal(t, 1, first.Stats.RecordsSkipped)
}

func TestExecuteDoesNotMutateInput(t *testing.T) {
	p := mustNew(t,
		[]operations.Operation{
			{Type: operations.Redact, Config: map[string]interface{}{"fields": []interface{}{"ssn"}}},
			{Type: operations.Enrich, Order: 1, Config: map[string]interface{}{"add_timestamp": true}},
		}, nil, nil)

	input := map[string]interface{}{"ssn": "123-45-6789", "nested": map[string]interface{}{"a": 1}}
	result := p.Execute(context.Background(), input)
	require.True(t, result.Success)

	assert.Equal(t, map[string]interface{}{"ssn": "123-45-6789", "nested": map[string]interface{}{"a": 1}}, input)
	out := result.Data.(map[string]interface{})
	out["nested"].(map[string]interface{})["a"] = 2
	assert.Equal(t, 1, input["nested"].(map[string]interface{})["a"])
}

func TestValidationFailureRejectsInput(t *testing.T) {
	p := mustNew(t,
		[]operations.Operation{{Type: operations.Enrich, Config: map[string]interface{}{"add_timestamp": true}}},
		nil,
		[]validators.ValidationRule{{Field: "email", Type: validators.RuleRequired}},
	)

	input := []interface{}{
		map[string]interface{}{"email": "a@example.com"},
		map[string]interface{}{"name": "missing email"},
		map[string]interface{}{"email": "c@example.com"},
	}

	result := p.Execute(context.Background(), input)
	assert.False(t, result.Success)
	assert.Nil(t, result.Data)
	assert.Equal(t, []string{"Record 2: email is required"}, result.Errors)
	assert.Equal(t, 3, result.Stats.RecordsProcessed)
	assert.Equal(t, result.Stats.RecordsProcessed, result.Stats.RecordsSkipped)
	assert.Zero(t, result.Stats.RecordsTransformed)
}

func TestMappingLastWriteWins(t *testing.T) {
	p := mustNew(t, nil,
		[]mapping.FieldMapping{
			{SourceField: "first", TargetField: "name"},
			{SourceField: "missing", TargetField: "country", DefaultValue: "US"},
			{SourceField: "nick", TargetField: "name"},
		},
		nil,
	)

	result := p.Execute(context.Background(), map[string]interface{}{"first": "Ada", "nick": "ada99"})
	require.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"name": "ada99", "country": "US"}, result.Data)
	assert.Empty(t, result.Warnings)
}

func TestFilterMatchingEverythingKeepsOrder(t *testing.T) {
	p := mustNew(t, []operations.Operation{
		{Type: operations.Filter, Config: map[string]interface{}{"field": "id", "operator": "exists"}},
	}, nil, nil)

	input := []interface{}{
		map[string]interface{}{"id": 3},
		map[string]interface{}{"id": 1},
		map[string]interface{}{"id": 2},
	}
	result := p.Execute(context.Background(), input)
	require.True(t, result.Success)
	if diff := cmp.Diff(input, result.Data); diff != "" {
		t.Errorf("filter changed data (-want +got):\n%s", diff)
	}
}

func TestRedactOperations(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]interface{}
		input  map[string]interface{}
		want   map[string]interface{}
	}{
		{
			name:   "field masking",
			config: map[string]interface{}{"fields": []interface{}{"ssn"}},
			input:  map[string]interface{}{"ssn": "123-45-6789", "name": "Jo"},
			want:   map[string]interface{}{"ssn": "***REDACTED***", "name": "Jo"},
		},
		{
			name:   "email pattern",
			config: map[string]interface{}{"patterns": []interface{}{"email"}},
			input:  map[string]interface{}{"note": "contact me at jo@example.com"},
			want:   map[string]interface{}{"note": "contact me at jo***@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustNew(t, []operations.Operation{{Type: operations.Redact, Config: tt.config}}, nil, nil)
			result := p.Execute(context.Background(), tt.input)
			require.True(t, result.Success, result.Errors)
			assert.Equal(t, tt.want, result.Data)
		})
	}
}

func TestSplitIntoBatches(t *testing.T) {
	p := mustNew(t, []operations.Operation{
		{Type: operations.Split, Config: map[string]interface{}{"batch_size": 2}},
	}, nil, nil)

	result := p.Execute(context.Background(), []interface{}{1, 2, 3, 4, 5})
	require.True(t, result.Success, result.Errors)
	assert.Equal(t, []interface{}{
		[]interface{}{1, 2},
		[]interface{}{3, 4},
		[]interface{}{5},
	}, result.Data)
}

func TestRangeValidation(t *testing.T) {
	p := mustNew(t, nil, nil, []validators.ValidationRule{
		{Field: "age", Type: validators.RuleRange, Config: map[string]interface{}{"min": 0, "max": 120}},
	})

	result := p.Execute(context.Background(), map[string]interface{}{"age": 150})
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "age")
}

func TestMappingTransformTrimsName(t *testing.T) {
	p := mustNew(t,
		[]operations.Operation{{Type: operations.Map, Order: 1, Config: map[string]interface{}{"type": "trim"}}},
		[]mapping.FieldMapping{
			{SourceField: "name", TargetField: "name", Transform: map[string]interface{}{"type": "trim"}},
			{SourceField: "email", TargetField: "email"},
		},
		nil,
	)

	result := p.Execute(context.Background(), map[string]interface{}{"name": " Bob ", "email": "BOB@EXAMPLE.COM"})
	require.True(t, result.Success, result.Errors)
	assert.Equal(t, map[string]interface{}{"name": "Bob", "email": "BOB@EXAMPLE.COM"}, result.Data)
}

func TestEnrichAddsFieldsAndTimestamp(t *testing.T) {
	p := mustNew(t, []operations.Operation{
		{Type: operations.Enrich, Config: map[string]interface{}{
			"add_timestamp": true,
			"add_fields":    map[string]interface{}{"source": "seed-script"},
		}},
	}, nil, nil)

	result := p.Execute(context.Background(), map[string]interface{}{"id": 1})
	require.True(t, result.Success, result.Errors)

	out := result.Data.(map[string]interface{})
	assert.Equal(t, 1, out["id"])
	assert.Equal(t, "seed-script", out["source"])
	ts, ok := out["enriched_at"].(string)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(fixedTime))
}

func TestOperationFailureFaults(t *testing.T) {
	p := mustNew(t, []operations.Operation{
		{Type: operations.Validate, Order: 3, Config: map[string]interface{}{
			"rules": []interface{}{map[string]interface{}{"field": "id", "type": "required"}},
		}},
	}, nil, nil)

	result := p.Execute(context.Background(), []interface{}{
		map[string]interface{}{"id": 1},
		map[string]interface{}{"name": "x"},
	})
	assert.False(t, result.Success)
	assert.Nil(t, result.Data)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "operation validate (order 3): validation failed: Record 2: id is required", result.Errors[0])
	assert.Equal(t, 2, result.Stats.RecordsProcessed)
	assert.Zero(t, result.Stats.RecordsTransformed)
}

func TestMergeIntoRecordWithListFaults(t *testing.T) {
	p := mustNew(t, []operations.Operation{
		{Type: operations.Merge, Config: map[string]interface{}{"with": []interface{}{1}}},
	}, nil, nil)

	result := p.Execute(context.Background(), map[string]interface{}{"id": 1})
	assert.False(t, result.Success)
	assert.Nil(t, result.Data)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "operation merge (order 0)")
}

func TestEmptiedDataWarns(t *testing.T) {
	p := mustNew(t, []operations.Operation{
		{Type: operations.Filter, Order: 4, Config: map[string]interface{}{"field": "id", "operator": "gt", "value": 10}},
	}, nil, nil)

	result := p.Execute(context.Background(), []interface{}{map[string]interface{}{"id": 1}})
	require.True(t, result.Success)
	assert.Equal(t, []interface{}{}, result.Data)
	assert.Equal(t, []string{"operation filter (order 4) removed all records"}, result.Warnings)
	assert.Equal(t, 1, result.Stats.RecordsSkipped)
}

func TestCancelledContextFaults(t *testing.T) {
	p := mustNew(t, []operations.Operation{
		{Type: operations.Enrich, Config: map[string]interface{}{"add_fields": map[string]interface{}{"x": 1}}},
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Execute(ctx, map[string]interface{}{"id": 1})
	assert.False(t, result.Success)
	assert.Nil(t, result.Data)
	assert.Equal(t, []string{context.Canceled.Error()}, result.Errors)
}

func TestCustomValidatorPanicFaults(t *testing.T) {
	p := mustNew(t,
		[]operations.Operation{{Type: operations.Validate, Config: map[string]interface{}{
			"rules": []interface{}{map[string]interface{}{
				"field": "id", "type": "custom", "config": map[string]interface{}{"validator": "explode"},
			}},
		}}},
		nil, nil,
		WithCustomValidator("explode", func(interface{}, bool, core.Record) (bool, error) {
			panic("boom")
		}),
	)

	result := p.Execute(context.Background(), map[string]interface{}{"id": 1})
	assert.False(t, result.Success)
	assert.Nil(t, result.Data)
	assert.Equal(t, []string{"panic during transformation: boom"}, result.Errors)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name     string
		ops      []operations.Operation
		mappings []mapping.FieldMapping
		rules    []validators.ValidationRule
	}{
		{name: "unknown operation", ops: []operations.Operation{{Type: "explode"}}},
		{name: "unknown map function", ops: []operations.Operation{{Type: operations.Map, Config: map[string]interface{}{"type": "reverse"}}}},
		{name: "unknown filter operator", ops: []operations.Operation{{Type: operations.Filter, Config: map[string]interface{}{"field": "a", "operator": "like"}}}},
		{name: "bad regex", ops: []operations.Operation{{Type: operations.Filter, Config: map[string]interface{}{"field": "a", "operator": "regex", "value": "("}}}},
		{name: "empty mapping target", mappings: []mapping.FieldMapping{{SourceField: "a"}}},
		{name: "unknown mapping transform", mappings: []mapping.FieldMapping{{SourceField: "a", TargetField: "b", Transform: map[string]interface{}{"type": "nope"}}}},
		{name: "unknown rule type", rules: []validators.ValidationRule{{Field: "a", Type: "shape"}}},
		{name: "unregistered custom validator", rules: []validators.ValidationRule{{Field: "a", Type: validators.RuleCustom, Config: map[string]interface{}{"validator": "missing"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.ops, tt.mappings, tt.rules)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, core.IsKind(err, core.KindConfig), "got %v", err)
		})
	}
}

func TestTransformSingleRecord(t *testing.T) {
	p := mustNew(t, []operations.Operation{
		{Type: operations.Filter, Config: map[string]interface{}{"field": "keep", "operator": "eq", "value": true}},
	}, nil, []validators.ValidationRule{{Field: "id", Type: validators.RuleRequired}})

	out, err := p.Transform(context.Background(), Record{"id": 1, "keep": true})
	require.NoError(t, err)
	assert.Equal(t, Record{"id": 1, "keep": true}, out)

	out, err = p.Transform(context.Background(), Record{"id": 2, "keep": false})
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = p.Transform(context.Background(), Record{"keep": true})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindValidation))
	assert.Equal(t, "id is required", err.Error())

	splitter := mustNew(t, []operations.Operation{{Type: operations.Split, Config: map[string]interface{}{"field": "tags"}}}, nil, nil)
	out, err = splitter.Transform(context.Background(), Record{"tags": "a,b"})
	require.NoError(t, err)
	assert.Equal(t, Record{"tags": []interface{}{"a", "b"}}, out)
}

func TestExecuteRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := mustNew(t,
		[]operations.Operation{{Type: operations.Merge, Config: map[string]interface{}{"with": "x"}}},
		nil,
		[]validators.ValidationRule{{Field: "id", Type: validators.RuleRequired}},
		WithName("orders"),
		WithMetrics(metrics.NewCollector(reg)),
	)

	p.Execute(context.Background(), []interface{}{map[string]interface{}{"id": 1}})
	p.Execute(context.Background(), map[string]interface{}{"id": 1})
	p.Execute(context.Background(), map[string]interface{}{})

	count, err := testutil.GatherAndCount(reg, "goxform_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = testutil.GatherAndCount(reg, "goxform_operation_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExecuteCreatesSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	p := mustNew(t,
		[]operations.Operation{{Type: operations.Enrich, Config: map[string]interface{}{"add_fields": map[string]interface{}{"a": 1}}}},
		nil, nil,
		WithTracerProvider(tp),
	)
	result := p.Execute(context.Background(), map[string]interface{}{"id": 1})
	require.True(t, result.Success)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "goxform.operation", spans[0].Name())
	assert.Equal(t, "goxform.Execute", spans[1].Name())
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestConcurrentExecute(t *testing.T) {
	p := mustNew(t, []operations.Operation{
		{Type: operations.Map, Config: map[string]interface{}{"type": "uppercase", "apply_to": []interface{}{"name"}}},
		{Type: operations.Redact, Order: 1, Config: map[string]interface{}{"patterns": []interface{}{"ssn"}}},
		{Type: operations.Map, Order: 2, Config: map[string]interface{}{"type": "title", "apply_to": []interface{}{"city"}}},
	}, nil, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user%d", i)
			result := p.Execute(context.Background(), map[string]interface{}{"name": name, "note": "ssn 123-45-6789", "city": "san luis obispo county"})
			if !result.Success {
				errs <- fmt.Errorf("execution %d failed: %v", i, result.Errors)
				return
			}
			want := map[string]interface{}{"name": fmt.Sprintf("USER%d", i), "note": "ssn ***-**-6789", "city": "San Luis Obispo County"}
			if diff := cmp.Diff(want, result.Data); diff != "" {
				errs <- errors.New(diff)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestFromDefinition(t *testing.T) {
	def, err := config.Parse([]byte(`
name: people
error_strategy: skip
batch_size: 2
validation_rules:
  - field: name
    type: required
operations:
  - type: map
    config:
      type: title
      apply_to: [name]
`), config.FormatYAML)
	require.NoError(t, err)

	p, err := FromDefinition(def, WithClock(fixedClock))
	require.NoError(t, err)
	assert.Equal(t, "people", p.Name())
	assert.Equal(t, 2, p.batchSize)
	assert.Equal(t, SkipErrors, p.strategy)

	result := p.Execute(context.Background(), map[string]interface{}{"name": "ada lovelace"})
	require.True(t, result.Success, result.Errors)
	assert.Equal(t, map[string]interface{}{"name": "Ada Lovelace"}, result.Data)

	_, err = FromDefinition(&config.Definition{ErrorStrategy: "sometimes"})
	assert.True(t, core.IsKind(err, core.KindConfig))
}

func TestBuilder(t *testing.T) {
	p, err := NewBuilder().
		Name("builder").
		Rule(validators.ValidationRule{Field: "email", Type: validators.RuleFormat, Config: map[string]interface{}{"format": "email"}}).
		Map(mapping.FieldMapping{SourceField: "email", TargetField: "contact.email", Transform: map[string]interface{}{"type": "lowercase"}}).
		Then(operations.Enrich, map[string]interface{}{"add_fields": map[string]interface{}{"tier": "gold"}}).
		Then(operations.Redact, map[string]interface{}{"fields": []interface{}{"contact.email"}, "replacement": "[x]"}).
		BatchSize(10).
		With(WithClock(fixedClock)).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "builder", p.Name())
	assert.Equal(t, 10, p.batchSize)
	require.Len(t, p.operations, 2)
	assert.Equal(t, operations.Enrich, p.operations[0].Type)
	assert.Equal(t, 1, p.operations[1].Order)

	result := p.Execute(context.Background(), map[string]interface{}{"email": "ADA@EXAMPLE.COM"})
	require.True(t, result.Success, result.Errors)
	assert.Equal(t, map[string]interface{}{
		"contact": map[string]interface{}{"email": "[x]"},
		"tier":    "gold",
	}, result.Data)

	_, err = NewBuilder().Then("unknown", nil).Build()
	assert.Error(t, err)
}
