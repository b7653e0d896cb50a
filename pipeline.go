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
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aaronlmathis/goxform/core"
	"github.com/aaronlmathis/goxform/logging"
	"github.com/aaronlmathis/goxform/mapping"
	"github.com/aaronlmathis/goxform/metrics"
	"github.com/aaronlmathis/goxform/operations"
	"github.com/aaronlmathis/goxform/validators"
)

const (
	// DefaultName labels pipelines created without WithName.
	DefaultName = "default"
	// DefaultBatchSize is the number of records Run passes to each Execute call.
	DefaultBatchSize = 100

	tracerName = "github.com/aaronlmathis/goxform"
)

type settings struct {
	name             string
	logger           *zap.Logger
	metrics          *metrics.Collector
	tracerProvider   trace.TracerProvider
	clock            func() time.Time
	customValidators map[string]validators.CustomFunc
	batchSize        int
	strategy         ErrorStrategy
	errorHandler     ErrorHandler
	filters          []Filter
	transformers     []Transformer
}

// Option configures a Pipeline.
type Option func(*settings)

// WithName sets the pipeline name used in logs, metrics and spans.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets the logger. Pipelines log nothing by default.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logging.OrNop(logger) }
}

// WithMetrics records every execution on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *settings) { s.metrics = collector }
}

// WithTracerProvider sets the provider Execute spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) { s.tracerProvider = tp }
}

// WithClock sets the clock enrich operations read timestamps from.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCustomValidator registers a named function for custom validation rules, both
// in the pipeline's own rules and in validate operations.
func WithCustomValidator(name string, fn validators.CustomFunc) Option {
	return func(s *settings) {
		if s.customValidators == nil {
			s.customValidators = make(map[string]validators.CustomFunc)
		}
		s.customValidators[name] = fn
	}
}

// WithBatchSize sets how many records Run groups into one execution.
func WithBatchSize(size int) Option {
	return func(s *settings) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithErrorStrategy sets how Run handles failed batches.
func WithErrorStrategy(strategy ErrorStrategy) Option {
	return func(s *settings) { s.strategy = strategy }
}

// WithErrorHandler sets the handler Run passes failed batches to.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(s *settings) { s.errorHandler = handler }
}

// WithFilter adds a filter Run applies to each record before batching.
func WithFilter(filter Filter) Option {
	return func(s *settings) {
		if filter != nil {
			s.filters = append(s.filters, filter)
		}
	}
}

// WithTransformer adds a transformer Run applies to each source record before its
// filters. A transformer that returns a nil record drops it.
func WithTransformer(transformer Transformer) Option {
	return func(s *settings) {
		if transformer != nil {
			s.transformers = append(s.transformers, transformer)
		}
	}
}

// Pipeline applies validation rules, field mappings and ordered operations to data.
// A Pipeline is immutable after construction and safe for concurrent use.
type Pipeline struct {
	name       string
	validator  *validators.Validator
	mapper     *mapping.Mapper
	operations []operations.Operation
	stages     []operations.Stage

	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer

	batchSize    int
	strategy     ErrorStrategy
	errorHandler ErrorHandler
	filters      []Filter
	transformers []Transformer
}

// New compiles a pipeline. Every operation, map function, validation rule and
// condition is checked here; an invalid configuration returns a *core.Error of kind
// core.KindConfig and no pipeline.
func New(ops []operations.Operation, mappings []mapping.FieldMapping, rules []validators.ValidationRule, opts ...Option) (*Pipeline, error) {
	s := &settings{
		name:      DefaultName,
		logger:    logging.Nop(),
		clock:     time.Now,
		batchSize: DefaultBatchSize,
		strategy:  FailFast,
	}
	for _, opt := range opts {
		opt(s)
	}

	validator, err := validators.NewValidator(rules, validators.WithCustomValidators(s.customValidators))
	if err != nil {
		return nil, err
	}

	mapper, err := mapping.New(mappings)
	if err != nil {
		return nil, err
	}

	sorted := operations.Sort(ops)
	stages, err := operations.CompileAll(sorted,
		operations.WithClock(s.clock),
		operations.WithValidatorOptions(validators.WithCustomValidators(s.customValidators)),
	)
	if err != nil {
		return nil, err
	}

	tp := s.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Pipeline{
		name:         s.name,
		validator:    validator,
		mapper:       mapper,
		operations:   sorted,
		stages:       stages,
		logger:       s.logger.With(zap.String("pipeline", s.name)),
		metrics:      s.metrics,
		tracer:       tp.Tracer(tracerName),
		batchSize:    s.batchSize,
		strategy:     s.strategy,
		errorHandler: s.errorHandler,
		filters:      s.filters,
		transformers: s.transformers,
	}, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Execute runs the pipeline over a record or a sequence of records.
//
// The input is deep-copied and never mutated. Execute always returns a Result:
// validation failures reject the whole input (Success false, every record skipped),
// operation failures and panics fault it (Success false, Data nil). Cancellation of
// ctx is checked before mapping and before every operation.
func (p *Pipeline) Execute(ctx context.Context, data interface{}) *Result {
	start := time.Now()
	executionID := uuid.NewString()

	ctx, span := p.tracer.Start(ctx, "goxform.Execute", trace.WithAttributes(
		attribute.String("goxform.pipeline", p.name),
		attribute.String("goxform.execution_id", executionID),
	))
	defer span.End()

	logger := p.logger.With(zap.String("execution_id", executionID))

	input := core.Normalize(data)
	processed := core.Count(input)
	result := &Result{
		ExecutionID: executionID,
		Stats:       &Stats{RecordsProcessed: processed},
	}
	logger.Debug("execution started", zap.Int("records", processed))

	outcome := metrics.OutcomeCompleted
	defer func() {
		elapsed := time.Since(start)
		result.Stats.TransformationTime = elapsed.Milliseconds()
		p.metrics.ObserveExecution(p.name, outcome, processed, result.Stats.RecordsSkipped, elapsed)
		span.SetAttributes(
			attribute.String("goxform.outcome", outcome),
			attribute.Int("goxform.records_processed", processed),
			attribute.Int("goxform.records_transformed", result.Stats.RecordsTransformed),
		)
	}()

	if errs := p.validator.ValidateData(input); len(errs) > 0 {
		outcome = metrics.OutcomeRejected
		result.Errors = errs
		result.Stats.RecordsSkipped = processed
		span.SetStatus(codes.Error, "validation failed")
		logger.Warn("input rejected", zap.Int("errors", len(errs)), zap.Strings("validation_errors", errs))
		return result
	}

	output, warnings, err := p.transform(ctx, input)
	result.Warnings = warnings
	if err != nil {
		outcome = metrics.OutcomeFaulted
		result.Errors = []string{err.Error()}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("execution failed", zap.Error(err))
		return result
	}

	transformed := core.Count(output)
	result.Success = true
	result.Data = output
	result.Stats.RecordsTransformed = transformed
	if skipped := processed - transformed; skipped > 0 {
		result.Stats.RecordsSkipped = skipped
	}
	span.SetStatus(codes.Ok, "")
	logger.Debug("execution completed",
		zap.Int("records_transformed", transformed),
		zap.Int("records_skipped", result.Stats.RecordsSkipped),
		zap.Int("warnings", len(warnings)),
	)
	return result
}

// transform applies mappings then every stage. A panic inside a stage becomes an error.
func (p *Pipeline) transform(ctx context.Context, data interface{}) (out interface{}, warnings []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic during transformation: %v", r)
		}
	}()

	current := data
	if p.mapper.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, warnings, err
		}
		mapped, err := p.mapper.Apply(current)
		if err != nil {
			return nil, warnings, core.WrapError(err, core.KindOperation, "field mapping")
		}
		warnings = append(warnings, mapped.Warnings...)
		current = mapped.Data
	}

	for i, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, warnings, err
		}
		order := p.operations[i].Order

		before := core.Count(current)
		next, err := p.applyStage(ctx, stage, order, current)
		if err != nil {
			p.metrics.ObserveOperationError(p.name, string(stage.Type()))
			return nil, warnings, core.WrapError(err, core.KindOperation,
				fmt.Sprintf("operation %s (order %d)", stage.Type(), order))
		}

		if before > 0 && core.Count(next) == 0 {
			warnings = append(warnings, fmt.Sprintf("operation %s (order %d) removed all records", stage.Type(), order))
		}
		current = next
	}
	return current, warnings, nil
}

func (p *Pipeline) applyStage(ctx context.Context, stage operations.Stage, order int, data interface{}) (interface{}, error) {
	ctx, span := p.tracer.Start(ctx, "goxform.operation", trace.WithAttributes(
		attribute.String("goxform.operation", string(stage.Type())),
		attribute.Int("goxform.order", order),
	))
	defer span.End()

	out, err := stage.Apply(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

var _ Transformer = (*Pipeline)(nil)

// Transform implements core.Transformer by executing the pipeline on one record. A
// record removed by a filter is returned as nil. Output that is not a single record
// (for example after split) is an error.
func (p *Pipeline) Transform(ctx context.Context, record Record) (Record, error) {
	result := p.Execute(ctx, record)
	if !result.Success {
		return nil, resultError(result)
	}
	if result.Data == nil {
		return nil, nil
	}
	out, ok := result.Data.(map[string]interface{})
	if !ok {
		return nil, core.NewError(core.KindOperation, fmt.Sprintf("pipeline %s produced %T, want a record", p.name, result.Data))
	}
	return out, nil
}

func resultError(result *Result) error {
	if len(result.Errors) == 0 {
		return errors.New("execution failed")
	}
	kind := core.KindOperation
	if result.Stats != nil && result.Stats.RecordsSkipped > 0 && result.Stats.RecordsSkipped == result.Stats.RecordsProcessed {
		kind = core.KindValidation
	}
	return core.NewError(kind, strings.Join(result.Errors, "; "))
}
