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

// Package metrics records pipeline executions as Prometheus metrics.
//
// A Collector registers its metrics on the registerer it is created with, so tests
// and embedding applications can keep them off the global default registry.
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(reg)
//	pipeline, _ := goxform.New(ops, mappings, rules, goxform.WithMetrics(collector))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "goxform"

// Outcome labels for executions.
const (
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
	OutcomeFaulted   = "faulted"
)

// Collector holds the execution metrics of one or more pipelines, labelled by
// pipeline name.
type Collector struct {
	executions       *prometheus.CounterVec
	recordsProcessed *prometheus.CounterVec
	recordsSkipped   *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	operationErrors  *prometheus.CounterVec
}

// NewCollector creates a collector and registers its metrics with reg. A nil reg
// registers with the Prometheus default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of pipeline executions by outcome",
			},
			[]string{"pipeline", "outcome"},
		),
		recordsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_processed_total",
				Help:      "Total number of input records processed",
			},
			[]string{"pipeline"},
		),
		recordsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_skipped_total",
				Help:      "Total number of input records rejected or filtered out",
			},
			[]string{"pipeline"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Pipeline execution latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"pipeline", "outcome"},
		),
		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Total number of failed operations by type",
			},
			[]string{"pipeline", "operation"},
		),
	}
}

// ObserveExecution records one execution.
func (c *Collector) ObserveExecution(pipeline, outcome string, processed, skipped int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.executions.WithLabelValues(pipeline, outcome).Inc()
	c.recordsProcessed.WithLabelValues(pipeline).Add(float64(processed))
	c.recordsSkipped.WithLabelValues(pipeline).Add(float64(skipped))
	c.duration.WithLabelValues(pipeline, outcome).Observe(elapsed.Seconds())
}

// ObserveOperationError records a failed operation.
func (c *Collector) ObserveOperationError(pipeline, operation string) {
	if c == nil {
		return
	}
	c.operationErrors.WithLabelValues(pipeline, operation).Inc()
}
