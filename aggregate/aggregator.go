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

// Package aggregate groups records and reduces each group with aggregators.
package aggregate

import (
	"fmt"
	"strings"

	"github.com/aaronlmathis/goxform/core"
)

// Func names an aggregate function.
type Func string

const (
	Count   Func = "count"
	Sum     Func = "sum"
	Avg     Func = "avg"
	Min     Func = "min"
	Max     Func = "max"
	First   Func = "first"
	Last    Func = "last"
	Collect Func = "collect"
)

// Aggregator reduces the values of one field across a group.
type Aggregator interface {
	// Add folds the value of the field for one record. found is false when the
	// record does not have the field.
	Add(value interface{}, found bool)
	// Result returns the aggregated value.
	Result() interface{}
	// Reset clears the aggregator state for reuse.
	Reset()
}

// New returns a fresh aggregator for fn.
func New(fn Func) (Aggregator, error) {
	switch Func(strings.ToLower(string(fn))) {
	case Count:
		return &countAggregator{}, nil
	case Sum:
		return &sumAggregator{}, nil
	case Avg:
		return &avgAggregator{}, nil
	case Min:
		return &extremeAggregator{want: -1}, nil
	case Max:
		return &extremeAggregator{want: 1}, nil
	case First:
		return &firstAggregator{}, nil
	case Last:
		return &lastAggregator{}, nil
	case Collect:
		return &collectAggregator{}, nil
	default:
		return nil, fmt.Errorf("unknown aggregate function %q", fn)
	}
}

// countAggregator counts records that have the field, or every record when no
// field is configured.
type countAggregator struct {
	count int
}

func (c *countAggregator) Add(value interface{}, found bool) {
	if found && value != nil {
		c.count++
	}
}

func (c *countAggregator) Result() interface{} { return c.count }

func (c *countAggregator) Reset() { c.count = 0 }

// sumAggregator sums values that coerce to numbers; others are ignored.
type sumAggregator struct {
	sum float64
}

func (s *sumAggregator) Add(value interface{}, found bool) {
	if n, ok := core.ParseNumber(value); found && ok {
		s.sum += n
	}
}

func (s *sumAggregator) Result() interface{} { return s.sum }

func (s *sumAggregator) Reset() { s.sum = 0 }

type avgAggregator struct {
	sum   float64
	count int
}

func (a *avgAggregator) Add(value interface{}, found bool) {
	if n, ok := core.ParseNumber(value); found && ok {
		a.sum += n
		a.count++
	}
}

// Result is nil for a group with no numeric values.
func (a *avgAggregator) Result() interface{} {
	if a.count == 0 {
		return nil
	}
	return a.sum / float64(a.count)
}

func (a *avgAggregator) Reset() {
	a.sum = 0
	a.count = 0
}

// extremeAggregator keeps the smallest (want -1) or largest (want 1) comparable value.
type extremeAggregator struct {
	want  int
	value interface{}
	set   bool
}

func (e *extremeAggregator) Add(value interface{}, found bool) {
	if !found || value == nil {
		return
	}
	if !e.set {
		e.value, e.set = value, true
		return
	}
	if c, ok := core.Compare(value, e.value); ok && c == e.want {
		e.value = value
	}
}

func (e *extremeAggregator) Result() interface{} { return core.DeepCopy(e.value) }

func (e *extremeAggregator) Reset() {
	e.value = nil
	e.set = false
}

type firstAggregator struct {
	value interface{}
	set   bool
}

func (f *firstAggregator) Add(value interface{}, found bool) {
	if found && !f.set {
		f.value, f.set = value, true
	}
}

func (f *firstAggregator) Result() interface{} { return core.DeepCopy(f.value) }

func (f *firstAggregator) Reset() {
	f.value = nil
	f.set = false
}

type lastAggregator struct {
	value interface{}
}

func (l *lastAggregator) Add(value interface{}, found bool) {
	if found {
		l.value = value
	}
}

func (l *lastAggregator) Result() interface{} { return core.DeepCopy(l.value) }

func (l *lastAggregator) Reset() { l.value = nil }

// collectAggregator gathers every present value, in record order.
type collectAggregator struct {
	values []interface{}
}

func (c *collectAggregator) Add(value interface{}, found bool) {
	if found {
		c.values = append(c.values, value)
	}
}

func (c *collectAggregator) Result() interface{} {
	out := make([]interface{}, len(c.values))
	for i, v := range c.values {
		out[i] = core.DeepCopy(v)
	}
	return out
}

func (c *collectAggregator) Reset() { c.values = nil }
