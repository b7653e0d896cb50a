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

package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aaronlmathis/goxform/core"
	"github.com/aaronlmathis/goxform/expr"
)

// Operator names a comparison applied by a single condition.
type Operator string

// Supported comparison operators.
const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpBetween     Operator = "between"
	OpRegex       Operator = "regex"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
)

var knownOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpContains: true, OpNotContains: true, OpStartsWith: true, OpEndsWith: true,
	OpIn: true, OpNotIn: true, OpBetween: true, OpRegex: true,
	OpExists: true, OpNotExists: true,
}

// Valid reports whether the operator is supported.
func (o Operator) Valid() bool {
	return knownOperators[o]
}

// Condition is a single comparison or a group of nested conditions.
//
// A condition with Conditions set is a group combined by Operator ("and" or "or",
// default "and"). A condition with Expression set is a CEL boolean expression over
// the record. Otherwise Field, Operator and Value describe a comparison.
type Condition struct {
	Field      string        `mapstructure:"field" json:"field,omitempty" yaml:"field,omitempty"`
	Operator   string        `mapstructure:"operator" json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      interface{}   `mapstructure:"value" json:"value,omitempty" yaml:"value,omitempty"`
	Flags      string        `mapstructure:"flags" json:"flags,omitempty" yaml:"flags,omitempty"`
	Expression string        `mapstructure:"expression" json:"expression,omitempty" yaml:"expression,omitempty"`
	Conditions []interface{} `mapstructure:"conditions" json:"conditions,omitempty" yaml:"conditions,omitempty"`

	isGroup bool
}

// DecodeCondition decodes a condition config map.
func DecodeCondition(config map[string]interface{}) (Condition, error) {
	var cond Condition
	if err := core.DecodeConfig(config, &cond); err != nil {
		return cond, err
	}
	_, cond.isGroup = config["conditions"]
	return cond, nil
}

// Predicate is a compiled condition tree.
type Predicate struct {
	root node
}

type node interface {
	eval(record core.Record) bool
}

// Compile validates a condition config and compiles it into a Predicate.
// Unknown operators, invalid paths, bad regular expressions and CEL compile errors
// are reported as configuration errors.
func Compile(config map[string]interface{}) (*Predicate, error) {
	root, err := build(config, true)
	if err != nil {
		return nil, core.WrapError(err, core.KindConfig, "invalid condition")
	}
	return &Predicate{root: root}, nil
}

// CompileCondition compiles a decoded Condition.
func CompileCondition(cond Condition) (*Predicate, error) {
	root, err := buildCondition(cond, true)
	if err != nil {
		return nil, core.WrapError(err, core.KindConfig, "invalid condition")
	}
	return &Predicate{root: root}, nil
}

// Match reports whether the record satisfies the predicate.
func (p *Predicate) Match(record core.Record) bool {
	if p == nil || p.root == nil {
		return true
	}
	return p.root.eval(record)
}

// EvaluateCondition evaluates a condition config against a record without prior
// compilation. It is permissive: an unknown operator evaluates to true and an
// invalid regular expression or path evaluates to false.
func EvaluateCondition(record core.Record, config map[string]interface{}) bool {
	root, err := build(config, false)
	if err != nil {
		return false
	}
	return root.eval(record)
}

// EvaluateSingleCondition evaluates one field comparison with the permissive rules of
// EvaluateCondition.
func EvaluateSingleCondition(record core.Record, cond Condition) bool {
	cond.Conditions = nil
	cond.isGroup = false
	root, err := buildCondition(cond, false)
	if err != nil {
		return false
	}
	return root.eval(record)
}

func build(config map[string]interface{}, strict bool) (node, error) {
	if config == nil {
		return constant(true), nil
	}
	cond, err := DecodeCondition(config)
	if err != nil {
		return nil, err
	}
	return buildCondition(cond, strict)
}

func buildCondition(cond Condition, strict bool) (node, error) {
	if cond.isGroup || len(cond.Conditions) > 0 {
		return buildGroup(cond, strict)
	}

	if cond.Expression != "" {
		program, err := expr.CompileCEL(cond.Expression)
		if err != nil {
			return nil, err
		}
		return celNode{program: program}, nil
	}

	if cond.Field == "" {
		return constant(true), nil
	}

	op := Operator(strings.ToLower(cond.Operator))
	if op == "" {
		op = OpEq
	}
	if !op.Valid() {
		if strict {
			return nil, fmt.Errorf("unknown operator %q for field %q", cond.Operator, cond.Field)
		}
		return constant(true), nil
	}

	steps, err := core.ParsePath(cond.Field)
	if err != nil {
		return nil, err
	}

	leaf := &leafNode{steps: steps, op: op, value: core.Normalize(cond.Value)}
	switch op {
	case OpRegex:
		re, err := core.CompilePattern(core.Stringify(leaf.value), cond.Flags)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", cond.Field, err)
		}
		leaf.re = re
	case OpBetween:
		bounds, ok := leaf.value.([]interface{})
		if !ok || len(bounds) != 2 {
			if strict {
				return nil, fmt.Errorf("field %q: between requires a two-element value", cond.Field)
			}
			return constant(false), nil
		}
	case OpIn, OpNotIn:
		if _, ok := leaf.value.([]interface{}); !ok && strict {
			return nil, fmt.Errorf("field %q: %s requires a list value", cond.Field, op)
		}
	}
	return leaf, nil
}

func buildGroup(cond Condition, strict bool) (node, error) {
	combinator := strings.ToLower(cond.Operator)
	if combinator == "" {
		combinator = "and"
	}
	if combinator != "and" && combinator != "or" {
		if strict {
			return nil, fmt.Errorf("unknown group operator %q", cond.Operator)
		}
		combinator = "and"
	}

	group := groupNode{any: combinator == "or"}
	for i, item := range cond.Conditions {
		config, ok := item.(map[string]interface{})
		if !ok {
			if strict {
				return nil, fmt.Errorf("condition %d: expected object, got %T", i+1, item)
			}
			continue
		}
		child, err := build(config, strict)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i+1, err)
		}
		group.children = append(group.children, child)
	}
	return group, nil
}

type constant bool

func (c constant) eval(core.Record) bool { return bool(c) }

type groupNode struct {
	any      bool
	children []node
}

func (g groupNode) eval(record core.Record) bool {
	if len(g.children) == 0 {
		return true
	}
	for _, child := range g.children {
		matched := child.eval(record)
		if g.any && matched {
			return true
		}
		if !g.any && !matched {
			return false
		}
	}
	return !g.any
}

type celNode struct {
	program *expr.Program
}

func (c celNode) eval(record core.Record) bool {
	matched, err := c.program.EvalBool(record)
	return err == nil && matched
}

type leafNode struct {
	steps []core.PathStep
	op    Operator
	value interface{}
	re    *regexp.Regexp
}

func (l *leafNode) eval(record core.Record) bool {
	actual, found := core.GetSteps(record, l.steps)

	switch l.op {
	case OpExists:
		return found
	case OpNotExists:
		return !found
	case OpEq:
		return found && core.Equal(actual, l.value)
	case OpNe:
		return !found || !core.Equal(actual, l.value)
	case OpGt:
		c, ok := core.Compare(actual, l.value)
		return found && ok && c > 0
	case OpGte:
		c, ok := core.Compare(actual, l.value)
		return found && ok && c >= 0
	case OpLt:
		c, ok := core.Compare(actual, l.value)
		return found && ok && c < 0
	case OpLte:
		c, ok := core.Compare(actual, l.value)
		return found && ok && c <= 0
	case OpContains:
		return found && contains(actual, l.value)
	case OpNotContains:
		return !found || !contains(actual, l.value)
	case OpStartsWith:
		s, ok := actual.(string)
		return found && ok && strings.HasPrefix(s, core.Stringify(l.value))
	case OpEndsWith:
		s, ok := actual.(string)
		return found && ok && strings.HasSuffix(s, core.Stringify(l.value))
	case OpIn:
		return found && member(l.value, actual)
	case OpNotIn:
		return !found || !member(l.value, actual)
	case OpBetween:
		bounds, ok := l.value.([]interface{})
		if !found || !ok || len(bounds) != 2 {
			return false
		}
		lo, okLo := core.Compare(actual, bounds[0])
		hi, okHi := core.Compare(actual, bounds[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	case OpRegex:
		if !found || actual == nil || l.re == nil {
			return false
		}
		return l.re.MatchString(core.Stringify(actual))
	}
	return true
}

// contains checks substring containment for strings and membership for sequences.
func contains(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, core.Stringify(needle))
	case []interface{}:
		return member(h, needle)
	default:
		return false
	}
}

func member(list, value interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if core.Equal(item, value) {
			return true
		}
	}
	return false
}
