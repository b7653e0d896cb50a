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

// Package expr evaluates the small expression language used for computed fields.
//
// Supported forms:
//
//	=customer.name           value at the path (nil when missing)
//	"Hello " + name + "!"    concatenation of quoted literals and paths
//	cel:record.qty * 2       CEL expression over the record variable
//
// Any other text evaluates to itself.
package expr

import (
	"fmt"
	"strings"

	"github.com/aaronlmathis/goxform/core"
)

// CELPrefix marks an expression as CEL source.
const CELPrefix = "cel:"

// Expression is a compiled computed-field expression.
type Expression interface {
	Evaluate(record core.Record) (interface{}, error)
}

// Compile parses an expression. Path and CEL syntax errors are reported here so
// evaluation of a compiled expression only fails for CEL runtime errors.
func Compile(source string) (Expression, error) {
	switch {
	case strings.HasPrefix(source, CELPrefix):
		program, err := CompileCEL(strings.TrimSpace(strings.TrimPrefix(source, CELPrefix)))
		if err != nil {
			return nil, err
		}
		return program, nil

	case strings.HasPrefix(source, "="):
		steps, err := core.ParsePath(strings.TrimSpace(source[1:]))
		if err != nil {
			return nil, err
		}
		return pathExpression(steps), nil
	}

	tokens, ok := splitConcat(source)
	if !ok {
		return literal(source), nil
	}

	parts := make([]part, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if unquoted, quoted := unquote(token); quoted {
			parts = append(parts, part{literal: unquoted, isLiteral: true})
			continue
		}
		if token == "" {
			parts = append(parts, part{isLiteral: true})
			continue
		}
		steps, err := core.ParsePath(token)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q in expression %q: %w", token, source, err)
		}
		parts = append(parts, part{steps: steps})
	}
	return concatenation(parts), nil
}

// Evaluate compiles and evaluates source in one step. Compile errors yield the
// source text verbatim.
func Evaluate(record core.Record, source string) (interface{}, error) {
	compiled, err := Compile(source)
	if err != nil {
		return source, nil
	}
	return compiled.Evaluate(record)
}

// Evaluate implements Expression for *Program.
func (p *Program) Evaluate(record core.Record) (interface{}, error) {
	return p.Eval(record)
}

type literal string

func (l literal) Evaluate(core.Record) (interface{}, error) {
	return string(l), nil
}

type pathExpression []core.PathStep

func (p pathExpression) Evaluate(record core.Record) (interface{}, error) {
	value, found := core.GetSteps(record, p)
	if !found {
		return nil, nil
	}
	return core.DeepCopy(value), nil
}

type part struct {
	literal   string
	isLiteral bool
	steps     []core.PathStep
}

type concatenation []part

func (c concatenation) Evaluate(record core.Record) (interface{}, error) {
	var sb strings.Builder
	for _, p := range c {
		if p.isLiteral {
			sb.WriteString(p.literal)
			continue
		}
		if value, found := core.GetSteps(record, p.steps); found {
			sb.WriteString(core.Stringify(value))
		}
	}
	return sb.String(), nil
}

// splitConcat splits source on '+' characters outside quotes. It reports false when
// the source contains no such separator.
func splitConcat(source string) ([]string, bool) {
	var (
		tokens []string
		quote  byte
		start  int
	)
	for i := 0; i < len(source); i++ {
		ch := source[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '+':
			tokens = append(tokens, source[start:i])
			start = i + 1
		}
	}
	if len(tokens) == 0 {
		return nil, false
	}
	return append(tokens, source[start:]), true
}

func unquote(token string) (string, bool) {
	if len(token) >= 2 {
		first, last := token[0], token[len(token)-1]
		if (first == '"' || first == '\'') && first == last {
			return token[1 : len(token)-1], true
		}
	}
	return token, false
}
