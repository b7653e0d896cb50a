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

package expr

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/aaronlmathis/goxform/core"
)

// RecordVariable is the name under which the current record is visible to CEL programs.
const RecordVariable = "record"

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

// environment returns the shared CEL environment. Records are exposed as a map of
// string to dynamic values; numeric comparisons across int/double are allowed so
// decoded JSON numbers compare naturally with integer literals.
func environment() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable(RecordVariable, cel.MapType(cel.StringType, cel.DynType)),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return env, envErr
}

// Program is a compiled CEL expression evaluated against a record.
type Program struct {
	source  string
	program cel.Program
}

// CompileCEL compiles a CEL expression over the record variable.
func CompileCEL(source string) (*Program, error) {
	e, err := environment()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := e.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", source, issues.Err())
	}

	program, err := e.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", source, err)
	}
	return &Program{source: source, program: program}, nil
}

// Source returns the expression text.
func (p *Program) Source() string {
	return p.source
}

// Eval runs the program and converts the result into the record value algebra.
func (p *Program) Eval(record core.Record) (interface{}, error) {
	if record == nil {
		record = core.Record{}
	}
	out, _, err := p.program.Eval(map[string]interface{}{RecordVariable: record})
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", p.source, err)
	}
	return toNative(out), nil
}

// EvalBool runs the program and requires a boolean result.
func (p *Program) EvalBool(record core.Record) (bool, error) {
	value, err := p.Eval(record)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", p.source, value)
	}
	return b, nil
}

func toNative(val ref.Val) interface{} {
	if val == nil || val.Type() == types.NullType {
		return nil
	}
	switch v := val.(type) {
	case traits.Mapper:
		out := make(map[string]interface{})
		it := v.Iterator()
		for it.HasNext() == types.True {
			key := it.Next()
			out[fmt.Sprint(key.Value())] = toNative(v.Get(key))
		}
		return out
	case traits.Lister:
		size, _ := v.Size().(types.Int)
		out := make([]interface{}, 0, int(size))
		for i := types.Int(0); i < size; i++ {
			out = append(out, toNative(v.Get(i)))
		}
		return out
	}
	return core.Normalize(val.Value())
}
