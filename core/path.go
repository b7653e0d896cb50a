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

package core

import (
	"fmt"
	"strconv"
	"strings"
)

// PathStep is one step of a parsed field path: either an object key or a sequence index.
type PathStep struct {
	Key     string
	Index   int
	IsIndex bool
}

// String renders the step the way it appears in a path.
func (s PathStep) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// ParsePath splits a dotted path with optional index segments into steps.
// Examples:
//   - "name" -> [name]
//   - "user.name" -> [user name]
//   - "items[2].price" -> [items [2] price]
//   - "matrix[0][1]" -> [matrix [0] [1]]
//
// Bracket contents that are not non-negative integers are treated as keys, which allows
// keys containing dots ("meta[first.name]").
func ParsePath(path string) ([]PathStep, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	var (
		steps   []PathStep
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			steps = append(steps, PathStep{Key: current.String()})
			current.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		ch := path[i]
		switch ch {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed bracket in %q", ErrInvalidPath, path)
			}
			content := path[i+1 : i+end]
			i += end
			if index, err := strconv.Atoi(content); err == nil && index >= 0 {
				steps = append(steps, PathStep{Index: index, IsIndex: true})
				continue
			}
			content = strings.Trim(content, `"'`)
			if content == "" {
				return nil, fmt.Errorf("%w: empty bracket in %q", ErrInvalidPath, path)
			}
			steps = append(steps, PathStep{Key: content})
		case ']':
			return nil, fmt.Errorf("%w: unexpected ']' in %q", ErrInvalidPath, path)
		default:
			current.WriteByte(ch)
		}
	}
	flush()
	return steps, nil
}

// GetNestedValue returns the value at path inside container and whether it was found.
// A missing segment, an index out of range or a nil container along the way yields
// found=false. An empty path returns the container itself.
func GetNestedValue(container interface{}, path string) (interface{}, bool) {
	steps, err := ParsePath(path)
	if err != nil {
		return nil, false
	}
	return GetSteps(container, steps)
}

// GetSteps resolves pre-parsed steps against container.
func GetSteps(container interface{}, steps []PathStep) (interface{}, bool) {
	current := container
	for _, step := range steps {
		if current == nil {
			return nil, false
		}
		if step.IsIndex {
			seq, ok := current.([]interface{})
			if !ok || step.Index >= len(seq) {
				return nil, false
			}
			current = seq[step.Index]
			continue
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		value, exists := obj[step.Key]
		if !exists {
			return nil, false
		}
		current = value
	}
	return current, true
}

// MaxIndex is the largest sequence index a write may address. Writing past the end
// of a sequence pads it with nil, so targets are bounded.
const MaxIndex = 10000

// ParseTargetPath parses a path that values are written to. It must be non-empty,
// start with a key and use indices no larger than MaxIndex.
func ParseTargetPath(path string) ([]PathStep, error) {
	steps, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	if err := checkTarget(steps); err != nil {
		return nil, fmt.Errorf("%w in %q", err, path)
	}
	return steps, nil
}

func checkTarget(steps []PathStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if steps[0].IsIndex {
		return fmt.Errorf("%w: path must start with a key", ErrInvalidPath)
	}
	for _, step := range steps {
		if step.IsIndex && step.Index > MaxIndex {
			return fmt.Errorf("%w: index %d exceeds %d", ErrInvalidPath, step.Index, MaxIndex)
		}
	}
	return nil
}

// SetNestedValue assigns value at path inside record, creating intermediate objects
// (or sequences, for index segments) as needed. Existing scalars that sit where an
// intermediate container is required are replaced.
func SetNestedValue(record Record, path string, value interface{}) error {
	steps, err := ParsePath(path)
	if err != nil {
		return err
	}
	return SetSteps(record, steps, value)
}

// SetSteps assigns value at pre-parsed steps inside record.
func SetSteps(record Record, steps []PathStep, value interface{}) error {
	if err := checkTarget(steps); err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidPath)
	}
	assign(record, steps, value)
	return nil
}

// assign writes value below node and returns the (possibly new) node.
func assign(node interface{}, steps []PathStep, value interface{}) interface{} {
	if len(steps) == 0 {
		return value
	}
	step := steps[0]
	if step.IsIndex {
		seq, ok := node.([]interface{})
		if !ok {
			seq = make([]interface{}, 0, step.Index+1)
		}
		for len(seq) <= step.Index {
			seq = append(seq, nil)
		}
		seq[step.Index] = assign(seq[step.Index], steps[1:], value)
		return seq
	}
	obj, ok := node.(map[string]interface{})
	if !ok {
		obj = make(map[string]interface{})
	}
	obj[step.Key] = assign(obj[step.Key], steps[1:], value)
	return obj
}

// JoinPath appends a key to a dotted parent path.
func JoinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// IndexPath appends an index segment to a parent path.
func IndexPath(parent string, index int) string {
	return parent + "[" + strconv.Itoa(index) + "]"
}
