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

package transform

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aaronlmathis/goxform/core"
)

// FunctionType names a per-value map function.
type FunctionType string

// Supported map functions.
const (
	Uppercase  FunctionType = "uppercase"
	Lowercase  FunctionType = "lowercase"
	Trim       FunctionType = "trim"
	Title      FunctionType = "title"
	DateFormat FunctionType = "date_format"
	Number     FunctionType = "number"
	Boolean    FunctionType = "boolean"
	Concat     FunctionType = "concat"
	Template   FunctionType = "template"
)

// Spec is the configuration of a map function.
type Spec struct {
	Type      string   `mapstructure:"type" json:"type" yaml:"type"`
	Format    string   `mapstructure:"format" json:"format,omitempty" yaml:"format,omitempty"`
	Timezone  string   `mapstructure:"timezone" json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Precision *int     `mapstructure:"precision" json:"precision,omitempty" yaml:"precision,omitempty"`
	Fields    []string `mapstructure:"fields" json:"fields,omitempty" yaml:"fields,omitempty"`
	Separator *string  `mapstructure:"separator" json:"separator,omitempty" yaml:"separator,omitempty"`
	Template  string   `mapstructure:"template" json:"template,omitempty" yaml:"template,omitempty"`
}

// Function is a compiled map function. value is the value being transformed; scope is
// the record concat and template read additional fields from when value is not itself
// a record.
type Function interface {
	Type() FunctionType
	Apply(value interface{}, scope core.Record) interface{}
}

// UsesRecord reports whether the function builds its result from record fields rather
// than from a single value.
func UsesRecord(fn Function) bool {
	t := fn.Type()
	return t == Concat || t == Template
}

// Decode decodes a map function config payload into a Spec.
func Decode(config map[string]interface{}) (Spec, error) {
	var spec Spec
	if err := core.DecodeConfig(config, &spec); err != nil {
		return spec, err
	}
	return spec, nil
}

// CompileConfig decodes and compiles a map function config payload.
func CompileConfig(config map[string]interface{}) (Function, error) {
	spec, err := Decode(config)
	if err != nil {
		return nil, err
	}
	return Compile(spec)
}

// Compile validates a Spec and returns the matching Function. Unknown types are
// configuration errors.
func Compile(spec Spec) (Function, error) {
	switch FunctionType(strings.ToLower(spec.Type)) {
	case Uppercase:
		return stringFunc{kind: Uppercase, fn: upper}, nil
	case Lowercase:
		return stringFunc{kind: Lowercase, fn: lower}, nil
	case Trim:
		return stringFunc{kind: Trim, fn: trim}, nil
	case Title:
		// A Caser carries state, so each call gets its own.
		return stringFunc{kind: Title, fn: func(s string) string {
			return cases.Title(language.Und).String(s)
		}}, nil
	case DateFormat:
		loc := time.UTC
		if spec.Timezone != "" {
			l, err := time.LoadLocation(spec.Timezone)
			if err != nil {
				return nil, core.WrapError(err, core.KindConfig, "date_format timezone")
			}
			loc = l
		}
		return dateFunc{layout: goLayout(spec.Format), loc: loc}, nil
	case Number:
		return numberFunc{precision: spec.Precision}, nil
	case Boolean:
		return booleanFunc{}, nil
	case Concat:
		sep := " "
		if spec.Separator != nil {
			sep = *spec.Separator
		}
		fn := concatFunc{separator: sep}
		for _, field := range spec.Fields {
			steps, err := core.ParsePath(field)
			if err != nil {
				return nil, core.WrapError(err, core.KindConfig, "concat field")
			}
			fn.fields = append(fn.fields, steps)
		}
		return fn, nil
	case Template:
		return compileTemplate(spec.Template)
	case "":
		return nil, core.NewError(core.KindConfig, "map function type is required")
	default:
		return nil, core.NewError(core.KindConfig, fmt.Sprintf("unknown map function %q", spec.Type))
	}
}

var (
	upper = strings.ToUpper
	lower = strings.ToLower
	trim  = strings.TrimSpace
)

type stringFunc struct {
	kind FunctionType
	fn   func(string) string
}

func (f stringFunc) Type() FunctionType { return f.kind }

// Apply transforms string values; other values pass through unchanged.
func (f stringFunc) Apply(value interface{}, _ core.Record) interface{} {
	if s, ok := value.(string); ok {
		return f.fn(s)
	}
	return value
}

type numberFunc struct {
	precision *int
}

func (numberFunc) Type() FunctionType { return Number }

// Apply converts numeric strings and booleans to float64; unparseable values pass
// through unchanged.
func (f numberFunc) Apply(value interface{}, _ core.Record) interface{} {
	n, ok := core.ParseNumber(value)
	if !ok {
		return value
	}
	if f.precision != nil && *f.precision >= 0 {
		scale := math.Pow(10, float64(*f.precision))
		n = math.Round(n*scale) / scale
	}
	return n
}

type booleanFunc struct{}

func (booleanFunc) Type() FunctionType { return Boolean }

// Apply converts a value to a bool. Strings are true when they read true, 1, yes, y or
// on (case-insensitive); numbers are true when non-zero; nil is false.
func (booleanFunc) Apply(value interface{}, _ core.Record) interface{} {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "y", "on":
			return true
		default:
			return false
		}
	case map[string]interface{}, []interface{}:
		return true
	}
	if n, ok := core.ToFloat64(value); ok {
		return n != 0
	}
	return true
}

type concatFunc struct {
	fields    [][]core.PathStep
	separator string
}

func (concatFunc) Type() FunctionType { return Concat }

// Apply joins the listed fields of the record (value when it is a record, otherwise
// scope). Without fields, a sequence value has its elements joined. nil values are
// skipped.
func (f concatFunc) Apply(value interface{}, scope core.Record) interface{} {
	var parts []string
	if len(f.fields) == 0 {
		items, ok := value.([]interface{})
		if !ok {
			return value
		}
		for _, item := range items {
			if item != nil {
				parts = append(parts, core.Stringify(item))
			}
		}
		return strings.Join(parts, f.separator)
	}

	source := recordOf(value, scope)
	for _, steps := range f.fields {
		if v, found := core.GetSteps(source, steps); found && v != nil {
			parts = append(parts, core.Stringify(v))
		}
	}
	return strings.Join(parts, f.separator)
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

type templateFunc struct {
	source string
	paths  map[string][]core.PathStep
}

func compileTemplate(source string) (Function, error) {
	if source == "" {
		return nil, core.NewError(core.KindConfig, "template requires a template string")
	}
	fn := templateFunc{source: source, paths: make(map[string][]core.PathStep)}
	for _, match := range placeholderPattern.FindAllStringSubmatch(source, -1) {
		steps, err := core.ParsePath(match[1])
		if err != nil {
			return nil, core.WrapError(err, core.KindConfig, fmt.Sprintf("template placeholder %q", match[1]))
		}
		fn.paths[match[1]] = steps
	}
	return fn, nil
}

func (templateFunc) Type() FunctionType { return Template }

// Apply renders {{path}} placeholders from the record (value when it is a record,
// otherwise scope). {{value}} renders the value itself unless the record has a
// "value" field. Missing paths render as the empty string.
func (f templateFunc) Apply(value interface{}, scope core.Record) interface{} {
	source := recordOf(value, scope)
	return placeholderPattern.ReplaceAllStringFunc(f.source, func(token string) string {
		name := placeholderPattern.FindStringSubmatch(token)[1]
		if v, found := core.GetSteps(source, f.paths[name]); found {
			return core.Stringify(v)
		}
		if name == "value" {
			return core.Stringify(value)
		}
		return ""
	})
}

func recordOf(value interface{}, scope core.Record) core.Record {
	if rec, ok := core.AsRecord(value); ok {
		return rec
	}
	return scope
}

type dateFunc struct {
	layout string
	loc    *time.Location
}

func (dateFunc) Type() FunctionType { return DateFormat }

// Apply formats dates given as time.Time, parseable strings or epoch milliseconds.
// Values that cannot be read as a date pass through unchanged.
func (f dateFunc) Apply(value interface{}, _ core.Record) interface{} {
	t, ok := parseTime(value)
	if !ok {
		return value
	}
	return t.In(f.loc).Format(f.layout)
}

var inputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	time.RFC1123Z,
	time.RFC1123,
}

func parseTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range inputLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	if ms, ok := core.ToFloat64(value); ok {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

var layoutTokens = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
	"SSS", "000",
)

// goLayout converts a YYYY-MM-DD style format into a Go time layout. An empty format
// selects the ISO-8601 millisecond layout.
func goLayout(format string) string {
	if format == "" {
		return core.ISOTimestampLayout
	}
	return layoutTokens.Replace(format)
}
