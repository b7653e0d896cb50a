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
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
)

// Normalize converts an arbitrary Go value into the JSON value algebra used by the
// pipeline (nil, bool, float64/int kinds, string, []interface{}, map[string]interface{})
// and returns a deep copy. Typed slices such as []Record or []string become
// []interface{}; maps with string keys become map[string]interface{}.
func Normalize(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = Normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = Normalize(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = Normalize(item)
		}
		return out
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, time.Time:
		return v
	case gojson.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []byte:
		return string(v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return value
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	default:
		return value
	}
}

// DeepCopy returns a deep copy of a value in the JSON value algebra.
func DeepCopy(value interface{}) interface{} {
	return Normalize(value)
}

// Count returns the number of records carried by data: the length of a sequence,
// 0 for nil and 1 for anything else.
func Count(data interface{}) int {
	switch v := data.(type) {
	case nil:
		return 0
	case []interface{}:
		return len(v)
	default:
		return 1
	}
}

// AsRecord returns value as a Record when it is an object.
func AsRecord(value interface{}) (Record, bool) {
	m, ok := value.(map[string]interface{})
	return m, ok
}

// ToFloat64 converts Go numeric kinds to float64. Strings are not parsed.
func ToFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case gojson.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ParseNumber converts numeric kinds, finite numeric strings and booleans to float64.
func ParseNumber(value interface{}) (float64, bool) {
	if f, ok := ToFloat64(value); ok {
		return f, true
	}
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Stringify renders a value as text. Strings are returned as is, nil becomes the empty
// string, whole floats drop their fraction and objects/sequences are JSON encoded.
func Stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case time.Time:
		return v.UTC().Format(ISOTimestampLayout)
	case map[string]interface{}, []interface{}:
		data, err := gojson.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ISOTimestampLayout renders UTC timestamps with millisecond precision and a Z suffix.
const ISOTimestampLayout = "2006-01-02T15:04:05.000Z"

// Equal reports whether two values are equal. Numbers compare by value regardless of
// their Go kind; everything else compares structurally.
func Equal(a, b interface{}) bool {
	af, aNum := ToFloat64(a)
	bf, bNum := ToFloat64(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	switch av := a.(type) {
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, item := range av {
			other, exists := bv[k]
			if !exists || !Equal(item, other) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// IsEmpty reports whether a resolved value counts as absent: not found, nil or "".
func IsEmpty(value interface{}, found bool) bool {
	if !found || value == nil {
		return true
	}
	if s, ok := value.(string); ok && s == "" {
		return true
	}
	return false
}

// Compare orders two values: strings lexically when both are strings, numerically
// when both coerce to numbers. ok is false when the values are not comparable.
func Compare(a, b interface{}) (int, bool) {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs), true
	}
	af, aOK := ParseNumber(a)
	bf, bOK := ParseNumber(b)
	if !aOK || !bOK {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}
