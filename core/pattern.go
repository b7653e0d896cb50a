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
	"regexp"
	"strings"
	"sync"
)

var patternCache sync.Map // map[string]*regexp.Regexp

// CompilePattern compiles a regular expression with JavaScript-style flags
// ("i", "m", "s"; "g", "u" and "y" are accepted and ignored) and caches the result.
// Compiled patterns are shared by every pipeline in the process.
func CompilePattern(pattern, flags string) (*regexp.Regexp, error) {
	key := flags + "/" + pattern
	if cached, ok := patternCache.Load(key); ok {
		return cached.(*regexp.Regexp), nil
	}

	var prefix strings.Builder
	for _, flag := range flags {
		switch flag {
		case 'i', 'm', 's':
			prefix.WriteRune(flag)
		}
	}
	source := pattern
	if prefix.Len() > 0 {
		source = "(?" + prefix.String() + ")" + pattern
	}

	re, err := regexp.Compile(source)
	if err != nil {
		return nil, err
	}
	actual, _ := patternCache.LoadOrStore(key, re)
	return actual.(*regexp.Regexp), nil
}
