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
	"github.com/aaronlmathis/goxform/config"
)

// FromDefinition compiles a pipeline from a loaded definition. The definition's
// name, batch size and error strategy are applied before opts, so opts win.
func FromDefinition(def *config.Definition, opts ...Option) (*Pipeline, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	strategy, err := def.Strategy()
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithName(def.Name),
		WithBatchSize(def.BatchSize),
		WithErrorStrategy(strategy),
	}
	return New(def.Operations, def.FieldMappings, def.ValidationRules, append(base, opts...)...)
}
