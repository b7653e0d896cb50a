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

// Stats summarises one execution.
type Stats struct {
	RecordsProcessed   int   `json:"recordsProcessed"`
	RecordsTransformed int   `json:"recordsTransformed"`
	RecordsSkipped     int   `json:"recordsSkipped"`
	TransformationTime int64 `json:"transformationTime"` // milliseconds
}

// Result is the outcome of Execute. Callers must check Success before using Data;
// Data is nil for rejected and faulted executions.
type Result struct {
	Success     bool        `json:"success"`
	Data        interface{} `json:"data,omitempty"`
	Errors      []string    `json:"errors,omitempty"`
	Warnings    []string    `json:"warnings,omitempty"`
	Stats       *Stats      `json:"stats,omitempty"`
	ExecutionID string      `json:"executionId,omitempty"`
}
