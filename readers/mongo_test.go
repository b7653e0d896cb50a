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

package readers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNewMongoReaderValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []ReaderOptionMongo
		want string
	}{
		{name: "missing database", opts: []ReaderOptionMongo{WithMongoCollection("users")}, want: "database name is required"},
		{name: "missing collection", opts: []ReaderOptionMongo{WithMongoDB("app")}, want: "collection name is required"},
		{
			name: "empty pipeline",
			opts: []ReaderOptionMongo{WithMongoDB("app"), WithMongoCollection("users"), WithMongoPipeline(nil)},
			want: "pipeline is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewMongoReader(tt.opts...)
			require.Error(t, err)
			assert.Nil(t, reader)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	reader, err := NewMongoReader(WithMongoDB("app"), WithMongoCollection("users"), WithMongoLimit(10))
	require.NoError(t, err)
	assert.Equal(t, ModeFind, reader.opts.Mode)
	assert.Equal(t, int64(10), reader.opts.Limit)
	assert.Equal(t, int32(1000), reader.opts.BatchSize)
	require.NoError(t, reader.Close())
}

func TestConvertBSONValue(t *testing.T) {
	id := primitive.NewObjectID()
	when := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	dec, err := primitive.ParseDecimal128("12.75")
	require.NoError(t, err)

	tests := []struct {
		name  string
		value interface{}
		want  interface{}
	}{
		{name: "object id", value: id, want: id.Hex()},
		{name: "date", value: primitive.NewDateTimeFromTime(when), want: when},
		{name: "decimal", value: dec, want: 12.75},
		{name: "null", value: primitive.Null{}, want: nil},
		{name: "binary", value: primitive.Binary{Data: []byte("x")}, want: []byte("x")},
		{
			name:  "nested document",
			value: bson.D{{Key: "city", Value: "Oslo"}, {Key: "tags", Value: bson.A{"a", id}}},
			want:  map[string]interface{}{"city": "Oslo", "tags": []interface{}{"a", id.Hex()}},
		},
		{name: "map", value: bson.M{"n": int32(3)}, want: map[string]interface{}{"n": int32(3)}},
		{name: "scalar", value: "plain", want: "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, convertBSONValue(tt.value))
		})
	}
}
