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
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aaronlmathis/goxform/core"
)

// MongoReaderError provides structured error information for MongoDB reader operations
type MongoReaderError struct {
	Op  string
	Err error
}

func (e *MongoReaderError) Error() string {
	return fmt.Sprintf("mongo reader %s: %v", e.Op, e.Err)
}

func (e *MongoReaderError) Unwrap() error {
	return e.Err
}

// MongoReaderStats holds statistics about the MongoDB reader's performance
type MongoReaderStats struct {
	RecordsRead     int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// MongoReadMode selects how documents are queried.
type MongoReadMode string

const (
	ModeFind      MongoReadMode = "find"
	ModeAggregate MongoReadMode = "aggregate"
)

// MongoReaderOptions configures the MongoDB reader
type MongoReaderOptions struct {
	URI         string
	Database    string
	Collection  string
	Mode        MongoReadMode
	Filter      bson.M
	Projection  bson.M
	Sort        bson.D
	Pipeline    []bson.M
	Limit       int64
	BatchSize   int32
	Timeout     time.Duration
	MaxPoolSize uint64
}

// ReaderOptionMongo configures a MongoReader.
type ReaderOptionMongo func(*MongoReaderOptions)

// WithMongoURI sets the MongoDB connection URI
func WithMongoURI(uri string) ReaderOptionMongo {
	return func(o *MongoReaderOptions) { o.URI = uri }
}

// WithMongoDB sets the database name
func WithMongoDB(database string) ReaderOptionMongo {
	return func(o *MongoReaderOptions) { o.Database = database }
}

// WithMongoCollection sets the collection name
func WithMongoCollection(collection string) ReaderOptionMongo {
	return func(o *MongoReaderOptions) { o.Collection = collection }
}

// WithMongoFilter sets the find filter.
func WithMongoFilter(filter bson.M) ReaderOptionMongo {
	return func(o *MongoReaderOptions) { o.Filter = filter }
}

// WithMongoProjection sets the find projection.
func WithMongoProjection(projection bson.M) ReaderOptionMongo {
	return func(o *MongoReaderOptions) { o.Projection = projection }
}

// WithMongoSort sets the find sort order.
func WithMongoSort(sort bson.D) ReaderOptionMongo {
	return func(o *MongoReaderOptions) { o.Sort = sort }
}

// WithMongoPipeline switches the reader to aggregate mode.
func WithMongoPipeline(pipeline []bson.M) ReaderOptionMongo {
	return func(o *MongoReaderOptions) {
		o.Pipeline = pipeline
		o.Mode = ModeAggregate
	}
}

// WithMongoLimit caps the number of documents read in find mode.
func WithMongoLimit(limit int64) ReaderOptionMongo {
	return func(o *MongoReaderOptions) { o.Limit = limit }
}

// WithMongoBatchSize sets the cursor batch size.
func WithMongoBatchSize(batchSize int32) ReaderOptionMongo {
	return func(o *MongoReaderOptions) { o.BatchSize = batchSize }
}

// WithMongoTimeout bounds connecting and opening the cursor.
func WithMongoTimeout(timeout time.Duration) ReaderOptionMongo {
	return func(o *MongoReaderOptions) { o.Timeout = timeout }
}

// MongoReader implements core.DataSource for MongoDB collections. BSON-specific
// values (object IDs, dates, decimals, nested documents) are converted to plain
// record values.
type MongoReader struct {
	mu         sync.Mutex
	client     *mongo.Client
	collection *mongo.Collection
	cursor     *mongo.Cursor
	opts       *MongoReaderOptions
	stats      MongoReaderStats
	closed     bool
}

// NewMongoReader validates options. Call Connect before Read.
func NewMongoReader(opts ...ReaderOptionMongo) (*MongoReader, error) {
	o := &MongoReaderOptions{
		URI:         "mongodb://localhost:27017",
		Mode:        ModeFind,
		BatchSize:   1000,
		Timeout:     30 * time.Second,
		MaxPoolSize: 100,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.Database == "" {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("database name is required")}
	}
	if o.Collection == "" {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("collection name is required")}
	}
	if o.Mode == ModeAggregate && len(o.Pipeline) == 0 {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("pipeline is required for aggregate mode")}
	}

	return &MongoReader{
		opts:  o,
		stats: MongoReaderStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Connect connects to MongoDB and opens the cursor.
func (mr *MongoReader) Connect(ctx context.Context) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.closed {
		return &MongoReaderError{Op: "connect", Err: fmt.Errorf("reader is closed")}
	}
	if mr.cursor != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, mr.opts.Timeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(mr.opts.URI).SetMaxPoolSize(mr.opts.MaxPoolSize)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return &MongoReaderError{Op: "connect", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return &MongoReaderError{Op: "ping", Err: err}
	}
	mr.client = client
	mr.collection = client.Database(mr.opts.Database).Collection(mr.opts.Collection)

	var cursor *mongo.Cursor
	switch mr.opts.Mode {
	case ModeAggregate:
		cursor, err = mr.collection.Aggregate(ctx, mr.opts.Pipeline, options.Aggregate().SetBatchSize(mr.opts.BatchSize))
	default:
		findOpts := options.Find().SetBatchSize(mr.opts.BatchSize)
		if mr.opts.Limit > 0 {
			findOpts.SetLimit(mr.opts.Limit)
		}
		if mr.opts.Projection != nil {
			findOpts.SetProjection(mr.opts.Projection)
		}
		if mr.opts.Sort != nil {
			findOpts.SetSort(mr.opts.Sort)
		}
		filter := mr.opts.Filter
		if filter == nil {
			filter = bson.M{}
		}
		cursor, err = mr.collection.Find(ctx, filter, findOpts)
	}
	if err != nil {
		return &MongoReaderError{Op: string(mr.opts.Mode), Err: err}
	}
	mr.cursor = cursor
	return nil
}

// Read implements the core.DataSource interface. It connects on first use.
func (mr *MongoReader) Read(ctx context.Context) (core.Record, error) {
	if err := mr.Connect(ctx); err != nil {
		return nil, err
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	start := time.Now()
	defer func() {
		mr.stats.ReadDuration += time.Since(start)
		mr.stats.LastReadTime = time.Now()
	}()

	if mr.cursor == nil {
		return nil, io.EOF
	}
	if !mr.cursor.Next(ctx) {
		if err := mr.cursor.Err(); err != nil {
			return nil, &MongoReaderError{Op: "read", Err: err}
		}
		return nil, io.EOF
	}

	var doc bson.M
	if err := mr.cursor.Decode(&doc); err != nil {
		return nil, &MongoReaderError{Op: "decode", Err: err}
	}

	record := make(core.Record, len(doc))
	for key, value := range doc {
		record[key] = convertBSONValue(value)
		if record[key] == nil {
			mr.stats.NullValueCounts[key]++
		}
	}
	mr.stats.RecordsRead++
	return record, nil
}

// convertBSONValue converts BSON values to the record value algebra.
func convertBSONValue(value interface{}) interface{} {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0).UTC()
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(v.String(), 64); err == nil {
			return f
		}
		return v.String()
	case primitive.Binary:
		return v.Data
	case primitive.Regex:
		return v.Pattern
	case primitive.Undefined, primitive.Null:
		return nil
	case bson.M:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = convertBSONValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(v))
		for _, elem := range v {
			out[elem.Key] = convertBSONValue(elem.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = convertBSONValue(item)
		}
		return out
	default:
		return v
	}
}

// Stats returns a copy of the reader statistics.
func (mr *MongoReader) Stats() MongoReaderStats {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	stats := mr.stats
	stats.NullValueCounts = make(map[string]int64, len(mr.stats.NullValueCounts))
	for k, v := range mr.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// Close implements the core.DataSource interface
func (mr *MongoReader) Close() error {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	mr.closed = true
	ctx := context.Background()
	var errs []string
	if mr.cursor != nil {
		if err := mr.cursor.Close(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("cursor close: %v", err))
		}
		mr.cursor = nil
	}
	if mr.client != nil {
		if err := mr.client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("client disconnect: %v", err))
		}
		mr.client = nil
	}

	if len(errs) > 0 {
		return &MongoReaderError{Op: "close", Err: fmt.Errorf("multiple errors: %s", strings.Join(errs, "; "))}
	}
	return nil
}
