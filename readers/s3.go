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
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/goxform/core"
)

// S3ReaderError provides structured error information for S3 reader operations
type S3ReaderError struct {
	Op  string // Operation that failed (e.g., "list_objects", "get_object", "read")
	Err error  // Underlying error
}

func (e *S3ReaderError) Error() string {
	return fmt.Sprintf("s3 reader %s: %v", e.Op, e.Err)
}

func (e *S3ReaderError) Unwrap() error {
	return e.Err
}

// S3API is the subset of the S3 client the reader uses.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ReaderStats holds statistics about the S3 reader's performance
type S3ReaderStats struct {
	ObjectsListed int64
	ObjectsRead   int64
	RecordsRead   int64
	ObjectErrors  int64
	ReadDuration  time.Duration
	CurrentObject string
}

// S3ReaderOptions configures the S3 reader behavior
type S3ReaderOptions struct {
	Bucket         string
	Prefix         string
	Suffix         string
	FilePattern    string // regular expression matched against object keys
	Recursive      bool
	Region         string
	Profile        string
	Credentials    aws.Credentials
	EndpointURL    string // custom endpoint for S3-compatible services
	ForcePathStyle bool
	// SourceField, when set, receives {bucket, key} of the object each record
	// came from.
	SourceField string
	// SkipBadObjects moves on to the next object when one cannot be opened.
	SkipBadObjects bool
	Client         S3API
}

// ReaderOptionS3 represents a configuration function for S3Reader
type ReaderOptionS3 func(*S3ReaderOptions)

func WithS3Bucket(bucket string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Bucket = bucket }
}

func WithS3Prefix(prefix string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Prefix = prefix }
}

func WithS3Suffix(suffix string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Suffix = suffix }
}

func WithS3FilePattern(pattern string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.FilePattern = pattern }
}

func WithS3Recursive(recursive bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Recursive = recursive }
}

func WithS3Region(region string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Region = region }
}

func WithS3Profile(profile string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Profile = profile }
}

func WithS3Credentials(creds aws.Credentials) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Credentials = creds }
}

func WithS3Endpoint(endpoint string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.EndpointURL = endpoint }
}

func WithS3PathStyle(pathStyle bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.ForcePathStyle = pathStyle }
}

func WithS3SourceField(field string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.SourceField = field }
}

func WithS3SkipBadObjects(skip bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.SkipBadObjects = skip }
}

// WithS3Client uses an existing client instead of building one from AWS config.
func WithS3Client(client S3API) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) { opts.Client = client }
}

// S3Reader implements core.DataSource over every matching object under a prefix.
// Objects are read in key order; .csv objects are parsed as CSV with headers, .parquet
// objects are buffered in memory and read with nested columns, and all other objects
// are JSON (lines or array).
type S3Reader struct {
	mu            sync.Mutex
	client        S3API
	opts          S3ReaderOptions
	pattern       *regexp.Regexp
	sourcePath    []core.PathStep
	keys          []string
	listed        bool
	currentIndex  int
	currentReader core.DataSource
	stats         S3ReaderStats
}

// NewS3Reader creates a new S3 reader. Objects are listed on the first Read.
func NewS3Reader(ctx context.Context, options ...ReaderOptionS3) (*S3Reader, error) {
	opts := S3ReaderOptions{Recursive: true}
	for _, option := range options {
		option(&opts)
	}

	if opts.Bucket == "" {
		return nil, &S3ReaderError{Op: "validate_options", Err: fmt.Errorf("bucket is required")}
	}

	reader := &S3Reader{client: opts.Client, opts: opts}
	if opts.FilePattern != "" {
		re, err := core.CompilePattern(opts.FilePattern, "")
		if err != nil {
			return nil, &S3ReaderError{Op: "validate_options", Err: err}
		}
		reader.pattern = re
	}
	if opts.SourceField != "" {
		steps, err := core.ParsePath(opts.SourceField)
		if err != nil || len(steps) == 0 || steps[0].IsIndex {
			return nil, &S3ReaderError{Op: "validate_options", Err: fmt.Errorf("invalid source field %q", opts.SourceField)}
		}
		reader.sourcePath = steps
	}

	if reader.client == nil {
		cfg, err := createAWSConfig(ctx, opts)
		if err != nil {
			return nil, &S3ReaderError{Op: "create_aws_config", Err: err}
		}
		reader.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if opts.EndpointURL != "" {
				o.BaseEndpoint = aws.String(opts.EndpointURL)
			}
			o.UsePathStyle = opts.ForcePathStyle
		})
	}
	return reader, nil
}

// createAWSConfig loads the default AWS config with the reader's overrides.
func createAWSConfig(ctx context.Context, opts S3ReaderOptions) (aws.Config, error) {
	var configOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Credentials.AccessKeyID != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		))
	}
	return config.LoadDefaultConfig(ctx, configOpts...)
}

// Read implements the core.DataSource interface
func (s *S3Reader) Read(ctx context.Context) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() { s.stats.ReadDuration += time.Since(start) }()

	if !s.listed {
		if err := s.listObjects(ctx); err != nil {
			return nil, &S3ReaderError{Op: "list_objects", Err: err}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, &S3ReaderError{Op: "read", Err: ctx.Err()}
		default:
		}

		if s.currentReader == nil {
			if s.currentIndex >= len(s.keys) {
				return nil, io.EOF
			}
			if err := s.openObject(ctx, s.keys[s.currentIndex]); err != nil {
				s.stats.ObjectErrors++
				s.currentIndex++
				if s.opts.SkipBadObjects {
					continue
				}
				return nil, &S3ReaderError{Op: "get_object", Err: err}
			}
		}

		record, err := s.currentReader.Read(ctx)
		if err == io.EOF {
			s.closeCurrentReader()
			continue
		}
		if err != nil {
			return nil, &S3ReaderError{Op: "read_record", Err: fmt.Errorf("%s: %w", s.stats.CurrentObject, err)}
		}

		if s.sourcePath != nil {
			source := map[string]interface{}{"bucket": s.opts.Bucket, "key": s.stats.CurrentObject}
			if err := core.SetSteps(record, s.sourcePath, source); err != nil {
				return nil, &S3ReaderError{Op: "read_record", Err: err}
			}
		}
		s.stats.RecordsRead++
		return record, nil
	}
}

// listObjects collects matching keys across all pages, sorted by key.
func (s *S3Reader) listObjects(ctx context.Context) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.opts.Bucket)}
	if s.opts.Prefix != "" {
		input.Prefix = aws.String(s.opts.Prefix)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.shouldIncludeObject(key) {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)

	s.keys = keys
	s.listed = true
	s.stats.ObjectsListed = int64(len(keys))
	return nil
}

// shouldIncludeObject determines if an object should be processed
func (s *S3Reader) shouldIncludeObject(key string) bool {
	if key == "" || strings.HasSuffix(key, "/") {
		return false
	}
	if s.opts.Suffix != "" && !strings.HasSuffix(key, s.opts.Suffix) {
		return false
	}
	if !s.opts.Recursive && strings.Contains(strings.TrimPrefix(key, s.opts.Prefix), "/") {
		return false
	}
	if s.pattern != nil && !s.pattern.MatchString(key) {
		return false
	}
	return true
}

// openObject fetches an object and wraps its body in a format reader.
func (s *S3Reader) openObject(ctx context.Context, key string) error {
	s.stats.CurrentObject = key
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get object %s: %w", key, err)
	}

	var reader core.DataSource
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		reader, err = NewCSVReader(result.Body, WithCSVHasHeaders(true))
	case ".parquet":
		// Parquet needs random access for the footer.
		var data []byte
		data, err = io.ReadAll(result.Body)
		result.Body.Close()
		if err == nil {
			reader, err = NewParquetReaderFrom(bytes.NewReader(data), WithParquetNestedColumns(true))
		}
	default:
		reader = NewJSONReader(result.Body)
	}
	if err != nil {
		result.Body.Close()
		return fmt.Errorf("failed to create reader for %s: %w", key, err)
	}

	s.currentReader = reader
	s.stats.ObjectsRead++
	return nil
}

// closeCurrentReader closes the current object and advances to the next.
func (s *S3Reader) closeCurrentReader() error {
	if s.currentReader == nil {
		return nil
	}
	err := s.currentReader.Close()
	s.currentReader = nil
	s.currentIndex++
	return err
}

// Keys returns the object keys the reader lists, once listed.
func (s *S3Reader) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// Stats returns S3 reader performance statistics
func (s *S3Reader) Stats() S3ReaderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close implements the core.DataSource interface
func (s *S3Reader) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCurrentReader()
}
