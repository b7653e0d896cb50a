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

// Package location opens record sources and sinks from location strings: local
// paths, "-" for the standard streams, and postgres://, mongodb://, s3:// and
// http(s):// URLs.
package location

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/goxform/core"
	"github.com/aaronlmathis/goxform/readers"
	"github.com/aaronlmathis/goxform/writers"
)

// Format is a file-based record encoding.
type Format string

const (
	FormatJSON    Format = "json"  // a JSON array
	FormatJSONL   Format = "jsonl" // one JSON object per line
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// FormatFromPath picks the format from a file extension. Unknown extensions are
// JSON lines.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	case ".parquet":
		return FormatParquet
	default:
		return FormatJSONL
	}
}

// Uploader stores an object. *manager.Uploader satisfies it.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Options carries the settings that location strings cannot express.
type Options struct {
	// postgres
	Query       string
	Table       string
	CreateTable bool

	// mongodb
	MongoDatabase   string
	MongoCollection string

	// http
	DataPath    string
	BearerToken string

	// s3
	S3Region   string
	S3Endpoint string
	S3Client   readers.S3API
	S3Uploader Uploader

	Stdin  io.Reader
	Stdout io.Writer
}

func isPostgres(loc string) bool {
	return strings.HasPrefix(loc, "postgres://") || strings.HasPrefix(loc, "postgresql://")
}

// OpenSource returns a data source for loc.
func OpenSource(ctx context.Context, loc string, opts Options) (core.DataSource, error) {
	switch {
	case loc == "-":
		stdin := opts.Stdin
		if stdin == nil {
			stdin = os.Stdin
		}
		return readers.NewJSONReader(io.NopCloser(stdin)), nil

	case isPostgres(loc):
		if opts.Query == "" {
			return nil, fmt.Errorf("a query is required for postgres sources")
		}
		r, err := readers.NewPostgresReader(ctx,
			readers.WithPostgresDSN(loc),
			readers.WithPostgresQuery(opts.Query),
		)
		if err != nil {
			return nil, err
		}
		return r, nil

	case strings.HasPrefix(loc, "mongodb://"), strings.HasPrefix(loc, "mongodb+srv://"):
		r, err := readers.NewMongoReader(
			readers.WithMongoURI(loc),
			readers.WithMongoDB(opts.MongoDatabase),
			readers.WithMongoCollection(opts.MongoCollection),
		)
		if err != nil {
			return nil, err
		}
		return r, nil

	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		httpOpts := []readers.ReaderOptionHTTP{readers.WithHTTPDataPath(opts.DataPath)}
		if opts.BearerToken != "" {
			httpOpts = append(httpOpts, readers.WithHTTPBearerToken(opts.BearerToken))
		}
		r, err := readers.NewHTTPReader(loc, httpOpts...)
		if err != nil {
			return nil, err
		}
		return r, nil

	case strings.HasPrefix(loc, "s3://"):
		bucket, key, err := splitS3(loc)
		if err != nil {
			return nil, err
		}
		s3Opts := []readers.ReaderOptionS3{readers.WithS3Bucket(bucket), readers.WithS3Prefix(key)}
		if opts.S3Client != nil {
			s3Opts = append(s3Opts, readers.WithS3Client(opts.S3Client))
		}
		if opts.S3Region != "" {
			s3Opts = append(s3Opts, readers.WithS3Region(opts.S3Region))
		}
		if opts.S3Endpoint != "" {
			s3Opts = append(s3Opts, readers.WithS3Endpoint(opts.S3Endpoint), readers.WithS3PathStyle(true))
		}
		r, err := readers.NewS3Reader(ctx, s3Opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	f, err := os.Open(loc)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	switch FormatFromPath(loc) {
	case FormatParquet:
		r, err := readers.NewParquetReaderFrom(f, readers.WithParquetNestedColumns(true))
		if err != nil {
			f.Close()
			return nil, err
		}
		return r, nil
	case FormatCSV:
		r, err := readers.NewCSVReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return r, nil
	}
	return readers.NewJSONReader(f), nil
}

// OpenSink returns a data sink for loc. s3:// sinks buffer the encoded output and
// upload it as one object on Close.
func OpenSink(ctx context.Context, loc string, opts Options) (core.DataSink, error) {
	switch {
	case loc == "-":
		stdout := opts.Stdout
		if stdout == nil {
			stdout = os.Stdout
		}
		return writers.NewJSONWriter(nopWriteCloser{stdout}), nil

	case isPostgres(loc):
		w, err := writers.NewPostgresWriter(ctx,
			writers.WithPostgresDSN(loc),
			writers.WithTableName(opts.Table),
			writers.WithCreateTable(opts.CreateTable),
		)
		if err != nil {
			return nil, err
		}
		return w, nil

	case strings.HasPrefix(loc, "s3://"):
		bucket, key, err := splitS3(loc)
		if err != nil {
			return nil, err
		}
		if key == "" || strings.HasSuffix(key, "/") {
			return nil, fmt.Errorf("s3 sink %q needs an object key", loc)
		}
		uploader := opts.S3Uploader
		if uploader == nil {
			if uploader, err = newUploader(ctx, opts); err != nil {
				return nil, err
			}
		}
		return newFileSink(newS3WriteCloser(ctx, uploader, bucket, key), FormatFromPath(key))
	}

	f, err := os.Create(loc)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	sink, err := newFileSink(f, FormatFromPath(loc))
	if err != nil {
		f.Close()
		return nil, err
	}
	return sink, nil
}

func newFileSink(w io.WriteCloser, format Format) (core.DataSink, error) {
	switch format {
	case FormatCSV:
		cw, err := writers.NewCSVWriter(w, writers.WithCSVBatchSize(100))
		if err != nil {
			return nil, err
		}
		return cw, nil
	case FormatJSON:
		return writers.NewJSONWriter(w, writers.WithJSONArray(true)), nil
	case FormatParquet:
		pw, err := writers.NewParquetWriter(w)
		if err != nil {
			return nil, err
		}
		return pw, nil
	default:
		return writers.NewJSONWriter(w), nil
	}
}

func splitS3(loc string) (bucket, key string, err error) {
	u, err := url.Parse(loc)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 location %q", loc)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func newUploader(ctx context.Context, opts Options) (*manager.Uploader, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	if opts.S3Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(opts.S3Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return manager.NewUploader(client), nil
}

type s3WriteCloser struct {
	ctx      context.Context
	buf      bytes.Buffer
	uploader Uploader
	bucket   string
	key      string
}

func newS3WriteCloser(ctx context.Context, u Uploader, bucket, key string) *s3WriteCloser {
	return &s3WriteCloser{ctx: ctx, uploader: u, bucket: bucket, key: key}
}

func (s *s3WriteCloser) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *s3WriteCloser) Close() error {
	contentType := "application/x-ndjson"
	switch FormatFromPath(s.key) {
	case FormatCSV:
		contentType = "text/csv"
	case FormatJSON:
		contentType = "application/json"
	case FormatParquet:
		contentType = "application/vnd.apache.parquet"
	}
	_, err := s.uploader.Upload(s.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(s.buf.Bytes()),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
