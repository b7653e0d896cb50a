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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/aaronlmathis/goxform/core"
)

// HTTPReaderError provides structured error information for HTTP reader operations.
type HTTPReaderError struct {
	Op         string
	StatusCode int
	URL        string
	Err        error
}

func (e *HTTPReaderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("http reader %s [%d] %s: %v", e.Op, e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("http reader %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *HTTPReaderError) Unwrap() error {
	return e.Err
}

// HTTPReaderStats holds statistics about the HTTP reader.
type HTTPReaderStats struct {
	RequestCount int64
	RecordsRead  int64
	BytesRead    int64
	RetryCount   int64
	PagesRead    int
}

// Pagination styles.
const (
	PaginationNone   = "none"
	PaginationPage   = "page"
	PaginationOffset = "offset"
	PaginationCursor = "cursor"
	PaginationLink   = "link_header"
)

// PaginationConfig defines how subsequent pages are requested. Paging stops on an
// empty page, on a page shorter than PageSize, or after MaxPages.
type PaginationConfig struct {
	Type         string
	PageParam    string
	OffsetParam  string
	LimitParam   string
	CursorParam  string
	CursorField  string
	NextURLField string
	PageSize     int
	MaxPages     int
}

// HTTPReaderOptions configures the HTTP reader.
type HTTPReaderOptions struct {
	Method         string
	Headers        map[string]string
	QueryParams    map[string]string
	Body           []byte
	Pagination     PaginationConfig
	Timeout        time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestsPerSec float64
	ResponseFormat string
	DataPath       string
	UserAgent      string
	Client         *http.Client
}

// ReaderOptionHTTP is a functional option for HTTPReaderOptions.
type ReaderOptionHTTP func(*HTTPReaderOptions)

func WithHTTPMethod(method string) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) { o.Method = strings.ToUpper(method) }
}

func WithHTTPHeaders(headers map[string]string) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) {
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

func WithHTTPQueryParams(params map[string]string) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) {
		for k, v := range params {
			o.QueryParams[k] = v
		}
	}
}

// WithHTTPBody sends body with every request, typically with a POST method.
func WithHTTPBody(body []byte) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) { o.Body = append([]byte(nil), body...) }
}

func WithHTTPBearerToken(token string) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) { o.Headers["Authorization"] = "Bearer " + token }
}

func WithHTTPAPIKey(headerName, apiKey string) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) { o.Headers[headerName] = apiKey }
}

func WithHTTPPagination(p PaginationConfig) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) { o.Pagination = p }
}

func WithHTTPTimeout(timeout time.Duration) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) { o.Timeout = timeout }
}

// WithHTTPRetries retries failed requests (network errors, 429 and 5xx) with
// exponential backoff starting at delay.
func WithHTTPRetries(attempts int, delay time.Duration) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) {
		o.RetryAttempts = attempts
		o.RetryDelay = delay
	}
}

// WithHTTPRateLimit caps the request rate. Zero disables limiting.
func WithHTTPRateLimit(requestsPerSecond float64) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) { o.RequestsPerSec = requestsPerSecond }
}

// WithHTTPResponseFormat selects "json" (object or array) or "jsonl".
func WithHTTPResponseFormat(format string) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) { o.ResponseFormat = strings.ToLower(format) }
}

// WithHTTPDataPath selects the records array inside a JSON response, e.g. "data.items".
func WithHTTPDataPath(path string) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) { o.DataPath = path }
}

func WithHTTPClient(client *http.Client) ReaderOptionHTTP {
	return func(o *HTTPReaderOptions) { o.Client = client }
}

// HTTPReader reads records from a JSON API, one page at a time.
type HTTPReader struct {
	mu       sync.Mutex
	baseURL  *url.URL
	client   *http.Client
	opts     HTTPReaderOptions
	dataPath []core.PathStep
	limiter  *rate.Limiter
	stats    HTTPReaderStats

	page    []core.Record
	pos     int
	done    bool
	nextURL string
	cursor  string
	offset  int
}

// NewHTTPReader creates an HTTP reader for rawURL.
func NewHTTPReader(rawURL string, options ...ReaderOptionHTTP) (*HTTPReader, error) {
	opts := HTTPReaderOptions{
		Method:         http.MethodGet,
		Headers:        make(map[string]string),
		QueryParams:    make(map[string]string),
		Timeout:        30 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     500 * time.Millisecond,
		ResponseFormat: "json",
		UserAgent:      "goxform-http-reader/1.0",
		Pagination:     PaginationConfig{Type: PaginationNone},
	}
	for _, option := range options {
		option(&opts)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &HTTPReaderError{Op: "validate", URL: rawURL, Err: fmt.Errorf("invalid url")}
	}
	if opts.ResponseFormat != "json" && opts.ResponseFormat != "jsonl" {
		return nil, &HTTPReaderError{Op: "validate", URL: rawURL, Err: fmt.Errorf("unsupported response format %q", opts.ResponseFormat)}
	}
	if err := validatePagination(&opts.Pagination); err != nil {
		return nil, &HTTPReaderError{Op: "validate", URL: rawURL, Err: err}
	}
	dataPath, err := core.ParsePath(opts.DataPath)
	if err != nil {
		return nil, &HTTPReaderError{Op: "validate", URL: rawURL, Err: err}
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	r := &HTTPReader{
		baseURL:  u,
		client:   client,
		opts:     opts,
		dataPath: dataPath,
	}
	if opts.RequestsPerSec > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1)
	}
	return r, nil
}

func validatePagination(p *PaginationConfig) error {
	if p.Type == "" {
		p.Type = PaginationNone
	}
	switch p.Type {
	case PaginationNone, PaginationLink:
	case PaginationPage:
		if p.PageParam == "" {
			p.PageParam = "page"
		}
	case PaginationOffset:
		if p.OffsetParam == "" {
			p.OffsetParam = "offset"
		}
		if p.PageSize <= 0 {
			return fmt.Errorf("offset pagination requires a page size")
		}
	case PaginationCursor:
		if p.CursorParam == "" {
			p.CursorParam = "cursor"
		}
		if p.CursorField == "" && p.NextURLField == "" {
			return fmt.Errorf("cursor pagination requires a cursor or next url field")
		}
	default:
		return fmt.Errorf("unknown pagination type %q", p.Type)
	}
	if p.LimitParam == "" && p.PageSize > 0 {
		p.LimitParam = "limit"
	}
	return nil
}

// Read implements the DataSource interface.
func (r *HTTPReader) Read(ctx context.Context) (core.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.pos >= len(r.page) {
		if r.done {
			return nil, io.EOF
		}
		if err := r.fetch(ctx); err != nil {
			r.done = true
			return nil, err
		}
	}
	record := r.page[r.pos]
	r.pos++
	r.stats.RecordsRead++
	return record, nil
}

// Close implements the DataSource interface.
func (r *HTTPReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	r.page = nil
	return nil
}

// Stats returns a copy of the reader statistics.
func (r *HTTPReader) Stats() HTTPReaderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// fetch loads the next page and advances pagination state (must hold mutex).
func (r *HTTPReader) fetch(ctx context.Context) error {
	requestURL := r.requestURL()
	body, header, err := r.doWithRetry(ctx, requestURL)
	if err != nil {
		return err
	}
	r.stats.PagesRead++

	records, doc, err := r.parse(body)
	if err != nil {
		return &HTTPReaderError{Op: "parse", URL: requestURL, Err: err}
	}
	r.page, r.pos = records, 0
	r.advance(records, doc, header)
	return nil
}

func (r *HTTPReader) requestURL() string {
	if r.nextURL != "" {
		return r.nextURL
	}
	u := *r.baseURL
	q := u.Query()
	for k, v := range r.opts.QueryParams {
		q.Set(k, v)
	}
	p := r.opts.Pagination
	if p.LimitParam != "" && p.PageSize > 0 {
		q.Set(p.LimitParam, strconv.Itoa(p.PageSize))
	}
	switch p.Type {
	case PaginationPage:
		q.Set(p.PageParam, strconv.Itoa(r.stats.PagesRead+1))
	case PaginationOffset:
		q.Set(p.OffsetParam, strconv.Itoa(r.offset))
	case PaginationCursor:
		if r.cursor != "" {
			q.Set(p.CursorParam, r.cursor)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// advance decides whether another page exists.
func (r *HTTPReader) advance(records []core.Record, doc interface{}, header http.Header) {
	p := r.opts.Pagination
	r.nextURL = ""
	r.offset += len(records)

	if p.Type == PaginationNone || len(records) == 0 ||
		(p.MaxPages > 0 && r.stats.PagesRead >= p.MaxPages) {
		r.done = true
		return
	}

	switch p.Type {
	case PaginationPage, PaginationOffset:
		if p.PageSize > 0 && len(records) < p.PageSize {
			r.done = true
		}
	case PaginationCursor:
		if p.NextURLField != "" {
			if next, ok := core.GetNestedValue(doc, p.NextURLField); ok && next != nil && core.Stringify(next) != "" {
				r.nextURL = r.resolve(core.Stringify(next))
				return
			}
		}
		if p.CursorField != "" {
			if cursor, ok := core.GetNestedValue(doc, p.CursorField); ok && cursor != nil && core.Stringify(cursor) != "" {
				r.cursor = core.Stringify(cursor)
				return
			}
		}
		r.done = true
	case PaginationLink:
		next := nextLink(header.Get("Link"))
		if next == "" {
			r.done = true
			return
		}
		r.nextURL = r.resolve(next)
	}
}

func (r *HTTPReader) resolve(ref string) string {
	u, err := r.baseURL.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return target
			}
		}
	}
	return ""
}

func (r *HTTPReader) doWithRetry(ctx context.Context, requestURL string) ([]byte, http.Header, error) {
	delay := r.opts.RetryDelay
	var lastErr error
	for attempt := 0; attempt <= r.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			r.stats.RetryCount++
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, &HTTPReaderError{Op: "request", URL: requestURL, Err: ctx.Err()}
			}
			delay *= 2
		}

		body, header, retry, err := r.do(ctx, requestURL)
		if err == nil {
			return body, header, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, nil, lastErr
}

func (r *HTTPReader) do(ctx context.Context, requestURL string) (body []byte, header http.Header, retry bool, err error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, nil, false, &HTTPReaderError{Op: "rate_limit", URL: requestURL, Err: err}
		}
	}

	var reqBody io.Reader
	if r.opts.Body != nil {
		reqBody = bytes.NewReader(r.opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.opts.Method, requestURL, reqBody)
	if err != nil {
		return nil, nil, false, &HTTPReaderError{Op: "request", URL: requestURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.opts.UserAgent)
	for k, v := range r.opts.Headers {
		req.Header.Set(k, v)
	}

	r.stats.RequestCount++
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, ctx.Err() == nil, &HTTPReaderError{Op: "request", URL: requestURL, Err: err}
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, true, &HTTPReaderError{Op: "read_body", URL: requestURL, Err: err}
	}
	r.stats.BytesRead += int64(len(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, nil, retry, &HTTPReaderError{
			Op:         "status",
			StatusCode: resp.StatusCode,
			URL:        requestURL,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	return body, resp.Header, false, nil
}

// parse decodes a response body into records. doc is the decoded document for
// pagination lookups; it is nil for jsonl.
func (r *HTTPReader) parse(body []byte) ([]core.Record, interface{}, error) {
	if r.opts.ResponseFormat == "jsonl" {
		var records []core.Record
		scanner := bufio.NewScanner(bytes.NewReader(body))
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for line := 1; scanner.Scan(); line++ {
			text := bytes.TrimSpace(scanner.Bytes())
			if len(text) == 0 {
				continue
			}
			var record map[string]interface{}
			if err := gojson.Unmarshal(text, &record); err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", line, err)
			}
			records = append(records, record)
		}
		return records, nil, scanner.Err()
	}

	var doc interface{}
	if err := gojson.Unmarshal(body, &doc); err != nil {
		return nil, nil, err
	}
	data := doc
	if len(r.dataPath) > 0 {
		value, ok := core.GetSteps(doc, r.dataPath)
		if !ok {
			return nil, doc, fmt.Errorf("data path %q not found", r.opts.DataPath)
		}
		data = value
	}

	switch v := data.(type) {
	case nil:
		return nil, doc, nil
	case map[string]interface{}:
		return []core.Record{v}, doc, nil
	case []interface{}:
		records := make([]core.Record, 0, len(v))
		for i, item := range v {
			record, ok := core.AsRecord(item)
			if !ok {
				return nil, doc, fmt.Errorf("element %d is %T, want an object", i, item)
			}
			records = append(records, record)
		}
		return records, doc, nil
	default:
		return nil, doc, fmt.Errorf("response data is %T, want an object or array", data)
	}
}
