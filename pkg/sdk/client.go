package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultTimeout = 120 * time.Second

// Option configures the Client.
type Option interface {
	apply(*Client)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*Client)

func (f optionFunc) apply(c *Client) { f(c) }

// WithHTTPClient sets a custom HTTP client. The default uses a 120s timeout,
// sized for synchronous answering runs.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *Client) {
		c.http = hc
	})
}

// Client is the finqa SDK entry point.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o.apply(c)
	}
	return c
}

// Health returns server status and corpus sizes.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.get(ctx, "/health", &out)
	return out, err
}

// ListFiles returns every ingested source filename.
func (c *Client) ListFiles(ctx context.Context) ([]string, error) {
	var out struct {
		Files []string `json:"files"`
	}
	if err := c.get(ctx, "/files", &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// DeleteFile removes every record derived from filename.
func (c *Client) DeleteFile(ctx context.Context, filename string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/files/"+url.PathEscape(filename), nil, "")
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Upload ingests the named content synchronously and returns the document
// summary metadata.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (UploadResult, error) {
	var out UploadResult
	err := c.upload(ctx, "/upload", filename, content, &out)
	return out, err
}

// UploadFile is Upload reading from a local path.
func (c *Client) UploadFile(ctx context.Context, path string) (UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, fmt.Errorf("finqa: open upload: %w", err)
	}
	defer f.Close()
	return c.Upload(ctx, filepath.Base(path), f)
}

// UploadAsync starts a background ingestion and returns its job id.
// Follow progress with JobEvents.
func (c *Client) UploadAsync(ctx context.Context, filename string, content io.Reader) (Job, error) {
	var out Job
	err := c.upload(ctx, "/upload_async", filename, content, &out)
	return out, err
}

// Scan ingests every supported file in the server's watch folder. force
// re-ingests files already present.
func (c *Client) Scan(ctx context.Context, force bool) (ScanResult, error) {
	path := "/scan"
	if force {
		path += "?force=true"
	}
	var out ScanResult
	err := c.post(ctx, path, nil, &out)
	return out, err
}

// Question runs the answering loop synchronously and returns the full trace.
func (c *Client) Question(ctx context.Context, question string) (*Trace, error) {
	var out Trace
	if err := c.post(ctx, "/question", map[string]string{"question": question}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QuestionAsync starts a background answering run and returns its job id.
// The terminal job event carries the trace id.
func (c *Client) QuestionAsync(ctx context.Context, question string) (Job, error) {
	var out Job
	err := c.post(ctx, "/question_async", map[string]string{"question": question}, &out)
	return out, err
}

// Explain renders a stored trace as readable text.
func (c *Client) Explain(ctx context.Context, traceID string) (Explanation, error) {
	var out Explanation
	err := c.post(ctx, "/explain", map[string]string{"trace_id": traceID}, &out)
	return out, err
}

// JobEvents returns the ordered event stream of a background job.
func (c *Client) JobEvents(ctx context.Context, jobID string) (JobEvents, error) {
	var out JobEvents
	err := c.get(ctx, "/jobs/"+url.PathEscape(jobID), &out)
	return out, err
}

// ListTraces returns stored trace summaries, newest first.
func (c *Client) ListTraces(ctx context.Context) ([]TraceSummary, error) {
	var out struct {
		Traces []TraceSummary `json:"traces"`
	}
	if err := c.get(ctx, "/traces", &out); err != nil {
		return nil, err
	}
	return out.Traces, nil
}

// GetTrace returns one stored trace by id.
func (c *Client) GetTrace(ctx context.Context, traceID string) (*Trace, error) {
	var out Trace
	if err := c.get(ctx, "/traces/"+url.PathEscape(traceID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("finqa: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, body, "application/json")
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) upload(ctx context.Context, path, filename string, content io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("finqa: build multipart form: %w", err)
	}
	if _, err := io.Copy(fw, content); err != nil {
		return fmt.Errorf("finqa: read upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finqa: finish multipart form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("finqa: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("finqa: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: CodeInternalError, Message: "internal error"}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("finqa: decode response: %w", err)
	}
	return nil
}
