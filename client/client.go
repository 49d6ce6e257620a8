package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Hirameki server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the secret used to obtain a JWT token. Leave empty when
	// the server runs with auth disabled.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Hirameki analysis API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("hirameki: BaseURL is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL: baseURL,
		client:  httpClient,
	}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, cfg.APIKey, httpClient)
	}
	return c, nil
}

// UploadDataset spools a dataset on the server and returns its digest
// and profile. The digest is the dataset_ref to use in later calls.
func (c *Client) UploadDataset(ctx context.Context, name string, data []byte) (*DatasetUpload, error) {
	path := "/v1/datasets"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("hirameki: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp DatasetUpload
	if err := c.doRequest(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Plan previews which agents a submission would execute, without
// starting a run.
func (c *Client) Plan(ctx context.Context, datasetRef, question string) (*Plan, error) {
	body := map[string]any{"dataset_ref": datasetRef, "question": question}
	var resp Plan
	if err := c.post(ctx, "/v1/plan", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitRun starts an analysis run and returns immediately with the
// accepted run in planning state.
func (c *Client) SubmitRun(ctx context.Context, req SubmitRunRequest) (*Run, error) {
	var resp Run
	if err := c.post(ctx, "/v1/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun retrieves a run with its per-agent executions.
func (c *Client) GetRun(ctx context.Context, runID uuid.UUID) (*RunDetail, error) {
	var resp RunDetail
	if err := c.get(ctx, "/v1/runs/"+runID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunList is one page of runs.
type RunList struct {
	Runs    []Run
	HasMore bool
	Limit   int
	Offset  int
}

// ListRuns returns recent runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit, offset int) (*RunList, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	path := "/v1/runs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("hirameki: create request: %w", err)
	}

	var envelope listEnvelope
	if err := c.doRaw(ctx, req, &envelope); err != nil {
		return nil, err
	}

	var runs []Run
	if envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, &runs); err != nil {
			return nil, fmt.Errorf("hirameki: decode runs: %w", err)
		}
	}
	return &RunList{Runs: runs, HasMore: envelope.HasMore, Limit: envelope.Limit, Offset: envelope.Offset}, nil
}

// CancelResult reports the outcome of a cancel request.
type CancelResult struct {
	RunID  uuid.UUID `json:"run_id"`
	Status string    `json:"status"`
}

// CancelRun requests cancellation of an in-flight run. Returns a
// conflict error when the run has already reached a terminal state.
func (c *Client) CancelRun(ctx context.Context, runID uuid.UUID) (*CancelResult, error) {
	var resp CancelResult
	if err := c.post(ctx, "/v1/runs/"+runID.String()+"/cancel", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Report retrieves the aggregated report for a finished run. Returns a
// conflict error while the run is still executing; poll until the run
// is terminal or use WaitForRun.
func (c *Client) Report(ctx context.Context, runID uuid.UUID) (*Report, error) {
	var resp Report
	if err := c.get(ctx, "/v1/runs/"+runID.String()+"/report", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForRun polls until the run reaches a terminal state or ctx is
// done. Poll interval defaults to one second when non-positive.
func (c *Client) WaitForRun(ctx context.Context, runID uuid.UUID, interval time.Duration) (*RunDetail, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		detail, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if detail.Run.Terminal() {
			return detail, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AgentStats returns the accumulated per-agent performance records.
func (c *Client) AgentStats(ctx context.Context) ([]AgentStats, error) {
	var resp []AgentStats
	if err := c.get(ctx, "/v1/agents/stats", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CacheStats returns counters for the result memo cache.
func (c *Client) CacheStats(ctx context.Context) (*CacheStats, error) {
	var resp CacheStats
	if err := c.get(ctx, "/v1/cache/stats", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PurgeCache drops every memoized result.
func (c *Client) PurgeCache(ctx context.Context) error {
	return c.post(ctx, "/v1/cache/purge", struct{}{}, nil)
}

// Search performs a semantic similarity search over past run reports.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	body := map[string]any{"query": query}
	if limit > 0 {
		body["limit"] = limit
	}
	var resp []SearchResult
	if err := c.post(ctx, "/v1/search", body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Health checks the server's health status. This endpoint does not
// require authentication and works even with invalid credentials.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("hirameki: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hirameki: GET /health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hirameki: read response body: %w", err)
	}

	// Health answers 503 with a full body when a dependency is down;
	// surface the body either way.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil || envelope.Data == nil {
		if resp.StatusCode >= 400 {
			return nil, parseErrorResponse(resp.StatusCode, bodyBytes)
		}
		return nil, fmt.Errorf("hirameki: decode health response")
	}

	var health Health
	if err := json.Unmarshal(envelope.Data, &health); err != nil {
		return nil, fmt.Errorf("hirameki: decode health response: %w", err)
	}
	return &health, nil
}

// Subscribe opens the server's SSE progress stream and delivers events
// on the returned channel until ctx is done or the connection drops.
// When runID is non-nil only that run's events are delivered. The
// channel is closed when the stream ends; check the returned error
// function afterwards for the cause.
func (c *Client) Subscribe(ctx context.Context, runID *uuid.UUID) (<-chan ProgressEvent, func() error, error) {
	path := "/v1/subscribe"
	if runID != nil {
		path += "?run_id=" + runID.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("hirameki: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// Streaming request: the configured client timeout would sever the
	// stream, so use a transport-only client here.
	streamClient := &http.Client{Transport: c.client.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("hirameki: GET %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, nil, parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	events := make(chan ProgressEvent)
	var streamErr error

	go func() {
		defer close(events)
		defer func() { _ = resp.Body.Close() }()
		streamErr = readEventStream(ctx, resp.Body, events)
	}()

	errFn := func() error { return streamErr }
	return events, errFn, nil
}

// readEventStream parses SSE frames and forwards run events. Keepalive
// comments and unknown fields are skipped.
func readEventStream(ctx context.Context, body io.Reader, events chan<- ProgressEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				var event ProgressEvent
				if err := json.Unmarshal(data, &event); err == nil {
					select {
					case events <- event:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				data = nil
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("hirameki: event stream: %w", err)
	}
	return ctx.Err()
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// listEnvelope is the server's pagination wrapper.
type listEnvelope struct {
	Data    json.RawMessage `json:"data"`
	HasMore bool            `json:"has_more"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("hirameki: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("hirameki: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("hirameki: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("hirameki: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

// doRaw is doRequest without envelope unwrapping; dest receives the
// whole response body.
func (c *Client) doRaw(ctx context.Context, req *http.Request, dest any) error {
	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("hirameki: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("hirameki: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	return json.Unmarshal(bodyBytes, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("hirameki: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("hirameki: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
