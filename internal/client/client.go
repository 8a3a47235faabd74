// Package client talks to the jobsync HTTP API on behalf of producers and operators.
package client

import (
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

	"jobsync/internal/ingest"
	"jobsync/internal/models"
	"jobsync/internal/syncer"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Details []string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api: %d %s", e.Status, e.Message)
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, "; ")
	}
	return msg
}

// Client is a thin JSON client authenticated with an API key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a client; timeout <= 0 selects thirty seconds.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// SubmitResult mirrors the single-ingest response.
type SubmitResult struct {
	Posting   models.JobPosting
	Created   bool
	Forwarded *bool
}

// Submit sends one candidate record.
func (c *Client) Submit(ctx context.Context, raw map[string]any) (SubmitResult, error) {
	var resp struct {
		Data      models.JobPosting `json:"data"`
		Created   bool              `json:"created"`
		Forwarded *bool             `json:"forwarded"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/jobs", raw, &resp); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Posting: resp.Data, Created: resp.Created, Forwarded: resp.Forwarded}, nil
}

// SubmitBatch sends up to the server's batch bound in one request.
func (c *Client) SubmitBatch(ctx context.Context, items []map[string]any) (ingest.BatchSummary, error) {
	var resp struct {
		Data ingest.BatchSummary `json:"data"`
	}
	err := c.do(ctx, http.MethodPost, "/api/jobs/batch", map[string]any{"jobs": items}, &resp)
	return resp.Data, err
}

// ListQuery mirrors the list endpoint's query parameters.
type ListQuery struct {
	Source  string
	Company string
	Search  string
	Sort    string
	Limit   int
	Offset  int
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set("source", q.Source)
	set("company", q.Company)
	set("search", q.Search)
	set("sort", q.Sort)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

// Page is one page of listed postings.
type Page struct {
	Postings []models.JobPosting
	Total    int64
	Limit    int
	Offset   int
}

// List fetches one page of postings.
func (c *Client) List(ctx context.Context, q ListQuery) (Page, error) {
	var resp struct {
		Data       []models.JobPosting `json:"data"`
		Pagination struct {
			Total  int64 `json:"total"`
			Limit  int   `json:"limit"`
			Offset int   `json:"offset"`
		} `json:"pagination"`
	}
	path := "/api/jobs"
	if enc := q.values().Encode(); enc != "" {
		path += "?" + enc
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Page{}, err
	}
	return Page{Postings: resp.Data, Total: resp.Pagination.Total, Limit: resp.Pagination.Limit, Offset: resp.Pagination.Offset}, nil
}

// Stats fetches per-source counts.
func (c *Client) Stats(ctx context.Context) (models.Stats, error) {
	var resp struct {
		Data models.Stats `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/api/jobs/stats", nil, &resp)
	return resp.Data, err
}

// Delete removes a posting by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil)
}

// SyncResult is the outcome of a triggered pass. Message is the server's summary line.
type SyncResult struct {
	Message string
	syncer.PassResult
}

// Sync triggers a pass, optionally for one source and from an explicit lower bound.
func (c *Client) Sync(ctx context.Context, source string, since *time.Time) (SyncResult, error) {
	body := map[string]any{}
	if source != "" {
		body["source"] = source
	}
	if since != nil {
		body["forceSince"] = since.UTC().Format(time.RFC3339Nano)
	}
	var resp struct {
		Message string            `json:"message"`
		Data    syncer.PassResult `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/jobs/sync", body, &resp); err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{Message: resp.Message, PassResult: resp.Data}
	res.NoOp = resp.Data.Total == 0
	return res, nil
}

// Status reads the sync cursor and backlog; source selects that source's cursor.
func (c *Client) Status(ctx context.Context, source string) (syncer.Status, error) {
	var resp struct {
		Data syncer.Status `json:"data"`
	}
	path := "/api/jobs/sync-status"
	if source != "" {
		path += "?source=" + url.QueryEscape(source)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Data, err
}

// Health reports whether the API and its store are up.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return resp.Status, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error   string   `json:"error"`
			Message string   `json:"message"`
			Details []string `json:"details"`
		}
		_ = json.Unmarshal(data, &e)
		msg := e.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if e.Message != "" {
			msg += " (" + e.Message + ")"
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Details: e.Details}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
