// Package langsmith fetches root runs for a project from the
// LangSmith REST API.
package langsmith

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/wesm/tracedash/internal/trace"
)

const (
	DefaultBaseURL  = "https://api.smith.langchain.com"
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 100

	// maxErrorBody bounds how much of an error response is
	// quoted in the returned error.
	maxErrorBody = 512
)

// ErrProjectNotFound is returned when no project (tracer
// session) has the requested name.
var ErrProjectNotFound = errors.New("langsmith project not found")

// Client talks to the LangSmith API. It implements trace.Source.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	pageSize int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPageSize sets the number of runs requested per page.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// New returns a client for baseURL (DefaultBaseURL when empty).
// timeout bounds each HTTP request.
func New(
	baseURL, apiKey string, timeout time.Duration, opts ...Option,
) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProjectID resolves a project name to its session ID.
func (c *Client) ProjectID(
	ctx context.Context, name string,
) (string, error) {
	path := "/api/v1/sessions?name=" + url.QueryEscape(name)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	var id string
	gjson.ParseBytes(body).ForEach(func(_, s gjson.Result) bool {
		if s.Get("name").String() == name {
			id = s.Get("id").String()
			return false
		}
		return true
	})
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrProjectNotFound, name)
	}
	return id, nil
}

type runsQuery struct {
	Session   []string `json:"session"`
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
	IsRoot    bool     `json:"is_root"`
	Limit     int      `json:"limit"`
	Cursor    string   `json:"cursor,omitempty"`
}

// FetchRuns returns every root run of q.Project that started in
// the query window, following pagination cursors until the
// server reports no next page. Runs that cannot be decoded are
// skipped.
func (c *Client) FetchRuns(
	ctx context.Context, q trace.Query,
) ([]trace.Record, error) {
	sessionID, err := c.ProjectID(ctx, q.Project)
	if err != nil {
		return nil, err
	}

	req := runsQuery{
		Session: []string{sessionID},
		IsRoot:  true,
		Limit:   c.pageSize,
	}
	if !q.Start.IsZero() {
		req.StartTime = q.Start.UTC().Format(time.RFC3339Nano)
	}
	if !q.End.IsZero() {
		req.EndTime = q.End.UTC().Format(time.RFC3339Nano)
	}

	var (
		out     []trace.Record
		skipped int
		pages   int
	)
	for {
		payload, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encoding runs query: %w", err)
		}
		body, err := c.do(
			ctx, http.MethodPost, "/api/v1/runs/query", payload,
		)
		if err != nil {
			return nil, err
		}
		pages++

		res := gjson.ParseBytes(body)
		res.Get("runs").ForEach(func(_, run gjson.Result) bool {
			rec, err := trace.ParseRun(run)
			if err != nil {
				skipped++
				return true
			}
			rec.ID = normalizeID(rec.ID)
			out = append(out, rec)
			return true
		})

		next := res.Get("cursors.next").String()
		if next == "" || next == req.Cursor {
			break
		}
		req.Cursor = next
	}

	if skipped > 0 {
		log.Printf("langsmith: %s: skipped %d undecodable runs",
			q.Project, skipped)
	}
	log.Printf("langsmith: %s: fetched %d runs in %d pages",
		q.Project, len(out), pages)
	return out, nil
}

func (c *Client) do(
	ctx context.Context, method, path string, payload []byte,
) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, reqBody,
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("langsmith %s %s: %w",
			method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := body
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("langsmith %s %s returned %s: %s",
			method, req.URL.Path, resp.Status,
			strings.TrimSpace(string(snippet)))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("langsmith %s %s: invalid JSON response",
			method, req.URL.Path)
	}
	return body, nil
}

// normalizeID returns the canonical lowercase form of UUID run
// IDs and leaves other identifiers untouched.
func normalizeID(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	return u.String()
}
