// Package client is the HTTP client for the cascade API. It satisfies
// the save orchestrator's Transport interface and reconstructs
// structured rejections from error replies so callers can branch on
// rejection codes instead of status strings.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/persist"
	"github.com/roach88/cascade/internal/pipeline"
)

// Client talks to one cascade server.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errorBody mirrors the server's ErrorResponse.
type errorBody struct {
	Error     string             `json:"error"`
	Code      string             `json:"code"`
	Rejection *persist.Rejection `json:"rejection,omitempty"`
}

// do executes one request and decodes the reply into out. Error
// replies carrying a rejection surface it as the error value.
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

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		if jsonErr := json.Unmarshal(data, &eb); jsonErr == nil {
			if eb.Rejection != nil {
				return eb.Rejection
			}
			return fmt.Errorf("%s %s: %s (%s)", method, path, eb.Error, eb.Code)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// Create creates a new document.
func (c *Client) Create(ctx context.Context, req *persist.SaveRequest) (*pipeline.Document, error) {
	var doc pipeline.Document
	if err := c.do(ctx, http.MethodPost, "/v1/documents", req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Save implements save.Transport.
func (c *Client) Save(ctx context.Context, req *persist.SaveRequest) (*pipeline.Document, error) {
	var doc pipeline.Document
	path := "/v1/documents/" + url.PathEscape(req.DocumentID) + "/save"
	if err := c.do(ctx, http.MethodPost, path, req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Fetch implements save.Transport.
func (c *Client) Fetch(ctx context.Context, documentID string) (*pipeline.Document, error) {
	var doc pipeline.Document
	if err := c.do(ctx, http.MethodGet, "/v1/documents/"+url.PathEscape(documentID), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Run triggers an execution run.
func (c *Client) Run(ctx context.Context, documentID, subjectID string, mode engine.Mode, nodeID string) (*engine.RunResult, error) {
	var result engine.RunResult
	path := "/v1/documents/" + url.PathEscape(documentID) + "/run"
	body := map[string]string{"subject_id": subjectID, "mode": string(mode)}
	if nodeID != "" {
		body["node_id"] = nodeID
	}
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Audit reads a document's save history.
func (c *Client) Audit(ctx context.Context, documentID string) ([]pipeline.AuditEntry, error) {
	var resp struct {
		Entries []pipeline.AuditEntry `json:"entries"`
	}
	path := "/v1/documents/" + url.PathEscape(documentID) + "/audit"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
