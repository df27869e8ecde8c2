// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client is the HTTP client for the control plane, used by the
// CLI and by integration tests.
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

	rberrors "github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/trace"
)

// Client talks to a runbook server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// Workflow is one entry of the workflow listing.
type Workflow struct {
	ID           string `json:"id"`
	InputSchema  any    `json:"input_schema"`
	OutputSchema any    `json:"output_schema"`
	StepCount    int    `json:"step_count"`
}

// Run mirrors the server's run serialization.
type Run struct {
	RunID              string       `json:"run_id"`
	WorkflowID         string       `json:"workflow_id"`
	Status             string       `json:"status"`
	Input              any          `json:"input"`
	Output             any          `json:"output,omitempty"`
	Error              string       `json:"error,omitempty"`
	StartedAt          time.Time    `json:"started_at"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	ResumedFrom        string       `json:"resumed_from,omitempty"`
	PendingCheckpoints []string     `json:"pending_checkpoints"`
	Trace              *trace.Trace `json:"trace,omitempty"`
}

// HistoryEntry is one stored run from the artifact store.
type HistoryEntry struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	CommitSHA  string    `json:"commit_sha,omitempty"`
}

// do issues a request, maps error statuses to ClientError, and decodes
// the body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &rberrors.ClientError{Kind: "unreachable", Cause: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return clientError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &rberrors.ClientError{Kind: "bad_response", StatusCode: resp.StatusCode, Cause: err.Error(), Err: err}
	}
	return nil
}

// clientError builds a typed error from an error response, preferring
// the server's error message when the body parses.
func clientError(resp *http.Response) error {
	kind := "request_failed"
	switch resp.StatusCode {
	case http.StatusNotFound:
		kind = "not_found"
	case http.StatusConflict:
		kind = "conflict"
	case http.StatusBadRequest:
		kind = "validation"
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	cause := strings.TrimSpace(string(raw))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		cause = payload.Error
	}

	return &rberrors.ClientError{Kind: kind, StatusCode: resp.StatusCode, Cause: cause}
}

// Health probes the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// ListWorkflows returns the registered workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var out struct {
		Workflows []Workflow `json:"workflows"`
	}
	if err := c.do(ctx, http.MethodGet, "/workflows", nil, &out); err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

// Submit starts a run and returns its id.
func (c *Client) Submit(ctx context.Context, workflowID string, input any) (string, error) {
	var out struct {
		RunID string `json:"run_id"`
	}
	path := "/workflows/" + url.PathEscape(workflowID) + "/run"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"input": input}, &out); err != nil {
		return "", err
	}
	return out.RunID, nil
}

// Resume resumes a suspended run, returning the new run id.
func (c *Client) Resume(ctx context.Context, workflowID, runID string) (newRunID, resumedFrom string, err error) {
	var out struct {
		RunID       string `json:"run_id"`
		ResumedFrom string `json:"resumed_from"`
	}
	path := "/workflows/" + url.PathEscape(workflowID) + "/resume/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return "", "", err
	}
	return out.RunID, out.ResumedFrom, nil
}

// ListRuns returns all runs, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]Run, error) {
	var out struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "/runs", nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// GetRun returns one run by id or unambiguous prefix.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetTrace returns a run's trace.
func (c *Client) GetTrace(ctx context.Context, id string) (*trace.Trace, error) {
	var out struct {
		Trace *trace.Trace `json:"trace"`
	}
	if err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id)+"/trace", nil, &out); err != nil {
		return nil, err
	}
	return out.Trace, nil
}

// Cancel cancels a running run.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/runs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// ResolveCheckpoint supplies a value for a pending checkpoint.
func (c *Client) ResolveCheckpoint(ctx context.Context, runID, checkpointID string, value any) error {
	path := "/runs/" + url.PathEscape(runID) + "/checkpoints/" + url.PathEscape(checkpointID)
	return c.do(ctx, http.MethodPost, path, map[string]any{"value": value}, nil)
}

// History lists persisted runs from the artifact store.
func (c *Client) History(ctx context.Context, workflowID string, limit int) ([]HistoryEntry, error) {
	q := url.Values{}
	if workflowID != "" {
		q.Set("workflow_id", workflowID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/runs/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Runs []HistoryEntry `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}
