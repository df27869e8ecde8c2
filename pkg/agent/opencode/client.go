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

package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	rberrors "github.com/tombee/runbook/pkg/errors"
)

// Client is a thin HTTP client for the OpenCode server API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL. The client has
// no request timeout of its own; prompts can legitimately run for
// minutes and are bounded by the caller's context.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// do issues a request and decodes the JSON response into out (when out
// is non-nil).
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
		return &rberrors.AgentError{Kind: "unreachable", Cause: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &rberrors.AgentError{
			Kind:  "request_failed",
			Cause: fmt.Sprintf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &rberrors.AgentError{Kind: "bad_response", Cause: err.Error(), Err: err}
	}
	return nil
}

// CreateSession creates a new session.
func (c *Client) CreateSession(ctx context.Context, req createSessionRequest) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.do(ctx, http.MethodPost, "/session", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteSession destroys a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil, nil)
}

// AbortSession aborts whatever the session is doing without destroying it.
func (c *Client) AbortSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/abort", nil, nil)
}

// ListSessions returns all sessions known to the server.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var sessions []SessionInfo
	if err := c.do(ctx, http.MethodGet, "/session", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession returns one session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SendPrompt posts a prompt and blocks until the agent's reply message
// is complete.
func (c *Client) SendPrompt(ctx context.Context, sessionID, text string) (*Message, error) {
	req := promptRequest{Parts: []promptPart{{Type: "text", Text: text}}}
	var msg Message
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/message", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns the session transcript.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/message", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListPermissions returns pending permission requests on a session.
func (c *Client) ListPermissions(ctx context.Context, sessionID string) ([]Permission, error) {
	var perms []Permission
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/permissions", nil, &perms); err != nil {
		return nil, err
	}
	return perms, nil
}

// ListQuestions returns pending questions on a session.
func (c *Client) ListQuestions(ctx context.Context, sessionID string) ([]Question, error) {
	var questions []Question
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/questions", nil, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// RejectQuestion rejects a pending question.
func (c *Client) RejectQuestion(ctx context.Context, sessionID, questionID string) error {
	path := "/session/" + url.PathEscape(sessionID) + "/questions/" + url.PathEscape(questionID) + "/reject"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Health probes the server.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
