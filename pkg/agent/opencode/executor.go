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

// Package opencode binds the agent executor to a remote OpenCode
// server. The binding never trusts the service to signal inactivity:
// every prompt runs under an independent stall monitor that watches the
// session tree and aborts sessions that stop making progress.
package opencode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tombee/runbook/pkg/agent"
	rberrors "github.com/tombee/runbook/pkg/errors"
)

const (
	// DefaultStaleTimeout is how long a session may be idle before the
	// monitor declares it stalled.
	DefaultStaleTimeout = 180 * time.Second

	// monitorInterval is how often the stall monitor samples the
	// session tree.
	monitorInterval = 5 * time.Second

	// subscribeInterval is how often the subscription poller fetches
	// session messages.
	subscribeInterval = 3 * time.Second
)

// fileChangeTools marks tool-name substrings whose invocations imply a
// file was changed.
var fileChangeTools = []string{"write", "edit", "create", "patch"}

// Config tunes the binding.
type Config struct {
	// URL is the OpenCode server base URL.
	URL string

	// StaleTimeout overrides DefaultStaleTimeout when positive.
	StaleTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Executor is the remote OpenCode binding. It implements
// agent.Executor, agent.SessionDestroyer, agent.Subscriber and
// agent.HealthChecker.
type Executor struct {
	client       *Client
	staleTimeout time.Duration
	logger       *slog.Logger
}

// New creates the binding.
func New(cfg Config) *Executor {
	timeout := cfg.StaleTimeout
	if timeout <= 0 {
		timeout = DefaultStaleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:       NewClient(cfg.URL),
		staleTimeout: timeout,
		logger:       logger.With("component", "opencode"),
	}
}

// CreateSession implements agent.Executor.
func (e *Executor) CreateSession(ctx context.Context, opts agent.SessionOpts) (*agent.Session, error) {
	info, err := e.client.CreateSession(ctx, createSessionRequest{
		Title:        opts.Title,
		SystemPrompt: opts.SystemPrompt,
		Directory:    opts.WorkingDir,
		Permissions:  opts.Permissions,
	})
	if err != nil {
		return nil, &rberrors.AgentError{Kind: "session_create_failed", Cause: err.Error(), Err: err}
	}
	e.logger.Debug("session created", "session_id", info.ID, "title", opts.Title)
	return &agent.Session{ID: info.ID, Title: info.Title}, nil
}

// Prompt implements agent.Executor. The prompt races against the stall
// monitor: if the session tree makes no progress for the stale timeout,
// the session is aborted (not destroyed, so an operator can attach) and
// a prompt_failed error referencing any pending permission is returned.
func (e *Executor) Prompt(ctx context.Context, sessionID, text string) (*agent.Response, error) {
	promptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	mon := newMonitor(e.client, sessionID, e.staleTimeout, e.logger)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		if stall := mon.run(promptCtx); stall != nil {
			// Abort before failing the prompt so the session stops
			// consuming the service, but leave it inspectable.
			abortCtx, abortCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := e.client.AbortSession(abortCtx, sessionID); err != nil {
				e.logger.Warn("failed to abort stalled session", "session_id", sessionID, "error", err)
			}
			abortCancel()
			cancel(stall)
		}
	}()

	msg, err := e.client.SendPrompt(promptCtx, sessionID, text)
	cancel(nil)
	<-monitorDone

	if err != nil {
		var stall *stallError
		if cause := context.Cause(promptCtx); cause != nil && errors.As(cause, &stall) {
			return nil, &rberrors.AgentError{
				Kind:      "prompt_failed",
				SessionID: sessionID,
				Cause:     stall.Error(),
				Err:       stall,
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &rberrors.AgentError{Kind: "prompt_failed", SessionID: sessionID, Cause: err.Error(), Err: err}
	}

	return responseFromMessage(msg), nil
}

// DestroySession implements agent.SessionDestroyer.
func (e *Executor) DestroySession(ctx context.Context, sessionID string) error {
	return e.client.DeleteSession(ctx, sessionID)
}

// HealthCheck implements agent.HealthChecker.
func (e *Executor) HealthCheck(ctx context.Context) error {
	return e.client.Health(ctx)
}

// responseFromMessage extracts the response record from a completed
// reply message: concatenated text parts, tool calls with their args
// and results, and the set of files changed by mutating tools.
func responseFromMessage(msg *Message) *agent.Response {
	var text strings.Builder
	var calls []agent.ToolCall
	changed := make(map[string]struct{})

	for _, part := range msg.Parts {
		switch part.Type {
		case "text":
			text.WriteString(part.Text)
		case "tool":
			call := agent.ToolCall{Name: part.Tool}
			if part.State != nil {
				call.Args = part.State.Input
				call.Result = part.State.Output
			}
			calls = append(calls, call)
			for _, f := range changedFiles(part) {
				changed[f] = struct{}{}
			}
		}
	}

	var files []string
	for f := range changed {
		files = append(files, f)
	}

	return &agent.Response{
		Text:         text.String(),
		ToolCalls:    calls,
		FilesChanged: files,
		Metadata:     map[string]any{"message_id": msg.Info.ID},
	}
}

// changedFiles reports the file paths touched by a tool part whose
// name implies mutation.
func changedFiles(part Part) []string {
	name := strings.ToLower(part.Tool)
	mutating := false
	for _, marker := range fileChangeTools {
		if strings.Contains(name, marker) {
			mutating = true
			break
		}
	}
	if !mutating || part.State == nil {
		return nil
	}

	var files []string
	for _, key := range []string{"filePath", "file_path", "path"} {
		if v, ok := part.State.Input[key].(string); ok && v != "" {
			files = append(files, v)
		}
	}
	return files
}

// stallError is the cause attached to the prompt context when the
// monitor declares the session stalled.
type stallError struct {
	sessionID    string
	idle         time.Duration
	summary      activitySummary
	permissionID string
}

// Error implements the error interface. The message references the
// pending permission so an operator can attach to the session.
func (e *stallError) Error() string {
	msg := fmt.Sprintf("session %s made no progress for %s (%s)", e.sessionID, e.idle.Round(time.Second), e.summary)
	if e.permissionID != "" {
		msg += fmt.Sprintf("; pending permission %s on session %s requires an operator", e.permissionID, e.sessionID)
	}
	return msg
}
