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

// Package errors defines the transport-level error types shared across
// the runbook providers. Every type carries a machine-readable kind plus
// a human-readable cause so callers can branch without string matching.
package errors

import (
	"fmt"
	"time"
)

// AgentError represents a failure talking to the external agent service.
type AgentError struct {
	// Kind is a machine-readable classification, e.g. "session_create_failed",
	// "prompt_failed", "stalled", "unreachable".
	Kind string

	// SessionID identifies the agent session, when one exists.
	SessionID string

	// Cause is the human-readable description of what went wrong.
	Cause string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("agent %s (session %s): %s", e.Kind, e.SessionID, e.Cause)
	}
	return fmt.Sprintf("agent %s: %s", e.Kind, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AgentError) Unwrap() error {
	return e.Err
}

// ShellError represents a failure to spawn or run a subprocess.
type ShellError struct {
	// Command is the command line that was attempted.
	Command string

	// Cause describes why the command could not run.
	Cause string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ShellError) Error() string {
	return fmt.Sprintf("shell command %q failed: %s", e.Command, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ShellError) Unwrap() error {
	return e.Err
}

// CheckpointError represents a failure in the checkpoint suspension
// machinery, as opposed to an explicit rejection by a resolver.
type CheckpointError struct {
	// Kind is a machine-readable classification, e.g. "not_found",
	// "already_resolved", "invalid_value".
	Kind string

	// CheckpointID identifies the pending checkpoint, when known.
	CheckpointID string

	// Cause is the human-readable description.
	Cause string
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	if e.CheckpointID != "" {
		return fmt.Sprintf("checkpoint %s (%s): %s", e.Kind, e.CheckpointID, e.Cause)
	}
	return fmt.Sprintf("checkpoint %s: %s", e.Kind, e.Cause)
}

// ClientError represents a failure reported by the control-plane HTTP API.
type ClientError struct {
	// Kind is a machine-readable classification, e.g. "not_found",
	// "conflict", "validation", "unreachable".
	Kind string

	// StatusCode is the HTTP status code, when the server responded.
	StatusCode int

	// Cause is the human-readable message from the server or transport.
	Cause string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("client %s [HTTP %d]: %s", e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("client %s: %s", e.Kind, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ClientError) Unwrap() error {
	return e.Err
}

// GitStoreError represents a failure in the git-backed artifact store.
type GitStoreError struct {
	// Op is the git operation that failed, e.g. "hash-object", "mktree",
	// "update-ref", "push".
	Op string

	// Cause is the human-readable description, usually the trimmed stderr
	// of the git subprocess.
	Cause string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *GitStoreError) Error() string {
	return fmt.Sprintf("git %s: %s", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *GitStoreError) Unwrap() error {
	return e.Err
}

// TimeoutError represents an operation that exceeded its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g. "agent prompt", "shell command").
	Operation string

	// Duration is how long the operation ran before timing out.
	Duration time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}
