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

// Package agent abstracts the long-running external conversational
// agent used by agent steps. The Executor interface covers the
// mandatory capabilities; session destruction, event subscription and
// health checking are optional and discovered by interface assertion.
package agent

import "context"

// SessionOpts configures a new agent session.
type SessionOpts struct {
	// Title identifies the session in the agent service UI.
	Title string

	// SystemPrompt is the composed system prompt for the session.
	SystemPrompt string

	// WorkingDir is the directory the agent operates in.
	WorkingDir string

	// Permissions lists permissions granted to the session.
	Permissions []string
}

// Session identifies a live agent session.
type Session struct {
	ID    string
	Title string
}

// ToolCall is one tool invocation recorded from the agent's response.
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result any            `json:"result,omitempty"`
}

// Response is the final record of one prompt exchange.
type Response struct {
	// Text is the concatenation of the response's text parts.
	Text string `json:"text"`

	// ToolCalls lists the tool invocations made while responding.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// FilesChanged lists files touched by write/edit/create/patch tools.
	FilesChanged []string `json:"files_changed,omitempty"`

	// Metadata carries executor-specific response metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EventType identifies a streamed agent event.
type EventType string

const (
	EventTextChunk  EventType = "text_chunk"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
)

// Event is a streamed update from a live session.
type Event struct {
	Type EventType

	// Text is populated for text_chunk events.
	Text string

	// Tool and Args are populated for tool_call events; Result is added
	// on tool_result events.
	Tool   string
	Args   map[string]any
	Result any
}

// Executor is the mandatory agent capability set.
type Executor interface {
	// CreateSession starts a new session.
	CreateSession(ctx context.Context, opts SessionOpts) (*Session, error)

	// Prompt sends text to the session and blocks until the agent
	// responds or ctx is cancelled.
	Prompt(ctx context.Context, sessionID, text string) (*Response, error)
}

// SessionDestroyer is the optional destroy capability.
type SessionDestroyer interface {
	DestroySession(ctx context.Context, sessionID string) error
}

// Subscriber is the optional streaming capability. Subscribe delivers
// events to fn until the returned cancel function is called or ctx is
// cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string, fn func(Event)) (cancel func(), err error)
}

// HealthChecker is the optional health-check capability, probed by the
// server at startup.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
