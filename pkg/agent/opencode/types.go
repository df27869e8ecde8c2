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

// Wire types for the OpenCode server API. Only the fields the binding
// reads are modeled; unknown fields are ignored on decode.

// SessionInfo describes one session in the service's session list.
type SessionInfo struct {
	ID       string      `json:"id"`
	ParentID string      `json:"parentID,omitempty"`
	Title    string      `json:"title,omitempty"`
	Busy     bool        `json:"busy,omitempty"`
	Time     SessionTime `json:"time"`
}

// SessionTime carries activity timestamps in unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// Permission is a pending permission request on a session.
type Permission struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Title     string `json:"title,omitempty"`
}

// Question is a pending question the agent asked on a session.
type Question struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Text      string `json:"text,omitempty"`
}

// Message is one message in a session transcript.
type Message struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// MessageInfo carries the message envelope.
type MessageInfo struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Part is one unit of a message: text or a tool invocation.
type Part struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "text" or "tool"
	Text string `json:"text,omitempty"`
	Tool string `json:"tool,omitempty"`
	// State is populated for tool parts.
	State *ToolState `json:"state,omitempty"`
}

// ToolState is the lifecycle state of a tool part.
type ToolState struct {
	Status string         `json:"status"` // "pending", "running", "completed", "error"
	Input  map[string]any `json:"input,omitempty"`
	Output any            `json:"output,omitempty"`
}

// createSessionRequest is the body for POST /session.
type createSessionRequest struct {
	Title        string   `json:"title,omitempty"`
	SystemPrompt string   `json:"system,omitempty"`
	Directory    string   `json:"directory,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
}

// promptRequest is the body for POST /session/{id}/message.
type promptRequest struct {
	Parts []promptPart `json:"parts"`
}

// promptPart is one input part of a prompt.
type promptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
