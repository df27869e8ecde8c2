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

// Package trace defines the typed event log emitted by workflow runs.
// Every run produces an ordered sequence of events; the sequence plus
// its terminal status is the run's trace.
package trace

import "time"

// EventType identifies the kind of a trace event.
type EventType string

const (
	EventWorkflowStart    EventType = "workflow_start"
	EventWorkflowComplete EventType = "workflow_complete"
	EventWorkflowError    EventType = "workflow_error"

	EventStepStart    EventType = "step_start"
	EventStepComplete EventType = "step_complete"
	EventStepError    EventType = "step_error"
	EventStepSkipped  EventType = "step_skipped"

	EventAgentSessionCreated EventType = "agent_session_created"
	EventAgentPromptSent     EventType = "agent_prompt_sent"
	EventAgentToolCall       EventType = "agent_tool_call"
	EventAgentToolResult     EventType = "agent_tool_result"
	EventAgentText           EventType = "agent_text"
	EventAgentResponse       EventType = "agent_response"

	EventCheckpointWaiting  EventType = "checkpoint_waiting"
	EventCheckpointResolved EventType = "checkpoint_resolved"
)

// Event is a single entry in a run's trace.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	StepID    string         `json:"step_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// IsTerminal reports whether the event ends a workflow.
func (e Event) IsTerminal() bool {
	return e.Type == EventWorkflowComplete || e.Type == EventWorkflowError
}

// Status is the terminal status recorded on a trace.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Trace is the immutable event log of one run.
type Trace struct {
	RunID      string  `json:"run_id"`
	WorkflowID string  `json:"workflow_id"`
	Events     []Event `json:"events"`
	Status     Status  `json:"status"`
	DurationMS int64   `json:"duration_ms"`
}

// WorkflowStart builds a workflow_start event.
func WorkflowStart(workflowID string, input any) Event {
	return Event{
		Type: EventWorkflowStart,
		Data: map[string]any{"workflow_id": workflowID, "input": input},
	}
}

// WorkflowComplete builds a workflow_complete event.
func WorkflowComplete(output any, durationMS int64) Event {
	return Event{
		Type: EventWorkflowComplete,
		Data: map[string]any{"output": output, "duration_ms": durationMS},
	}
}

// WorkflowError builds a workflow_error event.
func WorkflowError(message string) Event {
	return Event{
		Type: EventWorkflowError,
		Data: map[string]any{"error": message},
	}
}

// StepStart builds a step_start event.
func StepStart(stepID string, input any) Event {
	return Event{
		Type:   EventStepStart,
		StepID: stepID,
		Data:   map[string]any{"input": input},
	}
}

// StepComplete builds a step_complete event.
func StepComplete(stepID string, output any, durationMS int64) Event {
	return Event{
		Type:   EventStepComplete,
		StepID: stepID,
		Data:   map[string]any{"output": output, "duration_ms": durationMS},
	}
}

// StepError builds a step_error event.
func StepError(stepID, message string, durationMS int64) Event {
	return Event{
		Type:   EventStepError,
		StepID: stepID,
		Data:   map[string]any{"error": message, "duration_ms": durationMS},
	}
}

// StepSkipped builds a step_skipped event.
func StepSkipped(stepID, reason string) Event {
	return Event{
		Type:   EventStepSkipped,
		StepID: stepID,
		Data:   map[string]any{"reason": reason},
	}
}

// AgentSessionCreated builds an agent_session_created event.
func AgentSessionCreated(stepID, sessionID, title string) Event {
	return Event{
		Type:   EventAgentSessionCreated,
		StepID: stepID,
		Data:   map[string]any{"session_id": sessionID, "title": title},
	}
}

// AgentPromptSent builds an agent_prompt_sent event.
func AgentPromptSent(stepID, prompt string) Event {
	return Event{
		Type:   EventAgentPromptSent,
		StepID: stepID,
		Data:   map[string]any{"prompt": prompt},
	}
}

// AgentToolCall builds an agent_tool_call event.
func AgentToolCall(stepID, tool string, args any) Event {
	return Event{
		Type:   EventAgentToolCall,
		StepID: stepID,
		Data:   map[string]any{"tool": tool, "args": args},
	}
}

// AgentToolResult builds an agent_tool_result event.
func AgentToolResult(stepID, tool string, result any) Event {
	return Event{
		Type:   EventAgentToolResult,
		StepID: stepID,
		Data:   map[string]any{"tool": tool, "result": result},
	}
}

// AgentText builds an agent_text event.
func AgentText(stepID, text string) Event {
	return Event{
		Type:   EventAgentText,
		StepID: stepID,
		Data:   map[string]any{"text": text},
	}
}

// AgentResponse builds an agent_response event.
func AgentResponse(stepID string, response any) Event {
	return Event{
		Type:   EventAgentResponse,
		StepID: stepID,
		Data:   map[string]any{"response": response},
	}
}

// CheckpointWaiting builds a checkpoint_waiting event.
func CheckpointWaiting(stepID, checkpointID, prompt string) Event {
	return Event{
		Type:   EventCheckpointWaiting,
		StepID: stepID,
		Data:   map[string]any{"checkpoint_id": checkpointID, "prompt": prompt},
	}
}

// CheckpointResolved builds a checkpoint_resolved event.
func CheckpointResolved(stepID, checkpointID string, value any) Event {
	return Event{
		Type:   EventCheckpointResolved,
		StepID: stepID,
		Data:   map[string]any{"checkpoint_id": checkpointID, "value": value},
	}
}
