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
	"context"
	"time"

	"github.com/tombee/runbook/pkg/agent"
)

// Subscribe implements agent.Subscriber by polling session messages and
// child sessions and translating new parts into agent events. Parts are
// deduplicated by (part id, phase) so a tool part produces one
// tool_call when it appears and one tool_result when it completes.
func (e *Executor) Subscribe(ctx context.Context, sessionID string, fn func(agent.Event)) (func(), error) {
	pollCtx, cancel := context.WithCancel(ctx)

	go func() {
		seen := make(map[string]struct{})
		ticker := time.NewTicker(subscribeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				e.pollOnce(pollCtx, sessionID, seen, fn)
			}
		}
	}()

	return cancel, nil
}

// pollOnce fetches the transcript of the session and its children and
// emits events for parts not seen before.
func (e *Executor) pollOnce(ctx context.Context, sessionID string, seen map[string]struct{}, fn func(agent.Event)) {
	ids := []string{sessionID}
	if sessions, err := e.client.ListSessions(ctx); err == nil {
		for _, s := range sessions {
			if s.ParentID == sessionID {
				ids = append(ids, s.ID)
			}
		}
	}

	for _, id := range ids {
		msgs, err := e.client.ListMessages(ctx, id)
		if err != nil {
			continue
		}
		for _, msg := range msgs {
			if msg.Info.Role != "assistant" {
				continue
			}
			for _, part := range msg.Parts {
				for _, ev := range translatePart(part, seen) {
					fn(ev)
				}
			}
		}
	}
}

// translatePart converts a part into zero or more events, using seen to
// dedupe by (part id, phase).
func translatePart(part Part, seen map[string]struct{}) []agent.Event {
	var events []agent.Event

	emit := func(phase string, ev agent.Event) {
		key := part.ID + "/" + phase
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		events = append(events, ev)
	}

	switch part.Type {
	case "text":
		if part.Text != "" {
			emit("text", agent.Event{Type: agent.EventTextChunk, Text: part.Text})
		}
	case "tool":
		var args map[string]any
		var result any
		completed := false
		if part.State != nil {
			args = part.State.Input
			result = part.State.Output
			completed = part.State.Status == "completed" || part.State.Status == "error"
		}
		emit("call", agent.Event{Type: agent.EventToolCall, Tool: part.Tool, Args: args})
		if completed {
			emit("result", agent.Event{Type: agent.EventToolResult, Tool: part.Tool, Args: args, Result: result})
		}
	}

	return events
}
