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

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/tombee/runbook/internal/daemon/httputil"
	"github.com/tombee/runbook/internal/daemon/state"
	"github.com/tombee/runbook/internal/gitstore"
	"github.com/tombee/runbook/pkg/trace"
)

// runView is the wire shape of a run.
type runView struct {
	RunID              string       `json:"run_id"`
	WorkflowID         string       `json:"workflow_id"`
	Status             state.Status `json:"status"`
	Input              any          `json:"input"`
	Output             any          `json:"output,omitempty"`
	Error              string       `json:"error,omitempty"`
	StartedAt          time.Time    `json:"started_at"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	ResumedFrom        string       `json:"resumed_from,omitempty"`
	PendingCheckpoints []string     `json:"pending_checkpoints"`
	Trace              *trace.Trace `json:"trace,omitempty"`
}

// viewOf serializes a run, optionally including its full trace.
func viewOf(run *state.RunState, withTrace bool) runView {
	v := runView{
		RunID:              run.RunID,
		WorkflowID:         run.WorkflowID,
		Status:             run.Status,
		Input:              run.Input,
		Output:             run.Output,
		Error:              run.Error,
		StartedAt:          run.StartedAt,
		CompletedAt:        run.CompletedAt,
		ResumedFrom:        run.ResumedFrom,
		PendingCheckpoints: run.CheckpointIDs(),
	}
	if withTrace {
		v.Trace = run.Trace()
	}
	return v
}

// handleListRuns handles GET /runs.
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	runs := make([]runView, 0)
	for _, run := range s.runner.List() {
		runs = append(runs, viewOf(run, false))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun handles GET /runs/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.Get(r.PathValue("id"))
	if err != nil {
		writeRunnerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, viewOf(run, true))
}

// handleGetTrace handles GET /runs/{id}/trace.
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.Get(r.PathValue("id"))
	if err != nil {
		writeRunnerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"trace": run.Trace()})
}

// handleCancel handles POST /runs/{id}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Cancel(r.PathValue("id")); err != nil {
		writeRunnerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// resolveRequest is the body for POST /runs/{id}/checkpoints/{checkpoint_id}.
type resolveRequest struct {
	Value any `json:"value"`
}

// handleResolveCheckpoint handles POST /runs/{id}/checkpoints/{checkpoint_id}.
func (s *Server) handleResolveCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if err := s.runner.ResolveCheckpoint(r.PathValue("id"), r.PathValue("checkpoint_id"), req.Value); err != nil {
		writeRunnerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// handleHistory handles GET /runs/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.runner.History(r.Context(), r.URL.Query().Get("workflow_id"), limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []gitstore.RunMeta{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"source": "git",
	})
}

// handleEvents handles GET /runs/{id}/events: an SSE stream of the
// run's trace. Recorded events are replayed first, then live events
// until the run reaches a terminal state or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.Get(r.PathValue("id"))
	if err != nil {
		writeRunnerError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before reading the replay snapshot: an event recorded
	// between the two may be delivered twice, but nothing can land in a
	// gap between replay and subscription — in particular a terminal
	// event, which would otherwise leave the stream waiting on a channel
	// that will never receive again.
	eventCh, unsub := s.runner.Subscribe(run.RunID)
	defer unsub()

	run, err = s.runner.Get(run.RunID)
	if err != nil {
		return
	}

	// Replay the recorded events, then follow the live stream.
	replayedTerminal := false
	for _, ev := range run.Events {
		writeSSE(w, ev)
		if ev.IsTerminal() {
			replayedTerminal = true
		}
	}
	flusher.Flush()

	if run.Status.Terminal() || replayedTerminal {
		writeSSEDone(w, s.finalStatus(run.RunID, run.Status))
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()

			if ev.IsTerminal() {
				writeSSEDone(w, s.finalStatus(run.RunID, run.Status))
				flusher.Flush()
				return
			}
		}
	}
}

// finalStatus returns the run's terminal status. The terminal trace
// event is recorded just before the status write, so a reader arriving
// in between waits briefly for the status to settle.
func (s *Server) finalStatus(runID string, fallback state.Status) state.Status {
	deadline := time.Now().Add(time.Second)
	for {
		run, err := s.runner.Get(runID)
		if err == nil && run.Status.Terminal() {
			return run.Status
		}
		if time.Now().After(deadline) {
			if err == nil {
				return run.Status
			}
			return fallback
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// writeSSE writes one event in SSE framing.
func writeSSE(w http.ResponseWriter, ev trace.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// writeSSEDone writes the closing event carrying the terminal status.
func writeSSEDone(w http.ResponseWriter, status state.Status) {
	fmt.Fprintf(w, "event: done\ndata: {\"status\":%q}\n\n", status)
}
