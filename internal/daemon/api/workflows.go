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
	"errors"
	"fmt"
	"net/http"

	"github.com/tombee/runbook/internal/daemon/httputil"
	"github.com/tombee/runbook/internal/daemon/runner"
)

// workflowView is the wire shape of one registered workflow.
type workflowView struct {
	ID           string `json:"id"`
	InputSchema  any    `json:"input_schema"`
	OutputSchema any    `json:"output_schema"`
	StepCount    int    `json:"step_count"`
}

// handleListWorkflows handles GET /workflows.
func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	workflows := make([]workflowView, 0)
	for _, wf := range s.registry.List() {
		workflows = append(workflows, workflowView{
			ID:           wf.ID,
			InputSchema:  wf.InputSchema.Doc(),
			OutputSchema: wf.OutputSchema.Doc(),
			StepCount:    wf.StepCount(),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

// submitRequest is the body for POST /workflows/{id}/run.
type submitRequest struct {
	Input any `json:"input"`
}

// handleSubmit handles POST /workflows/{id}/run.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.runner.IsDraining() {
		w.Header().Set("Retry-After", "10")
		httputil.WriteError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	run, err := s.runner.Submit(r.PathValue("id"), req.Input)
	if err != nil {
		writeRunnerError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"run_id": run.RunID})
}

// handleResume handles POST /workflows/{id}/resume/{run_id}.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.runner.IsDraining() {
		w.Header().Set("Retry-After", "10")
		httputil.WriteError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	run, err := s.runner.Resume(r.PathValue("id"), r.PathValue("run_id"))
	if err != nil {
		writeRunnerError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"run_id":       run.RunID,
		"resumed_from": run.ResumedFrom,
	})
}

// writeRunnerError maps runner error types to HTTP status codes.
func writeRunnerError(w http.ResponseWriter, err error) {
	var ve *runner.ValidationError
	switch {
	case runner.IsNotFound(err):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ve):
		httputil.WriteValidationError(w, ve.Issues)
	case runner.IsConflict(err):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	default:
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
