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

package engine

import (
	"github.com/tombee/runbook/pkg/trace"
	"github.com/tombee/runbook/pkg/workflow"
)

// Snapshot captures the completed portion of a suspended run so a new
// run can replay it instead of re-executing. Snapshots are built from a
// prior run's trace: completed steps come from step_complete events
// preceding the last checkpoint_waiting, and ResumeAt names the
// checkpoint step that was waiting.
type Snapshot struct {
	// RunID is the run the snapshot was taken from.
	RunID string `json:"run_id"`

	// WorkflowID names the workflow; resume fails if it does not match.
	WorkflowID string `json:"workflow_id"`

	// Input is the original workflow input.
	Input any `json:"input"`

	// CompletedSteps maps step id to the step's recorded output.
	CompletedSteps map[string]any `json:"completed_steps"`

	// ResumeAt is the step id execution resumes from.
	ResumeAt string `json:"resume_at"`
}

// FromTrace builds a snapshot from a prior run's trace, using the last
// checkpoint_waiting event as the resume point. Returns nil when the
// trace contains no checkpoint_waiting event.
func FromTrace(t *trace.Trace, input any) *Snapshot {
	last := -1
	for i, ev := range t.Events {
		if ev.Type == trace.EventCheckpointWaiting {
			last = i
		}
	}
	if last < 0 {
		return nil
	}

	completed := make(map[string]any)
	for _, ev := range t.Events[:last] {
		if ev.Type == trace.EventStepComplete {
			completed[ev.StepID] = ev.Data["output"]
		}
	}

	return &Snapshot{
		RunID:          t.RunID,
		WorkflowID:     t.WorkflowID,
		Input:          input,
		CompletedSteps: completed,
		ResumeAt:       t.Events[last].StepID,
	}
}

// snapshotTuple returns the recorded outputs for a parallel node when
// every branch completed in the snapshot. A partially-completed node
// re-executes in full.
func snapshotTuple(snap *Snapshot, branches []workflow.Branch) ([]any, bool) {
	outs := make([]any, len(branches))
	for i, b := range branches {
		out, ok := snap.CompletedSteps[b.Step.ID]
		if !ok {
			return nil, false
		}
		outs[i] = out
	}
	return outs, true
}
