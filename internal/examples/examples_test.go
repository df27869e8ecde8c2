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

package examples

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/runbook/pkg/agent"
	"github.com/tombee/runbook/pkg/checkpoint"
	"github.com/tombee/runbook/pkg/engine"
	"github.com/tombee/runbook/pkg/shell"
)

func TestWorkflowsRegisterCleanly(t *testing.T) {
	wfs := Workflows()
	require.Len(t, wfs, 2)

	seen := map[string]bool{}
	for _, wf := range wfs {
		assert.NotEmpty(t, wf.ID)
		assert.False(t, seen[wf.ID], "duplicate workflow id %s", wf.ID)
		seen[wf.ID] = true
		assert.Positive(t, wf.StepCount())
	}
	assert.True(t, seen["system-report"])
	assert.True(t, seen["triage"])
}

func TestSystemReportRuns(t *testing.T) {
	for _, bin := range []string{"hostname", "uname"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}

	e := &engine.Engine{Shell: shell.NewExecRunner()}
	res, err := e.Run(context.Background(), SystemReport(), map[string]any{}, engine.Options{})
	require.NoError(t, err)

	out, ok := res.Output.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, out["hostname"])
	assert.NotEmpty(t, out["kernel"])
}

func TestTriageRuns(t *testing.T) {
	scripted := agent.NewScripted().
		Respond("Summarize", `{"summary": "disk filling on db-1", "severity": "high"}`)
	provider := checkpoint.NewScripted().
		Approve("Approve publishing", map[string]any{"approved": true})

	e := &engine.Engine{Agent: scripted, Checkpoint: provider}
	res, err := e.Run(context.Background(), Triage(),
		map[string]any{"text": "db-1 is at 97% disk"}, engine.Options{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"published": true}, res.Output)
}
