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

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/runbook/pkg/schema"
	"github.com/tombee/runbook/pkg/workflow"
)

var intSchema = schema.MustCompile(map[string]any{"type": "integer"})

func testWorkflow(id string) *workflow.Workflow {
	step := &workflow.Step{
		ID:           "noop",
		InputSchema:  intSchema,
		OutputSchema: intSchema,
		Kind: workflow.FnStep{
			Run: func(_ *workflow.StepContext, in any) (any, error) { return in, nil },
		},
	}
	return workflow.Define(intSchema).
		Pipe(step, workflow.PassInput).
		Done(id, intSchema)
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(testWorkflow("deploy")))

	wf, ok := r.Get("deploy")
	require.True(t, ok)
	assert.Equal(t, "deploy", wf.ID)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(testWorkflow("deploy")))

	err := r.Register(testWorkflow("deploy"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterEmptyID(t *testing.T) {
	r := New()
	err := r.Register(&workflow.Workflow{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id")
}

func TestListSortedByID(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(testWorkflow("charlie")))
	require.NoError(t, r.Register(testWorkflow("alpha")))
	require.NoError(t, r.Register(testWorkflow("bravo")))

	wfs := r.List()
	require.Len(t, wfs, 3)
	assert.Equal(t, "alpha", wfs[0].ID)
	assert.Equal(t, "bravo", wfs[1].ID)
	assert.Equal(t, "charlie", wfs[2].ID)
}
