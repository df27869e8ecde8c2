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

package trace

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitStampsTimestampAndPreservesOrder(t *testing.T) {
	c := NewCollector()
	c.Emit(WorkflowStart("wf", nil))
	c.Emit(StepStart("a", 1))
	c.Emit(StepComplete("a", 2, 5))

	events := c.Events()
	require.Len(t, events, 3)
	assert.Equal(t, EventWorkflowStart, events[0].Type)
	assert.Equal(t, EventStepStart, events[1].Type)
	assert.Equal(t, EventStepComplete, events[2].Type)
	for _, ev := range events {
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestListenersInvokedSynchronously(t *testing.T) {
	c := NewCollector()

	var seen []EventType
	c.OnEvent(func(ev Event) {
		seen = append(seen, ev.Type)
	})

	c.Emit(WorkflowStart("wf", nil))
	c.Emit(WorkflowComplete("done", 1))

	assert.Equal(t, []EventType{EventWorkflowStart, EventWorkflowComplete}, seen)
}

func TestConcurrentEmit(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Emit(StepStart(fmt.Sprintf("s%d", i), j))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, c.Len())
}

func TestEventsReturnsCopy(t *testing.T) {
	c := NewCollector()
	c.Emit(WorkflowStart("wf", nil))

	events := c.Events()
	events[0].Type = "mutated"

	assert.Equal(t, EventWorkflowStart, c.Events()[0].Type)
}

func TestSnapshot(t *testing.T) {
	c := NewCollector()
	c.Emit(WorkflowStart("wf", nil))

	tr := c.Snapshot("run-1", "wf", StatusSuccess, 42)
	assert.Equal(t, "run-1", tr.RunID)
	assert.Equal(t, "wf", tr.WorkflowID)
	assert.Equal(t, StatusSuccess, tr.Status)
	assert.Equal(t, int64(42), tr.DurationMS)
	assert.Len(t, tr.Events, 1)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, WorkflowComplete(nil, 0).IsTerminal())
	assert.True(t, WorkflowError("boom").IsTerminal())
	assert.False(t, StepComplete("a", nil, 0).IsTerminal())
	assert.False(t, CheckpointWaiting("a", "cp", "?").IsTerminal())
}
