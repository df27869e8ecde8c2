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

package workflow

import "github.com/tombee/runbook/pkg/schema"

// Builder collects step nodes and freezes them into a Workflow. It is
// purely structural; all execution semantics live in the engine.
type Builder struct {
	inputSchema *schema.Schema
	steps       []StepNode
}

// Define starts a builder for a workflow whose input conforms to the
// given schema.
func Define(inputSchema *schema.Schema) *Builder {
	return &Builder{inputSchema: inputSchema}
}

// Pipe appends a sequential step. The mapper derives the step input
// from the workflow input and the previous node's output.
func (b *Builder) Pipe(step *Step, mapper Mapper) *Builder {
	b.steps = append(b.steps, Sequential{Step: step, Mapper: mapper})
	return b
}

// Parallel appends a fan-out node. The node's output is the tuple of
// branch outputs in the declared order.
func (b *Builder) Parallel(branches ...Branch) *Builder {
	copied := make([]Branch, len(branches))
	copy(copied, branches)
	b.steps = append(b.steps, Parallel{Branches: copied})
	return b
}

// Done freezes the collected nodes into a Workflow. The returned
// workflow owns a snapshot of the node list; mutating the builder
// afterwards does not affect it.
func (b *Builder) Done(id string, outputSchema *schema.Schema) *Workflow {
	steps := make([]StepNode, len(b.steps))
	copy(steps, b.steps)
	return &Workflow{
		ID:           id,
		InputSchema:  b.inputSchema,
		OutputSchema: outputSchema,
		Steps:        steps,
	}
}
