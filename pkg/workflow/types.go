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

// Package workflow defines the typed workflow model: steps with input
// and output schemas, the node graph that orders them, and the builder
// that freezes a graph into a runnable Workflow. Step bodies are
// function values dispatched by the engine on the step's kind.
package workflow

import (
	"context"
	"time"

	"github.com/tombee/runbook/pkg/schema"
	"github.com/tombee/runbook/pkg/trace"
)

// Step is one typed unit of work. Input and output schemas travel with
// the step; the engine validates every step boundary against them.
type Step struct {
	// ID uniquely identifies the step within a workflow.
	ID string

	// Description is optional human-readable documentation.
	Description string

	// InputSchema validates the mapper output before the step runs.
	InputSchema *schema.Schema

	// OutputSchema validates the step result.
	OutputSchema *schema.Schema

	// Kind is the step body; exactly one of the *Step kinds.
	Kind StepKind
}

// StepKind is the tagged variant for step bodies. Implementations are
// FnStep, ShellStep, AgentStep, and CheckpointStep.
type StepKind interface {
	stepKind()
}

// FnStep is a pure computation.
type FnStep struct {
	// Run executes the step. The context carries run identity, the trace
	// collector, cancellation, and a sub-engine for workflow composition.
	Run func(ctx *StepContext, input any) (any, error)
}

func (FnStep) stepKind() {}

// ShellStep runs a subprocess and parses its output.
type ShellStep struct {
	// Command renders the command line from the step input.
	Command func(input any) string

	// Parse converts captured stdout and the exit code into the step
	// output, or an error if the invocation must be treated as failed.
	Parse func(stdout string, exitCode int) (any, error)

	// Timeout bounds the subprocess; zero means no intrinsic timeout.
	Timeout time.Duration
}

func (ShellStep) stepKind() {}

// AgentMode selects how an agent step's response is interpreted.
type AgentMode string

const (
	// ModeAnalyze expects a JSON response matching the output schema.
	ModeAnalyze AgentMode = "analyze"
	// ModeBuild expects side effects; the response metadata becomes the output.
	ModeBuild AgentMode = "build"
)

// AgentStepOpts tunes an agent step.
type AgentStepOpts struct {
	// SystemPrompt is prepended to the composed system prompt.
	SystemPrompt string

	// SystemPromptFile names a file whose contents lead the system
	// prompt. Relative paths resolve against the run's working directory.
	SystemPromptFile string

	// Timeout bounds the prompt; zero means the engine default.
	Timeout time.Duration

	// Permissions lists permissions granted to the agent session.
	Permissions []string
}

// AgentStep delegates work to the external agent service.
type AgentStep struct {
	// Prompt renders the user-level prompt from the step input.
	Prompt func(input any) string

	// Mode selects response interpretation.
	Mode AgentMode

	// Opts are optional tuning knobs.
	Opts AgentStepOpts
}

func (AgentStep) stepKind() {}

// CheckpointStep suspends the run until an external resolver supplies a
// value conforming to the step's output schema.
type CheckpointStep struct {
	// Prompt renders the message shown to the resolver.
	Prompt func(input any) string
}

func (CheckpointStep) stepKind() {}

// Mapper derives a step's input from the workflow input and the output
// of the previous node. Mappers must be pure.
type Mapper func(workflowInput, previous any) (any, error)

// PassPrevious is a mapper that forwards the previous output unchanged.
func PassPrevious(_, previous any) (any, error) {
	return previous, nil
}

// PassInput is a mapper that forwards the workflow input unchanged.
func PassInput(workflowInput, _ any) (any, error) {
	return workflowInput, nil
}

// StepNode is one scheduling unit in a workflow: either a single
// sequential step or a parallel fan-out.
type StepNode interface {
	stepNode()
}

// Sequential runs one step, feeding its output to the next node.
type Sequential struct {
	Step   *Step
	Mapper Mapper
}

func (Sequential) stepNode() {}

// Branch pairs a step with its mapper inside a parallel node.
type Branch struct {
	Step   *Step
	Mapper Mapper
}

// Parallel runs its branches concurrently; the node output is the tuple
// of branch outputs in declaration order.
type Parallel struct {
	Branches []Branch
}

func (Parallel) stepNode() {}

// Workflow is a frozen, runnable step graph.
type Workflow struct {
	ID           string
	InputSchema  *schema.Schema
	OutputSchema *schema.Schema
	Steps        []StepNode
}

// StepCount returns the number of steps across all nodes.
func (w *Workflow) StepCount() int {
	n := 0
	for _, node := range w.Steps {
		switch v := node.(type) {
		case Sequential:
			n++
		case Parallel:
			n += len(v.Branches)
		}
	}
	return n
}

// StepIDs returns every step id in declaration order.
func (w *Workflow) StepIDs() []string {
	var ids []string
	for _, node := range w.Steps {
		switch v := node.(type) {
		case Sequential:
			ids = append(ids, v.Step.ID)
		case Parallel:
			for _, b := range v.Branches {
				ids = append(ids, b.Step.ID)
			}
		}
	}
	return ids
}

// HasStep reports whether the workflow contains a step with the given id.
func (w *Workflow) HasStep(id string) bool {
	for _, sid := range w.StepIDs() {
		if sid == id {
			return true
		}
	}
	return false
}

// RunResult is the successful outcome of one engine invocation.
type RunResult struct {
	Output     any
	Trace      *trace.Trace
	DurationMS int64
}

// SubEngine lets Fn steps invoke nested workflows that inherit the
// parent run's providers, working directory, and cancellation.
type SubEngine interface {
	RunWorkflow(ctx context.Context, wf *Workflow, input any) (*RunResult, error)
}

// StepContext is passed to Fn step bodies.
type StepContext struct {
	// Context carries the run's cancellation signal.
	Context context.Context

	WorkflowID string
	StepID     string
	RunID      string

	// WorkingDir is the run's working directory.
	WorkingDir string

	// Trace is the run's collector; steps may emit supplementary events.
	Trace *trace.Collector

	// Engine runs nested workflows with inherited providers.
	Engine SubEngine
}

// AsStep wraps the workflow as an Fn step that invokes the engine on
// it. This is the composition primitive: the wrapper validates against
// the workflow's own schemas and surfaces the child's output.
func (w *Workflow) AsStep() *Step {
	child := w
	return &Step{
		ID:           child.ID,
		Description:  "sub-workflow " + child.ID,
		InputSchema:  child.InputSchema,
		OutputSchema: child.OutputSchema,
		Kind: FnStep{
			Run: func(ctx *StepContext, input any) (any, error) {
				res, err := ctx.Engine.RunWorkflow(ctx.Context, child, input)
				if err != nil {
					return nil, err
				}
				return res.Output, nil
			},
		},
	}
}
