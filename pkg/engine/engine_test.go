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
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/runbook/pkg/agent"
	"github.com/tombee/runbook/pkg/checkpoint"
	"github.com/tombee/runbook/pkg/schema"
	"github.com/tombee/runbook/pkg/shell"
	"github.com/tombee/runbook/pkg/trace"
	"github.com/tombee/runbook/pkg/workflow"
)

var (
	intSchema    = schema.MustCompile(map[string]any{"type": "integer"})
	stringSchema = schema.MustCompile(map[string]any{"type": "string"})
)

func fnStep(id string, in, out *schema.Schema, run func(any) (any, error)) *workflow.Step {
	return &workflow.Step{
		ID:           id,
		InputSchema:  in,
		OutputSchema: out,
		Kind: workflow.FnStep{
			Run: func(_ *workflow.StepContext, input any) (any, error) {
				return run(input)
			},
		},
	}
}

func asInt(v any) int {
	return int(v.(float64))
}

func regexpMust(pattern string) *regexp.Regexp {
	return regexp.MustCompile(pattern)
}

func eventTypes(events []trace.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Type)
	}
	return out
}

func findEvents(events []trace.Event, typ trace.EventType) []trace.Event {
	var out []trace.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestLinearPipeline(t *testing.T) {
	double := fnStep("double", intSchema, intSchema, func(in any) (any, error) {
		return asInt(in) * 2, nil
	})
	addTen := fnStep("add_ten", intSchema, intSchema, func(in any) (any, error) {
		return asInt(in) + 10, nil
	})
	toString := fnStep("to_string", intSchema, stringSchema, func(in any) (any, error) {
		return fmt.Sprintf("result: %d", asInt(in)), nil
	})

	wf := workflow.Define(intSchema).
		Pipe(double, workflow.PassInput).
		Pipe(addTen, workflow.PassPrevious).
		Pipe(toString, workflow.PassPrevious).
		Done("linear", stringSchema)

	eng := &Engine{}
	res, err := eng.Run(context.Background(), wf, 5, Options{})
	require.NoError(t, err)
	assert.Equal(t, "result: 20", res.Output)
	require.NotNil(t, res.Trace)
	assert.Equal(t, trace.StatusSuccess, res.Trace.Status)
	assert.NotEmpty(t, res.Trace.RunID)
	assert.Equal(t, "linear", res.Trace.WorkflowID)

	assert.Equal(t, []string{
		"workflow_start",
		"step_start", "step_complete",
		"step_start", "step_complete",
		"step_start", "step_complete",
		"workflow_complete",
	}, eventTypes(res.Trace.Events))

	starts := findEvents(res.Trace.Events, trace.EventStepStart)
	require.Len(t, starts, 3)
	assert.Equal(t, "double", starts[0].StepID)
	assert.Equal(t, "add_ten", starts[1].StepID)
	assert.Equal(t, "to_string", starts[2].StepID)

	completes := findEvents(res.Trace.Events, trace.EventStepComplete)
	assert.Equal(t, float64(10), completes[0].Data["output"])
	assert.Equal(t, float64(20), completes[1].Data["output"])
	assert.Equal(t, "result: 20", completes[2].Data["output"])
}

func TestParallelFanIn(t *testing.T) {
	upper := fnStep("upper", stringSchema, stringSchema, func(in any) (any, error) {
		return strings.ToUpper(in.(string)), nil
	})
	length := fnStep("length", stringSchema, intSchema, func(in any) (any, error) {
		return len(in.(string)), nil
	})

	wf := workflow.Define(stringSchema).
		Parallel(
			workflow.Branch{Step: upper, Mapper: workflow.PassInput},
			workflow.Branch{Step: length, Mapper: workflow.PassInput},
		).
		Done("fan-in", schema.MustCompile(map[string]any{"type": "array"}))

	eng := &Engine{}
	res, err := eng.Run(context.Background(), wf, "hello", Options{})
	require.NoError(t, err)

	// Tuple order follows branch declaration order, not completion order.
	assert.Equal(t, []any{"HELLO", float64(5)}, res.Output)

	completes := findEvents(res.Trace.Events, trace.EventStepComplete)
	assert.Len(t, completes, 2)
}

func TestParallelBranchFailureCancelsSiblings(t *testing.T) {
	failing := fnStep("failing", stringSchema, stringSchema, func(in any) (any, error) {
		return nil, errors.New("boom")
	})
	slow := &workflow.Step{
		ID:           "slow",
		InputSchema:  stringSchema,
		OutputSchema: stringSchema,
		Kind: workflow.FnStep{
			Run: func(ctx *workflow.StepContext, input any) (any, error) {
				select {
				case <-ctx.Context.Done():
					return nil, ctx.Context.Err()
				case <-time.After(5 * time.Second):
					return "too late", nil
				}
			},
		},
	}

	wf := workflow.Define(stringSchema).
		Parallel(
			workflow.Branch{Step: failing, Mapper: workflow.PassInput},
			workflow.Branch{Step: slow, Mapper: workflow.PassInput},
		).
		Done("fail-fast", stringSchema)

	eng := &Engine{}
	start := time.Now()
	_, err := eng.Run(context.Background(), wf, "x", Options{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var wfErr *workflow.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, "failing", wfErr.StepID)
	assert.Equal(t, workflow.StepErrExecution, wfErr.Step.Kind)
}

func TestInputValidationFailsRunBeforeSteps(t *testing.T) {
	step := fnStep("noop", intSchema, intSchema, func(in any) (any, error) { return in, nil })
	wf := workflow.Define(intSchema).
		Pipe(step, workflow.PassInput).
		Done("typed", intSchema)

	eng := &Engine{}
	_, err := eng.Run(context.Background(), wf, "not a number", Options{})
	require.Error(t, err)

	var wfErr *workflow.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, workflow.WorkflowErrInvalidWorkflow, wfErr.Kind)
	assert.NotEmpty(t, wfErr.Issues)

	// No step ever started.
	require.NotNil(t, wfErr.Trace)
	assert.Empty(t, findEvents(wfErr.Trace.Events, trace.EventStepStart))
}

func TestStepInputValidationEmitsErrorWithoutStart(t *testing.T) {
	step := fnStep("typed", intSchema, intSchema, func(in any) (any, error) { return in, nil })
	wf := workflow.Define(stringSchema).
		Pipe(step, workflow.PassInput).
		Done("mismatch", intSchema)

	eng := &Engine{}
	_, err := eng.Run(context.Background(), wf, "text", Options{})
	require.Error(t, err)

	var wfErr *workflow.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, workflow.StepErrValidation, wfErr.Step.Kind)

	assert.Empty(t, findEvents(wfErr.Trace.Events, trace.EventStepStart))
	errEvents := findEvents(wfErr.Trace.Events, trace.EventStepError)
	require.Len(t, errEvents, 1)
	assert.Equal(t, "typed", errEvents[0].StepID)
}

func TestOutputSchemaMismatchFailsRun(t *testing.T) {
	describe := fnStep("describe", intSchema, stringSchema, func(in any) (any, error) {
		return fmt.Sprintf("value %d", asInt(in)), nil
	})
	wf := workflow.Define(intSchema).
		Pipe(describe, workflow.PassInput).
		Done("mismatched", intSchema)

	eng := &Engine{}
	_, err := eng.Run(context.Background(), wf, 3, Options{})
	require.Error(t, err)

	var wfErr *workflow.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, workflow.WorkflowErrInvalidWorkflow, wfErr.Kind)
	assert.NotEmpty(t, wfErr.Issues)

	// The step itself succeeded; the run failed at the workflow boundary.
	require.NotNil(t, wfErr.Trace)
	assert.Len(t, findEvents(wfErr.Trace.Events, trace.EventStepComplete), 1)
	assert.Empty(t, findEvents(wfErr.Trace.Events, trace.EventWorkflowComplete))
}

func TestShellStep(t *testing.T) {
	echo := &workflow.Step{
		ID:           "echo",
		InputSchema:  stringSchema,
		OutputSchema: stringSchema,
		Kind: workflow.ShellStep{
			Command: func(in any) string { return "echo " + in.(string) },
			Parse: func(stdout string, exitCode int) (any, error) {
				if exitCode != 0 {
					return nil, fmt.Errorf("echo exited with %d", exitCode)
				}
				return strings.TrimSpace(stdout), nil
			},
		},
	}

	wf := workflow.Define(stringSchema).
		Pipe(echo, workflow.PassInput).
		Done("echo", stringSchema)

	eng := &Engine{Shell: shell.NewExecRunner()}
	res, err := eng.Run(context.Background(), wf, "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Output)
}

func TestShellStepNonZeroExit(t *testing.T) {
	failing := &workflow.Step{
		ID:           "failing",
		InputSchema:  stringSchema,
		OutputSchema: stringSchema,
		Kind: workflow.ShellStep{
			Command: func(any) string { return "echo oops >&2; exit 3" },
			Parse: func(stdout string, exitCode int) (any, error) {
				if exitCode != 0 {
					return nil, fmt.Errorf("command exited with %d", exitCode)
				}
				return stdout, nil
			},
		},
	}

	wf := workflow.Define(stringSchema).
		Pipe(failing, workflow.PassInput).
		Done("failing-shell", stringSchema)

	eng := &Engine{Shell: shell.NewExecRunner()}
	_, err := eng.Run(context.Background(), wf, "x", Options{})
	require.Error(t, err)

	var wfErr *workflow.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	require.Equal(t, workflow.StepErrShell, wfErr.Step.Kind)
	assert.Equal(t, 3, wfErr.Step.ExitCode)
	assert.Contains(t, wfErr.Step.Stderr, "oops")
}

func TestShellStepTimeout(t *testing.T) {
	slow := &workflow.Step{
		ID:           "slow",
		InputSchema:  stringSchema,
		OutputSchema: stringSchema,
		Kind: workflow.ShellStep{
			Command: func(any) string { return "sleep 5" },
			Timeout: 50 * time.Millisecond,
			Parse: func(stdout string, exitCode int) (any, error) {
				return stdout, nil
			},
		},
	}

	wf := workflow.Define(stringSchema).
		Pipe(slow, workflow.PassInput).
		Done("slow-shell", stringSchema)

	eng := &Engine{Shell: shell.NewExecRunner()}
	start := time.Now()
	_, err := eng.Run(context.Background(), wf, "x", Options{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var wfErr *workflow.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, workflow.StepErrTimeout, wfErr.Step.Kind)
	assert.Equal(t, int64(50), wfErr.Step.TimeoutMS)
}

func TestCancellationAborts(t *testing.T) {
	slow := &workflow.Step{
		ID:           "slow",
		InputSchema:  stringSchema,
		OutputSchema: stringSchema,
		Kind: workflow.ShellStep{
			Command: func(any) string { return "sleep 5" },
			Parse: func(stdout string, exitCode int) (any, error) {
				return stdout, nil
			},
		},
	}

	wf := workflow.Define(stringSchema).
		Pipe(slow, workflow.PassInput).
		Done("cancellable", stringSchema)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	eng := &Engine{Shell: shell.NewExecRunner()}
	start := time.Now()
	_, err := eng.Run(ctx, wf, "x", Options{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var wfErr *workflow.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.True(t, wfErr.Aborted())
}

func TestAgentAnalyzeStep(t *testing.T) {
	exec := agent.NewScripted().Respond(`summarize`, `{"summary": "all good", "score": 95}`)

	analysis := schema.MustCompile(schema.Object(map[string]any{
		"summary": map[string]any{"type": "string"},
		"score":   map[string]any{"type": "integer"},
	}))
	analyze := &workflow.Step{
		ID:           "analyze",
		InputSchema:  stringSchema,
		OutputSchema: analysis,
		Kind: workflow.AgentStep{
			Mode:   workflow.ModeAnalyze,
			Prompt: func(in any) string { return "summarize: " + in.(string) },
		},
	}

	wf := workflow.Define(stringSchema).
		Pipe(analyze, workflow.PassInput).
		Done("analysis", analysis)

	eng := &Engine{Agent: exec}
	res, err := eng.Run(context.Background(), wf, "everything is fine", Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"summary": "all good", "score": float64(95)}, res.Output)

	assert.Len(t, findEvents(res.Trace.Events, trace.EventAgentSessionCreated), 1)
	assert.Len(t, findEvents(res.Trace.Events, trace.EventAgentPromptSent), 1)
	assert.Len(t, findEvents(res.Trace.Events, trace.EventAgentResponse), 1)

	created := findEvents(res.Trace.Events, trace.EventAgentSessionCreated)[0]
	assert.Equal(t, "runbook:analysis:analyze", created.Data["title"])

	// Session teardown is asynchronous.
	assert.Eventually(t, func() bool {
		return len(exec.OpenSessions()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAgentAnalyzeExtractsEmbeddedJSON(t *testing.T) {
	exec := agent.NewScripted().Respond(`count`,
		"Sure! Looking at the data, here is what I found:\n\n{\"x\": 1}\n\nLet me know if you need more.")

	out := schema.MustCompile(schema.Object(map[string]any{
		"x": map[string]any{"type": "integer"},
	}))
	step := &workflow.Step{
		ID:           "extract",
		InputSchema:  stringSchema,
		OutputSchema: out,
		Kind: workflow.AgentStep{
			Mode:   workflow.ModeAnalyze,
			Prompt: func(in any) string { return "count: " + in.(string) },
		},
	}

	wf := workflow.Define(stringSchema).
		Pipe(step, workflow.PassInput).
		Done("extract", out)

	eng := &Engine{Agent: exec}
	res, err := eng.Run(context.Background(), wf, "things", Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1)}, res.Output)
}

func TestAgentAnalyzeParseError(t *testing.T) {
	exec := agent.NewScripted().Respond(`.`, "I could not produce anything structured, sorry.")

	out := schema.MustCompile(schema.Object(map[string]any{
		"x": map[string]any{"type": "integer"},
	}))
	step := &workflow.Step{
		ID:           "extract",
		InputSchema:  stringSchema,
		OutputSchema: out,
		Kind: workflow.AgentStep{
			Mode:   workflow.ModeAnalyze,
			Prompt: func(in any) string { return "go" },
		},
	}

	wf := workflow.Define(stringSchema).
		Pipe(step, workflow.PassInput).
		Done("extract", out)

	eng := &Engine{Agent: exec}
	_, err := eng.Run(context.Background(), wf, "things", Options{})
	require.Error(t, err)

	var wfErr *workflow.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, workflow.StepErrAgentParse, wfErr.Step.Kind)
	assert.Contains(t, wfErr.Step.RawOutput, "sorry")
}

func TestAgentStepTimeout(t *testing.T) {
	exec := agent.NewScripted().AddRule(agent.ScriptedRule{
		Match:    regexpMust(`.`),
		Response: agent.Response{Text: "{}"},
		Delay:    5 * time.Second,
	})

	out := schema.MustCompile(map[string]any{"type": "object"})
	step := &workflow.Step{
		ID:           "stuck",
		InputSchema:  stringSchema,
		OutputSchema: out,
		Kind: workflow.AgentStep{
			Mode:   workflow.ModeAnalyze,
			Prompt: func(any) string { return "go" },
			Opts:   workflow.AgentStepOpts{Timeout: 50 * time.Millisecond},
		},
	}

	wf := workflow.Define(stringSchema).
		Pipe(step, workflow.PassInput).
		Done("stuck", out)

	eng := &Engine{Agent: exec}
	start := time.Now()
	_, err := eng.Run(context.Background(), wf, "x", Options{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var wfErr *workflow.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, workflow.StepErrTimeout, wfErr.Step.Kind)
}

func TestAgentBuildModeUsesMetadata(t *testing.T) {
	exec := agent.NewScripted().AddRule(agent.ScriptedRule{
		Match: regexpMust(`build`),
		Response: agent.Response{
			Text:         "Done, created the files.",
			FilesChanged: []string{"main.go"},
			Metadata:     map[string]any{"files": []any{"main.go"}},
		},
	})

	out := schema.MustCompile(map[string]any{"type": "object"})
	step := &workflow.Step{
		ID:           "scaffold",
		InputSchema:  stringSchema,
		OutputSchema: out,
		Kind: workflow.AgentStep{
			Mode:   workflow.ModeBuild,
			Prompt: func(in any) string { return "build: " + in.(string) },
		},
	}

	wf := workflow.Define(stringSchema).
		Pipe(step, workflow.PassInput).
		Done("scaffold", out)

	eng := &Engine{Agent: exec}
	res, err := eng.Run(context.Background(), wf, "a service", Options{})
	require.NoError(t, err)

	output, ok := res.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["success"])
	assert.Equal(t, []any{"main.go"}, output["files"])
}

func TestCheckpointResolvedInline(t *testing.T) {
	approval := schema.MustCompile(schema.Object(map[string]any{
		"approved": map[string]any{"type": "boolean"},
	}))
	gate := &workflow.Step{
		ID:           "gate",
		InputSchema:  intSchema,
		OutputSchema: approval,
		Kind: workflow.CheckpointStep{
			Prompt: func(in any) string { return fmt.Sprintf("accept %d?", asInt(in)) },
		},
	}

	wf := workflow.Define(intSchema).
		Pipe(gate, workflow.PassInput).
		Done("gated", approval)

	provider := checkpoint.NewScripted().Approve(`accept 7`, map[string]any{"approved": true})
	eng := &Engine{Checkpoint: provider}
	res, err := eng.Run(context.Background(), wf, 7, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"approved": true}, res.Output)

	waiting := findEvents(res.Trace.Events, trace.EventCheckpointWaiting)
	resolved := findEvents(res.Trace.Events, trace.EventCheckpointResolved)
	require.Len(t, waiting, 1)
	require.Len(t, resolved, 1)
	assert.Equal(t, waiting[0].Data["checkpoint_id"], resolved[0].Data["checkpoint_id"])
	assert.NotEmpty(t, waiting[0].Data["checkpoint_id"])
}

func checkpointWorkflow() *workflow.Workflow {
	approval := schema.MustCompile(schema.Object(map[string]any{
		"approved": map[string]any{"type": "boolean"},
	}))
	done := schema.MustCompile(schema.Object(map[string]any{
		"done": map[string]any{"type": "boolean"},
	}))

	compute := fnStep("compute", intSchema, intSchema, func(in any) (any, error) {
		return asInt(in) * 2, nil
	})
	approve := &workflow.Step{
		ID:           "approve",
		InputSchema:  intSchema,
		OutputSchema: approval,
		Kind: workflow.CheckpointStep{
			Prompt: func(in any) string { return fmt.Sprintf("publish %d?", asInt(in)) },
		},
	}
	finalize := fnStep("finalize", approval, done, func(in any) (any, error) {
		approved, _ := in.(map[string]any)["approved"].(bool)
		return map[string]any{"done": approved}, nil
	})

	return workflow.Define(intSchema).
		Pipe(compute, workflow.PassInput).
		Pipe(approve, workflow.PassPrevious).
		Pipe(finalize, workflow.PassPrevious).
		Done("gated-compute", done)
}

func TestCheckpointSuspendAndResume(t *testing.T) {
	wf := checkpointWorkflow()

	// First run: nobody answers the checkpoint, the run fails there.
	eng := &Engine{Checkpoint: checkpoint.NewScripted()}
	_, err := eng.Run(context.Background(), wf, 21, Options{})
	require.Error(t, err)

	var wfErr *workflow.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, "approve", wfErr.StepID)
	assert.Equal(t, workflow.StepErrCheckpointRejected, wfErr.Step.Kind)
	require.NotNil(t, wfErr.Trace)

	snap := FromTrace(wfErr.Trace, float64(21))
	require.NotNil(t, snap)
	assert.Equal(t, "approve", snap.ResumeAt)
	assert.Equal(t, map[string]any{"compute": float64(42)}, snap.CompletedSteps)

	// Second run replays compute and answers the checkpoint.
	eng2 := &Engine{Checkpoint: checkpoint.NewScripted().Approve(`publish 42`, map[string]any{"approved": true})}
	res, err := eng2.Run(context.Background(), wf, 21, Options{Snapshot: snap})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"done": true}, res.Output)

	skipped := findEvents(res.Trace.Events, trace.EventStepSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "compute", skipped[0].StepID)
	assert.Equal(t, "replayed from snapshot", skipped[0].Data["reason"])

	// The replayed step never re-executes.
	for _, ev := range findEvents(res.Trace.Events, trace.EventStepStart) {
		assert.NotEqual(t, "compute", ev.StepID)
	}
}

func TestFromTraceWithoutCheckpoint(t *testing.T) {
	tr := &trace.Trace{Events: []trace.Event{
		trace.WorkflowStart("wf", nil),
		trace.StepComplete("a", 1, 0),
	}}
	assert.Nil(t, FromTrace(tr, nil))
}

func TestSubWorkflowAsStep(t *testing.T) {
	inner := workflow.Define(intSchema).
		Pipe(fnStep("triple", intSchema, intSchema, func(in any) (any, error) {
			return asInt(in) * 3, nil
		}), workflow.PassInput).
		Done("triple", intSchema)

	outer := workflow.Define(intSchema).
		Pipe(inner.AsStep(), workflow.PassInput).
		Pipe(fnStep("plus_one", intSchema, intSchema, func(in any) (any, error) {
			return asInt(in) + 1, nil
		}), workflow.PassPrevious).
		Done("outer", intSchema)

	eng := &Engine{}
	res, err := eng.Run(context.Background(), outer, 4, Options{})
	require.NoError(t, err)
	assert.Equal(t, float64(13), res.Output)
}

func TestOnTraceObservesEvents(t *testing.T) {
	step := fnStep("noop", intSchema, intSchema, func(in any) (any, error) { return in, nil })
	wf := workflow.Define(intSchema).
		Pipe(step, workflow.PassInput).
		Done("observed", intSchema)

	var seen []trace.EventType
	eng := &Engine{}
	_, err := eng.Run(context.Background(), wf, 1, Options{
		OnTrace: func(ev trace.Event) {
			seen = append(seen, ev.Type)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []trace.EventType{
		trace.EventWorkflowStart,
		trace.EventStepStart,
		trace.EventStepComplete,
		trace.EventWorkflowComplete,
	}, seen)
}

func TestRunIDOption(t *testing.T) {
	step := fnStep("noop", intSchema, intSchema, func(in any) (any, error) { return in, nil })
	wf := workflow.Define(intSchema).
		Pipe(step, workflow.PassInput).
		Done("pinned", intSchema)

	eng := &Engine{}
	res, err := eng.Run(context.Background(), wf, 1, Options{RunID: "fixed-id"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", res.Trace.RunID)
}
