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

// Package engine executes workflows: it schedules step nodes in order,
// validates every step boundary against its schema, fans parallel
// branches out onto goroutines, and records everything in a trace.
// Within one run the scheduler is sequential; only parallel nodes
// introduce concurrency, and the engine joins all branches before
// advancing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/runbook/pkg/agent"
	"github.com/tombee/runbook/pkg/checkpoint"
	"github.com/tombee/runbook/pkg/schema"
	"github.com/tombee/runbook/pkg/shell"
	"github.com/tombee/runbook/pkg/trace"
	"github.com/tombee/runbook/pkg/workflow"
)

// DefaultAgentTimeout bounds an agent prompt when the step does not
// specify its own timeout.
const DefaultAgentTimeout = 180 * time.Second

// Metrics receives run and step outcomes. The telemetry package
// provides the Prometheus implementation; tests use the no-op default.
type Metrics interface {
	RunStarted(workflowID string)
	RunCompleted(workflowID, status string, duration time.Duration)
	StepCompleted(workflowID, stepID, status string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RunStarted(string)                                {}
func (nopMetrics) RunCompleted(string, string, time.Duration)       {}
func (nopMetrics) StepCompleted(string, string, string, time.Duration) {}

// Engine runs workflows against a set of providers. All fields are
// optional except the providers required by the step kinds a workflow
// actually uses: a workflow with shell steps needs Shell, and so on.
type Engine struct {
	// Shell executes shell steps.
	Shell shell.Runner

	// Agent executes agent steps.
	Agent agent.Executor

	// Checkpoint answers checkpoint steps; Options.Checkpoint overrides
	// it per run.
	Checkpoint checkpoint.Provider

	// WorkingDir is the working directory for shell and agent steps.
	WorkingDir string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to a no-op implementation.
	Metrics Metrics
}

// Options tunes one engine invocation.
type Options struct {
	// RunID is generated when empty.
	RunID string

	// OnTrace, when set, observes every trace event as it is emitted.
	OnTrace trace.Listener

	// Snapshot replays completed steps from a previous run instead of
	// executing them.
	Snapshot *Snapshot

	// Checkpoint overrides the engine's checkpoint provider for this run.
	Checkpoint checkpoint.Provider
}

// run carries the per-invocation state.
type run struct {
	engine     *Engine
	wf         *workflow.Workflow
	runID      string
	col        *trace.Collector
	checkpoint checkpoint.Provider
	logger     *slog.Logger
}

// Run executes the workflow to completion. On failure the returned
// error is a *workflow.WorkflowError carrying the partial trace.
func (e *Engine) Run(ctx context.Context, wf *workflow.Workflow, input any, opts Options) (*workflow.RunResult, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID, "workflow_id", wf.ID)

	metrics := e.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	cp := opts.Checkpoint
	if cp == nil {
		cp = e.Checkpoint
	}

	col := trace.NewCollector()
	if opts.OnTrace != nil {
		col.OnEvent(opts.OnTrace)
	}

	r := &run{
		engine:     e,
		wf:         wf,
		runID:      runID,
		col:        col,
		checkpoint: cp,
		logger:     logger,
	}

	start := time.Now()
	metrics.RunStarted(wf.ID)
	logger.Info("run started", "steps", wf.StepCount())

	output, wfErr := r.execute(ctx, input, opts.Snapshot)
	durationMS := time.Since(start).Milliseconds()

	if wfErr != nil {
		col.Emit(trace.WorkflowError(wfErr.Error()))
		wfErr.Trace = col.Snapshot(runID, wf.ID, trace.StatusFailure, durationMS)
		metrics.RunCompleted(wf.ID, "failure", time.Since(start))
		logger.Warn("run failed", "error", wfErr.Error(), "duration_ms", durationMS)
		return nil, wfErr
	}

	col.Emit(trace.WorkflowComplete(output, durationMS))
	metrics.RunCompleted(wf.ID, "success", time.Since(start))
	logger.Info("run completed", "duration_ms", durationMS)
	return &workflow.RunResult{
		Output:     output,
		Trace:      col.Snapshot(runID, wf.ID, trace.StatusSuccess, durationMS),
		DurationMS: durationMS,
	}, nil
}

// execute runs the node schedule and returns the workflow output.
func (r *run) execute(ctx context.Context, input any, snap *Snapshot) (any, *workflow.WorkflowError) {
	r.col.Emit(trace.WorkflowStart(r.wf.ID, input))

	if issues := r.wf.InputSchema.Validate(input); len(issues) > 0 {
		return nil, workflow.NewInvalidWorkflowError(issues, nil)
	}
	normalized, err := schema.Normalize(input)
	if err != nil {
		return nil, workflow.NewInvalidWorkflowError([]schema.Issue{{Message: err.Error()}}, nil)
	}

	previous := normalized
	replaying := snap != nil

	for _, node := range r.wf.Steps {
		if err := ctx.Err(); err != nil {
			return nil, workflow.NewStepFailedError(firstStepID(node), workflow.NewAbortedError(), nil)
		}

		switch n := node.(type) {
		case workflow.Sequential:
			if replaying {
				if out, ok := snap.CompletedSteps[n.Step.ID]; ok {
					r.col.Emit(trace.StepSkipped(n.Step.ID, replayReason))
					previous = out
					continue
				}
				// First non-replayed step: everything after executes fresh.
				replaying = false
			}
			out, stepErr := r.executeStep(ctx, n.Step, n.Mapper, normalized, previous)
			if stepErr != nil {
				return nil, workflow.NewStepFailedError(n.Step.ID, stepErr, nil)
			}
			previous = out

		case workflow.Parallel:
			if replaying {
				if outs, ok := snapshotTuple(snap, n.Branches); ok {
					for _, b := range n.Branches {
						r.col.Emit(trace.StepSkipped(b.Step.ID, replayReason))
					}
					previous = outs
					continue
				}
				replaying = false
			}
			out, stepID, stepErr := r.executeParallel(ctx, n.Branches, normalized, previous)
			if stepErr != nil {
				return nil, workflow.NewStepFailedError(stepID, stepErr, nil)
			}
			previous = out

		default:
			return nil, workflow.NewConfigError(fmt.Sprintf("unsupported node type %T", node))
		}
	}

	// The declared output schema is a contract on the run itself, not
	// just on the last step.
	if issues := r.wf.OutputSchema.Validate(previous); len(issues) > 0 {
		return nil, workflow.NewInvalidWorkflowError(issues, nil)
	}
	return previous, nil
}

const replayReason = "replayed from snapshot"

// executeParallel fans the branches out onto goroutines, cancelling
// siblings as soon as one fails, and joins them all before returning.
// Outputs form a tuple in branch declaration order.
func (r *run) executeParallel(ctx context.Context, branches []workflow.Branch, wfInput, previous any) (any, string, *workflow.StepError) {
	g, gctx := errgroup.WithContext(ctx)
	outputs := make([]any, len(branches))

	for i, b := range branches {
		g.Go(func() error {
			out, stepErr := r.executeStep(gctx, b.Step, b.Mapper, wfInput, previous)
			if stepErr != nil {
				return &branchFailure{stepID: b.Step.ID, err: stepErr}
			}
			outputs[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if bf, ok := err.(*branchFailure); ok {
			return nil, bf.stepID, bf.err
		}
		return nil, "", workflow.NewExecutionError(err)
	}
	return outputs, "", nil
}

// branchFailure carries a step error through errgroup so the first
// failing branch wins.
type branchFailure struct {
	stepID string
	err    *workflow.StepError
}

func (f *branchFailure) Error() string {
	return fmt.Sprintf("branch %s: %v", f.stepID, f.err)
}

// executeStep runs one step: mapper, input validation, dispatch by
// kind, output validation, with step events and duration bracketing the
// dispatch.
func (r *run) executeStep(ctx context.Context, step *workflow.Step, mapper workflow.Mapper, wfInput, previous any) (any, *workflow.StepError) {
	if mapper == nil {
		mapper = workflow.PassPrevious
	}

	input, err := callMapper(mapper, wfInput, previous)
	if err != nil {
		return nil, workflow.NewExecutionError(err)
	}

	if issues := step.InputSchema.Validate(input); len(issues) > 0 {
		stepErr := workflow.NewValidationError(issues)
		r.col.Emit(trace.StepError(step.ID, stepErr.Error(), 0))
		return nil, stepErr
	}
	input, err = schema.Normalize(input)
	if err != nil {
		return nil, workflow.NewExecutionError(err)
	}

	r.col.Emit(trace.StepStart(step.ID, input))
	started := time.Now()

	output, stepErr := r.dispatch(ctx, step, input)
	durationMS := time.Since(started).Milliseconds()

	if stepErr == nil {
		if issues := step.OutputSchema.Validate(output); len(issues) > 0 {
			stepErr = workflow.NewValidationError(issues)
		} else if output, err = schema.Normalize(output); err != nil {
			stepErr = workflow.NewExecutionError(err)
		}
	}

	if stepErr != nil {
		r.col.Emit(trace.StepError(step.ID, stepErr.Error(), durationMS))
		r.metrics().StepCompleted(r.wf.ID, step.ID, "failure", time.Since(started))
		r.logger.Warn("step failed", "step_id", step.ID, "kind", string(stepErr.Kind), "duration_ms", durationMS)
		return nil, stepErr
	}

	r.col.Emit(trace.StepComplete(step.ID, output, durationMS))
	r.metrics().StepCompleted(r.wf.ID, step.ID, "success", time.Since(started))
	r.logger.Debug("step completed", "step_id", step.ID, "duration_ms", durationMS)
	return output, nil
}

// callMapper invokes a mapper, converting panics into errors so a buggy
// mapper fails its step instead of the process.
func callMapper(mapper workflow.Mapper, wfInput, previous any) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("mapper panicked: %v", rec)
		}
	}()
	return mapper(wfInput, previous)
}

// dispatch executes the step body for its kind.
func (r *run) dispatch(ctx context.Context, step *workflow.Step, input any) (any, *workflow.StepError) {
	switch k := step.Kind.(type) {
	case workflow.FnStep:
		return r.runFn(ctx, step, k, input)
	case workflow.ShellStep:
		return r.runShell(ctx, step, k, input)
	case workflow.AgentStep:
		return r.runAgent(ctx, step, k, input)
	case workflow.CheckpointStep:
		return r.runCheckpoint(ctx, step, k, input)
	default:
		return nil, workflow.NewExecutionError(fmt.Errorf("unsupported step kind %T", step.Kind))
	}
}

// runFn invokes an Fn step body with panic recovery and a sub-engine
// for workflow composition.
func (r *run) runFn(ctx context.Context, step *workflow.Step, k workflow.FnStep, input any) (out any, stepErr *workflow.StepError) {
	stepCtx := &workflow.StepContext{
		Context:    ctx,
		WorkflowID: r.wf.ID,
		StepID:     step.ID,
		RunID:      r.runID,
		WorkingDir: r.engine.WorkingDir,
		Trace:      r.col,
		Engine:     &subEngine{engine: r.engine, checkpoint: r.checkpoint},
	}

	defer func() {
		if rec := recover(); rec != nil {
			stepErr = workflow.NewExecutionError(fmt.Errorf("step panicked: %v", rec))
		}
	}()

	result, err := k.Run(stepCtx, input)
	if err != nil {
		return nil, r.asStepError(ctx, err)
	}
	return result, nil
}

// runShell renders and executes the command, then hands stdout and the
// exit code to the step's parse function.
func (r *run) runShell(ctx context.Context, step *workflow.Step, k workflow.ShellStep, input any) (any, *workflow.StepError) {
	command := k.Command(input)

	res, err := r.engine.Shell.Exec(ctx, command, shell.Options{
		Dir:     r.engine.WorkingDir,
		Timeout: k.Timeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, workflow.NewAbortedError()
		}
		if k.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			return nil, workflow.NewTimeoutError(k.Timeout.Milliseconds())
		}
		return nil, workflow.NewShellError(command, -1, err.Error())
	}

	output, perr := k.Parse(res.Stdout, res.ExitCode)
	if perr != nil {
		if se, ok := perr.(*workflow.StepError); ok {
			return nil, se
		}
		return nil, &workflow.StepError{
			Kind:     workflow.StepErrShell,
			Command:  command,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Cause:    perr,
		}
	}
	return output, nil
}

// runCheckpoint suspends the step until an external resolver supplies a
// value conforming to the step's output schema.
func (r *run) runCheckpoint(ctx context.Context, step *workflow.Step, k workflow.CheckpointStep, input any) (any, *workflow.StepError) {
	message := k.Prompt(input)
	if r.checkpoint == nil {
		return nil, workflow.NewExecutionError(fmt.Errorf("no checkpoint provider configured"))
	}

	checkpointID := uuid.NewString()
	r.col.Emit(trace.CheckpointWaiting(step.ID, checkpointID, message))
	r.logger.Info("waiting on checkpoint", "step_id", step.ID, "checkpoint_id", checkpointID)

	value, err := r.checkpoint.Prompt(ctx, checkpoint.Request{
		CheckpointID: checkpointID,
		StepID:       step.ID,
		Message:      message,
		Schema:       step.OutputSchema,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, workflow.NewAbortedError()
		}
		return nil, workflow.NewCheckpointRejectedError(err)
	}

	r.col.Emit(trace.CheckpointResolved(step.ID, checkpointID, value))
	return value, nil
}

// asStepError converts an arbitrary step body error into a StepError,
// preserving an existing StepError and mapping cancellation to aborted.
func (r *run) asStepError(ctx context.Context, err error) *workflow.StepError {
	if se, ok := err.(*workflow.StepError); ok {
		return se
	}
	if we, ok := err.(*workflow.WorkflowError); ok && we.Aborted() {
		return workflow.NewAbortedError()
	}
	if ctx.Err() != nil {
		return workflow.NewAbortedError()
	}
	return workflow.NewExecutionError(err)
}

func (r *run) metrics() Metrics {
	if r.engine.Metrics != nil {
		return r.engine.Metrics
	}
	return nopMetrics{}
}

// firstStepID returns the id of the first step in a node, for error
// attribution when the run aborts at a node boundary.
func firstStepID(node workflow.StepNode) string {
	switch n := node.(type) {
	case workflow.Sequential:
		return n.Step.ID
	case workflow.Parallel:
		if len(n.Branches) > 0 {
			return n.Branches[0].Step.ID
		}
	}
	return ""
}

// subEngine runs nested workflows with a fresh run id, inheriting the
// parent's providers, working directory, and cancellation.
type subEngine struct {
	engine     *Engine
	checkpoint checkpoint.Provider
}

// RunWorkflow implements workflow.SubEngine.
func (s *subEngine) RunWorkflow(ctx context.Context, wf *workflow.Workflow, input any) (*workflow.RunResult, error) {
	return s.engine.Run(ctx, wf, input, Options{Checkpoint: s.checkpoint})
}
