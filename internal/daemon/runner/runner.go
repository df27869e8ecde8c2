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

// Package runner routes run submissions to the engine. It validates
// input, allocates run ids, schedules engine invocations on their own
// goroutines, and wires each run's cancellation, checkpoint registry,
// and trace callback into the state store.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/runbook/internal/daemon/registry"
	"github.com/tombee/runbook/internal/daemon/state"
	"github.com/tombee/runbook/internal/gitstore"
	"github.com/tombee/runbook/pkg/checkpoint"
	"github.com/tombee/runbook/pkg/engine"
	"github.com/tombee/runbook/pkg/schema"
	"github.com/tombee/runbook/pkg/trace"
	"github.com/tombee/runbook/pkg/workflow"
)

// persistTimeout bounds one artifact-store write.
const persistTimeout = 30 * time.Second

// Runner schedules and tracks runs.
type Runner struct {
	state     *state.Store
	registry  *registry.Registry
	engine    *engine.Engine
	artifacts *gitstore.Store
	logger    *slog.Logger

	draining atomic.Bool
	wg       sync.WaitGroup
}

// Config assembles a Runner. Artifacts is optional; without it runs are
// not persisted.
type Config struct {
	State     *state.Store
	Registry  *registry.Registry
	Engine    *engine.Engine
	Artifacts *gitstore.Store
	Logger    *slog.Logger
}

// New creates a runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		state:     cfg.State,
		registry:  cfg.Registry,
		engine:    cfg.Engine,
		artifacts: cfg.Artifacts,
		logger:    logger.With("component", "runner"),
	}
}

// Submit validates the input and schedules a new run, returning its
// pending state immediately.
func (r *Runner) Submit(workflowID string, input any) (*state.RunState, error) {
	wf, ok := r.registry.Get(workflowID)
	if !ok {
		return nil, &NotFoundError{Resource: "workflow", ID: workflowID}
	}

	if issues := wf.InputSchema.Validate(input); len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	run := r.state.Create(uuid.NewString(), wf.ID, input)
	r.schedule(wf, run.RunID, input, nil)
	return run, nil
}

// Resume builds a snapshot from a prior run's last checkpoint and
// schedules a fresh run that replays the completed prefix.
func (r *Runner) Resume(workflowID, priorID string) (*state.RunState, error) {
	wf, ok := r.registry.Get(workflowID)
	if !ok {
		return nil, &NotFoundError{Resource: "workflow", ID: workflowID}
	}

	prior, err := r.state.Get(priorID)
	if err != nil {
		return nil, &NotFoundError{Resource: "run", ID: priorID}
	}
	if prior.WorkflowID != wf.ID {
		return nil, &ConflictError{Message: "run " + prior.RunID + " belongs to workflow " + prior.WorkflowID}
	}

	snap := engine.FromTrace(prior.Trace(), prior.Input)
	if snap == nil {
		return nil, &ConflictError{Message: "no checkpoint found on run " + prior.RunID}
	}

	run := r.state.Create(uuid.NewString(), wf.ID, prior.Input)
	if err := r.state.Update(run.RunID, func(rs *state.RunState) {
		rs.ResumedFrom = prior.RunID
	}); err != nil {
		return nil, err
	}
	run.ResumedFrom = prior.RunID

	r.schedule(wf, run.RunID, prior.Input, snap)
	return run, nil
}

// schedule launches the engine invocation on its own goroutine.
func (r *Runner) schedule(wf *workflow.Workflow, runID string, input any, snap *engine.Snapshot) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(wf, runID, input, snap)
	}()
}

// execute runs the engine for one run and writes the terminal state.
func (r *Runner) execute(wf *workflow.Workflow, runID string, input any, snap *engine.Snapshot) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.state.SetCancel(runID, cancel)

	// Only a pending run starts executing. A cancel that landed before
	// this goroutine got scheduled already moved the run to a terminal
	// state; honor it instead of resurrecting the run.
	var preempted state.Status
	if err := r.state.Update(runID, func(rs *state.RunState) {
		if rs.Status == state.StatusPending {
			rs.Status = state.StatusRunning
			return
		}
		preempted = rs.Status
	}); err != nil {
		r.logger.Error("failed to mark run running", "run_id", runID, "error", err)
		return
	}
	if preempted.Terminal() {
		now := time.Now().UTC()
		if err := r.state.Update(runID, func(rs *state.RunState) {
			if rs.CompletedAt == nil {
				rs.CompletedAt = &now
			}
		}); err != nil {
			r.logger.Error("failed to stamp completion time", "run_id", runID, "error", err)
		}
		r.logger.Info("run cancelled before start", "run_id", runID)
		r.persist(runID)
		return
	}

	cp := checkpoint.NewRegistryProvider(
		func(p *checkpoint.Pending) {
			if err := r.state.RegisterCheckpoint(runID, p); err != nil {
				r.logger.Error("failed to register checkpoint", "run_id", runID, "error", err)
			}
		},
		func(p *checkpoint.Pending) {
			if err := r.state.UnregisterCheckpoint(runID, p); err != nil {
				r.logger.Error("failed to unregister checkpoint", "run_id", runID, "error", err)
			}
		},
	)

	onTrace := func(ev trace.Event) {
		if err := r.state.AppendEvent(runID, ev); err != nil {
			r.logger.Error("failed to record trace event", "run_id", runID, "error", err)
		}
		// Persist at suspension points so a suspended run is inspectable
		// offline before anyone resolves its checkpoint. The write runs
		// on its own goroutine: the listener is called synchronously from
		// the engine, which must not wait on the artifact store.
		if ev.Type == trace.EventCheckpointWaiting {
			go r.persist(runID)
		}
	}

	result, err := r.engine.Run(ctx, wf, input, engine.Options{
		RunID:      runID,
		OnTrace:    onTrace,
		Snapshot:   snap,
		Checkpoint: cp,
	})

	now := time.Now().UTC()
	if uerr := r.state.Update(runID, func(rs *state.RunState) {
		rs.CompletedAt = &now
		if err == nil {
			// A cancel acknowledged mid-flight wins even if the engine
			// finished before the context cancellation reached it.
			if rs.Status != state.StatusCancelled {
				rs.Status = state.StatusSuccess
				rs.Output = result.Output
			}
			return
		}

		rs.Error = err.Error()
		// An explicit cancel request already moved the status to
		// cancelled; an abort surfacing from the engine means the same
		// thing. Everything else is a failure.
		var wfErr *workflow.WorkflowError
		if rs.Status == state.StatusCancelled || (errors.As(err, &wfErr) && wfErr.Aborted()) {
			rs.Status = state.StatusCancelled
		} else {
			rs.Status = state.StatusFailure
		}
	}); uerr != nil {
		r.logger.Error("failed to write terminal state", "run_id", runID, "error", uerr)
	}

	r.persist(runID)
}

// persist writes the run's current state to the artifact store. Store
// failures are logged and suppressed; they never affect the run.
func (r *Runner) persist(runID string) {
	if r.artifacts == nil {
		return
	}

	run, err := r.state.Get(runID)
	if err != nil {
		r.logger.Error("failed to load run for persistence", "run_id", runID, "error", err)
		return
	}

	t := run.Trace()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := r.artifacts.Save(ctx, gitstore.StorableRun{
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		Input:      run.Input,
		Output:     run.Output,
		DurationMS: t.DurationMS,
		StartedAt:  run.StartedAt,
		Trace:      t,
	}); err != nil {
		r.logger.Warn("artifact store write failed", "run_id", runID, "error", err)
	}
}

// Cancel cancels a running run.
func (r *Runner) Cancel(id string) error {
	run, err := r.state.Get(id)
	if err != nil {
		return &NotFoundError{Resource: "run", ID: id}
	}
	if run.Status.Terminal() {
		return &ConflictError{Message: "run " + run.RunID + " already " + string(run.Status)}
	}
	if err := r.state.Cancel(run.RunID); err != nil {
		return &ConflictError{Message: err.Error()}
	}
	return nil
}

// ResolveCheckpoint validates the value against the pending
// checkpoint's schema and resolves it.
func (r *Runner) ResolveCheckpoint(runID, checkpointID string, value any) error {
	pending, err := r.state.FindCheckpoint(runID, checkpointID)
	if err != nil {
		return &NotFoundError{Resource: "checkpoint", ID: checkpointID}
	}

	if issues := pending.Schema.Validate(value); len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	normalized, err := schema.Normalize(value)
	if err != nil {
		return &ValidationError{Issues: []schema.Issue{{Message: err.Error()}}}
	}

	pending.Resolve(normalized)
	return nil
}

// Get returns a run by id or unambiguous prefix.
func (r *Runner) Get(id string) (*state.RunState, error) {
	run, err := r.state.Get(id)
	if err != nil {
		return nil, &NotFoundError{Resource: "run", ID: id}
	}
	return run, nil
}

// List returns all runs in submission order.
func (r *Runner) List() []*state.RunState {
	return r.state.List()
}

// Subscribe streams a run's future trace events.
func (r *Runner) Subscribe(runID string) (<-chan trace.Event, func()) {
	return r.state.Subscribe(runID)
}

// History lists persisted runs from the artifact store.
func (r *Runner) History(ctx context.Context, workflowID string, limit int) ([]gitstore.RunMeta, error) {
	if r.artifacts == nil {
		return nil, nil
	}
	return r.artifacts.List(ctx, gitstore.ListOptions{WorkflowID: workflowID, Limit: limit})
}

// Drain stops accepting new runs and waits for in-flight runs to
// settle, or until ctx expires.
func (r *Runner) Drain(ctx context.Context) error {
	r.draining.Store(true)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// IsDraining reports whether a graceful shutdown is in progress.
func (r *Runner) IsDraining() bool {
	return r.draining.Load()
}
