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

// Package state holds the in-memory run state store. The store is the
// only mutation surface for run state: the router creates entries, the
// engine's trace callback appends events, and the HTTP handlers cancel
// runs and resolve checkpoints, all through the store's serialized
// operations.
package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tombee/runbook/pkg/checkpoint"
	"github.com/tombee/runbook/pkg/trace"
)

// Status is the lifecycle state of a run. Transitions are monotonic:
// pending → running → (success | failure | cancelled).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCancelled
}

// RunState is the record of one run. It is owned by the store; callers
// receive copies and mutate only through Store.Update.
type RunState struct {
	RunID       string     `json:"run_id"`
	WorkflowID  string     `json:"workflow_id"`
	Status      Status     `json:"status"`
	Input       any        `json:"input"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	Events      []trace.Event `json:"-"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ResumedFrom is set on runs created by a resume request.
	ResumedFrom string `json:"resumed_from,omitempty"`

	// PendingCheckpoints maps checkpoint id to its suspended
	// continuation. Non-empty only while the run is suspended at a
	// checkpoint step.
	PendingCheckpoints map[string]*checkpoint.Pending `json:"-"`
}

// Trace builds an immutable trace from the events recorded so far.
func (r *RunState) Trace() *trace.Trace {
	status := trace.StatusFailure
	if r.Status == StatusSuccess {
		status = trace.StatusSuccess
	}
	var durationMS int64
	if r.CompletedAt != nil {
		durationMS = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
	}
	events := make([]trace.Event, len(r.Events))
	copy(events, r.Events)
	return &trace.Trace{
		RunID:      r.RunID,
		WorkflowID: r.WorkflowID,
		Events:     events,
		Status:     status,
		DurationMS: durationMS,
	}
}

// CheckpointIDs returns the pending checkpoint ids in sorted order.
func (r *RunState) CheckpointIDs() []string {
	ids := make([]string, 0, len(r.PendingCheckpoints))
	for id := range r.PendingCheckpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// clone copies the state shallowly, duplicating the slices and maps the
// store keeps mutating.
func (r *RunState) clone() *RunState {
	c := *r
	c.Events = make([]trace.Event, len(r.Events))
	copy(c.Events, r.Events)
	c.PendingCheckpoints = make(map[string]*checkpoint.Pending, len(r.PendingCheckpoints))
	for id, p := range r.PendingCheckpoints {
		c.PendingCheckpoints[id] = p
	}
	return &c
}

// Store is the in-memory run state store. All operations are serialized
// by one mutex; writes are short.
type Store struct {
	mu      sync.Mutex
	runs    map[string]*RunState
	order   []string
	cancels map[string]context.CancelFunc

	subs    map[string]map[int]chan trace.Event
	nextSub int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		runs:    make(map[string]*RunState),
		cancels: make(map[string]context.CancelFunc),
		subs:    make(map[string]map[int]chan trace.Event),
	}
}

// Create registers a new run in pending state.
func (s *Store) Create(runID, workflowID string, input any) *RunState {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &RunState{
		RunID:              runID,
		WorkflowID:         workflowID,
		Status:             StatusPending,
		Input:              input,
		StartedAt:          time.Now().UTC(),
		PendingCheckpoints: make(map[string]*checkpoint.Pending),
	}
	s.runs[runID] = run
	s.order = append(s.order, runID)
	return run.clone()
}

// Get returns a copy of the run identified by id, which may be an
// unambiguous prefix of a run id.
func (s *Store) Get(id string) (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID, err := s.resolveLocked(id)
	if err != nil {
		return nil, err
	}
	return s.runs[runID].clone(), nil
}

// resolveLocked maps an id or unambiguous prefix to a full run id.
func (s *Store) resolveLocked(id string) (string, error) {
	if _, ok := s.runs[id]; ok {
		return id, nil
	}

	var match string
	for runID := range s.runs {
		if strings.HasPrefix(runID, id) {
			if match != "" {
				return "", fmt.Errorf("run id prefix %q is ambiguous", id)
			}
			match = runID
		}
	}
	if match == "" {
		return "", fmt.Errorf("run %q not found", id)
	}
	return match, nil
}

// Update applies a mutation to the run under the store lock. Terminal
// transitions drop the run's cancel function. A patch may not move the
// status out of a terminal state: status transitions are monotonic, and
// a cancel acknowledged to a client must never reverse.
func (s *Store) Update(id string, patch func(*RunState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID, err := s.resolveLocked(id)
	if err != nil {
		return err
	}

	run := s.runs[runID]
	prev := run.Status
	patch(run)

	if prev.Terminal() && run.Status != prev {
		run.Status = prev
		return fmt.Errorf("run %s already %s", runID, prev)
	}

	if run.Status.Terminal() {
		delete(s.cancels, runID)
	}
	return nil
}

// List returns copies of all runs in insertion order.
func (s *Store) List() []*RunState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*RunState, 0, len(s.order))
	for _, runID := range s.order {
		out = append(out, s.runs[runID].clone())
	}
	return out
}

// SetCancel records the run's cancel function. It is invoked by Cancel
// and discarded at terminal transition.
func (s *Store) SetCancel(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[runID] = cancel
}

// Cancel marks the run cancelled and fires its cancel function. Returns
// an error if the run is unknown or already terminal.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	runID, err := s.resolveLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	run := s.runs[runID]
	if run.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("run %s already %s", runID, run.Status)
	}

	run.Status = StatusCancelled
	cancel := s.cancels[runID]
	delete(s.cancels, runID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// RegisterCheckpoint adds a pending checkpoint to the run.
func (s *Store) RegisterCheckpoint(runID string, p *checkpoint.Pending) error {
	return s.Update(runID, func(run *RunState) {
		run.PendingCheckpoints[p.ID] = p
	})
}

// UnregisterCheckpoint removes a pending checkpoint from the run.
func (s *Store) UnregisterCheckpoint(runID string, p *checkpoint.Pending) error {
	return s.Update(runID, func(run *RunState) {
		delete(run.PendingCheckpoints, p.ID)
	})
}

// FindCheckpoint locates a pending checkpoint on the run by id or
// unambiguous id prefix.
func (s *Store) FindCheckpoint(runID, checkpointID string) (*checkpoint.Pending, error) {
	run, err := s.Get(runID)
	if err != nil {
		return nil, err
	}

	if p, ok := run.PendingCheckpoints[checkpointID]; ok {
		return p, nil
	}

	var match *checkpoint.Pending
	for id, p := range run.PendingCheckpoints {
		if strings.HasPrefix(id, checkpointID) {
			if match != nil {
				return nil, fmt.Errorf("checkpoint id prefix %q is ambiguous", checkpointID)
			}
			match = p
		}
	}
	if match == nil {
		return nil, fmt.Errorf("checkpoint %q not found on run %s", checkpointID, run.RunID)
	}
	return match, nil
}

// AppendEvent records a trace event on the run and fans it out to
// subscribers. Delivery is non-blocking; a slow subscriber loses
// events rather than stalling the engine.
func (s *Store) AppendEvent(runID string, ev trace.Event) error {
	s.mu.Lock()

	resolved, err := s.resolveLocked(runID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	run := s.runs[resolved]
	run.Events = append(run.Events, ev)

	var chans []chan trace.Event
	for _, ch := range s.subs[resolved] {
		chans = append(chans, ch)
	}
	s.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of the run's future trace events and an
// unsubscribe function. Events emitted before Subscribe are not
// replayed; callers read them from the stored state first.
func (s *Store) Subscribe(runID string) (<-chan trace.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++

	ch := make(chan trace.Event, 256)
	if s.subs[runID] == nil {
		s.subs[runID] = make(map[int]chan trace.Event)
	}
	s.subs[runID][id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subs[runID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.subs, runID)
			}
		}
	}
}
