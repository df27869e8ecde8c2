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

// Package registry indexes the workflows a server can run, keyed by
// workflow id.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tombee/runbook/pkg/workflow"
)

// Registry is a concurrency-safe workflow index.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{workflows: make(map[string]*workflow.Workflow)}
}

// Register adds a workflow. Registering a duplicate id is an error.
func (r *Registry) Register(wf *workflow.Workflow) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow has no id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[wf.ID]; ok {
		return fmt.Errorf("workflow %q already registered", wf.ID)
	}
	r.workflows[wf.ID] = wf
	return nil
}

// Get returns the workflow with the given id.
func (r *Registry) Get(id string) (*workflow.Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[id]
	return wf, ok
}

// List returns all workflows sorted by id.
func (r *Registry) List() []*workflow.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*workflow.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
