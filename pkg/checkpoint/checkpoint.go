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

// Package checkpoint provides human-approval gates for workflow runs.
// A checkpoint step calls Provider.Prompt and blocks until somebody
// supplies a value matching the step's output schema or rejects the
// request.
package checkpoint

import (
	"context"
	"sync"

	rberrors "github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/schema"
)

// Request is one checkpoint prompt. The engine generates CheckpointID
// before calling Prompt so the id appears in the trace as well as the
// provider's registry.
type Request struct {
	CheckpointID string
	StepID       string
	Message      string
	Schema       *schema.Schema
}

// Provider answers checkpoint prompts. Prompt blocks until a value is
// available, the checkpoint is rejected, or ctx is cancelled.
type Provider interface {
	Prompt(ctx context.Context, req Request) (any, error)
}

// Pending is one unresolved checkpoint awaiting an external decision.
// Resolve and Reject are safe to call concurrently; the first call wins
// and later calls are no-ops.
type Pending struct {
	ID      string
	StepID  string
	Message string
	Schema  *schema.Schema

	once    sync.Once
	resolve chan outcome
}

type outcome struct {
	value any
	err   error
}

// NewPending creates an unresolved checkpoint.
func NewPending(req Request) *Pending {
	return &Pending{
		ID:      req.CheckpointID,
		StepID:  req.StepID,
		Message: req.Message,
		Schema:  req.Schema,
		resolve: make(chan outcome, 1),
	}
}

// Resolve completes the checkpoint with value. The value must already
// be validated against Schema by the caller.
func (p *Pending) Resolve(value any) {
	p.once.Do(func() {
		p.resolve <- outcome{value: value}
	})
}

// Reject fails the checkpoint.
func (p *Pending) Reject(err error) {
	p.once.Do(func() {
		p.resolve <- outcome{err: err}
	})
}

// Wait blocks until the checkpoint is resolved, rejected, or ctx ends.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-p.resolve:
		if out.err != nil {
			return nil, out.err
		}
		return out.value, nil
	}
}

// Validate checks a candidate value against the stored schema and
// returns a CheckpointError listing the issues on mismatch.
func (p *Pending) Validate(value any) error {
	issues := p.Schema.Validate(value)
	if len(issues) == 0 {
		return nil
	}
	return &rberrors.CheckpointError{
		Kind:         "invalid_value",
		CheckpointID: p.ID,
		Cause:        schema.FormatIssues(issues),
	}
}
