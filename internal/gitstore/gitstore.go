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

// Package gitstore persists run artifacts in the git object database.
// Each run becomes an immutable tree reachable through a ref under
// refs/runbook/runs/; the trees never enter commit history, so runs are
// inspectable with plain git plumbing and sync with a refspec, without
// polluting the repository's log.
package gitstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	rberrors "github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/trace"
)

// RefNamespace is the prefix under which run refs live.
const RefNamespace = "refs/runbook/runs/"

// StorableRun is the unit of persistence.
type StorableRun struct {
	RunID      string
	WorkflowID string
	Input      any
	Output     any
	DurationMS int64
	StartedAt  time.Time
	Trace      *trace.Trace

	// Steps optionally overlays explicit per-step artifacts on top of
	// the entries synthesized from the trace.
	Steps map[string]StepArtifacts
}

// StepArtifacts is the per-step slice of a stored run.
type StepArtifacts struct {
	Input      any    `json:"input,omitempty"`
	Output     any    `json:"output,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Response   any    `json:"response,omitempty"`
	Iterations any    `json:"iterations,omitempty"`
}

// RunMeta is the parsed metadata of a stored run.
type RunMeta struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	CommitSHA  string    `json:"commit_sha,omitempty"`
}

// metadata is the on-disk shape of metadata.json.
type metadata struct {
	WorkflowID string `json:"workflow_id"`
	Input      any    `json:"input"`
	Output     any    `json:"output,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	StartedAt  string `json:"started_at"`
	CommitSHA  string `json:"commit_sha,omitempty"`
}

// ListOptions filters List.
type ListOptions struct {
	WorkflowID string
	Limit      int
}

// Store reads and writes run trees through the git CLI.
type Store struct {
	repoDir string
}

// New creates a store rooted at the given repository directory.
func New(repoDir string) *Store {
	return &Store{repoDir: repoDir}
}

// git runs one git command in the repository, feeding stdin when
// non-nil, and returns trimmed stdout.
func (s *Store) git(ctx context.Context, stdin []byte, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.repoDir
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &rberrors.GitStoreError{
			Op:    "git " + args[0],
			Cause: strings.TrimSpace(stderr.String()),
			Err:   err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// hashObject writes content into the object database and returns its sha.
func (s *Store) hashObject(ctx context.Context, content []byte) (string, error) {
	return s.git(ctx, content, "hash-object", "-w", "--stdin")
}

// hashJSON marshals v and writes it as a blob.
func (s *Store) hashJSON(ctx context.Context, v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", &rberrors.GitStoreError{Op: "marshal", Cause: err.Error(), Err: err}
	}
	return s.hashObject(ctx, raw)
}

// treeEntry is one line of mktree input.
type treeEntry struct {
	mode string
	typ  string
	sha  string
	name string
}

// mktree builds a tree object from entries and returns its sha.
func (s *Store) mktree(ctx context.Context, entries []treeEntry) (string, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	var in bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&in, "%s %s %s\t%s\n", e.mode, e.typ, e.sha, e.name)
	}
	return s.git(ctx, in.Bytes(), "mktree")
}

// Save persists the run tree and points its ref at it. The ref is
// updated, not committed; existing trees for the same run id are
// replaced wholesale.
func (s *Store) Save(ctx context.Context, run StorableRun) error {
	traceSHA, err := s.hashJSON(ctx, run.Trace)
	if err != nil {
		return err
	}

	metaSHA, err := s.hashJSON(ctx, metadata{
		WorkflowID: run.WorkflowID,
		Input:      run.Input,
		Output:     run.Output,
		DurationMS: run.DurationMS,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	root := []treeEntry{
		{mode: "100644", typ: "blob", sha: traceSHA, name: "trace.json"},
		{mode: "100644", typ: "blob", sha: metaSHA, name: "metadata.json"},
	}

	steps := synthesizeSteps(run)
	if len(steps) > 0 {
		stepsSHA, err := s.buildStepsTree(ctx, steps)
		if err != nil {
			return err
		}
		root = append(root, treeEntry{mode: "040000", typ: "tree", sha: stepsSHA, name: "steps"})
	}

	rootSHA, err := s.mktree(ctx, root)
	if err != nil {
		return err
	}

	_, err = s.git(ctx, nil, "update-ref", RefNamespace+run.RunID, rootSHA)
	return err
}

// buildStepsTree writes one subtree per step and returns the steps tree sha.
func (s *Store) buildStepsTree(ctx context.Context, steps map[string]StepArtifacts) (string, error) {
	var entries []treeEntry
	for stepID, art := range steps {
		var files []treeEntry

		add := func(name string, content []byte) error {
			sha, err := s.hashObject(ctx, content)
			if err != nil {
				return err
			}
			files = append(files, treeEntry{mode: "100644", typ: "blob", sha: sha, name: name})
			return nil
		}
		addJSON := func(name string, v any) error {
			raw, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return &rberrors.GitStoreError{Op: "marshal", Cause: err.Error(), Err: err}
			}
			return add(name, raw)
		}

		if art.Input != nil {
			if err := addJSON("input.json", art.Input); err != nil {
				return "", err
			}
		}
		if art.Output != nil {
			if err := addJSON("output.json", art.Output); err != nil {
				return "", err
			}
		}
		if art.Prompt != "" {
			if err := add("prompt.txt", []byte(art.Prompt)); err != nil {
				return "", err
			}
		}
		if art.Response != nil {
			if err := addJSON("response.json", art.Response); err != nil {
				return "", err
			}
		}
		if art.Iterations != nil {
			if err := addJSON("iterations.json", art.Iterations); err != nil {
				return "", err
			}
		}
		if len(files) == 0 {
			continue
		}

		stepSHA, err := s.mktree(ctx, files)
		if err != nil {
			return "", err
		}
		entries = append(entries, treeEntry{mode: "040000", typ: "tree", sha: stepSHA, name: stepID})
	}
	return s.mktree(ctx, entries)
}

// synthesizeSteps derives per-step artifacts from the trace (input from
// step_start, output from step_complete) and overlays any explicit
// artifacts the caller supplied.
func synthesizeSteps(run StorableRun) map[string]StepArtifacts {
	steps := make(map[string]StepArtifacts)

	if run.Trace != nil {
		for _, ev := range run.Trace.Events {
			if ev.StepID == "" {
				continue
			}
			art := steps[ev.StepID]
			switch ev.Type {
			case trace.EventStepStart:
				art.Input = ev.Data["input"]
			case trace.EventStepComplete:
				art.Output = ev.Data["output"]
			case trace.EventAgentPromptSent:
				if p, ok := ev.Data["prompt"].(string); ok {
					art.Prompt = p
				}
			case trace.EventAgentResponse:
				art.Response = ev.Data["response"]
			default:
				continue
			}
			steps[ev.StepID] = art
		}
	}

	for stepID, explicit := range run.Steps {
		art := steps[stepID]
		if explicit.Input != nil {
			art.Input = explicit.Input
		}
		if explicit.Output != nil {
			art.Output = explicit.Output
		}
		if explicit.Prompt != "" {
			art.Prompt = explicit.Prompt
		}
		if explicit.Response != nil {
			art.Response = explicit.Response
		}
		if explicit.Iterations != nil {
			art.Iterations = explicit.Iterations
		}
		steps[stepID] = art
	}

	return steps
}
