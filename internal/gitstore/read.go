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

package gitstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	rberrors "github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/trace"
)

// refs lists the run ids that have a stored tree.
func (s *Store) refs(ctx context.Context) ([]string, error) {
	out, err := s.git(ctx, nil, "for-each-ref", "--format=%(refname)", RefNamespace)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	var ids []string
	for _, line := range strings.Split(out, "\n") {
		ids = append(ids, strings.TrimPrefix(line, RefNamespace))
	}
	return ids, nil
}

// resolve maps a run id or unambiguous prefix to a full stored run id.
func (s *Store) resolve(ctx context.Context, id string) (string, error) {
	ids, err := s.refs(ctx)
	if err != nil {
		return "", err
	}

	var match string
	for _, candidate := range ids {
		if candidate == id {
			return id, nil
		}
		if strings.HasPrefix(candidate, id) {
			if match != "" {
				return "", &rberrors.GitStoreError{
					Op:    "resolve",
					Cause: fmt.Sprintf("run id prefix %q is ambiguous", id),
				}
			}
			match = candidate
		}
	}
	if match == "" {
		return "", &rberrors.GitStoreError{
			Op:    "resolve",
			Cause: fmt.Sprintf("no stored run matches %q", id),
		}
	}
	return match, nil
}

// readJSON reads and unmarshals one blob from a run tree.
func (s *Store) readJSON(ctx context.Context, runID, path string, out any) error {
	raw, err := s.git(ctx, nil, "cat-file", "blob", RefNamespace+runID+":"+path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &rberrors.GitStoreError{Op: "parse " + path, Cause: err.Error(), Err: err}
	}
	return nil
}

// List returns metadata for stored runs, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]RunMeta, error) {
	ids, err := s.refs(ctx)
	if err != nil {
		return nil, err
	}

	var runs []RunMeta
	for _, id := range ids {
		var meta metadata
		if err := s.readJSON(ctx, id, "metadata.json", &meta); err != nil {
			// A damaged entry should not hide the rest of the history.
			continue
		}
		if opts.WorkflowID != "" && meta.WorkflowID != opts.WorkflowID {
			continue
		}

		startedAt, _ := time.Parse(time.RFC3339, meta.StartedAt)
		runs = append(runs, RunMeta{
			RunID:      id,
			WorkflowID: meta.WorkflowID,
			StartedAt:  startedAt,
			DurationMS: meta.DurationMS,
			CommitSHA:  meta.CommitSHA,
		})
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// GetTrace returns the stored trace of a run.
func (s *Store) GetTrace(ctx context.Context, id string) (*trace.Trace, error) {
	runID, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	var t trace.Trace
	if err := s.readJSON(ctx, runID, "trace.json", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetStepArtifacts returns the stored artifacts of one step.
func (s *Store) GetStepArtifacts(ctx context.Context, id, stepID string) (*StepArtifacts, error) {
	runID, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	listing, err := s.git(ctx, nil, "ls-tree", "--name-only", RefNamespace+runID+":steps/"+stepID)
	if err != nil {
		return nil, err
	}

	var art StepArtifacts
	for _, name := range strings.Split(listing, "\n") {
		path := "steps/" + stepID + "/" + name
		switch name {
		case "input.json":
			err = s.readJSON(ctx, runID, path, &art.Input)
		case "output.json":
			err = s.readJSON(ctx, runID, path, &art.Output)
		case "response.json":
			err = s.readJSON(ctx, runID, path, &art.Response)
		case "iterations.json":
			err = s.readJSON(ctx, runID, path, &art.Iterations)
		case "prompt.txt":
			var raw string
			raw, err = s.git(ctx, nil, "cat-file", "blob", RefNamespace+runID+":"+path)
			art.Prompt = raw
		}
		if err != nil {
			return nil, err
		}
	}
	return &art, nil
}

// LinkToCommit rewrites the run's metadata.json with the commit sha,
// preserving the rest of the tree (the steps subtree in particular).
func (s *Store) LinkToCommit(ctx context.Context, id, commitSHA string) error {
	runID, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}

	var meta metadata
	if err := s.readJSON(ctx, runID, "metadata.json", &meta); err != nil {
		return err
	}
	meta.CommitSHA = commitSHA

	metaSHA, err := s.hashJSON(ctx, meta)
	if err != nil {
		return err
	}

	listing, err := s.git(ctx, nil, "ls-tree", RefNamespace+runID)
	if err != nil {
		return err
	}

	var entries []treeEntry
	for _, line := range strings.Split(listing, "\n") {
		// Format: <mode> <type> <sha>\t<name>
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		e := treeEntry{mode: fields[0], typ: fields[1], sha: fields[2], name: fields[3]}
		if e.name == "metadata.json" {
			e.sha = metaSHA
		}
		entries = append(entries, e)
	}

	rootSHA, err := s.mktree(ctx, entries)
	if err != nil {
		return err
	}
	_, err = s.git(ctx, nil, "update-ref", RefNamespace+runID, rootSHA)
	return err
}

// syncRefspec syncs the whole run namespace in either direction.
const syncRefspec = "refs/runbook/runs/*:refs/runbook/runs/*"

// Push uploads all stored runs to the remote (default "origin").
func (s *Store) Push(ctx context.Context, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	_, err := s.git(ctx, nil, "push", remote, syncRefspec)
	return err
}

// Pull downloads stored runs from the remote (default "origin").
func (s *Store) Pull(ctx context.Context, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	_, err := s.git(ctx, nil, "fetch", remote, syncRefspec)
	return err
}
