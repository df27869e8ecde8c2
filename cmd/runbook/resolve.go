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

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCommand() *cobra.Command {
	var valueJSON string

	cmd := &cobra.Command{
		Use:   "resolve <run-id> <checkpoint-id>",
		Short: "Answer a pending checkpoint",
		Long: `Supply the value a suspended run is waiting on. The value must be JSON
matching the checkpoint's schema. Both ids accept unambiguous prefixes.

Find pending checkpoints with 'runbook status <run-id>'.`,
		Example: `  # Example 1: Approve a gate
  runbook resolve 4f2a 9c1d --value '{"approved": true}'

  # Example 2: Reject it
  runbook resolve 4f2a 9c1d --value '{"approved": false}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
				return fmt.Errorf("parse --value JSON: %w", err)
			}
			if err := newClient().ResolveCheckpoint(cmd.Context(), args[0], args[1], value); err != nil {
				return err
			}
			fmt.Println("resolved")
			return nil
		},
	}

	cmd.Flags().StringVar(&valueJSON, "value", "", "Checkpoint value as inline JSON")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func newResumeCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "resume <workflow-id> <run-id>",
		Short: "Resume a suspended run as a new run",
		Long: `Start a new run that replays the completed steps of a prior run from
its last trace snapshot, then continues from the checkpoint that
suspended it. The prior run must belong to the named workflow and have
reached a checkpoint.`,
		Example: `  # Example 1: Resume a run that stopped at a checkpoint
  runbook resume triage 4f2a

  # Example 2: Resume and stream the new run
  runbook resume triage 4f2a --watch`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, resumedFrom, err := newClient().Resume(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if jsonOutput && !watch {
				return printJSON(map[string]any{"run_id": runID, "resumed_from": resumedFrom})
			}
			fmt.Printf("run %s (resumed from %s)\n", runID, shortID(resumedFrom))
			if watch {
				return watchRun(cmd.Context(), runID)
			}
			return nil
		},
	}

	addWatchFlag(cmd.Flags(), &watch)

	return cmd
}
