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
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List runs known to the server",
		Example: `  # Example 1: List all runs, newest first
  runbook runs

  # Example 2: Run ids of everything still running
  runbook runs --json | jq -r '.[] | select(.status=="running") | .run_id'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := newClient().ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tWORKFLOW\tSTATUS\tSTARTED\tCHECKPOINTS")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					shortID(r.RunID), r.WorkflowID, r.Status,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					strings.Join(r.PendingCheckpoints, ","))
			}
			return w.Flush()
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run's status",
		Long: `Display one run: status, input, output or error, and any pending
checkpoints. Run ids may be shortened to an unambiguous prefix.

See also: runbook trace, runbook resolve`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := newClient().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(run)
			}

			fmt.Printf("Run:      %s\n", run.RunID)
			fmt.Printf("Workflow: %s\n", run.WorkflowID)
			fmt.Printf("Status:   %s\n", run.Status)
			fmt.Printf("Started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
			if run.CompletedAt != nil {
				fmt.Printf("Finished: %s\n", run.CompletedAt.Local().Format("2006-01-02 15:04:05"))
			}
			if run.ResumedFrom != "" {
				fmt.Printf("Resumed:  from %s\n", run.ResumedFrom)
			}
			if run.Error != "" {
				fmt.Printf("Error:    %s\n", run.Error)
			}
			if run.Output != nil {
				raw, _ := json.MarshalIndent(run.Output, "", "  ")
				fmt.Printf("Output:\n%s\n", string(raw))
			}
			for _, id := range run.PendingCheckpoints {
				fmt.Printf("Pending checkpoint: %s\n", id)
				fmt.Printf("  resolve with: runbook resolve %s %s --value '<json>'\n", shortID(run.RunID), shortID(id))
			}
			return nil
		},
	}
}

func newTraceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trace <run-id>",
		Short: "Show a run's trace events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := newClient().GetTrace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(tr)
			}
			for _, ev := range tr.Events {
				printEvent(ev)
			}
			if tr.Status != "" {
				fmt.Printf("%s (%dms)\n", tr.Status, tr.DurationMS)
			}
			return nil
		},
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Stream a run's trace events",
		Long: `Stream a run's events from the beginning, then follow live until the
run reaches a terminal status. Exits non-zero unless the run succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchRun(cmd.Context(), args[0])
		},
	}
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("cancelled")
			return nil
		},
	}
}

// shortID truncates ids for table output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
