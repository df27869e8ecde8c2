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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newWorkflowsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List workflows registered on the server",
		Example: `  # Example 1: List workflows
  runbook workflows

  # Example 2: Inspect a workflow's input schema
  runbook workflows --json | jq '.[] | select(.id=="triage") | .input_schema'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			wfs, err := newClient().ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(wfs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WORKFLOW\tSTEPS")
			for _, wf := range wfs {
				fmt.Fprintf(w, "%s\t%d\n", wf.ID, wf.StepCount)
			}
			return w.Flush()
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var workflowID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs persisted in the artifact store",
		Long: `List runs saved to the server's git artifact repository, newest first.
Requires the server to be started with an artifact repository.

See also: runbook runs, runbook trace`,
		Example: `  # Example 1: Last ten stored runs
  runbook history --limit 10

  # Example 2: Stored runs of one workflow
  runbook history --workflow triage`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := newClient().History(cmd.Context(), workflowID, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(entries)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tWORKFLOW\tSTARTED\tDURATION\tCOMMIT")
			for _, e := range entries {
				commit := e.CommitSHA
				if len(commit) > 8 {
					commit = commit[:8]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n",
					shortID(e.RunID), e.WorkflowID,
					e.StartedAt.Local().Format("2006-01-02 15:04:05"),
					e.DurationMS, commit)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow", "", "Filter by workflow id")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to return (0 = all)")

	return cmd
}
