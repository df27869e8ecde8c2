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
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tombee/runbook/pkg/trace"
)

func newRunCommand() *cobra.Command {
	var inputJSON string
	var inputFile string
	var watch bool

	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Submit a workflow run",
		Long: `Submit a run of a registered workflow. The input is a JSON document
matching the workflow's input schema.

See also: runbook watch, runbook status, runbook workflows`,
		Example: `  # Example 1: Run with inline JSON input
  runbook run system-report --input '{}'

  # Example 2: Run with input from a file
  runbook run triage --input-file report.json

  # Example 3: Submit and stream events until the run finishes
  runbook run triage --input '{"text":"disk full on web-3"}' --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := loadInput(inputJSON, inputFile)
			if err != nil {
				return err
			}

			c := newClient()
			runID, err := c.Submit(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}

			if !watch {
				if jsonOutput {
					return printJSON(map[string]any{"run_id": runID})
				}
				fmt.Println(runID)
				return nil
			}

			fmt.Fprintf(os.Stderr, "run %s\n", runID)
			return watchRun(cmd.Context(), runID)
		},
	}

	cmd.Flags().StringVar(&inputJSON, "input", "", "Workflow input as inline JSON")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "Read workflow input from a JSON file ('-' for stdin)")
	addWatchFlag(cmd.Flags(), &watch)

	return cmd
}

// loadInput parses the run input from --input or --input-file. No flag
// means an empty object input.
func loadInput(inline, file string) (any, error) {
	var raw []byte
	switch {
	case inline != "" && file != "":
		return nil, fmt.Errorf("--input and --input-file are mutually exclusive")
	case inline != "":
		raw = []byte(inline)
	case file == "-":
		var err error
		raw, err = os.ReadFile("/dev/stdin")
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	case file != "":
		var err error
		raw, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
	default:
		return map[string]any{}, nil
	}

	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("parse input JSON: %w", err)
	}
	return input, nil
}

// watchRun streams a run's events to stdout until the terminal status
// arrives, then exits non-zero unless the run succeeded.
func watchRun(ctx context.Context, runID string) error {
	c := newClient()
	status, err := c.WatchEvents(ctx, runID, func(ev trace.Event) {
		if jsonOutput {
			raw, err := json.Marshal(ev)
			if err != nil {
				return
			}
			fmt.Println(string(raw))
			return
		}
		printEvent(ev)
	})
	if err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Printf("%s %s\n", status, runID)
	}
	if status != "" && status != string(trace.StatusSuccess) {
		return fmt.Errorf("run finished with status %s", status)
	}
	return nil
}

// printEvent renders one trace event as a human-readable line.
func printEvent(ev trace.Event) {
	ts := ev.Timestamp.Format("15:04:05.000")
	switch {
	case ev.StepID != "" && len(ev.Data) > 0:
		raw, _ := json.Marshal(ev.Data)
		fmt.Printf("%s  %-22s %-12s %s\n", ts, ev.Type, ev.StepID, string(raw))
	case ev.StepID != "":
		fmt.Printf("%s  %-22s %s\n", ts, ev.Type, ev.StepID)
	case len(ev.Data) > 0:
		raw, _ := json.Marshal(ev.Data)
		fmt.Printf("%s  %-22s %s\n", ts, ev.Type, string(raw))
	default:
		fmt.Printf("%s  %s\n", ts, ev.Type)
	}
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
