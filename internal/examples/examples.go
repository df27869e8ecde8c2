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

// Package examples defines the demo workflows the server registers when
// started with --examples. They exercise every step kind and serve as
// working references for workflow authors.
package examples

import (
	"fmt"
	"strings"

	"github.com/tombee/runbook/pkg/schema"
	"github.com/tombee/runbook/pkg/workflow"
)

// Workflows returns the demo workflows.
func Workflows() []*workflow.Workflow {
	return []*workflow.Workflow{
		SystemReport(),
		Triage(),
	}
}

// SystemReport gathers host facts with shell steps fanned out in
// parallel and merges them with a function step.
func SystemReport() *workflow.Workflow {
	stringOut := schema.MustCompile(map[string]any{"type": "string"})
	anyInput := schema.MustCompile(map[string]any{"type": "object"})

	hostname := &workflow.Step{
		ID:           "hostname",
		Description:  "host name",
		InputSchema:  anyInput,
		OutputSchema: stringOut,
		Kind: workflow.ShellStep{
			Command: func(any) string { return "hostname" },
			Parse: func(stdout string, exitCode int) (any, error) {
				if exitCode != 0 {
					return nil, fmt.Errorf("hostname exited with %d", exitCode)
				}
				return strings.TrimSpace(stdout), nil
			},
		},
	}

	kernel := &workflow.Step{
		ID:           "kernel",
		Description:  "kernel identification",
		InputSchema:  anyInput,
		OutputSchema: stringOut,
		Kind: workflow.ShellStep{
			Command: func(any) string { return "uname -sr" },
			Parse: func(stdout string, exitCode int) (any, error) {
				if exitCode != 0 {
					return nil, fmt.Errorf("uname exited with %d", exitCode)
				}
				return strings.TrimSpace(stdout), nil
			},
		},
	}

	merge := &workflow.Step{
		ID:          "merge",
		Description: "combine host facts",
		InputSchema: schema.MustCompile(map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string"},
			"minItems": 2,
		}),
		OutputSchema: schema.MustCompile(schema.Object(map[string]any{
			"hostname": map[string]any{"type": "string"},
			"kernel":   map[string]any{"type": "string"},
		})),
		Kind: workflow.FnStep{
			Run: func(_ *workflow.StepContext, input any) (any, error) {
				parts := input.([]any)
				return map[string]any{
					"hostname": parts[0],
					"kernel":   parts[1],
				}, nil
			},
		},
	}

	return workflow.Define(anyInput).
		Parallel(
			workflow.Branch{Step: hostname, Mapper: workflow.PassInput},
			workflow.Branch{Step: kernel, Mapper: workflow.PassInput},
		).
		Pipe(merge, workflow.PassPrevious).
		Done("system-report", merge.OutputSchema)
}

// Triage sends free text to the agent for structured analysis, gates
// publication on a human checkpoint, and formats the outcome.
func Triage() *workflow.Workflow {
	input := schema.MustCompile(schema.Object(map[string]any{
		"text": map[string]any{"type": "string"},
	}))

	analysis := schema.MustCompile(schema.Object(map[string]any{
		"summary":  map[string]any{"type": "string"},
		"severity": map[string]any{"type": "string", "enum": []any{"low", "medium", "high"}},
	}))

	analyze := &workflow.Step{
		ID:           "analyze",
		Description:  "summarize and rate the report",
		InputSchema:  input,
		OutputSchema: analysis,
		Kind: workflow.AgentStep{
			Mode: workflow.ModeAnalyze,
			Prompt: func(in any) string {
				text, _ := in.(map[string]any)["text"].(string)
				return "Summarize the following report and rate its severity as low, medium, or high:\n\n" + text
			},
		},
	}

	approve := &workflow.Step{
		ID:          "approve",
		Description: "human sign-off on the analysis",
		InputSchema: analysis,
		OutputSchema: schema.MustCompile(schema.Object(map[string]any{
			"approved": map[string]any{"type": "boolean"},
		})),
		Kind: workflow.CheckpointStep{
			Prompt: func(in any) string {
				summary, _ := in.(map[string]any)["summary"].(string)
				return "Approve publishing this analysis? " + summary
			},
		},
	}

	finalize := &workflow.Step{
		ID:          "finalize",
		Description: "record the decision",
		InputSchema: approve.OutputSchema,
		OutputSchema: schema.MustCompile(schema.Object(map[string]any{
			"published": map[string]any{"type": "boolean"},
		})),
		Kind: workflow.FnStep{
			Run: func(_ *workflow.StepContext, in any) (any, error) {
				approved, _ := in.(map[string]any)["approved"].(bool)
				return map[string]any{"published": approved}, nil
			},
		},
	}

	return workflow.Define(input).
		Pipe(analyze, workflow.PassInput).
		Pipe(approve, workflow.PassPrevious).
		Pipe(finalize, workflow.PassPrevious).
		Done("triage", finalize.OutputSchema)
}
