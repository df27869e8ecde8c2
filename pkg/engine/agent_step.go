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

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/runbook/pkg/agent"
	"github.com/tombee/runbook/pkg/schema"
	"github.com/tombee/runbook/pkg/trace"
	"github.com/tombee/runbook/pkg/workflow"
)

// runAgent executes an agent step: compose the system prompt, create a
// session, stream events into the trace, race the prompt against the
// step timeout, and interpret the response per the step's mode.
func (r *run) runAgent(ctx context.Context, step *workflow.Step, k workflow.AgentStep, input any) (any, *workflow.StepError) {
	if r.engine.Agent == nil {
		return nil, workflow.NewExecutionError(fmt.Errorf("no agent executor configured"))
	}

	systemPrompt, err := r.composeSystemPrompt(step, k)
	if err != nil {
		return nil, workflow.NewExecutionError(err)
	}

	title := fmt.Sprintf("runbook:%s:%s", r.wf.ID, step.ID)
	session, err := r.engine.Agent.CreateSession(ctx, agent.SessionOpts{
		Title:        title,
		SystemPrompt: systemPrompt,
		WorkingDir:   r.engine.WorkingDir,
		Permissions:  k.Opts.Permissions,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, workflow.NewAbortedError()
		}
		return nil, workflow.NewAgentError(err)
	}
	r.col.Emit(trace.AgentSessionCreated(step.ID, session.ID, title))

	if sub, ok := r.engine.Agent.(agent.Subscriber); ok {
		cancelSub, subErr := sub.Subscribe(ctx, session.ID, func(ev agent.Event) {
			switch ev.Type {
			case agent.EventTextChunk:
				r.col.Emit(trace.AgentText(step.ID, ev.Text))
			case agent.EventToolCall:
				r.col.Emit(trace.AgentToolCall(step.ID, ev.Tool, ev.Args))
			case agent.EventToolResult:
				r.col.Emit(trace.AgentToolResult(step.ID, ev.Tool, ev.Result))
			}
		})
		if subErr != nil {
			r.logger.Debug("agent event subscription unavailable", "session_id", session.ID, "error", subErr)
		} else {
			defer cancelSub()
		}
	}

	prompt := k.Prompt(input)
	r.col.Emit(trace.AgentPromptSent(step.ID, prompt))

	timeout := k.Opts.Timeout
	if timeout <= 0 {
		timeout = DefaultAgentTimeout
	}
	promptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.engine.Agent.Prompt(promptCtx, session.ID, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, workflow.NewAbortedError()
		}
		if promptCtx.Err() == context.DeadlineExceeded {
			// The prompt is abandoned; destroy the session so it stops
			// consuming the agent service.
			r.destroySession(session.ID)
			return nil, workflow.NewTimeoutError(timeout.Milliseconds())
		}
		return nil, workflow.NewAgentError(err)
	}

	r.col.Emit(trace.AgentResponse(step.ID, resp))
	defer r.destroySession(session.ID)

	switch k.Mode {
	case workflow.ModeBuild:
		return buildOutput(resp), nil
	default:
		return analyzeOutput(step, resp)
	}
}

// composeSystemPrompt concatenates the system prompt file, the inline
// system prompt, and (analyze mode only) the output schema instruction
// block, skipping empty sections.
func (r *run) composeSystemPrompt(step *workflow.Step, k workflow.AgentStep) (string, error) {
	var sections []string

	if k.Opts.SystemPromptFile != "" {
		path := k.Opts.SystemPromptFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.engine.WorkingDir, path)
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read system prompt file %s: %w", path, err)
		}
		sections = append(sections, strings.TrimSpace(string(contents)))
	}

	if k.Opts.SystemPrompt != "" {
		sections = append(sections, k.Opts.SystemPrompt)
	}

	if k.Mode != workflow.ModeBuild {
		sections = append(sections, step.OutputSchema.InstructionBlock())
	}

	return strings.Join(sections, "\n\n"), nil
}

// destroySession destroys an agent session fire-and-forget.
func (r *run) destroySession(sessionID string) {
	destroyer, ok := r.engine.Agent.(agent.SessionDestroyer)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := destroyer.DestroySession(ctx, sessionID); err != nil {
			r.logger.Debug("failed to destroy agent session", "session_id", sessionID, "error", err)
		}
	}()
}

// analyzeOutput extracts the JSON value from the response text and
// validates it against the step's output schema.
func analyzeOutput(step *workflow.Step, resp *agent.Response) (any, *workflow.StepError) {
	value, err := schema.ExtractJSON(resp.Text)
	if err != nil {
		return nil, workflow.NewAgentParseError(resp.Text, nil)
	}
	if issues := step.OutputSchema.Validate(value); len(issues) > 0 {
		return nil, workflow.NewAgentParseError(resp.Text, issues)
	}
	return value, nil
}

// buildOutput derives the step output of a build-mode agent step from
// the response metadata, defaulting success to true when the executor
// did not report it.
func buildOutput(resp *agent.Response) map[string]any {
	out := make(map[string]any, len(resp.Metadata)+1)
	for k, v := range resp.Metadata {
		out[k] = v
	}
	if _, ok := out["success"]; !ok {
		out["success"] = true
	}
	return out
}
