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

package workflow

import (
	"fmt"

	"github.com/tombee/runbook/pkg/schema"
	"github.com/tombee/runbook/pkg/trace"
)

// StepErrorKind classifies step-level failures.
type StepErrorKind string

const (
	StepErrValidation         StepErrorKind = "validation_error"
	StepErrExecution          StepErrorKind = "execution_error"
	StepErrShell              StepErrorKind = "shell_error"
	StepErrAgent              StepErrorKind = "agent_error"
	StepErrAgentParse         StepErrorKind = "agent_parse_error"
	StepErrTimeout            StepErrorKind = "timeout"
	StepErrAborted            StepErrorKind = "aborted"
	StepErrCheckpointRejected StepErrorKind = "checkpoint_rejected"
)

// StepError is the failure of a single step. Exactly the fields
// relevant to its kind are populated.
type StepError struct {
	Kind StepErrorKind

	// Issues holds schema validation issues (validation_error,
	// agent_parse_error).
	Issues []schema.Issue

	// Command, ExitCode and Stderr describe shell failures.
	Command  string
	ExitCode int
	Stderr   string

	// RawOutput is the unparsed agent response (agent_parse_error).
	RawOutput string

	// TimeoutMS is the exceeded budget (timeout).
	TimeoutMS int64

	// Cause is the underlying error, when one exists.
	Cause error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	switch e.Kind {
	case StepErrValidation:
		return fmt.Sprintf("validation error: %s", schema.FormatIssues(e.Issues))
	case StepErrShell:
		return fmt.Sprintf("shell error (exit %d) running %q: %s", e.ExitCode, e.Command, e.Stderr)
	case StepErrAgentParse:
		if len(e.Issues) > 0 {
			return fmt.Sprintf("agent response did not match output schema: %s", schema.FormatIssues(e.Issues))
		}
		return "agent response contained no parseable JSON"
	case StepErrTimeout:
		return fmt.Sprintf("step timed out after %dms", e.TimeoutMS)
	case StepErrAborted:
		return "step aborted"
	case StepErrCheckpointRejected:
		if e.Cause != nil {
			return fmt.Sprintf("checkpoint rejected: %v", e.Cause)
		}
		return "checkpoint rejected"
	default:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
		}
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// NewValidationError builds a validation_error step error.
func NewValidationError(issues []schema.Issue) *StepError {
	return &StepError{Kind: StepErrValidation, Issues: issues}
}

// NewExecutionError builds an execution_error step error.
func NewExecutionError(cause error) *StepError {
	return &StepError{Kind: StepErrExecution, Cause: cause}
}

// NewShellError builds a shell_error step error.
func NewShellError(command string, exitCode int, stderr string) *StepError {
	return &StepError{Kind: StepErrShell, Command: command, ExitCode: exitCode, Stderr: stderr}
}

// NewAgentError builds an agent_error step error.
func NewAgentError(cause error) *StepError {
	return &StepError{Kind: StepErrAgent, Cause: cause}
}

// NewAgentParseError builds an agent_parse_error step error.
func NewAgentParseError(rawOutput string, issues []schema.Issue) *StepError {
	return &StepError{Kind: StepErrAgentParse, RawOutput: rawOutput, Issues: issues}
}

// NewTimeoutError builds a timeout step error.
func NewTimeoutError(timeoutMS int64) *StepError {
	return &StepError{Kind: StepErrTimeout, TimeoutMS: timeoutMS}
}

// NewAbortedError builds an aborted step error.
func NewAbortedError() *StepError {
	return &StepError{Kind: StepErrAborted}
}

// NewCheckpointRejectedError builds a checkpoint_rejected step error.
func NewCheckpointRejectedError(cause error) *StepError {
	return &StepError{Kind: StepErrCheckpointRejected, Cause: cause}
}

// WorkflowErrorKind classifies run-level failures.
type WorkflowErrorKind string

const (
	WorkflowErrStepFailed      WorkflowErrorKind = "step_failed"
	WorkflowErrInvalidWorkflow WorkflowErrorKind = "invalid_workflow"
	WorkflowErrConfig          WorkflowErrorKind = "config_error"
)

// WorkflowError is the failure of a run.
type WorkflowError struct {
	Kind WorkflowErrorKind

	// StepID and Step describe the failing step (step_failed).
	StepID string
	Step   *StepError

	// Issues holds workflow-boundary validation issues (invalid_workflow).
	Issues []schema.Issue

	// Message describes configuration problems (config_error).
	Message string

	// Trace is the partial trace captured up to the failure.
	Trace *trace.Trace
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	switch e.Kind {
	case WorkflowErrStepFailed:
		return fmt.Sprintf("step %s failed: %v", e.StepID, e.Step)
	case WorkflowErrInvalidWorkflow:
		return fmt.Sprintf("workflow boundary validation failed: %s", schema.FormatIssues(e.Issues))
	case WorkflowErrConfig:
		return fmt.Sprintf("workflow config error: %s", e.Message)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the failing step error for errors.Is/As support.
func (e *WorkflowError) Unwrap() error {
	if e.Step != nil {
		return e.Step
	}
	return nil
}

// Aborted reports whether the failure is a cancellation surfacing as a
// step_failed{aborted} error.
func (e *WorkflowError) Aborted() bool {
	return e.Kind == WorkflowErrStepFailed && e.Step != nil && e.Step.Kind == StepErrAborted
}

// NewStepFailedError builds a step_failed workflow error with the
// partial trace captured so far.
func NewStepFailedError(stepID string, stepErr *StepError, partial *trace.Trace) *WorkflowError {
	return &WorkflowError{Kind: WorkflowErrStepFailed, StepID: stepID, Step: stepErr, Trace: partial}
}

// NewInvalidWorkflowError builds an invalid_workflow error.
func NewInvalidWorkflowError(issues []schema.Issue, partial *trace.Trace) *WorkflowError {
	return &WorkflowError{Kind: WorkflowErrInvalidWorkflow, Issues: issues, Trace: partial}
}

// NewConfigError builds a config_error workflow error.
func NewConfigError(message string) *WorkflowError {
	return &WorkflowError{Kind: WorkflowErrConfig, Message: message}
}
