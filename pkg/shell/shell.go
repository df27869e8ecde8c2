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

// Package shell abstracts subprocess execution for shell steps. The
// provider captures both output streams fully and reports the exit
// code; deciding whether a non-zero exit is a failure belongs to the
// step's parse function, not the provider.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	rberrors "github.com/tombee/runbook/pkg/errors"
)

// Result is the captured outcome of a subprocess.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Options tunes a single invocation.
type Options struct {
	// Dir is the working directory; empty means the process default.
	Dir string

	// Env adds variables on top of the inherited environment.
	Env map[string]string

	// Timeout bounds the subprocess; zero means no timeout. The context
	// passed to Exec cancels the subprocess either way.
	Timeout time.Duration
}

// Runner executes shell commands.
type Runner interface {
	// Exec runs command through the shell and returns its captured
	// output. A non-zero exit code is returned in the Result, not as an
	// error; errors are reserved for spawn failures, timeouts, and
	// cancellation.
	Exec(ctx context.Context, command string, opts Options) (*Result, error)
}

// ExecRunner runs commands via `sh -c`, killing the child when the
// context is cancelled or the timeout elapses.
type ExecRunner struct{}

// NewExecRunner creates the concrete subprocess runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Exec implements Runner.
func (r *ExecRunner) Exec(ctx context.Context, command string, opts Options) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// Timeout and cancellation both surface through the context; report
	// them ahead of the generic exit error so callers can distinguish
	// an aborted run from a failing command.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &rberrors.ShellError{
			Command: command,
			Cause:   ctxErr.Error(),
			Err:     ctxErr,
		}
	}

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// Spawn failure: the command never ran.
		return nil, &rberrors.ShellError{
			Command: command,
			Cause:   err.Error(),
			Err:     err,
		}
	}

	return result, nil
}
