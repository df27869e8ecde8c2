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

// Package daemon assembles the server: providers, engine, state store,
// router, and HTTP API, with provider health checking at startup and
// graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/tombee/runbook/internal/config"
	"github.com/tombee/runbook/internal/daemon/api"
	"github.com/tombee/runbook/internal/daemon/registry"
	"github.com/tombee/runbook/internal/daemon/runner"
	"github.com/tombee/runbook/internal/daemon/state"
	"github.com/tombee/runbook/internal/gitstore"
	"github.com/tombee/runbook/internal/telemetry"
	"github.com/tombee/runbook/pkg/agent"
	"github.com/tombee/runbook/pkg/agent/opencode"
	"github.com/tombee/runbook/pkg/engine"
	"github.com/tombee/runbook/pkg/shell"
	"github.com/tombee/runbook/pkg/workflow"
)

// Health-check retry schedule: base delay, tripled per attempt.
const (
	healthRetryBase     = 500 * time.Millisecond
	healthRetryAttempts = 3
)

// Options assembles a Daemon.
type Options struct {
	Config    *config.Config
	Workflows []*workflow.Workflow
	Logger    *slog.Logger

	// Agent overrides the executor built from Config.Agent; used by
	// tests to inject the scripted executor.
	Agent agent.Executor
}

// Daemon is the assembled server.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	agent    agent.Executor
	runner   *runner.Runner
	handler  http.Handler
}

// New wires the daemon together.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workingDir := cfg.WorkingDir
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		workingDir = wd
	}

	agentExec := opts.Agent
	if agentExec == nil && cfg.Agent.URL != "" {
		agentExec = opencode.New(opencode.Config{
			URL:          cfg.Agent.URL,
			StaleTimeout: cfg.Agent.StaleTimeout,
			Logger:       logger,
		})
	}

	var artifacts *gitstore.Store
	if cfg.Artifacts.RepoDir != "" {
		artifacts = gitstore.New(cfg.Artifacts.RepoDir)
	}

	metrics := telemetry.New()

	eng := &engine.Engine{
		Shell:      shell.NewExecRunner(),
		Agent:      agentExec,
		WorkingDir: workingDir,
		Logger:     logger,
		Metrics:    metrics,
	}

	reg := registry.New()
	for _, wf := range opts.Workflows {
		if err := reg.Register(wf); err != nil {
			return nil, err
		}
	}

	run := runner.New(runner.Config{
		State:     state.NewStore(),
		Registry:  reg,
		Engine:    eng,
		Artifacts: artifacts,
		Logger:    logger,
	})

	server := api.New(api.Config{
		Runner:   run,
		Registry: reg,
		Metrics:  metrics.Handler(),
		Logger:   logger,
	})

	return &Daemon{
		cfg:     cfg,
		logger:  logger,
		agent:   agentExec,
		runner:  run,
		handler: server.Handler(),
	}, nil
}

// Runner exposes the router, mainly for tests.
func (d *Daemon) Runner() *runner.Runner {
	return d.runner
}

// Handler exposes the HTTP handler, mainly for tests.
func (d *Daemon) Handler() http.Handler {
	return d.handler
}

// Run serves the control plane until ctx is cancelled, then drains
// in-flight runs and shuts the listener down.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.checkAgentHealth(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    d.cfg.Server.ListenAddr,
		Handler: d.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("listening", "addr", d.cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	d.logger.Info("shutting down", "timeout", d.cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := d.runner.Drain(shutdownCtx); err != nil {
		d.logger.Warn("shutdown deadline reached with runs in flight", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

// checkAgentHealth probes the agent service, retrying with exponential
// backoff. An unreachable agent service is fatal at startup; a daemon
// without a configured agent skips the probe.
func (d *Daemon) checkAgentHealth(ctx context.Context) error {
	checker, ok := d.agent.(agent.HealthChecker)
	if !ok {
		return nil
	}

	delay := healthRetryBase
	var lastErr error
	for attempt := 1; attempt <= healthRetryAttempts; attempt++ {
		lastErr = checker.HealthCheck(ctx)
		if lastErr == nil {
			d.logger.Info("agent service healthy")
			return nil
		}

		d.logger.Warn("agent health check failed",
			"attempt", attempt,
			"attempts", healthRetryAttempts,
			"error", lastErr,
		)
		if attempt == healthRetryAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 3
	}

	return fmt.Errorf("agent service unhealthy after %d attempts: %w", healthRetryAttempts, lastErr)
}
