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
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/runbook/internal/config"
	"github.com/tombee/runbook/internal/daemon"
	"github.com/tombee/runbook/internal/examples"
	"github.com/tombee/runbook/internal/log"
	"github.com/tombee/runbook/pkg/workflow"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to config file")
		listenAddr   = flag.String("listen", "", "Listen address (overrides config)")
		agentURL     = flag.String("agent-url", "", "Agent service URL (overrides config)")
		repoDir      = flag.String("repo", "", "Git repository for run artifacts (overrides config)")
		workDir      = flag.String("workdir", "", "Working directory for shell and agent steps")
		withExamples = flag.Bool("examples", false, "Register the built-in example workflows")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("runbookd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", log.Error(err))
		os.Exit(1)
	}

	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *agentURL != "" {
		cfg.Agent.URL = *agentURL
	}
	if *repoDir != "" {
		cfg.Artifacts.RepoDir = *repoDir
	}
	if *workDir != "" {
		cfg.WorkingDir = *workDir
	}

	var workflows []*workflow.Workflow
	if *withExamples {
		workflows = examples.Workflows()
	}

	d, err := daemon.New(daemon.Options{
		Config:    cfg,
		Workflows: workflows,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to assemble daemon", log.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		logger.Error("Daemon exited with error", log.Error(err))
		os.Exit(1)
	}
}
