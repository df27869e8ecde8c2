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

// Package config loads server configuration from an optional YAML file
// with environment-variable overrides. Precedence: defaults < file <
// environment < flags (flags are applied by the caller).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultListenAddr is where the server listens when nothing overrides it.
const DefaultListenAddr = ":4400"

// DefaultServerURL is the control-plane URL clients use by default.
const DefaultServerURL = "http://localhost:4400"

// Config is the server configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Agent configures the remote agent binding.
	Agent AgentConfig `yaml:"agent"`

	// Artifacts configures the git artifact store.
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// WorkingDir is the working directory for shell and agent steps.
	// Environment: RUNBOOK_WORKDIR. Default: the process working directory.
	WorkingDir string `yaml:"working_dir,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddr is the bind address. Environment: RUNBOOK_LISTEN.
	ListenAddr string `yaml:"listen_addr,omitempty"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// AgentConfig configures the agent executor binding.
type AgentConfig struct {
	// URL is the agent service base URL. Environment: RUNBOOK_AGENT_URL.
	// Empty disables agent steps.
	URL string `yaml:"url,omitempty"`

	// StaleTimeout overrides the stall monitor's idle budget.
	StaleTimeout time.Duration `yaml:"stale_timeout,omitempty"`
}

// ArtifactsConfig configures run persistence.
type ArtifactsConfig struct {
	// RepoDir is the git repository holding the run refs. Environment:
	// RUNBOOK_REPO. Empty disables persistence.
	RepoDir string `yaml:"repo_dir,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// Load reads the config file (when path is non-empty), then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("RUNBOOK_LISTEN"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("RUNBOOK_AGENT_URL"); v != "" {
		c.Agent.URL = v
	}
	if v := os.Getenv("RUNBOOK_REPO"); v != "" {
		c.Artifacts.RepoDir = v
	}
	if v := os.Getenv("RUNBOOK_WORKDIR"); v != "" {
		c.WorkingDir = v
	}
}

// ServerURL returns the control-plane URL for clients, honoring
// RUNBOOK_URL.
func ServerURL() string {
	if v := os.Getenv("RUNBOOK_URL"); v != "" {
		return v
	}
	return DefaultServerURL
}
