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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":4400", cfg.Server.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Empty(t, cfg.Agent.URL)
	assert.Empty(t, cfg.Artifacts.RepoDir)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9000"
  shutdown_timeout: 5s
agent:
  url: http://agent.internal:4096
  stale_timeout: 2m
artifacts:
  repo_dir: /var/lib/runbook
working_dir: /srv/work
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "http://agent.internal:4096", cfg.Agent.URL)
	assert.Equal(t, 2*time.Minute, cfg.Agent.StaleTimeout)
	assert.Equal(t, "/var/lib/runbook", cfg.Artifacts.RepoDir)
	assert.Equal(t, "/srv/work", cfg.WorkingDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_addr: \":9000\"\n"), 0o644))

	t.Setenv("RUNBOOK_LISTEN", ":7777")
	t.Setenv("RUNBOOK_AGENT_URL", "http://localhost:4096")
	t.Setenv("RUNBOOK_REPO", "/tmp/repo")
	t.Setenv("RUNBOOK_WORKDIR", "/tmp/work")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.ListenAddr)
	assert.Equal(t, "http://localhost:4096", cfg.Agent.URL)
	assert.Equal(t, "/tmp/repo", cfg.Artifacts.RepoDir)
	assert.Equal(t, "/tmp/work", cfg.WorkingDir)
}

func TestServerURL(t *testing.T) {
	t.Setenv("RUNBOOK_URL", "")
	assert.Equal(t, DefaultServerURL, ServerURL())

	t.Setenv("RUNBOOK_URL", "http://runbook.internal:4400")
	assert.Equal(t, "http://runbook.internal:4400", ServerURL())
}
