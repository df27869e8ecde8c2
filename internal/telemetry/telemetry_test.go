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

package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/runbook/pkg/engine"
)

// Metrics must satisfy the engine's metrics contract.
var _ engine.Metrics = (*Metrics)(nil)

func TestCounters(t *testing.T) {
	m := New()

	m.RunStarted("deploy")
	m.RunStarted("deploy")
	m.RunCompleted("deploy", "success", 250*time.Millisecond)
	m.RunCompleted("deploy", "failure", time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.runsStarted.WithLabelValues("deploy")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runsCompleted.WithLabelValues("deploy", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runsCompleted.WithLabelValues("deploy", "failure")))
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.RunStarted("deploy")
	m.RunCompleted("deploy", "success", 100*time.Millisecond)
	m.StepCompleted("deploy", "build", "success", 40*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `runbook_runs_started_total{workflow="deploy"} 1`)
	assert.Contains(t, string(body), `runbook_run_duration_seconds_count{status="success",workflow="deploy"} 1`)
	assert.Contains(t, string(body), `runbook_step_duration_seconds_count{status="success",step="build",workflow="deploy"} 1`)
}

func TestDedicatedRegistry(t *testing.T) {
	// Two instances never collide, so tests and embedded servers can
	// each carry their own.
	a := New()
	b := New()
	a.RunStarted("deploy")

	assert.Equal(t, float64(0), testutil.ToFloat64(b.runsStarted.WithLabelValues("deploy")))
}
