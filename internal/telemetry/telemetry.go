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

// Package telemetry exposes run and step outcomes as Prometheus
// metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements engine.Metrics on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stepDuration  *prometheus.HistogramVec
}

// New creates the metrics set.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runbook_runs_started_total",
			Help: "Runs started, by workflow.",
		}, []string{"workflow"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runbook_runs_completed_total",
			Help: "Runs finished, by workflow and terminal status.",
		}, []string{"workflow", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runbook_run_duration_seconds",
			Help:    "Wall-clock run duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"workflow", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runbook_step_duration_seconds",
			Help:    "Wall-clock step duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"workflow", "step", "status"}),
	}

	m.registry.MustRegister(m.runsStarted, m.runsCompleted, m.runDuration, m.stepDuration)
	return m
}

// RunStarted implements engine.Metrics.
func (m *Metrics) RunStarted(workflowID string) {
	m.runsStarted.WithLabelValues(workflowID).Inc()
}

// RunCompleted implements engine.Metrics.
func (m *Metrics) RunCompleted(workflowID, status string, duration time.Duration) {
	m.runsCompleted.WithLabelValues(workflowID, status).Inc()
	m.runDuration.WithLabelValues(workflowID, status).Observe(duration.Seconds())
}

// StepCompleted implements engine.Metrics.
func (m *Metrics) StepCompleted(workflowID, stepID, status string, duration time.Duration) {
	m.stepDuration.WithLabelValues(workflowID, stepID, status).Observe(duration.Seconds())
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
