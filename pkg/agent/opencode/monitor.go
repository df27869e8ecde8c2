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

package opencode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// monitor watches one session tree for stalls while a prompt is in
// flight. The agent service can get stuck waiting for a permission
// approval or a subagent that will never finish; the monitor is the
// only defense because the service itself never signals inactivity.
type monitor struct {
	client       *Client
	sessionID    string
	staleTimeout time.Duration
	logger       *slog.Logger

	// idleSince is the start of the current idle window.
	idleSince time.Time
}

// activitySummary records what the session tree looked like when a
// stall was declared.
type activitySummary struct {
	ParentTitle string
	Children    []childSummary
}

// childSummary identifies one child session.
type childSummary struct {
	ID    string
	Title string
}

// String implements fmt.Stringer.
func (s activitySummary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "parent %q", s.ParentTitle)
	if len(s.Children) > 0 {
		sb.WriteString(", children:")
		for _, c := range s.Children {
			fmt.Fprintf(&sb, " %s %q", c.ID, c.Title)
		}
	}
	return sb.String()
}

func newMonitor(client *Client, sessionID string, staleTimeout time.Duration, logger *slog.Logger) *monitor {
	return &monitor{
		client:       client,
		sessionID:    sessionID,
		staleTimeout: staleTimeout,
		logger:       logger,
	}
}

// run polls the session tree until ctx is cancelled or a stall is
// detected. Returns nil on cancellation, or the stall error.
func (m *monitor) run(ctx context.Context) *stallError {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	m.idleSince = time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if stall := m.sample(ctx); stall != nil {
				return stall
			}
		}
	}
}

// sample takes one observation of the session tree and updates the
// idle window. Returns a stall error when the window exceeds the stale
// timeout.
func (m *monitor) sample(ctx context.Context) *stallError {
	sessions, err := m.client.ListSessions(ctx)
	if err != nil {
		// Transient listing failures don't reset or advance the idle
		// window; the next tick retries.
		m.logger.Debug("stall monitor could not list sessions", "error", err)
		return nil
	}

	var parent *SessionInfo
	var children []SessionInfo
	for i := range sessions {
		switch {
		case sessions[i].ID == m.sessionID:
			parent = &sessions[i]
		case sessions[i].ParentID == m.sessionID:
			children = append(children, sessions[i])
		}
	}
	if parent == nil {
		// Session vanished; let the prompt surface its own error.
		return nil
	}

	tree := append([]SessionInfo{*parent}, children...)

	// The runbook is non-interactive: human input is expressed as
	// checkpoint steps, never as agent questions. Reject anything the
	// agent asked so it does not block the tree.
	m.rejectQuestions(ctx, tree)

	perms := m.pendingPermissions(ctx, tree)

	if parent.Busy && len(perms) == 0 {
		// Actively working with nothing blocked: not idle.
		m.idleSince = time.Now()
		return nil
	}

	// Otherwise the newest update anywhere in the tree marks the last
	// observed progress.
	latest := maxUpdated(tree)
	if latest.After(m.idleSince) {
		m.idleSince = latest
	}

	idle := time.Since(m.idleSince)
	if idle < m.staleTimeout {
		return nil
	}

	summary := activitySummary{ParentTitle: parent.Title}
	for _, c := range children {
		summary.Children = append(summary.Children, childSummary{ID: c.ID, Title: c.Title})
	}
	stall := &stallError{
		sessionID: m.sessionID,
		idle:      idle,
		summary:   summary,
	}
	if len(perms) > 0 {
		stall.permissionID = perms[0].ID
		stall.sessionID = perms[0].SessionID
	}

	m.logger.Warn("agent session stalled",
		"session_id", m.sessionID,
		"idle", idle.Round(time.Second).String(),
		"children", len(children),
		"pending_permissions", len(perms),
	)
	return stall
}

// rejectQuestions auto-rejects pending questions across the tree.
func (m *monitor) rejectQuestions(ctx context.Context, tree []SessionInfo) {
	for _, s := range tree {
		questions, err := m.client.ListQuestions(ctx, s.ID)
		if err != nil {
			continue
		}
		for _, q := range questions {
			if err := m.client.RejectQuestion(ctx, s.ID, q.ID); err != nil {
				m.logger.Debug("failed to reject agent question",
					"session_id", s.ID, "question_id", q.ID, "error", err)
				continue
			}
			m.logger.Info("auto-rejected agent question", "session_id", s.ID, "question_id", q.ID)
		}
	}
}

// pendingPermissions collects permission requests across the tree.
func (m *monitor) pendingPermissions(ctx context.Context, tree []SessionInfo) []Permission {
	var perms []Permission
	for _, s := range tree {
		p, err := m.client.ListPermissions(ctx, s.ID)
		if err != nil {
			continue
		}
		perms = append(perms, p...)
	}
	return perms
}

// maxUpdated returns the latest time.updated across the tree.
func maxUpdated(tree []SessionInfo) time.Time {
	var latest int64
	for _, s := range tree {
		if s.Time.Updated > latest {
			latest = s.Time.Updated
		}
	}
	return time.UnixMilli(latest)
}
