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
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/runbook/pkg/agent"
	rberrors "github.com/tombee/runbook/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeServer is a minimal stand-in for the OpenCode server API. Tests
// populate its fields; it records question rejections and aborts.
type fakeServer struct {
	mu       sync.Mutex
	sessions []SessionInfo
	messages map[string][]Message
	perms    map[string][]Permission
	quests   map[string][]Question
	rejected []string
	aborted  []string

	srv *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		messages: map[string][]Message{},
		perms:    map[string][]Permission{},
		quests:   map[string][]Question{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		info := SessionInfo{ID: "ses-1", Title: req.Title}
		f.mu.Lock()
		f.sessions = append(f.sessions, info)
		f.mu.Unlock()
		writeJSON(w, info)
	})
	mux.HandleFunc("GET /session", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.sessions)
	})
	mux.HandleFunc("DELETE /session/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		kept := f.sessions[:0]
		for _, s := range f.sessions {
			if s.ID != id {
				kept = append(kept, s)
			}
		}
		f.sessions = kept
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /session/{id}/abort", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.aborted = append(f.aborted, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /session/{id}/message", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		msgs := f.messages[r.PathValue("id")]
		f.mu.Unlock()
		if len(msgs) == 0 {
			http.Error(w, "no canned reply", http.StatusInternalServerError)
			return
		}
		writeJSON(w, msgs[len(msgs)-1])
	})
	mux.HandleFunc("GET /session/{id}/message", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.messages[r.PathValue("id")])
	})
	mux.HandleFunc("GET /session/{id}/permissions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.perms[r.PathValue("id")])
	})
	mux.HandleFunc("GET /session/{id}/questions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.quests[r.PathValue("id")])
	})
	mux.HandleFunc("POST /session/{id}/questions/{qid}/reject", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.rejected = append(f.rejected, r.PathValue("qid"))
		delete(f.quests, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientSessionLifecycle(t *testing.T) {
	f := newFakeServer(t)
	c := NewClient(f.srv.URL)
	ctx := context.Background()

	info, err := c.CreateSession(ctx, createSessionRequest{Title: "runbook:build:compile"})
	require.NoError(t, err)
	assert.Equal(t, "ses-1", info.ID)
	assert.Equal(t, "runbook:build:compile", info.Title)

	sessions, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, c.DeleteSession(ctx, "ses-1"))
	sessions, err = c.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestClientErrorKinds(t *testing.T) {
	ctx := context.Background()

	var agentErr *rberrors.AgentError

	// Nothing listens on port 1.
	c := NewClient("http://127.0.0.1:1")
	_, err := c.ListSessions(ctx)
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "unreachable", agentErr.Kind)

	// Non-2xx surfaces the status and body.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()
	_, err = NewClient(srv.URL).GetSession(ctx, "ses-x")
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "request_failed", agentErr.Kind)
	assert.Contains(t, agentErr.Cause, "HTTP 404")
	assert.Contains(t, agentErr.Cause, "session not found")

	// A 200 with garbage in the body is a bad response.
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer garbage.Close()
	_, err = NewClient(garbage.URL).ListSessions(ctx)
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "bad_response", agentErr.Kind)
}

func TestPromptReturnsResponse(t *testing.T) {
	f := newFakeServer(t)
	f.messages["ses-1"] = []Message{{
		Info: MessageInfo{ID: "msg-9", Role: "assistant"},
		Parts: []Part{
			{ID: "p1", Type: "text", Text: "applying the fix"},
			{ID: "p2", Type: "tool", Tool: "edit", State: &ToolState{
				Status: "completed",
				Input:  map[string]any{"filePath": "main.go"},
				Output: "ok",
			}},
			{ID: "p3", Type: "text", Text: ", done"},
		},
	}}

	e := New(Config{URL: f.srv.URL, Logger: discardLogger()})
	resp, err := e.Prompt(context.Background(), "ses-1", "fix the build")
	require.NoError(t, err)

	assert.Equal(t, "applying the fix, done", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "edit", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"filePath": "main.go"}, resp.ToolCalls[0].Args)
	assert.Equal(t, []string{"main.go"}, resp.FilesChanged)
	assert.Equal(t, "msg-9", resp.Metadata["message_id"])
}

func TestPromptRequestFailed(t *testing.T) {
	f := newFakeServer(t)
	// No canned reply makes the message endpoint return 500.

	e := New(Config{URL: f.srv.URL, Logger: discardLogger()})
	_, err := e.Prompt(context.Background(), "ses-1", "hello")

	var agentErr *rberrors.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "prompt_failed", agentErr.Kind)
	assert.Equal(t, "ses-1", agentErr.SessionID)
}

func TestPromptHonorsContextCancel(t *testing.T) {
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer blocked.Close()

	e := New(Config{URL: blocked.URL, Logger: discardLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := e.Prompt(ctx, "ses-1", "hello")
	require.ErrorIs(t, err, context.Canceled)
}

func TestCreateSessionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := New(Config{URL: srv.URL, Logger: discardLogger()})
	_, err := e.CreateSession(context.Background(), agent.SessionOpts{Title: "t"})

	var agentErr *rberrors.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "session_create_failed", agentErr.Kind)
}

func TestHealthCheck(t *testing.T) {
	f := newFakeServer(t)
	e := New(Config{URL: f.srv.URL, Logger: discardLogger()})
	require.NoError(t, e.HealthCheck(context.Background()))

	down := New(Config{URL: "http://127.0.0.1:1", Logger: discardLogger()})
	assert.Error(t, down.HealthCheck(context.Background()))
}

func TestChangedFiles(t *testing.T) {
	write := Part{Type: "tool", Tool: "file_write", State: &ToolState{
		Input: map[string]any{"file_path": "a.go"},
	}}
	assert.Equal(t, []string{"a.go"}, changedFiles(write))

	read := Part{Type: "tool", Tool: "read", State: &ToolState{
		Input: map[string]any{"filePath": "a.go"},
	}}
	assert.Nil(t, changedFiles(read))

	noState := Part{Type: "tool", Tool: "edit"}
	assert.Nil(t, changedFiles(noState))
}

func TestTranslatePartDedupes(t *testing.T) {
	seen := make(map[string]struct{})

	running := Part{ID: "p1", Type: "tool", Tool: "bash", State: &ToolState{
		Status: "running",
		Input:  map[string]any{"command": "make"},
	}}
	events := translatePart(running, seen)
	require.Len(t, events, 1)
	assert.Equal(t, agent.EventToolCall, events[0].Type)
	assert.Equal(t, "bash", events[0].Tool)

	// Completion of the same part adds only the result.
	done := running
	done.State = &ToolState{Status: "completed", Input: running.State.Input, Output: "built"}
	events = translatePart(done, seen)
	require.Len(t, events, 1)
	assert.Equal(t, agent.EventToolResult, events[0].Type)
	assert.Equal(t, "built", events[0].Result)

	// A third look emits nothing.
	assert.Empty(t, translatePart(done, seen))

	text := Part{ID: "p2", Type: "text", Text: "thinking"}
	events = translatePart(text, seen)
	require.Len(t, events, 1)
	assert.Equal(t, agent.EventTextChunk, events[0].Type)
	assert.Empty(t, translatePart(text, seen))

	// Empty text never emits.
	assert.Empty(t, translatePart(Part{ID: "p3", Type: "text"}, seen))
}

func TestPollOnceCoversChildSessions(t *testing.T) {
	f := newFakeServer(t)
	f.sessions = []SessionInfo{
		{ID: "parent"},
		{ID: "child", ParentID: "parent"},
		{ID: "unrelated"},
	}
	f.messages["parent"] = []Message{{
		Info:  MessageInfo{ID: "m1", Role: "assistant"},
		Parts: []Part{{ID: "p1", Type: "text", Text: "parent says"}},
	}}
	f.messages["child"] = []Message{{
		Info:  MessageInfo{ID: "m2", Role: "assistant"},
		Parts: []Part{{ID: "p2", Type: "text", Text: "child says"}},
	}}
	f.messages["unrelated"] = []Message{{
		Info:  MessageInfo{ID: "m3", Role: "assistant"},
		Parts: []Part{{ID: "p3", Type: "text", Text: "should not appear"}},
	}}
	// User messages are skipped.
	f.messages["parent"] = append(f.messages["parent"], Message{
		Info:  MessageInfo{ID: "m4", Role: "user"},
		Parts: []Part{{ID: "p4", Type: "text", Text: "the prompt"}},
	})

	e := New(Config{URL: f.srv.URL, Logger: discardLogger()})
	seen := make(map[string]struct{})
	var texts []string
	e.pollOnce(context.Background(), "parent", seen, func(ev agent.Event) {
		texts = append(texts, ev.Text)
	})
	assert.Equal(t, []string{"parent says", "child says"}, texts)

	// A second poll finds nothing new.
	var extra []agent.Event
	e.pollOnce(context.Background(), "parent", seen, func(ev agent.Event) {
		extra = append(extra, ev)
	})
	assert.Empty(t, extra)
}

func TestMonitorDetectsStall(t *testing.T) {
	f := newFakeServer(t)
	old := time.Now().Add(-time.Minute).UnixMilli()
	f.sessions = []SessionInfo{
		{ID: "parent", Title: "runbook:build:compile", Time: SessionTime{Updated: old}},
		{ID: "child", ParentID: "parent", Title: "subtask", Time: SessionTime{Updated: old}},
	}

	m := newMonitor(NewClient(f.srv.URL), "parent", 100*time.Millisecond, discardLogger())
	m.idleSince = time.Now().Add(-time.Second)

	stall := m.sample(context.Background())
	require.NotNil(t, stall)
	assert.Contains(t, stall.Error(), "made no progress")
	assert.Contains(t, stall.Error(), `parent "runbook:build:compile"`)
	assert.Contains(t, stall.Error(), `"subtask"`)
}

func TestMonitorStallReferencesPendingPermission(t *testing.T) {
	f := newFakeServer(t)
	old := time.Now().Add(-time.Minute).UnixMilli()
	f.sessions = []SessionInfo{
		{ID: "parent", Busy: true, Time: SessionTime{Updated: old}},
		{ID: "child", ParentID: "parent", Time: SessionTime{Updated: old}},
	}
	f.perms["child"] = []Permission{{ID: "perm-1", SessionID: "child", Title: "run rm -rf"}}

	m := newMonitor(NewClient(f.srv.URL), "parent", 100*time.Millisecond, discardLogger())
	m.idleSince = time.Now().Add(-time.Second)

	// Busy does not shield the session when a permission is blocked.
	stall := m.sample(context.Background())
	require.NotNil(t, stall)
	assert.Contains(t, stall.Error(), "pending permission perm-1")
	assert.Contains(t, stall.Error(), "session child")
}

func TestMonitorBusyParentIsNotIdle(t *testing.T) {
	f := newFakeServer(t)
	f.sessions = []SessionInfo{
		{ID: "parent", Busy: true, Time: SessionTime{Updated: time.Now().Add(-time.Minute).UnixMilli()}},
	}

	m := newMonitor(NewClient(f.srv.URL), "parent", 100*time.Millisecond, discardLogger())
	m.idleSince = time.Now().Add(-time.Second)

	assert.Nil(t, m.sample(context.Background()))
}

func TestMonitorFreshUpdateResetsIdleWindow(t *testing.T) {
	f := newFakeServer(t)
	f.sessions = []SessionInfo{
		{ID: "parent", Time: SessionTime{Updated: time.Now().UnixMilli()}},
	}

	m := newMonitor(NewClient(f.srv.URL), "parent", 100*time.Millisecond, discardLogger())
	m.idleSince = time.Now().Add(-time.Second)

	assert.Nil(t, m.sample(context.Background()))
}

func TestMonitorAutoRejectsQuestions(t *testing.T) {
	f := newFakeServer(t)
	f.sessions = []SessionInfo{
		{ID: "parent", Busy: true, Time: SessionTime{Updated: time.Now().UnixMilli()}},
	}
	f.quests["parent"] = []Question{{ID: "q-1", SessionID: "parent", Text: "which branch?"}}

	m := newMonitor(NewClient(f.srv.URL), "parent", time.Minute, discardLogger())
	m.idleSince = time.Now()

	assert.Nil(t, m.sample(context.Background()))
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"q-1"}, f.rejected)
}

func TestMonitorIgnoresVanishedSession(t *testing.T) {
	f := newFakeServer(t)

	m := newMonitor(NewClient(f.srv.URL), "gone", 100*time.Millisecond, discardLogger())
	m.idleSince = time.Now().Add(-time.Second)

	assert.Nil(t, m.sample(context.Background()))
}
