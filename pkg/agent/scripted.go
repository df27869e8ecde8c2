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

package agent

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ScriptedRule maps a prompt pattern to a canned response.
type ScriptedRule struct {
	// Match is applied to the prompt text.
	Match *regexp.Regexp

	// Response is returned when Match succeeds.
	Response Response

	// Delay is slept before responding, to exercise timeout paths.
	Delay time.Duration

	// Err, when set, is returned instead of the response.
	Err error
}

// PromptRecord captures one Prompt call for assertions.
type PromptRecord struct {
	SessionID string
	Text      string
}

// Scripted is an in-memory executor for tests. Prompts are answered by
// the first matching rule; all calls are recorded.
type Scripted struct {
	mu       sync.Mutex
	rules    []ScriptedRule
	sessions map[string]SessionOpts
	prompts  []PromptRecord
	events   map[string][]Event // delivered to subscribers on prompt

	// Healthy controls HealthCheck; defaults to healthy.
	unhealthy error

	subs map[string][]func(Event)
}

// NewScripted creates a scripted executor with the given rules.
func NewScripted(rules ...ScriptedRule) *Scripted {
	return &Scripted{
		rules:    rules,
		sessions: make(map[string]SessionOpts),
		events:   make(map[string][]Event),
		subs:     make(map[string][]func(Event)),
	}
}

// Respond appends a rule matching pattern with a plain-text response.
func (s *Scripted) Respond(pattern, text string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, ScriptedRule{
		Match:    regexp.MustCompile(pattern),
		Response: Response{Text: text},
	})
	return s
}

// AddRule appends a rule.
func (s *Scripted) AddRule(rule ScriptedRule) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
	return s
}

// SetUnhealthy makes HealthCheck fail with the given error.
func (s *Scripted) SetUnhealthy(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unhealthy = err
}

// QueueEvents registers events streamed to subscribers when the next
// prompt for sessionID is answered.
func (s *Scripted) QueueEvents(sessionID string, events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], events...)
}

// CreateSession implements Executor.
func (s *Scripted) CreateSession(_ context.Context, opts SessionOpts) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sessions[id] = opts
	return &Session{ID: id, Title: opts.Title}, nil
}

// Prompt implements Executor.
func (s *Scripted) Prompt(ctx context.Context, sessionID, text string) (*Response, error) {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	s.prompts = append(s.prompts, PromptRecord{SessionID: sessionID, Text: text})

	var matched *ScriptedRule
	for i := range s.rules {
		if s.rules[i].Match.MatchString(text) {
			matched = &s.rules[i]
			break
		}
	}
	queued := s.events[sessionID]
	delete(s.events, sessionID)
	subs := append([]func(Event){}, s.subs[sessionID]...)
	s.mu.Unlock()

	if matched == nil {
		return nil, fmt.Errorf("no scripted response matches prompt %q", text)
	}

	if matched.Delay > 0 {
		select {
		case <-time.After(matched.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for _, ev := range queued {
		for _, fn := range subs {
			fn(ev)
		}
	}

	if matched.Err != nil {
		return nil, matched.Err
	}
	resp := matched.Response
	return &resp, nil
}

// DestroySession implements SessionDestroyer.
func (s *Scripted) DestroySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Subscribe implements Subscriber.
func (s *Scripted) Subscribe(_ context.Context, sessionID string, fn func(Event)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sessionID] = append(s.subs[sessionID], fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, sessionID)
	}, nil
}

// HealthCheck implements HealthChecker.
func (s *Scripted) HealthCheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unhealthy
}

// Prompts returns the recorded prompt calls.
func (s *Scripted) Prompts() []PromptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PromptRecord, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// SessionOpts returns the options a session was created with.
func (s *Scripted) SessionOpts(sessionID string) (SessionOpts, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts, ok := s.sessions[sessionID]
	return opts, ok
}

// OpenSessions returns the ids of sessions not yet destroyed.
func (s *Scripted) OpenSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
