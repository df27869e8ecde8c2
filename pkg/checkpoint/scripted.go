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

package checkpoint

import (
	"context"
	"regexp"
	"sync"

	rberrors "github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/schema"
)

// Scripted is an in-memory provider for tests: prompts matching a rule
// resolve immediately with the canned value, everything else is
// rejected.
type Scripted struct {
	mu    sync.Mutex
	rules []scriptedRule
	// prompts records every message seen, in order.
	prompts []string
}

type scriptedRule struct {
	match  *regexp.Regexp
	value  any
	reject error
}

// NewScripted creates an empty scripted provider.
func NewScripted() *Scripted {
	return &Scripted{}
}

// Approve resolves prompts matching pattern with value.
func (s *Scripted) Approve(pattern string, value any) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, scriptedRule{match: regexp.MustCompile(pattern), value: value})
	return s
}

// Deny rejects prompts matching pattern with err.
func (s *Scripted) Deny(pattern string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, scriptedRule{match: regexp.MustCompile(pattern), reject: err})
	return s
}

// Prompts returns the messages seen so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Prompt implements Provider. Canned values are validated against the
// schema before being returned, matching the server resolver's
// behavior.
func (s *Scripted) Prompt(ctx context.Context, req Request) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.prompts = append(s.prompts, req.Message)
	var rule *scriptedRule
	for i := range s.rules {
		if s.rules[i].match.MatchString(req.Message) {
			rule = &s.rules[i]
			break
		}
	}
	s.mu.Unlock()

	if rule == nil {
		return nil, &rberrors.CheckpointError{
			Kind:         "rejected",
			CheckpointID: req.CheckpointID,
			Cause:        "no scripted response for prompt",
		}
	}
	if rule.reject != nil {
		return nil, rule.reject
	}

	if issues := req.Schema.Validate(rule.value); len(issues) > 0 {
		return nil, &rberrors.CheckpointError{
			Kind:         "invalid_value",
			CheckpointID: req.CheckpointID,
			Cause:        schema.FormatIssues(issues),
		}
	}
	return schema.Normalize(rule.value)
}
