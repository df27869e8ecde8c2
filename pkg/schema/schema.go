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

// Package schema provides runtime JSON Schema validation for workflow
// step inputs and outputs. Schemas travel with each step as compiled
// documents; validation failures surface as issue lists rather than
// opaque errors so they can be attached to step errors and rendered
// into agent prompts.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Issue describes a single validation failure at a path within the
// validated value.
type Issue struct {
	// Path is a JSON-pointer-ish location, e.g. "/items/2/name".
	Path string `json:"path"`

	// Message is the human-readable description of the failure.
	Message string `json:"message"`
}

// String implements fmt.Stringer.
func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// FormatIssues renders a list of issues as a single human-readable string.
func FormatIssues(issues []Issue) string {
	parts := make([]string, len(issues))
	for i, issue := range issues {
		parts[i] = issue.String()
	}
	return strings.Join(parts, "; ")
}

// Schema is a compiled JSON Schema document. The zero value is not
// usable; construct with Compile or MustCompile.
type Schema struct {
	doc      any
	compiled *jsonschema.Schema
	rendered string
}

var printer = message.NewPrinter(language.English)

// Compile compiles a JSON Schema document (a JSON-compatible value,
// typically map[string]any) into a Schema.
func Compile(doc map[string]any) (*Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	// Round-trip through JSON so the compiler sees canonical JSON values
	// (float64 numbers, map[string]any objects).
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", parsed); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Schema{
		doc:      parsed,
		compiled: compiled,
		rendered: renderCanonical(parsed),
	}, nil
}

// MustCompile is like Compile but panics on error. Intended for schemas
// declared as package-level workflow definitions.
func MustCompile(doc map[string]any) *Schema {
	s, err := Compile(doc)
	if err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
	return s
}

// Object is shorthand for an object schema with the given property
// schemas, all of which are required.
func Object(props map[string]any) map[string]any {
	required := make([]any, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	sort.Slice(required, func(i, j int) bool {
		return required[i].(string) < required[j].(string)
	})
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Doc returns the schema document as a JSON-compatible value.
func (s *Schema) Doc() any {
	return s.doc
}

// JSON returns the canonical JSON-schema text, suitable for embedding
// in an agent system prompt.
func (s *Schema) JSON() string {
	return s.rendered
}

// Validate checks value against the schema and returns the list of
// validation issues, or nil if the value conforms. The value is
// normalized through a JSON round-trip first so native Go values
// (ints, structs) validate the same way their serialized form would.
func (s *Schema) Validate(value any) []Issue {
	normalized, err := Normalize(value)
	if err != nil {
		return []Issue{{Path: "", Message: fmt.Sprintf("value is not JSON-serializable: %v", err)}}
	}

	err = s.compiled.Validate(normalized)
	if err == nil {
		return nil
	}

	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Issue{{Path: "", Message: err.Error()}}
	}
	return flatten(ve)
}

// flatten collects the leaf causes of a validation error into issues.
func flatten(ve *jsonschema.ValidationError) []Issue {
	if len(ve.Causes) == 0 {
		return []Issue{{
			Path:    pointer(ve.InstanceLocation),
			Message: ve.ErrorKind.LocalizedString(printer),
		}}
	}
	var issues []Issue
	for _, cause := range ve.Causes {
		issues = append(issues, flatten(cause)...)
	}
	return issues
}

// pointer renders an instance location as a JSON pointer.
func pointer(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	return "/" + strings.Join(segments, "/")
}

// Normalize round-trips a value through JSON so it is represented with
// canonical JSON types (map[string]any, []any, float64, string, bool, nil).
func Normalize(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// renderCanonical renders the schema document as indented JSON.
func renderCanonical(doc any) string {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", doc)
	}
	return string(out)
}
