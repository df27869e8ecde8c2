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

package trace

import (
	"sync"
	"time"
)

// Listener receives each emitted event. Listeners are invoked
// synchronously in registration order and must not mutate the event.
type Listener func(Event)

// Collector is an append-only event sequence with listener fan-out.
// One collector is owned by one engine invocation; parallel branches
// emit concurrently, so appends are serialized by a mutex. The total
// order of events is the order of Emit calls.
type Collector struct {
	mu        sync.Mutex
	events    []Event
	listeners []Listener
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// OnEvent registers a listener. Must be called before events are emitted.
func (c *Collector) OnEvent(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Emit appends an event, stamping its timestamp if unset, and invokes
// every listener in registration order before returning.
func (c *Collector) Emit(e Event) {
	c.mu.Lock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	c.events = append(c.events, e)
	listeners := c.listeners
	c.mu.Unlock()

	for _, l := range listeners {
		l(e)
	}
}

// Events returns a copy of the events emitted so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Len returns the number of events emitted so far.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Snapshot produces an immutable trace from the events emitted so far.
func (c *Collector) Snapshot(runID, workflowID string, status Status, durationMS int64) *Trace {
	return &Trace{
		RunID:      runID,
		WorkflowID: workflowID,
		Events:     c.Events(),
		Status:     status,
		DurationMS: durationMS,
	}
}
