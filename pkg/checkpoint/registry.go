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
)

// RegistryProvider publishes each prompt as a Pending entry through a
// register callback and blocks until an external resolver completes it.
// The server wires register/unregister to the run's pending-checkpoints
// map so the HTTP resolver can find the entry by id.
type RegistryProvider struct {
	register   func(*Pending)
	unregister func(*Pending)
}

// NewRegistryProvider creates a provider backed by the given callbacks.
// unregister may be nil.
func NewRegistryProvider(register func(*Pending), unregister func(*Pending)) *RegistryProvider {
	return &RegistryProvider{register: register, unregister: unregister}
}

// Prompt implements Provider. It registers a pending checkpoint under
// the request's id and blocks until it is resolved, rejected, or ctx is
// cancelled. The entry is always unregistered before returning.
func (r *RegistryProvider) Prompt(ctx context.Context, req Request) (any, error) {
	pending := NewPending(req)

	r.register(pending)
	defer func() {
		if r.unregister != nil {
			r.unregister(pending)
		}
	}()

	return pending.Wait(ctx)
}
