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

package errors

import "errors"

// IsAgentError reports whether err is (or wraps) an AgentError.
func IsAgentError(err error) bool {
	var ae *AgentError
	return errors.As(err, &ae)
}

// IsShellError reports whether err is (or wraps) a ShellError.
func IsShellError(err error) bool {
	var se *ShellError
	return errors.As(err, &se)
}

// IsCheckpointError reports whether err is (or wraps) a CheckpointError.
func IsCheckpointError(err error) bool {
	var ce *CheckpointError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a ClientError or CheckpointError
// with a "not_found" kind.
func IsNotFound(err error) bool {
	var cl *ClientError
	if errors.As(err, &cl) {
		return cl.Kind == "not_found"
	}
	var cp *CheckpointError
	if errors.As(err, &cp) {
		return cp.Kind == "not_found"
	}
	return false
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
