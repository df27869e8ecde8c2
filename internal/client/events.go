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

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	rberrors "github.com/tombee/runbook/pkg/errors"
	"github.com/tombee/runbook/pkg/trace"
)

// WatchEvents follows a run's SSE trace stream, invoking fn for every
// event until the server closes the stream with the run's terminal
// status or ctx ends. Returns the terminal status, empty if the stream
// ended without one.
func (c *Client) WatchEvents(ctx context.Context, id string, fn func(trace.Event)) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &rberrors.ClientError{Kind: "unreachable", Cause: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", clientError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	done := false
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: done"):
			done = true
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if done {
				var terminal struct {
					Status string `json:"status"`
				}
				if err := json.Unmarshal([]byte(data), &terminal); err == nil {
					return terminal.Status, nil
				}
				return "", nil
			}

			var ev trace.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			fn(ev)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return "", &rberrors.ClientError{Kind: "bad_response", Cause: err.Error(), Err: err}
	}
	return "", ctx.Err()
}
