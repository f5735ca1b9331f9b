// Copyright 2026 The httpcore Authors
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

package engine

import (
	"strings"

	"github.com/nivenkamath/httpcore/httpmsg"
)

// DecideKeepAlive applies the shared keep-alive rule every engine uses
// after answering a request: the request must ask for it (the HTTP/1.1
// default, or an explicit Connection: keep-alive on HTTP/1.0), the
// handler's response must not refuse it, and the connection's request
// budget must not already be exhausted.
func DecideKeepAlive(req *httpmsg.Request, resp *httpmsg.Response, served, maxRequests int) bool {
	if resp == nil {
		return false
	}
	if maxRequests > 0 && served >= maxRequests {
		return false
	}
	reqConn := strings.ToLower(req.Headers.Get("Connection"))
	if reqConn == "close" {
		return false
	}
	wantsKeepAlive := req.Proto == "HTTP/1.1" || reqConn == "keep-alive"
	if !wantsKeepAlive {
		return false
	}
	if strings.ToLower(resp.Headers.Get("Connection")) == "close" {
		return false
	}
	return true
}
