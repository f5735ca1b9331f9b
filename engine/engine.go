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
	"context"

	"github.com/nivenkamath/httpcore/apierrors"
	"github.com/nivenkamath/httpcore/httpmsg"
)

// Engine is the contract all three concurrency architectures satisfy:
// Start begins accepting connections and returns once
// the listener is up (or fails to come up at all, surfaced as a
// ClassFatal *apierrors.Error); Stop drains in-flight work and closes the
// listener, honoring ctx's deadline for how long to wait before forcing
// connections closed.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Counters() *Counters
}

// ErrorResponse turns an *apierrors.Error into the Response the engine
// should write back, and reports whether the connection must be closed
// afterward: an error with no status (Status == 0) gets no response and
// forces a close; protocol and fatal errors get a response and then force
// a close; every other class gets a response without forcing a close.
func ErrorResponse(apiErr *apierrors.Error) (resp *httpmsg.Response, closeConn bool) {
	if apiErr.Status == 0 {
		return nil, true
	}
	resp = httpmsg.NewResponse()
	_ = resp.SetStatus(apiErr.Status)
	_ = resp.SetHeader("Content-Type", "text/plain; charset=utf-8")
	_, _ = resp.Write([]byte(apiErr.Reason))

	closeConn = apiErr.Class == apierrors.ClassProtocol || apiErr.Class == apierrors.ClassFatal
	return resp, closeConn
}
