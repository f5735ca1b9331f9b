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

package router

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/nivenkamath/httpcore/apierrors"
)

// Recovery builds a middleware that turns a panicking handler into a 500
// response instead of taking down the connection's goroutine. A handler
// panic is a Handler-class error, not a Fatal one: only this
// connection's in-flight request is affected.
func Recovery(logger *slog.Logger) HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *Context) {
		defer func() {
			if rec := recover(); rec != nil {
				apiErr := apierrors.Handler(panicToError(rec))
				logger.Error("handler panic recovered",
					"path", c.Request.Path,
					"method", c.Request.Method.String(),
					"panic", rec,
				)
				if !c.Response.Committed() {
					_ = c.Response.SetStatus(apiErr.Status)
					_, _ = c.Response.Write([]byte(apiErr.Reason))
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

func panicToError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return &recoveredPanic{value: rec}
}

type recoveredPanic struct{ value any }

func (p *recoveredPanic) Error() string {
	return "panic: " + toString(p.value)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "non-string panic value"
}

// RequestID assigns a fresh UUID to every request that doesn't already
// carry one upstream, stashing it as a request attribute so downstream
// handlers and logging can correlate a request across the chain.
func RequestID() HandlerFunc {
	return func(c *Context) {
		id := c.Request.Headers.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Request.SetAttribute("request_id", id)
		_ = c.Response.SetHeader("X-Request-Id", id)
		c.Next()
	}
}
