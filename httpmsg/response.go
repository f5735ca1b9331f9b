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

package httpmsg

import "fmt"

// reasonPhrases is the standard reason-phrase lookup for status.
// Only the codes this core and its middleware actually emit are listed;
// unknown codes fall back to "Unknown Status" rather than panicking.
var reasonPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// ReasonPhrase returns the standard reason phrase for status, or
// "Unknown Status" if status is not in the table.
func ReasonPhrase(status int) string {
	if phrase, ok := reasonPhrases[status]; ok {
		return phrase
	}
	return "Unknown Status"
}

// ErrResponseCommitted is returned by any Response mutator called after the
// response has already been committed.
var ErrResponseCommitted = fmt.Errorf("httpmsg: response already committed")

// Response is the handler-constructed, once-committed response value.
// Default headers (Date, Server, Content-Length, Connection) are added
// by the serializer, not here — Response only
// carries what the handler explicitly set.
type Response struct {
	Status    int
	Headers   Header
	Body      []byte
	committed bool
}

// NewResponse returns a Response defaulted to 200 OK with no body.
func NewResponse() *Response {
	return &Response{Status: 200}
}

// Committed reports whether the response has already been serialized.
func (r *Response) Committed() bool {
	return r.committed
}

// SetStatus sets the status code. Fails once committed.
func (r *Response) SetStatus(status int) error {
	if r.committed {
		return ErrResponseCommitted
	}
	r.Status = status
	return nil
}

// SetHeader sets a response header. Fails once committed.
func (r *Response) SetHeader(name, value string) error {
	if r.committed {
		return ErrResponseCommitted
	}
	r.Headers.Set(name, value)
	return nil
}

// Write appends to the response body. Fails once committed.
func (r *Response) Write(p []byte) (int, error) {
	if r.committed {
		return 0, ErrResponseCommitted
	}
	r.Body = append(r.Body, p...)
	return len(p), nil
}

// Commit marks the response as committed. Once committed, SetStatus,
// SetHeader, and Write all return ErrResponseCommitted. Idempotent.
func (r *Response) Commit() {
	r.committed = true
}

// reset clears a Response for reuse by a pool.
func (r *Response) reset() {
	r.Status = 200
	r.Headers.reset()
	r.Body = nil
	r.committed = false
}
