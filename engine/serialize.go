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
	"bytes"
	"io"
	"strconv"
	"time"

	"github.com/nivenkamath/httpcore/httpmsg"
)

// httpDateFormat is the wire format for the Date response header (RFC
// 7231 §7.1.1.1's IMF-fixdate), the same layout net/http uses internally
// — reproduced here rather than importing net/http for one constant,
// since this module's engines never otherwise touch that package.
const httpDateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// serverHeaderValue identifies this module in the Server response
// header.
const serverHeaderValue = "httpcore"

// WriteResponse serializes resp as an HTTP/1.1 message onto w, adding
// the Date, Server, Content-Length, and Connection headers a handler
// never sets itself, leaving exactly this set of headers to the
// transport layer rather than the handler-facing Response type.
// Commits resp as a side effect.
func WriteResponse(w io.Writer, resp *httpmsg.Response, keepAlive bool) (int, error) {
	resp.Commit()

	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(resp.Status))
	buf.WriteByte(' ')
	buf.WriteString(httpmsg.ReasonPhrase(resp.Status))
	buf.WriteString("\r\n")

	for _, name := range resp.Headers.Names() {
		for _, v := range resp.Headers.Values(name) {
			buf.WriteString(name)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\r\n")
		}
	}
	if !resp.Headers.Has("Content-Length") {
		buf.WriteString("Content-Length: ")
		buf.WriteString(strconv.Itoa(len(resp.Body)))
		buf.WriteString("\r\n")
	}
	if !resp.Headers.Has("Date") {
		buf.WriteString("Date: ")
		buf.WriteString(time.Now().UTC().Format(httpDateFormat))
		buf.WriteString("\r\n")
	}
	if !resp.Headers.Has("Server") {
		buf.WriteString("Server: ")
		buf.WriteString(serverHeaderValue)
		buf.WriteString("\r\n")
	}
	if !resp.Headers.Has("Connection") {
		buf.WriteString("Connection: ")
		if keepAlive {
			buf.WriteString("keep-alive")
		} else {
			buf.WriteString("close")
		}
		buf.WriteString("\r\n")
	}

	buf.WriteString("\r\n")
	buf.Write(resp.Body)

	return w.Write(buf.Bytes())
}
