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

package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivenkamath/httpcore/httpmsg"
)

func TestSimpleGET(t *testing.T) {
	p := New(DefaultLimits())
	outcome, req, apiErr := p.Feed([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))

	require.Nil(t, apiErr)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, httpmsg.MethodGET, req.Method)
	assert.Equal(t, "/hello", req.Path)
	assert.Equal(t, "x", req.Headers.Get("Host"))
	assert.Empty(t, req.Body)
}

func TestPartialReadsReportNeedMoreUntilComplete(t *testing.T) {
	p := New(DefaultLimits())
	full := "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"

	for i := 0; i < len(full)-1; i++ {
		outcome, _, apiErr := p.Feed([]byte{full[i]})
		require.Nil(t, apiErr)
		require.Equal(t, NeedMore, outcome, "byte %d of %q", i, full)
	}
	outcome, req, apiErr := p.Feed([]byte{full[len(full)-1]})
	require.Nil(t, apiErr)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, "/hello", req.Path)
}

func TestChunkedBody(t *testing.T) {
	p := New(DefaultLimits())
	wire := "POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"

	outcome, req, apiErr := p.Feed([]byte(wire))
	require.Nil(t, apiErr)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, "hello world", string(req.Body))
}

func TestContentLengthBody(t *testing.T) {
	p := New(DefaultLimits())
	wire := "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"

	outcome, req, apiErr := p.Feed([]byte(wire))
	require.Nil(t, apiErr)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, "hello", string(req.Body))
}

func TestChunkedWinsOverContentLength(t *testing.T) {
	p := New(DefaultLimits())
	wire := "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 999\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"2\r\nhi\r\n0\r\n\r\n"

	outcome, req, apiErr := p.Feed([]byte(wire))
	require.Nil(t, apiErr)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, "hi", string(req.Body))
}

func TestMalformedRequestLineIsProtocolError(t *testing.T) {
	p := New(DefaultLimits())
	outcome, _, apiErr := p.Feed([]byte("BOGUS\r\n\r\n"))

	require.Equal(t, ProtocolError, outcome)
	require.NotNil(t, apiErr)
	assert.Equal(t, 400, apiErr.Status)
}

func TestNegativeContentLengthIsProtocolError(t *testing.T) {
	p := New(DefaultLimits())
	outcome, _, apiErr := p.Feed([]byte("POST /x HTTP/1.1\r\nContent-Length: -1\r\n\r\n"))

	require.Equal(t, ProtocolError, outcome)
	require.NotNil(t, apiErr)
}

func TestBodyExceedingMaxBodyBytesIs413(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxBodyBytes = 4
	p := New(limits)

	outcome, _, apiErr := p.Feed([]byte("POST /x HTTP/1.1\r\nContent-Length: 1000\r\n\r\n"))

	require.Equal(t, ProtocolError, outcome)
	require.NotNil(t, apiErr)
	assert.Equal(t, 413, apiErr.Status)
}

func TestBareLFAcceptedLeniently(t *testing.T) {
	p := New(DefaultLimits())
	wire := "GET /hello HTTP/1.1\nHost: x\n\n"

	outcome, req, apiErr := p.Feed([]byte(wire))
	require.Nil(t, apiErr)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, "/hello", req.Path)
}

func TestPipelinedRequestsParsedSerially(t *testing.T) {
	p := New(DefaultLimits())
	wire := "GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n"

	outcome, req1, apiErr := p.Feed([]byte(wire))
	require.Nil(t, apiErr)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, "/a", req1.Path)

	outcome, req2, apiErr := p.Feed(nil)
	require.Nil(t, apiErr)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, "/b", req2.Path)
}

func TestDuplicateHeadersAccumulate(t *testing.T) {
	p := New(DefaultLimits())
	wire := "GET /x HTTP/1.1\r\nX-A: 1\r\nX-A: 2\r\n\r\n"

	_, req, apiErr := p.Feed([]byte(wire))
	require.Nil(t, apiErr)
	assert.Equal(t, []string{"1", "2"}, req.Headers.Values("x-a"))
}

func TestTooManyHeadersIsProtocolError(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxHeaderCount = 2
	p := New(limits)
	wire := "GET /x HTTP/1.1\r\nX-A: 1\r\nX-B: 2\r\nX-C: 3\r\n\r\n"

	outcome, _, apiErr := p.Feed([]byte(wire))
	require.Equal(t, ProtocolError, outcome)
	require.NotNil(t, apiErr)
}

func TestCollapsesConsecutiveSlashes(t *testing.T) {
	p := New(DefaultLimits())
	outcome, req, apiErr := p.Feed([]byte("GET //users//42 HTTP/1.1\r\n\r\n"))

	require.Nil(t, apiErr)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, "/users/42", req.Path)
}
