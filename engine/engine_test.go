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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivenkamath/httpcore/apierrors"
	"github.com/nivenkamath/httpcore/httpmsg"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 50, cfg.Backlog)
	assert.Equal(t, 10<<20, cfg.MaxBodyBytes)
	assert.Equal(t, 64<<10, cfg.MaxHeaderBytes)
}

func TestConfigAddressFormatting(t *testing.T) {
	cfg := New(WithBindAddress("127.0.0.1"), WithPort(9090))
	assert.Equal(t, "127.0.0.1:9090", cfg.Address())
}

func TestWriteResponseIncludesDefaultHeaders(t *testing.T) {
	resp := httpmsg.NewResponse()
	_ = resp.SetStatus(200)
	_, _ = resp.Write([]byte("hi"))

	var buf bytes.Buffer
	n, err := WriteResponse(&buf, resp, true)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)

	wire := buf.String()
	assert.True(t, strings.HasPrefix(wire, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, wire, "Content-Length: 2\r\n")
	assert.Contains(t, wire, "Connection: keep-alive\r\n")
	assert.Contains(t, wire, "Server: httpcore\r\n")
	assert.True(t, strings.HasSuffix(wire, "\r\n\r\nhi"))
	assert.True(t, resp.Committed())
}

func TestWriteResponseRespectsConnectionClose(t *testing.T) {
	resp := httpmsg.NewResponse()
	var buf bytes.Buffer
	_, err := WriteResponse(&buf, resp, false)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Connection: close\r\n")
}

func TestErrorResponseMapsStatusAndCloseSemantics(t *testing.T) {
	resp, closeConn := ErrorResponse(apierrors.Protocol("bad request line"))
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.Status)
	assert.True(t, closeConn)

	resp, closeConn = ErrorResponse(apierrors.Handler(assertErr{}))
	require.NotNil(t, resp)
	assert.Equal(t, 500, resp.Status)
	assert.False(t, closeConn)

	resp, closeConn = ErrorResponse(apierrors.SocketTimeout())
	assert.Nil(t, resp)
	assert.True(t, closeConn)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
