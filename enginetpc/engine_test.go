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

package enginetpc

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivenkamath/httpcore/engine"
	"github.com/nivenkamath/httpcore/router"
)

func startTestEngine(t *testing.T, r *router.Router, opts ...engine.Option) (*Engine, string) {
	t.Helper()
	cfg := engine.New(append([]engine.Option{
		engine.WithBindAddress("127.0.0.1"),
		engine.WithPort(0),
		engine.WithSocketReadTimeout(2 * time.Second),
	}, opts...)...)

	e := New(r, cfg, nil)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})

	// cfg.Port == 0 asked the OS to pick a port; recover the real address
	// from the listener the engine just bound.
	e.mu.Lock()
	addr := e.listener.Addr().String()
	e.mu.Unlock()
	return e, addr
}

func dialAndSend(t *testing.T, addr string, raw string) *bufio.Reader {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)
	return bufio.NewReader(conn)
}

func TestSimpleGetReturnsHandlerResponse(t *testing.T) {
	r := router.New()
	require.NoError(t, r.GET("/hello", func(c *router.Context) {
		_, _ = c.Response.Write([]byte("hello"))
	}))
	_, addr := startTestEngine(t, r)

	reader := dialAndSend(t, addr, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	status, headers, body := readResponse(t, reader)

	assert.Equal(t, "200", status)
	assert.Equal(t, "5", headers["Content-Length"])
	assert.Equal(t, "hello", body)
}

func TestPathParameterIsBoundForHandler(t *testing.T) {
	r := router.New()
	require.NoError(t, r.GET("/users/{id}", func(c *router.Context) {
		_, _ = c.Response.Write([]byte(c.Request.Param("id")))
	}))
	_, addr := startTestEngine(t, r)

	reader := dialAndSend(t, addr, "GET /users/42 HTTP/1.1\r\nHost: x\r\n\r\n")
	_, _, body := readResponse(t, reader)
	assert.Equal(t, "42", body)
}

func TestStaticRouteBeatsParamRouteRegardlessOfOrder(t *testing.T) {
	r := router.New()
	require.NoError(t, r.GET("/users/{id}", func(c *router.Context) {
		_, _ = c.Response.Write([]byte("param"))
	}))
	require.NoError(t, r.GET("/users/admin", func(c *router.Context) {
		_, _ = c.Response.Write([]byte("static"))
	}))
	_, addr := startTestEngine(t, r)

	reader := dialAndSend(t, addr, "GET /users/admin HTTP/1.1\r\nHost: x\r\n\r\n")
	_, _, body := readResponse(t, reader)
	assert.Equal(t, "static", body)
}

func TestMethodMismatchReturns405WithAllowHeader(t *testing.T) {
	r := router.New()
	require.NoError(t, r.GET("/x", func(c *router.Context) {}))
	_, addr := startTestEngine(t, r)

	reader := dialAndSend(t, addr, "POST /x HTTP/1.1\r\nHost: x\r\n\r\n")
	status, headers, _ := readResponse(t, reader)
	assert.Equal(t, "405", status)
	assert.Equal(t, "GET", headers["Allow"])
}

func TestChunkedRequestBodyIsReassembled(t *testing.T) {
	r := router.New()
	require.NoError(t, r.POST("/echo", func(c *router.Context) {
		_, _ = c.Response.Write(c.Request.Body)
	}))
	_, addr := startTestEngine(t, r)

	raw := "POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	reader := dialAndSend(t, addr, raw)
	_, headers, body := readResponse(t, reader)
	assert.Equal(t, "11", headers["Content-Length"])
	assert.Equal(t, "hello world", body)
}

func TestKeepAlivePipelinedRequestsAnswerInOrder(t *testing.T) {
	r := router.New()
	require.NoError(t, r.GET("/one", func(c *router.Context) {
		_, _ = c.Response.Write([]byte("1"))
	}))
	require.NoError(t, r.GET("/two", func(c *router.Context) {
		_, _ = c.Response.Write([]byte("2"))
	}))
	_, addr := startTestEngine(t, r)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(
		"GET /one HTTP/1.1\r\nHost: x\r\n\r\n" +
			"GET /two HTTP/1.1\r\nHost: x\r\n\r\n",
	))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	_, _, body1 := readResponse(t, reader)
	_, _, body2 := readResponse(t, reader)
	assert.Equal(t, "1", body1)
	assert.Equal(t, "2", body2)
}

func TestMalformedRequestLineCloses400(t *testing.T) {
	r := router.New()
	_, addr := startTestEngine(t, r)

	reader := dialAndSend(t, addr, "GARBAGE\r\n\r\n")
	status, _, _ := readResponse(t, reader)
	assert.Equal(t, "400", status)
}

func TestSuspendedHandlerResolvesBeforeResponseIsWritten(t *testing.T) {
	r := router.New()
	require.NoError(t, r.GET("/async", func(c *router.Context) {
		deferred := c.Suspend()
		go func() {
			time.Sleep(10 * time.Millisecond)
			resp := c.Response
			_, _ = resp.Write([]byte("async-done"))
			deferred.Resolve(resp)
		}()
	}))
	_, addr := startTestEngine(t, r)

	reader := dialAndSend(t, addr, "GET /async HTTP/1.1\r\nHost: x\r\n\r\n")
	_, _, body := readResponse(t, reader)
	assert.Equal(t, "async-done", body)
}

func TestStopIsIdempotent(t *testing.T) {
	r := router.New()
	cfg := engine.New(engine.WithBindAddress("127.0.0.1"), engine.WithPort(0))
	e := New(r, cfg, nil)
	require.NoError(t, e.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
	require.NoError(t, e.Stop(ctx))
}

// readResponse reads a single HTTP/1.1 response off reader, returning the
// status code text, a flattened header map, and the body.
func readResponse(t *testing.T, reader *bufio.Reader) (status string, headers map[string]string, body string) {
	t.Helper()

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	parts := splitN(line, ' ', 3)
	require.Len(t, parts, 3)
	status = parts[1]

	headers = make(map[string]string)
	for {
		hline, err := reader.ReadString('\n')
		require.NoError(t, err)
		trimmed := trimCRLF(hline)
		if trimmed == "" {
			break
		}
		name, value, ok := cutColon(trimmed)
		require.True(t, ok)
		headers[name] = value
	}

	contentLength := 0
	if cl, ok := headers["Content-Length"]; ok {
		for _, c := range cl {
			contentLength = contentLength*10 + int(c-'0')
		}
	}
	buf := make([]byte, contentLength)
	if contentLength > 0 {
		_, err := readFull(reader, buf)
		require.NoError(t, err)
	}
	return status, headers, string(buf)
}

func readFull(reader *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := reader.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func splitN(s string, sep byte, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, trimCRLF(s[start:]))
	return out
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func cutColon(s string) (name, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			name = s[:i]
			value = s[i+1:]
			for len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			return name, value, true
		}
	}
	return "", "", false
}
