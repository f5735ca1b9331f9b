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

package enginestel

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivenkamath/httpcore/engine"
	"github.com/nivenkamath/httpcore/httpmsg"
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

func TestKeepAlivePipelinedRequestsStillAnswerInOrder(t *testing.T) {
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

// TestSuspendedHandlerWritesBackThroughReactor exercises an ordinary
// c.Suspend() (no worker offload involved): the response must still
// come back correctly once resolved from a third goroutine, with the
// write happening through the reactor rather than from that goroutine.
func TestSuspendedHandlerWritesBackThroughReactor(t *testing.T) {
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

// TestRunOnWorkerOffloadsBlockingWorkToAuxiliaryPool exercises the
// Context.RunOnWorker path STEL wires: a handler that wants to sleep
// (stand-in for a blocking call) hands that work to the auxiliary pool
// instead of blocking the single reactor goroutine, proven here by a
// second, unrelated connection answering immediately while the first
// request's offloaded work is still running.
func TestRunOnWorkerOffloadsBlockingWorkToAuxiliaryPool(t *testing.T) {
	r := router.New()
	require.NoError(t, r.GET("/blocking", func(c *router.Context) {
		c.RunOnWorker(func() (*httpmsg.Response, error) {
			time.Sleep(100 * time.Millisecond)
			resp := httpmsg.NewResponse()
			_ = resp.SetStatus(200)
			_, _ = resp.Write([]byte("slow-done"))
			return resp, nil
		})
	}))
	require.NoError(t, r.GET("/fast", func(c *router.Context) {
		_, _ = c.Response.Write([]byte("fast-done"))
	}))
	_, addr := startTestEngine(t, r)

	slowReader := dialAndSend(t, addr, "GET /blocking HTTP/1.1\r\nHost: x\r\n\r\n")

	start := time.Now()
	fastReader := dialAndSend(t, addr, "GET /fast HTTP/1.1\r\nHost: x\r\n\r\n")
	_, _, fastBody := readResponse(t, fastReader)
	fastElapsed := time.Since(start)

	assert.Equal(t, "fast-done", fastBody)
	assert.Less(t, fastElapsed, 90*time.Millisecond)

	_, _, slowBody := readResponse(t, slowReader)
	assert.Equal(t, "slow-done", slowBody)
}

// TestRunOnWorkerSaturationReturns503 pins the auxiliary pool to a
// single worker with no queue room, so a second concurrent offload must
// be rejected and answered with 503 rather than piling up behind the
// first.
func TestRunOnWorkerSaturationReturns503(t *testing.T) {
	r := router.New()
	require.NoError(t, r.GET("/slow", func(c *router.Context) {
		c.RunOnWorker(func() (*httpmsg.Response, error) {
			time.Sleep(150 * time.Millisecond)
			resp := httpmsg.NewResponse()
			_ = resp.SetStatus(200)
			_, _ = resp.Write([]byte("done"))
			return resp, nil
		})
	}))
	_, addr := startTestEngine(t, r, engine.WithAuxPoolSize(1))

	reader1 := dialAndSend(t, addr, "GET /slow HTTP/1.1\r\nHost: x\r\n\r\n")
	time.Sleep(30 * time.Millisecond)
	reader2 := dialAndSend(t, addr, "GET /slow HTTP/1.1\r\nHost: x\r\n\r\n")

	status2, _, _ := readResponse(t, reader2)
	assert.Equal(t, "503", status2)

	status1, _, body1 := readResponse(t, reader1)
	assert.Equal(t, "200", status1)
	assert.Equal(t, "done", body1)
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
