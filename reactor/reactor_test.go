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

package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tcpPipe(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptErr := make(chan error, 1)
	var accepted net.Conn
	go func() {
		c, err := ln.Accept()
		accepted = c
		acceptErr <- err
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, <-acceptErr)

	return accepted, client
}

func TestLoopNotifiesOnReadableConnection(t *testing.T) {
	server, client := tcpPipe(t)
	defer server.Close()
	defer client.Close()

	fired := make(chan net.Conn, 1)
	loop, err := NewLoop(func(conn net.Conn) {
		fired <- conn
	})
	require.NoError(t, err)
	defer loop.Close()

	require.NoError(t, loop.Register(server))
	go loop.Run()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case conn := <-fired:
		buf := make([]byte, 4)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "ping", string(buf[:n]))
	case <-time.After(2 * time.Second):
		t.Fatal("loop never reported the connection as readable")
	}
}

func TestLoopRunsPostedTaskOnLoopGoroutine(t *testing.T) {
	loop, err := NewLoop(func(net.Conn) {}, WithPollTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer loop.Close()

	go loop.Run()

	ran := make(chan struct{})
	loop.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("posted task never ran")
	}
}

func TestLoopStopsAfterClose(t *testing.T) {
	loop, err := NewLoop(func(net.Conn) {})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()

	require.NoError(t, loop.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
