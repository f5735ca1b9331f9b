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
	"bufio"
	"net"
	"time"
)

// Connection wraps a net.Conn with a buffered reader exposing lookahead
// via Peek and Buffered. None of the engines calls either: TPC resumes a
// pipelined request already buffered in its parser with parser.Feed(nil),
// and HRP and STEL read raw bytes off the reactor and feed them straight
// to a parser.Parser.
type Connection struct {
	net.Conn
	reader *bufio.Reader

	readTimeout time.Duration
}

// NewConnection wraps conn with a bufio.Reader sized bufSize.
func NewConnection(conn net.Conn, bufSize int, readTimeout time.Duration) *Connection {
	if bufSize <= 0 {
		bufSize = 16 << 10
	}
	return &Connection{
		Conn:        conn,
		reader:      bufio.NewReaderSize(conn, bufSize),
		readTimeout: readTimeout,
	}
}

// ReadChunk reads whatever is immediately available (at least one byte)
// into buf, applying the configured socket read timeout beforehand. It
// never blocks waiting to fill buf the way io.ReadFull would.
func (c *Connection) ReadChunk(buf []byte) (int, error) {
	if c.readTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return c.reader.Read(buf)
}

// Buffered reports how many bytes are already sitting in the read buffer
// without having to touch the socket — a non-blocking lookahead used to
// decide whether a pipelined next request is already available.
func (c *Connection) Buffered() int {
	return c.reader.Buffered()
}

// Peek returns the next n buffered bytes without consuming them,
// reading from the underlying connection only if fewer than n bytes are
// already buffered.
func (c *Connection) Peek(n int) ([]byte, error) {
	return c.reader.Peek(n)
}
