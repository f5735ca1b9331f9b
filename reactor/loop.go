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

// Package reactor implements the non-blocking I/O demultiplexer shared by
// the hybrid reactor+pool and single-threaded event-loop engines: one
// goroutine (or, for HRP, one of a small fixed set of goroutines) blocks
// in a single readiness wait instead of one goroutine per connection
// blocking in Read.
//
// This is modeled on
// other_examples/ed5fa6ba_searchktools-fast-server__core-engine.go.go, a
// raw epoll/kqueue-driven HTTP engine: same readiness-driven dispatch
// loop, adapted here into a standalone, engine-agnostic component rather
// than one fused directly to request parsing.
package reactor

import (
	"errors"
	"net"
	"time"
)

// errClosed is returned by a poller's wait() once Close has been called.
var errClosed = errors.New("reactor: closed")

// defaultPollTimeout bounds each wait() call so the loop periodically
// comes up for air to drain posted tasks instead of blocking until a
// connection becomes readable. A bounded timeout is used here rather
// than a self-pipe wakeup primitive for epoll, since a
// sub-second timeout already bounds task latency tightly enough for the
// handler-completion callbacks HRP/STEL post through Loop.Post.
const defaultPollTimeout = 250 * time.Millisecond

// poller is the platform-specific readiness primitive. epoll_linux.go
// supplies a real epoll-backed implementation; poll_other.go supplies a
// portable fallback for every other GOOS built from net/bufio alone.
type poller interface {
	add(net.Conn) error
	remove(net.Conn) error
	wait(timeout time.Duration) ([]net.Conn, error)
	close() error
}

// Callback is invoked once per connection that has become readable.
type Callback func(conn net.Conn)

// Option configures a Loop at construction.
type Option func(*Loop)

// WithPollTimeout overrides the per-iteration bound on how long wait()
// may block before the loop checks for posted tasks.
func WithPollTimeout(d time.Duration) Option {
	return func(l *Loop) { l.pollTimeout = d }
}

// Loop runs a single readiness-wait/dispatch cycle. HRP constructs one
// Loop per reactor thread (typically GOMAXPROCS of them); STEL
// constructs exactly one for the entire server.
type Loop struct {
	poller      poller
	onReadable  Callback
	pollTimeout time.Duration
	tasks       chan func()
}

// NewLoop constructs a Loop backed by the platform's poller.
func NewLoop(onReadable Callback, opts ...Option) (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	l := &Loop{
		poller:      p,
		onReadable:  onReadable,
		pollTimeout: defaultPollTimeout,
		tasks:       make(chan func(), 4096),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Register begins watching conn for readability.
func (l *Loop) Register(conn net.Conn) error {
	return l.poller.add(conn)
}

// Deregister stops watching conn, called once it's closed or handed off
// permanently to a blocking consumer.
func (l *Loop) Deregister(conn net.Conn) error {
	return l.poller.remove(conn)
}

// Post schedules fn to run on the loop's own goroutine at the start of
// its next iteration — the only sanctioned way to mutate a socket this
// loop owns from another goroutine; the reactor alone toggles a
// connection's interest flags. If the task queue is ever full, fn runs
// inline on the calling goroutine rather than being dropped, since a
// queued task must never be silently lost — a rare degradation under
// extreme backlog, not the common path.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	default:
		fn()
	}
}

// Run blocks, dispatching readiness notifications to onReadable and
// draining posted tasks until Close is called, at which point it
// returns nil.
func (l *Loop) Run() error {
	for {
		l.drainTasks()

		conns, err := l.poller.wait(l.pollTimeout)
		if err == errClosed {
			l.drainTasks()
			return nil
		}
		if err != nil {
			return err
		}
		for _, c := range conns {
			l.onReadable(c)
		}
	}
}

func (l *Loop) drainTasks() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		default:
			return
		}
	}
}

// Close stops the loop; a blocked Run call returns once its current wait
// unblocks.
func (l *Loop) Close() error {
	return l.poller.close()
}

// Unwrap recovers the net.Conn originally passed to Register from whatever
// value a readiness notification handed back. On Linux the two are always
// the same object; the portable poller hands back a fresh wrapper on every
// notification, so callers that key per-connection state off the
// registered conn's identity must unwrap before looking it up.
func Unwrap(conn net.Conn) net.Conn {
	for {
		u, ok := conn.(interface{ Unwrap() net.Conn })
		if !ok {
			return conn
		}
		conn = u.Unwrap()
	}
}
