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

package asyncctx

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nivenkamath/httpcore/httpmsg"
)

// Context tracks one detached request from suspension through to a
// terminal outcome. The zero value is not usable; obtain one from a
// Manager so it's registered for sweeping.
type Context struct {
	ID        string
	CreatedAt time.Time
	Deadline  time.Time

	state atomic.Int32

	mu        sync.Mutex
	result    *httpmsg.Response
	err       error
	callbacks []func(*Context)
	done      chan struct{}

	manager *Manager
}

func newContext(id string, manager *Manager, timeout time.Duration) *Context {
	c := &Context{
		ID:        id,
		CreatedAt: time.Now(),
		manager:   manager,
		done:      make(chan struct{}),
	}
	if timeout > 0 {
		c.Deadline = c.CreatedAt.Add(timeout)
	}
	c.state.Store(int32(StateCreated))
	return c
}

// State returns the current lifecycle state.
func (c *Context) State() State {
	return State(c.state.Load())
}

// Transition attempts to move the context from its current state to to,
// following the lifecycle DAG. Returns false if the edge is
// not allowed from whatever state the context is in right now — callers
// racing each other (a worker completing at the same moment the sweeper
// times it out) simply see one of them lose the CAS.
func (c *Context) Transition(to State) bool {
	for {
		cur := State(c.state.Load())
		if !allowed(cur, to) {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

// Begin transitions CREATED -> PROCESSING. Called once, immediately
// after the manager hands back a freshly created context.
func (c *Context) Begin() bool {
	return c.Transition(StateProcessing)
}

// Suspend transitions PROCESSING -> WAITING, for a handler that is about
// to hand off to something else (a second pool task, an outbound call)
// before it can produce a result.
func (c *Context) Suspend() bool {
	return c.Transition(StateWaiting)
}

// Resume transitions WAITING -> PROCESSING, the mirror of Suspend.
func (c *Context) Resume() bool {
	return c.Transition(StateProcessing)
}

// Complete transitions to COMPLETED and stores resp, firing every
// registered callback outside of the context's internal lock.
func (c *Context) Complete(resp *httpmsg.Response) bool {
	if !c.Transition(StateCompleted) {
		return false
	}
	c.finish(resp, nil)
	return true
}

// Fail transitions to ERROR and stores err.
func (c *Context) Fail(err error) bool {
	if !c.Transition(StateError) {
		return false
	}
	c.finish(nil, err)
	return true
}

// timeout transitions to TIMEOUT; only the sweeper calls this.
func (c *Context) timeout() bool {
	if !c.Transition(StateTimeout) {
		return false
	}
	c.finish(nil, errTimeout)
	return true
}

func (c *Context) finish(resp *httpmsg.Response, err error) {
	c.mu.Lock()
	c.result, c.err = resp, err
	cbs := c.callbacks
	c.callbacks = nil
	c.mu.Unlock()

	close(c.done)
	for _, cb := range cbs {
		cb(c)
	}
	if c.manager != nil {
		c.manager.forget(c.ID)
	}
}

// OnComplete registers cb to run once the context reaches a terminal
// state. Runs immediately, inline, if it already has.
func (c *Context) OnComplete(cb func(*Context)) {
	c.mu.Lock()
	if c.State().IsTerminal() {
		c.mu.Unlock()
		cb(c)
		return
	}
	c.callbacks = append(c.callbacks, cb)
	c.mu.Unlock()
}

// Wait blocks until the context reaches a terminal state and returns its
// result.
func (c *Context) Wait() (*httpmsg.Response, error) {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

// Result returns the stored result without blocking; ok is false if the
// context hasn't finished yet.
func (c *Context) Result() (resp *httpmsg.Response, err error, ok bool) {
	select {
	case <-c.done:
	default:
		return nil, nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err, true
}
