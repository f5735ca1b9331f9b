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

package router

import (
	"sync"

	"github.com/nivenkamath/httpcore/httpmsg"
)

// HandlerFunc is both a route handler and a middleware: middlewares
// call c.Next() to continue the chain.
type HandlerFunc func(*Context)

// Deferred is the single async primitive the core hands engines. A
// handler that cannot finish synchronously calls c.Suspend() to obtain
// one, resolves it from whatever
// goroutine eventually has the answer, and the engine that owns the
// connection decides how to wait on it — TPC blocks on Wait, HRP and STEL
// register a completion callback through asyncctx instead.
type Deferred struct {
	mu        sync.Mutex
	done      bool
	resp      *httpmsg.Response
	err       error
	callbacks []func(*httpmsg.Response, error)
}

// NewDeferred returns an unresolved Deferred.
func NewDeferred() *Deferred {
	return &Deferred{}
}

// Resolve completes the deferred successfully. Resolving twice is a no-op.
func (d *Deferred) Resolve(resp *httpmsg.Response) {
	d.complete(resp, nil)
}

// Reject completes the deferred with a failure.
func (d *Deferred) Reject(err error) {
	d.complete(nil, err)
}

func (d *Deferred) complete(resp *httpmsg.Response, err error) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	d.done = true
	d.resp, d.err = resp, err
	cbs := d.callbacks
	d.callbacks = nil
	d.mu.Unlock()

	// Fire callbacks outside the lock: a callback that itself calls back
	// into the Deferred (or blocks) must never be able to deadlock here.
	for _, cb := range cbs {
		cb(resp, err)
	}
}

// OnComplete registers cb to run once the deferred resolves. If it has
// already resolved, cb runs immediately (on the calling goroutine).
func (d *Deferred) OnComplete(cb func(*httpmsg.Response, error)) {
	d.mu.Lock()
	if d.done {
		resp, err := d.resp, d.err
		d.mu.Unlock()
		cb(resp, err)
		return
	}
	d.callbacks = append(d.callbacks, cb)
	d.mu.Unlock()
}

// Wait blocks the calling goroutine until the deferred resolves. Used by
// the thread-per-connection engine, which never detaches a request.
func (d *Deferred) Wait() (*httpmsg.Response, error) {
	ch := make(chan struct{})
	var resp *httpmsg.Response
	var err error
	d.OnComplete(func(r *httpmsg.Response, e error) {
		resp, err = r, e
		close(ch)
	})
	<-ch
	return resp, err
}

// Context carries one request/response pair through a chain of
// middlewares and a terminal handler. It is reused across requests via
// sync.Pool; see pool.go in this package.
type Context struct {
	Request  *httpmsg.Request
	Response *httpmsg.Response

	Route *Route

	handlers []HandlerFunc
	index    int
	aborted  bool
	deferred *Deferred

	router *Router
}

// Next runs the remaining handlers in the chain. Handlers that wrap
// behavior around downstream handlers (logging, recovery, auth) call
// Next from within themselves, the same middleware convention gin made
// standard.
func (c *Context) Next() {
	for c.index < len(c.handlers) && !c.aborted {
		h := c.handlers[c.index]
		c.index++
		h(c)
	}
}

// Abort stops the chain after the current handler returns: no further
// handlers run, including the terminal route handler if a middleware
// aborts before calling Next.
func (c *Context) Abort() {
	c.aborted = true
}

// IsAborted reports whether a prior handler called Abort.
func (c *Context) IsAborted() bool {
	return c.aborted
}

// Suspend detaches this request from synchronous completion: the caller
// (an engine) must observe a non-nil Deferred after the chain returns and
// switch to async waiting instead of reading c.Response directly.
// Suspend implies Abort, since nothing downstream should run against a
// response the current handler hasn't produced yet.
func (c *Context) Suspend() *Deferred {
	d := NewDeferred()
	c.deferred = d
	c.Abort()
	return d
}

// Deferred returns the pending async result, or nil if the chain
// completed synchronously.
func (c *Context) Deferred() *Deferred {
	return c.deferred
}

// runOnWorkerAttr is the request attribute key an engine stashes its
// worker-offload function under before dispatch. Only STEL sets it: its
// reactor goroutine may never block, so a handler that needs to run
// blocking code must hand it to STEL's auxiliary pool instead of
// executing it inline. Engines that already run every handler on a
// worker (TPC, HRP) leave it unset, since inline execution there is
// already off the thread that owns any other connection.
const runOnWorkerAttr = "httpcore.runOnWorker"

// RunOnWorker offloads fn to the owning engine's auxiliary worker pool
// when one exists, submitting fn and resolving d with its result, or
// runs fn inline and resolves d immediately otherwise. Either way it
// returns a Deferred so callers use one pattern regardless of which
// engine is serving the request. fn must not touch c.Response
// concurrently with the rest of the handler chain; build the response
// it resolves the Deferred with directly instead.
func (c *Context) RunOnWorker(fn func() (*httpmsg.Response, error)) *Deferred {
	d := c.Suspend()
	if offload, ok := c.Request.Attribute(runOnWorkerAttr).(func(func() (*httpmsg.Response, error), *Deferred)); ok && offload != nil {
		offload(fn, d)
		return d
	}
	resp, err := fn()
	if err != nil {
		d.Reject(err)
	} else {
		d.Resolve(resp)
	}
	return d
}

// SetWorkerOffload wires req so that RunOnWorker hands its work to
// offload instead of running inline. Called by an engine (only STEL,
// today) before Dispatch; never by handler code.
func SetWorkerOffload(req *httpmsg.Request, offload func(fn func() (*httpmsg.Response, error), d *Deferred)) {
	req.SetAttribute(runOnWorkerAttr, offload)
}

func (c *Context) reset() {
	c.Request = nil
	c.Response = nil
	c.Route = nil
	c.handlers = c.handlers[:0]
	c.index = 0
	c.aborted = false
	c.deferred = nil
	c.router = nil
}
