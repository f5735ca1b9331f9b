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

// Package enginestel implements the single-threaded event-loop engine:
// exactly one reactor goroutine owns accept, read, parse, route, and
// write for every connection on the server. A non-blocking handler runs
// inline on that goroutine; a handler that must block calls
// router.Context.RunOnWorker to hand the blocking part to a small
// auxiliary pool instead, and the reactor picks the result back up
// through Loop.Post once it's ready. Nothing that can block may run on
// the reactor goroutine itself — a handler that blocks inline without
// going through RunOnWorker stalls every other connection on the server.
package enginestel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/nivenkamath/httpcore/apierrors"
	"github.com/nivenkamath/httpcore/asyncctx"
	"github.com/nivenkamath/httpcore/engine"
	"github.com/nivenkamath/httpcore/httpmsg"
	"github.com/nivenkamath/httpcore/parser"
	"github.com/nivenkamath/httpcore/pool"
	"github.com/nivenkamath/httpcore/reactor"
	"github.com/nivenkamath/httpcore/router"
	"github.com/nivenkamath/httpcore/tracing"
)

// requestSpanAttr is the httpmsg.Request attribute key a request's span is
// stashed under between dispatch and postResponse, mirroring enginehrp.
const requestSpanAttr = "httpcore.tracing.span"

// connState is one accepted connection's reactor-owned bookkeeping,
// mirroring enginehrp's connState; STEL has only one loop, so the field
// is carried here purely so the onReadable/handleParseOutcome/resume
// machinery below reads identically to HRP's.
type connState struct {
	conn    net.Conn
	loop    *reactor.Loop
	parser  *parser.Parser
	readBuf []byte
	served  int
	closed  atomic.Bool
}

// Engine is the single-threaded event-loop implementation of engine.Engine.
type Engine struct {
	cfg      engine.Config
	router   *router.Router
	logger   *slog.Logger
	counters *engine.Counters
	tracer   *tracing.Recorder

	mu       sync.Mutex
	listener net.Listener
	loop     *reactor.Loop
	auxPool  *pool.Pool
	asyncMgr *asyncctx.Manager
	closed   bool
	running  bool
	done     chan struct{}

	wg      sync.WaitGroup
	connsMu sync.Mutex
	conns   map[net.Conn]*connState
}

// New builds a STEL engine serving r under cfg. A nil logger falls back
// to slog.Default().
func New(r *router.Router, cfg engine.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		router:   r,
		logger:   logger,
		counters: engine.NewCounters(),
		done:     make(chan struct{}),
		conns:    make(map[net.Conn]*connState),
	}
}

// Counters returns the engine's observability surface.
func (e *Engine) Counters() *engine.Counters { return e.counters }

// SetTracer wires a tracing.Recorder into the engine so every request gets
// one span covering routing through the inline or offloaded handler call.
// Nil, the default, disables tracing at zero cost.
func (e *Engine) SetTracer(t *tracing.Recorder) { e.tracer = t }

// requestSpan returns the span dispatch stashed on req, or nil if tracing is
// disabled for this engine.
func (e *Engine) requestSpan(req *httpmsg.Request) trace.Span {
	if e.tracer == nil {
		return nil
	}
	span, _ := req.Attribute(requestSpanAttr).(trace.Span)
	return span
}

// IsRunning reports whether Start has succeeded and Stop has not yet
// completed.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start binds the listener, spins up the single reactor goroutine and
// the small auxiliary pool, and begins accepting connections in the
// background.
func (e *Engine) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.cfg.Address())
	if err != nil {
		return apierrors.Fatal(err)
	}

	l, lerr := reactor.NewLoop(e.onReadable)
	if lerr != nil {
		_ = ln.Close()
		return apierrors.Fatal(lerr)
	}

	auxSize := e.cfg.AuxPoolSize
	if auxSize <= 0 {
		auxSize = runtime.GOMAXPROCS(0)
		if auxSize < 1 {
			auxSize = 1
		}
	}

	e.mu.Lock()
	e.listener = ln
	e.loop = l
	e.auxPool = pool.New("stel-aux", append(e.cfg.AuxPoolOptions(auxSize), pool.WithLogger(e.logger))...)
	e.asyncMgr = asyncctx.NewManager("stel", asyncctx.WithDefaultTimeout(e.cfg.AsyncContextTimeout))
	e.running = true
	e.mu.Unlock()

	// The reactor goroutine is deliberately not wrapped in a recover: a
	// handler panic is caught by whatever Recovery middleware the router
	// chain runs, turned into a 500 before it ever reaches here; anything
	// that still escapes to this point is a bug in the engine itself, and
	// per the single-threaded model's failure semantics that terminates
	// the process rather than continuing in an unknown state.
	go func() {
		if runErr := l.Run(); runErr != nil {
			e.logger.Error("stel: reactor loop stopped", "error", runErr)
		}
	}()
	go e.acceptLoop(ln)
	return nil
}

// acceptLoop blockingly accepts connections and registers each one with
// the single reactor loop.
func (e *Engine) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-e.done:
				return
			default:
			}
			e.logger.Warn("stel: accept failed", "error", err)
			continue
		}

		e.counters.ConnectionsAccepted.Add(1)
		cs := &connState{
			conn:    conn,
			loop:    e.loop,
			parser:  parser.New(e.cfg.ParserLimits()),
			readBuf: make([]byte, 16<<10),
		}
		e.trackConn(conn, cs)

		if regErr := e.loop.Register(conn); regErr != nil {
			e.counters.RecordError(apierrors.ClassFatal)
			e.closeConn(cs)
		}
	}
}

func (e *Engine) trackConn(conn net.Conn, cs *connState) {
	e.wg.Add(1)
	e.connsMu.Lock()
	e.conns[conn] = cs
	e.connsMu.Unlock()
}

func (e *Engine) untrackConn(conn net.Conn) {
	e.connsMu.Lock()
	delete(e.conns, conn)
	e.connsMu.Unlock()
	e.wg.Done()
}

// onReadable runs on the single reactor goroutine: it reads whatever is
// available, feeds the connection's parser, and either routes and
// handles a completed request inline, closes the connection on error,
// or re-arms the one-shot notification to wait for more bytes.
func (e *Engine) onReadable(notified net.Conn) {
	raw := reactor.Unwrap(notified)
	e.connsMu.Lock()
	cs, ok := e.conns[raw]
	e.connsMu.Unlock()
	if !ok {
		return
	}

	n, err := notified.Read(cs.readBuf)
	if n > 0 {
		e.counters.BytesIn.Add(uint64(n))
		outcome, req, apiErr := cs.parser.Feed(cs.readBuf[:n])
		if outcome != parser.NeedMore {
			e.handleParseOutcome(cs, outcome, req, apiErr)
			return
		}
	}
	if err != nil {
		if isTimeout(err) {
			e.counters.RecordError(apierrors.ClassTimeout)
		} else if !errors.Is(err, io.EOF) {
			e.counters.RecordError(apierrors.ClassTransport)
		}
		e.closeConn(cs)
		return
	}

	if regErr := e.loop.Register(raw); regErr != nil {
		e.closeConn(cs)
	}
}

// handleParseOutcome routes and invokes the handler chain inline for a
// completed request, emits a 400 and closes on a protocol error, or
// re-arms read interest when more bytes are still needed. Always runs
// on the reactor goroutine, whether called from onReadable or from
// resume's post-response retry.
func (e *Engine) handleParseOutcome(cs *connState, outcome parser.Outcome, req *httpmsg.Request, apiErr *apierrors.Error) {
	switch outcome {
	case parser.NeedMore:
		if regErr := e.loop.Register(cs.conn); regErr != nil {
			e.closeConn(cs)
		}
	case parser.ProtocolError:
		e.counters.RecordError(apiErr.Class)
		if resp, _ := engine.ErrorResponse(apiErr); resp != nil {
			_, _ = engine.WriteResponse(cs.conn, resp, false)
		}
		e.closeConn(cs)
	case parser.Complete:
		e.dispatch(cs, req)
	}
}

// dispatch routes and runs the handler chain inline, the defining trait
// of the single-threaded model: no pool submission happens for the
// common synchronous path. A handler that wants to block wires itself
// to the auxiliary pool through Context.RunOnWorker, which this method
// makes available on req before Dispatch runs.
func (e *Engine) dispatch(cs *connState, req *httpmsg.Request) {
	router.SetWorkerOffload(req, e.offload)

	if e.tracer != nil {
		_, span := e.tracer.StartRequestSpan(context.Background(), req, req.Path)
		req.SetAttribute(requestSpanAttr, span)
	}

	ctx := e.router.Dispatch(req)
	resp := ctx.Response
	deferred := ctx.Deferred()
	route := ctx.Route
	e.router.Release(ctx)

	span := e.requestSpan(req)
	if span != nil && route != nil {
		tracing.SetSpanAttribute(span, "http.route", route.Pattern)
	}

	if deferred == nil {
		if e.tracer != nil {
			e.tracer.FinishRequestSpan(span, resp.Status)
		}
		cs.served++
		keepAlive := engine.DecideKeepAlive(req, resp, cs.served, e.cfg.MaxRequestsPerConnection)
		e.finishResponse(cs, resp, keepAlive)
		return
	}

	tracing.RecordContextSwitchOut(span, "offloaded-handler")

	actx := e.asyncMgr.Create(e.cfg.AsyncContextTimeout)
	actx.Begin()
	deferred.OnComplete(func(r *httpmsg.Response, derr error) {
		if derr != nil {
			actx.Fail(derr)
		} else {
			actx.Complete(r)
		}
	})
	actx.OnComplete(func(c *asyncctx.Context) {
		r, aerr, _ := c.Result()
		tracing.RecordContextSwitchIn(span, errors.Is(aerr, asyncctx.ErrTimeout))
		e.postResponse(cs, req, r, aerr)
	})
}

// offload hands fn to the auxiliary pool and settles d with its result.
// Wired onto every request as the Context.RunOnWorker backend; never
// called directly by engine code.
func (e *Engine) offload(fn func() (*httpmsg.Response, error), d *router.Deferred) {
	if _, err := e.auxPool.Submit(func() {
		resp, err := fn()
		if err != nil {
			d.Reject(err)
		} else {
			d.Resolve(resp)
		}
	}, 0); err != nil {
		d.Reject(err)
	}
}

// postResponse schedules the actual write-back on the reactor goroutine
// through Loop.Post: the result producing this call may be running on an
// auxiliary-pool goroutine or an arbitrary caller of Deferred.Resolve, so
// it must never touch cs.conn directly.
func (e *Engine) postResponse(cs *connState, req *httpmsg.Request, resp *httpmsg.Response, err error) {
	cs.loop.Post(func() {
		if err != nil {
			var apiErr *apierrors.Error
			switch {
			case errors.Is(err, asyncctx.ErrTimeout):
				apiErr = apierrors.AsyncTimeout()
				e.counters.ContextSweepEvents.Add(1)
			case errors.As(err, &apiErr):
				// Already typed, e.g. a Backpressure error from a
				// saturated auxiliary pool — keep its class and status
				// rather than flattening it into a generic 500.
			default:
				apiErr = apierrors.Handler(err)
			}
			e.counters.RecordError(apiErr.Class)
			resp, _ = engine.ErrorResponse(apiErr)
		}
		if resp == nil {
			e.closeConn(cs)
			return
		}
		if e.tracer != nil {
			e.tracer.FinishRequestSpan(e.requestSpan(req), resp.Status)
		}
		cs.served++
		keepAlive := engine.DecideKeepAlive(req, resp, cs.served, e.cfg.MaxRequestsPerConnection)
		e.finishResponse(cs, resp, keepAlive)
	})
}

// finishResponse writes resp, then either re-arms the connection for its
// next request (checking for one already pipelined into the buffer) or
// closes it.
func (e *Engine) finishResponse(cs *connState, resp *httpmsg.Response, keepAlive bool) {
	n, err := engine.WriteResponse(cs.conn, resp, keepAlive)
	e.counters.BytesOut.Add(uint64(n))
	if err != nil {
		e.counters.RecordError(apierrors.ClassTransport)
		e.closeConn(cs)
		return
	}
	e.counters.RequestsCompleted.Add(1)
	if !keepAlive {
		e.closeConn(cs)
		return
	}
	e.resume(cs)
}

// resume tries to parse a request already sitting in the connection's
// buffer before falling back to waiting on the next readiness
// notification, the same pipelining discipline enginehrp uses.
func (e *Engine) resume(cs *connState) {
	outcome, req, apiErr := cs.parser.Feed(nil)
	e.handleParseOutcome(cs, outcome, req, apiErr)
}

// closeConn tears down cs exactly once, however it was reached.
func (e *Engine) closeConn(cs *connState) {
	if !cs.closed.CompareAndSwap(false, true) {
		return
	}
	_ = cs.loop.Deregister(cs.conn)
	_ = cs.conn.Close()
	e.untrackConn(cs.conn)
	e.counters.ConnectionsClosed.Add(1)
}

// Stop stops accepting new connections, waits up to ctx's deadline for
// in-flight connections to finish on their own, then force-closes
// whatever remains. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.running = false
	ln := e.listener
	l := e.loop
	auxPool := e.auxPool
	asyncMgr := e.asyncMgr
	e.mu.Unlock()

	close(e.done)
	if ln != nil {
		_ = ln.Close()
	}

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
	}

	e.forceCloseRemaining()

	if l != nil {
		_ = l.Close()
	}
	if auxPool != nil {
		auxPool.Close()
	}
	if asyncMgr != nil {
		asyncMgr.Close()
	}
	return nil
}

func (e *Engine) forceCloseRemaining() {
	e.connsMu.Lock()
	remaining := make([]*connState, 0, len(e.conns))
	for _, cs := range e.conns {
		remaining = append(remaining, cs)
	}
	e.connsMu.Unlock()
	for _, cs := range remaining {
		e.closeConn(cs)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
