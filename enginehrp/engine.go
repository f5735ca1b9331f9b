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

// Package enginehrp implements the hybrid reactor+pool engine: a small
// fixed set of reactor goroutines own every connection's readiness,
// parsing, and response writing, while the worker pool runs only
// middleware and handler code. A connection moves through
// ACCEPTED -> READING -> DISPATCHED -> PROCESSING -> RESPONDING, then
// back to READING on keep-alive or CLOSING otherwise. Read interest is
// deregistered the moment a request completes and only re-enabled once
// its response has been fully written, so one connection never has two
// requests in flight at once.
package enginehrp

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

// connState is one accepted connection's reactor-owned bookkeeping: the
// parser driving it, which reactor goroutine owns it, and how many
// requests it has served. Only the owning loop's goroutine touches the
// mutable fields outside of closeConn's CAS guard, since a connection is
// handed to the worker pool only for the duration of one handler call and
// every response write is funneled back through that loop via Post.
type connState struct {
	conn    net.Conn
	loop    *reactor.Loop
	parser  *parser.Parser
	readBuf []byte
	served  int
	closed  atomic.Bool
}

// requestSpanAttr is the httpmsg.Request attribute key a request's span is
// stashed under between dispatch and postResponse, the only way to carry
// it across the worker-pool boundary without widening connState.
const requestSpanAttr = "httpcore.tracing.span"

// Engine is the hybrid reactor+pool implementation of engine.Engine.
type Engine struct {
	cfg      engine.Config
	router   *router.Router
	logger   *slog.Logger
	counters *engine.Counters
	tracer   *tracing.Recorder

	mu       sync.Mutex
	listener net.Listener
	loops    []*reactor.Loop
	workers  *pool.Pool
	asyncMgr *asyncctx.Manager
	closed   bool
	running  bool
	done     chan struct{}

	wg      sync.WaitGroup
	connsMu sync.Mutex
	conns   map[net.Conn]*connState
}

// New builds an HRP engine serving r under cfg. A nil logger falls back
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
// one span from dispatch through response, with HRP's context switch out/in
// recorded as span events. Nil (the default) disables tracing entirely at
// zero cost: dispatch never even checks req.Attributes in that case.
func (e *Engine) SetTracer(t *tracing.Recorder) { e.tracer = t }

// IsRunning reports whether Start has succeeded and Stop has not yet
// completed.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start binds the listener, spins up one reactor goroutine per
// GOMAXPROCS, and begins accepting connections in the background.
func (e *Engine) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.cfg.Address())
	if err != nil {
		return apierrors.Fatal(err)
	}

	numLoops := runtime.GOMAXPROCS(0)
	if numLoops < 1 {
		numLoops = 1
	}
	loops := make([]*reactor.Loop, numLoops)
	for i := range loops {
		idx := i
		l, lerr := reactor.NewLoop(func(conn net.Conn) { e.onReadable(loops[idx], conn) })
		if lerr != nil {
			for j := 0; j < idx; j++ {
				_ = loops[j].Close()
			}
			_ = ln.Close()
			return apierrors.Fatal(lerr)
		}
		loops[idx] = l
	}

	e.mu.Lock()
	e.listener = ln
	e.loops = loops
	e.workers = pool.New("hrp", append(e.cfg.PoolOptions(), pool.WithLogger(e.logger))...)
	e.asyncMgr = asyncctx.NewManager("hrp", asyncctx.WithDefaultTimeout(e.cfg.AsyncContextTimeout))
	e.running = true
	e.mu.Unlock()

	for _, l := range loops {
		go func(l *reactor.Loop) {
			if runErr := l.Run(); runErr != nil {
				e.logger.Error("hrp: reactor loop stopped", "error", runErr)
			}
		}(l)
	}
	go e.acceptLoop(ln)
	return nil
}

// acceptLoop blockingly accepts connections and hands each one to a
// reactor goroutine chosen round-robin, so load is spread evenly across
// the fixed set of loops rather than all landing on one.
func (e *Engine) acceptLoop(ln net.Listener) {
	var next uint64
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-e.done:
				return
			default:
			}
			e.logger.Warn("hrp: accept failed", "error", err)
			continue
		}

		e.counters.ConnectionsAccepted.Add(1)
		loop := e.loops[next%uint64(len(e.loops))]
		next++

		cs := &connState{
			conn:    conn,
			loop:    loop,
			parser:  parser.New(e.cfg.ParserLimits()),
			readBuf: make([]byte, 16<<10),
		}
		e.trackConn(conn, cs)

		if regErr := loop.Register(conn); regErr != nil {
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

// onReadable runs on loop's own goroutine: it reads whatever is
// available, feeds the connection's parser, and either hands a completed
// request to the pool, closes the connection on error, or re-arms the
// one-shot notification to wait for more bytes.
func (e *Engine) onReadable(loop *reactor.Loop, notified net.Conn) {
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

	if regErr := loop.Register(raw); regErr != nil {
		e.closeConn(cs)
	}
}

// handleParseOutcome dispatches a completed request to the pool, emits a
// 400 and closes on a protocol error, or re-arms read interest when more
// bytes are still needed. Always runs on the owning loop's goroutine,
// whether called from onReadable or from resume's post-response retry.
func (e *Engine) handleParseOutcome(cs *connState, outcome parser.Outcome, req *httpmsg.Request, apiErr *apierrors.Error) {
	switch outcome {
	case parser.NeedMore:
		if regErr := cs.loop.Register(cs.conn); regErr != nil {
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

// dispatch hands req to the worker pool. A rejection (pool saturated) is
// answered with 503 immediately, from the reactor goroutine, rather than
// being queued or retried.
func (e *Engine) dispatch(cs *connState, req *httpmsg.Request) {
	if e.tracer != nil {
		_, span := e.tracer.StartRequestSpan(context.Background(), req, req.Path)
		req.SetAttribute(requestSpanAttr, span)
	}

	if _, err := e.workers.Submit(func() { e.serveOnWorker(cs, req) }, 0); err != nil {
		apiErr := apierrors.Backpressure()
		e.counters.RecordError(apiErr.Class)
		resp, _ := engine.ErrorResponse(apiErr)
		if e.tracer != nil {
			e.tracer.FinishRequestSpan(e.requestSpan(req), resp.Status)
		}
		cs.served++
		e.finishResponse(cs, resp, false)
	}
}

// serveOnWorker runs the middleware+handler chain on a pool goroutine. A
// handler that suspends is tracked by an asyncctx.Context so it is
// reaped on timeout even if the handler never resolves its deferred;
// either way, the eventual result is posted back to the owning reactor
// loop rather than written from this goroutine.
func (e *Engine) serveOnWorker(cs *connState, req *httpmsg.Request) {
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
		e.postResponse(cs, req, resp, nil)
		return
	}

	tracing.RecordContextSwitchOut(span, "deferred-handler")

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

// requestSpan returns the span dispatch stashed on req, or nil if tracing is
// disabled for this engine.
func (e *Engine) requestSpan(req *httpmsg.Request) trace.Span {
	if e.tracer == nil {
		return nil
	}
	span, _ := req.Attribute(requestSpanAttr).(trace.Span)
	return span
}

// postResponse schedules the actual write-back on cs's owning loop: this
// is the "context switch in" half of HRP's async handling, the only
// point where a result produced off the reactor thread is allowed to
// touch the connection again.
func (e *Engine) postResponse(cs *connState, req *httpmsg.Request, resp *httpmsg.Response, err error) {
	cs.loop.Post(func() {
		if err != nil {
			apiErr := apierrors.Handler(err)
			if errors.Is(err, asyncctx.ErrTimeout) {
				apiErr = apierrors.AsyncTimeout()
				e.counters.ContextSweepEvents.Add(1)
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
// buffer (a client that pipelined ahead of the response) before falling
// back to waiting on the next readiness notification. Either way exactly
// one request is in flight on this connection at a time.
func (e *Engine) resume(cs *connState) {
	outcome, req, apiErr := cs.parser.Feed(nil)
	e.handleParseOutcome(cs, outcome, req, apiErr)
}

// closeConn tears down cs exactly once, however it was reached: a read
// error, a protocol error, a write failure, or shutdown force-closing
// whatever remains.
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
	loops := e.loops
	workers := e.workers
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

	for _, l := range loops {
		_ = l.Close()
	}
	if workers != nil {
		workers.Close()
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
