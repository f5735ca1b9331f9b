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

// Package enginetpc implements the thread-per-connection engine: a
// dedicated accept loop hands each connection to the shared worker
// pool, and the worker that picks it up owns that connection, blocking
// on reads and on any deferred handler result, for its entire lifetime.
package enginetpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/nivenkamath/httpcore/apierrors"
	"github.com/nivenkamath/httpcore/engine"
	"github.com/nivenkamath/httpcore/httpmsg"
	"github.com/nivenkamath/httpcore/parser"
	"github.com/nivenkamath/httpcore/pool"
	"github.com/nivenkamath/httpcore/router"
	"github.com/nivenkamath/httpcore/tracing"
)

// Engine is the thread-per-connection implementation of engine.Engine.
type Engine struct {
	cfg      engine.Config
	router   *router.Router
	logger   *slog.Logger
	counters *engine.Counters
	tracer   *tracing.Recorder

	mu       sync.Mutex
	listener net.Listener
	workers  *pool.Pool
	closed   bool
	running  bool
	done     chan struct{}

	wg      sync.WaitGroup
	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// New builds a TPC engine serving r under cfg. A nil logger falls back to
// slog.Default().
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
		conns:    make(map[net.Conn]struct{}),
	}
}

// Counters returns the engine's observability surface.
func (e *Engine) Counters() *engine.Counters { return e.counters }

// SetTracer wires a tracing.Recorder into the engine so every request gets
// one span covering routing through the (possibly blocking) handler call.
// Nil, the default, disables tracing at zero cost.
func (e *Engine) SetTracer(t *tracing.Recorder) { e.tracer = t }

// IsRunning reports whether Start has succeeded and Stop has not yet
// completed.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start binds the listener and begins accepting connections in the
// background, returning once the listener is up.
func (e *Engine) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.cfg.Address())
	if err != nil {
		return apierrors.Fatal(err)
	}

	e.mu.Lock()
	e.listener = ln
	e.workers = pool.New("tpc", append(e.cfg.PoolOptions(), pool.WithLogger(e.logger))...)
	e.running = true
	e.mu.Unlock()

	go e.acceptLoop(ln)
	return nil
}

func (e *Engine) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-e.done:
				return
			default:
			}
			e.logger.Warn("tpc: accept failed", "error", err)
			continue
		}

		e.counters.ConnectionsAccepted.Add(1)
		e.trackConn(conn)
		e.wg.Add(1)

		c := conn
		if _, submitErr := e.workers.Submit(func() { e.serveConnection(c) }, 0); submitErr != nil {
			// Eager-spawn pool saturated at max with a full queue: TPC
			// drops the connection outright rather than queueing or
			// answering with backpressure.
			e.counters.RecordError(apierrors.ClassBackpressure)
			e.untrackConn(c)
			e.wg.Done()
			_ = c.Close()
		}
	}
}

func (e *Engine) trackConn(c net.Conn) {
	e.connsMu.Lock()
	e.conns[c] = struct{}{}
	e.connsMu.Unlock()
}

func (e *Engine) untrackConn(c net.Conn) {
	e.connsMu.Lock()
	delete(e.conns, c)
	e.connsMu.Unlock()
}

// serveConnection is the per-connection worker body: it owns conn
// exclusively until keep-alive ends, the per-connection request limit
// is hit, or an error forces closure.
func (e *Engine) serveConnection(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		e.untrackConn(conn)
		e.wg.Done()
		e.counters.ConnectionsClosed.Add(1)
	}()

	wrapped := engine.NewConnection(conn, e.cfg.WriteBufferBytes, e.cfg.SocketReadTimeout)
	p := parser.New(e.cfg.ParserLimits())
	readBuf := make([]byte, 16<<10)

	served := 0
	for e.cfg.MaxRequestsPerConnection == 0 || served < e.cfg.MaxRequestsPerConnection {
		req, apiErr := readRequest(wrapped, p, readBuf, e.counters)
		if apiErr != nil {
			e.counters.RecordError(apiErr.Class)
			if resp, _ := engine.ErrorResponse(apiErr); resp != nil {
				_, _ = engine.WriteResponse(conn, resp, false)
			}
			return
		}
		if req == nil {
			return // peer closed cleanly between requests
		}

		resp := e.handle(req)

		served++
		keepAlive := engine.DecideKeepAlive(req, resp, served, e.cfg.MaxRequestsPerConnection)
		n, writeErr := engine.WriteResponse(conn, resp, keepAlive)
		e.counters.BytesOut.Add(uint64(n))
		if writeErr != nil {
			e.counters.RecordError(apierrors.ClassTransport)
			return
		}
		e.counters.RequestsCompleted.Add(1)
		if !keepAlive {
			return
		}
	}
}

// handle runs req through the router and, if the handler suspended,
// blocks this worker until the deferred result resolves — TPC
// intentionally never detaches a request from its worker.
func (e *Engine) handle(req *httpmsg.Request) *httpmsg.Response {
	var span trace.Span
	if e.tracer != nil {
		_, span = e.tracer.StartRequestSpan(context.Background(), req, req.Path)
	}

	ctx := e.router.Dispatch(req)
	resp := ctx.Response
	deferred := ctx.Deferred()
	route := ctx.Route
	e.router.Release(ctx)

	if span != nil && route != nil {
		tracing.SetSpanAttribute(span, "http.route", route.Pattern)
	}

	if deferred == nil {
		if e.tracer != nil {
			e.tracer.FinishRequestSpan(span, resp.Status)
		}
		return resp
	}
	waited, waitErr := deferred.Wait()
	if waitErr != nil {
		apiErr := apierrors.Handler(waitErr)
		e.counters.RecordError(apiErr.Class)
		errResp, _ := engine.ErrorResponse(apiErr)
		if e.tracer != nil {
			e.tracer.FinishRequestSpan(span, errResp.Status)
		}
		return errResp
	}
	if e.tracer != nil {
		e.tracer.FinishRequestSpan(span, waited.Status)
	}
	return waited
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
		e.forceCloseRemaining()
		<-drained
	}

	e.mu.Lock()
	workers := e.workers
	e.mu.Unlock()
	if workers != nil {
		workers.Close()
	}
	return nil
}

func (e *Engine) forceCloseRemaining() {
	e.connsMu.Lock()
	defer e.connsMu.Unlock()
	for c := range e.conns {
		_ = c.Close()
	}
}

// readRequest resumes parsing any bytes already buffered from a prior
// pipelined request, then reads fresh chunks until the parser reports
// Complete, ProtocolError, or a transport-level failure. A nil request
// with a nil error means the peer closed cleanly between requests.
func readRequest(conn *engine.Connection, p *parser.Parser, buf []byte, counters *engine.Counters) (*httpmsg.Request, *apierrors.Error) {
	outcome, req, apiErr := p.Feed(nil)
	for outcome == parser.NeedMore {
		n, err := conn.ReadChunk(buf)
		if n > 0 {
			counters.BytesIn.Add(uint64(n))
			outcome, req, apiErr = p.Feed(buf[:n])
			if outcome != parser.NeedMore {
				break
			}
		}
		if err != nil {
			if isTimeout(err) {
				return nil, apierrors.SocketTimeout()
			}
			if errors.Is(err, io.EOF) {
				if n == 0 {
					return nil, nil
				}
				return nil, apierrors.Transport(err)
			}
			return nil, apierrors.Transport(err)
		}
	}

	switch outcome {
	case parser.Complete:
		return req, nil
	case parser.ProtocolError:
		return nil, apiErr
	default:
		return nil, apierrors.Transport(errors.New("enginetpc: connection closed mid-request"))
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
