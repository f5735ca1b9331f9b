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

// Package tracing gives every engine one span per request, covering parse
// through respond, built directly on the OpenTelemetry SDK rather than any
// specific exporter. A Recorder always owns a real *sdktrace.TracerProvider;
// whether spans go anywhere is decided by whichever trace.SpanExporter (if
// any) the caller supplies via WithExporter, so this package never has an
// opinion on stdout vs. OTLP vs. any other backend.
package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nivenkamath/httpcore/httpmsg"
)

const instrumentationName = "github.com/nivenkamath/httpcore/tracing"

// Recorder wraps a TracerProvider scoped to one httpcore process. It is safe
// for concurrent use by every reactor, worker, and pool goroutine that calls
// into it.
type Recorder struct {
	tracer     trace.Tracer
	provider   *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator

	serviceName    string
	serviceVersion string

	shutdownOnce sync.Once
}

// Option configures a Recorder at construction.
type Option func(*config)

type config struct {
	serviceName    string
	serviceVersion string
	sampleRatio    float64
	exporter       sdktrace.SpanExporter
	propagator     propagation.TextMapPropagator
}

// WithServiceName sets the service.name resource attribute every span in
// this process carries. Defaults to "httpcore".
func WithServiceName(name string) Option {
	return func(c *config) { c.serviceName = name }
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(version string) Option {
	return func(c *config) { c.serviceVersion = version }
}

// WithSampleRatio sets the fraction of traces recorded, in [0,1]. Defaults
// to 1 (always sample). Sampling is delegated to
// sdktrace.TraceIDRatioBased, which makes its decision from the trace ID
// rather than an atomic counter, so sampling stays consistent across every
// span of one trace even when a request fans out across engines.
func WithSampleRatio(ratio float64) Option {
	return func(c *config) { c.sampleRatio = ratio }
}

// WithExporter supplies the destination spans are batched to. Without one, a
// Recorder still creates and finishes real, attribute-bearing spans — they
// are simply never exported anywhere, which keeps this package usable with
// no network dependency at all until a caller chooses to wire one in.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(c *config) { c.exporter = exp }
}

// WithPropagator overrides the propagator used by ExtractTraceContext and
// InjectTraceContext. Defaults to W3C trace-context plus baggage.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *config) { c.propagator = p }
}

// New builds a Recorder. It never performs network I/O itself; any I/O is
// whatever the supplied exporter's BatchSpanProcessor does in the
// background.
func New(opts ...Option) *Recorder {
	cfg := &config{
		serviceName:    "httpcore",
		serviceVersion: "dev",
		sampleRatio:    1,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.propagator == nil {
		cfg.propagator = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{})
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.serviceName),
		semconv.ServiceVersion(cfg.serviceVersion),
	)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.sampleRatio))),
	}
	if cfg.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.exporter))
	}
	provider := sdktrace.NewTracerProvider(tpOpts...)

	return &Recorder{
		tracer:         provider.Tracer(instrumentationName),
		provider:       provider,
		propagator:     cfg.propagator,
		serviceName:    cfg.serviceName,
		serviceVersion: cfg.serviceVersion,
	}
}

// Shutdown flushes any pending spans and releases the provider's resources.
// Safe to call more than once; only the first call does anything.
func (r *Recorder) Shutdown(ctx context.Context) error {
	var err error
	r.shutdownOnce.Do(func() {
		err = r.provider.Shutdown(ctx)
	})
	return err
}

// ExtractTraceContext reads an incoming W3C traceparent/tracestate (or
// whatever propagator was configured) out of req's headers, returning a
// context a span started from will link to as a child.
func (r *Recorder) ExtractTraceContext(ctx context.Context, req *httpmsg.Request) context.Context {
	return r.propagator.Extract(ctx, headerCarrier{&req.Headers})
}

// InjectTraceContext writes the span context carried by ctx into resp's
// headers, so a downstream call this process makes (or a response it
// returns) carries the same trace.
func (r *Recorder) InjectTraceContext(ctx context.Context, resp *httpmsg.Response) {
	r.propagator.Inject(ctx, headerCarrier{&resp.Headers})
}

// headerCarrier adapts *httpmsg.Header to propagation.TextMapCarrier. It
// holds a pointer, not a value, since Header's Add/Set grow its internal
// order slice in place and a value copy would silently drop those writes.
type headerCarrier struct {
	h *httpmsg.Header
}

func (c headerCarrier) Get(key string) string { return c.h.Get(key) }
func (c headerCarrier) Set(key, value string) { c.h.Set(key, value) }
func (c headerCarrier) Keys() []string        { return c.h.Names() }

// StartRequestSpan starts the one span covering an entire request — parse
// through respond — named "METHOD /route". route should be the matched
// route's pattern (e.g. "/users/{id}"), not the raw decoded path, so spans
// for the same endpoint aggregate regardless of which id was requested.
func (r *Recorder) StartRequestSpan(ctx context.Context, req *httpmsg.Request, route string) (context.Context, trace.Span) {
	ctx = r.ExtractTraceContext(ctx, req)

	name := fmt.Sprintf("%s %s", req.Method.String(), route)
	ctx, span := r.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))

	span.SetAttributes(
		attribute.String("http.method", req.Method.String()),
		attribute.String("http.target", req.Path),
		attribute.String("http.route", route),
		attribute.String("http.user_agent", req.Headers.Get("User-Agent")),
		attribute.String("net.peer.addr", req.RemoteAddr),
		attribute.String("service.name", r.serviceName),
	)
	return ctx, span
}

// FinishRequestSpan ends span, setting its status from statusCode: 2xx-3xx
// is codes.Ok, 4xx-5xx is codes.Error, matching the convention every HTTP
// instrumentation in the OpenTelemetry ecosystem uses.
func (r *Recorder) FinishRequestSpan(span trace.Span, statusCode int) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	if statusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordContextSwitchOut adds a span event marking that the in-flight
// request has been detached from its executing worker and is now waiting on
// something asynchronous, HRP's "context switch out". reason names what it
// is waiting on (e.g. "deferred-handler").
func RecordContextSwitchOut(span trace.Span, reason string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent("context_switch_out", trace.WithAttributes(
		attribute.String("httpcore.switch.reason", reason),
	))
}

// RecordContextSwitchIn adds a span event marking that a previously detached
// request has been reattached to a worker for response delivery, HRP's
// "context switch in". timedOut distinguishes a normal async completion from
// one the sweeper reaped after the deadline passed.
func RecordContextSwitchIn(span trace.Span, timedOut bool) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent("context_switch_in", trace.WithAttributes(
		attribute.Bool("httpcore.switch.timed_out", timedOut),
	))
}

// SetSpanAttribute is a type-switching convenience for the common attribute
// value types handlers and middleware set; anything else is rendered with
// fmt.Sprintf. This is a no-op on a nil or non-recording span so call sites
// never need to check IsRecording themselves.
func SetSpanAttribute(span trace.Span, key string, value any) {
	if span == nil || !span.IsRecording() {
		return
	}
	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	default:
		span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

// TraceID returns the hex trace ID of the span carried by ctx, or "" if ctx
// carries no valid span context — handy for correlating a log line with its
// trace without threading a *trace.Span through every call.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
