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
	"sort"
	"sync"

	"github.com/nivenkamath/httpcore/apierrors"
	"github.com/nivenkamath/httpcore/httpmsg"
)

// Option configures a Router at construction time, following the same
// functional-options convention used throughout this package.
type Option func(*Router)

// WithNotFound overrides the default 404 handler.
func WithNotFound(h HandlerFunc) Option {
	return func(r *Router) { r.notFound = h }
}

// WithMethodNotAllowed overrides the default 405 handler.
func WithMethodNotAllowed(h HandlerFunc) Option {
	return func(r *Router) { r.methodNotAllowed = h }
}

// Router matches (method, path) pairs to a chain of middlewares and a
// terminal handler. Registration mutates internal state under the write
// lock of an RWMutex; once the server starts issuing Dispatch calls, the
// table is treated as read-mostly and registration is expected to have
// stopped. Reads (lookup, allowedMethods, the global middleware list)
// take the read lock; they are not lock-free.
type Router struct {
	mu sync.RWMutex

	static  map[string]*Route   // "METHOD path" -> route, zero dynamic segments
	dynamic map[string][]*Route // method -> routes with >=1 dynamic segment, priority-sorted
	byPath  map[string][]string // normalized pattern -> methods registered against it; allowedMethods does not read it

	middlewares []HandlerFunc
	seq         int

	notFound         HandlerFunc
	methodNotAllowed HandlerFunc
}

// New builds an empty Router. Routes and global middlewares are added
// with Use/Handle/GET/.../Group before the router is handed to an engine.
func New(opts ...Option) *Router {
	r := &Router{
		static:  make(map[string]*Route),
		dynamic: make(map[string][]*Route),
		byPath:  make(map[string][]string),
	}
	r.notFound = func(c *Context) {
		c.Response.SetStatus(404)
		writeErrBody(c.Response, apierrors.NotFound(c.Request.Path))
	}
	r.methodNotAllowed = func(c *Context) {
		allow := r.allowedMethods(c.Request.Path)
		c.Response.SetHeader("Allow", joinComma(allow))
		c.Response.SetStatus(405)
		writeErrBody(c.Response, apierrors.MethodNotAllowed(c.Request.Path))
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Use appends global middlewares, run before every route's own
// middlewares and handler, in registration order.
func (r *Router) Use(mws ...HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mws...)
}

// Handle registers pattern for method. middlewares run only for requests
// that match this exact route, after the router's global middlewares.
func (r *Router) Handle(method, pattern string, handler HandlerFunc, middlewares ...HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	route, err := compileRoute(method, pattern, r.seq)
	if err != nil {
		return err
	}
	r.seq++
	route.handler = handler
	route.middlewares = append([]HandlerFunc(nil), middlewares...)

	if route.isStatic {
		r.static[method+" "+route.Pattern] = route
	} else {
		r.dynamic[method] = append(r.dynamic[method], route)
		sort.SliceStable(r.dynamic[method], func(i, j int) bool {
			return r.dynamic[method][i].less(r.dynamic[method][j])
		})
	}
	r.byPath[route.Pattern] = append(r.byPath[route.Pattern], method)
	return nil
}

func (r *Router) GET(pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	return r.Handle(httpmsg.MethodGET.String(), pattern, handler, mws...)
}
func (r *Router) POST(pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	return r.Handle(httpmsg.MethodPOST.String(), pattern, handler, mws...)
}
func (r *Router) PUT(pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	return r.Handle(httpmsg.MethodPUT.String(), pattern, handler, mws...)
}
func (r *Router) PATCH(pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	return r.Handle(httpmsg.MethodPATCH.String(), pattern, handler, mws...)
}
func (r *Router) DELETE(pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	return r.Handle(httpmsg.MethodDELETE.String(), pattern, handler, mws...)
}

// Group returns a RouteGroup that prefixes every pattern registered
// through it and prepends its own middlewares ahead of each route's.
func (r *Router) Group(prefix string, mws ...HandlerFunc) *RouteGroup {
	return &RouteGroup{router: r, prefix: normalizeRoutePath(prefix), middlewares: mws}
}

// ResourceHandlers is a CRUD convenience: a resource()-style
// bulk-registration helper alongside the raw GET/POST/... methods. Any
// nil field is simply not registered.
type ResourceHandlers struct {
	Index  HandlerFunc // GET    basePath
	Show   HandlerFunc // GET    basePath/{id}
	Create HandlerFunc // POST   basePath
	Update HandlerFunc // PUT    basePath/{id}
	Delete HandlerFunc // DELETE basePath/{id}
}

// Resource registers up to five conventional routes under basePath in one
// call.
func (r *Router) Resource(basePath string, h ResourceHandlers, mws ...HandlerFunc) error {
	base := normalizeRoutePath(basePath)
	item := base + "/{id}"
	reg := func(method, pattern string, handler HandlerFunc) error {
		if handler == nil {
			return nil
		}
		return r.Handle(method, pattern, handler, mws...)
	}
	if err := reg(httpmsg.MethodGET.String(), base, h.Index); err != nil {
		return err
	}
	if err := reg(httpmsg.MethodGET.String(), item, h.Show); err != nil {
		return err
	}
	if err := reg(httpmsg.MethodPOST.String(), base, h.Create); err != nil {
		return err
	}
	if err := reg(httpmsg.MethodPUT.String(), item, h.Update); err != nil {
		return err
	}
	return reg(httpmsg.MethodDELETE.String(), item, h.Delete)
}

// RouteGroup is a prefixed, middleware-scoped registration handle
// produced by Router.Group.
type RouteGroup struct {
	router      *Router
	prefix      string
	middlewares []HandlerFunc
}

func (g *RouteGroup) join(pattern string) string {
	p := normalizeRoutePath(pattern)
	if p == "/" {
		return g.prefix
	}
	return normalizeRoutePath(g.prefix + p)
}

func (g *RouteGroup) Handle(method, pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	all := append(append([]HandlerFunc(nil), g.middlewares...), mws...)
	return g.router.Handle(method, g.join(pattern), handler, all...)
}

func (g *RouteGroup) GET(pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	return g.Handle(httpmsg.MethodGET.String(), pattern, handler, mws...)
}
func (g *RouteGroup) POST(pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	return g.Handle(httpmsg.MethodPOST.String(), pattern, handler, mws...)
}
func (g *RouteGroup) PUT(pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	return g.Handle(httpmsg.MethodPUT.String(), pattern, handler, mws...)
}
func (g *RouteGroup) PATCH(pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	return g.Handle(httpmsg.MethodPATCH.String(), pattern, handler, mws...)
}
func (g *RouteGroup) DELETE(pattern string, handler HandlerFunc, mws ...HandlerFunc) error {
	return g.Handle(httpmsg.MethodDELETE.String(), pattern, handler, mws...)
}

// Dispatch matches req against the route table and runs the resulting
// middleware+handler chain to completion (or to the point a handler
// calls Suspend). The returned Context is owned by the caller, which
// must call Router.Release once it has read Response/Deferred from it.
//
// Matching proceeds in order: exact static match first, then
// priority-ordered dynamic matching, then method-mismatch (405) before
// falling through to not-found (404).
func (r *Router) Dispatch(req *httpmsg.Request) *Context {
	c := acquireContext()
	c.Request = req
	c.Response = httpmsg.NewResponse()
	c.router = r

	route, params := r.lookup(req.Method.String(), req.Path)
	var chain []HandlerFunc

	r.mu.RLock()
	globals := append([]HandlerFunc(nil), r.middlewares...)
	r.mu.RUnlock()

	switch {
	case route != nil:
		c.Route = route
		if len(params) > 0 {
			if req.PathParams == nil {
				req.PathParams = make(map[string]string, len(params))
			}
			for k, v := range params {
				req.PathParams[k] = v
			}
		}
		chain = append(chain, globals...)
		chain = append(chain, route.middlewares...)
		chain = append(chain, route.handler)
	case len(r.allowedMethods(req.Path)) > 0:
		chain = append(chain, globals...)
		chain = append(chain, r.methodNotAllowed)
	default:
		chain = append(chain, globals...)
		chain = append(chain, r.notFound)
	}

	c.handlers = chain
	c.Next()
	return c
}

// Release returns ctx to the pool. Callers must not touch ctx, or any
// Request/Response it produced, afterward.
func (r *Router) Release(c *Context) {
	releaseContext(c)
}

func (r *Router) lookup(method, path string) (*Route, map[string]string) {
	path = normalizeRoutePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if route, ok := r.static[method+" "+path]; ok {
		return route, nil
	}

	parts := splitPath(path)
	params := make(map[string]string)
	for _, route := range r.dynamic[method] {
		for k := range params {
			delete(params, k)
		}
		if route.match(parts, params) {
			out := make(map[string]string, len(params))
			for k, v := range params {
				out[k] = v
			}
			return route, out
		}
	}
	return nil, nil
}

// allowedMethods lists every method registered against path, used to
// distinguish 404 from 405 and to populate the Allow header.
func (r *Router) allowedMethods(path string) []string {
	path = normalizeRoutePath(path)
	parts := splitPath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var methods []string
	seen := make(map[string]bool)
	for key, route := range r.static {
		if route.Pattern == path {
			m := key[:len(key)-len(path)-1]
			if !seen[m] {
				seen[m] = true
				methods = append(methods, m)
			}
		}
	}
	for method, routes := range r.dynamic {
		if seen[method] {
			continue
		}
		params := make(map[string]string)
		for _, route := range routes {
			if route.match(parts, params) {
				seen[method] = true
				methods = append(methods, method)
				break
			}
		}
	}
	sort.Strings(methods)
	return methods
}

func writeErrBody(resp *httpmsg.Response, apiErr *apierrors.Error) {
	resp.SetHeader("Content-Type", "text/plain; charset=utf-8")
	_, _ = resp.Write([]byte(apiErr.Reason))
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
