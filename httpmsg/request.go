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

package httpmsg

import "fmt"

// Method is the enum of standard HTTP verbs the parser recognizes.
type Method uint8

const (
	MethodUnknown Method = iota
	MethodGET
	MethodHEAD
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodCONNECT
	MethodOPTIONS
	MethodTRACE
	MethodPATCH
)

var methodNames = [...]string{
	MethodUnknown: "",
	MethodGET:     "GET",
	MethodHEAD:    "HEAD",
	MethodPOST:    "POST",
	MethodPUT:     "PUT",
	MethodDELETE:  "DELETE",
	MethodCONNECT: "CONNECT",
	MethodOPTIONS: "OPTIONS",
	MethodTRACE:   "TRACE",
	MethodPATCH:   "PATCH",
}

var methodsByName = func() map[string]Method {
	m := make(map[string]Method, len(methodNames))
	for id, name := range methodNames {
		if name != "" {
			m[name] = Method(id)
		}
	}
	return m
}()

// String returns the wire representation of the method, or "" for MethodUnknown.
func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return ""
}

// ParseMethod maps an uppercase ASCII token to its Method, or MethodUnknown
// if the token is not one of the standard verbs.
func ParseMethod(token string) Method {
	if m, ok := methodsByName[token]; ok {
		return m
	}
	return MethodUnknown
}

// Request is the immutable-after-construction request value produced by the
// parser. Method, Path, Headers, and Body are fixed at construction;
// PathParameters and Attributes are mutable for the duration of the request's
// lifecycle (router binds path parameters, middleware stashes attributes for
// handlers).
type Request struct {
	Method       Method
	Path         string // decoded
	RawQuery     string
	Proto        string // "HTTP/1.1" or "HTTP/1.0"
	Headers      Header
	Body         []byte // immutable, possibly empty
	query        map[string][]string
	queryParsed  bool
	PathParams   map[string]string
	Attributes   map[string]any
	RemoteAddr   string
}

// Query lazily parses and returns the ordered-insertion query parameter map.
// Parsing is deferred because most handlers never touch it.
func (r *Request) Query() map[string][]string {
	if !r.queryParsed {
		r.query = parseQuery(r.RawQuery)
		r.queryParsed = true
	}
	return r.query
}

// QueryValue returns the first value of a query parameter, or "".
func (r *Request) QueryValue(name string) string {
	vs := r.Query()[name]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Param returns a path parameter bound by the router, or "" if absent.
func (r *Request) Param(name string) string {
	if r.PathParams == nil {
		return ""
	}
	return r.PathParams[name]
}

// Attribute returns a middleware-to-handler attribute, or nil if absent.
func (r *Request) Attribute(name string) any {
	if r.Attributes == nil {
		return nil
	}
	return r.Attributes[name]
}

// SetAttribute stashes an opaque value for downstream middleware/handlers.
func (r *Request) SetAttribute(name string, value any) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]any, 4)
	}
	r.Attributes[name] = value
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s %s", r.Method, r.Path, r.Proto)
}

// reset clears a Request for reuse by a pool, mirroring the pooled
// Context.reset() discipline in router/pool.go and router/context.go.
func (r *Request) reset() {
	r.Method = MethodUnknown
	r.Path = ""
	r.RawQuery = ""
	r.Proto = ""
	r.Headers.reset()
	r.Body = nil
	r.query = nil
	r.queryParsed = false
	r.PathParams = nil
	r.Attributes = nil
	r.RemoteAddr = ""
}

func parseQuery(raw string) map[string][]string {
	out := make(map[string][]string)
	if raw == "" {
		return out
	}
	for _, pair := range splitAndKeepOrder(raw, '&') {
		if pair == "" {
			continue
		}
		key, value, _ := cut(pair, '=')
		key = queryUnescape(key)
		value = queryUnescape(value)
		out[key] = append(out[key], value)
	}
	return out
}

func splitAndKeepOrder(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func cut(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// queryUnescape performs percent-decoding and '+'-as-space substitution for
// application/x-www-form-urlencoded query strings.
func queryUnescape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '+':
			out = append(out, ' ')
		case '%':
			if i+2 < len(s) {
				if v, ok := hexByte(s[i+1], s[i+2]); ok {
					out = append(out, v)
					i += 2
					continue
				}
			}
			out = append(out, s[i])
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

func hexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexDigit(hi)
	l, ok2 := hexDigit(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}

func hexDigit(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}
