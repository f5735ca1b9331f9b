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

// Package router implements the route matcher and middleware chain shared
// by all three engines. Route registration is eager: this router compiles
// and indexes a route the moment it is registered rather than on the
// first request. Lookups take a read lock (see Router).
package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nivenkamath/httpcore/httpmsg"
)

// Route is a single registered (method, pattern) -> handler binding.
type Route struct {
	Method   string
	Pattern  string
	Priority int
	Name     string

	segments    []httpmsg.Segment
	isStatic    bool
	regexes     map[string]*regexp.Regexp // compiled {name:regex} constraints
	handler     HandlerFunc
	middlewares []HandlerFunc
	seq         int // registration order, for tie-breaking
}

// compileRoute parses pattern into its segment list and computes the
// priority score: static +10, {name} -10, * -20, ** -30, ties broken by
// pattern length then insertion order.
func compileRoute(method, pattern string, seq int) (*Route, error) {
	pattern = normalizeRoutePath(pattern)
	parts := splitPath(pattern)

	r := &Route{
		Method:  method,
		Pattern: pattern,
		seq:     seq,
		regexes: nil,
	}

	score := 0
	static := true
	for i, part := range parts {
		seg, err := compileSegment(part)
		if err != nil {
			return nil, fmt.Errorf("router: route %s %s: %w", method, pattern, err)
		}
		if seg.Kind == httpmsg.SegWildcardN && i != len(parts)-1 {
			return nil, fmt.Errorf("router: route %s %s: ** must be the final segment", method, pattern)
		}
		if seg.Kind != httpmsg.SegStatic {
			static = false
		}
		if seg.Kind == httpmsg.SegTypedParam {
			re, err := regexp.Compile("^(?:" + seg.Regex + ")$")
			if err != nil {
				return nil, fmt.Errorf("router: route %s %s: bad constraint for %s: %w", method, pattern, seg.Name, err)
			}
			if r.regexes == nil {
				r.regexes = make(map[string]*regexp.Regexp)
			}
			r.regexes[seg.Name] = re
		}
		score += seg.Score()
		r.segments = append(r.segments, seg)
	}

	r.Priority = score
	r.isStatic = static
	return r, nil
}

func compileSegment(part string) (httpmsg.Segment, error) {
	switch {
	case part == "*":
		return httpmsg.Segment{Kind: httpmsg.SegWildcard1}, nil
	case part == "**":
		return httpmsg.Segment{Kind: httpmsg.SegWildcardN}, nil
	case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
		inner := part[1 : len(part)-1]
		if inner == "" {
			return httpmsg.Segment{}, fmt.Errorf("empty parameter name in %q", part)
		}
		if name, regex, ok := strings.Cut(inner, ":"); ok {
			if name == "" || regex == "" {
				return httpmsg.Segment{}, fmt.Errorf("malformed typed parameter %q", part)
			}
			return httpmsg.Segment{Kind: httpmsg.SegTypedParam, Name: name, Regex: regex}, nil
		}
		return httpmsg.Segment{Kind: httpmsg.SegParam, Name: inner}, nil
	default:
		return httpmsg.Segment{Kind: httpmsg.SegStatic, Literal: part}, nil
	}
}

// match checks whether path (already split into segments) satisfies r,
// populating params on success.
func (r *Route) match(parts []string, params map[string]string) bool {
	for i, seg := range r.segments {
		if seg.Kind == httpmsg.SegWildcardN {
			return true // matches everything remaining, already validated as last segment
		}
		if i >= len(parts) {
			return false
		}
		switch seg.Kind {
		case httpmsg.SegStatic:
			if parts[i] != seg.Literal {
				return false
			}
		case httpmsg.SegWildcard1:
			// matches, no binding
		case httpmsg.SegParam:
			params[seg.Name] = parts[i]
		case httpmsg.SegTypedParam:
			if re := r.regexes[seg.Name]; re == nil || !re.MatchString(parts[i]) {
				return false
			}
			params[seg.Name] = parts[i]
		}
	}
	return len(parts) == len(r.segments)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// normalizeRoutePath applies the same leading-slash/collapse rule the
// parser applies to incoming request paths, so that a route registered
// as "users//42" and a request for "/users/42" still meet in the middle.
func normalizeRoutePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// less implements the priority ordering: higher score wins; ties
// broken by longer pattern, then earlier registration.
func (r *Route) less(other *Route) bool {
	if r.Priority != other.Priority {
		return r.Priority > other.Priority
	}
	if len(r.Pattern) != len(other.Pattern) {
		return len(r.Pattern) > len(other.Pattern)
	}
	return r.seq < other.seq
}

// paramCountHint counts the route's {name} and {name:regex} segments.
// Nothing in this package calls it: Dispatch always binds parameters
// into a map.
func (r *Route) paramCountHint() int {
	n := 0
	for _, seg := range r.segments {
		if seg.Kind == httpmsg.SegParam || seg.Kind == httpmsg.SegTypedParam {
			n++
		}
	}
	return n
}
