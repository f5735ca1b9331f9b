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

// SegmentKind identifies which of the five pattern-language alternatives
// a single path segment uses. Exactly one applies per segment.
type SegmentKind uint8

const (
	SegStatic     SegmentKind = iota // literal path segment
	SegParam                         // {name}
	SegTypedParam                    // {name:regex}
	SegWildcard1                     // * — one segment, no binding
	SegWildcardN                     // ** — remaining path, no binding
)

// Priority scores: static +10, {name} -10, * -20, ** -30.
const (
	PriorityStatic     = 10
	PriorityParam      = -10
	PriorityWildcard1  = -20
	PriorityWildcardN  = -30
)

// Segment is one compiled element of a route pattern.
type Segment struct {
	Kind    SegmentKind
	Literal string // for SegStatic
	Name    string // for SegParam / SegTypedParam
	Regex   string // raw regex source, for SegTypedParam
}

// Score returns the segment's contribution to the route's priority score.
func (s Segment) Score() int {
	switch s.Kind {
	case SegStatic:
		return PriorityStatic
	case SegParam, SegTypedParam:
		return PriorityParam
	case SegWildcard1:
		return PriorityWildcard1
	case SegWildcardN:
		return PriorityWildcardN
	default:
		return 0
	}
}
