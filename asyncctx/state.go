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

// Package asyncctx implements the async context manager shared by the
// hybrid reactor+pool and single-threaded event-loop engines: bookkeeping
// for a request that has been detached from its originating reactor
// iteration while a worker (or another async wait) produces its result,
// plus a sweeper that reaps contexts that outlive their deadline.
//
// The compare-and-swap discipline and the "fire callbacks outside any
// lock" rule below follow the same shape as router.Deferred (this
// module's async completion primitive, router/context.go) and the
// atomic-counter idioms visible in
// other_examples/63e30726_searchktools-fast-server__core-middleware-pipeline.go.go's
// AsyncPipeline.
package asyncctx

import "fmt"

// State is one node of the async context lifecycle DAG.
type State int32

const (
	StateCreated State = iota
	StateProcessing
	StateWaiting
	StateCompleted
	StateError
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateProcessing:
		return "processing"
	case StateWaiting:
		return "waiting"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	case StateTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// IsTerminal reports whether s is one of the three terminal states
// (completed, error, timeout) from which no further transition is valid.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError || s == StateTimeout
}

// transitions enumerates every edge of the lifecycle DAG:
// CREATED -> PROCESSING -> (WAITING -> PROCESSING)* -> terminal.
var transitions = map[State]map[State]bool{
	StateCreated:    {StateProcessing: true},
	StateProcessing: {StateWaiting: true, StateCompleted: true, StateError: true, StateTimeout: true},
	StateWaiting:    {StateProcessing: true, StateTimeout: true, StateError: true},
}

func allowed(from, to State) bool {
	return transitions[from][to]
}
