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

package engine

import (
	"sync"
	"sync/atomic"

	"github.com/nivenkamath/httpcore/apierrors"
)

// Counters is the observability surface every engine updates as it runs.
// The metrics package wraps a Counters in Prometheus collectors; engines
// never import Prometheus directly, so they stay testable without a
// registry.
type Counters struct {
	ConnectionsAccepted atomic.Uint64
	ConnectionsClosed   atomic.Uint64
	BytesIn             atomic.Uint64
	BytesOut            atomic.Uint64
	RequestsCompleted   atomic.Uint64
	ContextSweepEvents  atomic.Uint64

	mu            sync.Mutex
	errorsByClass map[apierrors.Class]uint64
}

// NewCounters returns a zeroed Counters ready to use.
func NewCounters() *Counters {
	return &Counters{errorsByClass: make(map[apierrors.Class]uint64)}
}

// RecordError tallies an error by its apierrors.Class.
func (c *Counters) RecordError(class apierrors.Class) {
	c.mu.Lock()
	c.errorsByClass[class]++
	c.mu.Unlock()
}

// Snapshot captures a consistent point-in-time view for export.
type Snapshot struct {
	ConnectionsAccepted uint64
	ConnectionsClosed   uint64
	BytesIn             uint64
	BytesOut            uint64
	RequestsCompleted   uint64
	ContextSweepEvents  uint64
	ErrorsByClass       map[apierrors.Class]uint64
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	errs := make(map[apierrors.Class]uint64, len(c.errorsByClass))
	for k, v := range c.errorsByClass {
		errs[k] = v
	}
	c.mu.Unlock()

	return Snapshot{
		ConnectionsAccepted: c.ConnectionsAccepted.Load(),
		ConnectionsClosed:   c.ConnectionsClosed.Load(),
		BytesIn:             c.BytesIn.Load(),
		BytesOut:            c.BytesOut.Load(),
		RequestsCompleted:   c.RequestsCompleted.Load(),
		ContextSweepEvents:  c.ContextSweepEvents.Load(),
		ErrorsByClass:       errs,
	}
}
