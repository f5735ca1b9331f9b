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

package asyncctx

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var errTimeout = errors.New("asyncctx: deadline exceeded")

// ErrTimeout is returned by Context.Wait (via its err return) when a
// context was reaped by the sweeper rather than completed by a handler.
var ErrTimeout = errTimeout

// DefaultTimeout and DefaultSweepInterval are the async-context deadline
// and sweeper cadence used when a Manager isn't configured otherwise.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultSweepInterval = 5 * time.Second
)

// Option configures a Manager at construction.
type Option func(*Manager)

func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) { m.defaultTimeout = d }
}

func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweepInterval = d }
}

// Manager creates and tracks Context values, reaping the ones that
// outlive their deadline. One Manager is typically shared as a
// per-server singleton across an engine instance.
type Manager struct {
	nodeID         string
	seq            atomic.Uint64
	defaultTimeout time.Duration
	sweepInterval  time.Duration

	mu       sync.RWMutex
	contexts map[string]*Context

	stopCh chan struct{}
	once   sync.Once
}

// NewManager builds a Manager and starts its sweeper goroutine. nodeID
// identifies this engine instance in generated context IDs
// ("nodeId-sequence"); pass "" to have one assigned from a fresh UUID.
func NewManager(nodeID string, opts ...Option) *Manager {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	m := &Manager{
		nodeID:         nodeID,
		defaultTimeout: DefaultTimeout,
		sweepInterval:  DefaultSweepInterval,
		contexts:       make(map[string]*Context),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepLoop()
	return m
}

// Create allocates and registers a new Context in state CREATED. A
// timeout of 0 uses the manager's default.
func (m *Manager) Create(timeout time.Duration) *Context {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	id := fmt.Sprintf("%s-%d", m.nodeID, m.seq.Add(1))
	c := newContext(id, m, timeout)

	m.mu.Lock()
	m.contexts[id] = c
	m.mu.Unlock()

	return c
}

// Get returns a tracked context by ID, or false if it has already
// reached a terminal state and been forgotten.
func (m *Manager) Get(id string) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[id]
	return c, ok
}

// Count returns the number of contexts currently tracked (not yet
// terminal), used for the engine's backpressure/observability surface.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.contexts, id)
	m.mu.Unlock()
}

// Close stops the sweeper. Contexts already tracked are left as-is;
// callers are expected to have drained them during graceful shutdown.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.stopCh) })
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepOnce(time.Now())
		}
	}
}

// sweepOnce reaps every tracked context whose deadline has passed and is
// still in a non-terminal state. Exported indirectly via the ticker, and
// called directly by tests to avoid depending on wall-clock timing.
func (m *Manager) sweepOnce(now time.Time) {
	m.mu.RLock()
	var expired []*Context
	for _, c := range m.contexts {
		if !c.Deadline.IsZero() && now.After(c.Deadline) && !c.State().IsTerminal() {
			expired = append(expired, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range expired {
		c.timeout()
	}
}
