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

// Package pool implements the adaptive worker pool shared by all three
// engines: the thread-per-connection engine runs each connection on it,
// and the hybrid reactor+pool and single-threaded event-loop engines use
// it to offload blocking/CPU-bound work off their reactor goroutines.
//
// Submission follows the Tomcat executor's inverted policy rather than the
// classical queue-first one: a task is handed to a freshly spawned worker
// before it is ever queued, for as long as the pool has room to grow
// toward max. Only once max workers are already alive does a submission
// fall back to the bounded priority queue, and only once that queue is
// full does submission report backpressure.
//
// The corpus's own worker-pool dependency, github.com/alitto/pond/v2
// (slicingmelon-gobypass403/core/engine/rawhttp/requestworkerpool.go), was
// considered and not used: pond schedules FIFO and grows eagerly up to a
// fixed size but has no priority ordering and no shrink-on-idle policy, so
// it cannot express the priority-queue and adaptive-resize requirements
// this package needs. Its atomic-counter style for exposing pool
// statistics (RunningWorkers/SubmittedTasks/CompletedTasks) is reused here
// via sync/atomic.
package pool

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nivenkamath/httpcore/apierrors"
	"github.com/nivenkamath/httpcore/logging"
)

// ErrClosed is returned by Submit once the pool has been shut down.
var ErrClosed = errors.New("pool: closed")

// Handle is returned by Submit so a caller that wants to block for a
// task's completion can do so.
type Handle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task completes, returning any panic it recovered
// from as an error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Counters is a point-in-time snapshot of pool activity, folded into
// engine.Counters for metrics export.
type Counters struct {
	Submitted     uint64
	Completed     uint64
	Rejected      uint64
	ActiveWorkers int64
	BusyWorkers   int64
	QueuedTasks   int64
}

// Option configures a Pool at construction, matching the engine config
// keys poolCore/poolMax/poolQueueCapacity/poolKeepAliveMs/poolScaleStep.
type Option func(*Pool)

func WithCore(n int) Option           { return func(p *Pool) { p.core = n } }
func WithMax(n int) Option            { return func(p *Pool) { p.max = n } }
func WithQueueCapacity(n int) Option  { return func(p *Pool) { p.queueCapacity = n } }
func WithKeepAlive(d time.Duration) Option { return func(p *Pool) { p.keepAlive = d } }
func WithScaleStep(n int) Option      { return func(p *Pool) { p.scaleStep = n } }
func WithResizeInterval(d time.Duration) Option {
	return func(p *Pool) { p.resizeInterval = d }
}
func WithLogger(l logging.Logger) Option { return func(p *Pool) { p.logger = l } }

// Pool is a named, bounded, adaptively-sized worker pool.
type Pool struct {
	name           string
	core           int
	max            int
	queueCapacity  int
	keepAlive      time.Duration
	scaleStep      int
	resizeInterval time.Duration
	logger         logging.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	queue      taskQueue
	seq        int64
	workerSeq  int64
	active     int
	busy       int
	stopSignal int
	idleTicks  int
	closed     bool
	closeCh    chan struct{}

	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
}

// New builds a pool named name and immediately spawns core workers.
func New(name string, opts ...Option) *Pool {
	p := &Pool{
		name:           name,
		core:           8,
		max:            200,
		queueCapacity:  1000,
		keepAlive:      60 * time.Second,
		scaleStep:      4,
		resizeInterval: 5 * time.Second,
		logger:         logging.NoOp,
		closeCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cond = sync.NewCond(&p.mu)

	p.mu.Lock()
	for i := 0; i < p.core; i++ {
		p.spawnWorkerLocked()
	}
	p.mu.Unlock()

	go p.resizeLoop()
	return p
}

// Submit enqueues fn for execution at the given priority (higher runs
// first; equal priorities run in submission order). Returns
// *apierrors.Error (class Backpressure) if the pool is saturated, or
// ErrClosed if the pool has been shut down.
func (p *Pool) Submit(fn func(), priority int) (*Handle, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	// Eager spawn: if every worker is either busy or already spoken for by
	// a queued task, and there's still room to grow, spawn one for this task.
	if p.busy+p.queue.Len() >= p.active && p.active < p.max {
		p.spawnWorkerLocked()
	}

	// Saturated: at max workers, and the tasks queued beyond what the idle
	// workers will pick up already fill queueCapacity.
	if p.active >= p.max && p.queue.Len()+p.busy >= p.queueCapacity+p.active {
		p.mu.Unlock()
		p.rejected.Add(1)
		return nil, apierrors.Backpressure()
	}

	h := &Handle{done: make(chan struct{})}
	t := &task{fn: fn, handle: h, priority: priority, seq: p.seq}
	p.seq++
	heap.Push(&p.queue, t)
	p.submitted.Add(1)
	p.mu.Unlock()

	p.cond.Signal()
	return h, nil
}

// runTask executes t.fn, recovering and logging any panic under the
// running worker's name before the Handle is released.
func (p *Pool) runTask(workerName string, t *task) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pool: task panicked: %v", r)
			p.logger.Error("pool: worker recovered task panic", "pool", p.name, "worker", workerName, "error", err)
			t.handle.err = err
		}
		close(t.handle.done)
	}()
	t.fn()
}

// Name returns the pool's name, set at New, for labeling metrics and logs.
func (p *Pool) Name() string { return p.name }

// Snapshot returns current pool counters.
func (p *Pool) Snapshot() Counters {
	p.mu.Lock()
	c := Counters{
		ActiveWorkers: int64(p.active),
		BusyWorkers:   int64(p.busy),
		QueuedTasks:   int64(p.queue.Len()),
	}
	p.mu.Unlock()
	c.Submitted = p.submitted.Load()
	c.Completed = p.completed.Load()
	c.Rejected = p.rejected.Load()
	return c
}

// Close stops accepting new work and terminates every worker once it
// finishes (or abandons, for idle ones) its current wait. Tasks still
// queued at the moment Close is called are never run.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.closeCh)
	p.cond.Broadcast()
}

// spawnWorkerLocked starts a new worker goroutine. Caller must hold p.mu.
func (p *Pool) spawnWorkerLocked() {
	id := p.workerSeq
	p.workerSeq++
	p.active++
	go p.runWorker(id)
}

// runWorker is the body of a single pool worker, identified by
// (pool name, sequence) for lifecycle and panic logging.
func (p *Pool) runWorker(id int64) {
	name := fmt.Sprintf("%s-%d", p.name, id)
	p.logger.Debug("pool: worker started", "pool", p.name, "worker", name)

	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.closed && !p.shouldSelfShrinkLocked() {
			p.cond.Wait()
		}

		if p.closed {
			p.active--
			p.mu.Unlock()
			p.logger.Debug("pool: worker stopped", "pool", p.name, "worker", name, "reason", "closed")
			return
		}
		if p.queue.Len() == 0 && p.shouldSelfShrinkLocked() {
			p.stopSignal--
			p.active--
			p.mu.Unlock()
			p.logger.Debug("pool: worker stopped", "pool", p.name, "worker", name, "reason", "idle-shrink")
			return
		}

		t := heap.Pop(&p.queue).(*task)
		p.busy++
		p.mu.Unlock()

		p.runTask(name, t)
		p.completed.Add(1)

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
	}
}

// shouldSelfShrinkLocked reports whether this idle worker should exit in
// response to a pending resize-driven stop signal. Caller must hold p.mu.
func (p *Pool) shouldSelfShrinkLocked() bool {
	return p.stopSignal > 0 && p.active > p.core
}

// growUtilizationThreshold is the busy/active ratio above which resizeLoop
// grows the pool ahead of Submit's own eager spawn-on-saturation path.
const growUtilizationThreshold = 0.8

// resizeLoop periodically grows the pool when utilization is high and work
// is still queued, and shrinks idle workers back toward core once load
// drops.
func (p *Pool) resizeLoop() {
	ticker := time.NewTicker(p.resizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closeCh:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.resizeLocked()
			p.mu.Unlock()
			p.cond.Broadcast()
		}
	}
}

// resizeLocked applies one sampled resize decision. Caller must hold p.mu.
//
// Submit's eager spawn grows the pool by at most one worker per
// submission, whenever every active worker is busy or already has a
// queued task waiting for it (busy + queued >= active). This periodic
// pass grows in larger steps: while work is queued, utilization
// (busy/active) is above growUtilizationThreshold and active < max, it
// adds scaleStep workers (clamped to max).
func (p *Pool) resizeLocked() {
	switch {
	case p.active < p.max && p.queue.Len() > 0 && p.utilizationLocked() > growUtilizationThreshold:
		p.idleTicks = 0
		grow := p.scaleStep
		if p.active+grow > p.max {
			grow = p.max - p.active
		}
		for i := 0; i < grow; i++ {
			p.spawnWorkerLocked()
		}
	case p.active > p.core && p.busy < p.active:
		p.idleTicks++
		if p.idleTicks*int(p.resizeInterval) >= int(p.keepAlive) {
			idle := p.active - p.busy
			shrink := p.scaleStep
			if shrink > idle {
				shrink = idle
			}
			if p.active-shrink < p.core {
				shrink = p.active - p.core
			}
			if shrink > 0 {
				p.stopSignal += shrink
				p.idleTicks = 0
			}
		}
	default:
		p.idleTicks = 0
	}
}

// utilizationLocked returns busy/active, or 0 when no workers are active.
// Caller must hold p.mu.
func (p *Pool) utilizationLocked() float64 {
	if p.active == 0 {
		return 0
	}
	return float64(p.busy) / float64(p.active)
}
