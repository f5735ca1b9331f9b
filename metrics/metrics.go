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

// Package metrics exports engine.Counters and pool.Counters as Prometheus
// collectors. Engines themselves never import Prometheus — they only
// accumulate atomic counters and expose a Snapshot — so this package is
// the sole place the observability snapshot gets bound to a concrete
// metrics backend, keeping encoding choices out of the engines while
// still making the counters scrapeable.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nivenkamath/httpcore/apierrors"
	"github.com/nivenkamath/httpcore/engine"
	"github.com/nivenkamath/httpcore/pool"
)

// Recorder owns a Prometheus registry and the collectors registered
// against it. Unlike a global MustRegister into prometheus.DefaultRegisterer,
// a Recorder carries its own *prometheus.Registry so more than one
// httpcore server can run in the same process without metric-name
// collisions.
type Recorder struct {
	registry *prometheus.Registry
}

// NewRecorder builds an empty Recorder backed by a fresh registry.
func NewRecorder() *Recorder {
	return &Recorder{registry: prometheus.NewRegistry()}
}

// RegisterEngine wires eng's counters into r under the given engine name
// ("tpc", "hrp", "stel"), used as the engine label on every exported
// series so one process can run more than one engine side by side (or,
// more realistically, so dashboards distinguish a blue/green pair during
// a migration between them).
func (r *Recorder) RegisterEngine(name string, eng engine.Engine) error {
	if err := r.registry.Register(newEngineCollector(name, eng)); err != nil {
		return errDuplicateRegistration(name, err)
	}
	return nil
}

// RegisterPool wires p's counters into r under name, labeling every
// series with it the same way RegisterEngine does for engines.
func (r *Recorder) RegisterPool(name string, p *pool.Pool) error {
	if err := r.registry.Register(newPoolCollector(name, p)); err != nil {
		return errDuplicateRegistration(name, err)
	}
	return nil
}

// Gatherer exposes the underlying registry for a promhttp.Handler.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

// engineCollector adapts one engine.Engine's Counters snapshot to
// prometheus.Collector. It holds no state of its own beyond the engine
// reference: every Collect call re-reads the engine's live counters, so
// there is nothing to keep in sync and nothing to leak.
type engineCollector struct {
	name string
	eng  engine.Engine

	connectionsAccepted *prometheus.Desc
	connectionsClosed   *prometheus.Desc
	bytesIn             *prometheus.Desc
	bytesOut            *prometheus.Desc
	requestsCompleted   *prometheus.Desc
	contextSweepEvents  *prometheus.Desc
	errorsByClass       *prometheus.Desc
}

func newEngineCollector(name string, eng engine.Engine) *engineCollector {
	labels := []string{"engine"}
	return &engineCollector{
		name: name,
		eng:  eng,
		connectionsAccepted: prometheus.NewDesc(
			"httpcore_connections_accepted_total", "Total TCP connections accepted.", labels, nil),
		connectionsClosed: prometheus.NewDesc(
			"httpcore_connections_closed_total", "Total TCP connections closed.", labels, nil),
		bytesIn: prometheus.NewDesc(
			"httpcore_bytes_in_total", "Total bytes read from connections.", labels, nil),
		bytesOut: prometheus.NewDesc(
			"httpcore_bytes_out_total", "Total bytes written to connections.", labels, nil),
		requestsCompleted: prometheus.NewDesc(
			"httpcore_requests_completed_total", "Total requests that received a response.", labels, nil),
		contextSweepEvents: prometheus.NewDesc(
			"httpcore_context_sweep_events_total", "Total async contexts reaped by the sweeper after timing out.", labels, nil),
		errorsByClass: prometheus.NewDesc(
			"httpcore_errors_total", "Total errors by class.", append(labels, "class"), nil),
	}
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectionsAccepted
	ch <- c.connectionsClosed
	ch <- c.bytesIn
	ch <- c.bytesOut
	ch <- c.requestsCompleted
	ch <- c.contextSweepEvents
	ch <- c.errorsByClass
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.eng.Counters().Snapshot()

	ch <- prometheus.MustNewConstMetric(c.connectionsAccepted, prometheus.CounterValue, float64(snap.ConnectionsAccepted), c.name)
	ch <- prometheus.MustNewConstMetric(c.connectionsClosed, prometheus.CounterValue, float64(snap.ConnectionsClosed), c.name)
	ch <- prometheus.MustNewConstMetric(c.bytesIn, prometheus.CounterValue, float64(snap.BytesIn), c.name)
	ch <- prometheus.MustNewConstMetric(c.bytesOut, prometheus.CounterValue, float64(snap.BytesOut), c.name)
	ch <- prometheus.MustNewConstMetric(c.requestsCompleted, prometheus.CounterValue, float64(snap.RequestsCompleted), c.name)
	ch <- prometheus.MustNewConstMetric(c.contextSweepEvents, prometheus.CounterValue, float64(snap.ContextSweepEvents), c.name)

	for _, class := range allClasses {
		ch <- prometheus.MustNewConstMetric(c.errorsByClass, prometheus.CounterValue, float64(snap.ErrorsByClass[class]), c.name, string(class))
	}
}

// allClasses lists every apierrors.Class so errorsByClass always reports
// a zero series for classes that haven't happened yet, rather than the
// series only appearing once the first error of that class is recorded.
var allClasses = []apierrors.Class{
	apierrors.ClassProtocol,
	apierrors.ClassRouting,
	apierrors.ClassHandler,
	apierrors.ClassTimeout,
	apierrors.ClassBackpressure,
	apierrors.ClassTransport,
	apierrors.ClassFatal,
}

// poolCollector adapts one pool.Pool's Counters snapshot to
// prometheus.Collector, the same live-reread pattern as engineCollector.
type poolCollector struct {
	name string
	pool *pool.Pool

	submitted     *prometheus.Desc
	completed     *prometheus.Desc
	rejected      *prometheus.Desc
	activeWorkers *prometheus.Desc
	busyWorkers   *prometheus.Desc
	queuedTasks   *prometheus.Desc
}

func newPoolCollector(name string, p *pool.Pool) *poolCollector {
	labels := []string{"pool"}
	return &poolCollector{
		name: name,
		pool: p,
		submitted: prometheus.NewDesc(
			"httpcore_pool_submitted_total", "Total tasks submitted to the pool.", labels, nil),
		completed: prometheus.NewDesc(
			"httpcore_pool_completed_total", "Total tasks the pool finished running.", labels, nil),
		rejected: prometheus.NewDesc(
			"httpcore_pool_rejected_total", "Total tasks rejected because the pool was saturated.", labels, nil),
		activeWorkers: prometheus.NewDesc(
			"httpcore_pool_active_workers", "Worker goroutines currently alive.", labels, nil),
		busyWorkers: prometheus.NewDesc(
			"httpcore_pool_busy_workers", "Worker goroutines currently running a task.", labels, nil),
		queuedTasks: prometheus.NewDesc(
			"httpcore_pool_queued_tasks", "Tasks waiting in the pool's priority queue.", labels, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.submitted
	ch <- c.completed
	ch <- c.rejected
	ch <- c.activeWorkers
	ch <- c.busyWorkers
	ch <- c.queuedTasks
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.pool.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(snap.Submitted), c.name)
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(snap.Completed), c.name)
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(snap.Rejected), c.name)
	ch <- prometheus.MustNewConstMetric(c.activeWorkers, prometheus.GaugeValue, float64(snap.ActiveWorkers), c.name)
	ch <- prometheus.MustNewConstMetric(c.busyWorkers, prometheus.GaugeValue, float64(snap.BusyWorkers), c.name)
	ch <- prometheus.MustNewConstMetric(c.queuedTasks, prometheus.GaugeValue, float64(snap.QueuedTasks), c.name)
}

// errDuplicateRegistration wraps prometheus.AlreadyRegisteredError with
// the name the caller asked for, since the registry's own error doesn't
// say which RegisterEngine/RegisterPool call it came from.
func errDuplicateRegistration(name string, err error) error {
	return fmt.Errorf("metrics: registering %q: %w", name, err)
}
