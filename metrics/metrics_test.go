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

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivenkamath/httpcore/apierrors"
	"github.com/nivenkamath/httpcore/engine"
	"github.com/nivenkamath/httpcore/pool"
)

// fakeEngine satisfies engine.Engine with counters the test controls
// directly, so collector output can be asserted without standing up a
// real listener.
type fakeEngine struct {
	counters *engine.Counters
}

func (f *fakeEngine) Start(context.Context) error { return nil }
func (f *fakeEngine) Stop(context.Context) error  { return nil }
func (f *fakeEngine) Counters() *engine.Counters  { return f.counters }

func TestEngineCollectorExportsCounters(t *testing.T) {
	counters := engine.NewCounters()
	counters.ConnectionsAccepted.Add(5)
	counters.ConnectionsClosed.Add(3)
	counters.BytesIn.Add(1024)
	counters.BytesOut.Add(2048)
	counters.RequestsCompleted.Add(7)
	counters.ContextSweepEvents.Add(1)
	counters.RecordError(apierrors.ClassTimeout)

	rec := NewRecorder()
	require.NoError(t, rec.RegisterEngine("hrp", &fakeEngine{counters: counters}))

	body := scrape(t, rec)
	assert.Contains(t, body, `httpcore_connections_accepted_total{engine="hrp"} 5`)
	assert.Contains(t, body, `httpcore_connections_closed_total{engine="hrp"} 3`)
	assert.Contains(t, body, `httpcore_bytes_in_total{engine="hrp"} 1024`)
	assert.Contains(t, body, `httpcore_bytes_out_total{engine="hrp"} 2048`)
	assert.Contains(t, body, `httpcore_requests_completed_total{engine="hrp"} 7`)
	assert.Contains(t, body, `httpcore_context_sweep_events_total{engine="hrp"} 1`)
	assert.Contains(t, body, `httpcore_errors_total{class="timeout",engine="hrp"} 1`)
	assert.Contains(t, body, `httpcore_errors_total{class="routing",engine="hrp"} 0`)
}

func TestPoolCollectorExportsCounters(t *testing.T) {
	p := pool.New("aux", pool.WithCore(2), pool.WithMax(2), pool.WithQueueCapacity(0))
	defer p.Close()

	done := make(chan struct{})
	_, err := p.Submit(func() { <-done }, 0)
	require.NoError(t, err)
	defer close(done)

	rec := NewRecorder()
	require.NoError(t, rec.RegisterPool("aux", p))

	require.Eventually(t, func() bool {
		return p.Snapshot().BusyWorkers == 1
	}, time.Second, 5*time.Millisecond)

	body := scrape(t, rec)
	assert.Contains(t, body, `httpcore_pool_submitted_total{pool="aux"} 1`)
	assert.Contains(t, body, `httpcore_pool_active_workers{pool="aux"} 2`)
	assert.Contains(t, body, `httpcore_pool_busy_workers{pool="aux"} 1`)
}

func TestRegisterEngineTwiceUnderSameNameFails(t *testing.T) {
	rec := NewRecorder()
	counters := engine.NewCounters()
	require.NoError(t, rec.RegisterEngine("hrp", &fakeEngine{counters: counters}))
	err := rec.RegisterEngine("hrp", &fakeEngine{counters: counters})
	assert.Error(t, err)
}

func TestServerServesRegisteredMetrics(t *testing.T) {
	counters := engine.NewCounters()
	counters.RequestsCompleted.Add(42)
	rec := NewRecorder()
	require.NoError(t, rec.RegisterEngine("tpc", &fakeEngine{counters: counters}))

	srv := NewServer(rec, "127.0.0.1:0", "/metrics")

	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// scrape renders rec's registry through the real Prometheus text
// exposition encoder (the same handler promhttp.HandlerFor builds), so
// assertions check actual scrape output rather than a hand-rolled
// approximation of it.
func scrape(t *testing.T, rec *Recorder) string {
	t.Helper()
	ts := httptest.NewServer(promhttp.HandlerFor(rec.Gatherer(), promhttp.HandlerOpts{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
