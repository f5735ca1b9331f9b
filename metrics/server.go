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
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves r's registry on a dedicated HTTP listener, independent of
// the httpcore engine's own listener — scraping metrics should keep
// working even while the request-serving engine is under load or mid
// graceful shutdown.
type Server struct {
	httpServer *http.Server

	mu      sync.Mutex
	started bool
}

// NewServer builds a Server for addr (e.g. ":9090") and path (e.g.
// "/metrics"), not yet listening until Start is called.
func NewServer(r *Recorder, addr, path string) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start begins serving in a background goroutine. onError, if non-nil, is
// called with any error ListenAndServe returns other than the expected
// http.ErrServerClosed on Stop.
func (s *Server) Start(onError func(error)) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if onError != nil {
				onError(err)
			}
		}
	}()
}

// Stop shuts the server down, honoring ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
