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

// Package engine holds the configuration, connection wrapper, response
// serializer, and observability counters shared by enginetpc, enginehrp,
// and enginestel.
package engine

import (
	"strconv"
	"time"

	"github.com/nivenkamath/httpcore/parser"
	"github.com/nivenkamath/httpcore/pool"
)

// Config holds every recognized tunable, built through functional
// options the way an application assembles its server configuration.
type Config struct {
	BindAddress string
	Port        int
	Backlog     int

	SocketReadTimeout        time.Duration
	MaxRequestsPerConnection int
	MaxHeaderBytes           int
	MaxBodyBytes             int
	WriteBufferBytes         int

	PoolCore          int
	PoolMax           int
	PoolQueueCapacity int
	PoolKeepAlive     time.Duration
	PoolScaleStep     int

	AsyncContextTimeout time.Duration

	// AuxPoolSize bounds STEL's auxiliary pool, used only for handlers
	// that opt into Context.RunOnWorker. Zero means "size to hardware
	// parallelism", resolved by enginestel at Start time rather than
	// here, since runtime.GOMAXPROCS belongs to the engine, not Config.
	AuxPoolSize int
}

// DefaultConfig returns the documented defaults: 50 backlog, 30s socket
// read timeout, 10MiB body limit, 64KiB header limit, 30s async context
// timeout.
func DefaultConfig() Config {
	return Config{
		BindAddress: "0.0.0.0",
		Port:        8080,
		Backlog:     50,

		SocketReadTimeout:        30 * time.Second,
		MaxRequestsPerConnection: 100,
		MaxHeaderBytes:           64 << 10,
		MaxBodyBytes:             10 << 20,
		WriteBufferBytes:         16 << 10,

		PoolCore:          8,
		PoolMax:           200,
		PoolQueueCapacity: 1000,
		PoolKeepAlive:     60 * time.Second,
		PoolScaleStep:     4,

		AsyncContextTimeout: 30 * time.Second,
	}
}

// Option mutates a Config at construction.
type Option func(*Config)

func WithBindAddress(addr string) Option { return func(c *Config) { c.BindAddress = addr } }
func WithPort(port int) Option           { return func(c *Config) { c.Port = port } }
func WithBacklog(n int) Option           { return func(c *Config) { c.Backlog = n } }
func WithSocketReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.SocketReadTimeout = d }
}
func WithMaxRequestsPerConnection(n int) Option {
	return func(c *Config) { c.MaxRequestsPerConnection = n }
}
func WithMaxHeaderBytes(n int) Option { return func(c *Config) { c.MaxHeaderBytes = n } }
func WithMaxBodyBytes(n int) Option   { return func(c *Config) { c.MaxBodyBytes = n } }
func WithWriteBufferBytes(n int) Option {
	return func(c *Config) { c.WriteBufferBytes = n }
}
func WithPoolCore(n int) Option          { return func(c *Config) { c.PoolCore = n } }
func WithPoolMax(n int) Option           { return func(c *Config) { c.PoolMax = n } }
func WithPoolQueueCapacity(n int) Option { return func(c *Config) { c.PoolQueueCapacity = n } }
func WithPoolKeepAlive(d time.Duration) Option {
	return func(c *Config) { c.PoolKeepAlive = d }
}
func WithPoolScaleStep(n int) Option { return func(c *Config) { c.PoolScaleStep = n } }
func WithAsyncContextTimeout(d time.Duration) Option {
	return func(c *Config) { c.AsyncContextTimeout = d }
}
func WithAuxPoolSize(n int) Option { return func(c *Config) { c.AuxPoolSize = n } }

// New applies opts over DefaultConfig.
func New(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ParserLimits projects the relevant Config fields onto parser.Limits.
func (c Config) ParserLimits() parser.Limits {
	limits := parser.DefaultLimits()
	limits.MaxHeaderLineBytes = c.MaxHeaderBytes
	limits.MaxBodyBytes = c.MaxBodyBytes
	return limits
}

// PoolOptions projects the relevant Config fields onto pool.Option values.
func (c Config) PoolOptions() []pool.Option {
	return []pool.Option{
		pool.WithCore(c.PoolCore),
		pool.WithMax(c.PoolMax),
		pool.WithQueueCapacity(c.PoolQueueCapacity),
		pool.WithKeepAlive(c.PoolKeepAlive),
		pool.WithScaleStep(c.PoolScaleStep),
	}
}

// AuxPoolOptions projects a resolved auxiliary pool size (the caller
// applies the GOMAXPROCS fallback when AuxPoolSize is zero) onto
// pool.Option values. The auxiliary pool never queues: a handler that
// calls RunOnWorker while it's saturated should find out immediately
// rather than pile up behind the reactor's single goroutine.
func (c Config) AuxPoolOptions(resolvedSize int) []pool.Option {
	return []pool.Option{
		pool.WithCore(resolvedSize),
		pool.WithMax(resolvedSize),
		pool.WithQueueCapacity(0),
		pool.WithKeepAlive(c.PoolKeepAlive),
		pool.WithScaleStep(1),
	}
}

// Address returns the "host:port" listen address.
func (c Config) Address() string {
	return c.BindAddress + ":" + strconv.Itoa(c.Port)
}
