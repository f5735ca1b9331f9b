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

// Package logging wraps log/slog: a small Logger interface (accepted by
// pool.WithLogger), a handler-type choice (JSON/text/console), and a
// no-op default (NoOp) so a pool built without a configured logger never
// has to nil-check before logging. The engines themselves take a
// *slog.Logger and fall back to slog.Default() when given nil.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nivenkamath/httpcore/httpmsg"
)

// ErrNilLogger is returned by New when WithCustomLogger(nil) was applied.
var ErrNilLogger = errors.New("logging: custom logger is nil")

// HandlerType selects the slog.Handler a Config builds.
type HandlerType string

const (
	JSONHandler    HandlerType = "json"
	TextHandler    HandlerType = "text"
	ConsoleHandler HandlerType = "console"
)

// Level aliases slog.Level so callers don't need a separate import for
// the common case of picking one of the four standard levels.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is the structured-logging surface the worker pool accepts. It's
// satisfied directly by *slog.Logger, so callers that already have one
// configured don't need to go through Config at all.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoOp is the zero-cost Logger used when a caller configures none.
var NoOp Logger = noopLogger{}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config builds and holds a configured *slog.Logger.
type Config struct {
	handlerType HandlerType
	output      io.Writer
	level       Level
	serviceName string
	addSource   bool

	customLogger *slog.Logger
	useCustom    bool

	logger *slog.Logger
}

// Option mutates a Config at construction.
type Option func(*Config)

func WithHandlerType(t HandlerType) Option { return func(c *Config) { c.handlerType = t } }
func WithJSONHandler() Option              { return WithHandlerType(JSONHandler) }
func WithTextHandler() Option              { return WithHandlerType(TextHandler) }
func WithConsoleHandler() Option           { return WithHandlerType(ConsoleHandler) }
func WithOutput(w io.Writer) Option        { return func(c *Config) { c.output = w } }
func WithLevel(l Level) Option             { return func(c *Config) { c.level = l } }
func WithDebugLevel() Option               { return WithLevel(LevelDebug) }
func WithServiceName(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.serviceName = name
		}
	}
}
func WithSource(enabled bool) Option { return func(c *Config) { c.addSource = enabled } }
func WithCustomLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.customLogger = l
		c.useCustom = true
	}
}

func defaultConfig() *Config {
	return &Config{
		handlerType: JSONHandler,
		output:      os.Stdout,
		level:       LevelInfo,
		serviceName: "httpcore",
	}
}

// New builds a Config and its underlying *slog.Logger from opts.
func New(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.useCustom && cfg.customLogger == nil {
		return nil, ErrNilLogger
	}
	if cfg.useCustom {
		cfg.logger = cfg.customLogger
		return cfg, nil
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level, AddSource: cfg.addSource}
	var handler slog.Handler
	switch cfg.handlerType {
	case JSONHandler:
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	case TextHandler:
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	case ConsoleHandler:
		handler = newConsoleHandler(cfg.output, handlerOpts)
	default:
		return nil, fmt.Errorf("logging: unknown handler type %q", cfg.handlerType)
	}
	cfg.logger = slog.New(handler).With("service", cfg.serviceName)
	return cfg, nil
}

// MustNew builds a Config or panics on error, for call sites (example
// mains, test setup) that have no better way to report construction
// failure.
func MustNew(opts ...Option) *Config {
	cfg, err := New(opts...)
	if err != nil {
		panic("logging: " + err.Error())
	}
	return cfg
}

// Logger returns the underlying *slog.Logger, which itself satisfies Logger.
func (c *Config) Logger() *slog.Logger { return c.logger }

func (c *Config) Debug(msg string, args ...any) { c.logger.Debug(msg, args...) }
func (c *Config) Info(msg string, args ...any)  { c.logger.Info(msg, args...) }
func (c *Config) Warn(msg string, args ...any)  { c.logger.Warn(msg, args...) }
func (c *Config) Error(msg string, args ...any) { c.logger.Error(msg, args...) }

// LogRequest logs an inbound request with the fields every engine
// already has on hand at accept time: method, path, and remote address.
func (c *Config) LogRequest(req *httpmsg.Request, extra ...any) {
	args := append([]any{"method", req.Method.String(), "path", req.Path, "remote", req.RemoteAddr}, extra...)
	c.Info("http request", args...)
}

// LogError logs err alongside msg and any extra attributes, the
// convenience form engines reach for instead of repeating "error",
// err.Error() at every call site.
func (c *Config) LogError(err error, msg string, extra ...any) {
	args := append([]any{"error", err.Error()}, extra...)
	c.Error(msg, args...)
}

// LogDuration logs an operation's elapsed time since start, in both a
// machine-filterable millisecond field and a human-readable string.
func (c *Config) LogDuration(msg string, start time.Time, extra ...any) {
	d := time.Since(start)
	args := append([]any{"duration_ms", d.Milliseconds(), "duration", d.String()}, extra...)
	c.Info(msg, args...)
}
