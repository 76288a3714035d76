package turboprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "turboprint/pkg/logx"
)

// RootName is the registry name of the root logger.
const RootName = "root"

// Delimiter separates hierarchy levels in logger names.
const Delimiter = "."

// Registry owns the logger tree. There is exactly one Logger per name.
//
// A Registry is an explicit object rather than package state; construct one
// at startup and pass it (or the loggers it hands out) where needed.
type Registry struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
	root    *Logger

	fallback logx.Logger
	stats    *Stats
	now      func() time.Time
	newID    func() string
	caller   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithFallback sets the diagnostics logger used to report handler faults.
func WithFallback(log logx.Logger) Option {
	return func(r *Registry) { r.fallback = log }
}

// WithRootLevel overrides the default root level (INFO).
func WithRootLevel(l Level) Option {
	return func(r *Registry) { r.root.level = l }
}

// WithRootHandlers attaches handlers to the root logger at construction.
func WithRootHandlers(hs ...Handler) Option {
	return func(r *Registry) { r.root.handlers = append(r.root.handlers, hs...) }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDs replaces the record ID generator. A nil function disables IDs.
func WithIDs(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithCaller toggles capturing "file.go:line" of the log call site.
func WithCaller(enabled bool) Option {
	return func(r *Registry) { r.caller = enabled }
}

// NewRegistry creates a registry holding only the root logger.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		loggers:  map[string]*Logger{},
		fallback: logx.NewStderr("INFO"),
		stats:    newStats(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	r.root = newLogger(r, RootName, "")
	r.root.level = LevelInfo
	r.loggers[RootName] = r.root
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.fallback.IsZero() {
		r.fallback = logx.Nop()
	}
	return r
}

// Root returns the root logger.
func (r *Registry) Root() *Logger { return r.root }

// Stats returns dispatch counters.
func (r *Registry) Stats() StatsSnapshot { return r.stats.Snapshot() }

// Fallback returns the diagnostics logger.
func (r *Registry) Fallback() logx.Logger { return r.fallback }

// NormalizeName trims whitespace and stray delimiters and collapses empty segments.
// The empty name and RootName both map to RootName.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == RootName {
		return RootName
	}
	parts := strings.Split(name, Delimiter)
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return RootName
	}
	return strings.Join(out, Delimiter)
}

func parentName(name string) string {
	if name == RootName {
		return ""
	}
	i := strings.LastIndex(name, Delimiter)
	if i < 0 {
		return RootName
	}
	return name[:i]
}

// Get returns the logger for name, creating it and any missing ancestors.
// Repeated calls with the same name return the same *Logger.
func (r *Registry) Get(name string) *Logger {
	name = NormalizeName(name)

	r.mu.RLock()
	l, ok := r.loggers[name]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(name)
}

func (r *Registry) getLocked(name string) *Logger {
	if l, ok := r.loggers[name]; ok {
		return l
	}
	parent := parentName(name)
	r.getLocked(parent)
	l := newLogger(r, name, parent)
	r.loggers[name] = l
	return l
}

// Lookup returns an existing logger without creating it.
func (r *Registry) Lookup(name string) (*Logger, bool) {
	name = NormalizeName(name)
	r.mu.RLock()
	l, ok := r.loggers[name]
	r.mu.RUnlock()
	return l, ok
}

// Names lists registered logger names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.loggers))
	for name := range r.loggers {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) all() []*Logger {
	r.mu.RLock()
	out := make([]*Logger, 0, len(r.loggers))
	for _, l := range r.loggers {
		out = append(out, l)
	}
	r.mu.RUnlock()
	return out
}

// Reset restores every logger to its initial state (root: INFO, others:
// inherit; no handlers, filters or middleware, propagate on) and returns the handlers
// that were detached so the caller can shut them down.
func (r *Registry) Reset() []Handler {
	var detached []Handler
	for _, l := range r.all() {
		l.mu.Lock()
		detached = append(detached, l.handlers...)
		l.handlers = nil
		l.filters = nil
		l.prefix = ""
		l.fields = nil
		l.inner, l.outer = nil, nil
		l.propagate = true
		if l.name == RootName {
			l.level = LevelInfo
		} else {
			l.level = LevelNotSet
		}
		l.mu.Unlock()
		l.enabled.Store(true)
	}
	return uniqueHandlers(detached)
}

// Shutdown stops every attached handler: Shutdowner handlers get ctx, io.Closer
// handlers are closed. Each handler is stopped once even if attached to several loggers.
func (r *Registry) Shutdown(ctx context.Context) error {
	var hs []Handler
	for _, l := range r.all() {
		hs = append(hs, l.Handlers()...)
	}
	return ShutdownHandlers(ctx, uniqueHandlers(hs)...)
}

// ShutdownHandlers stops hs and joins their errors.
func ShutdownHandlers(ctx context.Context, hs ...Handler) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for _, h := range hs {
		switch x := h.(type) {
		case Shutdowner:
			if err := x.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		case io.Closer:
			if err := x.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func uniqueHandlers(hs []Handler) []Handler {
	out := make([]Handler, 0, len(hs))
	for _, h := range hs {
		if h == nil || containsHandler(out, h) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// report sends a handler fault to the fallback channel.
func (r *Registry) report(logger string, h Handler, err error) {
	r.stats.handlerErrors.Add(1)
	r.fallback.Warn("handler failed",
		logx.String("logger", logger),
		logx.String("handler", fmt.Sprintf("%T", h)),
		logx.Err(err),
	)
}

func (r *Registry) reportPanic(logger string, h Handler, p any, stack string) {
	r.stats.handlerPanics.Add(1)
	r.fallback.Error("handler panicked",
		logx.String("logger", logger),
		logx.String("handler", fmt.Sprintf("%T", h)),
		logx.Any("panic", p),
		logx.Stack(stack),
	)
}
