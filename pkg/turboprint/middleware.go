package turboprint

import (
	"context"
	"fmt"
	"sort"

	logx "turboprint/pkg/logx"
)

// Stage says when a middleware runs relative to handler dispatch.
type Stage uint8

const (
	// StageInner runs after the logger's filters and before any handler. It may
	// rewrite the record or drop it.
	StageInner Stage = iota + 1
	// StageOuter runs after every handler received the record. Its return
	// value is ignored and changes to the record are not seen by anyone else.
	StageOuter
)

func (s Stage) String() string {
	switch s {
	case StageInner:
		return "inner"
	case StageOuter:
		return "outer"
	default:
		return "unknown"
	}
}

// Middleware processes records on the logger that created them. Ancestors'
// middleware is not consulted, the same as filters.
//
// An inner middleware that returns false drops the record. A panic is
// reported through the fallback and the record moves on to the next
// middleware.
type Middleware interface {
	Process(ctx context.Context, l *Logger, rec *Record) bool
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx context.Context, l *Logger, rec *Record) bool

func (f MiddlewareFunc) Process(ctx context.Context, l *Logger, rec *Record) bool {
	return f(ctx, l, rec)
}

type middlewareEntry struct {
	m        Middleware
	priority int
}

// outerKey marks contexts handed to outer middleware. Records logged with
// such a context skip outer middleware, so an outer middleware can log
// through the ctx it was given without re-entering itself.
type outerKey struct{}

// Use attaches m at stage. Higher priority runs first; equal priorities run
// in attach order. An unknown stage is treated as StageInner.
func (l *Logger) Use(stage Stage, priority int, m Middleware) {
	if m == nil {
		return
	}
	e := middlewareEntry{m: m, priority: priority}
	l.mu.Lock()
	defer l.mu.Unlock()
	if stage == StageOuter {
		l.outer = insertMiddleware(l.outer, e)
		return
	}
	l.inner = insertMiddleware(l.inner, e)
}

// ClearMiddleware detaches every middleware from l.
func (l *Logger) ClearMiddleware() {
	l.mu.Lock()
	l.inner, l.outer = nil, nil
	l.mu.Unlock()
}

// Middleware returns the attached middleware for stage in run order.
func (l *Logger) Middleware(stage Stage) []Middleware {
	l.mu.RLock()
	src := l.inner
	if stage == StageOuter {
		src = l.outer
	}
	out := make([]Middleware, len(src))
	for i, e := range src {
		out[i] = e.m
	}
	l.mu.RUnlock()
	return out
}

// insertMiddleware returns a new sorted slice; dispatch may hold the old one.
func insertMiddleware(cur []middlewareEntry, e middlewareEntry) []middlewareEntry {
	out := make([]middlewareEntry, 0, len(cur)+1)
	out = append(out, cur...)
	out = append(out, e)
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority > out[j].priority })
	return out
}

// runInner applies the inner chain. It reports false when a middleware drops rec.
func (l *Logger) runInner(ctx context.Context, chain []middlewareEntry, rec *Record) bool {
	for _, e := range chain {
		if !l.reg.process(ctx, l, e.m, rec, StageInner) {
			return false
		}
	}
	return true
}

func (l *Logger) runOuter(ctx context.Context, chain []middlewareEntry, rec Record) {
	if len(chain) == 0 || ctx.Value(outerKey{}) != nil {
		return
	}
	ctx = context.WithValue(ctx, outerKey{}, true)
	for _, e := range chain {
		cp := rec
		l.reg.process(ctx, l, e.m, &cp, StageOuter)
	}
}

func (r *Registry) process(ctx context.Context, l *Logger, m Middleware, rec *Record, stage Stage) (keep bool) {
	defer func() {
		if p := recover(); p != nil {
			r.stats.middlewarePanics.Add(1)
			r.fallback.Error("middleware panicked",
				logx.String("logger", l.name),
				logx.String("middleware", fmt.Sprintf("%T", m)),
				logx.String("stage", stage.String()),
				logx.Any("panic", p),
				logx.Stack(logx.StackTrace(2, 16)),
			)
			keep = true
		}
	}()
	return m.Process(ctx, l, rec)
}
