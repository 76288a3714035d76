package turboprint

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	logx "turboprint/pkg/logx"
)

// Logger is a named node in a Registry's hierarchy.
//
// The parent is resolved by name through the registry on every dispatch, so
// loggers never own their ancestors. All methods are safe for concurrent use.
type Logger struct {
	reg    *Registry
	name   string
	parent string

	enabled atomic.Bool

	mu        sync.RWMutex
	level     Level
	handlers  []Handler
	filters   []Filter
	propagate bool
	prefix    string
	fields    []Field
	inner     []middlewareEntry
	outer     []middlewareEntry
}

func newLogger(reg *Registry, name, parent string) *Logger {
	l := &Logger{reg: reg, name: name, parent: parent, propagate: true}
	l.enabled.Store(true)
	return l
}

func (l *Logger) Name() string { return l.name }

// Registry returns the registry that owns l.
func (l *Logger) Registry() *Registry { return l.reg }

// Parent returns the parent logger, or nil for the root.
func (l *Logger) Parent() *Logger {
	if l.parent == "" {
		return nil
	}
	p, _ := l.reg.Lookup(l.parent)
	return p
}

// Level returns the explicit level (LevelNotSet if inherited).
func (l *Logger) Level() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetLevel sets an explicit level. LevelNotSet clears it.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// ClearLevel removes the explicit level so the logger inherits again.
func (l *Logger) ClearLevel() { l.SetLevel(LevelNotSet) }

// EffectiveLevel walks up the hierarchy to the first explicit level.
// The root always has one; if it was cleared, INFO applies.
func (l *Logger) EffectiveLevel() Level {
	for cur := l; cur != nil; cur = cur.Parent() {
		if lvl := cur.Level(); lvl != LevelNotSet {
			return lvl
		}
	}
	return LevelInfo
}

// Enabled reports whether a record at level would be dispatched.
func (l *Logger) Enabled(level Level) bool {
	return l.enabled.Load() && level >= l.EffectiveLevel()
}

// SetEnabled switches the logger on or off. A disabled logger drops every call.
func (l *Logger) SetEnabled(on bool) { l.enabled.Store(on) }

// AddHandler appends h; handlers run in attach order.
func (l *Logger) AddHandler(h Handler) {
	if h == nil {
		return
	}
	l.mu.Lock()
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
}

// RemoveHandler detaches h. It reports whether h was attached.
func (l *Logger) RemoveHandler(h Handler) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, cur := range l.handlers {
		if sameHandler(cur, h) {
			out := make([]Handler, 0, len(l.handlers)-1)
			out = append(out, l.handlers[:i]...)
			out = append(out, l.handlers[i+1:]...)
			l.handlers = out
			return true
		}
	}
	return false
}

// ClearHandlers detaches all handlers and returns them.
func (l *Logger) ClearHandlers() []Handler {
	l.mu.Lock()
	hs := l.handlers
	l.handlers = nil
	l.mu.Unlock()
	return hs
}

// Handlers returns a copy of the attached handlers.
func (l *Logger) Handlers() []Handler {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Handler(nil), l.handlers...)
}

func (l *Logger) SetPropagate(on bool) {
	l.mu.Lock()
	l.propagate = on
	l.mu.Unlock()
}

func (l *Logger) Propagate() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.propagate
}

// AddFilter adds a filter checked on records originating at this logger.
func (l *Logger) AddFilter(f Filter) {
	if f == nil {
		return
	}
	l.mu.Lock()
	l.filters = append(l.filters, f)
	l.mu.Unlock()
}

// SetPrefix sets the display prefix copied into records from this logger.
func (l *Logger) SetPrefix(p string) {
	l.mu.Lock()
	l.prefix = p
	l.mu.Unlock()
}

func (l *Logger) Prefix() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prefix
}

// SetFields replaces the context fields added to every record from this logger.
func (l *Logger) SetFields(fields ...Field) {
	l.mu.Lock()
	l.fields = append([]Field(nil), fields...)
	l.mu.Unlock()
}

// With returns an Entry that adds fields to every call.
func (l *Logger) With(fields ...Field) Entry {
	return Entry{l: l, fields: append([]Field(nil), fields...)}
}

func (l *Logger) Log(level Level, msg string, fields ...Field) {
	l.dispatch(context.Background(), level, msg, nil, fields, nil, "")
}

func (l *Logger) LogContext(ctx context.Context, level Level, msg string, fields ...Field) {
	l.dispatch(ctx, level, msg, nil, fields, nil, "")
}

// Logf formats msg with fmt.Sprintf.
func (l *Logger) Logf(level Level, format string, args ...any) {
	if !l.Enabled(level) {
		l.reg.stats.suppressed.Add(1)
		return
	}
	l.dispatch(context.Background(), level, fmt.Sprintf(format, args...), nil, nil, nil, "")
}

func (l *Logger) Trace(msg string, fields ...Field) {
	l.dispatch(context.Background(), LevelTrace, msg, nil, fields, nil, "")
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.dispatch(context.Background(), LevelDebug, msg, nil, fields, nil, "")
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.dispatch(context.Background(), LevelInfo, msg, nil, fields, nil, "")
}

func (l *Logger) Success(msg string, fields ...Field) {
	l.dispatch(context.Background(), LevelSuccess, msg, nil, fields, nil, "")
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.dispatch(context.Background(), LevelWarning, msg, nil, fields, nil, "")
}

func (l *Logger) Fail(msg string, fields ...Field) {
	l.dispatch(context.Background(), LevelFail, msg, nil, fields, nil, "")
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.dispatch(context.Background(), LevelError, msg, nil, fields, nil, "")
}

func (l *Logger) Critical(msg string, fields ...Field) {
	l.dispatch(context.Background(), LevelCritical, msg, nil, fields, nil, "")
}

// Exception logs msg at ERROR with the error, its type and a stack trace.
func (l *Logger) Exception(msg string, err error, fields ...Field) {
	l.exception(LevelError, msg, err, nil, fields)
}

func (l *Logger) exception(level Level, msg string, err error, pre, fields []Field) {
	if !l.Enabled(level) {
		l.reg.stats.suppressed.Add(1)
		return
	}
	extra := make([]Field, 0, len(fields)+1)
	if err != nil {
		extra = append(extra, String("error_type", fmt.Sprintf("%T", err)))
	}
	extra = append(extra, fields...)
	l.dispatch(context.Background(), level, msg, err, pre, extra, callStack(16))
}

// Span logs msg when called and returns a func that logs completion with the elapsed time.
//
//	defer log.Span("rebuild index")()
func (l *Logger) Span(msg string, fields ...Field) func() {
	start := l.reg.now()
	l.dispatch(context.Background(), LevelInfo, "start: "+msg, nil, fields, nil, "")
	return func() {
		took := l.reg.now().Sub(start)
		l.dispatch(context.Background(), LevelInfo, "done: "+msg, nil, fields, []Field{Duration("took", took)}, "")
	}
}

// Recover logs a recovered panic at CRITICAL and re-panics. Use it deferred:
//
//	defer log.Recover("worker loop")
func (l *Logger) Recover(msg string, fields ...Field) {
	p := recover()
	if p == nil {
		return
	}
	err, ok := p.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", p)
	}
	l.exception(LevelCritical, msg, err, nil, fields)
	panic(p)
}

func (l *Logger) snapshot() (handlers []Handler, propagate bool) {
	l.mu.RLock()
	handlers = l.handlers
	propagate = l.propagate
	l.mu.RUnlock()
	return handlers, propagate
}

func (l *Logger) dispatch(ctx context.Context, level Level, msg string, err error, pre, fields []Field, stack string) {
	if !l.Enabled(level) {
		l.reg.stats.suppressed.Add(1)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.RLock()
	prefix := l.prefix
	filters := l.filters
	base := l.fields
	inner, outer := l.inner, l.outer
	l.mu.RUnlock()

	rec := Record{
		Time:    l.reg.now(),
		Level:   level,
		Logger:  l.name,
		Prefix:  prefix,
		Message: msg,
		Err:     err,
		Stack:   stack,
	}
	if l.reg.newID != nil {
		rec.ID = l.reg.newID()
	}
	if l.reg.caller {
		rec.Caller = callSite()
	}
	rec.Fields = mergeFields(base, pre, fields, err)

	for _, f := range filters {
		if !f.Allow(rec) {
			l.reg.stats.filtered.Add(1)
			return
		}
	}
	if !l.runInner(ctx, inner, &rec) {
		l.reg.stats.filtered.Add(1)
		return
	}

	l.reg.stats.noteProcessed(rec.Level)
	for cur := l; cur != nil; cur = cur.Parent() {
		hs, propagate := cur.snapshot()
		for _, h := range hs {
			l.reg.deliver(ctx, cur.name, h, rec)
		}
		if !propagate {
			break
		}
	}
	l.runOuter(ctx, outer, rec)
}

func mergeFields(base, pre, fields []Field, err error) []Field {
	n := len(base) + len(pre) + len(fields)
	if err != nil {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]Field, 0, n)
	add := func(fs []Field) {
		for _, f := range fs {
			if f.Key == "" {
				continue
			}
			if f.Key == "error" && f.Value == nil {
				continue
			}
			out = append(out, f)
		}
	}
	add(base)
	add(pre)
	if err != nil {
		out = append(out, Err(err))
	}
	add(fields)
	return out
}

// deliver runs one handler and contains its failures.
func (r *Registry) deliver(ctx context.Context, logger string, h Handler, rec Record) {
	defer func() {
		if p := recover(); p != nil {
			r.reportPanic(logger, h, p, logx.StackTrace(2, 16))
		}
	}()
	if err := h.Handle(ctx, rec); err != nil {
		r.report(logger, h, err)
	}
}

func containsHandler(hs []Handler, h Handler) bool {
	for _, cur := range hs {
		if sameHandler(cur, h) {
			return true
		}
	}
	return false
}

// sameHandler compares by identity; handlers of non-comparable types (funcs,
// slices) never match, nor do struct values whose fields hold such values.
func sameHandler(a, b Handler) (same bool) {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	if ta.Kind() == reflect.Pointer {
		return a == b
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// Entry is a Logger with fixed fields, returned by Logger.With.
type Entry struct {
	l      *Logger
	fields []Field
}

// With returns a copy with more fields.
func (e Entry) With(fields ...Field) Entry {
	return Entry{l: e.l, fields: append(append([]Field(nil), e.fields...), fields...)}
}

func (e Entry) Logger() *Logger { return e.l }

func (e Entry) Log(level Level, msg string, fields ...Field) {
	e.l.dispatch(context.Background(), level, msg, nil, e.fields, fields, "")
}

func (e Entry) LogContext(ctx context.Context, level Level, msg string, fields ...Field) {
	e.l.dispatch(ctx, level, msg, nil, e.fields, fields, "")
}

func (e Entry) Trace(msg string, fields ...Field)    { e.Log(LevelTrace, msg, fields...) }
func (e Entry) Debug(msg string, fields ...Field)    { e.Log(LevelDebug, msg, fields...) }
func (e Entry) Info(msg string, fields ...Field)     { e.Log(LevelInfo, msg, fields...) }
func (e Entry) Success(msg string, fields ...Field)  { e.Log(LevelSuccess, msg, fields...) }
func (e Entry) Warn(msg string, fields ...Field)     { e.Log(LevelWarning, msg, fields...) }
func (e Entry) Fail(msg string, fields ...Field)     { e.Log(LevelFail, msg, fields...) }
func (e Entry) Error(msg string, fields ...Field)    { e.Log(LevelError, msg, fields...) }
func (e Entry) Critical(msg string, fields ...Field) { e.Log(LevelCritical, msg, fields...) }

func (e Entry) Exception(msg string, err error, fields ...Field) {
	e.l.exception(LevelError, msg, err, e.fields, fields)
}
