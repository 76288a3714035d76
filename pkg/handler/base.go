package handler

import (
	"sync"

	"turboprint/pkg/format"
	logx "turboprint/pkg/logx"
	"turboprint/pkg/turboprint"
)

// ColorMode controls ANSI colour on stream handlers.
type ColorMode uint8

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

type options struct {
	level     turboprint.Level
	filters   []turboprint.Filter
	formatter format.Formatter
	color     ColorMode
	fallback  logx.Logger
}

// Option configures a handler.
type Option func(*options)

// WithLevel sets the handler's own threshold. The default passes everything.
func WithLevel(l turboprint.Level) Option {
	return func(o *options) { o.level = l }
}

func WithFilters(fs ...turboprint.Filter) Option {
	return func(o *options) { o.filters = append(o.filters, fs...) }
}

func WithFormatter(f format.Formatter) Option {
	return func(o *options) { o.formatter = f }
}

// WithColor is honoured by Stream only.
func WithColor(mode ColorMode) Option {
	return func(o *options) { o.color = mode }
}

// WithFallback sets where non-fatal faults (archive compression, pruning) are reported.
func WithFallback(log logx.Logger) Option {
	return func(o *options) { o.fallback = log }
}

func buildOptions(opts []Option) options {
	o := options{level: turboprint.LevelNotSet}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.fallback.IsZero() {
		o.fallback = logx.Nop()
	}
	return o
}

// Base holds the level, filters and formatter shared by all handlers here.
type Base struct {
	mu        sync.RWMutex
	level     turboprint.Level
	filters   []turboprint.Filter
	formatter format.Formatter
}

// NewBase builds a standalone Base from handler options, for handlers
// implemented outside this package.
func NewBase(opts ...Option) *Base {
	b := newBase(buildOptions(opts))
	return &b
}

func newBase(o options) Base {
	if o.formatter == nil {
		o.formatter = format.Default()
	}
	return Base{level: o.level, filters: append([]turboprint.Filter(nil), o.filters...), formatter: o.formatter}
}

// Allow applies the handler level and filters.
func (b *Base) Allow(rec turboprint.Record) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if rec.Level < b.level {
		return false
	}
	for _, f := range b.filters {
		if !f.Allow(rec) {
			return false
		}
	}
	return true
}

func (b *Base) Format(rec turboprint.Record) string {
	b.mu.RLock()
	f := b.formatter
	b.mu.RUnlock()
	return f.Format(rec)
}

func (b *Base) Level() turboprint.Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.level
}

func (b *Base) SetLevel(l turboprint.Level) {
	b.mu.Lock()
	b.level = l
	b.mu.Unlock()
}

func (b *Base) AddFilter(f turboprint.Filter) {
	if f == nil {
		return
	}
	b.mu.Lock()
	b.filters = append(b.filters, f)
	b.mu.Unlock()
}

func (b *Base) SetFormatter(f format.Formatter) {
	if f == nil {
		return
	}
	b.mu.Lock()
	b.formatter = f
	b.mu.Unlock()
}
