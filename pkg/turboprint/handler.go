package turboprint

import "context"

// Handler delivers records to a sink.
//
// Implementations apply their own level/filter check, format the record and
// deliver it. Handle must be safe for concurrent use. Errors and panics are
// caught by the dispatching Logger and reported through the registry's
// fallback; they never reach the caller of a log method.
type Handler interface {
	Handle(ctx context.Context, rec Record) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, rec Record) error

func (f HandlerFunc) Handle(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Shutdowner is implemented by handlers that own background work (remote queues).
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Filter decides whether a record passes.
type Filter interface {
	Allow(rec Record) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(rec Record) bool

func (f FilterFunc) Allow(rec Record) bool { return f(rec) }
