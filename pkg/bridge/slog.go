// Package bridge routes records from other logging APIs into a turboprint
// Logger: log/slog, the standard log package, and zerolog.
package bridge

import (
	"context"
	"log/slog"
	"time"

	"turboprint/pkg/turboprint"
)

// Handler is a slog.Handler that logs through a turboprint Logger. Level
// checks use the logger's effective level, so changes to the hierarchy apply
// immediately.
type Handler struct {
	l      *turboprint.Logger
	fields []turboprint.Field
	group  string
}

// NewHandler returns a slog handler writing to l.
func NewHandler(l *turboprint.Logger) *Handler {
	return &Handler{l: l}
}

// SetDefault installs a handler for l as the slog default. The standard log
// package follows slog's default, so it is captured too.
func SetDefault(l *turboprint.Logger) {
	slog.SetDefault(slog.New(NewHandler(l)))
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.l.Enabled(FromSlog(level))
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	fields := make([]turboprint.Field, 0, len(h.fields)+r.NumAttrs())
	fields = append(fields, h.fields...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, h.group, a)
		return true
	})
	h.l.LogContext(ctx, FromSlog(r.Level), r.Message, fields...)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	out := *h
	out.fields = make([]turboprint.Field, 0, len(h.fields)+len(attrs))
	out.fields = append(out.fields, h.fields...)
	for _, a := range attrs {
		out.fields = appendAttr(out.fields, h.group, a)
	}
	return &out
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.group = join(h.group, name)
	return &out
}

func join(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

// appendAttr flattens groups into dotted keys and drops empty attrs.
func appendAttr(fields []turboprint.Field, group string, a slog.Attr) []turboprint.Field {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return fields
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := group
		if a.Key != "" {
			sub = join(group, a.Key)
		}
		for _, ga := range a.Value.Group() {
			fields = appendAttr(fields, sub, ga)
		}
		return fields
	}
	return append(fields, turboprint.Any(join(group, a.Key), attrValue(a.Value)))
}

func attrValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration()
	case slog.KindTime:
		return v.Time().Round(time.Microsecond)
	default:
		return v.Any()
	}
}

// FromSlog maps slog levels onto turboprint levels. Levels between the named
// slog levels round down; anything four steps above Error is CRITICAL.
func FromSlog(l slog.Level) turboprint.Level {
	switch {
	case l >= slog.LevelError+4:
		return turboprint.LevelCritical
	case l >= slog.LevelError:
		return turboprint.LevelError
	case l >= slog.LevelWarn:
		return turboprint.LevelWarning
	case l >= slog.LevelInfo:
		return turboprint.LevelInfo
	case l >= slog.LevelDebug:
		return turboprint.LevelDebug
	default:
		return turboprint.LevelTrace
	}
}
