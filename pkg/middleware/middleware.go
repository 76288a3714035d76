// Package middleware holds ready-made record processors for Logger.Use.
package middleware

import (
	"context"
	"strings"

	"turboprint/pkg/turboprint"
)

// Redacted replaces values removed by Redact.
const Redacted = "[redacted]"

func allowed(filters []turboprint.Filter, rec turboprint.Record) bool {
	for _, f := range filters {
		if !f.Allow(rec) {
			return false
		}
	}
	return true
}

// Context expands {key} placeholders in the message from values. An unknown
// key leaves the message as is and appends a note naming it. Records that do
// not pass every filter are left alone. Use it at StageInner.
func Context(values map[string]any, filters ...turboprint.Filter) turboprint.Middleware {
	rendered := make(map[string]string, len(values))
	for k, v := range values {
		rendered[k] = turboprint.ValueString(v)
	}
	return turboprint.MiddlewareFunc(func(_ context.Context, _ *turboprint.Logger, rec *turboprint.Record) bool {
		if !strings.Contains(rec.Message, "{") || !allowed(filters, *rec) {
			return true
		}
		msg, missing := expand(rec.Message, rendered)
		if missing != "" {
			rec.Message += " [formatting error: unknown key " + missing + "]"
			return true
		}
		rec.Message = msg
		return true
	})
}

// expand substitutes {key} from values. "{{" and "}}" are literal braces. It
// returns the first unknown key.
func expand(s string, values map[string]string) (string, string) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case (c == '{' || c == '}') && i+1 < len(s) && s[i+1] == c:
			b.WriteByte(c)
			i++
		case c == '{':
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				b.WriteString(s[i:])
				return b.String(), ""
			}
			key := s[i+1 : i+1+end]
			v, ok := values[key]
			if !ok {
				return s, key
			}
			b.WriteString(v)
			i += end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), ""
}

// Redact masks the values of fields named in keys. Use it at StageInner so
// no handler sees the original values.
func Redact(keys ...string) turboprint.Middleware {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return turboprint.MiddlewareFunc(func(_ context.Context, _ *turboprint.Logger, rec *turboprint.Record) bool {
		var out []turboprint.Field
		for i, f := range rec.Fields {
			if _, hit := set[f.Key]; !hit {
				continue
			}
			if out == nil {
				out = append([]turboprint.Field(nil), rec.Fields...)
			}
			out[i].Value = Redacted
		}
		if out != nil {
			rec.Fields = out
		}
		return true
	})
}

// Escalate re-logs records at threshold or above to the target logger as
// "error occurred: <message>" with the original logger in a "source" field.
// Records from target or its descendants are ignored. Use it at StageOuter.
func Escalate(target string, threshold turboprint.Level, filters ...turboprint.Filter) turboprint.Middleware {
	target = turboprint.NormalizeName(target)
	return turboprint.MiddlewareFunc(func(ctx context.Context, l *turboprint.Logger, rec *turboprint.Record) bool {
		if rec.Level < threshold || within(rec.Logger, target) || !allowed(filters, *rec) {
			return true
		}
		fields := append([]turboprint.Field{turboprint.String("source", rec.Logger)}, rec.Fields...)
		l.Registry().Get(target).LogContext(ctx, rec.Level, "error occurred: "+rec.Message, fields...)
		return true
	})
}

func within(name, ancestor string) bool {
	if ancestor == turboprint.RootName {
		return name == turboprint.RootName
	}
	return name == ancestor || strings.HasPrefix(name, ancestor+turboprint.Delimiter)
}
