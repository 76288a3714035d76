// Package format renders turboprint records to text.
//
// Formatters are pure: the same record always yields the same string and no
// formatter mutates the record. All formatters are safe for concurrent use.
package format

import (
	"sort"
	"strconv"
	"strings"

	"turboprint/pkg/turboprint"
)

// DefaultTemplate is the console/file layout used when none is configured.
const DefaultTemplate = "[{time:02/01/2006 15:04:05}] {prefix} | {level}[{level_value}]: {message} {fields}"

// Formatter renders a record to a single string.
type Formatter interface {
	Format(rec turboprint.Record) string
}

// Func adapts a function to Formatter.
type Func func(rec turboprint.Record) string

func (f Func) Format(rec turboprint.Record) string { return f(rec) }

// Default returns the template formatter for DefaultTemplate.
func Default() *Template {
	t, err := ParseTemplate(DefaultTemplate)
	if err != nil {
		panic(err)
	}
	return t
}

// Fields renders fields as space separated key=value pairs in record order.
// Values that would be ambiguous when read back are quoted.
func Fields(fields []turboprint.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(turboprint.ValueString(f.Value)))
	}
	return b.String()
}

// SortedFields is Fields with keys in lexical order; later duplicates win.
func SortedFields(fields []turboprint.Field) string {
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]turboprint.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, turboprint.Field{Key: k, Value: m[k]})
	}
	return Fields(out)
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") || !strconv.CanBackquote(s) {
		return strconv.Quote(s)
	}
	return s
}

// parseFields is the inverse of Fields. Values come back as strings.
func parseFields(s string) ([]turboprint.Field, error) {
	var out []turboprint.Field
	s = strings.TrimSpace(s)
	for s != "" {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 || strings.ContainsAny(s[:eq], " \t\"") {
			return nil, turboprint.ConfigError("parse fields", "expected key=value near %q", s)
		}
		key := s[:eq]
		s = s[eq+1:]
		var val string
		if strings.HasPrefix(s, `"`) {
			q, err := strconv.QuotedPrefix(s)
			if err != nil {
				return nil, turboprint.ConfigError("parse fields", "bad quoted value for %q: %v", key, err)
			}
			val, _ = strconv.Unquote(q)
			s = s[len(q):]
		} else {
			end := strings.IndexByte(s, ' ')
			if end < 0 {
				end = len(s)
			}
			val = s[:end]
			if strings.ContainsAny(val, "=\"") {
				return nil, turboprint.ConfigError("parse fields", "unquoted value %q for %q", val, key)
			}
			s = s[end:]
		}
		out = append(out, turboprint.String(key, val))
		s = strings.TrimLeft(s, " ")
	}
	return out, nil
}
